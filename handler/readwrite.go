package handler

import (
	unix "golang.org/x/sys/unix"

	"github.com/detbox/go-detbox/ptracer"
)

// readWriteHandler hides scheduling-dependent short results: a read or write
// that moved fewer bytes than requested is replayed with the buffer pointer
// and count advanced until the request completes (or EOF), so the tracee
// observes a single syscall with the cumulative count.
//
// A replay against a drained pipe blocks in the kernel until the peer makes
// progress; that matches the determinism contract but means a tracee relying
// on partial pipe reads will wait for the writer.
type readWriteHandler struct {
	name  string
	write bool
}

func (h *readWriteHandler) Name() string { return h.name }

func (h *readWriteHandler) Pre(s *ptracer.State, ctx *ptracer.Context, g *ptracer.Global) (bool, error) {
	if s.FirstTrySyscall {
		s.SaveArgs(ctx)
		s.TotalBytes = 0
	}
	return true, nil
}

func (h *readWriteHandler) Post(s *ptracer.State, ctx *ptracer.Context, g *ptracer.Global) (ptracer.PostAction, error) {
	if s.FirstTrySyscall {
		s.BeforeRetry = ctx.Regs()
	}

	ret := ctx.ReturnValue()
	requested := s.OriginalArgs[2]
	done := s.TotalBytes

	switch {
	case ret == -int64(unix.EINTR):
		// the kernel aborted mid-call; run it again from where it left off
		// so the tracee never observes the interruption
		g.Counters.BlockingReplays++
		s.FirstTrySyscall = false
		h.advance(s, ctx, done)
		return ptracer.PostReplay, nil

	case ret < 0:
		// real error: surface it, unless earlier retries already moved
		// bytes, in which case the tracee gets the progress made
		if done > 0 {
			ctx.SetRegs(s.BeforeRetry)
			ctx.SetReturnValue(int64(done))
		} else {
			s.RestoreArgs(ctx)
		}
		return ptracer.PostDone, nil

	case ret == 0 || done+uint64(ret) >= requested:
		// complete, or EOF ended the accumulation early; the tracee
		// observes one syscall with the cumulative count
		if s.FirstTrySyscall {
			s.RestoreArgs(ctx)
		} else {
			// drop the retry argument rewrites wholesale
			ctx.SetRegs(s.BeforeRetry)
		}
		ctx.SetReturnValue(int64(done + uint64(ret)))
		return ptracer.PostDone, nil

	default:
		// short result: continue where it stopped
		if h.write {
			g.Counters.WriteRetries++
		} else {
			g.Counters.ReadRetries++
		}
		s.TotalBytes = done + uint64(ret)
		s.FirstTrySyscall = false
		h.advance(s, ctx, s.TotalBytes)
		return ptracer.PostReplay, nil
	}
}

func (h *readWriteHandler) advance(s *ptracer.State, ctx *ptracer.Context, done uint64) {
	ctx.SetArg0(s.OriginalArgs[0])
	ctx.SetArg1(s.OriginalArgs[1] + done)
	ctx.SetArg2(s.OriginalArgs[2] - done)
}
