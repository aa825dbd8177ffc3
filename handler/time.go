package handler

import (
	unix "golang.org/x/sys/unix"

	"github.com/detbox/go-detbox/ptracer"
)

// timeHandler answers time-observing syscalls from the logical clock. The
// clock advances exactly once per call so the tracee still sees progress,
// just a reproducible one.
type timeHandler struct {
	name string
}

func (h *timeHandler) Name() string { return h.name }

func (h *timeHandler) Pre(s *ptracer.State, ctx *ptracer.Context, g *ptracer.Global) (bool, error) {
	return true, nil
}

func (h *timeHandler) Post(s *ptracer.State, ctx *ptracer.Context, g *ptracer.Global) (ptracer.PostAction, error) {
	if ctx.ReturnValue() < 0 {
		return ptracer.PostDone, nil
	}
	now := int64(s.GetLogicalTime())

	switch h.name {
	case "time":
		if tloc := ctx.Arg0(); tloc != 0 {
			if err := ptracer.Poke(ctx.Pid, uintptr(tloc), now); err != nil {
				return ptracer.PostDone, err
			}
		}
		ctx.SetReturnValue(now)

	case "gettimeofday":
		if tv := ctx.Arg0(); tv != 0 {
			if err := ptracer.Poke(ctx.Pid, uintptr(tv), unix.Timeval{Sec: now}); err != nil {
				return ptracer.PostDone, err
			}
		}

	case "clock_gettime":
		if ts := ctx.Arg1(); ts != 0 {
			if err := ptracer.Poke(ctx.Pid, uintptr(ts), unix.Timespec{Sec: now}); err != nil {
				return ptracer.PostDone, err
			}
		}
	}

	g.Counters.TimeCalls++
	s.IncrementTime()
	return ptracer.PostDone, nil
}
