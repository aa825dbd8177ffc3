package handler

import (
	unix "golang.org/x/sys/unix"

	"github.com/detbox/go-detbox/ptracer"
)

// statHandler virtualizes the stat-like record a syscall wrote into the
// tracee: real inode numbers become dense virtual ids and real timestamps
// become the virtual mtime assigned from the logical clock at first sight.
type statHandler struct {
	name   string
	bufArg int // which argument holds the statbuf pointer
}

func (h *statHandler) Name() string { return h.name }

func (h *statHandler) Pre(s *ptracer.State, ctx *ptracer.Context, g *ptracer.Global) (bool, error) {
	return true, nil
}

func (h *statHandler) Post(s *ptracer.State, ctx *ptracer.Context, g *ptracer.Global) (ptracer.PostAction, error) {
	if ctx.ReturnValue() != 0 {
		return ptracer.PostDone, nil
	}
	addr := uintptr(ctx.Args()[h.bufArg])
	st, err := ptracer.Peek[unix.Stat_t](ctx.Pid, addr)
	if err != nil {
		return ptracer.PostDone, err
	}
	virtualizeStat(&st, s, g)
	if err := ptracer.Poke(ctx.Pid, addr, st); err != nil {
		return ptracer.PostDone, err
	}
	return ptracer.PostDone, nil
}

// virtualizeStat rewrites the identity and time fields of a stat record. The
// real inode keys both registries; the tracee only ever sees the virtual
// values.
func virtualizeStat(st *unix.Stat_t, s *ptracer.State, g *ptracer.Global) {
	real := st.Ino

	vmtime, err := g.Mtimes.GetVirtual(real)
	if err != nil {
		// first sighting: pin the mtime to the current logical time
		vmtime = s.GetLogicalTime()
		g.Mtimes.Set(real, vmtime)
	}

	st.Ino = g.Inodes.AddReal(real)
	st.Dev = 1
	ts := unix.Timespec{Sec: int64(vmtime)}
	st.Mtim = ts
	st.Atim = ts
	st.Ctim = ts
}
