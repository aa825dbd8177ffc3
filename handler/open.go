package handler

import (
	"github.com/detbox/go-detbox/ptracer"
)

// openHandler counts opens of the kernel randomness devices. This tracks
// opens rather than reads: without per-fd lineage the count of actual
// entropy reads through those fds is not reconstructible here.
type openHandler struct {
	name    string
	pathArg int
}

func (h *openHandler) Name() string { return h.name }

func (h *openHandler) Pre(s *ptracer.State, ctx *ptracer.Context, g *ptracer.Global) (bool, error) {
	path, err := ptracer.ReadString(ctx.Pid, uintptr(ctx.Args()[h.pathArg]))
	if err != nil {
		// unreadable path pointer; the kernel will fail the call itself
		return false, nil
	}
	switch path {
	case "/dev/urandom":
		g.Counters.DevUrandomOpens++
	case "/dev/random":
		g.Counters.DevRandomOpens++
	}
	if s.DebugLevel > 1 {
		g.Log.Debugw("open", "pid", ctx.Pid, "path", path)
	}
	return false, nil
}

func (h *openHandler) Post(s *ptracer.State, ctx *ptracer.Context, g *ptracer.Global) (ptracer.PostAction, error) {
	return ptracer.PostDone, nil
}
