package handler

import (
	"github.com/detbox/go-detbox/ptracer"
)

// getRandomHandler replaces the kernel's entropy with the run's fixed-seed
// deterministic source, so repeated runs observe identical bytes.
type getRandomHandler struct{}

func (h *getRandomHandler) Name() string { return "getrandom" }

func (h *getRandomHandler) Pre(s *ptracer.State, ctx *ptracer.Context, g *ptracer.Global) (bool, error) {
	g.Counters.GetRandomCalls++
	return true, nil
}

func (h *getRandomHandler) Post(s *ptracer.State, ctx *ptracer.Context, g *ptracer.Global) (ptracer.PostAction, error) {
	if ctx.ReturnValue() < 0 {
		return ptracer.PostDone, nil
	}
	n := ctx.Arg1()
	buf := make([]byte, n)
	g.FillRandom(buf)
	if err := ptracer.PokeBytes(ctx.Pid, uintptr(ctx.Arg0()), buf); err != nil {
		return ptracer.PostDone, err
	}
	ctx.SetReturnValue(int64(n))
	return ptracer.PostDone, nil
}
