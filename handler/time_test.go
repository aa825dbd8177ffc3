package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	unix "golang.org/x/sys/unix"

	"github.com/detbox/go-detbox/ptracer"
)

func TestTimeReturnsLogicalClock(t *testing.T) {
	g := newTestGlobal()
	s := ptracer.NewState(1, g.Clock, 0)
	h := &timeHandler{name: "time"}

	// time(NULL)
	ctx := &ptracer.Context{Pid: 1}
	ctx.SetRegs(unix.PtraceRegs{Orig_rax: unix.SYS_TIME, Rax: 1700000000})

	act, err := h.Post(s, ctx, g)
	require.NoError(t, err)
	assert.Equal(t, ptracer.PostDone, act)
	assert.Equal(t, int64(744847200), ctx.ReturnValue())
	assert.Equal(t, uint32(1), g.Counters.TimeCalls)

	// the clock advanced exactly once, so the next call observes progress
	ctx2 := &ptracer.Context{Pid: 1}
	ctx2.SetRegs(unix.PtraceRegs{Orig_rax: unix.SYS_TIME})
	h.Post(s, ctx2, g)
	assert.Equal(t, int64(744847201), ctx2.ReturnValue())
	assert.Equal(t, uint32(2), g.Counters.TimeCalls)
}

func TestClockGettimeNullPointer(t *testing.T) {
	g := newTestGlobal()
	s := ptracer.NewState(1, g.Clock, 0)
	h := &timeHandler{name: "clock_gettime"}

	ctx := &ptracer.Context{Pid: 1}
	ctx.SetRegs(unix.PtraceRegs{Orig_rax: unix.SYS_CLOCK_GETTIME, Rax: 0, Rsi: 0})

	act, err := h.Post(s, ctx, g)
	require.NoError(t, err)
	assert.Equal(t, ptracer.PostDone, act)
	assert.Equal(t, uint32(1), g.Counters.TimeCalls)
	assert.Equal(t, uint64(744847201), s.GetLogicalTime())
}

func TestTimeErrorDoesNotTick(t *testing.T) {
	g := newTestGlobal()
	s := ptracer.NewState(1, g.Clock, 0)
	h := &timeHandler{name: "clock_gettime"}

	ctx := &ptracer.Context{Pid: 1}
	ctx.SetRegs(unix.PtraceRegs{Orig_rax: unix.SYS_CLOCK_GETTIME, Rax: negErrno(unix.EFAULT)})

	act, err := h.Post(s, ctx, g)
	require.NoError(t, err)
	assert.Equal(t, ptracer.PostDone, act)
	assert.Equal(t, uint32(0), g.Counters.TimeCalls)
	assert.Equal(t, uint64(744847200), s.GetLogicalTime())
}
