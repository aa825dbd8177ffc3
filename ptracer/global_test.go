package ptracer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGlobal() *Global {
	return NewGlobal(zap.NewNop().Sugar())
}

func TestLogicalClock(t *testing.T) {
	c := NewLogicalClock()
	assert.Equal(t, uint64(ClockEpoch), c.Now())

	last := c.Now()
	for i := 0; i < 5; i++ {
		c.Tick()
		assert.Equal(t, last+1, c.Now(), "clock advances exactly once per tick")
		last = c.Now()
	}
}

func TestClockSharedAcrossStates(t *testing.T) {
	g := newTestGlobal()
	parent := NewState(100, g.Clock, 0)
	child := NewState(101, g.Clock, 0)

	parent.IncrementTime()
	assert.Equal(t, parent.GetLogicalTime(), child.GetLogicalTime(),
		"forked children observe the same timeline")
}

func TestFillRandomDeterministic(t *testing.T) {
	g1 := newTestGlobal()
	g2 := newTestGlobal()

	a := make([]byte, 64)
	b := make([]byte, 64)
	g1.FillRandom(a)
	g2.FillRandom(b)
	assert.Equal(t, a, b, "two runs observe identical random bytes")

	g1.FillRandom(b)
	assert.NotEqual(t, a, b, "the stream itself still advances")
}

func TestLiveThreads(t *testing.T) {
	g := newTestGlobal()
	assert.Equal(t, 0, g.LiveThreads())

	g.AddThread(10)
	g.AddThread(11)
	assert.True(t, g.HasThread(10))
	assert.Equal(t, 2, g.LiveThreads())

	g.RemoveThread(10)
	assert.False(t, g.HasThread(10))
	assert.Equal(t, 1, g.LiveThreads())
}

func TestThreadGroupSelfEdge(t *testing.T) {
	g := newTestGlobal()
	g.AddThread(20)
	g.AssignThreadGroup(20, 20)

	grp, ok := g.ThreadGroupOf(20)
	require.True(t, ok)
	assert.Equal(t, 20, grp)
	assert.Equal(t, 1, g.ThreadGroupSize(20))
	assert.True(t, g.checkGroupInvariant())
}

func TestThreadGroupCloneJoinsParent(t *testing.T) {
	g := newTestGlobal()
	g.AddThread(20)
	g.AssignThreadGroup(20, 20)

	// a CLONE_THREAD child first shows up in its own group, then the clone
	// event re-files it under the parent's
	g.AddThread(21)
	g.AssignThreadGroup(21, 21)
	g.AssignThreadGroup(21, 20)

	grp, ok := g.ThreadGroupOf(21)
	require.True(t, ok)
	assert.Equal(t, 20, grp)
	assert.Equal(t, 2, g.ThreadGroupSize(20))
	assert.Equal(t, 0, g.ThreadGroupSize(21))
	assert.True(t, g.checkGroupInvariant())
}

func TestThreadGroupErasedWhenDrained(t *testing.T) {
	g := newTestGlobal()
	g.AddThread(20)
	g.AssignThreadGroup(20, 20)
	g.AddThread(21)
	g.AssignThreadGroup(21, 20)

	// leader exits first; the self edge must survive while a thread remains
	g.RemoveThread(20)
	assert.Equal(t, 2, g.ThreadGroupSize(20), "self edge kept while group non-empty")
	assert.True(t, g.checkGroupInvariant())

	g.RemoveThread(21)
	assert.Equal(t, 0, g.ThreadGroupSize(20), "group erased when the last member leaves")
	_, ok := g.ThreadGroupOf(20)
	assert.False(t, ok)
	assert.True(t, g.checkGroupInvariant())
}

func TestThreadGroupLeaderLast(t *testing.T) {
	g := newTestGlobal()
	g.AddThread(30)
	g.AssignThreadGroup(30, 30)
	g.AddThread(31)
	g.AssignThreadGroup(31, 30)

	g.RemoveThread(31)
	assert.Equal(t, 1, g.ThreadGroupSize(30))
	g.RemoveThread(30)
	assert.Equal(t, 0, g.ThreadGroupSize(30))
	assert.True(t, g.checkGroupInvariant())
}

func TestTwoProcessesDistinctGroups(t *testing.T) {
	g := newTestGlobal()
	g.AddThread(40)
	g.AssignThreadGroup(40, 40)
	g.AddThread(50)
	g.AssignThreadGroup(50, 50)

	ga, _ := g.ThreadGroupOf(40)
	gb, _ := g.ThreadGroupOf(50)
	assert.NotEqual(t, ga, gb)
	assert.True(t, g.checkGroupInvariant())
}
