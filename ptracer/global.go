package ptracer

import (
	"math/rand"

	"go.uber.org/zap"

	"github.com/detbox/go-detbox/pkg/valuemap"
)

// ClockEpoch is the initial logical time. Starting well above zero keeps
// virtualized timestamps from landing before real filesystem times the tracee
// might compare against ("files from the future").
const ClockEpoch = 744847200

// randomSeed seeds the deterministic random source; any fixed value gives
// identical getrandom fills across runs.
const randomSeed = ClockEpoch

// LogicalClock is the monotonic time value returned to the tracee from
// time-observing syscalls. It is shared by every tracee in the run so forked
// children observe a single timeline.
type LogicalClock struct {
	now uint64
}

// NewLogicalClock creates a clock at the epoch.
func NewLogicalClock() *LogicalClock {
	return &LogicalClock{now: ClockEpoch}
}

// Tick advances the clock by one. Called exactly once per time-observing
// syscall.
func (c *LogicalClock) Tick() {
	c.now++
}

// Now returns the current logical time.
func (c *LogicalClock) Now() uint64 {
	return c.now
}

// Counters tracks how often the supervisor interfered with the tracee.
// Incremented from the supervisor thread only.
type Counters struct {
	ReadRetries     uint32 // replays completing a short read
	WriteRetries    uint32 // replays completing a short write
	GetRandomCalls  uint32 // getrandom calls given deterministic bytes
	DevUrandomOpens uint32 // open/openat of /dev/urandom (opens, not reads)
	DevRandomOpens  uint32 // open/openat of /dev/random (opens, not reads)
	TimeCalls       uint32 // time-observing syscalls answered from the clock
	BlockingReplays uint32 // replays caused by interrupted/blocking results
	TotalReplays    uint32 // every replay, including the above
	InjectedCalls   uint32 // syscalls the tracee never asked for
}

// Global is the process-wide state shared by reference across all per-tracee
// states for the lifetime of the run: the virtualization registries, the live
// thread set, thread-group bookkeeping, event counters and the logger. All
// mutation happens on the supervisor thread.
type Global struct {
	Log *zap.SugaredLogger

	// Inodes is the isomorphism between real inodes and virtual inodes;
	// virtual ids are dense from 1 in observation order.
	Inodes *valuemap.Mapper[uint64, uint64]

	// Mtimes maps real inodes to their virtual modification time, the
	// logical clock reading at first observation.
	Mtimes *valuemap.Mapper[uint64, uint64]

	Clock    *LogicalClock
	Counters Counters

	rng *rand.Rand

	liveThreads   map[int]struct{}
	threadGroups  map[int]map[int]struct{}
	threadGroupOf map[int]int
	deadLeaders   map[int]struct{}
}

// NewGlobal creates the registry for one run.
func NewGlobal(log *zap.SugaredLogger) *Global {
	return &Global{
		Log:           log,
		Inodes:        valuemap.New[uint64, uint64](1, func(n uint64) uint64 { return n }),
		Mtimes:        valuemap.New[uint64, uint64](1, func(n uint64) uint64 { return n }),
		Clock:         NewLogicalClock(),
		rng:           rand.New(rand.NewSource(randomSeed)),
		liveThreads:   make(map[int]struct{}),
		threadGroups:  make(map[int]map[int]struct{}),
		threadGroupOf: make(map[int]int),
		deadLeaders:   make(map[int]struct{}),
	}
}

// FillRandom fills b from the deterministic random source.
func (g *Global) FillRandom(b []byte) {
	g.rng.Read(b)
}

// AddThread records pid as live.
func (g *Global) AddThread(pid int) {
	g.liveThreads[pid] = struct{}{}
}

// HasThread reports whether pid is live.
func (g *Global) HasThread(pid int) bool {
	_, ok := g.liveThreads[pid]
	return ok
}

// LiveThreads returns the number of live tracees. The supervisor exits when
// this reaches zero.
func (g *Global) LiveThreads() int {
	return len(g.liveThreads)
}

// AssignThreadGroup files pid under the given thread group, moving it out of
// its previous group; a pid alone in its own group erases that group. A
// leader whose group still has other members is not moved out of it. The
// (group, group) self edge is materialized with the first member.
func (g *Global) AssignThreadGroup(pid, group int) {
	g.removeGroupMember(pid)
	members, ok := g.threadGroups[group]
	if !ok {
		members = make(map[int]struct{})
		g.threadGroups[group] = members
		members[group] = struct{}{}
		g.threadGroupOf[group] = group
	}
	members[pid] = struct{}{}
	g.threadGroupOf[pid] = group
}

// ThreadGroupOf returns the thread group pid belongs to.
func (g *Global) ThreadGroupOf(pid int) (int, bool) {
	grp, ok := g.threadGroupOf[pid]
	return grp, ok
}

// ThreadGroupSize returns the member count of a group.
func (g *Global) ThreadGroupSize(group int) int {
	return len(g.threadGroups[group])
}

// RemoveThread removes pid from the live set and from its thread group. The
// group's self edge outlives the leader while other members remain; the group
// is erased when the last member leaves.
func (g *Global) RemoveThread(pid int) {
	delete(g.liveThreads, pid)

	group, ok := g.threadGroupOf[pid]
	if !ok {
		return
	}
	if pid == group {
		// leader gone; the self edge stays until the group drains
		g.deadLeaders[group] = struct{}{}
		if len(g.threadGroups[group]) == 1 {
			g.eraseGroup(group)
		}
		return
	}
	g.removeGroupMember(pid)

	// only the self edge of a dead leader left: the group is done
	if members := g.threadGroups[group]; len(members) == 1 {
		if _, dead := g.deadLeaders[group]; dead {
			g.eraseGroup(group)
		}
	}
}

func (g *Global) removeGroupMember(pid int) {
	group, ok := g.threadGroupOf[pid]
	if !ok {
		return
	}
	if pid == group {
		// a leader alone in its own group takes the group with it; a
		// leader with other members stays where it is
		if len(g.threadGroups[group]) == 1 {
			g.eraseGroup(group)
		}
		return
	}
	delete(g.threadGroups[group], pid)
	delete(g.threadGroupOf, pid)
}

func (g *Global) eraseGroup(group int) {
	delete(g.threadGroups, group)
	delete(g.threadGroupOf, group)
	delete(g.deadLeaders, group)
}

// checkGroupInvariant verifies that the reverse index and the multimap agree;
// used by tests.
func (g *Global) checkGroupInvariant() bool {
	for pid, group := range g.threadGroupOf {
		if _, ok := g.threadGroups[group][pid]; !ok {
			return false
		}
	}
	for group, members := range g.threadGroups {
		for pid := range members {
			if g.threadGroupOf[pid] != group {
				return false
			}
		}
	}
	return true
}
