package ptracer

import (
	unix "golang.org/x/sys/unix"
)

// DirEntriesBytes is the buffer budget for directory entry records. This is
// what glibc uses as its standard readdir size, so do we.
const DirEntriesBytes = 32768

// DirBuffer holds one open directory's virtualized, name-sorted record
// stream, drained across subsequent getdents calls for a stable ordering.
type DirBuffer struct {
	// Data is packed linux_dirent64 records, inodes already virtualized,
	// sorted by name.
	Data []byte
	// Off is the read cursor into Data.
	Off int
	// Complete is set once the whole kernel stream has been collected.
	Complete bool
}

// State is the per-tracee record. One exists per traced pid, created when the
// pid is first observed and destroyed on its exit. Lifecycle transitions are
// driven by the supervisor, not by the state itself.
type State struct {
	// Pid is the tracee this state describes.
	Pid int

	// IsPreExit tracks whether the next syscall stop is entry or exit on
	// kernels whose seccomp stop does not mark the phase (before 4.8);
	// ptrace does not track this for us.
	IsPreExit bool

	// SignalToDeliver is forwarded on the next resume. Zero means none.
	SignalToDeliver int

	// DirEntries maps open directory fds to their buffered record streams.
	// Discarded on exec since they refer to the old address space.
	DirEntries map[int]*DirBuffer

	// PrevRegs is the register snapshot taken at the pre hook, for simple
	// restoring of the tracee's register state after the post hook.
	PrevRegs unix.PtraceRegs

	// BeforeRetry is the post-hook register state before any retries.
	BeforeRetry unix.PtraceRegs

	// TotalBytes accumulates progress across short read/write retries.
	TotalBytes uint64

	// FirstTrySyscall differentiates a syscall the tracee issued from one
	// the supervisor is replaying or injecting; ptrace cannot tell them
	// apart on its own.
	FirstTrySyscall bool

	// SyscallInjected is set while the syscall in flight was placed there
	// by the supervisor rather than the tracee.
	SyscallInjected bool

	// OriginalArgs holds argument registers saved by pre hooks that rewrite
	// them, restored at the post hook.
	OriginalArgs [6]uint64

	// DebugLevel lets handlers skip expensive logging work.
	DebugLevel int

	clock *LogicalClock

	inodeToDelete    uint64
	hasInodeToDelete bool

	// attached flips at the first observed stop; the attach handshake's
	// SIGSTOP must not be re-delivered to the tracee.
	attached bool

	handler Handler
}

// NewState creates the record for a newly observed tracee. The clock is the
// run-wide logical clock shared with every other state.
func NewState(pid int, clock *LogicalClock, debugLevel int) *State {
	return &State{
		Pid:             pid,
		IsPreExit:       true,
		DirEntries:      make(map[int]*DirBuffer),
		FirstTrySyscall: true,
		DebugLevel:      debugLevel,
		clock:           clock,
	}
}

// IncrementTime advances the logical clock.
func (s *State) IncrementTime() {
	s.clock.Tick()
}

// GetLogicalTime returns the logical clock reading.
func (s *State) GetLogicalTime() uint64 {
	return s.clock.Now()
}

// SetInodeToDelete stashes the inode captured by an injected stat ahead of a
// file-removing syscall, so the post hook can erase it from the registries.
func (s *State) SetInodeToDelete(ino uint64) {
	s.inodeToDelete = ino
	s.hasInodeToDelete = true
}

// TakeInodeToDelete returns and clears the stashed inode, if any.
func (s *State) TakeInodeToDelete() (uint64, bool) {
	if !s.hasInodeToDelete {
		return 0, false
	}
	s.hasInodeToDelete = false
	return s.inodeToDelete, true
}

// ClearDirEntries drops all buffered directory streams; called on exec when
// they refer to the old address space.
func (s *State) ClearDirEntries() {
	s.DirEntries = make(map[int]*DirBuffer)
}

// SaveArgs records the six argument registers so a pre hook may rewrite them
// and the post hook restore them.
func (s *State) SaveArgs(ctx *Context) {
	s.OriginalArgs = ctx.Args()
}

// RestoreArgs puts the saved argument registers back.
func (s *State) RestoreArgs(ctx *Context) {
	ctx.SetArg0(s.OriginalArgs[0])
	ctx.SetArg1(s.OriginalArgs[1])
	ctx.SetArg2(s.OriginalArgs[2])
	ctx.SetArg3(s.OriginalArgs[3])
	ctx.SetArg4(s.OriginalArgs[4])
	ctx.SetArg5(s.OriginalArgs[5])
}
