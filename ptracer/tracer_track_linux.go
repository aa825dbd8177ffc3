package ptracer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	unix "golang.org/x/sys/unix"

	"github.com/detbox/go-detbox/runner"
)

// ptrace options for every tracee: seccomp events for the pre hook, sysgood
// so syscall stops are distinguishable from real SIGTRAPs, kill the tree if
// the supervisor dies, and follow the whole descendant tree.
const ptraceFlags = unix.PTRACE_O_TRACESECCOMP | unix.PTRACE_O_TRACESYSGOOD |
	unix.PTRACE_O_EXITKILL | unix.PTRACE_O_TRACECLONE | unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK | unix.PTRACE_O_TRACEEXEC | unix.PTRACE_O_TRACEEXIT

// syscall stops carry SIGTRAP|0x80 under PTRACE_O_TRACESYSGOOD
const sigTrapSysGood = unix.SIGTRAP | 0x80

type resumeMode int

const (
	resumeCont    resumeMode = iota // run to the next seccomp event
	resumeSyscall                   // stop again at syscall exit
)

// Trace starts a new goroutine and traces the runner's process tree.
func (t *Tracer) Trace(c context.Context) <-chan runner.Result {
	result := make(chan runner.Result, 1)
	go func() {
		result <- t.TraceRun(c)
	}()
	return result
}

// TraceRun starts the root tracee and supervises it and all of its
// descendants in the calling goroutine until the tree is empty. The context
// cancels the run by killing the tree.
func (t *Tracer) TraceRun(c context.Context) (result runner.Result) {
	var (
		wstatus unix.WaitStatus        // wait4 wait status
		pid     int                    // store pid of wait4 result
		states  = make(map[int]*State) // per-tracee records, keyed by pid
		execved = false                // whether the root successfully execved
		sTime   = time.Now()           // start time for the whole trace
		fTime   time.Time              // finish time for execve
	)
	g := t.Global

	// ptrace is thread based (kernel proc)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	pgid, err := t.Runner.Start()
	g.Log.Debugw("tracer started", "pid", pgid)
	if err != nil {
		g.Log.Errorw("start tracee failed", "err", err)
		result.Status = runner.StatusRunnerError
		result.Error = err.Error()
		return
	}

	cc, cancel := context.WithCancel(c)
	defer cancel()

	// handle cancelation
	go func() {
		<-cc.Done()
		killAll(pgid)
	}()

	// handle potential panic and ensure the tree is gone on return
	defer func() {
		if err := recover(); err != nil {
			g.Log.Errorw("panic", "err", err)
			result.Status = runner.StatusRunnerError
			result.Error = fmt.Sprintf("%v", err)
		}
		killAll(pgid)
		collectZombie(pgid)
		result.SetUpTime = fTime.Sub(sTime)
		result.RunningTime = time.Since(fTime)
	}()

	fatal := func(err error) bool {
		if err == nil || errors.Is(err, ErrTraceeExited) {
			return false
		}
		g.Log.Errorw("tracing failed", "err", err)
		result.Status = runner.StatusRunnerError
		result.Error = err.Error()
		return true
	}

	for {
		pid, err = unix.Wait4(-1, &wstatus, unix.WALL, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			g.Log.Errorw("wait4 failed", "err", err)
			result.Status = runner.StatusRunnerError
			result.Error = err.Error()
			return
		}

		s := states[pid]
		if s == nil {
			// First sighting: the root's bootstrap stop, or a new child
			// whose stop arrived before the parent's clone event. Register
			// it as live in its own group; a later clone event may re-file
			// it under the parent's group.
			s = NewState(pid, g.Clock, t.Debug)
			states[pid] = s
			g.AddThread(pid)
			g.AssignThreadGroup(pid, pid)
			if err := ptraceSetOptions(pid, ptraceFlags); fatal(err) {
				return
			}
		}

		switch {
		case wstatus.Exited():
			// nonEventExit: the tracee has been reaped
			exitStatus := wstatus.ExitStatus()
			g.Log.Debugw("process exited", "pid", pid, "status", exitStatus)
			delete(states, pid)
			g.RemoveThread(pid)
			if !execved {
				result.Status = runner.StatusRunnerError
				result.Error = "child process exited before execve"
				return
			}
			result.ExitStatus = exitStatus
			if exitStatus == 0 {
				result.Status = runner.StatusNormal
			} else {
				result.Status = runner.StatusNonzeroExitStatus
			}
			if g.LiveThreads() == 0 {
				return
			}

		case wstatus.Signaled():
			// terminatedBySignal
			sig := wstatus.Signal()
			g.Log.Debugw("process killed by signal", "pid", pid, "signal", sig)
			delete(states, pid)
			g.RemoveThread(pid)
			result.Status = runner.StatusSignalled
			result.ExitStatus = int(sig)
			if g.LiveThreads() == 0 {
				return
			}

		case wstatus.Stopped():
			stopSig := wstatus.StopSignal()
			firstStop := !s.attached
			s.attached = true
			switch {
			case stopSig == sigTrapSysGood:
				if fatal(t.handleSyscallStop(s)) {
					return
				}

			case stopSig == unix.SIGTRAP && wstatus.TrapCause() != 0:
				if fatal(t.handleTrap(s, wstatus.TrapCause(), states, &execved, &fTime)) {
					return
				}

			default:
				// real signal: forward it on resume. The SIGSTOP of the
				// attach handshake (the bootstrap's own, or a freshly
				// auto-attached child's) is swallowed.
				if stopSig != unix.SIGSTOP || !firstStop {
					s.SignalToDeliver = int(stopSig)
				}
				if fatal(t.resume(s, resumeCont)) {
					return
				}
			}
		}
	}
}

// handleTrap demultiplexes SIGTRAP ptrace events.
func (t *Tracer) handleTrap(s *State, cause int, states map[int]*State, execved *bool, fTime *time.Time) error {
	g := t.Global
	switch cause {
	case unix.PTRACE_EVENT_SECCOMP:
		if !*execved {
			// the bootstrap's own execve traps before the event fires
			g.Log.Debugw("seccomp before execve", "pid", s.Pid)
			return t.resume(s, resumeCont)
		}
		return t.handleSeccomp(s)

	case unix.PTRACE_EVENT_CLONE, unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK:
		msg, err := ptraceEventMsg(s.Pid)
		if err != nil {
			if errors.Is(err, ErrTraceeExited) {
				return nil
			}
			return err
		}
		t.addChild(s, cause, int(msg), states)
		return t.resume(s, resumeCont)

	case unix.PTRACE_EVENT_EXEC:
		// the buffered directory streams refer to the old address space
		g.Log.Debugw("execve", "pid", s.Pid)
		s.ClearDirEntries()
		if !*execved {
			*fTime = time.Now()
			*execved = true
		}
		return t.resume(s, resumeCont)

	case unix.PTRACE_EVENT_EXIT:
		// eventExit: last chance to act on this pid's registries
		if ino, ok := s.TakeInodeToDelete(); ok {
			g.Inodes.EraseReal(ino)
			g.Mtimes.EraseReal(ino)
		}
		return t.resume(s, resumeCont)

	default:
		g.Log.Debugw("unexpected trap cause", "pid", s.Pid, "cause", cause)
		return t.resume(s, resumeCont)
	}
}

// addChild registers a clone/fork/vfork child: it joins the live set, gets a
// fresh state sharing the global registry, and is filed into a thread group.
// A clone with CLONE_THREAD joins the parent's group; fork and vfork start
// their own.
func (t *Tracer) addChild(parent *State, cause, childPid int, states map[int]*State) {
	g := t.Global

	group := childPid
	if cause == unix.PTRACE_EVENT_CLONE {
		// the parent is still inside clone; its entry registers carry the
		// clone flags
		if ctx, err := getTrapContext(parent.Pid); err == nil {
			if ctx.Arg0()&unix.CLONE_THREAD != 0 {
				if pg, ok := g.ThreadGroupOf(parent.Pid); ok {
					group = pg
				}
			}
		}
	}

	if states[childPid] == nil {
		// ptrace auto-attaches the child with inherited options; its state
		// is created here and its first stop consumes no extra setup
		states[childPid] = NewState(childPid, g.Clock, t.Debug)
		g.AddThread(childPid)
	}
	g.AssignThreadGroup(childPid, group)
	g.Log.Debugw("child attached", "parent", parent.Pid, "child", childPid, "group", group)
}

// handleSeccomp runs the pre hook. The handler instantiated here is parked on
// the per-tracee state so the matching post dispatches to the same instance
// even when events from other pids arrive in between.
func (t *Tracer) handleSeccomp(s *State) error {
	g := t.Global
	ctx, err := getTrapContext(s.Pid)
	if err != nil {
		if errors.Is(err, ErrTraceeExited) {
			return nil
		}
		return err
	}

	var h Handler
	if !s.FirstTrySyscall && s.handler != nil {
		// a replayed or injected syscall re-enters here; stay with the
		// armed instance
		h = s.handler
	} else if t.Factory != nil {
		h = t.Factory(ctx.SyscallNo())
	}
	if h == nil {
		return t.resume(s, resumeCont)
	}

	s.PrevRegs = ctx.Regs()
	expectPost, err := h.Pre(s, ctx, g)
	if err != nil {
		if errors.Is(err, ErrTraceeExited) {
			return nil
		}
		return fmt.Errorf("pre %s pid %d: %w", h.Name(), s.Pid, err)
	}
	if err := ctx.Flush(); err != nil {
		if errors.Is(err, ErrTraceeExited) {
			return nil
		}
		return err
	}
	if expectPost {
		s.handler = h
		return t.resume(s, resumeSyscall)
	}
	s.handler = nil
	return t.resume(s, resumeCont)
}

// handleSyscallStop runs the post hook at the syscall exit stop.
func (t *Tracer) handleSyscallStop(s *State) error {
	g := t.Global

	if t.LegacySeccomp {
		// old kernels deliver an extra entry stop between the seccomp event
		// and the exit stop; the per-state flag tells them apart
		if s.IsPreExit {
			s.IsPreExit = false
			return t.resume(s, resumeSyscall)
		}
		s.IsPreExit = true
	}

	if s.handler == nil {
		return t.resume(s, resumeCont)
	}

	ctx, err := getTrapContext(s.Pid)
	if err != nil {
		if errors.Is(err, ErrTraceeExited) {
			return nil
		}
		return err
	}

	act, err := s.handler.Post(s, ctx, g)
	if err != nil {
		if errors.Is(err, ErrTraceeExited) {
			return nil
		}
		return fmt.Errorf("post %s pid %d: %w", s.handler.Name(), s.Pid, err)
	}

	switch act {
	case PostReplay:
		// rewind over the syscall instruction with whatever registers the
		// handler prepared; the replay re-enters through a fresh seccomp
		// event and dispatches back to the armed handler
		g.Counters.TotalReplays++
		ctx.RewindSyscall()
		if err := ctx.Flush(); err != nil {
			if errors.Is(err, ErrTraceeExited) {
				return nil
			}
			return err
		}
		return t.resume(s, resumeCont)

	default: // PostDone
		s.handler = nil
		s.FirstTrySyscall = true
		if err := ctx.Flush(); err != nil {
			if errors.Is(err, ErrTraceeExited) {
				return nil
			}
			return err
		}
		return t.resume(s, resumeCont)
	}
}

// resume lets the tracee run again, delivering any pending signal exactly
// once.
func (t *Tracer) resume(s *State, mode resumeMode) error {
	sig := s.SignalToDeliver
	s.SignalToDeliver = 0
	var err error
	if mode == resumeSyscall {
		err = ptraceSyscall(s.Pid, sig)
	} else {
		err = ptraceCont(s.Pid, sig)
	}
	if errors.Is(err, ErrTraceeExited) {
		return nil
	}
	return err
}

// killAll kills every process in the tracee's process group.
func killAll(pgid int) {
	unix.Kill(-pgid, unix.SIGKILL)
}

// collectZombie reaps dead children so none outlive the supervisor.
func collectZombie(pgid int) {
	var wstatus unix.WaitStatus
	for {
		if _, err := unix.Wait4(-pgid, &wstatus, unix.WALL|unix.WNOHANG, nil); err != nil {
			break
		}
	}
}
