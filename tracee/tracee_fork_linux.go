package tracee

import (
	"syscall"
	"unsafe" // required for go:linkname.

	"golang.org/x/sys/unix"
)

//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()

//go:linkname afterForkInChild syscall.runtime_AfterForkInChild
func afterForkInChild()

// Start forks the traced child. The child sets its own process group, applies
// rlimits, enables PTRACE_TRACEME, raises SIGSTOP to hand control to the
// supervisor, loads the seccomp filter and execves the target. Returns the
// child pid.
//
// The calling OS thread must be locked because the supervisor issues ptrace
// requests against the child from the same thread.
// Reference to src/syscall/exec_linux.go
//
//go:noinline
//go:norace
func (r *Runner) Start() (int, error) {
	var (
		err1    syscall.Errno
		workdir *byte
		fprog   *syscall.SockFprog
		nextfd  int
	)

	argv0, err := syscall.BytePtrFromString(r.Args[0])
	if err != nil {
		return 0, err
	}
	argv, err := syscall.SlicePtrFromStrings(r.Args)
	if err != nil {
		return 0, err
	}
	envv, err := syscall.SlicePtrFromStrings(r.Env)
	if err != nil {
		return 0, err
	}
	if r.WorkDir != "" {
		workdir, err = syscall.BytePtrFromString(r.WorkDir)
		if err != nil {
			return 0, err
		}
	}
	if len(r.Filter) > 0 {
		fprog = r.Filter.SockFprog()
	}

	// similar to exec_linux, avoid fd collision by shuffling fds upwards
	fd := make([]int, len(r.Files))
	nextfd = len(r.Files)
	for i, ufd := range r.Files {
		if nextfd < int(ufd) {
			nextfd = int(ufd)
		}
		fd[i] = int(ufd)
	}
	nextfd++

	// Acquire the fork lock so that no other threads create new fds that are
	// not yet close-on-exec before we fork.
	syscall.ForkLock.Lock()

	// About to call fork.
	// No more allocation or calls of non-assembly functions.
	beforeFork()

	pid, _, err1 := syscall.RawSyscall6(syscall.SYS_CLONE, uintptr(syscall.SIGCHLD), 0, 0, 0, 0, 0)
	if err1 != 0 || pid != 0 {
		// in parent process, restore all signals
		afterFork()
		syscall.ForkLock.Unlock()

		if err1 != 0 {
			return int(pid), syscall.Errno(err1)
		}
		return int(pid), nil
	}

	// In child process
	afterForkInChild()
	// Notice: cannot call any GO functions beyond this point

	// Set the pgid so that wait and kill can address the whole tracee tree
	_, _, err1 = syscall.RawSyscall(syscall.SYS_SETPGID, 0, 0, 0)
	if err1 != 0 {
		goto childerror
	}

	// Set limits
	for _, rlim := range r.RLimits {
		// prlimit64 instead of setrlimit to avoid 32-bit limitation (linux > 3.2)
		_, _, err1 = syscall.RawSyscall6(syscall.SYS_PRLIMIT64, 0, uintptr(rlim.Res), uintptr(unsafe.Pointer(&rlim.Rlim)), 0, 0, 0)
		if err1 != 0 {
			goto childerror
		}
	}

	// Chdir if needed
	if workdir != nil {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_CHDIR, uintptr(unsafe.Pointer(workdir)), 0, 0)
		if err1 != 0 {
			goto childerror
		}
	}

	// Pass 1: fd[i] < i => nextfd
	for i := 0; i < len(fd); i++ {
		if fd[i] >= 0 && fd[i] < int(i) {
			_, _, err1 = syscall.RawSyscall(syscall.SYS_DUP3, uintptr(fd[i]), uintptr(nextfd), 0)
			if err1 != 0 {
				goto childerror
			}
			syscall.RawSyscall(syscall.SYS_FCNTL, uintptr(nextfd), syscall.F_SETFD, syscall.FD_CLOEXEC)
			fd[i] = nextfd
			nextfd++
		}
	}

	// Pass 2: fd[i] => i
	for i := 0; i < len(fd); i++ {
		if fd[i] == -1 {
			syscall.RawSyscall(syscall.SYS_CLOSE, uintptr(i), 0, 0)
			continue
		}
		if fd[i] == int(i) {
			// dup2(i, i) will not clear close on exec flag, need to reset the flag
			_, _, err1 = syscall.RawSyscall(syscall.SYS_FCNTL, uintptr(fd[i]), syscall.F_SETFD, 0)
			if err1 != 0 {
				goto childerror
			}
			continue
		}
		_, _, err1 = syscall.RawSyscall(syscall.SYS_DUP3, uintptr(fd[i]), uintptr(i), 0)
		if err1 != 0 {
			goto childerror
		}
	}

	// Enable ptrace
	_, _, err1 = syscall.RawSyscall(syscall.SYS_PTRACE, uintptr(syscall.PTRACE_TRACEME), 0, 0)
	if err1 != 0 {
		goto childerror
	}

	if fprog != nil {
		// no_new_privs is required to load a filter without CAP_SYS_ADMIN
		_, _, err1 = syscall.RawSyscall6(syscall.SYS_PRCTL, unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0, 0)
		if err1 != 0 {
			goto childerror
		}

		// Stop to wait for the supervisor to attach and set options. Must
		// happen before the filter load since kill may be traced afterwards.
		pid, _, err1 = syscall.RawSyscall(syscall.SYS_GETPID, 0, 0, 0)
		if err1 != 0 {
			goto childerror
		}
		_, _, err1 = syscall.RawSyscall(syscall.SYS_KILL, pid, uintptr(syscall.SIGSTOP), 0)
		if err1 != 0 {
			goto childerror
		}

		// Load seccomp filter
		// SECCOMP_SET_MODE_FILTER = 1
		// SECCOMP_FILTER_FLAG_TSYNC = 1
		_, _, err1 = syscall.RawSyscall(unix.SYS_SECCOMP, 1, 1, uintptr(unsafe.Pointer(fprog)))
		if err1 != 0 {
			goto childerror
		}
	}

	// at this point the supervisor is attached with the seccomp trap filter
	// armed, time to exec
	_, _, err1 = syscall.RawSyscall(syscall.SYS_EXECVE,
		uintptr(unsafe.Pointer(argv0)),
		uintptr(unsafe.Pointer(&argv[0])),
		uintptr(unsafe.Pointer(&envv[0])))

childerror:
	syscall.RawSyscall(syscall.SYS_EXIT, uintptr(err1), 0, 0)
	// cannot reach this point
	panic("unreachable")
}
