package ptracer

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ptrace constants
const (
	ntPrStatus = 1

	// wordSize is the ptrace transfer unit (8 bytes on x86-64).
	wordSize = 8

	// syscallInsnSize is the length of the x86-64 syscall instruction
	// (0x0f 0x05); replay rewinds the instruction pointer by this much.
	syscallInsnSize = 2
)

// ErrTraceeExited reports a ptrace request that failed with ESRCH because the
// tracee died between two stops. Callers abandon the current event cleanly;
// any other ptrace failure invalidates the supervisor's model of the tracee
// and is fatal.
var ErrTraceeExited = errors.New("ptracer: tracee exited")

func ptrace(request, pid int, addr, data uintptr) error {
	_, _, errno := syscall.Syscall6(syscall.SYS_PTRACE, uintptr(request), uintptr(pid), addr, data, 0, 0)
	switch errno {
	case 0:
		return nil
	case syscall.ESRCH:
		return ErrTraceeExited
	default:
		return fmt.Errorf("ptrace request %d pid %d: %w", request, pid, errno)
	}
}

func ptraceGetRegs(pid int, regs *unix.PtraceRegs) error {
	iov := unix.Iovec{
		Base: (*byte)(unsafe.Pointer(regs)),
		Len:  uint64(unsafe.Sizeof(*regs)),
	}
	return ptrace(unix.PTRACE_GETREGSET, pid, ntPrStatus, uintptr(unsafe.Pointer(&iov)))
}

func ptraceSetRegs(pid int, regs *unix.PtraceRegs) error {
	iov := unix.Iovec{
		Base: (*byte)(unsafe.Pointer(regs)),
		Len:  uint64(unsafe.Sizeof(*regs)),
	}
	return ptrace(unix.PTRACE_SETREGSET, pid, ntPrStatus, uintptr(unsafe.Pointer(&iov)))
}

func ptraceSetOptions(pid, options int) error {
	return ptrace(syscall.PTRACE_SETOPTIONS, pid, 0, uintptr(options))
}

func ptraceCont(pid, sig int) error {
	return ptrace(syscall.PTRACE_CONT, pid, 0, uintptr(sig))
}

func ptraceSyscall(pid, sig int) error {
	return ptrace(syscall.PTRACE_SYSCALL, pid, 0, uintptr(sig))
}

// ptraceEventMsg reads the event message of the current stop; for
// clone/fork/vfork events this is the new child's pid.
func ptraceEventMsg(pid int) (uint64, error) {
	var msg uint64
	err := ptrace(syscall.PTRACE_GETEVENTMSG, pid, 0, uintptr(unsafe.Pointer(&msg)))
	return msg, err
}

func peekWord(pid int, addr uintptr) (uint64, error) {
	var word uint64
	err := ptrace(syscall.PTRACE_PEEKDATA, pid, addr, uintptr(unsafe.Pointer(&word)))
	return word, err
}

func pokeWord(pid int, addr uintptr, word uint64) error {
	return ptrace(syscall.PTRACE_POKEDATA, pid, addr, uintptr(word))
}
