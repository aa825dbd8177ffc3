package libseccomp

import (
	"fmt"

	"github.com/elastic/go-seccomp-bpf/arch"
)

var info, errInfo = arch.GetInfo("")

// ToSyscallName converts a syscall number to its name on the native arch.
func ToSyscallName(sysno uint) (string, error) {
	if errInfo != nil {
		return "", errInfo
	}
	n, ok := info.SyscallNumbers[int(sysno)]
	if !ok {
		return "", fmt.Errorf("syscall no %d does not exist", sysno)
	}
	return n, nil
}

// ToSyscallNo converts a syscall name to its number on the native arch.
func ToSyscallNo(name string) (uint, error) {
	if errInfo != nil {
		return 0, errInfo
	}
	n, ok := info.SyscallNames[name]
	if !ok {
		return 0, fmt.Errorf("syscall %q does not exist", name)
	}
	return uint(n), nil
}
