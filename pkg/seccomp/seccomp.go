// Package seccomp provides the BPF filter format loaded into the tracee and
// the trap message constants shared between the filter builder and the
// supervisor.
package seccomp

import (
	"syscall"
	"unsafe"
)

// Filter is the compiled BPF seccomp filter.
type Filter []byte

// SockFprog converts Filter to SockFprog for the seccomp syscall.
func (f Filter) SockFprog() *syscall.SockFprog {
	b := []byte(f)
	return &syscall.SockFprog{
		Len:    uint16(len(b) / 8),
		Filter: (*syscall.SockFilter)(unsafe.Pointer(&b[0])),
	}
}

// MsgDisallow and MsgHandle are SECCOMP_RET_DATA values for trace actions.
// The filter builder attaches MsgHandle to every traced syscall; MsgDisallow
// is not used by any filter built here. The supervisor does not read the
// value back: it selects handlers by syscall number.
const (
	MsgDisallow int16 = iota + 1
	MsgHandle
)
