// Package handler provides the deterministic syscall handlers: stat-family
// inode and mtime virtualization, stable directory listings, short read/write
// completion, deterministic randomness, logical-clock time and inode capture
// ahead of file removal. The supervisor mechanics live in package ptracer;
// this package only implements its Handler contract.
package handler

import (
	"github.com/detbox/go-detbox/pkg/seccomp/libseccomp"
	"github.com/detbox/go-detbox/ptracer"
)

// tracedNames is the syscall set the seccomp filter traps and this package
// handles. Everything else runs against the real kernel.
var tracedNames = []string{
	"stat", "lstat", "fstat", "newfstatat",
	"getdents64",
	"read", "write",
	"getrandom",
	"open", "openat", "creat",
	"time", "gettimeofday", "clock_gettime",
	"unlink", "unlinkat", "rmdir",
}

// TracedSyscalls returns the syscall names the seccomp filter must trap for
// the factory's handlers to run.
func TracedSyscalls() []string {
	return append([]string(nil), tracedNames...)
}

// NewFactory builds the handler factory keyed by native syscall numbers.
// Syscalls absent from the running architecture are skipped.
func NewFactory() (ptracer.HandlerFactory, error) {
	makers := map[string]func() ptracer.Handler{
		"stat":       func() ptracer.Handler { return &statHandler{name: "stat", bufArg: 1} },
		"lstat":      func() ptracer.Handler { return &statHandler{name: "lstat", bufArg: 1} },
		"fstat":      func() ptracer.Handler { return &statHandler{name: "fstat", bufArg: 1} },
		"newfstatat": func() ptracer.Handler { return &statHandler{name: "newfstatat", bufArg: 2} },

		"getdents64": func() ptracer.Handler { return &direntHandler{} },

		"read":  func() ptracer.Handler { return &readWriteHandler{name: "read"} },
		"write": func() ptracer.Handler { return &readWriteHandler{name: "write", write: true} },

		"getrandom": func() ptracer.Handler { return &getRandomHandler{} },

		"open":   func() ptracer.Handler { return &openHandler{name: "open", pathArg: 0} },
		"openat": func() ptracer.Handler { return &openHandler{name: "openat", pathArg: 1} },
		"creat":  func() ptracer.Handler { return &openHandler{name: "creat", pathArg: 0} },

		"time":          func() ptracer.Handler { return &timeHandler{name: "time"} },
		"gettimeofday":  func() ptracer.Handler { return &timeHandler{name: "gettimeofday"} },
		"clock_gettime": func() ptracer.Handler { return &timeHandler{name: "clock_gettime"} },
	}

	// the remove handlers inject newfstatat, resolve its number once
	statNo, err := libseccomp.ToSyscallNo("newfstatat")
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"unlink", "unlinkat", "rmdir"} {
		name := name
		makers[name] = func() ptracer.Handler {
			return &removeHandler{name: name, statSysno: statNo}
		}
	}

	bySysno := make(map[uint]func() ptracer.Handler, len(makers))
	for name, mk := range makers {
		no, err := libseccomp.ToSyscallNo(name)
		if err != nil {
			// not every syscall exists on every arch
			continue
		}
		bySysno[no] = mk
	}

	return func(sysno uint) ptracer.Handler {
		mk, ok := bySysno[sysno]
		if !ok {
			return nil
		}
		return mk()
	}, nil
}
