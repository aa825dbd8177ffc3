// Package tracee provides the child bootstrap for the deterministic tracer:
// it forks, applies resource limits, enables PTRACE_TRACEME, stops itself to
// wait for the supervisor, loads the seccomp filter and finally execves the
// target command.
package tracee

import (
	"github.com/detbox/go-detbox/pkg/rlimit"
	"github.com/detbox/go-detbox/pkg/seccomp"
)

// Runner holds the exec path, argv, environment and limits for the traced
// child. It implements the supervisor's Runner interface.
type Runner struct {
	// argv and env for the child process
	Args []string
	Env  []string

	// file descriptors for the new process, from 0 to len - 1
	Files []uintptr

	// work path set by chdir (current working directory for child)
	WorkDir string

	// Resource limits set by setrlimit
	RLimits []rlimit.RLimit

	// BPF syscall filter applied to the child right before execve. The
	// supervisor relies on this filter to receive seccomp events for the
	// virtualized syscall set.
	Filter seccomp.Filter
}
