// Package runner provides the common result vocabulary for the deterministic
// tracer.
//
// # Status
//
// Status defines the run outcome including
//
//	Normal
//	Nonzero Exit Status
//	Signalled
//	Runner Error
//
// # Result
//
// Result defines the run outcome together with the tracee exit status,
// a detailed error for runner failures and timing metrics.
package runner
