// Package ptracer implements the supervisor for the deterministic execution
// sandbox: a per-tracee state machine driven by the kernel ptrace/seccomp
// event stream across an entire process tree, together with the global
// virtualization registries (inode and mtime isomorphisms, logical clock,
// thread-group bookkeeping) and the syscall interception protocol (pre/post
// hooks, replay, syscall injection, register save/restore, tracee memory
// read/write).
//
// The supervisor is single threaded: the kernel serializes all tracee events
// into one wait stream, the supervisor consumes exactly one event per
// iteration and resumes exactly one tracee, so neither the global registry
// nor the per-tracee states need locking.
package ptracer
