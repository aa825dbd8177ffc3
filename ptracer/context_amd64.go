package ptracer

// SyscallNo gets the current syscall number.
func (c *Context) SyscallNo() uint {
	return uint(c.regs.Orig_rax)
}

// Arg0 gets the arg0 for the current syscall
func (c *Context) Arg0() uint64 {
	return c.regs.Rdi
}

// Arg1 gets the arg1 for the current syscall
func (c *Context) Arg1() uint64 {
	return c.regs.Rsi
}

// Arg2 gets the arg2 for the current syscall
func (c *Context) Arg2() uint64 {
	return c.regs.Rdx
}

// Arg3 gets the arg3 for the current syscall
func (c *Context) Arg3() uint64 {
	return c.regs.R10
}

// Arg4 gets the arg4 for the current syscall
func (c *Context) Arg4() uint64 {
	return c.regs.R8
}

// Arg5 gets the arg5 for the current syscall
func (c *Context) Arg5() uint64 {
	return c.regs.R9
}

// Args returns all six syscall arguments.
func (c *Context) Args() [6]uint64 {
	return [6]uint64{c.regs.Rdi, c.regs.Rsi, c.regs.Rdx, c.regs.R10, c.regs.R8, c.regs.R9}
}

// SetArg0 rewrites arg0 for the current syscall
func (c *Context) SetArg0(v uint64) { c.regs.Rdi = v; c.dirty = true }

// SetArg1 rewrites arg1 for the current syscall
func (c *Context) SetArg1(v uint64) { c.regs.Rsi = v; c.dirty = true }

// SetArg2 rewrites arg2 for the current syscall
func (c *Context) SetArg2(v uint64) { c.regs.Rdx = v; c.dirty = true }

// SetArg3 rewrites arg3 for the current syscall
func (c *Context) SetArg3(v uint64) { c.regs.R10 = v; c.dirty = true }

// SetArg4 rewrites arg4 for the current syscall
func (c *Context) SetArg4(v uint64) { c.regs.R8 = v; c.dirty = true }

// SetArg5 rewrites arg5 for the current syscall
func (c *Context) SetArg5(v uint64) { c.regs.R9 = v; c.dirty = true }

// SetSyscallNo changes the syscall about to execute. Only meaningful at the
// pre hook; this is the injection primitive.
func (c *Context) SetSyscallNo(sysno uint) {
	c.regs.Orig_rax = uint64(sysno)
	c.dirty = true
}

// SkipSyscall cancels the syscall about to execute by replacing its number
// with -1; the kernel returns ENOSYS and the post hook can substitute the
// desired return value.
func (c *Context) SkipSyscall() {
	c.regs.Orig_rax = ^uint64(0)
	c.dirty = true
}

// ReturnValue gets the syscall result during the post hook. Negative values
// are errnos.
func (c *Context) ReturnValue() int64 {
	return int64(c.regs.Rax)
}

// SetReturnValue rewrites the value the tracee observes as the syscall
// result.
func (c *Context) SetReturnValue(retval int64) {
	c.regs.Rax = uint64(retval)
	c.dirty = true
}

// InstructionPointer returns the tracee's instruction pointer.
func (c *Context) InstructionPointer() uint64 {
	return c.regs.Rip
}

// StackPointer returns the tracee's stack pointer.
func (c *Context) StackPointer() uint64 {
	return c.regs.Rsp
}

// RewindSyscall arranges for the syscall instruction to execute again: the
// syscall number goes back into the return register and the instruction
// pointer moves back over the two byte syscall instruction. The argument
// registers keep whatever the caller set, so a retry may continue where a
// short result left off.
func (c *Context) RewindSyscall() {
	c.regs.Rax = c.regs.Orig_rax
	c.regs.Rip -= syscallInsnSize
	c.dirty = true
}
