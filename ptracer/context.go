package ptracer

import (
	unix "golang.org/x/sys/unix"
)

// Context is the register view of the current tracee stop, used to retrieve
// and rewrite the syscall number, arguments and return value. Setters only
// touch the local copy; Flush writes modified registers back to the tracee.
type Context struct {
	// Pid is the stopped tracee this context operates on
	Pid int

	regs  unix.PtraceRegs
	dirty bool
}

func getTrapContext(pid int) (*Context, error) {
	var regs unix.PtraceRegs
	if err := ptraceGetRegs(pid, &regs); err != nil {
		return nil, err
	}
	return &Context{
		Pid:  pid,
		regs: regs,
	}, nil
}

// Regs returns a copy of the current register set.
func (c *Context) Regs() unix.PtraceRegs {
	return c.regs
}

// SetRegs replaces the whole register set, e.g. when restoring a snapshot
// taken at the pre hook.
func (c *Context) SetRegs(regs unix.PtraceRegs) {
	c.regs = regs
	c.dirty = true
}

// Flush writes modified registers back to the tracee. No-op when nothing
// was changed.
func (c *Context) Flush() error {
	if !c.dirty {
		return nil
	}
	if err := ptraceSetRegs(c.Pid, &c.regs); err != nil {
		return err
	}
	c.dirty = false
	return nil
}
