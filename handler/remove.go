package handler

import (
	"unsafe"

	unix "golang.org/x/sys/unix"

	"github.com/detbox/go-detbox/ptracer"
)

// removeHandler keeps the inode registries honest across file removal. The
// filesystem may hand a removed file's inode number to a new file, which
// would alias two distinct files onto one virtual id. A post-removal stat
// cannot observe the inode (the file is gone), so the first pre hook swaps
// the removal for an injected newfstatat into scratch stack space, captures
// the doomed inode, then replays the original syscall; the real post hook
// erases the inode from both registries.
type removeHandler struct {
	name      string // unlink, unlinkat or rmdir
	statSysno uint
}

func (h *removeHandler) Name() string { return h.name }

func (h *removeHandler) Pre(s *ptracer.State, ctx *ptracer.Context, g *ptracer.Global) (bool, error) {
	if !s.FirstTrySyscall {
		// the replayed original; this time let it run
		return true, nil
	}
	s.SaveArgs(ctx)

	// scratch for the stat record, below the red zone of the tracee stack
	scratch := uintptr(ctx.StackPointer()) - 128 - unsafe.Sizeof(unix.Stat_t{})

	fdcwd := unix.AT_FDCWD

	ctx.SetSyscallNo(h.statSysno)
	switch h.name {
	case "unlinkat":
		// dirfd and path already in place
		ctx.SetArg2(uint64(scratch))
		if s.OriginalArgs[2]&unix.AT_REMOVEDIR != 0 {
			ctx.SetArg3(0)
		} else {
			ctx.SetArg3(unix.AT_SYMLINK_NOFOLLOW)
		}
	case "rmdir":
		ctx.SetArg0(uint64(int64(fdcwd)))
		ctx.SetArg1(s.OriginalArgs[0])
		ctx.SetArg2(uint64(scratch))
		ctx.SetArg3(0)
	default: // unlink
		ctx.SetArg0(uint64(int64(fdcwd)))
		ctx.SetArg1(s.OriginalArgs[0])
		ctx.SetArg2(uint64(scratch))
		ctx.SetArg3(unix.AT_SYMLINK_NOFOLLOW)
	}

	s.SyscallInjected = true
	s.FirstTrySyscall = false
	g.Counters.InjectedCalls++
	return true, nil
}

func (h *removeHandler) Post(s *ptracer.State, ctx *ptracer.Context, g *ptracer.Global) (ptracer.PostAction, error) {
	if s.SyscallInjected {
		// exit of the injected stat: capture the inode, then put the
		// original registers back and replay the removal itself
		if ctx.ReturnValue() == 0 {
			st, err := ptracer.Peek[unix.Stat_t](ctx.Pid, uintptr(ctx.Arg2()))
			if err != nil {
				return ptracer.PostDone, err
			}
			s.SetInodeToDelete(st.Ino)
		}
		s.SyscallInjected = false
		ctx.SetRegs(s.PrevRegs)
		return ptracer.PostReplay, nil
	}

	if ctx.ReturnValue() == 0 {
		if ino, ok := s.TakeInodeToDelete(); ok {
			g.Inodes.EraseReal(ino)
			g.Mtimes.EraseReal(ino)
		}
	} else {
		// removal failed; the inode lives on
		s.TakeInodeToDelete()
	}
	s.RestoreArgs(ctx)
	return ptracer.PostDone, nil
}
