package handler

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/detbox/go-detbox/ptracer"
)

// direntHandler makes directory listings reproducible. Kernel getdents64
// order is filesystem dependent, so the handler first drains the whole
// stream via replay, virtualizing each record's inode, then sorts the
// records by name and feeds the tracee from the per-fd buffer; subsequent
// getdents64 calls on the fd bypass the kernel entirely until the buffer is
// drained.
type direntHandler struct{}

func (h *direntHandler) Name() string { return "getdents64" }

func (h *direntHandler) Pre(s *ptracer.State, ctx *ptracer.Context, g *ptracer.Global) (bool, error) {
	fd := int(ctx.Arg0())
	if buf, ok := s.DirEntries[fd]; ok && buf.Complete {
		// serve from the collected stream without entering the kernel
		ctx.SkipSyscall()
		s.SaveArgs(ctx)
		return true, nil
	}
	if s.FirstTrySyscall {
		s.SaveArgs(ctx)
	}
	return true, nil
}

func (h *direntHandler) Post(s *ptracer.State, ctx *ptracer.Context, g *ptracer.Global) (ptracer.PostAction, error) {
	fd := int(s.OriginalArgs[0])
	buf := s.DirEntries[fd]
	ret := ctx.ReturnValue()

	if buf != nil && buf.Complete {
		// feeding phase; the syscall itself was cancelled in pre
		return h.feed(s, ctx, fd, buf)
	}

	if ret < 0 {
		// surface errors (bad fd, not a directory) as is
		return ptracer.PostDone, nil
	}

	if buf == nil {
		buf = &ptracer.DirBuffer{}
		s.DirEntries[fd] = buf
	}

	if ret == 0 {
		// stream complete: fix the order, then start feeding
		buf.Data = sortDirents(buf.Data)
		buf.Complete = true
		return h.feed(s, ctx, fd, buf)
	}

	// collect this chunk and ask the kernel for the next one
	chunk := make([]byte, ret)
	if err := ptracer.PeekBytes(ctx.Pid, uintptr(ctx.Arg1()), chunk); err != nil {
		return ptracer.PostDone, err
	}
	virtualizeDirents(chunk, g)
	buf.Data = append(buf.Data, chunk...)
	s.FirstTrySyscall = false
	return ptracer.PostReplay, nil
}

// feed copies as many whole records as fit into the tracee's buffer and sets
// the return value the tracee observes. A drained buffer yields the
// terminating zero and is dropped.
func (h *direntHandler) feed(s *ptracer.State, ctx *ptracer.Context, fd int, buf *ptracer.DirBuffer) (ptracer.PostAction, error) {
	limit := int(s.OriginalArgs[2])
	if limit > ptracer.DirEntriesBytes {
		limit = ptracer.DirEntriesBytes
	}
	n := direntChunk(buf.Data[buf.Off:], limit)
	if n > 0 {
		if err := ptracer.PokeBytes(ctx.Pid, uintptr(s.OriginalArgs[1]), buf.Data[buf.Off:buf.Off+n]); err != nil {
			return ptracer.PostDone, err
		}
		buf.Off += n
	} else {
		delete(s.DirEntries, fd)
	}
	ctx.SetReturnValue(int64(n))
	s.RestoreArgs(ctx)
	return ptracer.PostDone, nil
}

// linux_dirent64 header: u64 d_ino, s64 d_off, u16 d_reclen, u8 d_type,
// then the NUL-terminated name.
const direntHeaderLen = 19

type dirent struct {
	rec  []byte
	name []byte
}

// parseDirents splits a packed record stream. Truncated trailing bytes are
// dropped.
func parseDirents(b []byte) []dirent {
	var out []dirent
	for len(b) >= direntHeaderLen {
		reclen := int(binary.LittleEndian.Uint16(b[16:]))
		if reclen < direntHeaderLen || reclen > len(b) {
			break
		}
		rec := b[:reclen]
		name := rec[direntHeaderLen:]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		out = append(out, dirent{rec: rec, name: name})
		b = b[reclen:]
	}
	return out
}

// virtualizeDirents replaces each record's d_ino with its virtual id in
// place, preserving every other field.
func virtualizeDirents(b []byte, g *ptracer.Global) {
	for _, d := range parseDirents(b) {
		real := binary.LittleEndian.Uint64(d.rec)
		binary.LittleEndian.PutUint64(d.rec, g.Inodes.AddReal(real))
	}
}

// sortDirents re-packs the stream with records ordered by name and d_off
// rewritten to the running offset of the next record, so the cookie values
// are reproducible too.
func sortDirents(b []byte) []byte {
	ents := parseDirents(b)
	sort.Slice(ents, func(i, j int) bool {
		return bytes.Compare(ents[i].name, ents[j].name) < 0
	})
	out := make([]byte, 0, len(b))
	off := 0
	for _, d := range ents {
		off += len(d.rec)
		binary.LittleEndian.PutUint64(d.rec[8:], uint64(off))
		out = append(out, d.rec...)
	}
	return out
}

// direntChunk returns the length of the longest whole-record prefix that
// fits in limit bytes.
func direntChunk(b []byte, limit int) int {
	n := 0
	for _, d := range parseDirents(b) {
		if n+len(d.rec) > limit {
			break
		}
		n += len(d.rec)
	}
	return n
}
