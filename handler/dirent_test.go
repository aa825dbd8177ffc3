package handler

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/detbox/go-detbox/ptracer"
)

func newTestGlobal() *ptracer.Global {
	return ptracer.NewGlobal(zap.NewNop().Sugar())
}

// buildDirent packs one linux_dirent64 record, padded to 8 bytes like the
// kernel does.
func buildDirent(ino uint64, name string) []byte {
	reclen := (direntHeaderLen + len(name) + 1 + 7) &^ 7
	rec := make([]byte, reclen)
	binary.LittleEndian.PutUint64(rec, ino)
	binary.LittleEndian.PutUint16(rec[16:], uint16(reclen))
	rec[18] = 8 // DT_REG
	copy(rec[direntHeaderLen:], name)
	return rec
}

func buildStream(names map[string]uint64, order []string) []byte {
	var b []byte
	for _, n := range order {
		b = append(b, buildDirent(names[n], n)...)
	}
	return b
}

func TestParseDirents(t *testing.T) {
	stream := buildStream(map[string]uint64{"alpha": 11, "beta": 22}, []string{"alpha", "beta"})
	ents := parseDirents(stream)
	require.Len(t, ents, 2)
	assert.Equal(t, "alpha", string(ents[0].name))
	assert.Equal(t, "beta", string(ents[1].name))
	assert.Equal(t, uint64(11), binary.LittleEndian.Uint64(ents[0].rec))

	// truncated tail is dropped, not mis-parsed
	ents = parseDirents(stream[:len(stream)-4])
	require.Len(t, ents, 1)
}

func TestVirtualizeDirents(t *testing.T) {
	g := newTestGlobal()
	stream := buildStream(map[string]uint64{"a": 900001, "b": 900002}, []string{"a", "b"})
	virtualizeDirents(stream, g)

	ents := parseDirents(stream)
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(ents[0].rec))
	assert.Equal(t, uint64(2), binary.LittleEndian.Uint64(ents[1].rec))

	// same inode later keeps the same virtual id
	again := buildStream(map[string]uint64{"a": 900001}, []string{"a"})
	virtualizeDirents(again, g)
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(parseDirents(again)[0].rec))
}

func TestSortDirents(t *testing.T) {
	// two different kernel orders sort to the same stream
	names := map[string]uint64{"zz": 1, "mm": 2, "aa": 3}
	s1 := sortDirents(buildStream(names, []string{"zz", "mm", "aa"}))
	s2 := sortDirents(buildStream(names, []string{"mm", "aa", "zz"}))
	assert.Equal(t, s1, s2)

	ents := parseDirents(s1)
	require.Len(t, ents, 3)
	assert.Equal(t, "aa", string(ents[0].name))
	assert.Equal(t, "mm", string(ents[1].name))
	assert.Equal(t, "zz", string(ents[2].name))

	// d_off cookies are the running offset of the next record
	off := 0
	for _, d := range ents {
		off += len(d.rec)
		assert.Equal(t, uint64(off), binary.LittleEndian.Uint64(d.rec[8:]))
	}
}

func TestDirentChunk(t *testing.T) {
	stream := buildStream(map[string]uint64{"aa": 1, "bb": 2}, []string{"aa", "bb"})
	recLen := len(stream) / 2

	assert.Equal(t, 0, direntChunk(stream, recLen-1), "no partial records")
	assert.Equal(t, recLen, direntChunk(stream, recLen))
	assert.Equal(t, len(stream), direntChunk(stream, len(stream)))
	assert.Equal(t, len(stream), direntChunk(stream, ptracer.DirEntriesBytes))
}
