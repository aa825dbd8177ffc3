package ptracer

import (
	"bytes"
	"encoding/binary"
	"unsafe"
)

// PeekBytes copies len(buf) bytes out of the tracee's address space, one word
// at a time. The final word may read past len(buf) inside the tracee; only
// len(buf) bytes are written to buf.
func PeekBytes(pid int, addr uintptr, buf []byte) error {
	var word [wordSize]byte
	for n := 0; n < len(buf); n += wordSize {
		w, err := peekWord(pid, addr+uintptr(n))
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(word[:], w)
		copy(buf[n:], word[:])
	}
	return nil
}

// PokeBytes copies buf into the tracee's address space. Full words are poked
// directly; a trailing partial word is merged with the tracee's existing
// memory so that bytes past the end of buf survive.
func PokeBytes(pid int, addr uintptr, buf []byte) error {
	n := 0
	for ; n+wordSize <= len(buf); n += wordSize {
		if err := pokeWord(pid, addr+uintptr(n), binary.LittleEndian.Uint64(buf[n:])); err != nil {
			return err
		}
	}
	if rest := len(buf) - n; rest > 0 {
		w, err := peekWord(pid, addr+uintptr(n))
		if err != nil {
			return err
		}
		var word [wordSize]byte
		binary.LittleEndian.PutUint64(word[:], w)
		copy(word[:rest], buf[n:])
		if err := pokeWord(pid, addr+uintptr(n), binary.LittleEndian.Uint64(word[:])); err != nil {
			return err
		}
	}
	return nil
}

// Peek reads a typed record from the tracee at addr. Records containing
// pointers only transfer the pointer values; chase them separately.
func Peek[T any](pid int, addr uintptr) (T, error) {
	var val T
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&val)), unsafe.Sizeof(val))
	if err := PeekBytes(pid, addr, buf); err != nil {
		var zero T
		return zero, err
	}
	return val, nil
}

// Poke writes a typed record to the tracee at addr.
func Poke[T any](pid int, addr uintptr, val T) error {
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&val)), unsafe.Sizeof(val))
	return PokeBytes(pid, addr, buf)
}

// ReadString reads a NUL-terminated byte string from the tracee at addr,
// word by word until a NUL shows up. Undefined behavior if addr is not
// actually a C string.
func ReadString(pid int, addr uintptr) (string, error) {
	var (
		b    []byte
		word [wordSize]byte
	)
	for off := uintptr(0); ; off += wordSize {
		w, err := peekWord(pid, addr+off)
		if err != nil {
			return "", err
		}
		binary.LittleEndian.PutUint64(word[:], w)
		if i := bytes.IndexByte(word[:], 0); i >= 0 {
			return string(append(b, word[:i]...)), nil
		}
		b = append(b, word[:]...)
	}
}
