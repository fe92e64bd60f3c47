// Package codebuf provides the memory region generated code lives in.
//
// A Buffer is a fixed-size anonymous mapping with a cursor. It is writable
// only between MakeWritable and MakeExecutable, and executable otherwise.
package codebuf

import (
	"errors"
	"fmt"
)

// DefaultSize is the code buffer size used when none is configured (4MB).
const DefaultSize = 4 * 1024 * 1024

// ErrFull is returned when generated code does not fit in the buffer.
var ErrFull = errors.New("code buffer full")

// ErrWriteProtected is returned when code is appended outside a
// MakeWritable/MakeExecutable bracket.
var ErrWriteProtected = errors.New("code buffer is not writable")

// Buffer is a W^X code region.
type Buffer struct {
	mem      []byte
	used     int
	writable bool
}

// Append copies code to the cursor, aligned to align bytes, and returns
// the offset it was placed at.
func (b *Buffer) Append(code []byte, align int) (int, error) {
	if !b.writable {
		return 0, ErrWriteProtected
	}

	off := b.used
	if align > 1 {
		off = (off + align - 1) &^ (align - 1)
	}
	if off+len(code) > len(b.mem) {
		return 0, fmt.Errorf("need %d bytes, %d free: %w", len(code), len(b.mem)-off, ErrFull)
	}

	copy(b.mem[off:], code)
	b.used = off + len(code)
	return off, nil
}

// Addr returns the host address of offset off.
func (b *Buffer) Addr(off int) uintptr {
	return b.base() + uintptr(off)
}

// Used returns the number of bytes in use.
func (b *Buffer) Used() int {
	return b.used
}

// Cap returns the buffer size.
func (b *Buffer) Cap() int {
	return len(b.mem)
}

// Truncate moves the cursor back to off, dropping everything after it.
func (b *Buffer) Truncate(off int) {
	if off < b.used {
		b.used = off
	}
}

// Bytes returns the code in [off, off+n).
func (b *Buffer) Bytes(off, n int) []byte {
	return b.mem[off : off+n]
}

// Writable reports whether the buffer is currently writable.
func (b *Buffer) Writable() bool {
	return b.writable
}
