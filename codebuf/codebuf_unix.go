//go:build unix

package codebuf

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// New maps a buffer of size bytes. It starts executable.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		size = DefaultSize
	}
	page := unix.Getpagesize()
	size = (size + page - 1) &^ (page - 1)

	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("failed to map code buffer: %w", err)
	}

	return &Buffer{mem: mem}, nil
}

// MakeWritable switches the buffer to read-write.
func (b *Buffer) MakeWritable() error {
	if b.writable {
		return nil
	}
	if err := unix.Mprotect(b.mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("failed to make code buffer writable: %w", err)
	}
	b.writable = true
	return nil
}

// MakeExecutable switches the buffer to read-execute.
func (b *Buffer) MakeExecutable() error {
	if !b.writable {
		return nil
	}
	if err := unix.Mprotect(b.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("failed to make code buffer executable: %w", err)
	}
	b.writable = false
	return nil
}

// Close unmaps the buffer.
func (b *Buffer) Close() error {
	if b.mem == nil {
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	b.used = 0
	return err
}

func (b *Buffer) base() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b.mem)))
}
