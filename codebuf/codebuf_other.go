//go:build !unix

package codebuf

import (
	"errors"
	"fmt"
)

// New fails: executable mappings need a unix host.
func New(size int) (*Buffer, error) {
	return nil, fmt.Errorf("failed to map code buffer: %w", errors.ErrUnsupported)
}

// MakeWritable is unreachable without a mapping.
func (b *Buffer) MakeWritable() error {
	return errors.ErrUnsupported
}

// MakeExecutable is unreachable without a mapping.
func (b *Buffer) MakeExecutable() error {
	return errors.ErrUnsupported
}

// Close does nothing.
func (b *Buffer) Close() error {
	return nil
}

func (b *Buffer) base() uintptr {
	return 0
}
