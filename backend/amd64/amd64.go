// Package amd64 provides the native backend for x86-64 hosts.
//
// Blocks are assembled with golang-asm into a shared code buffer and entered
// through a small C-ABI stub. Generated code keeps the guest register image
// address in RBX and the runtime context in R15, allocates guest registers
// to RBP and R12-R14, and reaches Go for memory, PSR and interpreter work
// through callbacks.
package amd64

import (
	"fmt"
	"runtime"

	"github.com/sarchlab/arm7rec/backend"
	"github.com/sarchlab/arm7rec/backend/native"
	"github.com/sarchlab/arm7rec/block"
	"github.com/sarchlab/arm7rec/codebuf"
	"github.com/sarchlab/arm7rec/ir"
)

// Name is the configuration name of the backend.
const Name = "amd64"

// Backend generates x86-64 code.
type Backend struct {
	size int
	rt   *native.Runtime
}

// New creates an amd64 backend with a code buffer of size bytes. A size of
// zero selects codebuf.DefaultSize.
func New(size int) *Backend {
	if size <= 0 {
		size = codebuf.DefaultSize
	}
	return &Backend{size: size}
}

// Name returns "amd64".
func (b *Backend) Name() string {
	return Name
}

// Bind maps the code buffer and installs the stubs.
func (b *Backend) Bind(env *backend.Env) error {
	if runtime.GOARCH != "amd64" {
		return fmt.Errorf("%s code on %s: %w", Name, runtime.GOARCH, backend.ErrUnsupported)
	}

	stubs, err := buildStubs()
	if err != nil {
		return fmt.Errorf("failed to assemble stubs: %w", err)
	}
	rt, err := native.NewRuntime(b.size, stubs)
	if err != nil {
		return err
	}
	rt.Bind(env)
	b.rt = rt
	return nil
}

// Compile assembles a block and copies it into the code buffer.
func (b *Backend) Compile(blk *block.Block) (backend.Entry, error) {
	code, err := Assemble(blk, b.rt.DispatchAddr(), b.rt.ExitAddr())
	if err != nil {
		return 0, err
	}
	return b.rt.Install(code)
}

// Assemble generates the code of a block for the given stub addresses
// without installing it.
func Assemble(blk *block.Block, dispatch, exit uintptr) ([]byte, error) {
	e, err := newEmitter(dispatch, exit)
	if err != nil {
		return nil, err
	}
	return e.block(blk)
}

// Stubs assembles the entry, dispatch and exit stubs.
func Stubs() (native.Stubs, error) {
	return buildStubs()
}

// Enter runs generated code until it exits.
func (b *Backend) Enter() backend.Exit {
	return b.rt.Enter()
}

// Reset drops every compiled block.
func (b *Backend) Reset() {
	b.rt.Reset()
}

// CodeSize returns the bytes of block code generated since the last reset.
func (b *Backend) CodeSize() int {
	if b.rt == nil {
		return 0
	}
	return b.rt.CodeSize()
}

// Code returns up to n bytes of the code at e.
func (b *Backend) Code(e backend.Entry, n int) []byte {
	return b.rt.Code(e, n)
}

// FlagsToHost converts NZCV to an EFLAGS word.
func (b *Backend) FlagsToHost(f ir.Flags) uint32 {
	return flagsToHost(f)
}

// FlagsFromHost converts an EFLAGS word to NZCV.
func (b *Backend) FlagsFromHost(host uint32) ir.Flags {
	return flagsFromHost(host)
}

// Close unmaps the code buffer.
func (b *Backend) Close() error {
	if b.rt == nil {
		return nil
	}
	return b.rt.Close()
}
