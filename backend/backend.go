// Package backend defines the contract between the translator core and the
// code generators.
//
// A backend compiles linearized blocks into entries, and runs the dispatch
// loop over the entry table until it needs the core: the cycle budget ran
// out, an interrupt is pending, or the next address has no code.
package backend

import (
	"errors"

	"github.com/sarchlab/arm7rec/block"
	"github.com/sarchlab/arm7rec/emu"
	"github.com/sarchlab/arm7rec/ir"
)

// ErrUnsupported is returned when a backend cannot run on the current host.
var ErrUnsupported = errors.New("backend not supported on this host")

// Entry is an opaque handle to compiled code. The zero Entry means no code.
type Entry uintptr

// Exit is the reason the dispatch loop returned to the core.
type Exit int

// Exit reasons. The values are shared with generated code.
const (
	ExitBudget    Exit = 1
	ExitInterrupt Exit = 2
	ExitMiss      Exit = 3
)

func (e Exit) String() string {
	switch e {
	case ExitBudget:
		return "budget"
	case ExitInterrupt:
		return "interrupt"
	case ExitMiss:
		return "miss"
	}
	return "unknown"
}

// Interpreter executes one guest instruction. The instruction's address is
// the register image's NextPC minus 4.
type Interpreter interface {
	Interpret(raw uint32)
}

// PSR performs status register transfers, including bank switching.
type PSR interface {
	ReadPSR(spsr bool) uint32
	WritePSR(value uint32, mask uint8, spsr bool)
}

// Env is the runtime state compiled code works on.
type Env struct {
	// Regs is the guest register image.
	Regs *[ir.NumRegs]uint32

	Bus    emu.Bus
	Interp Interpreter
	PSR    PSR

	// Table maps (pc >> 2) & (len(Table) - 1) to compiled code. Its length
	// is a power of two and it must not be reallocated after Bind.
	Table []Entry
}

// Index returns the entry table slot of pc.
func (env *Env) Index(pc uint32) uint32 {
	return pc >> 2 & uint32(len(env.Table)-1)
}

// Backend is a code generator plus the dispatch loop for its code.
type Backend interface {
	// Name identifies the backend in configuration and statistics.
	Name() string

	// Bind attaches the runtime state. It is called once before any
	// Compile or Enter.
	Bind(env *Env) error

	// Compile generates code for a block whose ops have been linearized.
	Compile(blk *block.Block) (Entry, error)

	// Enter runs compiled code starting at NextPC until an exit condition.
	Enter() Exit

	// Reset discards all compiled code.
	Reset()

	// CodeSize returns the number of bytes (or steps) of code generated
	// since the last reset.
	CodeSize() int

	// FlagsToHost converts guest NZCV into the backend's host flag word.
	FlagsToHost(f ir.Flags) uint32

	// FlagsFromHost converts a host flag word back into guest NZCV.
	FlagsFromHost(host uint32) ir.Flags

	// Close releases host resources.
	Close() error
}
