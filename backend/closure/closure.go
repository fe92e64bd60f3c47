// Package closure provides a portable backend that lowers IOps into Go
// closures over a small virtual host register file.
//
// The closure backend runs on every host and is the reference the native
// emitters are checked against. It uses the same register allocator, and
// keeps the guest flags eagerly in the CPSR of the register image.
package closure

import (
	"github.com/sarchlab/arm7rec/backend"
	"github.com/sarchlab/arm7rec/block"
	"github.com/sarchlab/arm7rec/ir"
	"github.com/sarchlab/arm7rec/regalloc"
)

// NumHostRegs is the size of the virtual host register file.
const NumHostRegs = 8

// Name is the configuration name of the backend.
const Name = "closure"

type step func(m *machine)

// code is one compiled block.
type code struct {
	pc    uint32
	steps []step
}

// machine is the state the steps run against.
type machine struct {
	regs *[ir.NumRegs]uint32
	host [NumHostRegs]uint32
	env  *backend.Env
}

// Backend compiles blocks into step lists and runs them in a Go dispatch
// loop.
type Backend struct {
	env   *backend.Env
	m     machine
	codes []*code
	steps int
}

// New creates a closure backend.
func New() *Backend {
	return &Backend{}
}

// Name returns "closure".
func (b *Backend) Name() string {
	return Name
}

// Bind attaches the runtime state.
func (b *Backend) Bind(env *backend.Env) error {
	b.env = env
	b.m = machine{regs: env.Regs, env: env}
	return nil
}

// Compile lowers a linearized block.
func (b *Backend) Compile(blk *block.Block) (backend.Entry, error) {
	l := newLowerer(blk)
	c := &code{pc: blk.PC, steps: l.lower()}

	b.codes = append(b.codes, c)
	b.steps += len(c.steps)
	return backend.Entry(len(b.codes)), nil
}

// Enter runs the dispatch loop.
func (b *Backend) Enter() backend.Exit {
	m := &b.m
	regs := m.regs
	table := b.env.Table
	mask := uint32(len(table) - 1)

	for {
		if int32(regs[ir.Cycles]) <= 0 {
			return backend.ExitBudget
		}
		if regs[ir.IntPending] != 0 {
			return backend.ExitInterrupt
		}

		pc := regs[ir.NextPC]
		e := table[pc>>2&mask]
		if e == 0 {
			return backend.ExitMiss
		}
		c := b.codes[e-1]
		if c.pc != pc {
			return backend.ExitMiss
		}

		for _, s := range c.steps {
			s(m)
		}
	}
}

// Reset drops every compiled block.
func (b *Backend) Reset() {
	b.codes = b.codes[:0]
	b.steps = 0
}

// CodeSize returns the number of steps generated since the last reset.
func (b *Backend) CodeSize() int {
	return b.steps
}

// Close does nothing; the backend holds no host resources.
func (b *Backend) Close() error {
	return nil
}

// FlagsToHost places NZCV in bits 31..28, the layout of the virtual flag
// word.
func (b *Backend) FlagsToHost(f ir.Flags) uint32 {
	return uint32(f&0xF) << ir.CPSRFlagShift
}

// FlagsFromHost extracts NZCV from a virtual flag word.
func (b *Backend) FlagsFromHost(host uint32) ir.Flags {
	return flagsFromHost(host)
}

// emitter appends register image traffic to a step list.
type emitter struct {
	steps *[]step
}

func (e emitter) LoadReg(h int, r ir.Reg) {
	*e.steps = append(*e.steps, func(m *machine) { m.host[h] = m.regs[r] })
}

func (e emitter) StoreReg(h int, r ir.Reg) {
	*e.steps = append(*e.steps, func(m *machine) { m.regs[r] = m.host[h] })
}

var hostRegs = func() []int {
	hosts := make([]int, NumHostRegs)
	for i := range hosts {
		hosts[i] = i
	}
	return hosts
}()

var _ regalloc.Emitter[int] = emitter{}
