// Package backendtest provides a harness and a shared Ginkgo conformance
// suite for code generators.
//
// Every backend must produce the same guest state as the reference
// interpreter. The suite checks fixed scenarios and randomly generated
// programs against emu.Emulator.
package backendtest

import (
	"fmt"

	"github.com/sarchlab/arm7rec/backend"
	"github.com/sarchlab/arm7rec/block"
	"github.com/sarchlab/arm7rec/emu"
	"github.com/sarchlab/arm7rec/insts"
	"github.com/sarchlab/arm7rec/ir"
)

// MemorySize is the guest RAM of a harness.
const MemorySize = 64 * 1024

// Harness runs blocks on a backend against a fresh guest.
type Harness struct {
	Regs    *emu.RegFile
	Memory  *emu.Memory
	Backend backend.Backend

	env     *backend.Env
	builder *block.Builder
}

// NewHarness binds b to a fresh guest.
func NewHarness(b backend.Backend) (*Harness, error) {
	regs := emu.NewRegFile()
	mem := emu.MustNewMemory(MemorySize)

	h := &Harness{
		Regs:    regs,
		Memory:  mem,
		Backend: b,
		builder: block.NewBuilder(mem),
	}
	h.env = &backend.Env{
		Regs:   &regs.R,
		Bus:    mem,
		Interp: emu.NewInterpreter(regs, mem),
		PSR:    regs,
		Table:  make([]backend.Entry, MemorySize/4),
	}
	if err := b.Bind(h.env); err != nil {
		return nil, err
	}
	return h, nil
}

// Load writes words at pc followed by a branch to itself, and returns the
// address of that branch.
func (h *Harness) Load(pc uint32, words ...uint32) uint32 {
	halt := pc + uint32(4*len(words))
	words = append(words, insts.Branch(false, halt, halt))
	h.Memory.LoadProgram(pc, insts.Program(words...))
	return halt
}

// Compile builds, linearizes and installs the block at pc.
func (h *Harness) Compile(pc uint32) (*block.Block, error) {
	blk := h.builder.Build(pc)
	blk.Ops = block.Linearize(blk.Ops)

	e, err := h.Backend.Compile(blk)
	if err != nil {
		return nil, err
	}
	h.env.Table[h.env.Index(pc)] = e
	return blk, nil
}

// RunBlock compiles the block at pc and executes it exactly once.
func (h *Harness) RunBlock(pc uint32) (backend.Exit, error) {
	blk, err := h.Compile(pc)
	if err != nil {
		return 0, err
	}
	h.Regs.SetNextPC(pc)
	h.Regs.R[ir.Cycles] = uint32(blk.Cycles)
	return h.Backend.Enter(), nil
}

// Run executes from pc, compiling on misses, until budget cycles are used.
func (h *Harness) Run(pc uint32, budget int32) error {
	h.Regs.SetNextPC(pc)
	h.Regs.R[ir.Cycles] = uint32(budget)

	for {
		switch exit := h.Backend.Enter(); exit {
		case backend.ExitBudget:
			return nil
		case backend.ExitMiss:
			if _, err := h.Compile(h.Regs.NextPC()); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unexpected exit %s at %#08x", exit, h.Regs.NextPC())
		}
	}
}

// Close releases the backend.
func (h *Harness) Close() error {
	return h.Backend.Close()
}
