// Package block builds translation units from guest code and prepares them
// for code generation.
//
// A Builder decodes a straight-line run of guest instructions into IOps,
// stopping after an op that writes the PC or changes the processor mode, or
// when the size cap is reached. Linearize then assigns register versions and
// splits memory write-back into explicit arithmetic.
package block

import (
	"fmt"
	"strings"

	"github.com/sarchlab/arm7rec/insts"
	"github.com/sarchlab/arm7rec/ir"
	"github.com/sarchlab/arm7rec/timing/latency"
)

// DefaultMaxOps is the number of guest instructions a block may cover.
const DefaultMaxOps = 32

// Fetcher reads guest instruction words.
type Fetcher interface {
	Read32(addr uint32) uint32
}

// Block is the op list of one translation unit. Blocks are immutable once
// compiled.
type Block struct {
	// PC is the guest address of the first instruction.
	PC uint32

	// Ops always ends with an op that writes the PC.
	Ops []ir.Op

	// Length is the number of guest instructions covered.
	Length int

	// Cycles is the summed cost of the ops.
	Cycles int32
}

// End returns the address after the last guest instruction.
func (b *Block) End() uint32 {
	return b.PC + uint32(4*b.Length)
}

// Contains reports whether the block was built from code at addr.
func (b *Block) Contains(addr uint32) bool {
	return addr-b.PC < uint32(4*b.Length)
}

func (b *Block) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "block %#08x (%d insts, %d cycles)\n", b.PC, b.Length, b.Cycles)
	for i := range b.Ops {
		fmt.Fprintf(&sb, "  %#08x  %s\n", b.Ops[i].PC, b.Ops[i].String())
	}
	return sb.String()
}

// Builder drives the decoder over guest code.
type Builder struct {
	fetch   Fetcher
	decoder *insts.Decoder
	latency *latency.Table
	maxOps  int
}

// BuilderOption is a functional option for configuring the Builder.
type BuilderOption func(*Builder)

// WithMaxOps sets the block size cap.
func WithMaxOps(n int) BuilderOption {
	return func(b *Builder) {
		b.maxOps = n
	}
}

// WithLatencyTable sets the cost model used to price ops.
func WithLatencyTable(t *latency.Table) BuilderOption {
	return func(b *Builder) {
		b.latency = t
	}
}

// NewBuilder creates a block builder reading code through fetch.
func NewBuilder(fetch Fetcher, opts ...BuilderOption) *Builder {
	b := &Builder{
		fetch:   fetch,
		decoder: insts.NewDecoder(),
		maxOps:  DefaultMaxOps,
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.latency == nil {
		b.latency = latency.NewTable()
	}
	if b.maxOps < 1 {
		b.maxOps = 1
	}

	return b
}

// MaxOps returns the block size cap.
func (b *Builder) MaxOps() int {
	return b.maxOps
}

// Build decodes the block starting at pc. A block that does not end in a
// PC write gets a synthesized branch to the next instruction.
func (b *Builder) Build(pc uint32) *Block {
	blk := &Block{
		PC:  pc,
		Ops: make([]ir.Op, 0, b.maxOps+1),
	}

	addr := pc
	for blk.Length < b.maxOps {
		op := b.decoder.Decode(b.fetch.Read32(addr), addr)
		op.Cycles = int32(b.latency.GetLatency(&op))

		blk.Ops = append(blk.Ops, op)
		blk.Cycles += op.Cycles
		blk.Length++
		addr += 4

		if op.EndsBlock() {
			break
		}
	}

	if !blk.Ops[len(blk.Ops)-1].WritesPC {
		blk.Ops = append(blk.Ops, FallThrough(addr))
	}

	return blk
}

// FallThrough returns the free branch that continues at next.
func FallThrough(next uint32) ir.Op {
	op := ir.Op{
		Type:     ir.B,
		Cond:     ir.AL,
		WritesPC: true,
		PC:       next,
	}
	op.Args[0] = ir.Imm(next)
	return op
}
