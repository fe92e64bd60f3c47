package block_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/arm7rec/block"
	"github.com/sarchlab/arm7rec/emu"
	"github.com/sarchlab/arm7rec/insts"
	"github.com/sarchlab/arm7rec/ir"
)

var _ = Describe("Builder", func() {
	var (
		mem     *emu.Memory
		builder *block.Builder
	)

	const base = uint32(0x1000)

	BeforeEach(func() {
		mem = emu.MustNewMemory(64 * 1024)
		builder = block.NewBuilder(mem)
	})

	It("should stop at the branch and keep its target", func() {
		mem.LoadProgram(base, insts.Program(
			insts.MovImm(ir.R0, 0),
			insts.DPImm(ir.ADD, ir.R0, ir.R0, 1),
			insts.Branch(false, base+8, base+16),
			insts.MovImm(ir.R0, 7),
		))

		blk := builder.Build(base)

		Expect(blk.PC).To(Equal(base))
		Expect(blk.Length).To(Equal(3))
		Expect(blk.Ops).To(HaveLen(3))
		last := blk.Ops[2]
		Expect(last.Type).To(Equal(ir.B))
		Expect(last.WritesPC).To(BeTrue())
		Expect(last.Args[0]).To(Equal(ir.Imm(base + 16)))
		Expect(blk.End()).To(Equal(base + 12))
	})

	It("should price ops from the latency table", func() {
		mem.LoadProgram(base, insts.Program(
			insts.MovImm(ir.R0, 0),
			insts.DPImm(ir.ADD, ir.R0, ir.R0, 1),
			insts.Branch(false, base+8, base),
		))

		blk := builder.Build(base)

		Expect(blk.Ops[0].Cycles).To(Equal(int32(1)))
		Expect(blk.Ops[2].Cycles).To(Equal(int32(3)))
		Expect(blk.Cycles).To(Equal(int32(5)))
	})

	It("should cap the block and append a fall-through branch", func() {
		words := make([]uint32, 40)
		for i := range words {
			words[i] = insts.MovImm(ir.R1, uint32(i))
		}
		mem.LoadProgram(base, insts.Program(words...))

		blk := builder.Build(base)

		Expect(blk.Length).To(Equal(block.DefaultMaxOps))
		Expect(blk.Ops).To(HaveLen(block.DefaultMaxOps + 1))
		tail := blk.Ops[len(blk.Ops)-1]
		Expect(tail).To(Equal(block.FallThrough(base + 4*block.DefaultMaxOps)))
		Expect(tail.Cycles).To(BeZero())
		Expect(blk.Cycles).To(Equal(int32(block.DefaultMaxOps)))
	})

	It("should honor a custom cap", func() {
		builder = block.NewBuilder(mem, block.WithMaxOps(2))

		blk := builder.Build(base)

		Expect(builder.MaxOps()).To(Equal(2))
		Expect(blk.Length).To(Equal(2))
		Expect(blk.Ops[2].Args[0]).To(Equal(ir.Imm(base + 8)))
	})

	It("should end the block after a CPSR write", func() {
		mem.LoadProgram(base, insts.Program(
			insts.MSR(false, 0x1, ir.R0),
			insts.MovImm(ir.R1, 1),
		))

		blk := builder.Build(base)

		Expect(blk.Length).To(Equal(1))
		Expect(blk.Ops[0].Type).To(Equal(ir.MSR))
		Expect(blk.Ops[1].Type).To(Equal(ir.B))
		Expect(blk.Ops[1].Args[0]).To(Equal(ir.Imm(base + 4)))
	})

	It("should continue past an SPSR write", func() {
		mem.LoadProgram(base, insts.Program(
			insts.MSR(true, 0xF, ir.R0),
			insts.BX(ir.LR),
		))

		blk := builder.Build(base)

		Expect(blk.Length).To(Equal(2))
		Expect(blk.Ops[1].Type).To(Equal(ir.FALLBACK))
		Expect(blk.Ops[1].WritesPC).To(BeTrue())
	})

	It("should report which addresses it covers", func() {
		mem.LoadProgram(base, insts.Program(
			insts.MovImm(ir.R0, 0),
			insts.BX(ir.LR),
		))

		blk := builder.Build(base)

		Expect(blk.Contains(base)).To(BeTrue())
		Expect(blk.Contains(base + 4)).To(BeTrue())
		Expect(blk.Contains(base + 8)).To(BeFalse())
		Expect(blk.Contains(base - 4)).To(BeFalse())
		Expect(blk.String()).To(ContainSubstring("mov r0, #0x0"))
	})
})
