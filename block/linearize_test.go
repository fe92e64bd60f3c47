package block_test

import (
	"math/rand"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/arm7rec/block"
	"github.com/sarchlab/arm7rec/insts"
	"github.com/sarchlab/arm7rec/ir"
)

func decodeAll(pc uint32, words ...uint32) []ir.Op {
	ops := make([]ir.Op, 0, len(words))
	for i, w := range words {
		ops = append(ops, insts.Decode(w, pc+uint32(4*i)))
	}
	return ops
}

func render(ops []ir.Op) []string {
	lines := make([]string, len(ops))
	for i := range ops {
		lines[i] = ops[i].String()
	}
	return lines
}

var _ = Describe("Linearize", func() {
	It("should version every write and name the latest version on read", func() {
		ops := block.Linearize(decodeAll(0,
			insts.MovImm(ir.R0, 0),
			insts.DPImm(ir.ADD, ir.R0, ir.R0, 1),
			insts.DPReg(ir.ADD, ir.R1, ir.R0, ir.R2, ir.LSL, 0),
		))

		want := []string{
			"mov r0.1, #0x0",
			"add r0.2, r0.1, #0x1",
			"add r1.1, r0.2, r2",
		}
		Expect(cmp.Diff(want, render(ops))).To(BeEmpty())
	})

	It("should invalidate every register after a fallback", func() {
		ops := block.Linearize(decodeAll(0,
			insts.MovImm(ir.R0, 1),
			insts.MUL(ir.R3, ir.R4, ir.R5),
			insts.DPReg(ir.ADD, ir.R1, ir.R0, ir.R3, ir.LSL, 0),
		))

		Expect(ops[2].Args[0].Reg).To(Equal(ir.Register{Num: ir.R0, Version: 2}))
		Expect(ops[2].Args[1].Reg).To(Equal(ir.Register{Num: ir.R3, Version: 1}))
	})

	It("should reset versions left over from an earlier pass", func() {
		ops := decodeAll(0, insts.DPImm(ir.ADD, ir.R0, ir.R0, 1))
		ops[0].Args[0].Reg.Version = 9

		ops = block.Linearize(ops)

		Expect(ops[0].Args[0].Reg.Version).To(BeZero())
		Expect(ops[0].Dest.Reg.Version).To(Equal(uint16(1)))
	})

	DescribeTable("write-back split",
		func(raw uint32, want []string) {
			ops := block.Linearize(decodeAll(0, raw))
			Expect(cmp.Diff(want, render(ops))).To(BeEmpty())
			for i := range ops {
				Expect(ops[i].WriteBack).To(BeFalse())
			}
		},
		Entry("post-index load accesses the old base first",
			insts.LoadStore(true, false, ir.R0, ir.R1, 4, insts.IndexPost),
			[]string{"ldr r0.1, [r1, +#0x0]", "add r1.1, r1, #0x4"}),
		Entry("pre-index store updates the base first",
			insts.LoadStore(false, false, ir.R0, ir.R1, -4, insts.IndexPre),
			[]string{"sub r1.1, r1, #0x4", "str r0, [r1.1, +#0x0]"}),
		Entry("pre-index store of the base stores the old value",
			insts.LoadStore(false, false, ir.R1, ir.R1, 4, insts.IndexPre),
			[]string{"mov scratch.1, r1", "add r1.1, r1, #0x4", "str scratch.1, [r1.1, +#0x0]"}),
		Entry("post-index load over its offset register saves the offset",
			insts.LoadStoreReg(true, false, ir.R2, ir.R1, ir.R2, ir.LSL, 0, true, insts.IndexPost),
			[]string{"mov scratch.1, r2", "ldr r2.1, [r1, +#0x0]", "add r1.1, r1, scratch.1"}),
		Entry("pop into pc keeps the pc write last",
			insts.Pop(1<<15),
			[]string{"mov scratch.1, sp", "add sp.1, sp, #0x4", "ldr next_pc.1, [scratch.1, +#0x0] ; -> pc"}),
		Entry("single-register push",
			insts.Push(1<<4),
			[]string{"sub sp.1, sp, #0x4", "str r4, [sp.1, +#0x0]"}),
	)

	It("should keep the condition on every op of a split", func() {
		raw := insts.WithCond(insts.LoadStore(true, false, ir.R0, ir.R1, 4, insts.IndexPost), ir.NE)

		ops := block.Linearize(decodeAll(0, raw))

		Expect(ops).To(HaveLen(2))
		for i := range ops {
			Expect(ops[i].Cond).To(Equal(ir.NE))
			Expect(ops[i].Raw).To(Equal(raw))
		}
		Expect(ops[1].Cycles).To(BeZero())
	})

	It("should keep SSA form and the block shape over random code", func() {
		rng := rand.New(rand.NewSource(7))

		for n := 0; n < 2000; n++ {
			var ops []ir.Op
			pc := uint32(0x8000)
			for len(ops) < 16 {
				op := insts.Decode(rng.Uint32(), pc)
				ops = append(ops, op)
				pc += 4
				if op.EndsBlock() {
					break
				}
			}
			if !ops[len(ops)-1].WritesPC {
				ops = append(ops, block.FallThrough(pc))
			}

			out := block.Linearize(ops)

			written := map[ir.Register]int{}
			for i := range out {
				op := &out[i]
				Expect(op.WriteBack).To(BeFalse())
				Expect(op.WritesPC).To(Equal(i == len(out)-1), op.String())

				op.Sources(func(r *ir.Register) {
					if at, ok := written[*r]; ok {
						Expect(at).To(BeNumerically("<", i))
					}
				})
				if op.Dest.IsReg() {
					_, dup := written[op.Dest.Reg]
					Expect(dup).To(BeFalse(), op.String())
					Expect(op.Dest.Reg.Version).NotTo(BeZero())
					written[op.Dest.Reg] = i
				}
			}
		}
	})
})
