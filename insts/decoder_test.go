package insts_test

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/arm7rec/insts"
	"github.com/sarchlab/arm7rec/ir"
)

var _ = Describe("Decoder", func() {
	var decoder *insts.Decoder

	BeforeEach(func() {
		decoder = insts.NewDecoder()
	})

	Describe("Data Processing", func() {
		// ADD r0, r1, r2 -> 0xE0810002
		It("should decode ADD r0, r1, r2", func() {
			op := decoder.Decode(0xE0810002, 0x8000)

			Expect(op.Type).To(Equal(ir.ADD))
			Expect(op.Cond).To(Equal(ir.AL))
			Expect(op.Dest).To(Equal(ir.RegOp(ir.R0)))
			Expect(op.Args[0]).To(Equal(ir.RegOp(ir.R1)))
			Expect(op.Args[1]).To(Equal(ir.RegOp(ir.R2)))
			Expect(op.FlagsOut).To(BeFalse())
			Expect(op.FlagsIn).To(BeFalse())
			Expect(op.WritesPC).To(BeFalse())
			Expect(op.PC).To(Equal(uint32(0x8000)))
			Expect(op.String()).To(Equal("add r0, r1, r2"))
		})

		// SUBS r0, r1, r2 -> 0xE0510002
		It("should decode SUBS r0, r1, r2", func() {
			op := decoder.Decode(0xE0510002, 0)

			Expect(op.Type).To(Equal(ir.SUB))
			Expect(op.FlagsOut).To(BeTrue())
			Expect(op.FlagsIn).To(BeFalse())
		})

		// ORRS r0, r1, r2, LSR #32 -> 0xE1910022
		It("should decode ORRS r0, r1, r2, LSR #32", func() {
			op := decoder.Decode(0xE1910022, 0)

			Expect(op.Type).To(Equal(ir.ORR))
			Expect(op.Args[1]).To(Equal(ir.ShiftImmOp(ir.R2, ir.LSR, 0)))
			Expect(op.Args[1].IsShifted()).To(BeTrue())
			Expect(op.FlagsOut).To(BeTrue())
			Expect(op.FlagsIn).To(BeTrue())
		})

		It("should decode a register-shifted operand", func() {
			raw := insts.DPRegShift(ir.ADD, ir.R0, ir.R1, ir.R2, ir.ASR, ir.R3)
			op := decoder.Decode(raw, 0)

			Expect(op.Args[1]).To(Equal(ir.ShiftRegOp(ir.R2, ir.ASR, ir.R3)))
			Expect(op.String()).To(Equal("add r0, r1, r2, asr r3"))
		})

		It("should treat compares as flag-only ops", func() {
			op := decoder.Decode(insts.DPImm(ir.CMP, 0, ir.R4, 1), 0)

			Expect(op.Type).To(Equal(ir.CMP))
			Expect(op.Dest.IsNone()).To(BeTrue())
			Expect(op.FlagsOut).To(BeTrue())
		})

		It("should leave Rn unused for MOV and MVN", func() {
			op := decoder.Decode(insts.MovImm(ir.R0, 0), 0)

			Expect(op.Type).To(Equal(ir.MOV))
			Expect(op.Args[0].IsNone()).To(BeTrue())
			Expect(op.Args[1]).To(Equal(ir.Imm(0)))
		})

		It("should mark rotated immediates", func() {
			op := decoder.Decode(insts.WithS(insts.DPImm(ir.AND, ir.R0, ir.R1, 0x3FC)), 0)

			Expect(op.Args[1].Imm).To(Equal(uint32(0x3FC)))
			Expect(op.Args[1].Rotated).To(BeTrue())
			Expect(op.FlagsIn).To(BeTrue())
		})

		// The rotate field, not the value, decides whether a logical op
		// takes C from bit 31 of the constant.
		It("should mark a small constant encoded with a rotate", func() {
			op := decoder.Decode(0xE3B00140, 0) // MOVS r0, #0x40 ror 2

			Expect(op.Args[1].Imm).To(Equal(uint32(0x10)))
			Expect(op.Args[1].Rotated).To(BeTrue())
		})

		It("should not mark a large constant encoded without a rotate", func() {
			op := decoder.Decode(0xE3B000FF, 0) // MOVS r0, #0xFF

			Expect(op.Args[1].Imm).To(Equal(uint32(0xFF)))
			Expect(op.Args[1].Rotated).To(BeFalse())
		})

		DescribeTable("carry consumers",
			func(raw uint32, flagsIn bool) {
				Expect(decoder.Decode(raw, 0).FlagsIn).To(Equal(flagsIn))
			},
			Entry("ADC", insts.DPReg(ir.ADC, ir.R0, ir.R1, ir.R2, ir.LSL, 0), true),
			Entry("SBC", insts.DPReg(ir.SBC, ir.R0, ir.R1, ir.R2, ir.LSL, 0), true),
			Entry("RSC", insts.DPImm(ir.RSC, ir.R0, ir.R1, 0), true),
			Entry("RRX", insts.DPReg(ir.MOV, ir.R0, 0, ir.R1, ir.ROR, 0), true),
			Entry("ADDS", insts.WithS(insts.DPReg(ir.ADD, ir.R0, ir.R1, ir.R2, ir.LSL, 0)), false),
			Entry("MOVS", insts.WithS(insts.Mov(ir.R0, ir.R1)), true),
			Entry("MOV", insts.Mov(ir.R0, ir.R1), false),
		)
	})

	Describe("PC as a source", func() {
		It("should read the PC as pc+8", func() {
			op := decoder.Decode(insts.DPImm(ir.ADD, ir.R0, ir.PC, 4), 0x100)

			Expect(op.Args[0]).To(Equal(ir.Imm(0x108)))
		})

		It("should read the PC as pc+12 with a register shift", func() {
			op := decoder.Decode(insts.DPRegShift(ir.ADD, ir.R0, ir.PC, ir.R1, ir.LSL, ir.R2), 0x100)

			Expect(op.Args[0]).To(Equal(ir.Imm(0x10C)))
		})

		It("should fold an immediate shift of the PC", func() {
			op := decoder.Decode(insts.DPReg(ir.MOV, ir.R0, 0, ir.PC, ir.LSR, 4), 0x1000)

			Expect(op.Args[1]).To(Equal(ir.Imm(0x1008 >> 4)))
		})

		It("should fall back when a flag-setting logical op shifts the PC", func() {
			op := decoder.Decode(insts.WithS(insts.DPReg(ir.MOV, ir.R0, 0, ir.PC, ir.LSR, 4)), 0x1000)

			Expect(op.Type).To(Equal(ir.FALLBACK))
		})

		It("should fall back for the PC as a register-shifted operand", func() {
			op := decoder.Decode(insts.DPRegShift(ir.ADD, ir.R0, ir.R1, ir.PC, ir.LSL, ir.R2), 0)

			Expect(op.Type).To(Equal(ir.FALLBACK))
		})

		It("should read the PC as pc+8 for literal loads", func() {
			op := decoder.Decode(insts.LoadStore(true, false, ir.R0, ir.PC, 8, insts.IndexOffset), 0x200)

			Expect(op.Args[0]).To(Equal(ir.Imm(0x208)))
			Expect(op.Args[1]).To(Equal(ir.Imm(8)))
		})

		It("should store the PC as pc+12", func() {
			op := decoder.Decode(insts.LoadStore(false, false, ir.PC, ir.R0, 0, insts.IndexOffset), 0x200)

			Expect(op.Args[2]).To(Equal(ir.Imm(0x20C)))
		})
	})

	Describe("PC as a destination", func() {
		It("should write NextPC for MOV pc, lr", func() {
			op := decoder.Decode(insts.Mov(ir.PC, ir.LR), 0)

			Expect(op.Type).To(Equal(ir.MOV))
			Expect(op.Dest).To(Equal(ir.RegOp(ir.NextPC)))
			Expect(op.WritesPC).To(BeTrue())
			Expect(op.EndsBlock()).To(BeTrue())
		})

		It("should fall back for MOVS pc, lr", func() {
			op := decoder.Decode(insts.WithS(insts.Mov(ir.PC, ir.LR)), 0)

			Expect(op.Type).To(Equal(ir.FALLBACK))
			Expect(op.WritesPC).To(BeTrue())
		})

		It("should fall back for a conditional PC write", func() {
			op := decoder.Decode(insts.WithCond(insts.Mov(ir.PC, ir.LR), ir.EQ), 0)

			Expect(op.Type).To(Equal(ir.FALLBACK))
			Expect(op.WritesPC).To(BeTrue())
		})

		It("should load into NextPC", func() {
			op := decoder.Decode(insts.LoadStore(true, false, ir.PC, ir.SP, 4, insts.IndexPost), 0)

			Expect(op.Type).To(Equal(ir.LDR))
			Expect(op.Dest).To(Equal(ir.RegOp(ir.NextPC)))
			Expect(op.WritesPC).To(BeTrue())
			Expect(op.WriteBack).To(BeTrue())
		})
	})

	Describe("Single Data Transfer", func() {
		// LDR r0, [r1], #4 -> 0xE4910004
		It("should decode a post-indexed load", func() {
			op := decoder.Decode(0xE4910004, 0)

			Expect(op.Type).To(Equal(ir.LDR))
			Expect(op.Dest).To(Equal(ir.RegOp(ir.R0)))
			Expect(op.Args[0]).To(Equal(ir.RegOp(ir.R1)))
			Expect(op.Args[1]).To(Equal(ir.Imm(4)))
			Expect(op.PreIndex).To(BeFalse())
			Expect(op.AddOffset).To(BeTrue())
			Expect(op.WriteBack).To(BeTrue())
			Expect(op.Byte).To(BeFalse())
		})

		It("should decode a negative register offset", func() {
			raw := insts.LoadStoreReg(false, true, ir.R0, ir.R1, ir.R2, ir.LSL, 2, false, insts.IndexOffset)
			op := decoder.Decode(raw, 0)

			Expect(op.Type).To(Equal(ir.STR))
			Expect(op.Byte).To(BeTrue())
			Expect(op.AddOffset).To(BeFalse())
			Expect(op.PreIndex).To(BeTrue())
			Expect(op.WriteBack).To(BeFalse())
			Expect(op.Args[1]).To(Equal(ir.ShiftImmOp(ir.R2, ir.LSL, 2)))
			Expect(op.Args[2]).To(Equal(ir.RegOp(ir.R0)))
		})

		It("should suppress write-back when a load overwrites its base", func() {
			op := decoder.Decode(insts.LoadStore(true, false, ir.R1, ir.R1, 4, insts.IndexPre), 0)

			Expect(op.WriteBack).To(BeFalse())
		})

		It("should keep write-back when a store names its base", func() {
			op := decoder.Decode(insts.LoadStore(false, false, ir.R1, ir.R1, 4, insts.IndexPre), 0)

			Expect(op.WriteBack).To(BeTrue())
		})

		It("should suppress write-back for a zero offset", func() {
			op := decoder.Decode(insts.LoadStore(true, false, ir.R0, ir.R1, 0, insts.IndexPost), 0)

			Expect(op.WriteBack).To(BeFalse())
		})

		It("should fall back for write-back to the PC", func() {
			op := decoder.Decode(insts.LoadStore(true, false, ir.R0, ir.PC, 4, insts.IndexPre), 0)

			Expect(op.Type).To(Equal(ir.FALLBACK))
		})
	})

	Describe("Block Data Transfer", func() {
		It("should rewrite a single-register pop as a post-indexed load", func() {
			op := decoder.Decode(insts.Pop(1<<4), 0)

			Expect(op.Type).To(Equal(ir.LDR))
			Expect(op.Dest).To(Equal(ir.RegOp(ir.R4)))
			Expect(op.Args[0]).To(Equal(ir.RegOp(ir.SP)))
			Expect(op.Args[1]).To(Equal(ir.Imm(4)))
			Expect(op.PreIndex).To(BeFalse())
			Expect(op.AddOffset).To(BeTrue())
			Expect(op.WriteBack).To(BeTrue())
		})

		It("should rewrite a single-register push as a pre-indexed store", func() {
			op := decoder.Decode(insts.Push(1<<14), 0)

			Expect(op.Type).To(Equal(ir.STR))
			Expect(op.Args[2]).To(Equal(ir.RegOp(ir.LR)))
			Expect(op.PreIndex).To(BeTrue())
			Expect(op.AddOffset).To(BeFalse())
			Expect(op.WriteBack).To(BeTrue())
		})

		It("should fall back for several registers", func() {
			op := decoder.Decode(insts.BlockTransfer(true, ir.R0, 0x0006, false, true, false, false), 0)

			Expect(op.Type).To(Equal(ir.FALLBACK))
			Expect(op.WritesPC).To(BeFalse())
		})

		It("should mark multi-register loads of the PC", func() {
			op := decoder.Decode(insts.Pop(1<<4|1<<15), 0)

			Expect(op.Type).To(Equal(ir.FALLBACK))
			Expect(op.WritesPC).To(BeTrue())
		})
	})

	Describe("Branches", func() {
		It("should decode a forward branch", func() {
			op := decoder.Decode(insts.Branch(false, 0x1000, 0x2000), 0x1000)

			Expect(op.Type).To(Equal(ir.B))
			Expect(op.Args[0]).To(Equal(ir.Imm(0x2000)))
			Expect(op.WritesPC).To(BeTrue())
		})

		It("should decode a backward branch", func() {
			op := decoder.Decode(insts.Branch(false, 0x1000, 0x800), 0x1000)

			Expect(op.Args[0]).To(Equal(ir.Imm(0x800)))
		})

		It("should decode BL", func() {
			op := decoder.Decode(insts.Branch(true, 0x1000, 0x1100), 0x1000)

			Expect(op.Type).To(Equal(ir.BL))
			Expect(op.Dest).To(Equal(ir.RegOp(ir.LR)))
			Expect(op.Args[0]).To(Equal(ir.Imm(0x1100)))
			Expect(op.Args[1]).To(Equal(ir.Imm(0x1004)))
		})

		It("should keep the condition", func() {
			op := decoder.Decode(insts.WithCond(insts.Branch(false, 0, 0x40), ir.NE), 0)

			Expect(op.Cond).To(Equal(ir.NE))
		})
	})

	Describe("PSR Transfer", func() {
		It("should decode MRS", func() {
			op := decoder.Decode(insts.MRS(ir.R3, true), 0)

			Expect(op.Type).To(Equal(ir.MRS))
			Expect(op.Dest).To(Equal(ir.RegOp(ir.R3)))
			Expect(op.SPSR).To(BeTrue())
		})

		It("should decode MSR to the CPSR as a block terminator", func() {
			op := decoder.Decode(insts.MSR(false, 0x9, ir.R0), 0)

			Expect(op.Type).To(Equal(ir.MSR))
			Expect(op.FieldMask).To(Equal(uint8(0x9)))
			Expect(op.Args[0]).To(Equal(ir.RegOp(ir.R0)))
			Expect(op.IsBarrier()).To(BeTrue())
			Expect(op.EndsBlock()).To(BeTrue())
		})

		It("should not end the block for MSR to the SPSR", func() {
			op := decoder.Decode(insts.MSRImm(true, 0x8, 0xF0000000), 0)

			Expect(op.Args[0]).To(Equal(ir.Imm(0xF0000000)))
			Expect(op.EndsBlock()).To(BeFalse())
		})
	})

	Describe("Fallbacks", func() {
		DescribeTable("unmodeled instructions",
			func(raw uint32, writesPC bool) {
				op := decoder.Decode(raw, 0x40)

				Expect(op.Type).To(Equal(ir.FALLBACK))
				Expect(op.Raw).To(Equal(raw))
				Expect(op.PC).To(Equal(uint32(0x40)))
				Expect(op.WritesPC).To(Equal(writesPC))
				Expect(op.IsBarrier()).To(BeTrue())
			},
			Entry("MUL", insts.MUL(ir.R0, ir.R1, ir.R2), false),
			Entry("MLA into pc", insts.MLA(ir.PC, ir.R1, ir.R2, ir.R3), true),
			Entry("UMULL", insts.UMULL(ir.R0, ir.R1, ir.R2, ir.R3), false),
			Entry("SWP", insts.SWP(false, ir.R0, ir.R1, ir.R2), false),
			Entry("BX", insts.BX(ir.LR), true),
			Entry("LDRH", insts.Halfword(true, 1, ir.R0, ir.R1, 2, insts.IndexOffset), false),
			Entry("SWI", insts.SWI(0x12), true),
			Entry("coprocessor", uint32(0xEE000000), true),
			Entry("never condition", uint32(0xF0810002), false),
		)
	})

	Describe("Decode closure", func() {
		It("should produce one well-formed op for any word", func() {
			rng := rand.New(rand.NewSource(1))
			for i := 0; i < 50000; i++ {
				raw := rng.Uint32()
				pc := rng.Uint32() &^ 3
				op := decoder.Decode(raw, pc)

				Expect(op.Type).To(BeNumerically("<=", ir.FALLBACK))
				Expect(op.Raw).To(Equal(raw))
				Expect(op.PC).To(Equal(pc))
				if op.Dest.IsReg() {
					Expect(op.Dest.Reg.Num).NotTo(Equal(ir.PC))
				}
				if op.Dest.IsReg() && op.Dest.Reg.Num == ir.NextPC {
					Expect(op.WritesPC).To(BeTrue())
					Expect(op.Cond).To(Equal(ir.AL))
				}
				op.Sources(func(r *ir.Register) {
					Expect(r.Num).NotTo(Equal(ir.PC))
				})
			}
		})
	})
})
