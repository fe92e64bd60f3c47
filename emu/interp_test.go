package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/arm7rec/emu"
	"github.com/sarchlab/arm7rec/insts"
	"github.com/sarchlab/arm7rec/ir"
)

var _ = Describe("Interpreter", func() {
	var (
		regs   *emu.RegFile
		mem    *emu.Memory
		interp *emu.Interpreter
	)

	const pc = uint32(0x1000)

	exec := func(raw uint32) {
		regs.SetNextPC(pc + 4)
		interp.Interpret(raw)
	}

	BeforeEach(func() {
		regs = emu.NewRegFile()
		mem = emu.MustNewMemory(64 * 1024)
		interp = emu.NewInterpreter(regs, mem)
	})

	Describe("Data Processing", func() {
		It("should add without touching the flags", func() {
			regs.SetFlags(0xF)
			regs.Write(ir.R1, 0xBAAD0000)
			regs.Write(ir.R2, 0x0000CAFE)

			exec(insts.DPReg(ir.ADD, ir.R0, ir.R1, ir.R2, ir.LSL, 0))

			Expect(regs.Read(ir.R0)).To(Equal(uint32(0xBAADCAFE)))
			Expect(regs.Flags()).To(Equal(ir.Flags(0xF)))
			Expect(regs.NextPC()).To(Equal(pc + 4))
			Expect(interp.Executed()).To(Equal(uint64(1)))
		})

		It("should set all flags for ADDS overflow", func() {
			regs.Write(ir.R1, 0x80000000)
			regs.Write(ir.R2, 0x80000000)

			exec(insts.WithS(insts.DPReg(ir.ADD, ir.R0, ir.R1, ir.R2, ir.LSL, 0)))

			Expect(regs.Read(ir.R0)).To(Equal(uint32(0)))
			Expect(regs.Flags()).To(Equal(ir.FlagZ | ir.FlagC | ir.FlagV))
		})

		It("should take the carry from LSR #32", func() {
			regs.Write(ir.R1, 0x1234)
			regs.Write(ir.R2, 0x80000000)

			exec(insts.WithS(insts.DPReg(ir.ORR, ir.R0, ir.R1, ir.R2, ir.LSR, 0)))

			Expect(regs.Read(ir.R0)).To(Equal(uint32(0x1234)))
			Expect(regs.Flags().C()).To(BeTrue())
		})

		It("should keep C for a logical op on an unrotated immediate", func() {
			regs.SetFlags(ir.FlagC)
			regs.Write(ir.R1, 0xFF)

			exec(insts.WithS(insts.DPImm(ir.AND, ir.R0, ir.R1, 0x0F)))

			Expect(regs.Flags()).To(Equal(ir.FlagC))
		})

		It("should take C from bit 31 of a rotated immediate", func() {
			exec(insts.WithS(insts.MovImm(ir.R0, 0xF0000000)))

			Expect(regs.Read(ir.R0)).To(Equal(uint32(0xF0000000)))
			Expect(regs.Flags()).To(Equal(ir.FlagN | ir.FlagC))
		})

		It("should read the PC as pc+8 and pc+12", func() {
			exec(insts.DPImm(ir.ADD, ir.R0, ir.PC, 0))
			Expect(regs.Read(ir.R0)).To(Equal(pc + 8))

			regs.Write(ir.R2, 0)
			exec(insts.DPRegShift(ir.ADD, ir.R0, ir.PC, ir.R1, ir.LSL, ir.R2))
			Expect(regs.Read(ir.R0)).To(Equal(pc + 12 + regs.Read(ir.R1)))
		})

		It("should skip an instruction whose condition fails", func() {
			exec(insts.WithCond(insts.MovImm(ir.R0, 5), ir.EQ))

			Expect(regs.Read(ir.R0)).To(Equal(uint32(0)))
			Expect(regs.NextPC()).To(Equal(pc + 4))
		})

		It("should treat the NV condition as a no-op", func() {
			exec(insts.WithCond(insts.MovImm(ir.R0, 5), ir.NV))

			Expect(regs.Read(ir.R0)).To(Equal(uint32(0)))
		})

		It("should branch with MOV pc", func() {
			regs.Write(ir.LR, 0x2002)
			exec(insts.Mov(ir.PC, ir.LR))

			Expect(regs.NextPC()).To(Equal(uint32(0x2000)))
		})

		It("should restore the CPSR with MOVS pc, lr", func() {
			regs.EnterException(emu.ModeIRQ, emu.VectorIRQ, 0x3004)
			exec(insts.WithS(insts.DPImm(ir.SUB, ir.PC, ir.LR, 4)))

			Expect(regs.Mode()).To(Equal(emu.ModeSVC))
			Expect(regs.NextPC()).To(Equal(uint32(0x3000)))
		})
	})

	Describe("Multiply", func() {
		It("should execute MUL and MLA", func() {
			regs.Write(ir.R1, 7)
			regs.Write(ir.R2, 6)
			regs.Write(ir.R3, 100)

			exec(insts.MUL(ir.R0, ir.R1, ir.R2))
			Expect(regs.Read(ir.R0)).To(Equal(uint32(42)))

			exec(insts.MLA(ir.R4, ir.R1, ir.R2, ir.R3))
			Expect(regs.Read(ir.R4)).To(Equal(uint32(142)))
		})

		It("should execute UMULL and SMULL", func() {
			regs.Write(ir.R2, 0xFFFFFFFF)
			regs.Write(ir.R3, 2)

			exec(insts.UMULL(ir.R0, ir.R1, ir.R2, ir.R3))
			Expect(regs.Read(ir.R0)).To(Equal(uint32(0xFFFFFFFE)))
			Expect(regs.Read(ir.R1)).To(Equal(uint32(1)))

			exec(insts.UMULL(ir.R0, ir.R1, ir.R2, ir.R3) | 1<<22)
			Expect(regs.Read(ir.R0)).To(Equal(uint32(0xFFFFFFFE)))
			Expect(regs.Read(ir.R1)).To(Equal(uint32(0xFFFFFFFF)))
		})
	})

	Describe("Memory", func() {
		It("should swap a word", func() {
			mem.Write32(0x100, 0xAAAA)
			regs.Write(ir.R1, 0xBBBB)
			regs.Write(ir.R2, 0x100)

			exec(insts.SWP(false, ir.R0, ir.R1, ir.R2))

			Expect(regs.Read(ir.R0)).To(Equal(uint32(0xAAAA)))
			Expect(mem.Read32(0x100)).To(Equal(uint32(0xBBBB)))
		})

		It("should rotate unaligned word loads", func() {
			mem.Write32(0x100, 0x44332211)
			regs.Write(ir.R1, 0x101)

			exec(insts.LoadStore(true, false, ir.R0, ir.R1, 0, insts.IndexOffset))

			Expect(regs.Read(ir.R0)).To(Equal(uint32(0x11443322)))
		})

		It("should post-increment the base", func() {
			mem.Write32(0x200, 0xCAFEF00D)
			regs.Write(ir.R1, 0x200)

			exec(insts.LoadStore(true, false, ir.R0, ir.R1, 4, insts.IndexPost))

			Expect(regs.Read(ir.R0)).To(Equal(uint32(0xCAFEF00D)))
			Expect(regs.Read(ir.R1)).To(Equal(uint32(0x204)))
		})

		It("should sign-extend halfword and byte loads", func() {
			mem.Write16(0x300, 0x8001)
			mem.Write8(0x302, 0x80)
			regs.Write(ir.R1, 0x300)

			exec(insts.Halfword(true, 1, ir.R0, ir.R1, 0, insts.IndexOffset))
			Expect(regs.Read(ir.R0)).To(Equal(uint32(0x8001)))

			exec(insts.Halfword(true, 3, ir.R0, ir.R1, 0, insts.IndexOffset))
			Expect(regs.Read(ir.R0)).To(Equal(uint32(0xFFFF8001)))

			exec(insts.Halfword(true, 2, ir.R0, ir.R1, 2, insts.IndexOffset))
			Expect(regs.Read(ir.R0)).To(Equal(uint32(0xFFFFFF80)))
		})

		It("should push and pop several registers", func() {
			regs.Write(ir.SP, 0x1000)
			regs.Write(ir.R4, 4)
			regs.Write(ir.R5, 5)
			regs.Write(ir.LR, 0x2000)

			exec(insts.Push(1<<4 | 1<<5 | 1<<14))
			Expect(regs.Read(ir.SP)).To(Equal(uint32(0xFF4)))
			Expect(mem.Read32(0xFF4)).To(Equal(uint32(4)))
			Expect(mem.Read32(0xFF8)).To(Equal(uint32(5)))
			Expect(mem.Read32(0xFFC)).To(Equal(uint32(0x2000)))

			regs.Write(ir.R4, 0)
			regs.Write(ir.R5, 0)
			exec(insts.Pop(1<<4 | 1<<5 | 1<<15))
			Expect(regs.Read(ir.R4)).To(Equal(uint32(4)))
			Expect(regs.Read(ir.R5)).To(Equal(uint32(5)))
			Expect(regs.Read(ir.SP)).To(Equal(uint32(0x1000)))
			Expect(regs.NextPC()).To(Equal(uint32(0x2000)))
		})

		It("should store the original base when it is the first register", func() {
			regs.Write(ir.R0, 0x800)
			regs.Write(ir.R1, 11)

			exec(insts.BlockTransfer(false, ir.R0, 0x3, false, true, true, false))

			Expect(mem.Read32(0x800)).To(Equal(uint32(0x800)))
			Expect(mem.Read32(0x804)).To(Equal(uint32(11)))
			Expect(regs.Read(ir.R0)).To(Equal(uint32(0x808)))
		})

		It("should restore the CPSR for LDM with S and the PC", func() {
			regs.EnterException(emu.ModeIRQ, emu.VectorIRQ, 0)
			regs.Write(ir.SP, 0x400)
			mem.Write32(0x400, 0x5000)

			exec(insts.BlockTransfer(true, ir.SP, 1<<15, false, true, false, true))

			Expect(regs.Mode()).To(Equal(emu.ModeSVC))
			Expect(regs.NextPC()).To(Equal(uint32(0x5000)))
		})
	})

	Describe("Branches and exceptions", func() {
		It("should branch and link", func() {
			exec(insts.Branch(true, pc, 0x2000))

			Expect(regs.NextPC()).To(Equal(uint32(0x2000)))
			Expect(regs.Read(ir.LR)).To(Equal(pc + 4))
		})

		It("should branch with BX", func() {
			regs.Write(ir.R3, 0x4000)
			exec(insts.BX(ir.R3))

			Expect(regs.NextPC()).To(Equal(uint32(0x4000)))
		})

		It("should enter supervisor mode on SWI", func() {
			regs.SetCPSR(uint32(emu.ModeUSR) | 0x20000000)
			exec(insts.SWI(0x42))

			Expect(regs.Mode()).To(Equal(emu.ModeSVC))
			Expect(regs.NextPC()).To(Equal(emu.VectorSWI))
			Expect(regs.Read(ir.LR)).To(Equal(pc + 4))
			Expect(regs.ReadPSR(true)).To(Equal(uint32(emu.ModeUSR) | 0x20000000))
			Expect(regs.Read(ir.CPSR) & emu.BitI).NotTo(BeZero())
		})

		It("should take the undefined exception for coprocessor ops", func() {
			exec(0xEE000000)

			Expect(regs.Mode()).To(Equal(emu.ModeUND))
			Expect(regs.NextPC()).To(Equal(emu.VectorUndefined))
		})
	})

	Describe("PSR transfer", func() {
		It("should read and write the CPSR", func() {
			regs.Write(ir.R1, 0xF0000000|uint32(emu.ModeSYS))
			exec(insts.MSR(false, 0x9, ir.R1))
			Expect(regs.Mode()).To(Equal(emu.ModeSYS))
			Expect(regs.Flags()).To(Equal(ir.Flags(0xF)))

			exec(insts.MRS(ir.R0, false))
			Expect(regs.Read(ir.R0)).To(Equal(regs.Read(ir.CPSR)))
		})
	})
})
