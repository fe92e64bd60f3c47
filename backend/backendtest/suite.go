package backendtest

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/arm7rec/backend"
	"github.com/sarchlab/arm7rec/emu"
	"github.com/sarchlab/arm7rec/insts"
	"github.com/sarchlab/arm7rec/ir"
)

const (
	base     = uint32(0x1000)
	dataBase = uint32(0x8000)
	dataSize = 0x200
)

// DescribeBackend registers the conformance specs for the backends made by
// newBackend. Call it from a Describe body.
func DescribeBackend(newBackend func() backend.Backend) {
	var h *Harness

	BeforeEach(func() {
		var err error
		h, err = NewHarness(newBackend())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(h.Close)
	})

	flags := func() ir.Flags { return h.Regs.Flags() }

	It("should add without touching the flags", func() {
		h.Load(base, insts.DPReg(ir.ADD, ir.R0, ir.R1, ir.R2, ir.LSL, 0))
		h.Regs.Write(ir.R1, 0xBAAD0000)
		h.Regs.Write(ir.R2, 0x0000CAFE)
		h.Regs.SetFlags(ir.FlagN | ir.FlagZ | ir.FlagC | ir.FlagV)

		Expect(h.RunBlock(base)).To(Equal(backend.ExitBudget))

		Expect(h.Regs.Read(ir.R0)).To(Equal(uint32(0xBAADCAFE)))
		Expect(flags()).To(Equal(ir.FlagN | ir.FlagZ | ir.FlagC | ir.FlagV))
	})

	It("should set Z, C and V on an overflowing ADDS", func() {
		h.Load(base, insts.WithS(insts.DPReg(ir.ADD, ir.R0, ir.R1, ir.R2, ir.LSL, 0)))
		h.Regs.Write(ir.R1, 0x80000000)
		h.Regs.Write(ir.R2, 0x80000000)

		Expect(h.RunBlock(base)).To(Equal(backend.ExitBudget))

		Expect(h.Regs.Read(ir.R0)).To(BeZero())
		Expect(flags()).To(Equal(ir.FlagZ | ir.FlagC | ir.FlagV))
	})

	It("should report no borrow and overflow on SUBS", func() {
		h.Load(base, insts.WithS(insts.DPReg(ir.SUB, ir.R0, ir.R1, ir.R2, ir.LSL, 0)))
		h.Regs.Write(ir.R1, 0x80000000)
		h.Regs.Write(ir.R2, 1)

		Expect(h.RunBlock(base)).To(Equal(backend.ExitBudget))

		Expect(h.Regs.Read(ir.R0)).To(Equal(uint32(0x7FFFFFFF)))
		Expect(flags()).To(Equal(ir.FlagC | ir.FlagV))
	})

	It("should take C from the shifter on ORRS with LSR #32", func() {
		h.Load(base, insts.WithS(insts.DPReg(ir.ORR, ir.R0, ir.R1, ir.R2, ir.LSR, 0)))
		h.Regs.Write(ir.R1, 0x12345678)
		h.Regs.Write(ir.R2, 0x80000000)

		Expect(h.RunBlock(base)).To(Equal(backend.ExitBudget))

		Expect(h.Regs.Read(ir.R0)).To(Equal(uint32(0x12345678)))
		Expect(flags().C()).To(BeTrue())
	})

	DescribeTable("carry of a logical op with an immediate operand",
		func(raw uint32, want uint32, carryIn, wantC bool) {
			h.Load(base, raw)
			h.Regs.SetFlags(0)
			if carryIn {
				h.Regs.SetFlags(ir.FlagC)
			}

			Expect(h.RunBlock(base)).To(Equal(backend.ExitBudget))

			Expect(h.Regs.Read(ir.R0)).To(Equal(want))
			Expect(flags().C()).To(Equal(wantC))
		},
		// MOVS r0, #0x10 encoded as 0x40 ror 2.
		Entry("small constant with a rotate clears C", uint32(0xE3B00140), uint32(0x10), true, false),
		// MOVS r0, #0x80000000 encoded as 0x02 ror 2.
		Entry("rotated constant with bit 31 sets C", uint32(0xE3B00102), uint32(0x80000000), false, true),
		// MOVS r0, #0xFF without rotate.
		Entry("unrotated constant keeps C", uint32(0xE3B000FF), uint32(0xFF), true, true),
	)

	It("should end the block at the branch and follow it", func() {
		h.Memory.LoadProgram(base, insts.Program(
			insts.MovImm(ir.R0, 0),
			insts.DPImm(ir.ADD, ir.R0, ir.R0, 1),
			insts.Branch(false, base+8, base+16),
			insts.MovImm(ir.R0, 7),
		))

		blk, err := h.Compile(base)
		Expect(err).NotTo(HaveOccurred())
		Expect(blk.Length).To(Equal(3))

		Expect(h.RunBlock(base)).To(Equal(backend.ExitBudget))
		Expect(h.Regs.NextPC()).To(Equal(base + 16))
		Expect(h.Regs.Read(ir.R0)).To(Equal(uint32(1)))
	})

	It("should load before updating the base on a post-indexed LDR", func() {
		h.Load(base, insts.LoadStore(true, false, ir.R0, ir.R1, 4, insts.IndexPost))
		h.Memory.Write32(dataBase, 0xCAFEF00D)
		h.Memory.Write32(dataBase+4, 0xDEADBEEF)
		h.Regs.Write(ir.R1, dataBase)

		Expect(h.RunBlock(base)).To(Equal(backend.ExitBudget))

		Expect(h.Regs.Read(ir.R0)).To(Equal(uint32(0xCAFEF00D)))
		Expect(h.Regs.Read(ir.R1)).To(Equal(dataBase + 4))
	})

	It("should skip ops whose condition fails", func() {
		h.Load(base,
			insts.WithCond(insts.MovImm(ir.R0, 1), ir.EQ),
			insts.WithCond(insts.MovImm(ir.R1, 2), ir.NE),
		)
		h.Regs.Write(ir.R0, 9)
		h.Regs.Write(ir.R1, 9)
		h.Regs.SetFlags(0)

		Expect(h.RunBlock(base)).To(Equal(backend.ExitBudget))

		Expect(h.Regs.Read(ir.R0)).To(Equal(uint32(9)))
		Expect(h.Regs.Read(ir.R1)).To(Equal(uint32(2)))
	})

	It("should fall through a branch whose condition fails", func() {
		h.Memory.LoadProgram(base, insts.Program(
			insts.WithCond(insts.Branch(false, base, base+0x100), ir.EQ),
		))
		h.Regs.SetFlags(0)

		Expect(h.RunBlock(base)).To(Equal(backend.ExitBudget))

		Expect(h.Regs.NextPC()).To(Equal(base + 4))
	})

	It("should link on BL", func() {
		h.Memory.LoadProgram(base, insts.Program(
			insts.Branch(true, base, base+0x100),
		))

		Expect(h.RunBlock(base)).To(Equal(backend.ExitBudget))

		Expect(h.Regs.NextPC()).To(Equal(base + 0x100))
		Expect(h.Regs.Read(ir.LR)).To(Equal(base + 4))
	})

	It("should run untranslated instructions through the interpreter", func() {
		h.Load(base,
			insts.MUL(ir.R0, ir.R1, ir.R2),
			insts.DPImm(ir.ADD, ir.R0, ir.R0, 1),
		)
		h.Regs.Write(ir.R1, 6)
		h.Regs.Write(ir.R2, 7)

		Expect(h.RunBlock(base)).To(Equal(backend.ExitBudget))

		Expect(h.Regs.Read(ir.R0)).To(Equal(uint32(43)))
	})

	It("should transfer the status register", func() {
		h.Load(base,
			insts.MRS(ir.R0, false),
			insts.DPImm(ir.ORR, ir.R0, ir.R0, 0xF0000000),
			insts.MSR(false, 0x8, ir.R0),
		)
		h.Regs.SetFlags(0)

		Expect(h.RunBlock(base)).To(Equal(backend.ExitBudget))

		Expect(h.Regs.Read(ir.R0)).To(Equal(emu.ResetCPSR | 0xF0000000))
		Expect(flags()).To(Equal(ir.Flags(0xF)))
	})

	It("should store and load bytes", func() {
		h.Load(base,
			insts.LoadStore(false, true, ir.R0, ir.R1, 3, insts.IndexOffset),
			insts.LoadStore(true, true, ir.R2, ir.R1, 3, insts.IndexOffset),
		)
		h.Regs.Write(ir.R0, 0x1234ABCD)
		h.Regs.Write(ir.R1, dataBase)

		Expect(h.RunBlock(base)).To(Equal(backend.ExitBudget))

		Expect(h.Memory.Read8(dataBase + 3)).To(Equal(uint8(0xCD)))
		Expect(h.Regs.Read(ir.R2)).To(Equal(uint32(0xCD)))
	})

	It("should store the old base on a pre-indexed write-back of the base", func() {
		h.Load(base, insts.LoadStore(false, false, ir.R1, ir.R1, 4, insts.IndexPre))
		h.Regs.Write(ir.R1, dataBase)

		Expect(h.RunBlock(base)).To(Equal(backend.ExitBudget))

		Expect(h.Memory.Read32(dataBase + 4)).To(Equal(dataBase))
		Expect(h.Regs.Read(ir.R1)).To(Equal(dataBase + 4))
	})

	It("should pop into the PC word aligned", func() {
		h.Memory.LoadProgram(base, insts.Program(insts.Pop(1<<15)))
		h.Memory.Write32(dataBase, 0x2003)
		h.Regs.Write(ir.SP, dataBase)

		Expect(h.RunBlock(base)).To(Equal(backend.ExitBudget))

		Expect(h.Regs.NextPC()).To(Equal(uint32(0x2000)))
		Expect(h.Regs.Read(ir.SP)).To(Equal(dataBase + 4))
	})

	It("should miss on an address the block was not built for", func() {
		_, err := h.Compile(base)
		Expect(err).NotTo(HaveOccurred())
		h.Regs.SetNextPC(base + MemorySize)
		h.Regs.R[ir.Cycles] = 100

		Expect(h.Backend.Enter()).To(Equal(backend.ExitMiss))
	})

	It("should exit for a pending interrupt before running code", func() {
		h.Load(base, insts.MovImm(ir.R0, 1))
		_, err := h.Compile(base)
		Expect(err).NotTo(HaveOccurred())
		h.Regs.SetNextPC(base)
		h.Regs.R[ir.Cycles] = 100
		h.Regs.R[ir.IntPending] = 1

		Expect(h.Backend.Enter()).To(Equal(backend.ExitInterrupt))
		Expect(h.Regs.Read(ir.R0)).To(BeZero())
	})

	DescribeTable("register-controlled shifts",
		func(s ir.Shift, amount uint32) {
			h.Load(base, insts.WithS(insts.DPRegShift(ir.MOV, ir.R0, 0, ir.R1, s, ir.R2)))
			h.Regs.Write(ir.R1, 0x80000001)
			h.Regs.Write(ir.R2, amount)
			h.Regs.SetFlags(ir.FlagC)

			Expect(h.RunBlock(base)).To(Equal(backend.ExitBudget))

			v, c := ir.ShiftReg(0x80000001, s, amount&0xFF, true)
			Expect(h.Regs.Read(ir.R0)).To(Equal(v))
			Expect(flags().C()).To(Equal(c))
		},
		Entry("LSL #0", ir.LSL, uint32(0)),
		Entry("LSL #1", ir.LSL, uint32(1)),
		Entry("LSL #32", ir.LSL, uint32(32)),
		Entry("LSL #33", ir.LSL, uint32(33)),
		Entry("LSR #32", ir.LSR, uint32(32)),
		Entry("LSR #40", ir.LSR, uint32(40)),
		Entry("ASR #31", ir.ASR, uint32(31)),
		Entry("ASR #200", ir.ASR, uint32(200)),
		Entry("ROR #32", ir.ROR, uint32(32)),
		Entry("ROR #36", ir.ROR, uint32(36)),
		Entry("low byte only", ir.LSR, uint32(0x101)),
	)

	It("should match the interpreter on random programs", func() {
		rng := rand.New(rand.NewSource(3))
		for i := 0; i < 200; i++ {
			words := RandomProgram(rng, 24)
			init := RandomState(rng)
			data := make([]byte, dataSize)
			rng.Read(data)

			ref := emu.NewEmulator()
			init.apply(ref.RegFile())
			ref.Memory().LoadProgram(dataBase, data)
			halt := base + uint32(4*len(words))
			ref.LoadProgram(base, insts.Program(append(words, insts.Branch(false, halt, halt))...))
			for n := 0; ref.RegFile().NextPC() != halt && n < 1000; n++ {
				ref.Step()
			}

			h, err := NewHarness(newBackend())
			Expect(err).NotTo(HaveOccurred())
			init.apply(h.Regs)
			h.Memory.LoadProgram(dataBase, data)
			Expect(h.Load(base, words...)).To(Equal(halt))
			Expect(h.Run(base, 1000)).To(Succeed())

			Expect(h.Regs.NextPC()).To(Equal(halt), "program %d", i)
			for r := ir.R0; r <= ir.R14; r++ {
				Expect(h.Regs.Read(r)).To(Equal(ref.RegFile().Read(r)),
					"program %d register %s", i, r)
			}
			Expect(h.Regs.Read(ir.CPSR)).To(Equal(ref.RegFile().Read(ir.CPSR)), "program %d", i)
			Expect(h.Memory.Bytes()[dataBase:dataBase+dataSize]).
				To(Equal(ref.Memory().Bytes()[dataBase:dataBase+dataSize]), "program %d", i)
			Expect(h.Close()).To(Succeed())
		}
	})
}
