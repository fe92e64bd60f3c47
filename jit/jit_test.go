package jit_test

import (
	"bytes"
	"fmt"
	"math/rand"
	"runtime"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/arm7rec/backend"
	"github.com/sarchlab/arm7rec/backend/backendtest"
	"github.com/sarchlab/arm7rec/backend/closure"
	"github.com/sarchlab/arm7rec/block"
	"github.com/sarchlab/arm7rec/codebuf"
	"github.com/sarchlab/arm7rec/emu"
	"github.com/sarchlab/arm7rec/insts"
	"github.com/sarchlab/arm7rec/ir"
	"github.com/sarchlab/arm7rec/jit"
	"github.com/sarchlab/arm7rec/snapshot"
	"github.com/sarchlab/arm7rec/timing/cache"
)

const (
	base    = uint32(0x1000)
	memSize = 64 * 1024
)

// sumProgram adds 10+9+...+1 into r0 and halts at the returned address.
func sumProgram() ([]byte, uint32) {
	return insts.Program(
		insts.MovImm(ir.R0, 0),
		insts.MovImm(ir.R1, 10),
		insts.DPReg(ir.ADD, ir.R0, ir.R0, ir.R1, ir.LSL, 0),
		insts.WithS(insts.DPImm(ir.SUB, ir.R1, ir.R1, 1)),
		insts.WithCond(insts.Branch(false, base+16, base+8), ir.NE),
		insts.Branch(false, base+20, base+20),
	), base + 20
}

// callProgram calls a function that saves registers on the stack.
func callProgram() ([]byte, uint32) {
	return insts.Program(
		insts.MovImm(ir.SP, 0x8000),
		insts.MovImm(ir.R0, 3),
		insts.Branch(true, base+8, base+16),
		insts.Branch(false, base+12, base+12),
		insts.Push(1<<4|1<<14),
		insts.DPReg(ir.ADD, ir.R4, ir.R0, ir.R0, ir.LSL, 0),
		insts.Mov(ir.R0, ir.R4),
		insts.Pop(1<<4|1<<15),
	), base + 12
}

type fullBackend struct {
	*closure.Backend
}

func (b fullBackend) Compile(*block.Block) (backend.Entry, error) {
	return 0, fmt.Errorf("failed to allocate code: %w", codebuf.ErrFull)
}

type countingInterrupts struct {
	regs      *emu.RegFile
	delivered int
}

func (c *countingInterrupts) Pending() bool {
	return c.regs.R[ir.IntPending] != 0
}

func (c *countingInterrupts) Deliver() {
	c.regs.R[ir.IntPending] = 0
	c.delivered++
}

func newCore(opts ...jit.Option) *jit.Core {
	opts = append([]jit.Option{jit.WithMemory(emu.MustNewMemory(memSize))}, opts...)
	c, err := jit.New(opts...)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(c.Close)
	return c
}

var _ = Describe("Core", func() {
	var c *jit.Core

	BeforeEach(func() {
		c = newCore()
	})

	It("should use the closure backend by default", func() {
		Expect(c.Backend().Name()).To(Equal(closure.Name))
	})

	It("should run a loop to its halt address", func() {
		prog, halt := sumProgram()
		c.LoadProgram(base, prog)

		Expect(c.Run(1000)).To(Succeed())

		Expect(c.RegFile().Read(ir.R0)).To(Equal(uint32(55)))
		Expect(c.RegFile().NextPC()).To(Equal(halt))
		Expect(c.RegFile().Cycles()).To(BeNumerically("<=", 0))
	})

	It("should call and return through the interpreter fallback", func() {
		prog, halt := callProgram()
		c.LoadProgram(base, prog)

		Expect(c.Run(1000)).To(Succeed())

		Expect(c.RegFile().Read(ir.R0)).To(Equal(uint32(6)))
		Expect(c.RegFile().Read(ir.SP)).To(Equal(uint32(0x8000)))
		Expect(c.RegFile().NextPC()).To(Equal(halt))
		Expect(c.Stats().FallbackOps).To(BeNumerically(">=", 2))
		Expect(c.Stats().Interpreted).To(BeNumerically(">=", 2))
	})

	It("should compile each block once", func() {
		prog, _ := sumProgram()
		c.LoadProgram(base, prog)

		Expect(c.Run(1000)).To(Succeed())

		s := c.Stats()
		Expect(s.BlocksCompiled).To(Equal(uint64(3)))
		Expect(s.Exits[backend.ExitMiss]).To(Equal(uint64(3)))
		Expect(s.Exits[backend.ExitBudget]).To(Equal(uint64(1)))
		Expect(s.Dispatches()).To(Equal(uint64(4)))
		Expect(s.CodeSize).To(BeNumerically(">", 0))
		Expect(c.Compiled(base)).To(BeTrue())
		Expect(c.Compiled(base + 8)).To(BeTrue())
		Expect(c.Compiled(base + 4)).To(BeFalse())
	})

	It("should carry a budget overrun into the next slice", func() {
		prog, _ := sumProgram()
		c.LoadProgram(base, prog)

		Expect(c.Run(1)).To(Succeed())
		over := c.RegFile().Cycles()
		Expect(over).To(BeNumerically("<", 0))

		Expect(c.Run(-over)).To(Succeed())
		Expect(c.Stats().Exits[backend.ExitBudget]).To(Equal(uint64(2)))
	})

	It("should match the reference interpreter", func() {
		for _, program := range []func() ([]byte, uint32){sumProgram, callProgram} {
			prog, _ := program()
			core := newCore()
			core.LoadProgram(base, prog)
			Expect(core.Run(2000)).To(Succeed())

			ref := emu.NewEmulator(emu.WithMemory(emu.MustNewMemory(memSize)))
			ref.LoadProgram(base, prog)
			Expect(ref.Run(2000)).To(Succeed())

			for r := ir.R0; r <= ir.R14; r++ {
				Expect(core.RegFile().Read(r)).To(Equal(ref.RegFile().Read(r)), "register %s", r)
			}
			Expect(core.RegFile().NextPC()).To(Equal(ref.RegFile().NextPC()))
			Expect(core.RegFile().Read(ir.CPSR)).To(Equal(ref.RegFile().Read(ir.CPSR)))
		}
	})

	It("should match the reference interpreter on random programs", func() {
		rng := rand.New(rand.NewSource(11))
		for i := 0; i < 50; i++ {
			words := backendtest.RandomProgram(rng, 24)
			halt := base + uint32(4*len(words))
			words = append(words, insts.Branch(false, halt, halt))
			prog := insts.Program(words...)

			start := backendtest.RandomState(rng)
			setup := func(rf *emu.RegFile) {
				for r, v := range start.Regs {
					rf.Write(ir.Reg(r), v)
				}
				rf.Write(ir.R8, 0x8000)
				rf.Write(ir.R9, 0x8100)
				rf.SetFlags(start.Flags)
			}

			core := newCore()
			core.LoadProgram(base, prog)
			setup(core.RegFile())
			Expect(core.Run(500)).To(Succeed())

			ref := emu.NewEmulator(emu.WithMemory(emu.MustNewMemory(memSize)))
			ref.LoadProgram(base, prog)
			setup(ref.RegFile())
			Expect(ref.Run(500)).To(Succeed())

			Expect(core.RegFile().NextPC()).To(Equal(halt), "program %d", i)
			for r := ir.R0; r <= ir.R9; r++ {
				Expect(core.RegFile().Read(r)).To(Equal(ref.RegFile().Read(r)),
					"program %d register %s", i, r)
			}
			Expect(core.RegFile().Flags()).To(Equal(ref.RegFile().Flags()), "program %d", i)
			Expect(core.Memory().Bytes()[0x8000:0x8200]).
				To(Equal(ref.Memory().Bytes()[0x8000:0x8200]), "program %d", i)
		}
	})

	Context("interrupts", func() {
		BeforeEach(func() {
			c.Memory().LoadProgram(emu.VectorIRQ, insts.Program(
				insts.MovImm(ir.R1, 5),
				insts.Branch(false, emu.VectorIRQ+4, emu.VectorIRQ+4),
			))
			c.LoadProgram(base, insts.Program(
				insts.DPImm(ir.ADD, ir.R0, ir.R0, 1),
				insts.Branch(false, base+4, base),
			))
			c.RegFile().SetCPSR(uint32(emu.ModeSVC))
		})

		It("should deliver an IRQ between blocks", func() {
			Expect(c.Run(50)).To(Succeed())
			Expect(c.RegFile().Read(ir.R0)).To(BeNumerically(">", 0))

			c.IntController().Assert(emu.LineIRQ)
			Expect(c.Run(50)).To(Succeed())

			rf := c.RegFile()
			Expect(rf.Mode()).To(Equal(emu.ModeIRQ))
			Expect(rf.Read(ir.R1)).To(Equal(uint32(5)))
			Expect(rf.Read(ir.LR)).To(Equal(base + 4))
			Expect(rf.Read(ir.SPSR)).To(Equal(uint32(emu.ModeSVC)))
			Expect(rf.Read(ir.CPSR) & emu.BitI).NotTo(BeZero())
			Expect(rf.NextPC()).To(Equal(emu.VectorIRQ + 4))

			Expect(c.Stats().InterruptsDelivered).To(Equal(uint64(1)))
			Expect(c.Stats().Exits[backend.ExitInterrupt]).To(Equal(uint64(1)))
		})

		It("should hold a masked IRQ", func() {
			c.RegFile().SetCPSR(uint32(emu.ModeSVC) | emu.BitI)
			c.IntController().Assert(emu.LineIRQ)

			Expect(c.Run(50)).To(Succeed())

			Expect(c.RegFile().Mode()).To(Equal(emu.ModeSVC))
			Expect(c.Stats().InterruptsDelivered).To(BeZero())
		})

		It("should serve a custom interrupt source", func() {
			irq := &countingInterrupts{}
			c = newCore(jit.WithInterrupts(irq))
			irq.regs = c.RegFile()
			prog, _ := sumProgram()
			c.LoadProgram(base, prog)
			c.RegFile().R[ir.IntPending] = 1

			Expect(c.Run(100)).To(Succeed())

			Expect(irq.delivered).To(Equal(1))
			Expect(c.RegFile().Read(ir.R0)).To(Equal(uint32(55)))
		})
	})

	Context("code cache", func() {
		It("should recompile code overwritten by LoadProgram", func() {
			c.LoadProgram(base, insts.Program(
				insts.MovImm(ir.R0, 1),
				insts.Branch(false, base+4, base+4),
			))
			Expect(c.Run(20)).To(Succeed())
			Expect(c.RegFile().Read(ir.R0)).To(Equal(uint32(1)))

			c.LoadProgram(base, insts.Program(insts.MovImm(ir.R0, 2)))
			Expect(c.Compiled(base)).To(BeFalse())
			Expect(c.Stats().Invalidations).To(BeNumerically(">=", 1))

			Expect(c.Run(20)).To(Succeed())
			Expect(c.RegFile().Read(ir.R0)).To(Equal(uint32(2)))
		})

		It("should leave blocks outside the range alone", func() {
			prog, _ := sumProgram()
			c.LoadProgram(base, prog)
			Expect(c.Run(1000)).To(Succeed())

			c.Invalidate(base+20, base+24)

			Expect(c.Compiled(base)).To(BeTrue())
			Expect(c.Compiled(base + 8)).To(BeTrue())
			Expect(c.Compiled(base + 20)).To(BeFalse())
		})

		It("should empty the cache on Flush", func() {
			prog, _ := sumProgram()
			c.LoadProgram(base, prog)
			Expect(c.Run(1000)).To(Succeed())

			c.Flush()

			Expect(c.Compiled(base)).To(BeFalse())
			Expect(c.Stats().CodeSize).To(BeZero())
			Expect(c.Stats().Flushes).To(Equal(uint64(1)))
		})

		It("should reset the guest and keep RAM", func() {
			prog, _ := sumProgram()
			c.LoadProgram(base, prog)
			Expect(c.Run(1000)).To(Succeed())

			c.Reset()

			Expect(c.RegFile().NextPC()).To(BeZero())
			Expect(c.RegFile().Read(ir.R0)).To(BeZero())
			Expect(c.RegFile().Mode()).To(Equal(emu.ModeSVC))
			Expect(c.Compiled(base)).To(BeFalse())
			Expect(c.Memory().Read32(base)).To(Equal(insts.MovImm(ir.R0, 0)))
		})

		It("should return a full code buffer as an error", func() {
			c = newCore(jit.WithBackend(fullBackend{closure.New()}))
			prog, _ := sumProgram()
			c.LoadProgram(base, prog)

			err := c.Run(100)
			Expect(err).To(MatchError(codebuf.ErrFull))
		})
	})

	Context("with a cache model", func() {
		It("should charge wait states without changing results", func() {
			c = newCore(jit.WithCache(cache.DefaultConfig()))
			prog, halt := callProgram()
			c.LoadProgram(base, prog)

			Expect(c.Run(1000)).To(Succeed())

			Expect(c.RegFile().Read(ir.R0)).To(Equal(uint32(6)))
			Expect(c.RegFile().NextPC()).To(Equal(halt))
			Expect(c.Stats().WaitCycles).To(BeNumerically(">", 0))
			Expect(c.CacheBus().Cache().Stats().Misses).To(BeNumerically(">", 0))
		})

		It("should refuse an invalid geometry", func() {
			cfg := cache.DefaultConfig()
			cfg.BlockSize = 12
			_, err := jit.New(jit.WithCache(cfg))
			Expect(err).To(MatchError(ContainSubstring("invalid cache config")))
		})
	})

	Context("save states", func() {
		It("should resume identically after a load", func() {
			prog, _ := callProgram()
			c.LoadProgram(base, prog)
			Expect(c.Run(10)).To(Succeed())

			var saved bytes.Buffer
			Expect(c.SaveState(&saved)).To(Succeed())
			state := saved.Bytes()

			Expect(c.Run(1000)).To(Succeed())
			want := c.RegFile().R

			other := newCore()
			Expect(other.LoadState(bytes.NewReader(state))).To(Succeed())
			Expect(other.Run(1000)).To(Succeed())

			Expect(other.RegFile().R).To(Equal(want))
			Expect(other.Memory().Bytes()).To(Equal(c.Memory().Bytes()))
		})

		It("should drop compiled code on load", func() {
			prog, _ := sumProgram()
			c.LoadProgram(base, prog)
			Expect(c.Run(1000)).To(Succeed())

			var saved bytes.Buffer
			Expect(c.SaveState(&saved)).To(Succeed())
			Expect(c.LoadState(&saved)).To(Succeed())

			Expect(c.Compiled(base)).To(BeFalse())
		})

		It("should restore asserted interrupt lines", func() {
			c.IntController().Assert(emu.LineFIQ)
			var saved bytes.Buffer
			Expect(c.SaveState(&saved)).To(Succeed())

			other := newCore()
			Expect(other.LoadState(&saved)).To(Succeed())
			Expect(other.IntController().Lines()).To(Equal(emu.LineFIQ))
		})

		It("should refuse a state of another memory size", func() {
			var saved bytes.Buffer
			Expect(c.SaveState(&saved)).To(Succeed())

			other, err := jit.New(jit.WithMemory(emu.MustNewMemory(2 * memSize)))
			Expect(err).NotTo(HaveOccurred())
			Expect(other.LoadState(&saved)).To(MatchError(snapshot.ErrFormat))
		})
	})
})

var _ = Describe("NewBackend", func() {
	It("should create the closure backend by name", func() {
		b, err := jit.NewBackend("closure", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Name()).To(Equal(closure.Name))
	})

	It("should map native to the host emitter", func() {
		if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
			Skip("no native emitter for " + runtime.GOARCH)
		}
		b, err := jit.NewBackend("native", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Name()).To(Equal(runtime.GOARCH))
	})

	It("should reject unknown names", func() {
		_, err := jit.NewBackend("mips", 0)
		Expect(err).To(MatchError(ContainSubstring("unknown backend")))
	})

	It("should refuse an emitter for another host", func() {
		other := "amd64"
		if runtime.GOARCH == "amd64" {
			other = "arm64"
		}
		_, err := jit.New(jit.WithBackendName(other), jit.WithMemory(emu.MustNewMemory(memSize)))
		Expect(err).To(MatchError(backend.ErrUnsupported))
	})
})
