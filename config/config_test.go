package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/arm7rec/config"
	"github.com/sarchlab/arm7rec/emu"
	"github.com/sarchlab/arm7rec/insts"
	"github.com/sarchlab/arm7rec/ir"
	"github.com/sarchlab/arm7rec/timing/cache"
)

var _ = Describe("Config", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("should have valid defaults", func() {
		c := config.Default()
		Expect(c.Validate()).To(Succeed())
		Expect(c.TableSize()).To(Equal(emu.DefaultMemorySize / 4))
	})

	It("should round-trip through a file", func() {
		c := config.Default()
		c.Backend = "native"
		c.TimerPeriod = 5000
		cc := cache.DefaultConfig()
		c.Cache = &cc
		path := filepath.Join(dir, "arm7rec.json")

		Expect(c.Save(path)).To(Succeed())
		loaded, err := config.Load(path)

		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(Equal(c))
	})

	It("should keep defaults for missing fields", func() {
		path := filepath.Join(dir, "partial.json")
		Expect(os.WriteFile(path, []byte(`{"memory_size": 65536}`), 0644)).To(Succeed())

		c, err := config.Load(path)

		Expect(err).NotTo(HaveOccurred())
		Expect(c.MemorySize).To(Equal(65536))
		Expect(c.Backend).To(Equal("closure"))
		Expect(c.Latency.ALULatency).To(Equal(uint64(1)))
		Expect(c.Cache).To(BeNil())
	})

	It("should report malformed files", func() {
		path := filepath.Join(dir, "bad.json")
		Expect(os.WriteFile(path, []byte(`{"backend": `), 0644)).To(Succeed())

		_, err := config.Load(path)
		Expect(err).To(MatchError(ContainSubstring("failed to parse config")))
	})

	It("should deep copy on Clone", func() {
		c := config.Default()
		cc := cache.DefaultConfig()
		c.Cache = &cc

		clone := c.Clone()
		clone.Latency.ALULatency = 9
		clone.Cache.MissLatency = 99

		Expect(c.Latency.ALULatency).To(Equal(uint64(1)))
		Expect(c.Cache.MissLatency).To(Equal(cache.DefaultConfig().MissLatency))
	})

	DescribeTable("should reject",
		func(mutate func(*config.Config)) {
			c := config.Default()
			mutate(c)
			Expect(c.Validate()).NotTo(Succeed())
		},
		Entry("an unknown backend", func(c *config.Config) { c.Backend = "mips" }),
		Entry("a memory size that is not a power of two", func(c *config.Config) { c.MemorySize = 3000 }),
		Entry("a tiny code buffer", func(c *config.Config) { c.CodeBufferSize = 100 }),
		Entry("empty blocks", func(c *config.Config) { c.MaxBlockOps = 0 }),
		Entry("an unaligned load address", func(c *config.Config) { c.LoadAddress = 0x8002 }),
		Entry("a zero slice", func(c *config.Config) { c.SliceCycles = 0 }),
		Entry("an unknown timer line", func(c *config.Config) { c.TimerLine = "nmi" }),
		Entry("a free ALU", func(c *config.Config) { c.Latency.ALULatency = 0 }),
		Entry("a bad cache", func(c *config.Config) { c.Cache = &cache.Config{BlockSize: 3} }),
	)

	It("should build a core and a timer-driven scheduler", func() {
		c := config.Default()
		c.MemorySize = 64 * 1024
		c.SliceCycles = 100
		c.TimerPeriod = 300
		c.TimerLine = "fiq"

		jc, err := c.NewCore()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(jc.Close)
		Expect(jc.Memory().Size()).To(Equal(64 * 1024))

		jc.Memory().LoadProgram(emu.VectorFIQ, insts.Program(
			insts.WithS(insts.DPImm(ir.SUB, ir.PC, ir.LR, 4)),
		))
		jc.LoadProgram(0x1000, insts.Program(insts.Branch(false, 0x1000, 0x1000)))
		jc.RegFile().SetCPSR(uint32(emu.ModeSVC))

		s, err := c.NewScheduler(jc)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Run(1000)).To(Succeed())

		Expect(s.Stats().Slices).To(Equal(uint64(10)))
		Expect(s.Stats().TimerInterrupts).To(Equal(uint64(3)))
		Expect(jc.Stats().InterruptsDelivered).To(Equal(uint64(3)))
		Expect(jc.IntController().Lines()).To(BeZero())
	})
})
