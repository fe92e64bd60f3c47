// Package jit provides the translator core: the entry-point table, the
// compile-on-miss dispatch driver, interrupt delivery and the code cache
// lifecycle.
//
// A Core owns the guest register image and RAM. The scheduler calls Run with
// a cycle budget; the backend runs compiled blocks until the budget is used
// up, an interrupt is pending or the next address has no code, and the core
// handles the latter two before re-entering.
package jit

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/sarchlab/arm7rec/backend"
	"github.com/sarchlab/arm7rec/block"
	"github.com/sarchlab/arm7rec/emu"
	"github.com/sarchlab/arm7rec/ir"
	"github.com/sarchlab/arm7rec/snapshot"
	"github.com/sarchlab/arm7rec/timing/cache"
	"github.com/sarchlab/arm7rec/timing/latency"
)

// Interrupts is the interrupt source the core serves when generated code
// exits with ExitInterrupt. Implementations keep the IntPending
// pseudo-register non-zero exactly while Pending is true.
type Interrupts interface {
	Pending() bool
	Deliver()
}

var _ Interrupts = (*emu.IntController)(nil)

// span is the guest address range a table slot was compiled from.
type span struct {
	start, end uint32
}

// Core is the dynamic translator for one guest core.
type Core struct {
	regs   *emu.RegFile
	memory *emu.Memory
	bus    emu.Bus
	cache  *cache.Bus
	intc   *emu.IntController
	irq    Interrupts
	interp *emu.Interpreter

	latency     *latency.Table
	cacheConfig *cache.Config
	maxOps      int
	builder     *block.Builder

	backendName string
	codeSize    int
	backend     backend.Backend
	env         *backend.Env
	table       []backend.Entry
	spans       map[uint32]span

	logger *slog.Logger
	stats  Stats
}

// Option is a functional option for configuring the Core.
type Option func(*Core)

// WithMemory sets the guest RAM. Its size also sizes the entry table.
func WithMemory(m *emu.Memory) Option {
	return func(c *Core) {
		c.memory = m
	}
}

// WithBus routes guest data accesses through bus, for example a wait-state
// model in front of the RAM. Instruction fetch always reads the RAM.
func WithBus(bus emu.Bus) Option {
	return func(c *Core) {
		c.bus = bus
	}
}

// WithCache puts a wait-state cache model in front of the data bus. Its
// wait states are charged against the cycle budget.
func WithCache(cfg cache.Config) Option {
	return func(c *Core) {
		c.cacheConfig = &cfg
	}
}

// WithBackend selects the code generator.
func WithBackend(b backend.Backend) Option {
	return func(c *Core) {
		c.backend = b
	}
}

// WithBackendName selects the code generator by name: "closure", "amd64",
// "arm64" or "native" for the one matching the host.
func WithBackendName(name string) Option {
	return func(c *Core) {
		c.backendName = name
	}
}

// WithCodeBufferSize sets the code buffer size of native backends.
func WithCodeBufferSize(n int) Option {
	return func(c *Core) {
		c.codeSize = n
	}
}

// WithLatencyTable sets the cost model charged against the budget.
func WithLatencyTable(t *latency.Table) Option {
	return func(c *Core) {
		c.latency = t
	}
}

// WithMaxBlockOps caps the number of guest instructions per block.
func WithMaxBlockOps(n int) Option {
	return func(c *Core) {
		c.maxOps = n
	}
}

// WithInterrupts replaces the built-in interrupt controller as the source
// of delivered interrupts.
func WithInterrupts(irq Interrupts) Option {
	return func(c *Core) {
		c.irq = irq
	}
}

// WithLogger sets the logger for compile and delivery events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Core) {
		c.logger = l
	}
}

// New creates a translator core in the reset state. It fails when the
// selected backend cannot run on this host.
func New(opts ...Option) (*Core, error) {
	c := &Core{
		regs:        emu.NewRegFile(),
		backendName: "closure",
		maxOps:      block.DefaultMaxOps,
		spans:       make(map[uint32]span),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.memory == nil {
		c.memory = emu.MustNewMemory(emu.DefaultMemorySize)
	}
	if c.bus == nil {
		c.bus = c.memory
	}
	if c.cacheConfig != nil {
		if err := c.cacheConfig.Validate(); err != nil {
			return nil, fmt.Errorf("invalid cache config: %w", err)
		}
		c.cache = cache.NewBus(c.bus, cache.New(*c.cacheConfig), c.regs)
		c.bus = c.cache
	}
	if c.latency == nil {
		c.latency = latency.NewTable()
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if c.backend == nil {
		b, err := NewBackend(c.backendName, c.codeSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create backend: %w", err)
		}
		c.backend = b
	}

	c.intc = emu.NewIntController(c.regs)
	if c.irq == nil {
		c.irq = c.intc
	}
	c.interp = emu.NewInterpreter(c.regs, c.bus)
	c.builder = block.NewBuilder(c.memory,
		block.WithMaxOps(c.maxOps),
		block.WithLatencyTable(c.latency))

	c.table = make([]backend.Entry, c.memory.Size()/4)
	c.env = &backend.Env{
		Regs:   &c.regs.R,
		Bus:    c.bus,
		Interp: c.interp,
		PSR:    c.regs,
		Table:  c.table,
	}
	if err := c.backend.Bind(c.env); err != nil {
		return nil, fmt.Errorf("failed to bind backend %s: %w", c.backend.Name(), err)
	}

	return c, nil
}

// Close releases the backend's host resources.
func (c *Core) Close() error {
	return c.backend.Close()
}

// RegFile returns the guest register image.
func (c *Core) RegFile() *emu.RegFile {
	return c.regs
}

// Memory returns the guest RAM.
func (c *Core) Memory() *emu.Memory {
	return c.memory
}

// IntController returns the interrupt controller.
func (c *Core) IntController() *emu.IntController {
	return c.intc
}

// CacheBus returns the wait-state model, or nil when none is configured.
func (c *Core) CacheBus() *cache.Bus {
	return c.cache
}

// Backend returns the code generator in use.
func (c *Core) Backend() backend.Backend {
	return c.backend
}

// Stats returns the translator counters.
func (c *Core) Stats() Stats {
	s := c.stats
	s.CodeSize = c.backend.CodeSize()
	s.Interpreted = c.interp.Executed()
	s.InterruptsDelivered = c.intc.Delivered()
	if c.cache != nil {
		s.WaitCycles = c.cache.WaitCycles()
	}
	return s
}

// LoadProgram copies program into RAM at entry, drops any code compiled from
// the overwritten range and starts execution at entry.
func (c *Core) LoadProgram(entry uint32, program []byte) {
	c.memory.LoadProgram(entry, program)
	c.Invalidate(entry, entry+uint32(len(program)))
	c.regs.SetNextPC(entry)
}

// Run adds budget to the cycle counter and executes guest code until it is
// used up. The counter may end below zero; the overrun is charged against
// the next call. Errors are fatal to the core.
func (c *Core) Run(budget int32) error {
	c.regs.AddCycles(budget)

	for {
		exit := c.backend.Enter()
		c.stats.Exits[exit]++

		switch exit {
		case backend.ExitBudget:
			return nil

		case backend.ExitInterrupt:
			pc := c.regs.NextPC()
			c.irq.Deliver()
			c.logger.Debug("delivered interrupt",
				"pc", pc, "vector", c.regs.NextPC(), "mode", c.regs.Mode())

		case backend.ExitMiss:
			if err := c.compile(c.regs.NextPC()); err != nil {
				return err
			}

		default:
			return fmt.Errorf("backend %s returned unknown exit %d", c.backend.Name(), exit)
		}
	}
}

func (c *Core) compile(pc uint32) error {
	blk := c.builder.Build(pc)
	blk.Ops = block.Linearize(blk.Ops)

	before := c.backend.CodeSize()
	entry, err := c.backend.Compile(blk)
	if err != nil {
		return fmt.Errorf("failed to compile block at %#08x: %w", pc, err)
	}

	idx := c.env.Index(pc)
	c.table[idx] = entry
	c.spans[idx] = span{start: pc, end: blk.End()}

	c.stats.BlocksCompiled++
	c.stats.GuestInstructions += uint64(blk.Length)
	for i := range blk.Ops {
		if blk.Ops[i].Type == ir.FALLBACK {
			c.stats.FallbackOps++
		}
	}

	c.logger.Debug("compiled block",
		"pc", pc, "insts", blk.Length, "ops", len(blk.Ops),
		"bytes", c.backend.CodeSize()-before)
	return nil
}

// Flush returns every table entry to "no code" and empties the code buffer.
func (c *Core) Flush() {
	clear(c.table)
	clear(c.spans)
	c.backend.Reset()
	c.stats.Flushes++
	c.logger.Debug("flushed code cache")
}

// Reset puts the guest core into its reset state and flushes the code
// cache. RAM is left alone.
func (c *Core) Reset() {
	c.regs.Reset()
	if c.cache != nil {
		c.cache.Cache().Reset()
	}
	c.Flush()
}

// Invalidate drops the code of every block built from guest addresses in
// [start, end). Use it after writing to memory that may hold code.
func (c *Core) Invalidate(start, end uint32) {
	for idx, s := range c.spans {
		if s.start < end && start < s.end {
			c.table[idx] = 0
			delete(c.spans, idx)
			c.stats.Invalidations++
		}
	}
}

// Block builds, without compiling, the block starting at pc. It is meant for
// inspection tools.
func (c *Core) Block(pc uint32) *block.Block {
	blk := c.builder.Build(pc)
	blk.Ops = block.Linearize(blk.Ops)
	return blk
}

// Compiled reports whether code for pc is installed.
func (c *Core) Compiled(pc uint32) bool {
	idx := c.env.Index(pc)
	s, ok := c.spans[idx]
	return ok && s.start == pc && c.table[idx] != 0
}

// SaveState writes the register image, the interrupt lines and the RAM to w.
// Generated code is not saved.
func (c *Core) SaveState(w io.Writer) error {
	s := &snapshot.State{
		Regs:   c.regs.R,
		Lines:  uint8(c.intc.Lines()),
		Memory: c.memory.Bytes(),
	}
	if err := snapshot.Write(w, s); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// LoadState restores a state written by SaveState and flushes the code
// cache. The RAM size must match.
func (c *Core) LoadState(r io.Reader) error {
	s, err := snapshot.Read(r)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	if len(s.Memory) != c.memory.Size() {
		return fmt.Errorf("failed to load state: %d bytes of memory, core has %d: %w",
			len(s.Memory), c.memory.Size(), snapshot.ErrFormat)
	}

	c.regs.R = s.Regs
	copy(c.memory.Bytes(), s.Memory)
	c.intc.SetLines(emu.Line(s.Lines))
	c.Flush()

	c.logger.Debug("loaded state", "pc", c.regs.NextPC(), "mode", c.regs.Mode())
	return nil
}
