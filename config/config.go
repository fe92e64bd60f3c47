// Package config holds the top-level JSON configuration of a simulation:
// backend choice, guest memory, scheduling and timing.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/sarchlab/arm7rec/block"
	"github.com/sarchlab/arm7rec/codebuf"
	"github.com/sarchlab/arm7rec/emu"
	"github.com/sarchlab/arm7rec/jit"
	"github.com/sarchlab/arm7rec/timing/cache"
	"github.com/sarchlab/arm7rec/timing/core"
	"github.com/sarchlab/arm7rec/timing/latency"
)

// Config is the simulation configuration.
type Config struct {
	// Backend names the code generator. Default: "closure".
	Backend string `json:"backend"`

	// MemorySize is the guest RAM size in bytes, a power of two. The entry
	// table has one slot per word. Default: 2MB.
	MemorySize int `json:"memory_size"`

	// CodeBufferSize is the size of the native code buffer. Default: 4MB.
	CodeBufferSize int `json:"code_buffer_size"`

	// MaxBlockOps caps the guest instructions per block. Default: 32.
	MaxBlockOps int `json:"max_block_ops"`

	// LoadAddress is where raw binary images are placed. Default: 0x8000.
	LoadAddress uint32 `json:"load_address"`

	// SliceCycles is the budget of one scheduler slice. Default: 10000.
	SliceCycles uint64 `json:"slice_cycles"`

	// TimerPeriod is the period of the timer interrupt in cycles; zero
	// disables it. Default: 0.
	TimerPeriod uint64 `json:"timer_period"`

	// TimerLine is "irq" or "fiq". Default: "irq".
	TimerLine string `json:"timer_line"`

	// Latency is the instruction cost model.
	Latency *latency.TimingConfig `json:"latency"`

	// Cache enables the data cache wait-state model when set.
	Cache *cache.Config `json:"cache,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Backend:        "closure",
		MemorySize:     emu.DefaultMemorySize,
		CodeBufferSize: codebuf.DefaultSize,
		MaxBlockOps:    block.DefaultMaxOps,
		LoadAddress:    0x8000,
		SliceCycles:    core.DefaultSliceCycles,
		TimerLine:      "irq",
		Latency:        latency.DefaultTimingConfig(),
	}
}

// Load reads a configuration file. Fields missing from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	c := Default()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if c.Latency == nil {
		c.Latency = latency.DefaultTimingConfig()
	}

	return c, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for values the simulator cannot use.
func (c *Config) Validate() error {
	if !slices.Contains(jit.BackendNames, c.Backend) {
		return fmt.Errorf("backend must be one of %v, got %q", jit.BackendNames, c.Backend)
	}
	if c.MemorySize < 1024 || c.MemorySize&(c.MemorySize-1) != 0 {
		return fmt.Errorf("memory_size must be a power of two >= 1024, got %d", c.MemorySize)
	}
	if c.CodeBufferSize < 64*1024 {
		return fmt.Errorf("code_buffer_size must be >= 64KB")
	}
	if c.MaxBlockOps <= 0 {
		return fmt.Errorf("max_block_ops must be > 0")
	}
	if c.LoadAddress&3 != 0 || int(c.LoadAddress) >= c.MemorySize {
		return fmt.Errorf("load_address must be word aligned and inside memory")
	}
	if c.SliceCycles == 0 || c.SliceCycles > 1<<30 {
		return fmt.Errorf("slice_cycles must be in (0, 2^30]")
	}
	if _, err := c.timerLine(); err != nil {
		return err
	}
	if c.Latency == nil {
		return fmt.Errorf("latency config is required")
	}
	if err := c.Latency.Validate(); err != nil {
		return fmt.Errorf("invalid latency config: %w", err)
	}
	if c.Cache != nil {
		if err := c.Cache.Validate(); err != nil {
			return fmt.Errorf("invalid cache config: %w", err)
		}
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Latency != nil {
		clone.Latency = c.Latency.Clone()
	}
	if c.Cache != nil {
		cfg := *c.Cache
		clone.Cache = &cfg
	}
	return &clone
}

// TableSize returns the number of entry table slots.
func (c *Config) TableSize() int {
	return c.MemorySize / 4
}

func (c *Config) timerLine() (emu.Line, error) {
	switch c.TimerLine {
	case "", "irq":
		return emu.LineIRQ, nil
	case "fiq":
		return emu.LineFIQ, nil
	}
	return 0, fmt.Errorf("timer_line must be irq or fiq, got %q", c.TimerLine)
}

// NewCore creates a translator core from the configuration. extra options
// are applied last.
func (c *Config) NewCore(extra ...jit.Option) (*jit.Core, error) {
	mem, err := emu.NewMemory(c.MemorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory: %w", err)
	}

	opts := []jit.Option{
		jit.WithMemory(mem),
		jit.WithBackendName(c.Backend),
		jit.WithCodeBufferSize(c.CodeBufferSize),
		jit.WithMaxBlockOps(c.MaxBlockOps),
		jit.WithLatencyTable(latency.NewTableWithConfig(c.Latency)),
	}
	if c.Cache != nil {
		opts = append(opts, jit.WithCache(*c.Cache))
	}

	return jit.New(append(opts, extra...)...)
}

// NewScheduler creates the scheduler for a core made by NewCore. When the
// timer is enabled its line is made edge-triggered.
func (c *Config) NewScheduler(jc *jit.Core) (*core.Scheduler, error) {
	opts := []core.Option{core.WithSliceCycles(c.SliceCycles)}

	if c.TimerPeriod != 0 {
		line, err := c.timerLine()
		if err != nil {
			return nil, err
		}
		intc := jc.IntController()
		intc.SetEdgeTriggered(line)
		opts = append(opts, core.WithTimer(intc, line, c.TimerPeriod))
	}

	return core.NewScheduler(jc, opts...), nil
}
