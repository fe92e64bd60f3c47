package benchmarks

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/sarchlab/arm7rec/emu"
	"github.com/sarchlab/arm7rec/jit"
	"github.com/sarchlab/arm7rec/timing/core"
)

// EngineInterpreter names the reference interpreter in results.
const EngineInterpreter = "interp"

// MemorySize is the guest RAM of a benchmark run.
const MemorySize = 256 * 1024

// Benchmark defines a single guest workload.
type Benchmark struct {
	// Name identifies the benchmark.
	Name string

	// Description explains what the benchmark measures.
	Description string

	// Setup prepares registers and memory before the program starts.
	Setup func(regFile *emu.RegFile, memory *emu.Memory)

	// Program is the ARM machine code, loaded at ProgramBase.
	Program []byte

	// Halt is the address of the final branch-to-self.
	Halt uint32

	// ExpectedR0 is the value of R0 at the halt address.
	ExpectedR0 uint32
}

// BenchmarkResult holds the outcome of one benchmark on one engine.
type BenchmarkResult struct {
	Name   string
	Engine string

	// Cycles is the guest cycle count until the halt address was reached.
	Cycles uint64
	// R0 is the value of R0 at the end of the run.
	R0 uint32
	// Halted is false when the cycle limit was hit first.
	Halted bool
	// WallTime is the host time taken by the run.
	WallTime time.Duration
	// Compiled is the number of blocks translated (zero for the interpreter).
	Compiled uint64
}

// Passed reports whether the run reached the halt address with the
// expected result.
func (r BenchmarkResult) Passed(b Benchmark) bool {
	return r.Halted && r.R0 == b.ExpectedR0
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// Engines lists what to run: EngineInterpreter and backend names.
	Engines []string

	// MaxCycles bounds each run.
	MaxCycles uint64

	// SliceCycles is the scheduler slice; the halt address is checked
	// after each slice.
	SliceCycles uint64

	// Output is where to write results (default: os.Stdout).
	Output io.Writer
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		Engines:     []string{EngineInterpreter, "closure"},
		MaxCycles:   10_000_000,
		SliceCycles: 1000,
		Output:      os.Stdout,
	}
}

// Harness runs benchmarks on several engines and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.SliceCycles == 0 {
		config.SliceCycles = core.DefaultSliceCycles
	}
	return &Harness{config: config}
}

// AddBenchmarks adds benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// RunAll runs every benchmark on every engine.
func (h *Harness) RunAll() ([]BenchmarkResult, error) {
	var results []BenchmarkResult
	for _, b := range h.benchmarks {
		for _, engine := range h.config.Engines {
			r, err := h.Run(b, engine)
			if err != nil {
				return nil, err
			}
			results = append(results, r)
		}
	}
	return results, nil
}

// Run executes one benchmark on one engine.
func (h *Harness) Run(b Benchmark, engine string) (BenchmarkResult, error) {
	mem := emu.MustNewMemory(MemorySize)

	var (
		runner   core.Runner
		regs     *emu.RegFile
		compiled func() uint64
	)

	if engine == EngineInterpreter {
		e := emu.NewEmulator(emu.WithMemory(mem))
		e.LoadProgram(ProgramBase, b.Program)
		runner, regs = e, e.RegFile()
		compiled = func() uint64 { return 0 }
	} else {
		c, err := jit.New(jit.WithMemory(mem), jit.WithBackendName(engine))
		if err != nil {
			return BenchmarkResult{}, fmt.Errorf("failed to create %s core: %w", engine, err)
		}
		defer func() { _ = c.Close() }()
		c.LoadProgram(ProgramBase, b.Program)
		runner, regs = c, c.RegFile()
		compiled = func() uint64 { return c.Stats().BlocksCompiled }
	}

	if b.Setup != nil {
		b.Setup(regs, mem)
	}

	s := core.NewScheduler(runner, core.WithSliceCycles(h.config.SliceCycles))
	halted := func() bool { return regs.NextPC() == b.Halt }

	start := time.Now()
	if err := s.RunUntil(h.config.MaxCycles, halted); err != nil {
		return BenchmarkResult{}, fmt.Errorf("benchmark %s on %s: %w", b.Name, engine, err)
	}
	wall := time.Since(start)

	return BenchmarkResult{
		Name:     b.Name,
		Engine:   engine,
		Cycles:   uint64(int64(s.Now()) - int64(regs.Cycles())),
		R0:       regs.Read(0),
		Halted:   halted(),
		WallTime: wall,
		Compiled: compiled(),
	}, nil
}

// PrintResults writes a table of results, with the speed of each engine
// relative to the interpreter.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	base := make(map[string]time.Duration)
	for _, r := range results {
		if r.Engine == EngineInterpreter {
			base[r.Name] = r.WallTime
		}
	}

	table := tablewriter.NewWriter(h.config.Output)
	table.SetHeader([]string{"Benchmark", "Engine", "Cycles", "R0", "Blocks", "Wall time", "MCycles/s", "Speedup"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	for _, r := range results {
		speedup := "-"
		if t, ok := base[r.Name]; ok && r.WallTime > 0 {
			speedup = fmt.Sprintf("%.1fx", float64(t)/float64(r.WallTime))
		}
		rate := "-"
		if r.WallTime > 0 {
			rate = fmt.Sprintf("%.1f", float64(r.Cycles)/r.WallTime.Seconds()/1e6)
		}
		r0 := fmt.Sprintf("%d", r.R0)
		if !r.Halted {
			r0 += " (no halt)"
		}
		table.Append([]string{
			r.Name, r.Engine,
			fmt.Sprintf("%d", r.Cycles), r0,
			fmt.Sprintf("%d", r.Compiled),
			r.WallTime.Round(time.Microsecond).String(),
			rate, speedup,
		})
	}
	table.Render()
}

// PrintCSV writes results in CSV format.
func (h *Harness) PrintCSV(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output, "name,engine,cycles,r0,halted,blocks,wall_time_ns")
	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "%s,%s,%d,%d,%t,%d,%d\n",
			r.Name, r.Engine, r.Cycles, r.R0, r.Halted, r.Compiled, r.WallTime.Nanoseconds())
	}
}
