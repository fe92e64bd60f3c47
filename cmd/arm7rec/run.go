package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sarchlab/arm7rec/backend"
	"github.com/sarchlab/arm7rec/insts"
	"github.com/sarchlab/arm7rec/ir"
	"github.com/sarchlab/arm7rec/jit"
	"github.com/sarchlab/arm7rec/timing/core"
)

// DefaultRunCycles bounds a run when --cycles is not given.
const DefaultRunCycles = 100_000_000

type runOptions struct {
	cycles    uint64
	loadState string
	saveState string
}

func newRunCmd(opts *options) *cobra.Command {
	ro := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <program>",
		Short: "Run a guest program until it branches to itself",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(cmd, opts, ro, args[0])
		},
	}

	cmd.Flags().Uint64Var(&ro.cycles, "cycles", DefaultRunCycles, "Maximum guest cycles to run")
	cmd.Flags().StringVar(&ro.loadState, "load-state", "", "Resume from a snapshot file")
	cmd.Flags().StringVar(&ro.saveState, "save-state", "", "Write a snapshot file when the run ends")
	return cmd
}

func runProgram(cmd *cobra.Command, opts *options, ro *runOptions, path string) error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	logger := opts.logger(cmd)

	jc, _, err := loadGuest(cfg, path, logger)
	if err != nil {
		return err
	}
	defer func() { _ = jc.Close() }()

	if ro.loadState != "" {
		if err := loadState(jc, ro.loadState); err != nil {
			return err
		}
	}

	s, err := cfg.NewScheduler(jc)
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.RunUntil(ro.cycles, func() bool { return halted(jc) })
	wall := time.Since(start)
	if err != nil {
		return err
	}

	if ro.saveState != "" {
		if err := saveState(jc, ro.saveState); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	printStats(out, jc, s, wall)
	printRegisters(out, jc)

	if !halted(jc) {
		return fmt.Errorf("program did not halt within %d cycles", ro.cycles)
	}
	return nil
}

// halted reports whether the core is parked on a branch to itself.
func halted(jc *jit.Core) bool {
	pc := jc.RegFile().NextPC()
	return jc.Memory().Read32(pc) == insts.Branch(false, pc, pc)
}

func loadState(jc *jit.Core, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()
	return jc.LoadState(f)
}

func saveState(jc *jit.Core, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	if err := jc.SaveState(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func printStats(w io.Writer, jc *jit.Core, s *core.Scheduler, wall time.Duration) {
	st := jc.Stats()
	ss := s.Stats()
	consumed := int64(s.Now()) - int64(jc.RegFile().Cycles())

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	rows := [][2]string{
		{"backend", jc.Backend().Name()},
		{"cycles", fmt.Sprintf("%d", consumed)},
		{"slices", fmt.Sprintf("%d", ss.Slices)},
		{"timer interrupts", fmt.Sprintf("%d", ss.TimerInterrupts)},
		{"interrupts delivered", fmt.Sprintf("%d", st.InterruptsDelivered)},
		{"blocks compiled", fmt.Sprintf("%d", st.BlocksCompiled)},
		{"guest instructions compiled", fmt.Sprintf("%d", st.GuestInstructions)},
		{"fallback ops", fmt.Sprintf("%d", st.FallbackOps)},
		{"interpreted", fmt.Sprintf("%d", st.Interpreted)},
		{"code size", fmt.Sprintf("%d", st.CodeSize)},
		{"dispatches", fmt.Sprintf("%d", st.Dispatches())},
		{"misses", fmt.Sprintf("%d", st.Exits[backend.ExitMiss])},
		{"flushes", fmt.Sprintf("%d", st.Flushes)},
		{"invalidations", fmt.Sprintf("%d", st.Invalidations)},
		{"wait cycles", fmt.Sprintf("%d", st.WaitCycles)},
		{"wall time", wall.Round(time.Microsecond).String()},
	}
	for _, r := range rows {
		table.Append(r[:])
	}
	table.Render()
}

func printRegisters(w io.Writer, jc *jit.Core) {
	regs := jc.RegFile()

	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"reg", "value", "reg", "value", "reg", "value", "reg", "value"})

	for row := 0; row < 4; row++ {
		var line []string
		for col := 0; col < 4; col++ {
			r := ir.Reg(4*col + row)
			v := regs.Read(r)
			if r == ir.PC {
				v = regs.NextPC()
			}
			line = append(line, r.String(), fmt.Sprintf("%08x", v))
		}
		table.Append(line)
	}
	table.SetFooter([]string{"", "", "", "", "", "cpsr",
		fmt.Sprintf("%08x", regs.ReadPSR(false)), regs.Mode().String()})
	table.Render()
}
