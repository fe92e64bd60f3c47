package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/arm7rec/benchmarks"
)

func newBenchCmd(opts *options) *cobra.Command {
	var (
		csv       bool
		engines   []string
		maxCycles uint64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run the microbenchmarks on the interpreter and the translator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config := benchmarks.DefaultConfig()
			config.Output = cmd.OutOrStdout()
			config.MaxCycles = maxCycles
			config.Engines = engines
			if opts.backend != "" {
				config.Engines = []string{benchmarks.EngineInterpreter, opts.backend}
			}

			harness := benchmarks.NewHarness(config)
			harness.AddBenchmarks(benchmarks.GetMicrobenchmarks())

			results, err := harness.RunAll()
			if err != nil {
				return err
			}

			if csv {
				harness.PrintCSV(results)
			} else {
				harness.PrintResults(results)
			}

			failed := 0
			byName := make(map[string]benchmarks.Benchmark)
			for _, b := range benchmarks.GetMicrobenchmarks() {
				byName[b.Name] = b
			}
			for _, r := range results {
				if !r.Passed(byName[r.Name]) {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs produced a wrong result", failed, len(results))
			}
			return nil
		},
	}

	defaults := benchmarks.DefaultConfig()
	cmd.Flags().BoolVar(&csv, "csv", false, "Output results in CSV format")
	cmd.Flags().StringSliceVar(&engines, "engines", defaults.Engines, "Engines to compare: interp and backend names")
	cmd.Flags().Uint64Var(&maxCycles, "max-cycles", defaults.MaxCycles, "Cycle limit per run")
	return cmd
}
