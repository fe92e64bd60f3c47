// Command arm7rec runs ARM7 guest programs on the dynamic binary translator.
//
// Usage:
//
//	arm7rec run [--config cfg.json] [--backend native] program.elf
//	arm7rec blocks program.bin
//	arm7rec disasm --arch amd64 program.bin
//	arm7rec bench --csv
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarchlab/arm7rec/config"
	"github.com/sarchlab/arm7rec/ir"
	"github.com/sarchlab/arm7rec/jit"
	"github.com/sarchlab/arm7rec/loader"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the flags shared by all subcommands.
type options struct {
	configPath string
	backend    string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "arm7rec",
		Short:        "ARM7 dynamic binary translator",
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to JSON configuration file")
	flags.StringVar(&opts.backend, "backend", "", "Code generator: closure, native, amd64 or arm64")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newBlocksCmd(opts),
		newDisasmCmd(opts),
		newBenchCmd(opts),
	)
	return rootCmd
}

// config loads the configuration file, if any, and applies flag overrides.
func (o *options) config() (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.backend != "" {
		cfg.Backend = o.backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (o *options) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// loadGuest creates a core and loads the program at path into it. SP starts
// at the top of RAM.
func loadGuest(cfg *config.Config, path string, logger *slog.Logger) (*jit.Core, *loader.Program, error) {
	prog, err := loader.Open(path, cfg.LoadAddress)
	if err != nil {
		return nil, nil, err
	}

	jc, err := cfg.NewCore(jit.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	if err := prog.LoadInto(jc.Memory()); err != nil {
		_ = jc.Close()
		return nil, nil, err
	}
	jc.Flush()

	regs := jc.RegFile()
	regs.Write(ir.SP, uint32(jc.Memory().Size()))
	regs.SetNextPC(prog.Entry)

	logger.Debug("loaded program",
		"path", path, "entry", fmt.Sprintf("%#08x", prog.Entry),
		"segments", len(prog.Segments), "backend", jc.Backend().Name())
	return jc, prog, nil
}
