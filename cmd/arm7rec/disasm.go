package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"github.com/sarchlab/arm7rec/backend/amd64"
	"github.com/sarchlab/arm7rec/backend/arm64"
	"github.com/sarchlab/arm7rec/backend/native"
	"github.com/sarchlab/arm7rec/block"
)

func newDisasmCmd(opts *options) *cobra.Command {
	var (
		arch  string
		start string
		count int
		stubs bool
	)

	cmd := &cobra.Command{
		Use:   "disasm <program>",
		Short: "Show the host code generated for guest blocks",
		Long: "Translates blocks starting at the entry point and disassembles the " +
			"generated code. Stub addresses are zero, so calls and jumps into the " +
			"runtime show as relative to address zero.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			jc, prog, err := loadGuest(cfg, args[0], opts.logger(cmd))
			if err != nil {
				return err
			}
			defer func() { _ = jc.Close() }()

			pc := prog.Entry
			if start != "" {
				if pc, err = parseAddr(start); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if stubs {
				if err := printStubs(out, arch); err != nil {
					return err
				}
			}
			for i := 0; i < count; i++ {
				blk := jc.Block(pc)
				if err := printBlock(out, arch, blk); err != nil {
					return err
				}
				pc = blk.End()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&arch, "arch", defaultArch(), "Host architecture: amd64 or arm64")
	cmd.Flags().StringVar(&start, "pc", "", "Start address (default: entry point)")
	cmd.Flags().IntVar(&count, "count", 1, "Number of consecutive blocks")
	cmd.Flags().BoolVar(&stubs, "stubs", false, "Also show the entry, dispatch and exit stubs")
	return cmd
}

func defaultArch() string {
	if runtime.GOARCH == arm64.Name {
		return arm64.Name
	}
	return amd64.Name
}

// assemble generates host code for a linearized block without installing
// it.
func assemble(arch string, blk *block.Block) ([]byte, error) {
	switch arch {
	case amd64.Name:
		return amd64.Assemble(blk, 0, 0)
	case arm64.Name:
		return arm64.Assemble(blk, 0, 0)
	}
	return nil, fmt.Errorf("unknown architecture %q", arch)
}

func printBlock(w io.Writer, arch string, blk *block.Block) error {
	_, _ = fmt.Fprint(w, blk.String())

	code, err := assemble(arch, blk)
	if err != nil {
		return fmt.Errorf("failed to assemble block %#08x: %w", blk.PC, err)
	}
	_, _ = fmt.Fprintf(w, "%s code (%d bytes):\n", arch, len(code))
	return disassemble(w, arch, code)
}

func printStubs(w io.Writer, arch string) error {
	var (
		s   native.Stubs
		err error
	)
	switch arch {
	case amd64.Name:
		s, err = amd64.Stubs()
	case arm64.Name:
		s, err = arm64.Stubs()
	default:
		return fmt.Errorf("unknown architecture %q", arch)
	}
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(w, "stubs: entry %#x, dispatch %#x, exit %#x\n", s.Entry, s.Dispatch, s.Exit)
	return disassemble(w, arch, s.Code)
}

func disassemble(w io.Writer, arch string, code []byte) error {
	for off := 0; off < len(code); {
		var (
			text string
			size int
		)

		switch arch {
		case amd64.Name:
			inst, err := x86asm.Decode(code[off:], 64)
			if err != nil {
				text, size = fmt.Sprintf(".byte %#02x", code[off]), 1
			} else {
				text, size = x86asm.IntelSyntax(inst, uint64(off), nil), inst.Len
			}
		case arm64.Name:
			if off+4 > len(code) {
				return fmt.Errorf("truncated arm64 code at %#x", off)
			}
			inst, err := arm64asm.Decode(code[off : off+4])
			if err != nil {
				text = fmt.Sprintf(".word %#08x", binary.LittleEndian.Uint32(code[off:]))
			} else {
				text = arm64asm.GNUSyntax(inst)
			}
			size = 4
		default:
			return fmt.Errorf("unknown architecture %q", arch)
		}

		if _, err := fmt.Fprintf(w, "  %6x  %s\n", off, text); err != nil {
			return err
		}
		off += size
	}
	return nil
}
