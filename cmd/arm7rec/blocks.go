package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/sarchlab/arm7rec/block"
	"github.com/sarchlab/arm7rec/ir"
	"github.com/sarchlab/arm7rec/jit"
)

func newBlocksCmd(opts *options) *cobra.Command {
	var (
		start string
		depth int
		ops   bool
	)

	cmd := &cobra.Command{
		Use:   "blocks <program>",
		Short: "Print the tree of blocks reachable through direct branches",
		Args:  cobra.ExactArgs(1),
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

			tree := treeprint.New()
			tree.SetValue(fmt.Sprintf("%s (entry %#08x)", args[0], prog.Entry))
			addBlock(tree, jc, pc, depth, ops, make(map[uint32]bool))
			_, err = fmt.Fprint(cmd.OutOrStdout(), tree.String())
			return err
		},
	}

	cmd.Flags().StringVar(&start, "pc", "", "Start address (default: entry point)")
	cmd.Flags().IntVar(&depth, "depth", 8, "Maximum branch depth to follow")
	cmd.Flags().BoolVar(&ops, "ops", false, "List the ops of each block")
	return cmd
}

// addBlock adds the block at pc and, up to depth levels, the blocks it
// branches to. Blocks already shown are listed without children.
func addBlock(t treeprint.Tree, jc *jit.Core, pc uint32, depth int, ops bool, seen map[uint32]bool) {
	blk := jc.Block(pc)
	label := fmt.Sprintf("%#08x  %d insts, %d cycles", pc, blk.Length, blk.Cycles)
	if seen[pc] {
		t.AddNode(label + " (seen)")
		return
	}
	seen[pc] = true

	branch := t.AddBranch(label)
	if ops {
		for i := range blk.Ops {
			branch.AddNode(fmt.Sprintf("%#08x  %s", blk.Ops[i].PC, blk.Ops[i].String()))
		}
	}
	if depth <= 0 {
		return
	}
	for _, next := range successors(blk) {
		addBlock(branch, jc, next, depth-1, ops, seen)
	}
}

// successors returns the statically known addresses control may reach from
// the end of blk. Indirect branches have none.
func successors(blk *block.Block) []uint32 {
	last := blk.Ops[len(blk.Ops)-1]
	if last.Type != ir.B && last.Type != ir.BL {
		return nil
	}

	next := []uint32{last.Args[0].Imm}
	if (last.Cond != ir.AL || last.Type == ir.BL) && blk.End() != next[0] {
		next = append(next, blk.End())
	}
	return next
}

func parseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}
