// Package latency provides the cycle cost model charged against the
// scheduler's budget.
//
// Costs are estimates for budget accounting only; they never affect the
// results of guest code. The values follow the ARM7TDMI datasheet and can be
// configured via TimingConfig.
package latency

import (
	"math/bits"

	"github.com/sarchlab/arm7rec/ir"
)

// Table provides instruction latency lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a new latency table with default ARM7 timing values.
func NewTable() *Table {
	return &Table{
		config: DefaultTimingConfig(),
	}
}

// NewTableWithConfig creates a new latency table with custom timing configuration.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{
		config: config,
	}
}

// GetLatency returns the cost in cycles of the given op. Fallback ops are
// classified from their raw instruction word.
func (t *Table) GetLatency(op *ir.Op) uint64 {
	if op == nil {
		return 1
	}

	var cost uint64
	switch op.Type {
	case ir.LDR:
		cost = t.config.LoadLatency
	case ir.STR:
		cost = t.config.StoreLatency
	case ir.B, ir.BL:
		cost = t.config.BranchLatency
	case ir.MRS, ir.MSR:
		cost = t.config.PSRLatency
	case ir.FALLBACK:
		cost = t.rawLatency(op.Raw)
	default:
		cost = t.config.ALULatency
		if op.Args[1].IsReg() && op.Args[1].ShiftByReg {
			cost += t.config.ShiftByRegisterPenalty
		}
	}

	if op.WritesPC {
		cost += t.config.PipelineRefillPenalty
	}
	return cost
}

// rawLatency classifies an instruction the translator does not model.
func (t *Table) rawLatency(raw uint32) uint64 {
	switch {
	case raw>>28 == 0xF:
		return 1
	case raw&0x0FC000F0 == 0x00000090:
		return t.config.MultiplyLatency
	case raw&0x0F8000F0 == 0x00800090:
		return t.config.MultiplyLongLatency
	case raw&0x0FB00FF0 == 0x01000090:
		return t.config.SwapLatency
	case raw&0x0FFFFFF0 == 0x012FFF10:
		return t.config.BranchLatency
	case raw&0x0E000090 == 0x00000090:
		if raw&(1<<20) != 0 {
			return t.config.LoadLatency
		}
		return t.config.StoreLatency
	case raw&0x0C000000 == 0:
		return t.config.ALULatency
	case raw&0x0C000000 == 0x04000000:
		if raw&(1<<20) != 0 {
			return t.config.LoadLatency
		}
		return t.config.StoreLatency
	case raw&0x0E000000 == 0x08000000:
		n := uint64(bits.OnesCount32(raw & 0xFFFF))
		return t.config.BlockTransferLatency + n*t.config.PerRegisterLatency
	}
	return t.config.ExceptionLatency
}

// IsMemoryOp returns true if the op accesses guest memory.
func (t *Table) IsMemoryOp(op *ir.Op) bool {
	if op == nil {
		return false
	}
	return op.IsMemory()
}

// IsLoadOp returns true if the op is a load.
func (t *Table) IsLoadOp(op *ir.Op) bool {
	if op == nil {
		return false
	}
	return op.Type == ir.LDR
}

// IsStoreOp returns true if the op is a store.
func (t *Table) IsStoreOp(op *ir.Op) bool {
	if op == nil {
		return false
	}
	return op.Type == ir.STR
}

// IsBranchOp returns true if the op redirects control flow.
func (t *Table) IsBranchOp(op *ir.Op) bool {
	if op == nil {
		return false
	}
	return op.WritesPC
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
