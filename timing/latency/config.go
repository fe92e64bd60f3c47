package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// TimingConfig holds cycle costs for the different instruction classes.
// Values follow the ARM7TDMI datasheet with zero-wait-state memory: a
// sequential or non-sequential access and an internal cycle each count as
// one cycle.
type TimingConfig struct {
	// ALULatency is the cost of a data-processing op. Default: 1 cycle.
	ALULatency uint64 `json:"alu_latency"`

	// ShiftByRegisterPenalty is the extra internal cycle taken when
	// operand 2 is shifted by a register. Default: 1 cycle.
	ShiftByRegisterPenalty uint64 `json:"shift_by_register_penalty"`

	// PipelineRefillPenalty is added to any op that writes the PC, for
	// the two fetches that refill the pipeline. Default: 2 cycles.
	PipelineRefillPenalty uint64 `json:"pipeline_refill_penalty"`

	// BranchLatency is the cost of B and BL before the refill penalty.
	// Default: 1 cycle.
	BranchLatency uint64 `json:"branch_latency"`

	// LoadLatency is the cost of LDR/LDRB/LDRH (S + N + I). Default: 3 cycles.
	LoadLatency uint64 `json:"load_latency"`

	// StoreLatency is the cost of STR/STRB/STRH (2N). Default: 2 cycles.
	StoreLatency uint64 `json:"store_latency"`

	// BlockTransferLatency is the fixed part of LDM/STM; each transferred
	// register adds PerRegisterLatency. Default: 2 cycles.
	BlockTransferLatency uint64 `json:"block_transfer_latency"`

	// PerRegisterLatency is the cost of each register moved by LDM/STM.
	// Default: 1 cycle.
	PerRegisterLatency uint64 `json:"per_register_latency"`

	// MultiplyLatency is the typical cost of MUL/MLA. The hardware takes
	// 2 to 5 cycles depending on the multiplier value. Default: 3 cycles.
	MultiplyLatency uint64 `json:"multiply_latency"`

	// MultiplyLongLatency is the typical cost of the 64-bit multiplies.
	// Default: 4 cycles.
	MultiplyLongLatency uint64 `json:"multiply_long_latency"`

	// SwapLatency is the cost of SWP/SWPB (S + 2N + I). Default: 4 cycles.
	SwapLatency uint64 `json:"swap_latency"`

	// PSRLatency is the cost of MRS and MSR. Default: 1 cycle.
	PSRLatency uint64 `json:"psr_latency"`

	// ExceptionLatency is the cost of SWI and undefined instructions before
	// the refill penalty. Default: 1 cycle.
	ExceptionLatency uint64 `json:"exception_latency"`
}

// DefaultTimingConfig returns a TimingConfig with ARM7TDMI default values.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		ALULatency:             1,
		ShiftByRegisterPenalty: 1,
		PipelineRefillPenalty:  2,
		BranchLatency:          1,
		LoadLatency:            3,
		StoreLatency:           2,
		BlockTransferLatency:   2,
		PerRegisterLatency:     1,
		MultiplyLatency:        3,
		MultiplyLongLatency:    4,
		SwapLatency:            4,
		PSRLatency:             1,
		ExceptionLatency:       1,
	}
}

// LoadConfig loads a TimingConfig from a JSON file.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks that every instruction class costs at least one cycle,
// so each executed block consumes budget.
func (c *TimingConfig) Validate() error {
	if c.ALULatency == 0 {
		return fmt.Errorf("alu_latency must be > 0")
	}
	if c.BranchLatency == 0 {
		return fmt.Errorf("branch_latency must be > 0")
	}
	if c.LoadLatency == 0 {
		return fmt.Errorf("load_latency must be > 0")
	}
	if c.StoreLatency == 0 {
		return fmt.Errorf("store_latency must be > 0")
	}
	if c.BlockTransferLatency == 0 {
		return fmt.Errorf("block_transfer_latency must be > 0")
	}
	if c.MultiplyLatency == 0 || c.MultiplyLongLatency == 0 {
		return fmt.Errorf("multiply latencies must be > 0")
	}
	if c.SwapLatency == 0 {
		return fmt.Errorf("swap_latency must be > 0")
	}
	if c.PSRLatency == 0 {
		return fmt.Errorf("psr_latency must be > 0")
	}
	if c.ExceptionLatency == 0 {
		return fmt.Errorf("exception_latency must be > 0")
	}
	return nil
}

// Clone returns a deep copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c
	return &clone
}
