package emu

import (
	"fmt"

	"github.com/sarchlab/arm7rec/insts"
	"github.com/sarchlab/arm7rec/ir"
	"github.com/sarchlab/arm7rec/timing/latency"
)

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// PC is the address of the instruction executed.
	PC uint32

	// Raw is the instruction word executed.
	Raw uint32

	// Cycles is the cost charged for the step.
	Cycles uint64

	// Interrupted is true if the step delivered an interrupt instead of
	// executing an instruction.
	Interrupted bool
}

// Emulator executes ARM7 code one instruction at a time. It is the
// reference model the translator is checked against.
type Emulator struct {
	regFile *RegFile
	memory  *Memory
	bus     Bus
	intc    *IntController

	interp  *Interpreter
	decoder *insts.Decoder
	latency *latency.Table

	// Execution state
	instructionCount uint64
	cycleCount       uint64
	maxInstructions  uint64 // 0 means no limit
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithMemory sets the guest RAM.
func WithMemory(m *Memory) EmulatorOption {
	return func(e *Emulator) {
		e.memory = m
	}
}

// WithBus routes guest accesses through bus instead of the RAM directly,
// for example through a wait-state model.
func WithBus(bus Bus) EmulatorOption {
	return func(e *Emulator) {
		e.bus = bus
	}
}

// WithLatencyTable sets the cycle cost model.
func WithLatencyTable(t *latency.Table) EmulatorOption {
	return func(e *Emulator) {
		e.latency = t
	}
}

// WithStackPointer sets the initial stack pointer of the reset mode.
func WithStackPointer(sp uint32) EmulatorOption {
	return func(e *Emulator) {
		e.regFile.Write(ir.SP, sp)
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// NewEmulator creates a new ARM7 emulator.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		regFile: NewRegFile(),
		decoder: insts.NewDecoder(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.memory == nil {
		e.memory = MustNewMemory(DefaultMemorySize)
	}
	if e.bus == nil {
		e.bus = e.memory
	}
	if e.latency == nil {
		e.latency = latency.NewTable()
	}
	e.intc = NewIntController(e.regFile)
	e.interp = NewInterpreter(e.regFile, e.bus)

	return e
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// Memory returns the emulator's RAM.
func (e *Emulator) Memory() *Memory {
	return e.memory
}

// IntController returns the interrupt controller.
func (e *Emulator) IntController() *IntController {
	return e.intc
}

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// CycleCount returns the number of cycles charged so far.
func (e *Emulator) CycleCount() uint64 {
	return e.cycleCount
}

// LoadProgram copies program into memory at entry and starts execution
// there.
func (e *Emulator) LoadProgram(entry uint32, program []byte) {
	e.memory.LoadProgram(entry, program)
	e.regFile.SetNextPC(entry)
}

// Reset puts the core into its reset state and clears the RAM.
func (e *Emulator) Reset() {
	e.regFile.Reset()
	e.memory.Clear()
	e.intc.Update()
	e.instructionCount = 0
	e.cycleCount = 0
}

// Step delivers a pending interrupt or executes a single instruction.
func (e *Emulator) Step() StepResult {
	if e.intc.Pending() {
		e.intc.Deliver()
		return StepResult{PC: e.regFile.NextPC(), Interrupted: true}
	}

	pc := e.regFile.NextPC()
	raw := e.bus.Read32(pc)
	op := e.decoder.Decode(raw, pc)
	cost := e.latency.GetLatency(&op)

	e.regFile.SetNextPC(pc + 4)
	e.interp.Interpret(raw)

	e.instructionCount++
	e.cycleCount += cost

	return StepResult{PC: pc, Raw: raw, Cycles: cost}
}

// Run adds budget to the cycle counter and executes until it is used up.
// It returns an error if the instruction limit is reached.
func (e *Emulator) Run(budget int32) error {
	e.regFile.AddCycles(budget)
	for e.regFile.Cycles() > 0 {
		if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
			return fmt.Errorf("max instructions reached")
		}
		result := e.Step()
		e.regFile.AddCycles(-int32(result.Cycles))
	}
	return nil
}
