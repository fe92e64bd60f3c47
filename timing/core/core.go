// Package core provides the time-slice scheduler that drives a guest core.
//
// The scheduler hands the core a cycle budget per slice. A periodic timer
// raises an interrupt line at slice boundaries; the core takes it between
// blocks.
package core

import (
	"fmt"

	"github.com/sarchlab/arm7rec/emu"
)

// DefaultSliceCycles is the budget of one slice when none is configured.
const DefaultSliceCycles = 10000

// Runner is a guest core that runs for a cycle budget. *jit.Core and
// *emu.Emulator are Runners.
type Runner interface {
	Run(budget int32) error
}

// Interrupts is the interrupt controller the timer drives. The timer line
// should be edge-triggered so that taking the interrupt clears it.
type Interrupts interface {
	Assert(l emu.Line)
}

// Stats holds scheduler statistics.
type Stats struct {
	// Cycles is the total budget handed to the core.
	Cycles uint64
	// Slices is the number of Run calls made.
	Slices uint64
	// TimerInterrupts is the number of timer events raised.
	TimerInterrupts uint64
}

// Scheduler runs a core in slices.
type Scheduler struct {
	core  Runner
	slice uint64

	irq         Interrupts
	timerLine   emu.Line
	timerPeriod uint64
	nextTimer   uint64

	stats Stats
}

// Option is a functional option for configuring the Scheduler.
type Option func(*Scheduler)

// WithSliceCycles sets the budget per slice.
func WithSliceCycles(n uint64) Option {
	return func(s *Scheduler) {
		s.slice = n
	}
}

// WithTimer raises line on irq every period cycles.
func WithTimer(irq Interrupts, line emu.Line, period uint64) Option {
	return func(s *Scheduler) {
		s.irq = irq
		s.timerLine = line
		s.timerPeriod = period
	}
}

// NewScheduler creates a scheduler for core.
func NewScheduler(core Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		core:  core,
		slice: DefaultSliceCycles,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.slice == 0 || s.slice > 1<<30 {
		s.slice = DefaultSliceCycles
	}
	if s.irq == nil {
		s.timerPeriod = 0
	}
	s.nextTimer = s.timerPeriod
	return s
}

// Now returns the number of cycles scheduled so far.
func (s *Scheduler) Now() uint64 {
	return s.stats.Cycles
}

// Stats returns the scheduler statistics.
func (s *Scheduler) Stats() Stats {
	return s.stats
}

// Run schedules total cycles.
func (s *Scheduler) Run(total uint64) error {
	return s.RunUntil(total, nil)
}

// RunUntil schedules up to limit cycles, stopping early after a slice in
// which done returns true. done may be nil.
func (s *Scheduler) RunUntil(limit uint64, done func() bool) error {
	end := s.stats.Cycles + limit

	for s.stats.Cycles < end {
		budget := min(s.slice, end-s.stats.Cycles)
		if s.timerPeriod != 0 {
			budget = min(budget, s.nextTimer-s.stats.Cycles)
		}

		if err := s.core.Run(int32(budget)); err != nil {
			return fmt.Errorf("failed to run slice at cycle %d: %w", s.stats.Cycles, err)
		}
		s.stats.Cycles += budget
		s.stats.Slices++

		s.tickTimer()

		if done != nil && done() {
			return nil
		}
	}
	return nil
}

func (s *Scheduler) tickTimer() {
	if s.timerPeriod == 0 || s.stats.Cycles < s.nextTimer {
		return
	}
	s.nextTimer += s.timerPeriod
	s.stats.TimerInterrupts++
	s.irq.Assert(s.timerLine)
}
