package jit

import "github.com/sarchlab/arm7rec/backend"

// Stats holds the translator counters.
type Stats struct {
	// BlocksCompiled counts blocks compiled since creation.
	BlocksCompiled uint64
	// GuestInstructions counts guest instructions covered by those blocks.
	GuestInstructions uint64
	// FallbackOps counts compiled ops that call the interpreter.
	FallbackOps uint64
	// CodeSize is the size of the code generated since the last flush.
	CodeSize int

	// Interpreted counts instructions run by the interpreter fallback.
	Interpreted uint64
	// InterruptsDelivered counts exceptions taken for FIQ and IRQ.
	InterruptsDelivered uint64
	// WaitCycles counts cycles charged by the cache model.
	WaitCycles uint64

	// Exits counts dispatch loop exits by reason.
	Exits [backend.ExitMiss + 1]uint64

	Flushes       uint64
	Invalidations uint64
}

// Dispatches returns the number of times the core re-entered generated code.
func (s Stats) Dispatches() uint64 {
	var n uint64
	for _, e := range s.Exits {
		n += e
	}
	return n
}
