// Package regalloc maps versioned guest registers onto a small set of host
// registers for the duration of one block compile.
//
// The allocator is generic over the backend's host register type. It never
// emits code itself: loads from and stores to the guest register image are
// requested through the backend's Emitter.
package regalloc

import (
	"fmt"
	"math"

	"github.com/sarchlab/arm7rec/ir"
)

// MaxPinned is the largest number of host registers a single op can hold at
// once: three sources and a destination.
const MaxPinned = 4

// Emitter moves values between host registers and the guest register image.
type Emitter[H comparable] interface {
	// LoadReg emits host = image[r].
	LoadReg(host H, r ir.Reg)
	// StoreReg emits image[r] = host.
	StoreReg(host H, r ir.Reg)
}

// Stats counts the traffic an allocator generated.
type Stats struct {
	Loads     uint64
	Stores    uint64
	Evictions uint64
}

type slot[H comparable] struct {
	host  H
	reg   ir.Register
	used  bool
	dirty bool
	temp  bool
	pin   bool
}

// Allocator assigns host registers to the register versions of one block.
//
// For every op the backend calls Load before emitting it and Store after.
// Between the two, Map returns the host register holding each operand and
// the destination. FlushAll writes every live value back at block end.
type Allocator[H comparable] struct {
	emit  Emitter[H]
	slots []slot[H]
	ops   []ir.Op

	stats Stats
}

// New creates an allocator over the given host registers.
func New[H comparable](hosts []H, emit Emitter[H]) *Allocator[H] {
	if len(hosts) < MaxPinned {
		panic(fmt.Sprintf("regalloc: need at least %d host registers, got %d", MaxPinned, len(hosts)))
	}

	a := &Allocator[H]{
		emit:  emit,
		slots: make([]slot[H], len(hosts)),
	}
	for i, h := range hosts {
		a.slots[i].host = h
	}
	return a
}

// Begin starts allocation for a linearized op list. All slots start free.
func (a *Allocator[H]) Begin(ops []ir.Op) {
	a.ops = ops
	for i := range a.slots {
		a.slots[i] = slot[H]{host: a.slots[i].host}
	}
}

// Stats returns the accumulated counters.
func (a *Allocator[H]) Stats() Stats {
	return a.stats
}

// Load makes every register read by op i resident and assigns a host
// register to its destination. A barrier op first flushes and frees every
// slot. A conditional destination is preloaded with the register's current
// value so that the host register is correct when the op is skipped.
func (a *Allocator[H]) Load(i int) {
	op := &a.ops[i]

	if op.IsBarrier() {
		a.flush(true)
	}

	op.Sources(func(r *ir.Register) {
		s := a.find(*r)
		if s == nil {
			s = a.alloc(i)
			a.emit.LoadReg(s.host, r.Num)
			a.stats.Loads++
			s.reg = *r
			s.used = true
		}
		s.pin = true
	})

	if !op.WritesDest() {
		return
	}

	dest := op.Dest.Reg
	conditional := op.Cond.Conditional()
	if conditional {
		// The image must hold the current value before it is preloaded.
		a.storeNum(dest.Num)
	}

	s := a.alloc(i)
	s.reg = dest
	s.used = true
	s.pin = true
	s.dirty = true
	s.temp = conditional
	if conditional {
		a.emit.LoadReg(s.host, dest.Num)
		a.stats.Loads++
	}
}

// Store finishes op i. Conditional destinations are written back and freed.
// An unconditional destination is written back when no later op of the
// block writes the same register. Barrier ops leave every slot free.
func (a *Allocator[H]) Store(i int) {
	op := &a.ops[i]

	for j := range a.slots {
		a.slots[j].pin = false
	}

	if op.IsBarrier() {
		a.flush(true)
		return
	}

	if !op.WritesDest() {
		return
	}

	dest := op.Dest.Reg
	for j := range a.slots {
		s := &a.slots[j]
		if s.used && s.reg.Num == dest.Num && s.reg.Version != dest.Version {
			// Superseded versions never reach the image.
			s.dirty = false
		}
	}

	s := a.find(dest)
	switch {
	case s.temp:
		a.store(s)
		*s = slot[H]{host: s.host}
	case !a.writtenAfter(i, dest.Num):
		a.store(s)
	}
}

// Map returns the host register holding r. It panics if r is not resident,
// which means the backend asked for a register the current op does not use.
func (a *Allocator[H]) Map(r ir.Register) H {
	s := a.find(r)
	if s == nil {
		panic(fmt.Sprintf("regalloc: %s is not resident", r))
	}
	return s.host
}

// Resident reports whether r currently has a host register.
func (a *Allocator[H]) Resident(r ir.Register) bool {
	return a.find(r) != nil
}

// FlushAll writes every dirty slot back to the image and frees all slots.
func (a *Allocator[H]) FlushAll() {
	a.flush(true)
}

// Flush writes every dirty slot back but keeps the mappings.
func (a *Allocator[H]) Flush() {
	a.flush(false)
}

func (a *Allocator[H]) flush(free bool) {
	for j := range a.slots {
		s := &a.slots[j]
		if !s.used {
			continue
		}
		a.store(s)
		if free {
			*s = slot[H]{host: s.host}
		}
	}
}

func (a *Allocator[H]) store(s *slot[H]) {
	if !s.dirty {
		return
	}
	a.emit.StoreReg(s.host, s.reg.Num)
	a.stats.Stores++
	s.dirty = false
}

func (a *Allocator[H]) storeNum(r ir.Reg) {
	for j := range a.slots {
		s := &a.slots[j]
		if s.used && s.reg.Num == r {
			a.store(s)
		}
	}
}

func (a *Allocator[H]) find(r ir.Register) *slot[H] {
	for j := range a.slots {
		s := &a.slots[j]
		if s.used && s.reg == r {
			return s
		}
	}
	return nil
}

// alloc returns a free slot for op i, evicting if needed. Eviction prefers a
// clean slot whose value is dead, then the slot whose next use is furthest
// away, in slot order on ties. Pinned slots are never chosen.
func (a *Allocator[H]) alloc(i int) *slot[H] {
	for j := range a.slots {
		if !a.slots[j].used {
			return &a.slots[j]
		}
	}

	var victim *slot[H]
	best := -1
	for j := range a.slots {
		s := &a.slots[j]
		if s.pin {
			continue
		}
		next := a.nextUse(i, s.reg)
		if next == math.MaxInt && !s.dirty {
			victim = s
			break
		}
		if next > best {
			victim, best = s, next
		}
	}

	if victim == nil {
		panic("regalloc: every host register is pinned")
	}

	a.store(victim)
	*victim = slot[H]{host: victim.host}
	a.stats.Evictions++
	return victim
}

// nextUse returns the index of the first op after i that reads r, or
// math.MaxInt if none does.
func (a *Allocator[H]) nextUse(i int, r ir.Register) int {
	for j := i; j < len(a.ops); j++ {
		if a.readsVersion(j, r) {
			return j
		}
	}
	return math.MaxInt
}

func (a *Allocator[H]) readsVersion(j int, r ir.Register) bool {
	found := false
	a.ops[j].Sources(func(reg *ir.Register) {
		if *reg == r {
			found = true
		}
	})
	return found
}

func (a *Allocator[H]) writtenAfter(i int, r ir.Reg) bool {
	for j := i + 1; j < len(a.ops); j++ {
		if a.ops[j].WritesDest() && a.ops[j].Dest.Reg.Num == r {
			return true
		}
	}
	return false
}
