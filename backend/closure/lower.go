package closure

import (
	"fmt"

	"github.com/sarchlab/arm7rec/block"
	"github.com/sarchlab/arm7rec/ir"
	"github.com/sarchlab/arm7rec/regalloc"
)

type valueFn func(m *machine) uint32

// shiftFn returns a shifter output and its carry.
type shiftFn func(m *machine) (uint32, bool)

type lowerer struct {
	blk   *block.Block
	steps []step
	alloc *regalloc.Allocator[int]
}

func newLowerer(blk *block.Block) *lowerer {
	l := &lowerer{blk: blk}
	l.alloc = regalloc.New[int](hostRegs, emitter{steps: &l.steps})
	return l
}

func (l *lowerer) lower() []step {
	ops := l.blk.Ops
	l.alloc.Begin(ops)

	for i := range ops {
		l.alloc.Load(i)
		l.emit(&ops[i])
		l.alloc.Store(i)
	}
	l.alloc.FlushAll()

	cycles := uint32(l.blk.Cycles)
	l.steps = append(l.steps, func(m *machine) {
		m.regs[ir.Cycles] -= cycles
	})
	return l.steps
}

// emit appends the step of one op, guarded by its condition.
func (l *lowerer) emit(op *ir.Op) {
	body, orElse := l.body(op)

	if !op.Cond.Conditional() {
		l.steps = append(l.steps, body)
		return
	}

	mask := op.Cond.Mask()
	l.steps = append(l.steps, func(m *machine) {
		if mask>>(m.regs[ir.CPSR]>>ir.CPSRFlagShift)&1 != 0 {
			body(m)
		} else if orElse != nil {
			orElse(m)
		}
	})
}

func (l *lowerer) body(op *ir.Op) (step, step) {
	switch {
	case op.Type.IsDataProcessing():
		return l.dataProcessing(op), nil
	case op.Type == ir.LDR:
		return l.load(op), nil
	case op.Type == ir.STR:
		return l.store(op), nil
	case op.Type == ir.B, op.Type == ir.BL:
		return l.branch(op)
	case op.Type == ir.MRS:
		return l.mrs(op), nil
	case op.Type == ir.MSR:
		return l.msr(op), nil
	case op.Type == ir.FALLBACK:
		return l.fallback(op), nil
	}
	panic(fmt.Sprintf("closure: cannot lower %s", op))
}

func carry(m *machine) bool {
	return m.regs[ir.CPSR]&ir.CPSRCarryBit != 0
}

func (l *lowerer) shifter(o ir.Operand) shiftFn {
	switch {
	case o.IsImm():
		v := o.Imm
		if o.Rotated {
			c := v>>31 != 0
			return func(*machine) (uint32, bool) { return v, c }
		}
		return func(m *machine) (uint32, bool) { return v, carry(m) }

	case !o.IsShifted():
		h := l.alloc.Map(o.Reg)
		return func(m *machine) (uint32, bool) { return m.host[h], carry(m) }

	case o.ShiftByReg:
		h, hs, s := l.alloc.Map(o.Reg), l.alloc.Map(o.ShiftReg), o.Shift
		return func(m *machine) (uint32, bool) {
			return ir.ShiftReg(m.host[h], s, m.host[hs]&0xFF, carry(m))
		}
	}

	h, s, amount := l.alloc.Map(o.Reg), o.Shift, o.ShiftImm
	return func(m *machine) (uint32, bool) {
		return ir.ShiftImm(m.host[h], s, amount, carry(m))
	}
}

func (l *lowerer) value(o ir.Operand) valueFn {
	switch {
	case o.IsNone():
		return func(*machine) uint32 { return 0 }
	case o.IsImm():
		v := o.Imm
		return func(*machine) uint32 { return v }
	case !o.IsShifted():
		h := l.alloc.Map(o.Reg)
		return func(m *machine) uint32 { return m.host[h] }
	}

	sh := l.shifter(o)
	return func(m *machine) uint32 {
		v, _ := sh(m)
		return v
	}
}

// dest returns the host register of the op's destination and whether the
// value written must be word aligned because it is the next PC.
func (l *lowerer) dest(op *ir.Op) (int, bool) {
	return l.alloc.Map(op.Dest.Reg), op.Dest.Reg.Num == ir.NextPC
}

func (l *lowerer) dataProcessing(op *ir.Op) step {
	t := op.Type
	rn := l.value(op.Args[0])
	op2 := l.shifter(op.Args[1])
	setFlags := op.FlagsOut

	dst, align := -1, false
	if op.WritesDest() {
		dst, align = l.dest(op)
	}

	return func(m *machine) {
		b, sc := op2(m)
		cpsr := m.regs[ir.CPSR]
		r, hf := alu(t, rn(m), b, cpsr, sc)
		if setFlags {
			m.regs[ir.CPSR] = flagsFromHost(hf).Apply(cpsr)
		}
		if dst >= 0 {
			if align {
				r &^= 3
			}
			m.host[dst] = r
		}
	}
}

func (l *lowerer) address(op *ir.Op) valueFn {
	base := l.value(op.Args[0])
	if !op.PreIndex {
		return base
	}
	off := l.value(op.Args[1])
	if op.AddOffset {
		return func(m *machine) uint32 { return base(m) + off(m) }
	}
	return func(m *machine) uint32 { return base(m) - off(m) }
}

func (l *lowerer) load(op *ir.Op) step {
	addr := l.address(op)
	dst, align := l.dest(op)

	if op.Byte {
		return func(m *machine) {
			m.host[dst] = uint32(m.env.Bus.Read8(addr(m)))
		}
	}
	return func(m *machine) {
		v := m.env.Bus.Read32(addr(m))
		if align {
			v &^= 3
		}
		m.host[dst] = v
	}
}

func (l *lowerer) store(op *ir.Op) step {
	addr := l.address(op)
	val := l.value(op.Args[2])

	if op.Byte {
		return func(m *machine) {
			m.env.Bus.Write8(addr(m), uint8(val(m)))
		}
	}
	return func(m *machine) {
		m.env.Bus.Write32(addr(m), val(m))
	}
}

func (l *lowerer) branch(op *ir.Op) (step, step) {
	target := op.Args[0].Imm
	next := op.PC + 4
	orElse := func(m *machine) { m.regs[ir.NextPC] = next }

	if op.Type == ir.BL {
		dst := l.alloc.Map(op.Dest.Reg)
		ret := op.Args[1].Imm
		return func(m *machine) {
			m.host[dst] = ret
			m.regs[ir.NextPC] = target
		}, orElse
	}

	return func(m *machine) { m.regs[ir.NextPC] = target }, orElse
}

func (l *lowerer) mrs(op *ir.Op) step {
	dst := l.alloc.Map(op.Dest.Reg)
	spsr := op.SPSR
	return func(m *machine) {
		m.host[dst] = m.env.PSR.ReadPSR(spsr)
	}
}

func (l *lowerer) msr(op *ir.Op) step {
	src := l.value(op.Args[0])
	mask, spsr := op.FieldMask, op.SPSR
	return func(m *machine) {
		m.env.PSR.WritePSR(src(m), mask, spsr)
	}
}

func (l *lowerer) fallback(op *ir.Op) step {
	raw, next := op.Raw, op.PC+4
	return func(m *machine) {
		m.regs[ir.NextPC] = next
		m.env.Interp.Interpret(raw)
	}
}
