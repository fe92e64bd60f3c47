package block

import "github.com/sarchlab/arm7rec/ir"

// linearizer tracks the current version of every register number.
type linearizer struct {
	versions [ir.NumRegs]uint16
	out      []ir.Op
}

func (l *linearizer) read(r *ir.Register) {
	r.Version = l.versions[r.Num]
}

func (l *linearizer) write(r *ir.Register) {
	l.versions[r.Num]++
	r.Version = l.versions[r.Num]
}

// barrier invalidates every known value: the op may write any register.
func (l *linearizer) barrier() {
	for i := range l.versions {
		l.versions[i]++
	}
}

// emit versions one op and appends it.
func (l *linearizer) emit(op ir.Op) {
	op.Sources(l.read)
	if op.Dest.IsReg() {
		l.write(&op.Dest.Reg)
	}
	if op.FlagsOut {
		l.versions[ir.CPSR]++
	}
	if op.IsBarrier() {
		l.barrier()
	}
	l.out = append(l.out, op)
}

// Linearize rewrites a block's ops so that every register read names the
// version produced by the latest earlier write (0 when the block has not
// written the register), and so that no memory op updates its base
// register. Loads and stores with write-back become a plain access plus an
// ADD or SUB of the base, ordered before the access for pre-indexing and
// after it for post-indexing. The input slice is consumed.
func Linearize(ops []ir.Op) []ir.Op {
	l := &linearizer{out: make([]ir.Op, 0, len(ops)+8)}

	for _, op := range ops {
		op.Dest.Reg.Version = 0
		op.Sources(func(r *ir.Register) { r.Version = 0 })

		if op.IsMemory() && op.WriteBack {
			l.splitWriteBack(op)
			continue
		}
		l.emit(op)
	}

	return l.out
}

// splitWriteBack expands a memory op with write-back.
func (l *linearizer) splitWriteBack(op ir.Op) {
	base := op.Args[0]
	offset := op.Args[1]

	update := ir.Op{
		Type:    ir.SUB,
		Cond:    op.Cond,
		Dest:    base,
		FlagsIn: offset.IsRRX(),
		Raw:     op.Raw,
		PC:      op.PC,
	}
	if op.AddOffset {
		update.Type = ir.ADD
	}
	update.Args[0] = base

	access := op
	access.WriteBack = false
	access.PreIndex = true
	access.AddOffset = true
	access.Args[1] = ir.Imm(0)

	switch {
	case op.PreIndex:
		// base' = base +/- offset; access [base']
		if op.Type == ir.STR && op.Args[2].IsReg() && op.Args[2].Reg.Num == base.Reg.Num {
			// The old base is the value stored.
			l.emit(move(op, ir.Scratch, op.Args[2]))
			access.Args[2] = ir.RegOp(ir.Scratch)
		}
		update.Args[1] = offset
		l.emit(update)
		access.Args[0] = base
		l.emit(access)

	case op.WritesPC:
		// The PC write must stay last, so the base is updated first and
		// the access goes through a copy of the old base.
		l.emit(move(op, ir.Scratch, base))
		update.Args[1] = offset
		l.emit(update)
		access.Args[0] = ir.RegOp(ir.Scratch)
		l.emit(access)

	case op.Type == ir.LDR && offset.IsReg() && offset.Reg.Num == op.Dest.Reg.Num:
		// The load clobbers the offset register, so the offset is saved
		// before the access.
		l.emit(move(op, ir.Scratch, offset))
		l.emit(access)
		update.Args[1] = ir.RegOp(ir.Scratch)
		update.FlagsIn = false
		l.emit(update)

	default:
		l.emit(access)
		update.Args[1] = offset
		l.emit(update)
	}
}

// move builds a MOV into dst that inherits the condition of op.
func move(op ir.Op, dst ir.Reg, src ir.Operand) ir.Op {
	mov := ir.Op{
		Type:    ir.MOV,
		Cond:    op.Cond,
		Dest:    ir.RegOp(dst),
		FlagsIn: src.IsRRX(),
		Raw:     op.Raw,
		PC:      op.PC,
	}
	mov.Args[1] = src
	return mov
}
