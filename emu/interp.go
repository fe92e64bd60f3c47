package emu

import (
	"math/bits"

	"github.com/sarchlab/arm7rec/ir"
)

// Exception vectors.
const (
	VectorReset     uint32 = 0x00
	VectorUndefined uint32 = 0x04
	VectorSWI       uint32 = 0x08
	VectorIRQ       uint32 = 0x18
	VectorFIQ       uint32 = 0x1C
)

// Interpreter executes single ARM instructions against the register image.
// The address of the instruction is NextPC - 4: callers advance NextPC
// before calling Interpret, and a PC write replaces NextPC.
type Interpreter struct {
	regs *RegFile
	bus  Bus

	executed uint64
}

// NewInterpreter creates an interpreter over the given state.
func NewInterpreter(regs *RegFile, bus Bus) *Interpreter {
	return &Interpreter{regs: regs, bus: bus}
}

// Executed returns the number of instructions interpreted.
func (in *Interpreter) Executed() uint64 {
	return in.executed
}

// Interpret executes one instruction word.
func (in *Interpreter) Interpret(raw uint32) {
	in.executed++
	pc := in.regs.R[ir.NextPC] - 4

	if !ir.Cond(raw >> 28).Pass(in.regs.Flags()) {
		return
	}

	switch raw >> 25 & 7 {
	case 0:
		switch {
		case raw&0x0FC000F0 == 0x00000090:
			in.multiply(raw)
		case raw&0x0F8000F0 == 0x00800090:
			in.multiplyLong(raw)
		case raw&0x0FB00FF0 == 0x01000090:
			in.swap(raw)
		case raw&0x0FFFFFF0 == 0x012FFF10:
			in.branchExchange(raw, pc)
		case raw&0x0E000090 == 0x00000090:
			in.halfwordTransfer(raw, pc)
		case raw&0x01900000 == 0x01000000:
			in.psrTransfer(raw, pc)
		default:
			in.dataProcessing(raw, pc)
		}
	case 1:
		if raw&0x01900000 == 0x01000000 {
			in.psrTransfer(raw, pc)
			return
		}
		in.dataProcessing(raw, pc)
	case 2, 3:
		if raw&0x02000010 == 0x02000010 {
			in.undefined(pc)
			return
		}
		in.singleTransfer(raw, pc)
	case 4:
		in.blockTransfer(raw, pc)
	case 5:
		in.branch(raw, pc)
	case 6:
		in.undefined(pc)
	case 7:
		if raw&(1<<24) != 0 {
			in.regs.EnterException(ModeSVC, VectorSWI, pc+4)
			return
		}
		in.undefined(pc)
	}
}

// reg reads a register as an operand; the PC reads as pc+8, or pc+12 when
// the instruction needs an extra fetch cycle.
func (in *Interpreter) reg(r uint32, pc uint32, extra uint32) uint32 {
	if r == 15 {
		return pc + 8 + extra
	}
	return in.regs.R[r]
}

func (in *Interpreter) setReg(r uint32, v uint32) {
	if r == 15 {
		in.regs.R[ir.NextPC] = v &^ 3
		return
	}
	in.regs.R[r] = v
}

func (in *Interpreter) undefined(pc uint32) {
	in.regs.EnterException(ModeUND, VectorUndefined, pc+4)
}

func (in *Interpreter) dataProcessing(raw, pc uint32) {
	t := ir.OpType(raw >> 21 & 0xF)
	setFlags := raw&(1<<20) != 0
	rn := raw >> 16 & 0xF
	rd := raw >> 12 & 0xF
	flags := in.regs.Flags()

	var (
		op2   uint32
		shC   = flags.C()
		extra uint32
	)
	if raw&(1<<25) != 0 {
		var rotated bool
		op2, rotated = ir.ExpandImm(raw & 0xFFF)
		if rotated {
			shC = op2>>31 != 0
		}
	} else {
		rm := raw & 0xF
		st := ir.Shift(raw >> 5 & 3)
		if raw&0x10 != 0 {
			extra = 4
			amount := in.reg(raw>>8&0xF, pc, extra) & 0xFF
			op2, shC = ir.ShiftReg(in.reg(rm, pc, extra), st, amount, flags.C())
		} else {
			op2, shC = ir.ShiftImm(in.reg(rm, pc, 0), st, uint8(raw>>7&31), flags.C())
		}
	}

	res, nf := DataProcess(t, in.reg(rn, pc, extra), op2, flags, shC)
	if !t.IsCompare() {
		in.setReg(rd, res)
	}
	if !setFlags {
		return
	}
	if rd == 15 && !t.IsCompare() {
		in.regs.RestoreCPSR()
		return
	}
	in.regs.SetFlags(nf)
}

func (in *Interpreter) psrTransfer(raw, pc uint32) {
	spsr := raw&(1<<22) != 0
	if raw&(1<<21) == 0 {
		if raw&(1<<25) != 0 {
			in.undefined(pc)
			return
		}
		in.setReg(raw>>12&0xF, in.regs.ReadPSR(spsr))
		return
	}

	var value uint32
	if raw&(1<<25) != 0 {
		value, _ = ir.ExpandImm(raw & 0xFFF)
	} else {
		value = in.reg(raw&0xF, pc, 0)
	}
	in.regs.WritePSR(value, uint8(raw>>16&0xF), spsr)
}

func (in *Interpreter) multiply(raw uint32) {
	rd := raw >> 16 & 0xF
	rn := raw >> 12 & 0xF
	rs := raw >> 8 & 0xF
	rm := raw & 0xF

	res := in.regs.R[rm] * in.regs.R[rs]
	if raw&(1<<21) != 0 {
		res += in.regs.R[rn]
	}
	in.setReg(rd, res)
	if raw&(1<<20) != 0 {
		f := in.regs.Flags()
		in.regs.SetFlags(ir.MakeFlags(res>>31 != 0, res == 0, f.C(), f.V()))
	}
}

func (in *Interpreter) multiplyLong(raw uint32) {
	rdHi := raw >> 16 & 0xF
	rdLo := raw >> 12 & 0xF
	rs := in.regs.R[raw>>8&0xF]
	rm := in.regs.R[raw&0xF]

	var res uint64
	if raw&(1<<22) != 0 {
		res = uint64(int64(int32(rm)) * int64(int32(rs)))
	} else {
		res = uint64(rm) * uint64(rs)
	}
	if raw&(1<<21) != 0 {
		res += uint64(in.regs.R[rdHi])<<32 | uint64(in.regs.R[rdLo])
	}
	in.setReg(rdLo, uint32(res))
	in.setReg(rdHi, uint32(res>>32))
	if raw&(1<<20) != 0 {
		f := in.regs.Flags()
		in.regs.SetFlags(ir.MakeFlags(res>>63 != 0, res == 0, f.C(), f.V()))
	}
}

func (in *Interpreter) swap(raw uint32) {
	addr := in.regs.R[raw>>16&0xF]
	rd := raw >> 12 & 0xF
	src := in.regs.R[raw&0xF]

	if raw&(1<<22) != 0 {
		old := in.bus.Read8(addr)
		in.bus.Write8(addr, uint8(src))
		in.setReg(rd, uint32(old))
		return
	}
	old := in.bus.Read32(addr)
	in.bus.Write32(addr, src)
	in.setReg(rd, old)
}

func (in *Interpreter) branchExchange(raw, pc uint32) {
	in.regs.R[ir.NextPC] = in.reg(raw&0xF, pc, 0) &^ 3
}

func (in *Interpreter) halfwordTransfer(raw, pc uint32) {
	pre := raw&(1<<24) != 0
	up := raw&(1<<23) != 0
	writeBack := !pre || raw&(1<<21) != 0
	load := raw&(1<<20) != 0
	rn := raw >> 16 & 0xF
	rd := raw >> 12 & 0xF
	sh := raw >> 5 & 3

	var offset uint32
	if raw&(1<<22) != 0 {
		offset = raw>>4&0xF0 | raw&0xF
	} else {
		offset = in.reg(raw&0xF, pc, 0)
	}

	base := in.reg(rn, pc, 0)
	next := base - offset
	if up {
		next = base + offset
	}
	addr := base
	if pre {
		addr = next
	}

	if !load {
		if sh == 1 {
			in.bus.Write16(addr, uint16(in.reg(rd, pc, 4)))
		}
		if writeBack {
			in.setReg(rn, next)
		}
		return
	}

	var value uint32
	switch sh {
	case 1:
		value = uint32(in.bus.Read16(addr))
	case 2:
		value = uint32(int32(int8(in.bus.Read8(addr))))
	default:
		value = uint32(int32(int16(in.bus.Read16(addr))))
	}
	if writeBack {
		in.setReg(rn, next)
	}
	in.setReg(rd, value)
}

func (in *Interpreter) singleTransfer(raw, pc uint32) {
	pre := raw&(1<<24) != 0
	up := raw&(1<<23) != 0
	byteWide := raw&(1<<22) != 0
	writeBack := !pre || raw&(1<<21) != 0
	load := raw&(1<<20) != 0
	rn := raw >> 16 & 0xF
	rd := raw >> 12 & 0xF

	var offset uint32
	if raw&(1<<25) != 0 {
		offset, _ = ir.ShiftImm(in.reg(raw&0xF, pc, 0), ir.Shift(raw>>5&3), uint8(raw>>7&31), in.regs.Flags().C())
	} else {
		offset = raw & 0xFFF
	}

	base := in.reg(rn, pc, 0)
	next := base - offset
	if up {
		next = base + offset
	}
	addr := base
	if pre {
		addr = next
	}

	if !load {
		value := in.reg(rd, pc, 4)
		if byteWide {
			in.bus.Write8(addr, uint8(value))
		} else {
			in.bus.Write32(addr, value)
		}
		if writeBack {
			in.setReg(rn, next)
		}
		return
	}

	var value uint32
	if byteWide {
		value = uint32(in.bus.Read8(addr))
	} else {
		value = in.bus.Read32(addr)
	}
	if writeBack {
		in.setReg(rn, next)
	}
	in.setReg(rd, value)
}

func (in *Interpreter) blockTransfer(raw, pc uint32) {
	pre := raw&(1<<24) != 0
	up := raw&(1<<23) != 0
	userBank := raw&(1<<22) != 0
	writeBack := raw&(1<<21) != 0
	load := raw&(1<<20) != 0
	rn := raw >> 16 & 0xF
	list := raw & 0xFFFF
	n := uint32(bits.OnesCount32(list))

	base := in.regs.R[rn]
	var addr, next uint32
	if up {
		addr, next = base, base+4*n
		if pre {
			addr += 4
		}
	} else {
		addr, next = base-4*n, base-4*n
		if !pre {
			addr += 4
		}
	}

	restoreCPSR := userBank && load && list&(1<<15) != 0
	bankRegs := userBank && !restoreCPSR

	if load {
		if writeBack {
			in.regs.R[rn] = next
		}
		for r := uint32(0); r < 16; r++ {
			if list&(1<<r) == 0 {
				continue
			}
			value := in.bus.Read32(addr)
			addr += 4
			switch {
			case r == 15:
				in.setReg(r, value)
			case bankRegs:
				in.regs.SetUserReg(ir.Reg(r), value)
			default:
				in.regs.R[r] = value
			}
		}
		if restoreCPSR {
			in.regs.RestoreCPSR()
		}
		return
	}

	first := true
	for r := uint32(0); r < 16; r++ {
		if list&(1<<r) == 0 {
			continue
		}
		var value uint32
		switch {
		case r == 15:
			value = pc + 12
		case bankRegs:
			value = in.regs.UserReg(ir.Reg(r))
		default:
			value = in.regs.R[r]
		}
		in.bus.Write32(addr, value)
		addr += 4
		if first && writeBack {
			in.regs.R[rn] = next
		}
		first = false
	}
}

func (in *Interpreter) branch(raw, pc uint32) {
	offset := uint32(int32(raw<<8) >> 6)
	if raw&(1<<24) != 0 {
		in.regs.R[ir.LR] = pc + 4
	}
	in.regs.R[ir.NextPC] = pc + 8 + offset
}
