package insts

import (
	"math/bits"

	"github.com/sarchlab/arm7rec/ir"
)

// Decoder turns ARM7 instruction words into IOps.
type Decoder struct{}

// NewDecoder creates a new ARM7 instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes the instruction word raw fetched from pc. It always
// returns exactly one op; anything the translator does not model becomes a
// FALLBACK op carrying the raw word.
func (d *Decoder) Decode(raw, pc uint32) ir.Op {
	cond := ir.Cond(raw >> 28)
	if cond == ir.NV {
		return fallback(raw, pc, false)
	}

	switch {
	case d.isMultiply(raw):
		return fallback(raw, pc, raw>>16&0xF == 15)
	case d.isMultiplyLong(raw):
		return fallback(raw, pc, raw>>16&0xF == 15 || raw>>12&0xF == 15)
	case d.isSwap(raw):
		return fallback(raw, pc, raw>>12&0xF == 15)
	case d.isBranchExchange(raw):
		return fallback(raw, pc, true)
	case d.isHalfwordTransfer(raw):
		load := raw&(1<<20) != 0
		writeBack := raw&(1<<24) == 0 || raw&(1<<21) != 0
		return fallback(raw, pc, load && raw>>12&0xF == 15 || writeBack && raw>>16&0xF == 15)
	case d.isPSRTransfer(raw):
		return d.decodePSRTransfer(raw, pc)
	case d.isDataProcessing(raw):
		return d.decodeDataProcessing(raw, pc)
	case d.isSingleTransfer(raw):
		return d.decodeSingleTransfer(raw, pc)
	case d.isBlockTransfer(raw):
		return d.decodeBlockTransfer(raw, pc)
	case d.isBranch(raw):
		return d.decodeBranch(raw, pc)
	}

	// Coprocessor, SWI and undefined encodings all enter an exception.
	return fallback(raw, pc, true)
}

// Decode decodes one instruction with a zero-value decoder.
func Decode(raw, pc uint32) ir.Op {
	var d Decoder
	return d.Decode(raw, pc)
}

func fallback(raw, pc uint32, writesPC bool) ir.Op {
	return ir.Op{
		Type:     ir.FALLBACK,
		Cond:     ir.AL,
		FlagsIn:  true,
		FlagsOut: true,
		WritesPC: writesPC,
		Raw:      raw,
		PC:       pc,
		Cycles:   1,
	}
}

// isMultiply matches MUL and MLA.
func (d *Decoder) isMultiply(raw uint32) bool {
	return raw&0x0FC000F0 == 0x00000090
}

// isMultiplyLong matches UMULL, UMLAL, SMULL and SMLAL.
func (d *Decoder) isMultiplyLong(raw uint32) bool {
	return raw&0x0F8000F0 == 0x00800090
}

// isSwap matches SWP and SWPB.
func (d *Decoder) isSwap(raw uint32) bool {
	return raw&0x0FB00FF0 == 0x01000090
}

func (d *Decoder) isBranchExchange(raw uint32) bool {
	return raw&0x0FFFFFF0 == 0x012FFF10
}

// isHalfwordTransfer matches LDRH, STRH, LDRSB and LDRSH.
func (d *Decoder) isHalfwordTransfer(raw uint32) bool {
	return raw&0x0E000090 == 0x00000090
}

// isPSRTransfer matches the compare opcodes with S clear, which encode MRS
// and MSR.
func (d *Decoder) isPSRTransfer(raw uint32) bool {
	return raw&0x0C000000 == 0 && raw&0x01900000 == 0x01000000
}

func (d *Decoder) isDataProcessing(raw uint32) bool {
	return raw&0x0C000000 == 0
}

func (d *Decoder) isSingleTransfer(raw uint32) bool {
	return raw&0x0C000000 == 0x04000000
}

func (d *Decoder) isBlockTransfer(raw uint32) bool {
	return raw&0x0E000000 == 0x08000000
}

func (d *Decoder) isBranch(raw uint32) bool {
	return raw&0x0E000000 == 0x0A000000
}

// decodePSRTransfer decodes MRS and MSR.
// MRS: cond | 00010 | P | 00 | 1111 | Rd | 000000000000
// MSR: cond | 00 | I | 10 | P | 10 | mask | 1111 | operand
func (d *Decoder) decodePSRTransfer(raw, pc uint32) ir.Op {
	op := ir.Op{
		Cond:   ir.Cond(raw >> 28),
		SPSR:   raw&(1<<22) != 0,
		Raw:    raw,
		PC:     pc,
		Cycles: 1,
	}

	if raw&(1<<21) == 0 {
		rd := ir.Reg(raw >> 12 & 0xF)
		if raw&0x0FBF0FFF != 0x010F0000 || rd == ir.PC {
			return fallback(raw, pc, true)
		}
		op.Type = ir.MRS
		op.Dest = ir.RegOp(rd)
		return op
	}

	if raw&0x0000F000 != 0x0000F000 {
		return fallback(raw, pc, true)
	}
	op.Type = ir.MSR
	op.FieldMask = uint8(raw >> 16 & 0xF)
	if raw&(1<<25) != 0 {
		v, _ := ir.ExpandImm(raw & 0xFFF)
		op.Args[0] = ir.Imm(v)
	} else {
		rm := ir.Reg(raw & 0xF)
		if raw&0xFF0 != 0 || rm == ir.PC {
			return fallback(raw, pc, true)
		}
		op.Args[0] = ir.RegOp(rm)
	}
	if !op.SPSR {
		op.FlagsOut = true
	}
	return op
}

// decodeDataProcessing decodes the sixteen ALU operations.
// Format: cond | 00 | I | opcode | S | Rn | Rd | operand2
func (d *Decoder) decodeDataProcessing(raw, pc uint32) ir.Op {
	t := ir.OpType(raw >> 21 & 0xF)
	setFlags := raw&(1<<20) != 0
	rn := ir.Reg(raw >> 16 & 0xF)
	rd := ir.Reg(raw >> 12 & 0xF)
	regShift := raw&(1<<25) == 0 && raw&0x10 != 0

	op := ir.Op{
		Type:     t,
		Cond:     ir.Cond(raw >> 28),
		FlagsOut: setFlags,
		Raw:      raw,
		PC:       pc,
		Cycles:   1,
	}

	// A register-controlled shift takes an extra cycle, during which the
	// PC advances once more.
	pcValue := pc + 8
	if regShift {
		pcValue = pc + 12
	}

	switch {
	case raw&(1<<25) != 0:
		v, rotated := ir.ExpandImm(raw & 0xFFF)
		op.Args[1] = ir.RotatedImm(v, rotated)
	case regShift:
		rm := ir.Reg(raw & 0xF)
		rs := ir.Reg(raw >> 8 & 0xF)
		if rm == ir.PC || rs == ir.PC {
			return fallback(raw, pc, rd == ir.PC && !t.IsCompare())
		}
		op.Args[1] = ir.ShiftRegOp(rm, ir.Shift(raw>>5&3), rs)
	default:
		rm := ir.Reg(raw & 0xF)
		operand := ir.ShiftImmOp(rm, ir.Shift(raw>>5&3), uint8(raw>>7&31))
		if rm == ir.PC {
			if operand.IsRRX() || setFlags && t.IsLogical() && operand.IsShifted() {
				return fallback(raw, pc, rd == ir.PC && !t.IsCompare())
			}
			v, _ := ir.ShiftImm(pcValue, operand.Shift, operand.ShiftImm, false)
			operand = ir.Imm(v)
		}
		op.Args[1] = operand
	}

	if t != ir.MOV && t != ir.MVN {
		if rn == ir.PC {
			op.Args[0] = ir.Imm(pcValue)
		} else {
			op.Args[0] = ir.RegOp(rn)
		}
	}

	if !t.IsCompare() {
		if rd == ir.PC {
			if setFlags || op.Cond.Conditional() {
				return fallback(raw, pc, true)
			}
			op.Dest = ir.RegOp(ir.NextPC)
			op.WritesPC = true
		} else {
			op.Dest = ir.RegOp(rd)
		}
	}

	op.FlagsIn = t.UsesCarryIn() || op.Args[1].IsRRX() || setFlags && t.IsLogical()
	return op
}

// decodeSingleTransfer decodes LDR, STR, LDRB and STRB.
// Format: cond | 01 | I | P | U | B | W | L | Rn | Rd | offset
func (d *Decoder) decodeSingleTransfer(raw, pc uint32) ir.Op {
	if raw&(1<<25) != 0 && raw&0x10 != 0 {
		return fallback(raw, pc, true)
	}

	pre := raw&(1<<24) != 0
	load := raw&(1<<20) != 0
	writeBack := !pre || raw&(1<<21) != 0
	rn := ir.Reg(raw >> 16 & 0xF)
	rd := ir.Reg(raw >> 12 & 0xF)

	op := ir.Op{
		Type:      ir.STR,
		Cond:      ir.Cond(raw >> 28),
		PreIndex:  pre,
		AddOffset: raw&(1<<23) != 0,
		Byte:      raw&(1<<22) != 0,
		Raw:       raw,
		PC:        pc,
		Cycles:    1,
	}

	if raw&(1<<25) != 0 {
		rm := ir.Reg(raw & 0xF)
		if rm == ir.PC {
			return fallback(raw, pc, load && rd == ir.PC || writeBack && rn == ir.PC)
		}
		op.Args[1] = ir.ShiftImmOp(rm, ir.Shift(raw>>5&3), uint8(raw>>7&31))
		op.FlagsIn = op.Args[1].IsRRX()
	} else {
		op.Args[1] = ir.Imm(raw & 0xFFF)
	}

	if rn == ir.PC {
		if writeBack {
			return fallback(raw, pc, true)
		}
		op.Args[0] = ir.Imm(pc + 8)
	} else {
		op.Args[0] = ir.RegOp(rn)
	}

	if load {
		op.Type = ir.LDR
		if rd == ir.PC {
			if op.Cond.Conditional() || op.Byte {
				return fallback(raw, pc, true)
			}
			op.Dest = ir.RegOp(ir.NextPC)
			op.WritesPC = true
		} else {
			op.Dest = ir.RegOp(rd)
		}
		if rd == rn {
			writeBack = false
		}
	} else if rd == ir.PC {
		op.Args[2] = ir.Imm(pc + 12)
	} else {
		op.Args[2] = ir.RegOp(rd)
	}

	if op.Args[1].IsImm() && op.Args[1].Imm == 0 {
		writeBack = false
	}
	op.WriteBack = writeBack
	return op
}

// decodeBlockTransfer rewrites a single-register LDM or STM as the
// equivalent LDR or STR. Everything else falls back.
// Format: cond | 100 | P | U | S | W | L | Rn | register list
func (d *Decoder) decodeBlockTransfer(raw, pc uint32) ir.Op {
	list := raw & 0xFFFF
	load := raw&(1<<20) != 0
	writeBack := raw&(1<<21) != 0
	rn := ir.Reg(raw >> 16 & 0xF)

	if bits.OnesCount32(list) != 1 || raw&(1<<22) != 0 || rn == ir.PC {
		return fallback(raw, pc, load && list&(1<<15) != 0 || writeBack && rn == ir.PC || raw&(1<<22) != 0)
	}

	r := ir.Reg(bits.TrailingZeros32(list))
	op := ir.Op{
		Type:      ir.STR,
		Cond:      ir.Cond(raw >> 28),
		PreIndex:  raw&(1<<24) != 0,
		AddOffset: raw&(1<<23) != 0,
		Args:      [3]ir.Operand{ir.RegOp(rn), ir.Imm(4), ir.None},
		Raw:       raw,
		PC:        pc,
		Cycles:    1,
	}

	if load {
		op.Type = ir.LDR
		if r == ir.PC {
			if op.Cond.Conditional() {
				return fallback(raw, pc, true)
			}
			op.Dest = ir.RegOp(ir.NextPC)
			op.WritesPC = true
		} else {
			op.Dest = ir.RegOp(r)
		}
		if r == rn {
			writeBack = false
		}
	} else if r == ir.PC {
		op.Args[2] = ir.Imm(pc + 12)
	} else {
		op.Args[2] = ir.RegOp(r)
	}

	op.WriteBack = writeBack
	return op
}

// decodeBranch decodes B and BL.
// Format: cond | 101 | L | signed 24-bit word offset
func (d *Decoder) decodeBranch(raw, pc uint32) ir.Op {
	target := pc + 8 + uint32(int32(raw<<8)>>6)
	op := ir.Op{
		Type:     ir.B,
		Cond:     ir.Cond(raw >> 28),
		WritesPC: true,
		Raw:      raw,
		PC:       pc,
		Cycles:   1,
	}
	op.Args[0] = ir.Imm(target)

	if raw&(1<<24) != 0 {
		op.Type = ir.BL
		op.Dest = ir.RegOp(ir.LR)
		op.Args[1] = ir.Imm(pc + 4)
	}
	return op
}
