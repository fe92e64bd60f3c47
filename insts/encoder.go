package insts

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/sarchlab/arm7rec/ir"
)

// Every encoding helper produces an unconditional (AL) instruction; use
// WithCond and WithS to adjust the result.

const condAL = uint32(ir.AL) << 28

// Index selects the addressing mode of a load or store.
type Index uint8

// Addressing modes.
const (
	// IndexOffset accesses base+offset without write-back.
	IndexOffset Index = iota
	// IndexPre accesses base+offset and writes it back.
	IndexPre
	// IndexPost accesses base and then writes base+offset back.
	IndexPost
)

// WithCond replaces the condition field of raw.
func WithCond(raw uint32, c ir.Cond) uint32 {
	return raw&0x0FFFFFFF | uint32(c)<<28
}

// WithS sets the S bit of a data-processing instruction.
func WithS(raw uint32) uint32 {
	return raw | 1<<20
}

// EncodeImm finds the rotated 8-bit form of v.
func EncodeImm(v uint32) (uint32, bool) {
	for rot := uint32(0); rot < 16; rot++ {
		imm := bits.RotateLeft32(v, int(rot*2))
		if imm < 256 {
			return rot<<8 | imm, true
		}
	}
	return 0, false
}

func mustImm(v uint32) uint32 {
	imm, ok := EncodeImm(v)
	if !ok {
		panic(fmt.Sprintf("immediate %#x cannot be encoded", v))
	}
	return imm
}

func dp(t ir.OpType, rd, rn ir.Reg) uint32 {
	raw := condAL | uint32(t)<<21 | uint32(rn)<<16 | uint32(rd)<<12
	if t.IsCompare() {
		raw |= 1 << 20
	}
	return raw
}

// DPImm encodes a data-processing op with an immediate operand 2. It panics
// when v has no rotated 8-bit form.
func DPImm(t ir.OpType, rd, rn ir.Reg, v uint32) uint32 {
	return dp(t, rd, rn) | 1<<25 | mustImm(v)
}

// DPReg encodes a data-processing op whose operand 2 is rm shifted by an
// immediate amount (0..31; LSR and ASR #32 and RRX use amount 0).
func DPReg(t ir.OpType, rd, rn, rm ir.Reg, s ir.Shift, amount uint8) uint32 {
	return dp(t, rd, rn) | uint32(amount&31)<<7 | uint32(s)<<5 | uint32(rm)
}

// DPRegShift encodes a data-processing op whose operand 2 is rm shifted by
// the low byte of rs.
func DPRegShift(t ir.OpType, rd, rn, rm ir.Reg, s ir.Shift, rs ir.Reg) uint32 {
	return dp(t, rd, rn) | uint32(rs)<<8 | uint32(s)<<5 | 1<<4 | uint32(rm)
}

// MovImm encodes MOV rd, #v.
func MovImm(rd ir.Reg, v uint32) uint32 {
	return DPImm(ir.MOV, rd, 0, v)
}

// Mov encodes MOV rd, rm.
func Mov(rd, rm ir.Reg) uint32 {
	return DPReg(ir.MOV, rd, 0, rm, ir.LSL, 0)
}

func transfer(load, byteWide bool, rd, rn ir.Reg, up bool, idx Index) uint32 {
	raw := condAL | 1<<26 | uint32(rn)<<16 | uint32(rd)<<12
	if load {
		raw |= 1 << 20
	}
	if byteWide {
		raw |= 1 << 22
	}
	if up {
		raw |= 1 << 23
	}
	switch idx {
	case IndexOffset:
		raw |= 1 << 24
	case IndexPre:
		raw |= 1<<24 | 1<<21
	}
	return raw
}

// LoadStore encodes LDR/STR(B) with a signed 12-bit immediate offset.
func LoadStore(load, byteWide bool, rd, rn ir.Reg, offset int32, idx Index) uint32 {
	up := offset >= 0
	if !up {
		offset = -offset
	}
	return transfer(load, byteWide, rd, rn, up, idx) | uint32(offset)&0xFFF
}

// LoadStoreReg encodes LDR/STR(B) with a register offset shifted by an
// immediate amount.
func LoadStoreReg(load, byteWide bool, rd, rn, rm ir.Reg, s ir.Shift, amount uint8, up bool, idx Index) uint32 {
	return transfer(load, byteWide, rd, rn, up, idx) | 1<<25 |
		uint32(amount&31)<<7 | uint32(s)<<5 | uint32(rm)
}

// Halfword encodes LDRH/STRH/LDRSB/LDRSH with an 8-bit immediate offset.
// sh is 1 for unsigned halfword, 2 for signed byte and 3 for signed
// halfword.
func Halfword(load bool, sh uint8, rd, rn ir.Reg, offset int32, idx Index) uint32 {
	up := offset >= 0
	if !up {
		offset = -offset
	}
	raw := condAL | 1<<22 | uint32(rn)<<16 | uint32(rd)<<12 |
		uint32(offset)&0xF0<<4 | 1<<7 | uint32(sh&3)<<5 | 1<<4 | uint32(offset)&0xF
	if load {
		raw |= 1 << 20
	}
	if up {
		raw |= 1 << 23
	}
	switch idx {
	case IndexOffset:
		raw |= 1 << 24
	case IndexPre:
		raw |= 1<<24 | 1<<21
	}
	return raw
}

// BlockTransfer encodes LDM/STM.
func BlockTransfer(load bool, rn ir.Reg, list uint16, pre, up, writeBack, userBank bool) uint32 {
	raw := condAL | 4<<25 | uint32(rn)<<16 | uint32(list)
	flags := [...]struct {
		set bool
		bit uint32
	}{
		{pre, 24}, {up, 23}, {userBank, 22}, {writeBack, 21}, {load, 20},
	}
	for _, f := range flags {
		if f.set {
			raw |= 1 << f.bit
		}
	}
	return raw
}

// Push encodes STMDB sp!, {list}.
func Push(list uint16) uint32 {
	return BlockTransfer(false, ir.SP, list, true, false, true, false)
}

// Pop encodes LDMIA sp!, {list}.
func Pop(list uint16) uint32 {
	return BlockTransfer(true, ir.SP, list, false, true, true, false)
}

// Branch encodes B or BL from pc to target.
func Branch(link bool, pc, target uint32) uint32 {
	raw := condAL | 5<<25 | (target-pc-8)>>2&0xFFFFFF
	if link {
		raw |= 1 << 24
	}
	return raw
}

// BX encodes BX rm.
func BX(rm ir.Reg) uint32 {
	return condAL | 0x012FFF10 | uint32(rm)
}

// MRS encodes MRS rd, CPSR or SPSR.
func MRS(rd ir.Reg, spsr bool) uint32 {
	raw := condAL | 0x010F0000 | uint32(rd)<<12
	if spsr {
		raw |= 1 << 22
	}
	return raw
}

// MSR encodes MSR CPSR_<mask> or SPSR_<mask>, rm.
func MSR(spsr bool, mask uint8, rm ir.Reg) uint32 {
	raw := condAL | 0x0120F000 | uint32(mask&0xF)<<16 | uint32(rm)
	if spsr {
		raw |= 1 << 22
	}
	return raw
}

// MSRImm encodes MSR with an immediate source.
func MSRImm(spsr bool, mask uint8, v uint32) uint32 {
	raw := condAL | 0x0320F000 | uint32(mask&0xF)<<16 | mustImm(v)
	if spsr {
		raw |= 1 << 22
	}
	return raw
}

// MUL encodes MUL rd, rm, rs.
func MUL(rd, rm, rs ir.Reg) uint32 {
	return condAL | uint32(rd)<<16 | uint32(rs)<<8 | 0x90 | uint32(rm)
}

// MLA encodes MLA rd, rm, rs, rn.
func MLA(rd, rm, rs, rn ir.Reg) uint32 {
	return MUL(rd, rm, rs) | 1<<21 | uint32(rn)<<12
}

// UMULL encodes UMULL lo, hi, rm, rs.
func UMULL(lo, hi, rm, rs ir.Reg) uint32 {
	return condAL | 0x00800090 | uint32(hi)<<16 | uint32(lo)<<12 | uint32(rs)<<8 | uint32(rm)
}

// SWP encodes SWP(B) rd, rm, [rn].
func SWP(byteWide bool, rd, rm, rn ir.Reg) uint32 {
	raw := condAL | 0x01000090 | uint32(rn)<<16 | uint32(rd)<<12 | uint32(rm)
	if byteWide {
		raw |= 1 << 22
	}
	return raw
}

// SWI encodes a software interrupt with a 24-bit comment field.
func SWI(comment uint32) uint32 {
	return condAL | 0x0F000000 | comment&0xFFFFFF
}

// Program lays out instruction words as little-endian bytes.
func Program(words ...uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}
