package closure

import "github.com/sarchlab/arm7rec/ir"

// Virtual flag word bits.
const (
	hostN uint32 = 1 << 31
	hostZ uint32 = 1 << 30
	hostC uint32 = 1 << 29
	hostV uint32 = 1 << 28
)

func flagsFromHost(host uint32) ir.Flags {
	return ir.Flags(host >> ir.CPSRFlagShift)
}

func addc(a, b uint32, cin bool) (uint32, bool, bool) {
	s := uint64(a) + uint64(b)
	if cin {
		s++
	}
	r := uint32(s)
	return r, s>>32 != 0, (a^r)&(b^r)>>31 != 0
}

// alu computes a data-processing result and the flag word it would set.
// Logical kinds take C from the shifter and keep V from cpsr.
func alu(t ir.OpType, a, b, cpsr uint32, shifterCarry bool) (uint32, uint32) {
	cin := cpsr&ir.CPSRCarryBit != 0

	var (
		r    uint32
		c, v bool
	)
	switch t {
	case ir.AND, ir.TST:
		r = a & b
	case ir.EOR, ir.TEQ:
		r = a ^ b
	case ir.ORR:
		r = a | b
	case ir.BIC:
		r = a &^ b
	case ir.MOV:
		r = b
	case ir.MVN:
		r = ^b
	case ir.ADD, ir.CMN:
		r, c, v = addc(a, b, false)
	case ir.ADC:
		r, c, v = addc(a, b, cin)
	case ir.SUB, ir.CMP:
		r, c, v = addc(a, ^b, true)
	case ir.SBC:
		r, c, v = addc(a, ^b, cin)
	case ir.RSB:
		r, c, v = addc(b, ^a, true)
	case ir.RSC:
		r, c, v = addc(b, ^a, cin)
	}

	if t.IsLogical() {
		c = shifterCarry
		v = cpsr&hostV != 0
	}

	hf := r & hostN
	if r == 0 {
		hf |= hostZ
	}
	if c {
		hf |= hostC
	}
	if v {
		hf |= hostV
	}
	return r, hf
}
