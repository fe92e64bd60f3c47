package ir

import "math/bits"

// ExpandImm decodes a data-processing immediate: an 8-bit value rotated
// right by twice the 4-bit rotate field. rotated reports a non-zero rotate.
func ExpandImm(imm12 uint32) (value uint32, rotated bool) {
	rot := (imm12 >> 8 & 0xF) * 2
	return bits.RotateLeft32(imm12&0xFF, -int(rot)), rot != 0
}

// ShiftImm applies a shift encoded with a 5-bit immediate amount. An amount
// of 0 means LSL #0 (no shift), LSR #32, ASR #32 or RRX.
func ShiftImm(v uint32, s Shift, amount uint8, carryIn bool) (uint32, bool) {
	amount &= 31
	if amount == 0 {
		switch s {
		case LSL:
			return v, carryIn
		case LSR:
			return 0, v>>31 != 0
		case ASR:
			return uint32(int32(v) >> 31), v>>31 != 0
		default:
			var c uint32
			if carryIn {
				c = 1 << 31
			}
			return c | v>>1, v&1 != 0
		}
	}
	return ShiftReg(v, s, uint32(amount), carryIn)
}

// ShiftReg applies a register-controlled shift by amount, which must already
// be reduced to the register's low byte.
func ShiftReg(v uint32, s Shift, amount uint32, carryIn bool) (uint32, bool) {
	if amount == 0 {
		return v, carryIn
	}
	switch s {
	case LSL:
		switch {
		case amount < 32:
			return v << amount, v>>(32-amount)&1 != 0
		case amount == 32:
			return 0, v&1 != 0
		default:
			return 0, false
		}
	case LSR:
		switch {
		case amount < 32:
			return v >> amount, v>>(amount-1)&1 != 0
		case amount == 32:
			return 0, v>>31 != 0
		default:
			return 0, false
		}
	case ASR:
		if amount >= 32 {
			return uint32(int32(v) >> 31), v>>31 != 0
		}
		return uint32(int32(v) >> amount), v>>(amount-1)&1 != 0
	default:
		n := amount & 31
		if n == 0 {
			return v, v>>31 != 0
		}
		return bits.RotateLeft32(v, -int(n)), v>>(n-1)&1 != 0
	}
}
