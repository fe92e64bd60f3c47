package ir

// Cond is an ARM condition code.
type Cond uint8

// ARM condition codes, in encoding order.
const (
	EQ Cond = iota
	NE
	CS
	CC
	MI
	PL
	VS
	VC
	HI
	LS
	GE
	LT
	GT
	LE
	AL
	NV
)

var condNames = [16]string{
	"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc",
	"hi", "ls", "ge", "lt", "gt", "le", "", "nv",
}

func (c Cond) String() string {
	return condNames[c&0xF]
}

// Flags is the guest NZCV nibble: N is bit 3, Z bit 2, C bit 1, V bit 0.
type Flags uint8

// Individual flag bits.
const (
	FlagV Flags = 1 << iota
	FlagC
	FlagZ
	FlagN
)

// Flag bit positions inside the CPSR.
const (
	CPSRFlagShift        = 28
	CPSRFlagMask  uint32 = 0xF0000000
	CPSRCarryBit  uint32 = 1 << 29
)

// FlagsOf extracts the NZCV nibble from a CPSR value.
func FlagsOf(cpsr uint32) Flags {
	return Flags(cpsr >> CPSRFlagShift)
}

// Apply replaces the NZCV bits of cpsr with f.
func (f Flags) Apply(cpsr uint32) uint32 {
	return cpsr&^CPSRFlagMask | uint32(f&0xF)<<CPSRFlagShift
}

// N reports the negative flag.
func (f Flags) N() bool { return f&FlagN != 0 }

// Z reports the zero flag.
func (f Flags) Z() bool { return f&FlagZ != 0 }

// C reports the carry flag.
func (f Flags) C() bool { return f&FlagC != 0 }

// V reports the overflow flag.
func (f Flags) V() bool { return f&FlagV != 0 }

// MakeFlags packs individual flag values into a nibble.
func MakeFlags(n, z, c, v bool) Flags {
	var f Flags
	if n {
		f |= FlagN
	}
	if z {
		f |= FlagZ
	}
	if c {
		f |= FlagC
	}
	if v {
		f |= FlagV
	}
	return f
}

// condMasks holds, per condition, a 16-bit set of the NZCV values for which
// the condition passes. Bit i is set when the condition holds for Flags(i).
var condMasks [16]uint16

func init() {
	for c := EQ; c <= NV; c++ {
		var mask uint16
		for f := Flags(0); f < 16; f++ {
			if c.eval(f) {
				mask |= 1 << f
			}
		}
		condMasks[c] = mask
	}
}

func (c Cond) eval(f Flags) bool {
	switch c {
	case EQ:
		return f.Z()
	case NE:
		return !f.Z()
	case CS:
		return f.C()
	case CC:
		return !f.C()
	case MI:
		return f.N()
	case PL:
		return !f.N()
	case VS:
		return f.V()
	case VC:
		return !f.V()
	case HI:
		return f.C() && !f.Z()
	case LS:
		return !f.C() || f.Z()
	case GE:
		return f.N() == f.V()
	case LT:
		return f.N() != f.V()
	case GT:
		return !f.Z() && f.N() == f.V()
	case LE:
		return f.Z() || f.N() != f.V()
	case AL:
		return true
	}
	return false
}

// Mask returns the pass set of the condition, indexed by the NZCV nibble.
// Emitters test bit (cpsr >> 28) of this mask.
func (c Cond) Mask() uint16 {
	return condMasks[c&0xF]
}

// Pass reports whether the condition holds for the given flags.
func (c Cond) Pass(f Flags) bool {
	return condMasks[c&0xF]>>(f&0xF)&1 != 0
}

// Conditional reports whether an op with this condition may be skipped.
func (c Cond) Conditional() bool {
	return c != AL
}
