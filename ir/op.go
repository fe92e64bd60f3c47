package ir

// OpType is the kind of an IOp. Data-processing kinds follow the ARM opcode
// field order so the decoder can convert directly.
type OpType uint8

// IOp kinds.
const (
	AND OpType = iota
	EOR
	SUB
	RSB
	ADD
	ADC
	SBC
	RSC
	TST
	TEQ
	CMP
	CMN
	ORR
	MOV
	BIC
	MVN
	LDR
	STR
	B
	BL
	MRS
	MSR
	FALLBACK
)

var opNames = [...]string{
	"and", "eor", "sub", "rsb", "add", "adc", "sbc", "rsc",
	"tst", "teq", "cmp", "cmn", "orr", "mov", "bic", "mvn",
	"ldr", "str", "b", "bl", "mrs", "msr", "fallback",
}

func (t OpType) String() string {
	if int(t) < len(opNames) {
		return opNames[t]
	}
	return "unknown"
}

// IsDataProcessing reports whether t is one of the sixteen ALU kinds.
func (t OpType) IsDataProcessing() bool {
	return t <= MVN
}

// IsLogical reports whether t computes flags from its result only, leaving
// V alone and taking C from the shifter.
func (t OpType) IsLogical() bool {
	switch t {
	case AND, EOR, TST, TEQ, ORR, MOV, BIC, MVN:
		return true
	}
	return false
}

// IsCompare reports whether t only updates flags.
func (t OpType) IsCompare() bool {
	return t >= TST && t <= CMN
}

// UsesCarryIn reports whether t consumes the C flag as an arithmetic input.
func (t OpType) UsesCarryIn() bool {
	return t == ADC || t == SBC || t == RSC
}

// OperandKind tags an Operand.
type OperandKind uint8

// Operand kinds.
const (
	OperandNone OperandKind = iota
	OperandImm
	OperandReg
)

// Shift is a barrel-shifter operation.
type Shift uint8

// Shift kinds in encoding order. ROR with an immediate amount of zero is RRX.
const (
	LSL Shift = iota
	LSR
	ASR
	ROR
)

var shiftNames = [4]string{"lsl", "lsr", "asr", "ror"}

func (s Shift) String() string {
	return shiftNames[s&3]
}

// Operand is an IOp source or destination slot.
type Operand struct {
	Kind OperandKind

	// Imm is the value of an immediate operand.
	Imm uint32
	// Rotated marks an immediate produced by a non-zero rotate; logical
	// flag-setting ops copy its bit 31 into C.
	Rotated bool

	// Reg is the register of a register operand.
	Reg Register
	// Shift applies to register operands only.
	Shift Shift
	// ShiftImm is the raw 5-bit shift amount when ShiftByReg is false.
	ShiftImm uint8
	// ShiftByReg selects a register-controlled shift by ShiftReg's low byte.
	ShiftByReg bool
	ShiftReg   Register
}

// None is the unused operand slot.
var None = Operand{}

// Imm builds an immediate operand.
func Imm(v uint32) Operand {
	return Operand{Kind: OperandImm, Imm: v}
}

// RotatedImm builds an immediate decoded from a rotated 8-bit constant.
func RotatedImm(v uint32, rotated bool) Operand {
	return Operand{Kind: OperandImm, Imm: v, Rotated: rotated}
}

// RegOp builds an unshifted register operand reading version 0 of r.
func RegOp(r Reg) Operand {
	return Operand{Kind: OperandReg, Reg: Register{Num: r}}
}

// ShiftImmOp builds a register operand shifted by an immediate amount.
func ShiftImmOp(r Reg, s Shift, amount uint8) Operand {
	return Operand{Kind: OperandReg, Reg: Register{Num: r}, Shift: s, ShiftImm: amount & 31}
}

// ShiftRegOp builds a register operand shifted by the low byte of rs.
func ShiftRegOp(r Reg, s Shift, rs Reg) Operand {
	return Operand{
		Kind:       OperandReg,
		Reg:        Register{Num: r},
		Shift:      s,
		ShiftByReg: true,
		ShiftReg:   Register{Num: rs},
	}
}

// IsImm reports whether o is an immediate.
func (o Operand) IsImm() bool { return o.Kind == OperandImm }

// IsReg reports whether o is a register operand.
func (o Operand) IsReg() bool { return o.Kind == OperandReg }

// IsNone reports whether o is unused.
func (o Operand) IsNone() bool { return o.Kind == OperandNone }

// IsShifted reports whether o passes through the shifter in a way that can
// change the value or the carry. LSL #0 is the identity.
func (o Operand) IsShifted() bool {
	if o.Kind != OperandReg {
		return false
	}
	return o.ShiftByReg || o.Shift != LSL || o.ShiftImm != 0
}

// IsRRX reports whether o is a rotate-right-extended operand.
func (o Operand) IsRRX() bool {
	return o.Kind == OperandReg && !o.ShiftByReg && o.Shift == ROR && o.ShiftImm == 0
}

// Op is one intermediate operation.
type Op struct {
	Type OpType
	Cond Cond

	Dest Operand
	Args [3]Operand

	// FlagsIn marks ops that consume the C flag (carry-in arithmetic, RRX,
	// logical flag updates that preserve C).
	FlagsIn bool
	// FlagsOut marks ops that update NZCV.
	FlagsOut bool
	// WritesPC marks ops that write NextPC. Such an op ends its block.
	WritesPC bool

	// Memory addressing.
	PreIndex  bool
	AddOffset bool
	Byte      bool
	WriteBack bool

	// PSR transfer.
	SPSR      bool
	FieldMask uint8

	// Raw is the guest instruction word and PC its address.
	Raw uint32
	PC  uint32

	// Cycles is the estimated cost charged against the budget.
	Cycles int32
}

// IsBarrier reports whether the op may read or write any guest register
// behind the allocator's back.
func (op *Op) IsBarrier() bool {
	return op.Type == FALLBACK || op.Type == MSR
}

// EndsBlock reports whether the block builder must stop after op.
func (op *Op) EndsBlock() bool {
	if op.WritesPC {
		return true
	}
	return op.Type == MSR && !op.SPSR
}

// IsMemory reports whether the op accesses guest memory.
func (op *Op) IsMemory() bool {
	return op.Type == LDR || op.Type == STR
}

// WritesDest reports whether Dest names a register written by the op.
func (op *Op) WritesDest() bool {
	return op.Dest.Kind == OperandReg
}

// Sources calls fn for every register the op reads, including shift-count
// registers. fn receives a pointer so passes can rewrite versions in place.
func (op *Op) Sources(fn func(r *Register)) {
	for i := range op.Args {
		a := &op.Args[i]
		if a.Kind != OperandReg {
			continue
		}
		fn(&a.Reg)
		if a.ShiftByReg {
			fn(&a.ShiftReg)
		}
	}
}

// Reads reports whether the op reads register number r.
func (op *Op) Reads(r Reg) bool {
	found := false
	op.Sources(func(reg *Register) {
		if reg.Num == r {
			found = true
		}
	})
	return found
}
