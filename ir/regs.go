// Package ir provides the architecture-neutral operation model shared by the
// decoder, the dataflow linearizer, the register allocator and the backends.
package ir

import "fmt"

// Reg is a guest register number. It indexes the guest register image.
type Reg uint8

// Guest registers. R0..R15 and CPSR/SPSR hold the current mode's view; the
// banked slots hold the registers of inactive modes.
const (
	R0 Reg = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	CPSR
	SPSR

	R8FIQ
	R9FIQ
	R10FIQ
	R11FIQ
	R12FIQ
	R13FIQ
	R14FIQ
	R13SVC
	R14SVC
	R13ABT
	R14ABT
	R13IRQ
	R14IRQ
	R13UND
	R14UND
	R8USR
	R9USR
	R10USR
	R11USR
	R12USR
	R13USR
	R14USR

	SPSRFIQ
	SPSRSVC
	SPSRABT
	SPSRIRQ
	SPSRUND

	// NextPC is the address of the next instruction the dispatcher runs.
	NextPC
	// IntPending is non-zero while a deliverable interrupt is waiting.
	IntPending
	// Cycles is the remaining cycle budget, read as a signed value.
	Cycles
	// Scratch is a temporary used by split write-back sequences.
	Scratch

	// NumRegs is the size of the guest register image.
	NumRegs
)

// Aliases used by the decoder and the interpreter.
const (
	SP = R13
	LR = R14
	PC = R15
)

var bankedNames = map[Reg]string{
	CPSR: "cpsr", SPSR: "spsr",
	R8FIQ: "r8_fiq", R9FIQ: "r9_fiq", R10FIQ: "r10_fiq", R11FIQ: "r11_fiq",
	R12FIQ: "r12_fiq", R13FIQ: "r13_fiq", R14FIQ: "r14_fiq",
	R13SVC: "r13_svc", R14SVC: "r14_svc",
	R13ABT: "r13_abt", R14ABT: "r14_abt",
	R13IRQ: "r13_irq", R14IRQ: "r14_irq",
	R13UND: "r13_und", R14UND: "r14_und",
	R8USR: "r8_usr", R9USR: "r9_usr", R10USR: "r10_usr", R11USR: "r11_usr",
	R12USR: "r12_usr", R13USR: "r13_usr", R14USR: "r14_usr",
	SPSRFIQ: "spsr_fiq", SPSRSVC: "spsr_svc", SPSRABT: "spsr_abt",
	SPSRIRQ: "spsr_irq", SPSRUND: "spsr_und",
	NextPC: "next_pc", IntPending: "int_pending", Cycles: "cycles",
	Scratch: "scratch",
}

func (r Reg) String() string {
	switch r {
	case SP:
		return "sp"
	case LR:
		return "lr"
	case PC:
		return "pc"
	}
	if r < R13 {
		return fmt.Sprintf("r%d", uint8(r))
	}
	if name, ok := bankedNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reg%d", uint8(r))
}

// Offset returns the byte offset of the register in the guest register image.
func (r Reg) Offset() int32 {
	return int32(r) * 4
}

// Register is a guest register number paired with a block-local version.
// Version 0 is the value held in the guest register image at block entry.
type Register struct {
	Num     Reg
	Version uint16
}

func (r Register) String() string {
	if r.Version == 0 {
		return r.Num.String()
	}
	return fmt.Sprintf("%s.%d", r.Num, r.Version)
}
