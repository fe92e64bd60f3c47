// Package emu provides functional ARM7 emulation: the guest register image,
// guest memory, the barrel shifter and flag arithmetic, the single
// instruction interpreter and the interrupt controller.
package emu

import (
	"fmt"

	"github.com/sarchlab/arm7rec/ir"
)

// Mode is an ARM processor mode, as encoded in CPSR bits 4:0.
type Mode uint32

// Processor modes.
const (
	ModeUSR Mode = 0x10
	ModeFIQ Mode = 0x11
	ModeIRQ Mode = 0x12
	ModeSVC Mode = 0x13
	ModeABT Mode = 0x17
	ModeUND Mode = 0x1B
	ModeSYS Mode = 0x1F
)

func (m Mode) String() string {
	switch m {
	case ModeUSR:
		return "usr"
	case ModeFIQ:
		return "fiq"
	case ModeIRQ:
		return "irq"
	case ModeSVC:
		return "svc"
	case ModeABT:
		return "abt"
	case ModeUND:
		return "und"
	case ModeSYS:
		return "sys"
	}
	return fmt.Sprintf("mode(%#x)", uint32(m))
}

// CPSR control bits.
const (
	ModeMask uint32 = 0x1F
	BitT     uint32 = 1 << 5
	BitF     uint32 = 1 << 6
	BitI     uint32 = 1 << 7
)

// ResetCPSR is the CPSR value after a hardware reset: SVC mode with IRQ and
// FIQ masked.
const ResetCPSR = uint32(ModeSVC) | BitI | BitF

// RegFile is the guest register image. Translated code addresses it as a
// flat array of 32-bit words indexed by ir.Reg, so R must stay the first
// field.
type RegFile struct {
	// R holds every guest register and pseudo-register.
	R [ir.NumRegs]uint32

	// onCPSRChange runs after any write that may change the mode or the
	// interrupt masks.
	onCPSRChange func()
}

// NewRegFile creates a register file in the reset state.
func NewRegFile() *RegFile {
	rf := &RegFile{}
	rf.Reset()
	return rf
}

// Reset puts the register file into the hardware reset state. NextPC points
// at the reset vector; the cycle budget is cleared.
func (rf *RegFile) Reset() {
	rf.R = [ir.NumRegs]uint32{}
	rf.R[ir.CPSR] = ResetCPSR
	rf.notify()
}

// Read returns the value of a register.
func (rf *RegFile) Read(r ir.Reg) uint32 {
	return rf.R[r]
}

// Write sets a register without any side effects.
func (rf *RegFile) Write(r ir.Reg, v uint32) {
	rf.R[r] = v
}

// Flags returns the NZCV nibble of the CPSR.
func (rf *RegFile) Flags() ir.Flags {
	return ir.FlagsOf(rf.R[ir.CPSR])
}

// SetFlags replaces the NZCV bits of the CPSR.
func (rf *RegFile) SetFlags(f ir.Flags) {
	rf.R[ir.CPSR] = f.Apply(rf.R[ir.CPSR])
}

// Mode returns the current processor mode.
func (rf *RegFile) Mode() Mode {
	return Mode(rf.R[ir.CPSR] & ModeMask)
}

// NextPC returns the address of the next instruction to run.
func (rf *RegFile) NextPC() uint32 {
	return rf.R[ir.NextPC]
}

// SetNextPC sets the address of the next instruction to run.
func (rf *RegFile) SetNextPC(pc uint32) {
	rf.R[ir.NextPC] = pc
}

// Cycles returns the remaining cycle budget.
func (rf *RegFile) Cycles() int32 {
	return int32(rf.R[ir.Cycles])
}

// AddCycles adds n to the cycle budget; n may be negative.
func (rf *RegFile) AddCycles(n int32) {
	rf.R[ir.Cycles] = uint32(int32(rf.R[ir.Cycles]) + n)
}

// SetCPSR writes the whole CPSR, switching register banks when the mode
// changes.
func (rf *RegFile) SetCPSR(v uint32) {
	old := rf.Mode()
	next := Mode(v & ModeMask)
	if old != next {
		rf.saveBank(old)
		rf.loadBank(next)
	}
	rf.R[ir.CPSR] = v
	rf.notify()
}

// RestoreCPSR copies the SPSR of the current mode into the CPSR. It does
// nothing in modes without an SPSR.
func (rf *RegFile) RestoreCPSR() {
	if _, ok := spsrSlot(rf.Mode()); !ok {
		return
	}
	rf.SetCPSR(rf.R[ir.SPSR])
}

// ReadPSR returns the CPSR or the current mode's SPSR.
func (rf *RegFile) ReadPSR(spsr bool) uint32 {
	if spsr {
		return rf.R[ir.SPSR]
	}
	return rf.R[ir.CPSR]
}

// WritePSR performs an MSR. mask selects the control (bit 0), extension
// (bit 1), status (bit 2) and flags (bit 3) bytes. User mode may only write
// the flags byte of the CPSR.
func (rf *RegFile) WritePSR(value uint32, mask uint8, spsr bool) {
	var bytes uint32
	for i := 0; i < 4; i++ {
		if mask&(1<<i) != 0 {
			bytes |= 0xFF << (8 * i)
		}
	}

	if spsr {
		if _, ok := spsrSlot(rf.Mode()); ok {
			rf.R[ir.SPSR] = rf.R[ir.SPSR]&^bytes | value&bytes
		}
		return
	}

	if rf.Mode() == ModeUSR {
		bytes &= 0xFF000000
	}
	rf.SetCPSR(rf.R[ir.CPSR]&^bytes | value&bytes)
}

// EnterException performs exception entry: the old CPSR goes to the new
// mode's SPSR, lr is written to the new mode's R14, interrupts are masked
// and execution continues at vector.
func (rf *RegFile) EnterException(mode Mode, vector, lr uint32) {
	saved := rf.R[ir.CPSR]
	cpsr := saved&^(ModeMask|BitT) | uint32(mode) | BitI
	if mode == ModeFIQ {
		cpsr |= BitF
	}
	rf.SetCPSR(cpsr)
	rf.R[ir.SPSR] = saved
	rf.R[ir.LR] = lr
	rf.R[ir.NextPC] = vector
}

// UserReg returns the user-bank view of register r, as used by block
// transfers with the S bit.
func (rf *RegFile) UserReg(r ir.Reg) uint32 {
	return rf.R[rf.userSlot(r)]
}

// SetUserReg writes the user-bank view of register r.
func (rf *RegFile) SetUserReg(r ir.Reg, v uint32) {
	rf.R[rf.userSlot(r)] = v
}

func (rf *RegFile) userSlot(r ir.Reg) ir.Reg {
	mode := rf.Mode()
	if mode == ModeUSR || mode == ModeSYS || r < ir.R8 || r > ir.R14 {
		return r
	}
	if mode == ModeFIQ {
		return ir.R8USR + (r - ir.R8)
	}
	if r >= ir.R13 {
		return ir.R13USR + (r - ir.R13)
	}
	return r
}

func (rf *RegFile) notify() {
	if rf.onCPSRChange != nil {
		rf.onCPSRChange()
	}
}

func (rf *RegFile) saveBank(m Mode) {
	if m == ModeFIQ {
		copy(rf.R[ir.R8FIQ:ir.R14FIQ+1], rf.R[ir.R8:ir.R14+1])
	} else {
		copy(rf.R[ir.R8USR:ir.R12USR+1], rf.R[ir.R8:ir.R12+1])
		r13, r14 := stackSlots(m)
		rf.R[r13] = rf.R[ir.R13]
		rf.R[r14] = rf.R[ir.R14]
	}
	if slot, ok := spsrSlot(m); ok {
		rf.R[slot] = rf.R[ir.SPSR]
	}
}

func (rf *RegFile) loadBank(m Mode) {
	if m == ModeFIQ {
		copy(rf.R[ir.R8:ir.R14+1], rf.R[ir.R8FIQ:ir.R14FIQ+1])
	} else {
		copy(rf.R[ir.R8:ir.R12+1], rf.R[ir.R8USR:ir.R12USR+1])
		r13, r14 := stackSlots(m)
		rf.R[ir.R13] = rf.R[r13]
		rf.R[ir.R14] = rf.R[r14]
	}
	if slot, ok := spsrSlot(m); ok {
		rf.R[ir.SPSR] = rf.R[slot]
	}
}

func stackSlots(m Mode) (ir.Reg, ir.Reg) {
	switch m {
	case ModeSVC:
		return ir.R13SVC, ir.R14SVC
	case ModeABT:
		return ir.R13ABT, ir.R14ABT
	case ModeIRQ:
		return ir.R13IRQ, ir.R14IRQ
	case ModeUND:
		return ir.R13UND, ir.R14UND
	}
	return ir.R13USR, ir.R14USR
}

func spsrSlot(m Mode) (ir.Reg, bool) {
	switch m {
	case ModeFIQ:
		return ir.SPSRFIQ, true
	case ModeSVC:
		return ir.SPSRSVC, true
	case ModeABT:
		return ir.SPSRABT, true
	case ModeIRQ:
		return ir.SPSRIRQ, true
	case ModeUND:
		return ir.SPSRUND, true
	}
	return 0, false
}
