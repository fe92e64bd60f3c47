package amd64

import "github.com/sarchlab/arm7rec/ir"

// EFLAGS bits that carry guest flags.
const (
	hostC uint32 = 1 << 0
	hostZ uint32 = 1 << 6
	hostN uint32 = 1 << 7
	hostV uint32 = 1 << 11
)

// cpsrV is the V bit inside the CPSR.
const cpsrV = uint32(ir.FlagV) << ir.CPSRFlagShift

// flagsToHost lays NZCV out as EFLAGS after a subtraction, with C already
// inverted back to the guest sense.
func flagsToHost(f ir.Flags) uint32 {
	var h uint32
	if f.N() {
		h |= hostN
	}
	if f.Z() {
		h |= hostZ
	}
	if f.C() {
		h |= hostC
	}
	if f.V() {
		h |= hostV
	}
	return h
}

// flagsFromHost is the inverse of flagsToHost. It performs the same bit
// moves as the code emitted after flag-setting ops.
func flagsFromHost(h uint32) ir.Flags {
	cpsr := (h&(hostN|hostZ))<<24 | (h&hostC)<<29 | (h&hostV)<<17
	return ir.FlagsOf(cpsr)
}
