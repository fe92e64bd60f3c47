package emu

import (
	"math/bits"

	"github.com/sarchlab/arm7rec/ir"
)

// AddWithCarry returns a + b + carry with the ARM carry and overflow.
func AddWithCarry(a, b uint32, carry bool) (result uint32, c, v bool) {
	var cin uint32
	if carry {
		cin = 1
	}
	sum, cout := bits.Add32(a, b, cin)
	result = sum
	c = cout != 0
	v = (a^result)&(b^result)>>31 != 0
	return result, c, v
}

// DataProcess evaluates one of the sixteen ALU ops. shifterCarry is the
// carry-out of operand 2 (the current C when the shifter did not produce
// one). It returns the result and the flags the op would set with S.
func DataProcess(t ir.OpType, rn, op2 uint32, f ir.Flags, shifterCarry bool) (uint32, ir.Flags) {
	var (
		res  uint32
		c, v = f.C(), f.V()
	)

	switch t {
	case ir.AND, ir.TST:
		res, c = rn&op2, shifterCarry
	case ir.EOR, ir.TEQ:
		res, c = rn^op2, shifterCarry
	case ir.ORR:
		res, c = rn|op2, shifterCarry
	case ir.MOV:
		res, c = op2, shifterCarry
	case ir.BIC:
		res, c = rn&^op2, shifterCarry
	case ir.MVN:
		res, c = ^op2, shifterCarry
	case ir.SUB, ir.CMP:
		res, c, v = AddWithCarry(rn, ^op2, true)
	case ir.RSB:
		res, c, v = AddWithCarry(op2, ^rn, true)
	case ir.ADD, ir.CMN:
		res, c, v = AddWithCarry(rn, op2, false)
	case ir.ADC:
		res, c, v = AddWithCarry(rn, op2, f.C())
	case ir.SBC:
		res, c, v = AddWithCarry(rn, ^op2, f.C())
	case ir.RSC:
		res, c, v = AddWithCarry(op2, ^rn, f.C())
	}

	return res, ir.MakeFlags(res>>31 != 0, res == 0, c, v)
}
