package arm64

import (
	"fmt"

	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/arm64"

	"github.com/sarchlab/arm7rec/backend"
	"github.com/sarchlab/arm7rec/backend/native"
	"github.com/sarchlab/arm7rec/block"
	"github.com/sarchlab/arm7rec/ir"
	"github.com/sarchlab/arm7rec/regalloc"
)

// Scratch registers. R0-R3 double as callback arguments.
const (
	rA  = arm64.REG_R0
	rB  = arm64.REG_R1
	rS  = arm64.REG_R9  // shifter output
	rD  = arm64.REG_R10 // shifter carry
	rC  = arm64.REG_R11 // shift count, flags
	rT  = arm64.REG_R12
	rU  = arm64.REG_R13
	rFn = arm64.REG_R8
)

// regEmitter moves values between allocated host registers and the image.
type regEmitter struct {
	a *assembler
}

func (e regEmitter) LoadReg(h int16, r ir.Reg) {
	e.a.inst(arm64.AMOVWU, image(r), reg(h))
}

func (e regEmitter) StoreReg(h int16, r ir.Reg) {
	e.a.inst(arm64.AMOVW, reg(h), image(r))
}

var _ regalloc.Emitter[int16] = regEmitter{}

// emitter generates the code of one block.
type emitter struct {
	*assembler
	alloc *regalloc.Allocator[int16]

	dispatch, exit uintptr
}

func newEmitter(dispatch, exit uintptr) (*emitter, error) {
	a, err := newAssembler(256)
	if err != nil {
		return nil, err
	}
	return &emitter{
		assembler: a,
		alloc:     regalloc.New[int16](hostRegs, regEmitter{a: a}),
		dispatch:  dispatch,
		exit:      exit,
	}, nil
}

// block emits a guard, the ops and the tail that returns to dispatch.
func (e *emitter) block(blk *block.Block) ([]byte, error) {
	e.inst(arm64.AMOVWU, image(ir.NextPC), reg(rT))
	e.inst(arm64.AMOVD, imm32(blk.PC), reg(rU))
	e.inst(arm64.ACMPW, reg(rU), reg(rT))
	miss := e.jump(arm64.ABNE)

	ops := blk.Ops
	e.alloc.Begin(ops)
	for i := range ops {
		e.alloc.Load(i)
		if err := e.op(&ops[i]); err != nil {
			return nil, err
		}
		e.alloc.Store(i)
	}
	e.alloc.FlushAll()

	e.inst(arm64.AMOVWU, image(ir.Cycles), reg(rT))
	e.inst(arm64.AMOVD, imm32(uint32(blk.Cycles)), reg(rU))
	e.inst(arm64.ASUBW, reg(rU), reg(rT))
	e.inst(arm64.AMOVW, reg(rT), image(ir.Cycles))
	e.inst(arm64.AMOVD, imm(int64(e.dispatch)), reg(rT))
	e.inst(obj.AJMP, none(), mem(rT, 0))

	e.here(miss)
	e.inst(arm64.AMOVD, imm(int64(backend.ExitMiss)), reg(rA))
	e.inst(arm64.AMOVD, imm(int64(e.exit)), reg(rT))
	e.inst(obj.AJMP, none(), mem(rT, 0))

	return e.assemble(), nil
}

// op emits one op, guarded by its condition.
func (e *emitter) op(op *ir.Op) error {
	var skip *obj.Prog
	if op.Cond.Conditional() {
		e.inst(arm64.AMOVWU, image(ir.CPSR), reg(rC))
		e.inst(arm64.ALSRW, imm(ir.CPSRFlagShift), reg(rC))
		e.inst(arm64.AMOVD, imm(int64(op.Cond.Mask())), reg(rT))
		e.inst(arm64.ALSRW, reg(rC), reg(rT))
		e.inst(arm64.AANDW, imm(1), reg(rT))
		skip = e.jumpIfZero(rT)
	}

	switch {
	case op.Type.IsDataProcessing():
		e.dataProcessing(op)
	case op.Type == ir.LDR:
		e.load(op)
	case op.Type == ir.STR:
		e.store(op)
	case op.Type == ir.B, op.Type == ir.BL:
		e.branch(op)
	case op.Type == ir.MRS:
		e.mrs(op)
	case op.Type == ir.MSR:
		e.msr(op)
	case op.Type == ir.FALLBACK:
		e.fallback(op)
	default:
		return fmt.Errorf("arm64: cannot emit %s", op)
	}

	if skip == nil {
		return nil
	}
	if op.Type == ir.B || op.Type == ir.BL {
		done := e.jump(obj.AJMP)
		e.here(skip)
		e.setNextPC(op.PC + 4)
		e.here(done)
		return nil
	}
	e.here(skip)
	return nil
}

func (e *emitter) setNextPC(pc uint32) {
	e.inst(arm64.AMOVD, imm32(pc), reg(rT))
	e.inst(arm64.AMOVW, reg(rT), image(ir.NextPC))
}

// carryIn sets dst to the guest C flag as 0 or 1.
func (e *emitter) carryIn(dst int16) {
	e.inst(arm64.AMOVWU, image(ir.CPSR), reg(dst))
	e.inst(arm64.ALSRW, imm(29), reg(dst))
	e.inst(arm64.AANDW, imm(1), reg(dst))
}

// bitOf sets the carry register to bit n of src.
func (e *emitter) bitOf(src int16, n int64) {
	e.inst3(arm64.ALSRW, imm(n), src, reg(rD))
	e.inst(arm64.AANDW, imm(1), reg(rD))
}

// shifter places the shifter output in R9. With wantCarry the carry-out is
// placed in R10 as 0 or 1. R11 and R12 are clobbered.
func (e *emitter) shifter(o ir.Operand, wantCarry bool) {
	switch {
	case o.IsImm():
		e.inst(arm64.AMOVD, imm32(o.Imm), reg(rS))
		if !wantCarry {
			return
		}
		if o.Rotated {
			e.inst(arm64.AMOVD, imm(int64(o.Imm>>31)), reg(rD))
		} else {
			e.carryIn(rD)
		}
		return

	case !o.IsShifted():
		e.inst(arm64.AMOVWU, reg(e.alloc.Map(o.Reg)), reg(rS))
		if wantCarry {
			e.carryIn(rD)
		}
		return

	case o.ShiftByReg:
		e.shiftByReg(o, wantCarry)
		return
	}

	e.inst(arm64.AMOVWU, reg(e.alloc.Map(o.Reg)), reg(rS))
	n := int64(o.ShiftImm)

	if o.IsRRX() {
		if wantCarry {
			e.bitOf(rS, 0)
		}
		e.inst(arm64.AMOVWU, image(ir.CPSR), reg(rC))
		e.inst(arm64.AANDW, imm32(ir.CPSRCarryBit), reg(rC))
		e.inst(arm64.ALSLW, imm(2), reg(rC))
		e.inst(arm64.ALSRW, imm(1), reg(rS))
		e.inst(arm64.AORRW, reg(rC), reg(rS))
		return
	}

	switch o.Shift {
	case ir.LSL:
		if wantCarry {
			e.bitOf(rS, 32-n)
		}
		e.inst(arm64.ALSLW, imm(n), reg(rS))
	case ir.LSR:
		if n == 0 {
			if wantCarry {
				e.bitOf(rS, 31)
			}
			e.inst(arm64.AMOVD, imm(0), reg(rS))
			return
		}
		if wantCarry {
			e.bitOf(rS, n-1)
		}
		e.inst(arm64.ALSRW, imm(n), reg(rS))
	case ir.ASR:
		if n == 0 {
			n = 32
		}
		if wantCarry {
			e.bitOf(rS, n-1)
		}
		if n == 32 {
			n = 31
		}
		e.inst(arm64.AASRW, imm(n), reg(rS))
	case ir.ROR:
		e.inst(arm64.ARORW, imm(n), reg(rS))
		if wantCarry {
			e.bitOf(rS, 31)
		}
	}
}

// shiftByReg shifts by the low byte of a register, widening the value to 64
// bits so that amounts of 32 and above need no special case.
func (e *emitter) shiftByReg(o ir.Operand, wantCarry bool) {
	e.inst(arm64.AMOVWU, reg(e.alloc.Map(o.ShiftReg)), reg(rC))
	e.inst(arm64.AANDW, imm(0xFF), reg(rC))
	e.inst(arm64.AMOVWU, reg(e.alloc.Map(o.Reg)), reg(rS))
	if wantCarry {
		e.carryIn(rD)
	}
	zero := e.jumpIfZero(rC)

	clamp := func(max int64) {
		e.inst(arm64.ACMPW, imm(max), reg(rC))
		ok := e.jump(arm64.ABLS)
		e.inst(arm64.AMOVD, imm(max), reg(rC))
		e.here(ok)
	}
	low := func() {
		if wantCarry {
			e.inst3(arm64.AAND, imm(1), rS, reg(rD))
		}
	}

	switch o.Shift {
	case ir.LSL:
		clamp(33)
		e.inst(arm64.ALSL, reg(rC), reg(rS))
		if wantCarry {
			e.inst3(arm64.ALSR, imm(32), rS, reg(rD))
			e.inst(arm64.AAND, imm(1), reg(rD))
		}
	case ir.LSR:
		clamp(33)
		e.inst(arm64.ALSL, imm(1), reg(rS))
		e.inst(arm64.ALSR, reg(rC), reg(rS))
		low()
		e.inst(arm64.ALSR, imm(1), reg(rS))
	case ir.ASR:
		clamp(32)
		e.inst(arm64.ASXTW, reg(rS), reg(rS))
		e.inst(arm64.ALSL, imm(1), reg(rS))
		e.inst(arm64.AASR, reg(rC), reg(rS))
		low()
		e.inst(arm64.AASR, imm(1), reg(rS))
	case ir.ROR:
		e.inst(arm64.ARORW, reg(rC), reg(rS))
		if wantCarry {
			e.bitOf(rS, 31)
		}
	}

	e.here(zero)
	e.inst(arm64.AMOVWU, reg(rS), reg(rS))
}

// value places an operand in dst.
func (e *emitter) value(o ir.Operand, dst int16) {
	switch {
	case o.IsNone():
		e.inst(arm64.AMOVD, imm(0), reg(dst))
	case o.IsImm():
		e.inst(arm64.AMOVD, imm32(o.Imm), reg(dst))
	case !o.IsShifted():
		e.inst(arm64.AMOVWU, reg(e.alloc.Map(o.Reg)), reg(dst))
	default:
		e.shifter(o, false)
		if dst != rS {
			e.inst(arm64.AMOVWU, reg(rS), reg(dst))
		}
	}
}

// writeDest copies src into the op's destination, word aligning a new PC.
func (e *emitter) writeDest(op *ir.Op, src int16) {
	if op.Dest.Reg.Num == ir.NextPC {
		e.inst(arm64.AANDW, imm32(^uint32(3)), reg(src))
	}
	e.inst(arm64.AMOVWU, reg(src), reg(e.alloc.Map(op.Dest.Reg)))
}

// loadCarry copies the guest flags into NZCV.
func (e *emitter) loadCarry() {
	e.inst(arm64.AMOVWU, image(ir.CPSR), reg(rC))
	e.inst(arm64.AANDW, imm32(ir.CPSRFlagMask), reg(rC))
	e.inst(arm64.AMSR, reg(rC), reg(arm64.REG_NZCV))
}

// arithmetic maps an arithmetic kind to its plain and flag-setting forms,
// and reports whether the operands are reversed.
func arithmetic(t ir.OpType) (plain, setting obj.As, reverse bool) {
	switch t {
	case ir.ADD, ir.CMN:
		return arm64.AADDW, arm64.AADDSW, false
	case ir.ADC:
		return arm64.AADCW, arm64.AADCSW, false
	case ir.SUB, ir.CMP:
		return arm64.ASUBW, arm64.ASUBSW, false
	case ir.SBC:
		return arm64.ASBCW, arm64.ASBCSW, false
	case ir.RSB:
		return arm64.ASUBW, arm64.ASUBSW, true
	case ir.RSC:
		return arm64.ASBCW, arm64.ASBCSW, true
	}
	return obj.AXXX, obj.AXXX, false
}

func (e *emitter) dataProcessing(op *ir.Op) {
	t := op.Type
	logicalFlags := op.FlagsOut && t.IsLogical()

	e.shifter(op.Args[1], logicalFlags)
	if !op.Args[0].IsNone() {
		e.value(op.Args[0], rA)
	}

	switch t {
	case ir.AND, ir.TST:
		e.inst(arm64.AANDW, reg(rS), reg(rA))
	case ir.EOR, ir.TEQ:
		e.inst(arm64.AEORW, reg(rS), reg(rA))
	case ir.ORR:
		e.inst(arm64.AORRW, reg(rS), reg(rA))
	case ir.BIC:
		e.inst(arm64.ABICW, reg(rS), reg(rA))
	case ir.MOV:
		e.inst(arm64.AMOVWU, reg(rS), reg(rA))
	case ir.MVN:
		e.inst(arm64.AMVNW, reg(rS), reg(rA))
	default:
		plain, setting, reverse := arithmetic(t)
		if t.UsesCarryIn() {
			e.loadCarry()
		}
		as := plain
		if op.FlagsOut {
			as = setting
		}
		if reverse {
			e.inst3(as, reg(rA), rS, reg(rA))
		} else {
			e.inst3(as, reg(rS), rA, reg(rA))
		}
	}

	if op.FlagsOut {
		if logicalFlags {
			e.inst3(arm64.ATSTW, reg(rA), rA, none())
			e.logicalFlags()
		} else {
			e.arithmeticFlags()
		}
	}

	if op.WritesDest() {
		e.writeDest(op, rA)
	}
}

// arithmeticFlags copies NZCV into the guest CPSR.
func (e *emitter) arithmeticFlags() {
	e.inst(arm64.AMRS, reg(arm64.REG_NZCV), reg(rC))
	e.inst(arm64.AMOVWU, image(ir.CPSR), reg(rT))
	e.inst(arm64.AANDW, imm32(^ir.CPSRFlagMask), reg(rT))
	e.inst(arm64.AORRW, reg(rC), reg(rT))
	e.inst(arm64.AMOVW, reg(rT), image(ir.CPSR))
}

// logicalFlags copies N and Z, takes C from the shifter carry and keeps V.
func (e *emitter) logicalFlags() {
	e.inst(arm64.AMRS, reg(arm64.REG_NZCV), reg(rC))
	e.inst(arm64.AANDW, imm32(hostN|hostZ), reg(rC))
	e.inst(arm64.ALSLW, imm(29), reg(rD))
	e.inst(arm64.AORRW, reg(rD), reg(rC))
	e.inst(arm64.AMOVWU, image(ir.CPSR), reg(rT))
	e.inst(arm64.AANDW, imm32(^(hostN | hostZ | hostC)), reg(rT))
	e.inst(arm64.AORRW, reg(rC), reg(rT))
	e.inst(arm64.AMOVW, reg(rT), image(ir.CPSR))
}

// address places the effective address in R1.
func (e *emitter) address(op *ir.Op) {
	if !op.PreIndex {
		e.value(op.Args[0], rB)
		return
	}
	e.value(op.Args[1], rA)
	e.value(op.Args[0], rB)
	if op.AddOffset {
		e.inst(arm64.AADDW, reg(rA), reg(rB))
	} else {
		e.inst(arm64.ASUBW, reg(rA), reg(rB))
	}
}

// call calls a context callback with the context as first argument.
// Remaining arguments must already be in R1-R3.
func (e *emitter) call(off int64) {
	e.inst(arm64.AMOVD, reg(regCtx), reg(rA))
	e.inst(arm64.AMOVD, mem(regCtx, off), reg(rFn))
	e.inst(arm64.ABL, none(), mem(rFn, 0))
}

func (e *emitter) load(op *ir.Op) {
	e.address(op)
	if op.Byte {
		e.call(native.OffRead8)
		e.inst(arm64.AANDW, imm(0xFF), reg(rA))
	} else {
		e.call(native.OffRead32)
	}
	e.writeDest(op, rA)
}

func (e *emitter) store(op *ir.Op) {
	e.value(op.Args[2], rU)
	e.address(op)
	e.inst(arm64.AMOVWU, reg(rU), reg(arm64.REG_R2))
	if op.Byte {
		e.inst(arm64.AANDW, imm(0xFF), reg(arm64.REG_R2))
		e.call(native.OffWrite8)
	} else {
		e.call(native.OffWrite32)
	}
}

func (e *emitter) branch(op *ir.Op) {
	if op.Type == ir.BL {
		e.inst(arm64.AMOVD, imm32(op.Args[1].Imm), reg(e.alloc.Map(op.Dest.Reg)))
	}
	e.setNextPC(op.Args[0].Imm)
}

func boolImm(b bool) obj.Addr {
	if b {
		return imm(1)
	}
	return imm(0)
}

func (e *emitter) mrs(op *ir.Op) {
	e.inst(arm64.AMOVD, boolImm(op.SPSR), reg(rB))
	e.call(native.OffReadPSR)
	e.inst(arm64.AMOVWU, reg(rA), reg(e.alloc.Map(op.Dest.Reg)))
}

func (e *emitter) msr(op *ir.Op) {
	e.value(op.Args[0], rB)
	e.inst(arm64.AMOVD, imm(int64(op.FieldMask)), reg(arm64.REG_R2))
	e.inst(arm64.AMOVD, boolImm(op.SPSR), reg(arm64.REG_R3))
	e.call(native.OffWritePSR)
}

func (e *emitter) fallback(op *ir.Op) {
	e.setNextPC(op.PC + 4)
	e.inst(arm64.AMOVD, imm32(op.Raw), reg(rB))
	e.call(native.OffInterpret)
}
