package amd64

import (
	"fmt"

	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/sarchlab/arm7rec/backend"
	"github.com/sarchlab/arm7rec/backend/native"
	"github.com/sarchlab/arm7rec/block"
	"github.com/sarchlab/arm7rec/ir"
	"github.com/sarchlab/arm7rec/regalloc"
)

// Scratch registers. Operand values are staged in these; none of them
// survive a call.
const (
	rA = x86.REG_AX
	rC = x86.REG_CX
	rD = x86.REG_DX
	rS = x86.REG_SI
	rI = x86.REG_DI
	r8 = x86.REG_R8
	r9 = x86.REG_R9
)

// regEmitter moves values between allocated host registers and the image.
type regEmitter struct {
	a *assembler
}

func (e regEmitter) LoadReg(h int16, r ir.Reg) {
	e.a.inst(x86.AMOVL, image(r), reg(h))
}

func (e regEmitter) StoreReg(h int16, r ir.Reg) {
	e.a.inst(x86.AMOVL, reg(h), image(r))
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
	e.inst(x86.ACMPL, image(ir.NextPC), imm32(blk.PC))
	miss := e.jump(x86.AJNE)

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

	e.inst(x86.ASUBL, imm32(uint32(blk.Cycles)), image(ir.Cycles))
	e.inst(x86.AMOVQ, imm(int64(e.dispatch)), reg(rA))
	e.inst(obj.AJMP, none(), reg(rA))

	e.here(miss)
	e.inst(x86.AMOVL, imm(int64(backend.ExitMiss)), reg(rA))
	e.inst(x86.AMOVQ, imm(int64(e.exit)), reg(rC))
	e.inst(obj.AJMP, none(), reg(rC))

	return e.assemble(), nil
}

// op emits one op, guarded by its condition.
func (e *emitter) op(op *ir.Op) error {
	var skip *obj.Prog
	if op.Cond.Conditional() {
		e.inst(x86.AMOVL, image(ir.CPSR), reg(rC))
		e.inst(x86.ASHRL, imm(ir.CPSRFlagShift), reg(rC))
		e.inst(x86.AMOVL, imm(int64(op.Cond.Mask())), reg(rA))
		e.inst(x86.ASHRL, reg(rC), reg(rA))
		e.inst(x86.ATESTL, imm(1), reg(rA))
		skip = e.jump(x86.AJEQ)
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
		return fmt.Errorf("amd64: cannot emit %s", op)
	}

	if skip == nil {
		return nil
	}
	if op.Type == ir.B || op.Type == ir.BL {
		done := e.jump(obj.AJMP)
		e.here(skip)
		e.inst(x86.AMOVL, imm32(op.PC+4), image(ir.NextPC))
		e.here(done)
		return nil
	}
	e.here(skip)
	return nil
}

// carryIn sets dst to the guest C flag as 0 or 1.
func (e *emitter) carryIn(dst int16) {
	e.inst(x86.AMOVL, image(ir.CPSR), reg(dst))
	e.inst(x86.ASHRL, imm(29), reg(dst))
	e.inst(x86.AANDL, imm(1), reg(dst))
}

// shifter places the shifter output in SI. With wantCarry the shifter
// carry-out is placed in DX as 0 or 1. CX and DI are clobbered.
func (e *emitter) shifter(o ir.Operand, wantCarry bool) {
	switch {
	case o.IsImm():
		e.inst(x86.AMOVL, imm32(o.Imm), reg(rS))
		if !wantCarry {
			return
		}
		if o.Rotated {
			e.inst(x86.AMOVL, imm(int64(o.Imm>>31)), reg(rD))
		} else {
			e.carryIn(rD)
		}
		return

	case !o.IsShifted():
		e.inst(x86.AMOVL, reg(e.alloc.Map(o.Reg)), reg(rS))
		if wantCarry {
			e.carryIn(rD)
		}
		return

	case o.ShiftByReg:
		e.shiftByReg(o, wantCarry)
		return
	}

	e.inst(x86.AMOVL, reg(e.alloc.Map(o.Reg)), reg(rS))
	n := int64(o.ShiftImm)

	if o.IsRRX() {
		if wantCarry {
			e.inst(x86.AMOVL, reg(rS), reg(rD))
			e.inst(x86.AANDL, imm(1), reg(rD))
		}
		e.inst(x86.AMOVL, image(ir.CPSR), reg(rC))
		e.inst(x86.AANDL, imm32(ir.CPSRCarryBit), reg(rC))
		e.inst(x86.ASHLL, imm(2), reg(rC))
		e.inst(x86.ASHRL, imm(1), reg(rS))
		e.inst(x86.AORL, reg(rC), reg(rS))
		return
	}

	switch o.Shift {
	case ir.LSL:
		if wantCarry {
			e.bitOf(rS, 32-n)
		}
		e.inst(x86.ASHLL, imm(n), reg(rS))
	case ir.LSR:
		if n == 0 {
			if wantCarry {
				e.bitOf(rS, 31)
			}
			e.inst(x86.AXORL, reg(rS), reg(rS))
			return
		}
		if wantCarry {
			e.bitOf(rS, n-1)
		}
		e.inst(x86.ASHRL, imm(n), reg(rS))
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
		e.inst(x86.ASARL, imm(n), reg(rS))
	case ir.ROR:
		e.inst(x86.ARORL, imm(n), reg(rS))
		if wantCarry {
			e.bitOf(rS, 31)
		}
	}
}

// bitOf sets DX to bit n of src.
func (e *emitter) bitOf(src int16, n int64) {
	e.inst(x86.AMOVL, reg(src), reg(rD))
	e.inst(x86.ASHRL, imm(n), reg(rD))
	e.inst(x86.AANDL, imm(1), reg(rD))
}

// shiftByReg shifts by the low byte of a register. The value is widened to
// 64 bits so that amounts of 32 and above fall out of ordinary shifts: the
// extra bit below the value catches the last bit shifted out.
func (e *emitter) shiftByReg(o ir.Operand, wantCarry bool) {
	e.inst(x86.AMOVL, reg(e.alloc.Map(o.ShiftReg)), reg(rC))
	e.inst(x86.AANDL, imm(0xFF), reg(rC))
	e.inst(x86.AMOVL, reg(e.alloc.Map(o.Reg)), reg(rS))
	if wantCarry {
		e.carryIn(rD)
	}
	e.inst(x86.ATESTL, reg(rC), reg(rC))
	zero := e.jump(x86.AJEQ)

	clamp := func(max int64) {
		e.inst(x86.AMOVL, imm(max), reg(rI))
		e.inst(x86.ACMPL, reg(rC), reg(rI))
		e.inst(x86.ACMOVLHI, reg(rI), reg(rC))
	}
	low := func() {
		if wantCarry {
			e.inst(x86.AMOVL, reg(rS), reg(rD))
			e.inst(x86.AANDL, imm(1), reg(rD))
		}
	}

	switch o.Shift {
	case ir.LSL:
		clamp(33)
		e.inst(x86.ASHLQ, reg(rC), reg(rS))
		if wantCarry {
			e.inst(x86.AMOVQ, reg(rS), reg(rD))
			e.inst(x86.ASHRQ, imm(32), reg(rD))
			e.inst(x86.AANDL, imm(1), reg(rD))
		}
	case ir.LSR:
		clamp(33)
		e.inst(x86.ASHLQ, imm(1), reg(rS))
		e.inst(x86.ASHRQ, reg(rC), reg(rS))
		low()
		e.inst(x86.ASHRQ, imm(1), reg(rS))
	case ir.ASR:
		clamp(32)
		e.inst(x86.AMOVLQSX, reg(rS), reg(rS))
		e.inst(x86.ASHLQ, imm(1), reg(rS))
		e.inst(x86.ASARQ, reg(rC), reg(rS))
		low()
		e.inst(x86.ASARQ, imm(1), reg(rS))
	case ir.ROR:
		e.inst(x86.ARORL, reg(rC), reg(rS))
		if wantCarry {
			e.bitOf(rS, 31)
		}
	}

	e.here(zero)
	e.inst(x86.AMOVL, reg(rS), reg(rS))
}

// value places an operand in dst. Shifted operands clobber SI, CX, DX
// and DI.
func (e *emitter) value(o ir.Operand, dst int16) {
	switch {
	case o.IsNone():
		e.inst(x86.AXORL, reg(dst), reg(dst))
	case o.IsImm():
		e.inst(x86.AMOVL, imm32(o.Imm), reg(dst))
	case !o.IsShifted():
		e.inst(x86.AMOVL, reg(e.alloc.Map(o.Reg)), reg(dst))
	default:
		e.shifter(o, false)
		if dst != rS {
			e.inst(x86.AMOVL, reg(rS), reg(dst))
		}
	}
}

// writeDest copies src into the op's destination, word aligning a new PC.
func (e *emitter) writeDest(op *ir.Op, src int16) {
	if op.Dest.Reg.Num == ir.NextPC {
		e.inst(x86.AANDL, imm32(^uint32(3)), reg(src))
	}
	e.inst(x86.AMOVL, reg(src), reg(e.alloc.Map(op.Dest.Reg)))
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
		e.inst(x86.AANDL, reg(rS), reg(rA))
	case ir.EOR, ir.TEQ:
		e.inst(x86.AXORL, reg(rS), reg(rA))
	case ir.ORR:
		e.inst(x86.AORL, reg(rS), reg(rA))
	case ir.BIC:
		e.inst(x86.ANOTL, none(), reg(rS))
		e.inst(x86.AANDL, reg(rS), reg(rA))
	case ir.MOV:
		e.inst(x86.AMOVL, reg(rS), reg(rA))
	case ir.MVN:
		e.inst(x86.AMOVL, reg(rS), reg(rA))
		e.inst(x86.ANOTL, none(), reg(rA))
	case ir.ADD, ir.CMN:
		e.inst(x86.AADDL, reg(rS), reg(rA))
	case ir.ADC:
		e.inst(x86.ABTL, imm(29), image(ir.CPSR))
		e.inst(x86.AADCL, reg(rS), reg(rA))
	case ir.SUB, ir.CMP:
		e.inst(x86.ASUBL, reg(rS), reg(rA))
		e.inst(x86.ACMC, none(), none())
	case ir.SBC:
		e.borrowIn()
		e.inst(x86.ASBBL, reg(rS), reg(rA))
		e.inst(x86.ACMC, none(), none())
	case ir.RSB:
		e.inst(x86.ASUBL, reg(rA), reg(rS))
		e.inst(x86.ACMC, none(), none())
		e.inst(x86.AMOVL, reg(rS), reg(rA))
	case ir.RSC:
		e.borrowIn()
		e.inst(x86.ASBBL, reg(rA), reg(rS))
		e.inst(x86.ACMC, none(), none())
		e.inst(x86.AMOVL, reg(rS), reg(rA))
	}

	if op.FlagsOut {
		if logicalFlags {
			e.inst(x86.ATESTL, reg(rA), reg(rA))
			e.logicalFlags()
		} else {
			e.arithmeticFlags()
		}
	}

	if op.WritesDest() {
		e.writeDest(op, rA)
	}
}

// borrowIn sets the host carry to the inverse of the guest C flag.
func (e *emitter) borrowIn() {
	e.inst(x86.ABTL, imm(29), image(ir.CPSR))
	e.inst(x86.ACMC, none(), none())
}

// arithmeticFlags moves SF, ZF, CF and OF into the guest NZCV.
func (e *emitter) arithmeticFlags() {
	e.inst(x86.APUSHFQ, none(), none())
	e.inst(x86.APOPQ, none(), reg(rC))

	e.inst(x86.AMOVL, reg(rC), reg(rI))
	e.inst(x86.AANDL, imm(int64(hostN|hostZ)), reg(rI))
	e.inst(x86.ASHLL, imm(24), reg(rI))
	e.inst(x86.AMOVL, reg(rC), reg(r8))
	e.inst(x86.AANDL, imm(int64(hostC)), reg(r8))
	e.inst(x86.ASHLL, imm(29), reg(r8))
	e.inst(x86.AORL, reg(r8), reg(rI))
	e.inst(x86.AANDL, imm(int64(hostV)), reg(rC))
	e.inst(x86.ASHLL, imm(17), reg(rC))
	e.inst(x86.AORL, reg(rC), reg(rI))

	e.inst(x86.AMOVL, image(ir.CPSR), reg(r8))
	e.inst(x86.AANDL, imm32(^ir.CPSRFlagMask), reg(r8))
	e.inst(x86.AORL, reg(rI), reg(r8))
	e.inst(x86.AMOVL, reg(r8), image(ir.CPSR))
}

// logicalFlags moves SF and ZF into N and Z, and the shifter carry in DX
// into C. V is kept.
func (e *emitter) logicalFlags() {
	e.inst(x86.APUSHFQ, none(), none())
	e.inst(x86.APOPQ, none(), reg(rC))

	e.inst(x86.AANDL, imm(int64(hostN|hostZ)), reg(rC))
	e.inst(x86.ASHLL, imm(24), reg(rC))
	e.inst(x86.ASHLL, imm(29), reg(rD))
	e.inst(x86.AORL, reg(rD), reg(rC))

	e.inst(x86.AMOVL, image(ir.CPSR), reg(r8))
	e.inst(x86.AANDL, imm32(^(ir.CPSRFlagMask &^ cpsrV)), reg(r8))
	e.inst(x86.AORL, reg(rC), reg(r8))
	e.inst(x86.AMOVL, reg(r8), image(ir.CPSR))
}

// address places the effective address in SI.
func (e *emitter) address(op *ir.Op) {
	if !op.PreIndex {
		e.value(op.Args[0], rS)
		return
	}
	e.value(op.Args[1], rA)
	e.value(op.Args[0], rS)
	if op.AddOffset {
		e.inst(x86.AADDL, reg(rA), reg(rS))
	} else {
		e.inst(x86.ASUBL, reg(rA), reg(rS))
	}
}

// call calls a context callback with the context as first argument.
// Remaining arguments must already be in SI, DX and CX.
func (e *emitter) call(off int64) {
	e.inst(x86.AMOVQ, reg(regCtx), reg(rI))
	e.inst(x86.AMOVQ, mem(regCtx, off), reg(rA))
	e.inst(obj.ACALL, none(), reg(rA))
}

func (e *emitter) load(op *ir.Op) {
	e.address(op)
	if op.Byte {
		e.call(native.OffRead8)
		e.inst(x86.AMOVBLZX, reg(rA), reg(rA))
	} else {
		e.call(native.OffRead32)
	}
	e.writeDest(op, rA)
}

func (e *emitter) store(op *ir.Op) {
	e.value(op.Args[2], r9)
	e.address(op)
	e.inst(x86.AMOVL, reg(r9), reg(rD))
	if op.Byte {
		e.inst(x86.AMOVBLZX, reg(rD), reg(rD))
		e.call(native.OffWrite8)
	} else {
		e.call(native.OffWrite32)
	}
}

func (e *emitter) branch(op *ir.Op) {
	if op.Type == ir.BL {
		e.inst(x86.AMOVL, imm32(op.Args[1].Imm), reg(e.alloc.Map(op.Dest.Reg)))
	}
	e.inst(x86.AMOVL, imm32(op.Args[0].Imm), image(ir.NextPC))
}

func boolImm(b bool) obj.Addr {
	if b {
		return imm(1)
	}
	return imm(0)
}

func (e *emitter) mrs(op *ir.Op) {
	e.inst(x86.AMOVL, boolImm(op.SPSR), reg(rS))
	e.call(native.OffReadPSR)
	e.inst(x86.AMOVL, reg(rA), reg(e.alloc.Map(op.Dest.Reg)))
}

func (e *emitter) msr(op *ir.Op) {
	e.value(op.Args[0], rS)
	e.inst(x86.AMOVL, imm(int64(op.FieldMask)), reg(rD))
	e.inst(x86.AMOVL, boolImm(op.SPSR), reg(rC))
	e.call(native.OffWritePSR)
}

func (e *emitter) fallback(op *ir.Op) {
	e.inst(x86.AMOVL, imm32(op.PC+4), image(ir.NextPC))
	e.inst(x86.AMOVL, imm32(op.Raw), reg(rS))
	e.call(native.OffInterpret)
}
