package arm64

import (
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/arm64"

	"github.com/sarchlab/arm7rec/backend"
	"github.com/sarchlab/arm7rec/backend/native"
	"github.com/sarchlab/arm7rec/ir"
)

// savedRegs are stored by the entry stub. R27 is the assembler's temporary.
var savedRegs = []int16{
	arm64.REG_R19, arm64.REG_R20, arm64.REG_R21, arm64.REG_R22,
	arm64.REG_R23, arm64.REG_R24, arm64.REG_R25, arm64.REG_R26,
	arm64.REG_R27, arm64.REG_R29, arm64.REG_R30,
}

// frameSize keeps SP 16-byte aligned.
const frameSize = 96

// Cache maintenance encodings, operating on X2.
const (
	dcCVAUX2 uint32 = 0xD50B7B22
	icIVAUX2 uint32 = 0xD50B7522
	dsbISH   uint32 = 0xD5033B9F
	isb      uint32 = 0xD5033FDF
)

// minLine is the smallest cache line the flush loops assume.
const minLine = 16

// buildStubs assembles the entry, dispatch, exit and cache flush code.
func buildStubs() (native.Stubs, error) {
	a, err := newAssembler(96)
	if err != nil {
		return native.Stubs{}, err
	}

	// dispatch:
	dispatch := a.inst(arm64.AMOVW, image(ir.Cycles), reg(arm64.REG_R12))
	a.inst(arm64.ACMPW, imm(0), reg(arm64.REG_R12))
	toBudget := a.jump(arm64.ABLE)
	a.inst(arm64.AMOVWU, image(ir.IntPending), reg(arm64.REG_R12))
	a.inst(arm64.ACMPW, imm(0), reg(arm64.REG_R12))
	toIRQ := a.jump(arm64.ABNE)
	a.inst(arm64.AMOVWU, image(ir.NextPC), reg(arm64.REG_R12))
	a.inst(arm64.ALSRW, imm(2), reg(arm64.REG_R12))
	a.inst(arm64.AMOVD, mem(regCtx, native.OffMask), reg(arm64.REG_R13))
	a.inst(arm64.AAND, reg(arm64.REG_R13), reg(arm64.REG_R12))
	a.inst(arm64.ALSL, imm(3), reg(arm64.REG_R12))
	a.inst(arm64.AMOVD, mem(regCtx, native.OffTable), reg(arm64.REG_R13))
	a.inst(arm64.AADD, reg(arm64.REG_R13), reg(arm64.REG_R12))
	a.inst(arm64.AMOVD, mem(arm64.REG_R12, 0), reg(arm64.REG_R12))
	a.inst(arm64.ACMP, imm(0), reg(arm64.REG_R12))
	toMiss := a.jump(arm64.ABEQ)
	a.inst(obj.AJMP, none(), mem(arm64.REG_R12, 0))

	a.here(toBudget)
	a.inst(arm64.AMOVD, imm(int64(backend.ExitBudget)), reg(arm64.REG_R0))
	budgetDone := a.jump(obj.AJMP)

	a.here(toIRQ)
	a.inst(arm64.AMOVD, imm(int64(backend.ExitInterrupt)), reg(arm64.REG_R0))
	irqDone := a.jump(obj.AJMP)

	a.here(toMiss)
	a.inst(arm64.AMOVD, imm(int64(backend.ExitMiss)), reg(arm64.REG_R0))

	// exit:
	a.here(budgetDone, irqDone)
	var exit *obj.Prog
	for i, r := range savedRegs {
		p := a.inst(arm64.AMOVD, mem(arm64.REGSP, int64(8*i)), reg(r))
		if exit == nil {
			exit = p
		}
	}
	a.inst(arm64.AADD, imm(frameSize), reg(arm64.REGSP))
	a.inst(obj.ARET, none(), reg(arm64.REG_R30))

	// entry:
	entry := a.inst(arm64.ASUB, imm(frameSize), reg(arm64.REGSP))
	for i, r := range savedRegs {
		a.inst(arm64.AMOVD, reg(r), mem(arm64.REGSP, int64(8*i)))
	}
	a.inst(arm64.AMOVD, reg(arm64.REG_R0), reg(regCtx))
	a.inst(arm64.AMOVD, mem(regCtx, native.OffRegs), reg(regImage))
	toDispatch := a.jump(obj.AJMP)
	toDispatch.To.SetTarget(dispatch)

	// flush(start, end): clean the data cache and invalidate the
	// instruction cache over [start, end).
	flush := a.inst(arm64.AMOVD, reg(arm64.REG_R0), reg(arm64.REG_R2))
	clean := a.word(dcCVAUX2)
	a.inst(arm64.AADD, imm(minLine), reg(arm64.REG_R2))
	a.inst(arm64.ACMP, reg(arm64.REG_R1), reg(arm64.REG_R2))
	a.jump(arm64.ABLO).To.SetTarget(clean)
	a.word(dsbISH)
	a.inst(arm64.AMOVD, reg(arm64.REG_R0), reg(arm64.REG_R2))
	inval := a.word(icIVAUX2)
	a.inst(arm64.AADD, imm(minLine), reg(arm64.REG_R2))
	a.inst(arm64.ACMP, reg(arm64.REG_R1), reg(arm64.REG_R2))
	a.jump(arm64.ABLO).To.SetTarget(inval)
	a.word(dsbISH)
	a.word(isb)
	a.inst(obj.ARET, none(), reg(arm64.REG_R30))

	code := a.assemble()
	return native.Stubs{
		Code:     code,
		Entry:    int(entry.Pc),
		Dispatch: int(dispatch.Pc),
		Exit:     int(exit.Pc),
		Flush:    int(flush.Pc),
	}, nil
}
