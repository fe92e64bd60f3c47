package amd64

import (
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/sarchlab/arm7rec/backend"
	"github.com/sarchlab/arm7rec/backend/native"
	"github.com/sarchlab/arm7rec/ir"
)

// savedRegs are pushed by the entry stub, in push order.
var savedRegs = []int16{
	x86.REG_BP, x86.REG_BX, x86.REG_R12, x86.REG_R13, x86.REG_R14, x86.REG_R15,
}

// buildStubs assembles the entry, dispatch and exit code.
//
// The entry stub is a C function taking the context address. It saves the
// callee-saved registers, pads the stack so calls from blocks see a 16-byte
// aligned stack, and falls into dispatch. Dispatch checks the budget, then
// the interrupt line, then jumps through the entry table. Exit undoes the
// entry frame and returns the reason in EAX.
func buildStubs() (native.Stubs, error) {
	a, err := newAssembler(64)
	if err != nil {
		return native.Stubs{}, err
	}

	// dispatch:
	dispatch := a.inst(x86.ACMPL, image(ir.Cycles), imm(0))
	toBudget := a.jump(x86.AJLE)
	a.inst(x86.ACMPL, image(ir.IntPending), imm(0))
	toIRQ := a.jump(x86.AJNE)
	a.inst(x86.AMOVL, image(ir.NextPC), reg(x86.REG_AX))
	a.inst(x86.ASHRL, imm(2), reg(x86.REG_AX))
	a.inst(x86.AANDQ, mem(regCtx, native.OffMask), reg(x86.REG_AX))
	a.inst(x86.AMOVQ, mem(regCtx, native.OffTable), reg(x86.REG_CX))
	a.inst(x86.AMOVQ, index(x86.REG_CX, x86.REG_AX, 8), reg(x86.REG_AX))
	a.inst(x86.ATESTQ, reg(x86.REG_AX), reg(x86.REG_AX))
	toMiss := a.jump(x86.AJEQ)
	a.inst(obj.AJMP, none(), reg(x86.REG_AX))

	a.here(toBudget)
	a.inst(x86.AMOVL, imm(int64(backend.ExitBudget)), reg(x86.REG_AX))
	budgetDone := a.jump(obj.AJMP)

	a.here(toIRQ)
	a.inst(x86.AMOVL, imm(int64(backend.ExitInterrupt)), reg(x86.REG_AX))
	irqDone := a.jump(obj.AJMP)

	a.here(toMiss)
	a.inst(x86.AMOVL, imm(int64(backend.ExitMiss)), reg(x86.REG_AX))

	// exit:
	a.here(budgetDone, irqDone)
	exit := a.inst(x86.AADDQ, imm(8), reg(x86.REG_SP))
	for i := len(savedRegs) - 1; i >= 0; i-- {
		a.inst(x86.APOPQ, none(), reg(savedRegs[i]))
	}
	a.inst(obj.ARET, none(), none())

	// entry:
	var entry *obj.Prog
	for _, r := range savedRegs {
		p := a.inst(x86.APUSHQ, reg(r), none())
		if entry == nil {
			entry = p
		}
	}
	a.inst(x86.ASUBQ, imm(8), reg(x86.REG_SP))
	a.inst(x86.AMOVQ, reg(x86.REG_DI), reg(regCtx))
	a.inst(x86.AMOVQ, mem(regCtx, native.OffRegs), reg(regImage))
	toDispatch := a.jump(obj.AJMP)
	toDispatch.To.SetTarget(dispatch)

	code := a.assemble()
	return native.Stubs{
		Code:     code,
		Entry:    int(entry.Pc),
		Dispatch: int(dispatch.Pc),
		Exit:     int(exit.Pc),
		Flush:    -1,
	}, nil
}
