package arm64

import (
	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/arm64"

	"github.com/sarchlab/arm7rec/ir"
)

// Fixed registers.
const (
	// regImage holds the address of the guest register image.
	regImage = arm64.REG_R19
	// regCtx holds the address of the native.Context.
	regCtx = arm64.REG_R20
)

// hostRegs are the callee-saved registers the allocator hands out.
var hostRegs = []int16{
	arm64.REG_R21, arm64.REG_R22, arm64.REG_R23,
	arm64.REG_R24, arm64.REG_R25, arm64.REG_R26,
}

// assembler wraps a golang-asm builder. Branches to a label are resolved
// when the next instruction is added.
type assembler struct {
	b       *asm.Builder
	pending []*obj.Prog
}

func newAssembler(n int) (*assembler, error) {
	b, err := asm.NewBuilder("arm64", n)
	if err != nil {
		return nil, err
	}
	a := &assembler{b: b}

	// The builder treats the first instruction as the function header.
	a.inst(obj.ANOP, none(), none())
	return a, nil
}

func (a *assembler) add(p *obj.Prog) *obj.Prog {
	for _, j := range a.pending {
		j.To.SetTarget(p)
	}
	a.pending = a.pending[:0]
	a.b.AddInstruction(p)
	return p
}

func (a *assembler) inst(as obj.As, from, to obj.Addr) *obj.Prog {
	p := a.b.NewProg()
	p.As = as
	p.From = from
	p.To = to
	return a.add(p)
}

// inst3 emits the three-operand form to = src op from.
func (a *assembler) inst3(as obj.As, from obj.Addr, src int16, to obj.Addr) *obj.Prog {
	p := a.b.NewProg()
	p.As = as
	p.From = from
	p.Reg = src
	p.To = to
	return a.add(p)
}

// jump emits a branch whose target is set later with here or SetTarget.
func (a *assembler) jump(as obj.As) *obj.Prog {
	p := a.b.NewProg()
	p.As = as
	p.To.Type = obj.TYPE_BRANCH
	return a.add(p)
}

// jumpIfZero emits CBZW r.
func (a *assembler) jumpIfZero(r int16) *obj.Prog {
	p := a.b.NewProg()
	p.As = arm64.ACBZW
	p.From = reg(r)
	p.To.Type = obj.TYPE_BRANCH
	return a.add(p)
}

// word emits a raw instruction word.
func (a *assembler) word(w uint32) *obj.Prog {
	return a.inst(arm64.AWORD, none(), imm(int64(w)))
}

// here makes the given branches target the next instruction added.
func (a *assembler) here(jumps ...*obj.Prog) {
	for _, j := range jumps {
		if j != nil {
			a.pending = append(a.pending, j)
		}
	}
}

func (a *assembler) assemble() []byte {
	return a.b.Assemble()
}

func none() obj.Addr {
	return obj.Addr{}
}

func reg(r int16) obj.Addr {
	return obj.Addr{Type: obj.TYPE_REG, Reg: r}
}

func imm(v int64) obj.Addr {
	return obj.Addr{Type: obj.TYPE_CONST, Offset: v}
}

// imm32 encodes a 32-bit guest value, zero extended.
func imm32(v uint32) obj.Addr {
	return imm(int64(v))
}

func mem(base int16, off int64) obj.Addr {
	return obj.Addr{Type: obj.TYPE_MEM, Reg: base, Offset: off}
}

// image addresses a slot of the guest register image.
func image(r ir.Reg) obj.Addr {
	return mem(regImage, int64(r.Offset()))
}
