package amd64

import (
	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/sarchlab/arm7rec/ir"
)

// Fixed registers.
const (
	// regImage holds the address of the guest register image.
	regImage = x86.REG_BX
	// regCtx holds the address of the native.Context.
	regCtx = x86.REG_R15
)

// hostRegs are the callee-saved registers the allocator hands out. They
// survive calls into Go.
var hostRegs = []int16{x86.REG_BP, x86.REG_R12, x86.REG_R13, x86.REG_R14}

// assembler wraps a golang-asm builder. Branches to a label are resolved
// when the next instruction is added.
type assembler struct {
	b       *asm.Builder
	pending []*obj.Prog
}

func newAssembler(n int) (*assembler, error) {
	b, err := asm.NewBuilder("amd64", n)
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

// jump emits a branch whose target is set later with here or SetTarget.
func (a *assembler) jump(as obj.As) *obj.Prog {
	p := a.b.NewProg()
	p.As = as
	p.To.Type = obj.TYPE_BRANCH
	return a.add(p)
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

// imm32 encodes a 32-bit guest value for an L-suffixed instruction.
func imm32(v uint32) obj.Addr {
	return imm(int64(int32(v)))
}

func mem(base int16, off int64) obj.Addr {
	return obj.Addr{Type: obj.TYPE_MEM, Reg: base, Offset: off}
}

func index(base, idx int16, scale int16) obj.Addr {
	return obj.Addr{Type: obj.TYPE_MEM, Reg: base, Index: idx, Scale: scale}
}

// image addresses a slot of the guest register image.
func image(r ir.Reg) obj.Addr {
	return mem(regImage, int64(r.Offset()))
}
