package backendtest

import (
	"math/bits"
	"math/rand"

	"github.com/sarchlab/arm7rec/emu"
	"github.com/sarchlab/arm7rec/insts"
	"github.com/sarchlab/arm7rec/ir"
)

// Registers random programs may touch. R8 points at the data area and is
// never written; R9 walks through it with post-indexed transfers.
const (
	numDataRegs = 8
	regData     = ir.R8
	regWalk     = ir.R9
)

// State is an initial guest register state.
type State struct {
	Regs  [numDataRegs]uint32
	Flags ir.Flags
}

// RandomState draws register values biased towards the edges of the
// 32-bit range, and random flags.
func RandomState(rng *rand.Rand) State {
	var s State
	for i := range s.Regs {
		switch rng.Intn(4) {
		case 0:
			s.Regs[i] = uint32(rng.Intn(64))
		case 1:
			s.Regs[i] = 0x80000000 - 2 + uint32(rng.Intn(4))
		case 2:
			s.Regs[i] = ^uint32(rng.Intn(4))
		default:
			s.Regs[i] = rng.Uint32()
		}
	}
	s.Flags = ir.Flags(rng.Intn(16))
	return s
}

func (s State) apply(rf *emu.RegFile) {
	for i, v := range s.Regs {
		rf.Write(ir.Reg(i), v)
	}
	rf.Write(regData, dataBase)
	rf.Write(regWalk, dataBase+dataSize/2)
	rf.SetFlags(s.Flags)
}

// RandomProgram generates n straight-line instructions over R0-R9.
func RandomProgram(rng *rand.Rand, n int) []uint32 {
	words := make([]uint32, n)
	for i := range words {
		words[i] = randomInst(rng)
	}
	return words
}

func randomReg(rng *rand.Rand) ir.Reg {
	return ir.Reg(rng.Intn(numDataRegs))
}

func randomCond(rng *rand.Rand) ir.Cond {
	if rng.Intn(3) != 0 {
		return ir.AL
	}
	return ir.Cond(rng.Intn(int(ir.AL)))
}

func randomImm(rng *rand.Rand) uint32 {
	return bits.RotateLeft32(uint32(rng.Intn(256)), -2*rng.Intn(16))
}

func randomInst(rng *rand.Rand) uint32 {
	var raw uint32
	switch k := rng.Intn(20); {
	case k < 6:
		t := ir.OpType(rng.Intn(int(ir.MVN) + 1))
		raw = insts.DPImm(t, randomReg(rng), randomReg(rng), randomImm(rng))
		if rng.Intn(2) == 0 {
			raw = insts.WithS(raw)
		}
	case k < 11:
		t := ir.OpType(rng.Intn(int(ir.MVN) + 1))
		raw = insts.DPReg(t, randomReg(rng), randomReg(rng), randomReg(rng),
			ir.Shift(rng.Intn(4)), uint8(rng.Intn(32)))
		if rng.Intn(2) == 0 {
			raw = insts.WithS(raw)
		}
	case k < 14:
		t := ir.OpType(rng.Intn(int(ir.MVN) + 1))
		raw = insts.DPRegShift(t, randomReg(rng), randomReg(rng), randomReg(rng),
			ir.Shift(rng.Intn(4)), randomReg(rng))
		if rng.Intn(2) == 0 {
			raw = insts.WithS(raw)
		}
	case k < 16:
		load, byteWide := rng.Intn(2) == 0, rng.Intn(2) == 0
		off := int32(4 * rng.Intn(dataSize/8))
		if byteWide {
			off += int32(rng.Intn(4))
		}
		raw = insts.LoadStore(load, byteWide, randomReg(rng), regData, off, insts.IndexOffset)
	case k < 18:
		load := rng.Intn(2) == 0
		raw = insts.LoadStore(load, false, randomReg(rng), regWalk, 4, insts.IndexPost)
	case k < 19:
		rd := randomReg(rng)
		rm := (rd + 1 + ir.Reg(rng.Intn(numDataRegs-1))) % numDataRegs
		raw = insts.MUL(rd, rm, randomReg(rng))
	default:
		raw = insts.MRS(randomReg(rng), false)
	}
	return insts.WithCond(raw, randomCond(rng))
}
