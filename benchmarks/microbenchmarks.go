// Package benchmarks provides guest workloads and a harness that runs them
// on the reference interpreter and on the translator.
package benchmarks

import (
	"github.com/sarchlab/arm7rec/emu"
	"github.com/sarchlab/arm7rec/insts"
	"github.com/sarchlab/arm7rec/ir"
)

// ProgramBase is the address benchmark programs are loaded at.
const ProgramBase = uint32(0x1000)

const (
	dataBase  = uint32(0x10000)
	dataDest  = uint32(0x11000)
	stackBase = uint32(0x20000)
)

// GetMicrobenchmarks returns the standard workload set. Each one stresses a
// different part of the translator.
func GetMicrobenchmarks() []Benchmark {
	return []Benchmark{
		sumLoop(),
		memoryCopy(),
		functionCalls(),
		bitCount(),
		multiplyAccumulate(),
		byteChecksum(),
	}
}

// programBuilder lays out instruction words from ProgramBase.
type programBuilder struct {
	words []uint32
}

func (b *programBuilder) here() uint32 {
	return ProgramBase + 4*uint32(len(b.words))
}

func (b *programBuilder) emit(words ...uint32) {
	b.words = append(b.words, words...)
}

func (b *programBuilder) branch(c ir.Cond, target uint32) {
	b.emit(insts.WithCond(insts.Branch(false, b.here(), target), c))
}

func (b *programBuilder) call(target uint32) {
	b.emit(insts.Branch(true, b.here(), target))
}

// halt emits a branch to itself and returns its address.
func (b *programBuilder) halt() uint32 {
	h := b.here()
	b.branch(ir.AL, h)
	return h
}

func (b *programBuilder) program() []byte {
	return insts.Program(b.words...)
}

func fill(mem *emu.Memory, addr uint32, n int, f func(i int) uint32) {
	for i := 0; i < n; i++ {
		mem.Write32(addr+uint32(4*i), f(i))
	}
}

// 1. Sum loop: a three-instruction block that branches to itself.
func sumLoop() Benchmark {
	var b programBuilder
	b.emit(
		insts.MovImm(ir.R0, 0),
		insts.MovImm(ir.R1, 1000),
	)
	loop := b.here()
	b.emit(
		insts.DPReg(ir.ADD, ir.R0, ir.R0, ir.R1, ir.LSL, 0),
		insts.WithS(insts.DPImm(ir.SUB, ir.R1, ir.R1, 1)),
	)
	b.branch(ir.NE, loop)
	halt := b.halt()

	return Benchmark{
		Name:        "sum_loop",
		Description: "ADD/SUBS/BNE loop - measures block chaining",
		Program:     b.program(),
		Halt:        halt,
		ExpectedR0:  500500,
	}
}

// 2. Memory copy: post-indexed loads and stores.
func memoryCopy() Benchmark {
	var b programBuilder
	b.emit(
		insts.MovImm(ir.R1, dataBase),
		insts.MovImm(ir.R2, dataDest),
		insts.MovImm(ir.R3, 256),
		insts.MovImm(ir.R0, 0),
	)
	loop := b.here()
	b.emit(
		insts.LoadStore(true, false, ir.R4, ir.R1, 4, insts.IndexPost),
		insts.LoadStore(false, false, ir.R4, ir.R2, 4, insts.IndexPost),
		insts.DPReg(ir.ADD, ir.R0, ir.R0, ir.R4, ir.LSL, 0),
		insts.WithS(insts.DPImm(ir.SUB, ir.R3, ir.R3, 1)),
	)
	b.branch(ir.NE, loop)
	halt := b.halt()

	return Benchmark{
		Name:        "memory_copy",
		Description: "256-word copy with post-indexed LDR/STR - measures memory callbacks",
		Setup: func(_ *emu.RegFile, mem *emu.Memory) {
			fill(mem, dataBase, 256, func(i int) uint32 { return uint32(3 * i) })
		},
		Program:    b.program(),
		Halt:       halt,
		ExpectedR0: 97920,
	}
}

// 3. Function calls: BL plus a stack frame built by LDM/STM.
func functionCalls() Benchmark {
	var b programBuilder
	b.emit(
		insts.MovImm(ir.SP, stackBase),
		insts.MovImm(ir.R0, 0),
		insts.MovImm(ir.R5, 100),
	)
	loop := b.here()
	callSite := len(b.words)
	b.emit(0)
	b.emit(insts.WithS(insts.DPImm(ir.SUB, ir.R5, ir.R5, 1)))
	b.branch(ir.NE, loop)
	halt := b.halt()

	fn := b.here()
	b.emit(
		insts.Push(1<<4|1<<14),
		insts.DPImm(ir.ADD, ir.R4, ir.R0, 3),
		insts.Mov(ir.R0, ir.R4),
		insts.Pop(1<<4|1<<15),
	)
	b.words[callSite] = insts.Branch(true, loop, fn)

	return Benchmark{
		Name:        "function_calls",
		Description: "100 calls through PUSH/POP frames - measures interpreter fallback",
		Program:     b.program(),
		Halt:        halt,
		ExpectedR0:  300,
	}
}

// 4. Bit count: conditional execution and shifter carry-out.
func bitCount() Benchmark {
	var b programBuilder
	b.emit(
		insts.MovImm(ir.R0, 0),
		insts.MovImm(ir.R1, 255),
	)
	outer := b.here()
	b.emit(insts.Mov(ir.R2, ir.R1))
	inner := b.here()
	b.emit(
		insts.WithS(insts.DPReg(ir.MOV, ir.R2, ir.R0, ir.R2, ir.LSR, 1)),
		insts.WithCond(insts.DPImm(ir.ADD, ir.R0, ir.R0, 1), ir.CS),
	)
	b.branch(ir.NE, inner)
	b.emit(insts.WithS(insts.DPImm(ir.SUB, ir.R1, ir.R1, 1)))
	b.branch(ir.PL, outer)
	halt := b.halt()

	return Benchmark{
		Name:        "bit_count",
		Description: "Population count of 0..255 with MOVS LSR and ADDCS - measures flag handling",
		Program:     b.program(),
		Halt:        halt,
		ExpectedR0:  1024,
	}
}

// 5. Multiply-accumulate: MLA runs through the interpreter.
func multiplyAccumulate() Benchmark {
	var b programBuilder
	b.emit(
		insts.MovImm(ir.R0, 0),
		insts.MovImm(ir.R1, 100),
	)
	loop := b.here()
	b.emit(
		insts.MLA(ir.R0, ir.R1, ir.R1, ir.R0),
		insts.WithS(insts.DPImm(ir.SUB, ir.R1, ir.R1, 1)),
	)
	b.branch(ir.NE, loop)
	halt := b.halt()

	return Benchmark{
		Name:        "multiply_accumulate",
		Description: "Sum of squares with MLA - measures fallback ops inside hot loops",
		Program:     b.program(),
		Halt:        halt,
		ExpectedR0:  338350,
	}
}

// 6. Byte checksum: LDRB/STRB with write-back.
func byteChecksum() Benchmark {
	var b programBuilder
	b.emit(
		insts.MovImm(ir.R1, dataBase),
		insts.MovImm(ir.R3, 512),
		insts.MovImm(ir.R0, 0),
	)
	loop := b.here()
	b.emit(
		insts.LoadStore(true, true, ir.R4, ir.R1, 1, insts.IndexPost),
		insts.DPReg(ir.ADD, ir.R0, ir.R0, ir.R4, ir.LSL, 0),
		insts.LoadStore(false, true, ir.R0, ir.R1, -1, insts.IndexOffset),
		insts.WithS(insts.DPImm(ir.SUB, ir.R3, ir.R3, 1)),
	)
	b.branch(ir.NE, loop)
	halt := b.halt()

	return Benchmark{
		Name:        "byte_checksum",
		Description: "512-byte running sum with LDRB/STRB - measures byte accesses",
		Setup: func(_ *emu.RegFile, mem *emu.Memory) {
			for i := 0; i < 512; i++ {
				mem.Write8(dataBase+uint32(i), uint8(i))
			}
		},
		Program:    b.program(),
		Halt:       halt,
		ExpectedR0: 65280,
	}
}
