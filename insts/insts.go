// Package insts provides ARM7 instruction decoding and encoding.
//
// The decoder turns a 32-bit ARM-state instruction word, together with the
// address it was fetched from, into exactly one ir.Op. It models:
//   - Data processing: all sixteen ALU operations with immediate, shifted
//     register and register-shifted register operands
//   - PSR transfer: MRS, MSR
//   - Single data transfer: LDR, STR, LDRB, STRB
//   - Block data transfer with one register, rewritten as LDR or STR
//   - Branch: B, BL
//
// Everything else (multiplies, swaps, halfword transfers, multi-register
// block transfers, BX, coprocessor, SWI) decodes to a FALLBACK op that the
// interpreter executes.
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	op := decoder.Decode(0xE0810002, 0x8000) // ADD r0, r1, r2
//	fmt.Println(op.String())
package insts
