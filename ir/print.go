package ir

import (
	"fmt"
	"strings"
)

func (o Operand) String() string {
	switch o.Kind {
	case OperandImm:
		return fmt.Sprintf("#0x%x", o.Imm)
	case OperandReg:
		if !o.IsShifted() {
			return o.Reg.String()
		}
		if o.ShiftByReg {
			return fmt.Sprintf("%s, %s %s", o.Reg, o.Shift, o.ShiftReg)
		}
		if o.IsRRX() {
			return fmt.Sprintf("%s, rrx", o.Reg)
		}
		amount := uint32(o.ShiftImm)
		if amount == 0 {
			amount = 32
		}
		return fmt.Sprintf("%s, %s #%d", o.Reg, o.Shift, amount)
	}
	return "-"
}

// String renders the op in an assembler-like form with versions attached.
func (op *Op) String() string {
	var sb strings.Builder
	sb.WriteString(op.Type.String())
	sb.WriteString(op.Cond.String())
	if op.FlagsOut && !op.Type.IsCompare() {
		sb.WriteString("s")
	}
	if op.Type == LDR || op.Type == STR {
		if op.Byte {
			sb.WriteString("b")
		}
	}

	var parts []string
	switch op.Type {
	case LDR, STR:
		if op.Type == LDR {
			parts = append(parts, op.Dest.String())
		} else {
			parts = append(parts, op.Args[2].String())
		}
		sign := "+"
		if !op.AddOffset {
			sign = "-"
		}
		addr := fmt.Sprintf("[%s], %s%s", op.Args[0], sign, op.Args[1])
		if op.PreIndex {
			addr = fmt.Sprintf("[%s, %s%s]", op.Args[0], sign, op.Args[1])
		}
		if op.WriteBack {
			addr += "!"
		}
		parts = append(parts, addr)
	case FALLBACK:
		parts = append(parts, fmt.Sprintf("0x%08x", op.Raw))
	case MRS:
		src := "cpsr"
		if op.SPSR {
			src = "spsr"
		}
		parts = append(parts, op.Dest.String(), src)
	case MSR:
		dst := "cpsr"
		if op.SPSR {
			dst = "spsr"
		}
		parts = append(parts, fmt.Sprintf("%s_%x", dst, op.FieldMask), op.Args[0].String())
	default:
		if !op.Dest.IsNone() {
			parts = append(parts, op.Dest.String())
		}
		for _, a := range op.Args {
			if !a.IsNone() {
				parts = append(parts, a.String())
			}
		}
	}

	if len(parts) > 0 {
		sb.WriteString(" ")
		sb.WriteString(strings.Join(parts, ", "))
	}
	if op.WritesPC {
		sb.WriteString(" ; -> pc")
	}
	return sb.String()
}
