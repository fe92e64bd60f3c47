package emu

import "github.com/sarchlab/arm7rec/ir"

// Line is an interrupt input of the guest core.
type Line uint8

// Interrupt lines.
const (
	LineIRQ Line = 1 << iota
	LineFIQ
)

// IntController tracks the FIQ and IRQ inputs and mirrors "an unmasked line
// is asserted" into the IntPending pseudo-register polled by the dispatcher.
type IntController struct {
	regs  *RegFile
	lines Line
	edge  Line

	delivered uint64
}

// NewIntController creates a controller bound to regs. It re-evaluates the
// pending state whenever the CPSR changes.
func NewIntController(regs *RegFile) *IntController {
	c := &IntController{regs: regs}
	regs.onCPSRChange = c.Update
	c.Update()
	return c
}

// Assert raises an interrupt line.
func (c *IntController) Assert(l Line) {
	c.lines |= l
	c.Update()
}

// Deassert lowers an interrupt line.
func (c *IntController) Deassert(l Line) {
	c.lines &^= l
	c.Update()
}

// SetEdgeTriggered marks lines whose asserted state is cleared when their
// interrupt is taken. Other lines stay asserted until Deassert.
func (c *IntController) SetEdgeTriggered(l Line) {
	c.edge = l
}

// Lines returns the asserted lines.
func (c *IntController) Lines() Line {
	return c.lines
}

// SetLines replaces the asserted lines, for restoring a saved state.
func (c *IntController) SetLines(l Line) {
	c.lines = l
	c.Update()
}

// Delivered returns the number of exceptions taken.
func (c *IntController) Delivered() uint64 {
	return c.delivered
}

// Update recomputes the IntPending pseudo-register.
func (c *IntController) Update() {
	if c.next() != 0 {
		c.regs.R[ir.IntPending] = 1
	} else {
		c.regs.R[ir.IntPending] = 0
	}
}

// Pending reports whether an unmasked line is asserted.
func (c *IntController) Pending() bool {
	return c.regs.R[ir.IntPending] != 0
}

// Deliver takes the highest priority pending interrupt. The return address
// is the interrupted NextPC plus 4, as the handler returns with
// SUBS pc, lr, #4.
func (c *IntController) Deliver() {
	l := c.next()
	c.lines &^= l & c.edge

	switch l {
	case LineFIQ:
		c.regs.EnterException(ModeFIQ, VectorFIQ, c.regs.R[ir.NextPC]+4)
	case LineIRQ:
		c.regs.EnterException(ModeIRQ, VectorIRQ, c.regs.R[ir.NextPC]+4)
	default:
		return
	}
	c.delivered++
}

func (c *IntController) next() Line {
	cpsr := c.regs.R[ir.CPSR]
	if c.lines&LineFIQ != 0 && cpsr&BitF == 0 {
		return LineFIQ
	}
	if c.lines&LineIRQ != 0 && cpsr&BitI == 0 {
		return LineIRQ
	}
	return 0
}
