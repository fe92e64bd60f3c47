// Package native provides the runtime shared by the native emitters: the
// code buffer, the context block generated code reads, Go callbacks for
// memory, interpreter and PSR access, and entry into generated code.
package native

import (
	"unsafe"

	"github.com/sarchlab/arm7rec/ir"
)

// Context is the block generated code receives in its context register.
// Field offsets are baked into the code, so the layout is fixed.
type Context struct {
	Regs  uintptr
	Table uintptr
	Mask  uint64

	Read8     uintptr
	Read32    uintptr
	Write8    uintptr
	Write32   uintptr
	Interpret uintptr
	ReadPSR   uintptr
	WritePSR  uintptr
}

// Context field offsets.
const (
	OffRegs      = int64(unsafe.Offsetof(Context{}.Regs))
	OffTable     = int64(unsafe.Offsetof(Context{}.Table))
	OffMask      = int64(unsafe.Offsetof(Context{}.Mask))
	OffRead8     = int64(unsafe.Offsetof(Context{}.Read8))
	OffRead32    = int64(unsafe.Offsetof(Context{}.Read32))
	OffWrite8    = int64(unsafe.Offsetof(Context{}.Write8))
	OffWrite32   = int64(unsafe.Offsetof(Context{}.Write32))
	OffInterpret = int64(unsafe.Offsetof(Context{}.Interpret))
	OffReadPSR   = int64(unsafe.Offsetof(Context{}.ReadPSR))
	OffWritePSR  = int64(unsafe.Offsetof(Context{}.WritePSR))
)

// RegOffset returns the byte offset of r in the register image.
func RegOffset(r ir.Reg) int64 {
	return int64(r.Offset())
}

// Stubs is the fixed code every native backend places at the start of the
// buffer. Offsets are relative to the start of Code.
type Stubs struct {
	Code []byte

	// Entry is a C-ABI function taking the context address and returning
	// the exit reason.
	Entry int
	// Dispatch looks up NextPC in the entry table and jumps to the block.
	Dispatch int
	// Exit returns from Entry with the exit reason in the return register.
	Exit int
	// Flush, if non-negative, is a C-ABI function taking a start and end
	// address that makes freshly written code visible to instruction fetch.
	Flush int
}
