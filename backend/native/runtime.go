//go:build (darwin || linux) && (amd64 || arm64)

package native

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/sarchlab/arm7rec/backend"
	"github.com/sarchlab/arm7rec/codebuf"
)

// Runtime owns a code buffer and runs the code in it.
type Runtime struct {
	buf *codebuf.Buffer
	ctx *Context
	env *backend.Env

	entry, dispatch, exit, flush uintptr
	stubEnd                      int
}

// NewRuntime maps a code buffer of size bytes and installs the stubs.
func NewRuntime(size int, stubs Stubs) (*Runtime, error) {
	buf, err := codebuf.New(size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrUnsupported, err)
	}

	rt := &Runtime{buf: buf, ctx: &Context{}}
	off, err := rt.write(stubs.Code)
	if err != nil {
		_ = buf.Close()
		return nil, fmt.Errorf("failed to install stubs: %w", err)
	}

	rt.entry = buf.Addr(off + stubs.Entry)
	rt.dispatch = buf.Addr(off + stubs.Dispatch)
	rt.exit = buf.Addr(off + stubs.Exit)
	if stubs.Flush >= 0 {
		rt.flush = buf.Addr(off + stubs.Flush)
	}
	rt.stubEnd = buf.Used()

	return rt, nil
}

// Bind fills the context block for env and registers the runtime with the
// callbacks.
func (rt *Runtime) Bind(env *backend.Env) {
	initCallbacks()

	rt.env = env
	*rt.ctx = Context{
		Regs:      uintptr(unsafe.Pointer(env.Regs)),
		Table:     uintptr(unsafe.Pointer(unsafe.SliceData(env.Table))),
		Mask:      uint64(len(env.Table) - 1),
		Read8:     callbacks.read8,
		Read32:    callbacks.read32,
		Write8:    callbacks.write8,
		Write32:   callbacks.write32,
		Interpret: callbacks.interpret,
		ReadPSR:   callbacks.readPSR,
		WritePSR:  callbacks.writePSR,
	}
	runtimes.Store(rt.ctxAddr(), rt)
}

// DispatchAddr returns the address of the dispatch stub.
func (rt *Runtime) DispatchAddr() uintptr {
	return rt.dispatch
}

// ExitAddr returns the address of the exit stub.
func (rt *Runtime) ExitAddr() uintptr {
	return rt.exit
}

// Install copies a compiled block into the buffer.
func (rt *Runtime) Install(code []byte) (backend.Entry, error) {
	off, err := rt.write(code)
	if err != nil {
		return 0, err
	}
	return backend.Entry(rt.buf.Addr(off)), nil
}

func (rt *Runtime) write(code []byte) (int, error) {
	if err := rt.buf.MakeWritable(); err != nil {
		return 0, err
	}
	off, err := rt.buf.Append(code, 16)
	if perr := rt.buf.MakeExecutable(); err == nil {
		err = perr
	}
	if err != nil {
		return 0, err
	}

	if rt.flush != 0 {
		start := rt.buf.Addr(off)
		purego.SyscallN(rt.flush, start, start+uintptr(len(code)))
	}
	return off, nil
}

// Enter runs generated code until it exits.
func (rt *Runtime) Enter() backend.Exit {
	r1, _, _ := purego.SyscallN(rt.entry, rt.ctxAddr())
	return backend.Exit(r1)
}

// Reset drops every block, keeping the stubs.
func (rt *Runtime) Reset() {
	rt.buf.Truncate(rt.stubEnd)
}

// CodeSize returns the bytes of block code in the buffer.
func (rt *Runtime) CodeSize() int {
	return rt.buf.Used() - rt.stubEnd
}

// Code returns the bytes at a block entry, up to n bytes.
func (rt *Runtime) Code(e backend.Entry, n int) []byte {
	off := int(uintptr(e) - rt.buf.Addr(0))
	if off+n > rt.buf.Used() {
		n = rt.buf.Used() - off
	}
	return rt.buf.Bytes(off, n)
}

// Close unregisters the runtime and unmaps the buffer.
func (rt *Runtime) Close() error {
	runtimes.Delete(rt.ctxAddr())
	return rt.buf.Close()
}

func (rt *Runtime) ctxAddr() uintptr {
	return uintptr(unsafe.Pointer(rt.ctx))
}

// runtimes maps context addresses to their runtime.
var runtimes sync.Map

func lookup(ctx uintptr) *backend.Env {
	rt, _ := runtimes.Load(ctx)
	return rt.(*Runtime).env
}

// callbacks are created once; purego callback slots are never freed.
var (
	callbacksOnce sync.Once
	callbacks     struct {
		read8, read32, write8, write32 uintptr
		interpret, readPSR, writePSR   uintptr
	}
)

func initCallbacks() {
	callbacksOnce.Do(func() {
		callbacks.read8 = purego.NewCallback(func(ctx, addr uintptr) uintptr {
			return uintptr(lookup(ctx).Bus.Read8(uint32(addr)))
		})
		callbacks.read32 = purego.NewCallback(func(ctx, addr uintptr) uintptr {
			return uintptr(lookup(ctx).Bus.Read32(uint32(addr)))
		})
		callbacks.write8 = purego.NewCallback(func(ctx, addr, value uintptr) uintptr {
			lookup(ctx).Bus.Write8(uint32(addr), uint8(value))
			return 0
		})
		callbacks.write32 = purego.NewCallback(func(ctx, addr, value uintptr) uintptr {
			lookup(ctx).Bus.Write32(uint32(addr), uint32(value))
			return 0
		})
		callbacks.interpret = purego.NewCallback(func(ctx, raw uintptr) uintptr {
			lookup(ctx).Interp.Interpret(uint32(raw))
			return 0
		})
		callbacks.readPSR = purego.NewCallback(func(ctx, spsr uintptr) uintptr {
			return uintptr(lookup(ctx).PSR.ReadPSR(spsr != 0))
		})
		callbacks.writePSR = purego.NewCallback(func(ctx, value, mask, spsr uintptr) uintptr {
			lookup(ctx).PSR.WritePSR(uint32(value), uint8(mask), spsr != 0)
			return 0
		})
	})
}
