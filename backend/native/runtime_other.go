//go:build !((darwin || linux) && (amd64 || arm64))

package native

import (
	"fmt"
	"runtime"

	"github.com/sarchlab/arm7rec/backend"
)

// Runtime is unavailable on this host.
type Runtime struct{}

// NewRuntime fails on hosts without native code support.
func NewRuntime(size int, stubs Stubs) (*Runtime, error) {
	return nil, fmt.Errorf("native code on %s/%s: %w", runtime.GOOS, runtime.GOARCH, backend.ErrUnsupported)
}

// Bind is unreachable.
func (rt *Runtime) Bind(env *backend.Env) {}

// DispatchAddr is unreachable.
func (rt *Runtime) DispatchAddr() uintptr { return 0 }

// ExitAddr is unreachable.
func (rt *Runtime) ExitAddr() uintptr { return 0 }

// Install is unreachable.
func (rt *Runtime) Install(code []byte) (backend.Entry, error) {
	return 0, backend.ErrUnsupported
}

// Enter is unreachable.
func (rt *Runtime) Enter() backend.Exit { return backend.ExitBudget }

// Reset is unreachable.
func (rt *Runtime) Reset() {}

// CodeSize is unreachable.
func (rt *Runtime) CodeSize() int { return 0 }

// Code is unreachable.
func (rt *Runtime) Code(e backend.Entry, n int) []byte { return nil }

// Close is unreachable.
func (rt *Runtime) Close() error { return nil }
