package jit

import (
	"fmt"
	"runtime"

	"github.com/sarchlab/arm7rec/backend"
	"github.com/sarchlab/arm7rec/backend/amd64"
	"github.com/sarchlab/arm7rec/backend/arm64"
	"github.com/sarchlab/arm7rec/backend/closure"
)

// BackendNames lists the names NewBackend accepts.
var BackendNames = []string{closure.Name, "native", amd64.Name, arm64.Name}

// NewBackend creates a backend by name. "native" picks the emitter for the
// host architecture. codeSize applies to native backends; zero selects the
// default.
func NewBackend(name string, codeSize int) (backend.Backend, error) {
	if name == "native" {
		name = runtime.GOARCH
	}

	switch name {
	case "", closure.Name:
		return closure.New(), nil
	case amd64.Name:
		return amd64.New(codeSize), nil
	case arm64.Name:
		return arm64.New(codeSize), nil
	}

	if runtime.GOARCH == name {
		return nil, fmt.Errorf("no native backend for %s: %w", name, backend.ErrUnsupported)
	}
	return nil, fmt.Errorf("unknown backend %q", name)
}
