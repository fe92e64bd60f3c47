package arm64

import "github.com/sarchlab/arm7rec/ir"

// NZCV bits. The host register uses the guest layout.
const (
	hostN uint32 = 1 << 31
	hostZ uint32 = 1 << 30
	hostC uint32 = 1 << 29
	hostV uint32 = 1 << 28
)

func flagsToHost(f ir.Flags) uint32 {
	return ir.Flags(f & 0xF).Apply(0)
}

func flagsFromHost(h uint32) ir.Flags {
	return ir.FlagsOf(h & (hostN | hostZ | hostC | hostV))
}
