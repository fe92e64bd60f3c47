package cache

import "github.com/sarchlab/arm7rec/emu"

// Charger is charged the wait states of each access. *emu.RegFile charges
// them against the cycle budget.
type Charger interface {
	AddCycles(n int32)
}

// Bus puts a Cache in front of a guest memory bus.
type Bus struct {
	mem     emu.Bus
	cache   *Cache
	charger Charger

	waits uint64
}

var _ emu.Bus = (*Bus)(nil)

// NewBus creates a bus that forwards accesses to mem and charges the
// cache's wait states to charger.
func NewBus(mem emu.Bus, cache *Cache, charger Charger) *Bus {
	return &Bus{mem: mem, cache: cache, charger: charger}
}

// Cache returns the cache model.
func (b *Bus) Cache() *Cache {
	return b.cache
}

// WaitCycles returns the wait states charged so far.
func (b *Bus) WaitCycles() uint64 {
	return b.waits
}

func (b *Bus) access(addr uint32, write bool) {
	n := b.cache.Access(addr, write)
	if n == 0 {
		return
	}
	b.waits += n
	b.charger.AddCycles(-int32(n))
}

// Read8 reads a byte.
func (b *Bus) Read8(addr uint32) uint8 {
	b.access(addr, false)
	return b.mem.Read8(addr)
}

// Read16 reads a halfword.
func (b *Bus) Read16(addr uint32) uint16 {
	b.access(addr, false)
	return b.mem.Read16(addr)
}

// Read32 reads a word.
func (b *Bus) Read32(addr uint32) uint32 {
	b.access(addr, false)
	return b.mem.Read32(addr)
}

// Write8 writes a byte.
func (b *Bus) Write8(addr uint32, value uint8) {
	b.access(addr, true)
	b.mem.Write8(addr, value)
}

// Write16 writes a halfword.
func (b *Bus) Write16(addr uint32, value uint16) {
	b.access(addr, true)
	b.mem.Write16(addr, value)
}

// Write32 writes a word.
func (b *Bus) Write32(addr uint32, value uint32) {
	b.access(addr, true)
	b.mem.Write32(addr, value)
}
