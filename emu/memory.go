package emu

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// DefaultMemorySize is the size of the guest RAM (2MB).
const DefaultMemorySize = 2 * 1024 * 1024

// Bus is the guest memory interface used by the interpreter and by
// translated code. Accesses never fail; implementations wrap addresses.
type Bus interface {
	Read8(addr uint32) uint8
	Read16(addr uint32) uint16
	Read32(addr uint32) uint32
	Write8(addr uint32, value uint8)
	Write16(addr uint32, value uint16)
	Write32(addr uint32, value uint32)
}

// Memory is little-endian guest RAM whose size is a power of two. Addresses
// are masked into range, so the RAM mirrors across the address space.
type Memory struct {
	data []byte
	mask uint32
}

// NewMemory creates a zeroed RAM of the given size in bytes.
func NewMemory(size int) (*Memory, error) {
	if size < 4 || size&(size-1) != 0 {
		return nil, fmt.Errorf("memory size %d is not a power of two", size)
	}
	return &Memory{
		data: make([]byte, size),
		mask: uint32(size - 1),
	}, nil
}

// MustNewMemory is NewMemory for sizes known to be valid.
func MustNewMemory(size int) *Memory {
	m, err := NewMemory(size)
	if err != nil {
		panic(err)
	}
	return m
}

// Size returns the RAM size in bytes.
func (m *Memory) Size() int {
	return len(m.data)
}

// Bytes exposes the backing store, for snapshots.
func (m *Memory) Bytes() []byte {
	return m.data
}

// Read8 reads a byte.
func (m *Memory) Read8(addr uint32) uint8 {
	return m.data[addr&m.mask]
}

// Read16 reads a halfword from the halfword-aligned address.
func (m *Memory) Read16(addr uint32) uint16 {
	return binary.LittleEndian.Uint16(m.data[addr&m.mask&^1:])
}

// Read32 reads the aligned word containing addr and rotates it so that the
// addressed byte ends up in bits 7:0, as the ARM7 does for unaligned loads.
func (m *Memory) Read32(addr uint32) uint32 {
	word := binary.LittleEndian.Uint32(m.data[addr&m.mask&^3:])
	return bits.RotateLeft32(word, -int(addr&3)*8)
}

// Write8 writes a byte.
func (m *Memory) Write8(addr uint32, value uint8) {
	m.data[addr&m.mask] = value
}

// Write16 writes a halfword to the halfword-aligned address.
func (m *Memory) Write16(addr uint32, value uint16) {
	binary.LittleEndian.PutUint16(m.data[addr&m.mask&^1:], value)
}

// Write32 writes a word to the word-aligned address; the low address bits
// are ignored.
func (m *Memory) Write32(addr uint32, value uint32) {
	binary.LittleEndian.PutUint32(m.data[addr&m.mask&^3:], value)
}

// LoadProgram copies data into RAM starting at addr.
func (m *Memory) LoadProgram(addr uint32, data []byte) {
	for i, b := range data {
		m.data[(addr+uint32(i))&m.mask] = b
	}
}

// Clear zeroes the RAM.
func (m *Memory) Clear() {
	clear(m.data)
}
