// Package loader reads guest programs: ARM ELF32 executables and raw
// binary images.
package loader

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/arm7rec/emu"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// ErrNotARM is returned for ELF files of another class, byte order or
// machine.
var ErrNotARM = errors.New("not a little-endian ARM ELF32 file")

// Segment represents a loadable segment of a program.
type Segment struct {
	// Addr is the guest address the segment is loaded at.
	Addr uint32
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint32
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program is a guest program ready to be copied into RAM.
type Program struct {
	// Entry is the address execution starts at.
	Entry uint32
	// Segments contains all loadable segments.
	Segments []Segment
}

// Open loads the program at path, as ELF when the file starts with the ELF
// magic and as a raw image at base otherwise.
func Open(path string, base uint32) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program: %w", err)
	}
	if bytes.HasPrefix(data, []byte(elf.ELFMAG)) {
		return Parse(bytes.NewReader(data))
	}
	return Raw(data, base), nil
}

// Load parses the ARM ELF32 executable at path.
func Load(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Raw returns a program holding data at base, entered at base.
func Raw(data []byte, base uint32) *Program {
	return &Program{
		Entry: base,
		Segments: []Segment{{
			Addr:    base,
			Data:    data,
			MemSize: uint32(len(data)),
			Flags:   SegmentFlagRead | SegmentFlagWrite | SegmentFlagExecute,
		}},
	}
}

// Parse reads an ARM ELF32 executable.
func Parse(r io.ReaderAt) (*Program, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF file: %w", err)
	}

	if f.Class != elf.ELFCLASS32 || f.Data != elf.ELFDATA2LSB || f.Machine != elf.EM_ARM {
		return nil, fmt.Errorf("%w (class %v, data %v, machine %v)",
			ErrNotARM, f.Class, f.Data, f.Machine)
	}
	if f.Entry&3 != 0 {
		return nil, fmt.Errorf("entry point 0x%x is not ARM state code", f.Entry)
	}

	prog := &Program{Entry: uint32(f.Entry)}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			Addr:    uint32(phdr.Vaddr),
			Data:    data,
			MemSize: uint32(phdr.Memsz),
			Flags:   flags,
		})
	}

	return prog, nil
}

// End returns the first address past the highest segment.
func (p *Program) End() uint32 {
	var end uint32
	for _, s := range p.Segments {
		end = max(end, s.Addr+s.MemSize)
	}
	return end
}

// LoadInto copies the segments into mem and zero-fills their BSS parts.
// Segments must fit in the RAM without wrapping.
func (p *Program) LoadInto(mem *emu.Memory) error {
	size := uint64(mem.Size())
	for _, s := range p.Segments {
		if uint64(s.Addr)+uint64(max(s.MemSize, uint32(len(s.Data)))) > size {
			return fmt.Errorf("segment at 0x%x (%d bytes) does not fit in %d bytes of RAM",
				s.Addr, s.MemSize, size)
		}
	}

	ram := mem.Bytes()
	for _, s := range p.Segments {
		n := copy(ram[s.Addr:], s.Data)
		if s.MemSize > uint32(n) {
			clear(ram[s.Addr+uint32(n) : s.Addr+s.MemSize])
		}
	}
	return nil
}
