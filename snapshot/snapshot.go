// Package snapshot encodes save states of a guest core: the register image,
// the asserted interrupt lines and the guest RAM.
//
// Layout, little endian:
//
//	magic "A7SS" | version u32 | register count u32 | registers u32... |
//	interrupt lines u8 | memory size u32 | zstd frame of the memory
//
// RAM is mostly zero in practice, so it is stored compressed.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/sarchlab/arm7rec/ir"
)

const (
	magic   = "A7SS"
	version = 1
)

// ErrFormat is returned for input that is not a save state of this version.
var ErrFormat = errors.New("snapshot: invalid format")

// State is a saved guest core.
type State struct {
	Regs   [ir.NumRegs]uint32
	Lines  uint8
	Memory []byte
}

type header struct {
	Version uint32
	NumRegs uint32
}

// Write encodes s to w.
func Write(w io.Writer, s *State) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(magic); err != nil {
		return fmt.Errorf("failed to write magic: %w", err)
	}
	h := header{Version: version, NumRegs: uint32(ir.NumRegs)}
	if err := binary.Write(bw, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, s.Regs); err != nil {
		return fmt.Errorf("failed to write registers: %w", err)
	}
	if err := bw.WriteByte(s.Lines); err != nil {
		return fmt.Errorf("failed to write interrupt lines: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(s.Memory))); err != nil {
		return fmt.Errorf("failed to write memory size: %w", err)
	}

	enc, err := zstd.NewWriter(bw, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}
	if _, err := enc.Write(s.Memory); err != nil {
		enc.Close()
		return fmt.Errorf("failed to compress memory: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to compress memory: %w", err)
	}

	return bw.Flush()
}

// Read decodes a state written by Write.
func Read(r io.Reader) (*State, error) {
	br := bufio.NewReader(r)

	m := make([]byte, len(magic))
	if _, err := io.ReadFull(br, m); err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if string(m) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrFormat, m)
	}

	var h header
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if h.Version != version {
		return nil, fmt.Errorf("%w: version %d", ErrFormat, h.Version)
	}
	if h.NumRegs != uint32(ir.NumRegs) {
		return nil, fmt.Errorf("%w: %d registers, want %d", ErrFormat, h.NumRegs, ir.NumRegs)
	}

	s := &State{}
	if err := binary.Read(br, binary.LittleEndian, &s.Regs); err != nil {
		return nil, fmt.Errorf("failed to read registers: %w", err)
	}
	lines, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("failed to read interrupt lines: %w", err)
	}
	s.Lines = lines

	var size uint32
	if err := binary.Read(br, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("failed to read memory size: %w", err)
	}

	dec, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	defer dec.Close()

	s.Memory = make([]byte, size)
	if _, err := io.ReadFull(dec, s.Memory); err != nil {
		return nil, fmt.Errorf("failed to decompress memory: %w", err)
	}
	return s, nil
}

// Save writes s to the file at path.
func Save(path string, s *State) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	if err := Write(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads the state saved at path.
func Load(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()
	return Read(f)
}
