package loader_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/arm7rec/emu"
	"github.com/sarchlab/arm7rec/insts"
	"github.com/sarchlab/arm7rec/ir"
	"github.com/sarchlab/arm7rec/loader"
)

// segment describes a PT_LOAD entry of a test image.
type segment struct {
	addr   uint32
	data   []byte
	memsz  uint32
	flags  uint32
	ptType uint32
}

const (
	ehdrSize = 52
	phdrSize = 32

	emARM   = 40
	em386   = 3
	ptLoad  = 1
	ptNote  = 4
	pfX     = 1
	pfW     = 2
	pfR     = 4
	etExec  = 2
	class32 = 1
	class64 = 2
)

// buildELF32 lays out an ELF32 executable: header, program headers, then
// each segment's file contents.
func buildELF32(machine uint16, entry uint32, segs ...segment) []byte {
	le := binary.LittleEndian
	hdr := make([]byte, ehdrSize)
	copy(hdr, "\x7fELF")
	hdr[4] = class32
	hdr[5] = 1 // little endian
	hdr[6] = 1
	le.PutUint16(hdr[16:], etExec)
	le.PutUint16(hdr[18:], machine)
	le.PutUint32(hdr[20:], 1)
	le.PutUint32(hdr[24:], entry)
	le.PutUint32(hdr[28:], ehdrSize)
	le.PutUint16(hdr[40:], ehdrSize)
	le.PutUint16(hdr[42:], phdrSize)
	le.PutUint16(hdr[44:], uint16(len(segs)))
	le.PutUint16(hdr[46:], 40)

	out := bytes.NewBuffer(hdr)
	off := uint32(ehdrSize + phdrSize*len(segs))
	for _, s := range segs {
		ph := make([]byte, phdrSize)
		typ := s.ptType
		if typ == 0 {
			typ = ptLoad
		}
		memsz := s.memsz
		if memsz == 0 {
			memsz = uint32(len(s.data))
		}
		le.PutUint32(ph[0:], typ)
		le.PutUint32(ph[4:], off)
		le.PutUint32(ph[8:], s.addr)
		le.PutUint32(ph[12:], s.addr)
		le.PutUint32(ph[16:], uint32(len(s.data)))
		le.PutUint32(ph[20:], memsz)
		le.PutUint32(ph[24:], s.flags)
		le.PutUint32(ph[28:], 4)
		out.Write(ph)
		off += uint32(len(s.data))
	}
	for _, s := range segs {
		out.Write(s.data)
	}
	return out.Bytes()
}

func writeFile(data []byte) string {
	path := filepath.Join(GinkgoT().TempDir(), "prog")
	Expect(os.WriteFile(path, data, 0o644)).To(Succeed())
	return path
}

var _ = Describe("ELF Loader", func() {
	code := insts.Program(
		insts.MovImm(ir.R0, 42),
		insts.Branch(false, 0x8004, 0x8004),
	)

	It("should read the entry point and segments", func() {
		image := buildELF32(emARM, 0x8000,
			segment{addr: 0x8000, data: code, flags: pfR | pfX},
			segment{addr: 0x9000, data: []byte{1, 2, 3, 4}, memsz: 0x100, flags: pfR | pfW},
		)

		prog, err := loader.Parse(bytes.NewReader(image))
		Expect(err).NotTo(HaveOccurred())

		Expect(prog.Entry).To(Equal(uint32(0x8000)))
		Expect(prog.Segments).To(HaveLen(2))
		Expect(prog.Segments[0].Data).To(Equal(code))
		Expect(prog.Segments[0].Flags).To(Equal(loader.SegmentFlagRead | loader.SegmentFlagExecute))
		Expect(prog.Segments[1].MemSize).To(Equal(uint32(0x100)))
		Expect(prog.Segments[1].Flags).To(Equal(loader.SegmentFlagRead | loader.SegmentFlagWrite))
		Expect(prog.End()).To(Equal(uint32(0x9100)))
	})

	It("should skip segments that are not loadable", func() {
		image := buildELF32(emARM, 0x8000,
			segment{addr: 0, data: []byte("note"), ptType: ptNote},
			segment{addr: 0x8000, data: code, flags: pfR | pfX},
		)

		prog, err := loader.Parse(bytes.NewReader(image))
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.Segments).To(HaveLen(1))
		Expect(prog.Segments[0].Addr).To(Equal(uint32(0x8000)))
	})

	It("should load from a file", func() {
		path := writeFile(buildELF32(emARM, 0x8000, segment{addr: 0x8000, data: code, flags: pfR | pfX}))

		prog, err := loader.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.Entry).To(Equal(uint32(0x8000)))
	})

	It("should reject other machines", func() {
		image := buildELF32(em386, 0x8000, segment{addr: 0x8000, data: code})

		_, err := loader.Parse(bytes.NewReader(image))
		Expect(err).To(MatchError(loader.ErrNotARM))
	})

	It("should reject 64-bit files", func() {
		image := buildELF32(emARM, 0x8000)
		image[4] = class64

		_, err := loader.Parse(bytes.NewReader(image))
		Expect(err).To(HaveOccurred())
	})

	It("should reject a Thumb entry point", func() {
		image := buildELF32(emARM, 0x8001, segment{addr: 0x8000, data: code})

		_, err := loader.Parse(bytes.NewReader(image))
		Expect(err).To(MatchError(ContainSubstring("not ARM state")))
	})

	It("should report a missing file", func() {
		_, err := loader.Load(filepath.Join(GinkgoT().TempDir(), "missing"))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Open", func() {
	It("should detect ELF images", func() {
		path := writeFile(buildELF32(emARM, 0x8000, segment{addr: 0x8000, data: []byte{0, 0, 0, 0}}))

		prog, err := loader.Open(path, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.Entry).To(Equal(uint32(0x8000)))
	})

	It("should treat anything else as a raw image", func() {
		path := writeFile([]byte{0xDE, 0xAD, 0xBE, 0xEF})

		prog, err := loader.Open(path, 0x4000)
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.Entry).To(Equal(uint32(0x4000)))
		Expect(prog.Segments).To(HaveLen(1))
		Expect(prog.End()).To(Equal(uint32(0x4004)))
	})
})

var _ = Describe("Program", func() {
	var mem *emu.Memory

	BeforeEach(func() {
		mem = emu.MustNewMemory(64 * 1024)
	})

	It("should copy segments and clear BSS", func() {
		mem.Write32(0x9004, 0xFFFFFFFF)
		prog := &loader.Program{Segments: []loader.Segment{
			{Addr: 0x8000, Data: []byte{1, 2, 3, 4}, MemSize: 4},
			{Addr: 0x9000, Data: []byte{5, 6, 7, 8}, MemSize: 0x10},
		}}

		Expect(prog.LoadInto(mem)).To(Succeed())

		Expect(mem.Read32(0x8000)).To(Equal(uint32(0x04030201)))
		Expect(mem.Read32(0x9000)).To(Equal(uint32(0x08070605)))
		Expect(mem.Read32(0x9004)).To(BeZero())
	})

	It("should refuse segments past the end of RAM", func() {
		prog := loader.Raw(make([]byte, 16), 64*1024-8)

		Expect(prog.LoadInto(mem)).NotTo(Succeed())
	})
})
