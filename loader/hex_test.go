package loader_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mcusim/loader"
)

func hexRecord(typ byte, offset uint16, data []byte) string {
	rec := []byte{byte(len(data)), byte(offset >> 8), byte(offset), typ}
	rec = append(rec, data...)
	var sum byte
	for _, b := range rec {
		sum += b
	}
	rec = append(rec, -sum)

	var sb strings.Builder
	sb.WriteString(":")
	for _, b := range rec {
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

const hexEOF = ":00000001FF"

var _ = Describe("Intel HEX", func() {
	It("should place data under an extended linear address", func() {
		img := strings.Join([]string{
			hexRecord(0x04, 0, []byte{0x08, 0x00}),
			hexRecord(0x00, 0x0000, []byte{1, 2, 3, 4}),
			hexEOF,
		}, "\n")

		prog, err := loader.ParseHex([]byte(img))
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.Segments).To(HaveLen(1))
		Expect(prog.Segments[0].PhysAddr).To(Equal(uint32(0x08000000)))
		Expect(prog.Segments[0].Data).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("should merge contiguous data records", func() {
		img := strings.Join([]string{
			hexRecord(0x00, 0x0100, []byte{1, 2}),
			hexRecord(0x00, 0x0102, []byte{3, 4}),
			hexRecord(0x00, 0x0200, []byte{5}),
			hexEOF,
		}, "\r\n")

		prog, err := loader.ParseHex([]byte(img))
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.Segments).To(HaveLen(2))
		Expect(prog.Segments[0].Data).To(Equal([]byte{1, 2, 3, 4}))
		Expect(prog.Segments[0].MemSize).To(Equal(uint32(4)))
		Expect(prog.Segments[1].PhysAddr).To(Equal(uint32(0x0200)))
		Expect(prog.Size()).To(Equal(5))
	})

	It("should apply extended segment addresses", func() {
		img := strings.Join([]string{
			hexRecord(0x02, 0, []byte{0x10, 0x00}),
			hexRecord(0x00, 0x0010, []byte{0xAA}),
			hexEOF,
		}, "\n")

		prog, err := loader.ParseHex([]byte(img))
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.Segments[0].PhysAddr).To(Equal(uint32(0x10010)))
	})

	It("should record the start linear address", func() {
		img := strings.Join([]string{
			hexRecord(0x00, 0, []byte{0}),
			hexRecord(0x05, 0, []byte{0x08, 0x00, 0x01, 0x01}),
			hexEOF,
		}, "\n")

		prog, err := loader.ParseHex([]byte(img))
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.HasEntry).To(BeTrue())
		Expect(prog.EntryPoint).To(Equal(uint32(0x08000101)))
	})

	It("should reject a bad checksum", func() {
		rec := hexRecord(0x00, 0, []byte{1, 2})
		bad := rec[:len(rec)-2] + "00"

		_, err := loader.ParseHex([]byte(bad + "\n" + hexEOF))
		Expect(err).To(HaveOccurred())
		Expect(errors.IsNotValid(errors.Cause(err))).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("checksum"))
	})

	It("should reject a truncated record", func() {
		_, err := loader.ParseHex([]byte(":0400000001\n" + hexEOF))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("length"))
	})

	It("should reject lines without a start code", func() {
		_, err := loader.ParseHex([]byte("00000001FF"))
		Expect(err).To(HaveOccurred())
	})

	It("should require an end-of-file record", func() {
		_, err := loader.ParseHex([]byte(hexRecord(0x00, 0, []byte{1})))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("end-of-file"))
	})

	It("should reject unknown record types", func() {
		_, err := loader.ParseHex([]byte(hexRecord(0x07, 0, nil) + "\n" + hexEOF))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Image formats", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "image-test")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(tempDir)
	})

	It("should parse format names", func() {
		for name, want := range map[string]loader.Format{
			"":     loader.FormatAuto,
			"auto": loader.FormatAuto,
			"ELF":  loader.FormatELF,
			"ihex": loader.FormatHex,
			"bin":  loader.FormatRaw,
		} {
			f, err := loader.ParseFormat(name)
			Expect(err).NotTo(HaveOccurred())
			Expect(f).To(Equal(want))
		}

		_, err := loader.ParseFormat("srec")
		Expect(err).To(HaveOccurred())
	})

	It("should detect formats from name and contents", func() {
		Expect(loader.Detect("a.out", []byte("\x7fELF\x01"))).To(Equal(loader.FormatELF))
		Expect(loader.Detect("fw.HEX", []byte("garbage"))).To(Equal(loader.FormatHex))
		Expect(loader.Detect("fw.img", []byte(hexEOF+"\n"))).To(Equal(loader.FormatHex))
		Expect(loader.Detect("fw.bin", []byte{0, 0, 0, 0x20})).To(Equal(loader.FormatRaw))
	})

	It("should load a raw image at the given base", func() {
		path := filepath.Join(tempDir, "fw.bin")
		Expect(os.WriteFile(path, []byte{0xFE, 0xE7}, 0644)).To(Succeed())

		prog, err := loader.Load(path, loader.FormatAuto, 0x08000000)
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.HasEntry).To(BeFalse())
		Expect(prog.Segments).To(HaveLen(1))
		Expect(prog.Segments[0].PhysAddr).To(Equal(uint32(0x08000000)))
	})

	It("should load a hex file by extension", func() {
		path := filepath.Join(tempDir, "fw.hex")
		img := hexRecord(0x04, 0, []byte{0x20, 0x00}) + "\n" +
			hexRecord(0x00, 0x10, []byte{9}) + "\n" + hexEOF + "\n"
		Expect(os.WriteFile(path, []byte(img), 0644)).To(Succeed())

		prog, err := loader.Load(path, loader.FormatAuto, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.Segments[0].PhysAddr).To(Equal(uint32(0x20000010)))
	})

	It("should stop at the first failing target write", func() {
		prog := &loader.Program{Segments: []loader.Segment{
			{PhysAddr: 0x100, Data: []byte{1}},
			{PhysAddr: 0xDEAD0000, Data: []byte{2}},
			{PhysAddr: 0x200, Data: []byte{3}},
		}}
		target := newFakeTarget()
		target.fail = 0xDEAD0000

		err := prog.LoadInto(target)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("0xdead0000"))
		Expect(target.writes).To(HaveLen(1))
	})
})

var _ = Describe("Vector table", func() {
	It("should read the initial SP and reset vector", func() {
		r := fakeReader{0x08000000: 0x20005000, 0x08000004: 0x08000009}

		vt, err := loader.ReadVectorTable(r, 0x08000000)
		Expect(err).NotTo(HaveOccurred())
		Expect(vt.InitialSP).To(Equal(uint32(0x20005000)))
		Expect(vt.Reset).To(Equal(uint32(0x08000009)))
	})

	It("should fail when the table is not mapped", func() {
		_, err := loader.ReadVectorTable(fakeReader{}, 0x08000000)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("initial SP"))
	})
})

type fakeTarget struct {
	writes map[uint32][]byte
	fail   uint32
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{writes: map[uint32][]byte{}}
}

func (t *fakeTarget) Load(addr uint32, data []byte) error {
	if t.fail != 0 && addr == t.fail {
		return errors.New("unmapped")
	}
	t.writes[addr] = append([]byte(nil), data...)
	return nil
}

type fakeReader map[uint32]uint32

func (r fakeReader) Peek(addr uint32, width int) (uint32, error) {
	v, ok := r[addr]
	if !ok {
		return 0, errors.NotFoundf("address 0x%08x", addr)
	}
	return v, nil
}
