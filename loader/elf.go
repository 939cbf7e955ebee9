// Package loader reads firmware images (ELF32, Intel HEX, raw binary) and
// places them on the bus.
package loader

import (
	"bytes"
	"debug/elf"
	"io"

	"github.com/golang/glog"
	"github.com/juju/errors"
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

// Arch is the instruction set an image targets.
type Arch uint8

// Supported architectures. Hex and raw images carry no architecture.
const (
	ArchUnknown Arch = iota
	ArchARM
	ArchRISCV
)

func (a Arch) String() string {
	switch a {
	case ArchARM:
		return "arm"
	case ArchRISCV:
		return "riscv"
	}
	return "unknown"
}

// Segment represents a loadable piece of an image.
type Segment struct {
	// VirtAddr is the run-time address of the segment.
	VirtAddr uint32
	// PhysAddr is the load address (LMA). Initialized data lives in flash
	// at PhysAddr and is copied to VirtAddr by the startup code.
	PhysAddr uint32
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint32
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program is a parsed firmware image.
type Program struct {
	Arch Arch
	// EntryPoint is the ELF entry or the hex start address. HasEntry is
	// false for images that do not name one.
	EntryPoint uint32
	HasEntry   bool
	Segments   []Segment
	// Symbols maps ELF symbol names to their values.
	Symbols map[string]uint32
	// Digest is the hex SHA-256 of the image file.
	Digest string
}

// ParseELF parses an ELF32 little-endian ARM or RISC-V image.
func ParseELF(data []byte) (*Program, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Annotatef(err, "failed to parse ELF file")
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS32 {
		return nil, errors.NotValidf("ELF class %v (need a 32-bit ELF)", f.Class)
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, errors.NotValidf("big-endian ELF")
	}

	prog := &Program{
		EntryPoint: uint32(f.Entry),
		HasEntry:   true,
		Symbols:    map[string]uint32{},
	}
	switch f.Machine {
	case elf.EM_ARM:
		prog.Arch = ArchARM
	case elf.EM_RISCV:
		prog.Arch = ArchRISCV
	default:
		return nil, errors.NotValidf("ELF machine type %v (supported: ARM, RISC-V)", f.Machine)
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, errors.Annotatef(err, "failed to read segment at 0x%x", phdr.Paddr)
			}
			if uint64(n) != phdr.Filesz {
				return nil, errors.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Paddr, n, phdr.Filesz)
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
			VirtAddr: uint32(phdr.Vaddr),
			PhysAddr: uint32(phdr.Paddr),
			Data:     data,
			MemSize:  uint32(phdr.Memsz),
			Flags:    flags,
		})
	}
	if len(prog.Segments) == 0 {
		glog.Warningf("no loadable segments in ELF file")
	}

	// Stripped images have no symbol table.
	if syms, err := f.Symbols(); err == nil {
		for _, s := range syms {
			if s.Name != "" && s.Value != 0 {
				prog.Symbols[s.Name] = uint32(s.Value)
			}
		}
	}

	return prog, nil
}
