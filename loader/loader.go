package loader

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Format is an image file format.
type Format uint8

// Image formats.
const (
	FormatAuto Format = iota
	FormatELF
	FormatHex
	FormatRaw
)

// ParseFormat parses "auto", "elf", "hex" or "raw".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return FormatAuto, nil
	case "elf":
		return FormatELF, nil
	case "hex", "ihex":
		return FormatHex, nil
	case "raw", "bin":
		return FormatRaw, nil
	}
	return 0, errors.NotValidf("image format %q", s)
}

// Detect guesses the format from the file name and contents.
func Detect(path string, data []byte) Format {
	switch {
	case bytes.HasPrefix(data, []byte("\x7fELF")):
		return FormatELF
	case strings.EqualFold(filepath.Ext(path), ".hex"), strings.EqualFold(filepath.Ext(path), ".ihex"):
		return FormatHex
	case len(data) > 0 && data[0] == ':' && bytes.Contains(data, []byte(":00000001FF")):
		return FormatHex
	}
	return FormatRaw
}

// Load reads an image file. Raw images are placed at rawBase.
func Load(path string, format Format, rawBase uint32) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open image")
	}
	if len(data) == 0 {
		return nil, errors.NotValidf("empty image %s", path)
	}

	if format == FormatAuto {
		format = Detect(path, data)
	}

	var prog *Program
	switch format {
	case FormatELF:
		prog, err = ParseELF(data)
	case FormatHex:
		prog, err = ParseHex(data)
	default:
		prog = ParseRaw(data, rawBase)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "loading %s", path)
	}

	sum := sha256.Sum256(data)
	prog.Digest = hex.EncodeToString(sum[:])
	glog.V(1).Infof("loaded %s: arch %s, %d segments, entry 0x%08x", path, prog.Arch, len(prog.Segments), prog.EntryPoint)
	return prog, nil
}

// ParseRaw wraps a flat binary placed at base.
func ParseRaw(data []byte, base uint32) *Program {
	sum := sha256.Sum256(data)
	return &Program{
		Segments: []Segment{{
			VirtAddr: base,
			PhysAddr: base,
			Data:     data,
			MemSize:  uint32(len(data)),
			Flags:    SegmentFlagRead | SegmentFlagExecute,
		}},
		Digest: hex.EncodeToString(sum[:]),
	}
}

// Target is where an image is written. *bus.Bus satisfies it.
type Target interface {
	Load(addr uint32, data []byte) error
}

// LoadInto writes every segment's file contents at its load address.
// BSS is not written: memory starts zeroed and startup code clears it.
func (p *Program) LoadInto(t Target) error {
	for _, seg := range p.Segments {
		if len(seg.Data) == 0 {
			continue
		}
		if err := t.Load(seg.PhysAddr, seg.Data); err != nil {
			return errors.Annotatef(err, "segment at 0x%08x", seg.PhysAddr)
		}
	}
	return nil
}

// Size returns the number of file bytes in the image.
func (p *Program) Size() int {
	n := 0
	for _, seg := range p.Segments {
		n += len(seg.Data)
	}
	return n
}

// Reader reads words without side effects. *bus.Bus satisfies it.
type Reader interface {
	Peek(addr uint32, width int) (uint32, error)
}

// VectorTable holds the first two Cortex-M vector table entries.
type VectorTable struct {
	InitialSP uint32
	Reset     uint32
}

// ReadVectorTable reads the initial stack pointer and reset vector at base.
func ReadVectorTable(r Reader, base uint32) (VectorTable, error) {
	sp, err := r.Peek(base, 4)
	if err != nil {
		return VectorTable{}, errors.Annotatef(err, "reading initial SP")
	}
	reset, err := r.Peek(base+4, 4)
	if err != nil {
		return VectorTable{}, errors.Annotatef(err, "reading reset vector")
	}
	if reset&1 == 0 {
		glog.Warningf("reset vector 0x%08x does not have the Thumb bit set", reset)
	}
	return VectorTable{InitialSP: sp, Reset: reset}, nil
}
