// Package periph implements memory-mapped peripherals on top of a register
// file with per-register access policies.
package periph

import (
	"sort"

	"github.com/golang/glog"
)

// Policy is the write/read behavior of a register.
type Policy uint8

// Register access policies.
const (
	// ReadWrite stores written bits under the writable mask.
	ReadWrite Policy = iota
	// ReadOnly ignores writes.
	ReadOnly
	// WriteOneToSet sets the bits written as 1 in the target register.
	WriteOneToSet
	// WriteOneToClear clears the bits written as 1 in the target register.
	WriteOneToClear
	// WriteZeroToClear clears the bits written as 0; 1 bits are left alone.
	WriteZeroToClear
	// ReadClears ignores writes; a read returns the value and clears it.
	ReadClears
	// SetReset splits the word: bits [15:0] set and bits [31:16] reset the
	// matching bits of the target. A bit both set and reset ends up set.
	SetReset
)

var policyNames = map[Policy]string{
	ReadWrite:        "rw",
	ReadOnly:         "ro",
	WriteOneToSet:    "w1s",
	WriteOneToClear:  "w1c",
	WriteZeroToClear: "w0c",
	ReadClears:       "rc",
	SetReset:         "set/reset",
}

func (p Policy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return "unknown"
}

// Register is one 32-bit memory-mapped register.
type Register struct {
	Name     string
	Offset   uint32
	Reset    uint32
	Writable uint32
	Policy   Policy

	// Target receives the effect of WriteOneToSet, WriteOneToClear and
	// SetReset writes. When nil the register modifies itself.
	Target *Register

	// ClearOnRead lists bits that a side-effecting read clears.
	ClearOnRead uint32

	// Get computes the visible value instead of Value. It must not have
	// side effects; Peek uses it too.
	Get func() uint32
	// OnRead runs after a side-effecting read.
	OnRead func()
	// OnWrite runs after the register (or its target) has been updated.
	// written holds the raw bus value aligned to the register.
	OnWrite func(old, written uint32)

	Value uint32
}

func (r *Register) visible() uint32 {
	if r.Get != nil {
		return r.Get()
	}
	return r.Value
}

// write applies a write of v restricted to the byte lanes in lanes.
func (r *Register) write(v, lanes uint32) {
	dst := r
	if r.Target != nil {
		dst = r.Target
	}
	old := dst.Value
	mask := r.Writable & lanes

	switch r.Policy {
	case ReadWrite:
		dst.Value = dst.Value&^mask | v&mask
	case ReadOnly, ReadClears:
		return
	case WriteOneToSet:
		dst.Value |= v & mask
	case WriteOneToClear:
		dst.Value &^= v & mask
	case WriteZeroToClear:
		dst.Value &^= ^v & mask
	case SetReset:
		v &= lanes
		set := v & 0xFFFF & r.Writable
		reset := v >> 16 & r.Writable
		dst.Value = dst.Value&^reset | set
	}

	if r.OnWrite != nil {
		r.OnWrite(old, v&lanes)
	}
}

// RegisterFile is an offset-indexed set of registers with the bus-facing
// Read/Write/Peek/Reset behavior shared by every peripheral.
type RegisterFile struct {
	name string
	regs []*Register // sorted by offset
}

// NewRegisterFile creates an empty register file for the named device.
func NewRegisterFile(name string) *RegisterFile {
	return &RegisterFile{name: name}
}

// Name returns the device name.
func (f *RegisterFile) Name() string {
	return f.name
}

// Add registers r and returns it. Offsets are word aligned.
func (f *RegisterFile) Add(r *Register) *Register {
	r.Value = r.Reset
	i := sort.Search(len(f.regs), func(i int) bool {
		return f.regs[i].Offset >= r.Offset
	})
	f.regs = append(f.regs, nil)
	copy(f.regs[i+1:], f.regs[i:])
	f.regs[i] = r
	return r
}

// Lookup finds the register at a word-aligned offset.
func (f *RegisterFile) Lookup(offset uint32) (*Register, bool) {
	i := sort.Search(len(f.regs), func(i int) bool {
		return f.regs[i].Offset >= offset
	})
	if i < len(f.regs) && f.regs[i].Offset == offset {
		return f.regs[i], true
	}
	return nil, false
}

// Registers returns the registers in offset order.
func (f *RegisterFile) Registers() []*Register {
	return f.regs
}

// Read performs a side-effecting read of width bytes at offset.
func (f *RegisterFile) Read(offset uint32, width int) uint32 {
	r, ok := f.Lookup(offset &^ 3)
	if !ok {
		glog.Warningf("%s: read of unmapped offset 0x%03x ignored", f.name, offset)
		return 0
	}

	v := r.visible()
	if r.Policy == ReadClears {
		r.Value = 0
	} else if r.ClearOnRead != 0 {
		r.Value &^= r.ClearOnRead
	}
	if r.OnRead != nil {
		r.OnRead()
	}

	shift := (offset & 3) * 8
	return v >> shift & laneMask(width)
}

// Write performs a write of width bytes at offset. Sub-word writes only
// affect the addressed byte lanes.
func (f *RegisterFile) Write(offset uint32, width int, value uint32) {
	r, ok := f.Lookup(offset &^ 3)
	if !ok {
		glog.Warningf("%s: write of 0x%x to unmapped offset 0x%03x ignored", f.name, value, offset)
		return
	}

	shift := (offset & 3) * 8
	r.write(value<<shift, laneMask(width)<<shift)
}

// Peek reads the register at offset without side effects.
func (f *RegisterFile) Peek(offset uint32) uint32 {
	r, ok := f.Lookup(offset &^ 3)
	if !ok {
		return 0
	}
	return r.visible()
}

// Reset restores every register to its reset value.
func (f *RegisterFile) Reset() {
	for _, r := range f.regs {
		r.Value = r.Reset
	}
}

func laneMask(width int) uint32 {
	if width >= 4 {
		return 0xFFFFFFFF
	}
	return 1<<(uint(width)*8) - 1
}
