package periph

import (
	"sort"
	"strconv"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/bus"
)

// Stub stands in for a block that is not modeled. Reads return a fixed
// value per word, or the default; writes are dropped.
type Stub struct {
	name   string
	def    uint32
	values map[uint32]uint32
}

// NewStub creates a stub whose unlisted words read as def.
func NewStub(name string, def uint32) *Stub {
	return &Stub{name: name, def: def, values: map[uint32]uint32{}}
}

// stubFromConfig reads "value" as the default and every other key as a
// word offset with its fixed value.
func stubFromConfig(spec Spec) (*Stub, error) {
	def, err := configUint(spec, "value", 0)
	if err != nil {
		return nil, err
	}
	s := NewStub(spec.ID, def)

	keys := make([]string, 0, len(spec.Config))
	for k := range spec.Config {
		if k != "value" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		off, err := strconv.ParseUint(k, 0, 32)
		if err != nil {
			return nil, errors.NotValidf("%s offset %q", spec.ID, k)
		}
		v, err := configUint(spec, k, 0)
		if err != nil {
			return nil, err
		}
		s.Set(uint32(off), v)
	}
	return s, nil
}

// Set fixes the value read from the word at offset.
func (s *Stub) Set(offset, value uint32) {
	s.values[offset&^3] = value
}

// Name returns the device name.
func (s *Stub) Name() string {
	return s.name
}

// Read returns the fixed value of the addressed word.
func (s *Stub) Read(offset uint32, width int) uint32 {
	return s.Peek(offset) >> ((offset & 3) * 8) & laneMask(width)
}

// Write drops the value.
func (s *Stub) Write(offset uint32, _ int, value uint32) {
	if glog.V(2) {
		glog.Infof("%s: write of 0x%x to offset 0x%03x dropped", s.name, value, offset)
	}
}

// Peek returns the word at offset.
func (s *Stub) Peek(offset uint32) uint32 {
	if v, ok := s.values[offset&^3]; ok {
		return v
	}
	return s.def
}

// Tick does nothing.
func (s *Stub) Tick(uint64) bus.TickResult {
	return bus.TickResult{}
}

// Reset does nothing; a stub has no state.
func (s *Stub) Reset() {}
