package bus

import (
	"fmt"

	"github.com/juju/errors"
)

// FaultKind classifies a bus fault.
type FaultKind uint8

// Bus fault kinds.
const (
	FaultUnmapped FaultKind = iota
	FaultMisaligned
	FaultReadOnly
	FaultWidth
)

func (k FaultKind) String() string {
	switch k {
	case FaultUnmapped:
		return "unmapped address"
	case FaultMisaligned:
		return "misaligned access"
	case FaultReadOnly:
		return "write to read-only region"
	case FaultWidth:
		return "invalid access width"
	}
	return "bus fault"
}

// Fault is returned by the bus for accesses it cannot complete.
type Fault struct {
	Addr  uint32
	Width int
	Write bool
	Kind  FaultKind
}

func (f *Fault) Error() string {
	dir := "read"
	if f.Write {
		dir = "write"
	}
	return fmt.Sprintf("bus fault: %s of %d bytes at 0x%08x: %s", dir, f.Width, f.Addr, f.Kind)
}

// IsFault reports whether the cause of err is a bus fault.
func IsFault(err error) (*Fault, bool) {
	f, ok := errors.Cause(err).(*Fault)
	return f, ok
}
