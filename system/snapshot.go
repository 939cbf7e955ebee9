package system

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/emu"
)

// Snapshot is the machine state written next to run results.
type Snapshot struct {
	System         string             `json:"system"`
	Arch           string             `json:"arch"`
	FirmwareSHA256 string             `json:"firmware_sha256,omitempty"`
	Steps          uint64             `json:"steps"`
	Cycles         uint64             `json:"cycles"`
	CPU            emu.CPUSnapshot    `json:"cpu"`
	Interrupts     string             `json:"interrupts"`
	MemoryCRC32    string             `json:"memory_crc32"`
	Peripherals    []PeripheralRecord `json:"peripherals"`
}

// PeripheralRecord names a peripheral and where it sits.
type PeripheralRecord struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Base string `json:"base"`
	Size uint32 `json:"size"`
}

// Snapshot captures the current machine state.
func (brd *Board) Snapshot() *Snapshot {
	s := &Snapshot{
		System:      brd.Desc.Name,
		Arch:        string(brd.Desc.Arch),
		Steps:       brd.Steps(),
		Cycles:      brd.Cycles(),
		CPU:         brd.Core().Snapshot(),
		Interrupts:  brd.Controller().Snapshot().String(),
		MemoryCRC32: fmt.Sprintf("%08x", brd.Bus().Checksum()),
	}
	if brd.Program != nil {
		s.FirmwareSHA256 = brd.Program.Digest
	}
	for _, p := range brd.peripherals {
		s.Peripherals = append(s.Peripherals, PeripheralRecord{
			ID:   p.ID,
			Type: p.Type,
			Base: fmt.Sprintf("0x%08x", p.Base),
			Size: p.Size,
		})
	}
	return s
}

// WriteFile writes the snapshot as indented JSON.
func (s *Snapshot) WriteFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(os.WriteFile(path, data, 0644), "writing snapshot")
}
