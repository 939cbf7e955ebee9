package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"
)

// Arch names the core family of a system.
type Arch string

// Supported architectures.
const (
	ArchARM   Arch = "arm"
	ArchRISCV Arch = "riscv"
)

var archAliases = map[string]Arch{
	"arm":       ArchARM,
	"cortex-m":  ArchARM,
	"cortex-m0": ArchARM,
	"cortex-m3": ArchARM,
	"cortex-m4": ArchARM,
	"cortex-m7": ArchARM,
	"riscv":     ArchRISCV,
	"riscv32":   ArchRISCV,
	"rv32i":     ArchRISCV,
	"rv32im":    ArchRISCV,
	"rv32imac":  ArchRISCV,
}

// ParseArch resolves an architecture name or alias.
func ParseArch(s string) (Arch, error) {
	a, ok := archAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", errors.NotValidf("arch %q", s)
	}
	return a, nil
}

// UnmarshalYAML resolves aliases such as "cortex-m3" or "rv32i".
func (a *Arch) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return errors.Trace(err)
	}
	v, err := ParseArch(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// MemoryRange is a memory region of the system.
type MemoryRange struct {
	Base uint32 `yaml:"base"`
	Size Size   `yaml:"size"`
}

// End returns the first address past the range.
func (r MemoryRange) End() uint64 {
	return uint64(r.Base) + uint64(r.Size)
}

// Peripheral is one peripheral instance of a system.
type Peripheral struct {
	ID          string                 `yaml:"id"`
	Type        string                 `yaml:"type"`
	BaseAddress uint32                 `yaml:"base_address"`
	Size        Size                   `yaml:"size,omitempty"`
	IRQ         *int                   `yaml:"irq,omitempty"`
	Config      map[string]interface{} `yaml:"config,omitempty"`
}

// ConfigStrings flattens the config map to strings.
func (p *Peripheral) ConfigStrings() map[string]string {
	out := make(map[string]string, len(p.Config))
	for k, v := range p.Config {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// System is a resolved system descriptor.
type System struct {
	Name        string       `yaml:"name"`
	Arch        Arch         `yaml:"arch"`
	ClockHz     uint64       `yaml:"clock_hz,omitempty"`
	Flash       MemoryRange  `yaml:"flash"`
	RAM         MemoryRange  `yaml:"ram"`
	Peripherals []Peripheral `yaml:"peripherals"`

	// UARTSink mirrors UART output to the host: "stdout",
	// "serial:<port>@<baud>", "mqtt://host:port/topic" or "ws:host:port".
	UARTSink string `yaml:"uart_sink,omitempty"`

	// TrapPolicy is "strict" (default) or "permissive".
	TrapPolicy string `yaml:"trap_policy,omitempty"`

	// HardFaultOnBusError escalates bus faults to HardFault on Cortex-M
	// when the firmware provides a handler.
	HardFaultOnBusError bool `yaml:"hardfault_on_bus_error,omitempty"`

	// Timing is an optional path to a JSON timing config.
	Timing string `yaml:"timing,omitempty"`

	// ExternalIRQs is the number of NVIC lines on Cortex-M. Zero selects
	// 64.
	ExternalIRQs int `yaml:"external_irqs,omitempty"`
}

// DefaultExternalIRQs is the NVIC size when the descriptor sets none.
const DefaultExternalIRQs = 64

// LoadSystem reads and validates a system descriptor file.
func LoadSystem(path string) (*System, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "reading system descriptor")
	}
	sys, err := ParseSystem(data)
	if err != nil {
		return nil, errors.Annotatef(err, "%s", path)
	}
	glog.V(1).Infof("loaded system %q (%s) from %s", sys.Name, sys.Arch, path)
	return sys, nil
}

// ParseSystem parses and validates a system descriptor.
func ParseSystem(data []byte) (*System, error) {
	var sys System
	if err := yaml.UnmarshalStrict(data, &sys); err != nil {
		return nil, errors.NotValidf("system descriptor: %v", err)
	}
	if err := sys.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &sys, nil
}

// Validate checks the descriptor for missing fields, overlapping regions
// and duplicate peripheral ids.
func (s *System) Validate() error {
	if s.Name == "" {
		return errors.NotValidf("system without a name")
	}
	if s.Arch == "" {
		return errors.NotValidf("system %q without an arch", s.Name)
	}
	if s.Flash.Size == 0 {
		return errors.NotValidf("system %q: zero flash size", s.Name)
	}
	if s.RAM.Size == 0 {
		return errors.NotValidf("system %q: zero ram size", s.Name)
	}
	if s.TrapPolicy != "" && s.TrapPolicy != "strict" && s.TrapPolicy != "permissive" {
		return errors.NotValidf("trap_policy %q", s.TrapPolicy)
	}
	if s.ExternalIRQs < 0 || s.ExternalIRQs > 240 {
		return errors.NotValidf("external_irqs %d", s.ExternalIRQs)
	}

	type span struct {
		name       string
		start, end uint64
	}
	spans := []span{
		{"flash", uint64(s.Flash.Base), s.Flash.End()},
		{"ram", uint64(s.RAM.Base), s.RAM.End()},
	}

	ids := map[string]bool{}
	for i := range s.Peripherals {
		p := &s.Peripherals[i]
		if p.ID == "" {
			return errors.NotValidf("peripheral %d without an id", i)
		}
		if ids[p.ID] {
			return errors.AlreadyExistsf("peripheral %q", p.ID)
		}
		ids[p.ID] = true
		if p.Type == "" {
			return errors.NotValidf("peripheral %q without a type", p.ID)
		}
		if p.IRQ != nil && *p.IRQ < 0 {
			return errors.NotValidf("peripheral %q irq %d", p.ID, *p.IRQ)
		}
		if p.Size != 0 {
			spans = append(spans, span{p.ID, uint64(p.BaseAddress), uint64(p.BaseAddress) + uint64(p.Size)})
		}
	}

	for _, sp := range spans {
		if sp.end > 1<<32 {
			return errors.NotValidf("%s extends past the 32-bit address space", sp.name)
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return errors.NotValidf("%s overlaps %s", spans[i].name, spans[i-1].name)
		}
	}
	return nil
}

// Peripheral returns the peripheral with the given id.
func (s *System) Peripheral(id string) (*Peripheral, bool) {
	for i := range s.Peripherals {
		if s.Peripherals[i].ID == id {
			return &s.Peripherals[i], true
		}
	}
	return nil, false
}

// Marshal renders the descriptor as YAML.
func (s *System) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(s)
	return data, errors.Trace(err)
}
