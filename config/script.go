package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"
)

// SchemaVersion is the test script schema this package reads.
const SchemaVersion = "1.0"

// StopReason says why a run ended.
type StopReason string

// Stop reasons.
const (
	StopConfigError      StopReason = "config_error"
	StopAssertionFailed  StopReason = "assertion_failed"
	StopMaxSteps         StopReason = "max_steps"
	StopMaxCycles        StopReason = "max_cycles"
	StopWallTime         StopReason = "wall_time"
	StopMaxUARTBytes     StopReason = "max_uart_bytes"
	StopNoProgress       StopReason = "no_progress"
	StopAssertionSuccess StopReason = "assertion_success"
	StopMemoryViolation  StopReason = "memory_violation"
	StopDecodeError      StopReason = "decode_error"
	StopHalt             StopReason = "halt"
	StopCancelled        StopReason = "cancelled"
)

var stopReasons = []StopReason{
	StopConfigError, StopAssertionFailed, StopMaxSteps, StopMaxCycles,
	StopWallTime, StopMaxUARTBytes, StopNoProgress, StopAssertionSuccess,
	StopMemoryViolation, StopDecodeError, StopHalt, StopCancelled,
}

// ParseStopReason checks s against the known stop reasons.
func ParseStopReason(s string) (StopReason, error) {
	for _, r := range stopReasons {
		if string(r) == s {
			return r, nil
		}
	}
	return "", errors.NotValidf("stop reason %q", s)
}

// Fatal reports whether the reason comes from a failed step rather than a
// limit or an assertion.
func (r StopReason) Fatal() bool {
	switch r {
	case StopMemoryViolation, StopDecodeError, StopHalt, StopConfigError:
		return true
	}
	return false
}

// UnmarshalYAML rejects unknown stop reasons.
func (r *StopReason) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return errors.Trace(err)
	}
	v, err := ParseStopReason(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Inputs names the firmware image and system descriptor of a test.
type Inputs struct {
	Firmware string `yaml:"firmware" json:"firmware,omitempty"`
	System   string `yaml:"system,omitempty" json:"system,omitempty"`
}

// Limits bound a run. Zero disables a limit, except MaxSteps which is
// required.
type Limits struct {
	MaxSteps        uint64 `yaml:"max_steps" json:"max_steps"`
	MaxCycles       uint64 `yaml:"max_cycles,omitempty" json:"max_cycles,omitempty"`
	MaxUARTBytes    uint64 `yaml:"max_uart_bytes,omitempty" json:"max_uart_bytes,omitempty"`
	NoProgressSteps uint64 `yaml:"no_progress_steps,omitempty" json:"no_progress_steps,omitempty"`
	WallTimeMS      uint64 `yaml:"wall_time_ms,omitempty" json:"wall_time_ms,omitempty"`
	StopOnSuccess   bool   `yaml:"stop_on_success,omitempty" json:"stop_on_success,omitempty"`
}

// Validate checks that the run is bounded.
func (l Limits) Validate() error {
	if l.MaxSteps == 0 {
		return errors.NotValidf("limit max_steps must be greater than zero")
	}
	return nil
}

// MemoryValue checks a word in memory.
type MemoryValue struct {
	Address       uint32  `yaml:"address" json:"address,omitempty"`
	ExpectedValue uint32  `yaml:"expected_value" json:"expected_value,omitempty"`
	Mask          *uint32 `yaml:"mask,omitempty" json:"mask,omitempty"`
}

// RegisterValue checks a core register, named ("r0", "sp", "a0") or
// numbered in debugger order.
type RegisterValue struct {
	Reg           string `yaml:"reg" json:"reg,omitempty"`
	ExpectedValue uint32 `yaml:"expected_value" json:"expected_value,omitempty"`
}

// AssertionKind identifies which check an Assertion holds.
type AssertionKind string

// Assertion kinds.
const (
	AssertUARTContains       AssertionKind = "uart_contains"
	AssertUARTRegex          AssertionKind = "uart_regex"
	AssertExpectedStopReason AssertionKind = "expected_stop_reason"
	AssertMemoryValue        AssertionKind = "memory_value"
	AssertRegisterValue      AssertionKind = "register_value"
	AssertLua                AssertionKind = "lua"
)

// Assertion is one entry of a script's assertion list. Exactly one field
// is set.
type Assertion struct {
	UARTContains       *string        `yaml:"uart_contains,omitempty" json:"uart_contains,omitempty"`
	UARTRegex          *string        `yaml:"uart_regex,omitempty" json:"uart_regex,omitempty"`
	ExpectedStopReason StopReason     `yaml:"expected_stop_reason,omitempty" json:"expected_stop_reason,omitempty"`
	MemoryValue        *MemoryValue   `yaml:"memory_value,omitempty" json:"memory_value,omitempty"`
	RegisterValue      *RegisterValue `yaml:"register_value,omitempty" json:"register_value,omitempty"`
	Lua                *string        `yaml:"lua,omitempty" json:"lua,omitempty"`
}

// Kind returns the assertion's kind, or "" when none or several fields
// are set.
func (a *Assertion) Kind() AssertionKind {
	var kinds []AssertionKind
	if a.UARTContains != nil {
		kinds = append(kinds, AssertUARTContains)
	}
	if a.UARTRegex != nil {
		kinds = append(kinds, AssertUARTRegex)
	}
	if a.ExpectedStopReason != "" {
		kinds = append(kinds, AssertExpectedStopReason)
	}
	if a.MemoryValue != nil {
		kinds = append(kinds, AssertMemoryValue)
	}
	if a.RegisterValue != nil {
		kinds = append(kinds, AssertRegisterValue)
	}
	if a.Lua != nil {
		kinds = append(kinds, AssertLua)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// IsOutput reports whether the assertion is about what the firmware
// produced, as opposed to how the run ended.
func (a *Assertion) IsOutput() bool {
	switch a.Kind() {
	case AssertUARTContains, AssertUARTRegex:
		return true
	}
	return false
}

// Convenience constructors.

// UARTContains asserts that the UART output contains s.
func UARTContains(s string) Assertion { return Assertion{UARTContains: &s} }

// UARTRegex asserts that the UART output matches re.
func UARTRegex(re string) Assertion { return Assertion{UARTRegex: &re} }

// ExpectStop asserts the stop reason.
func ExpectStop(r StopReason) Assertion { return Assertion{ExpectedStopReason: r} }

// Lua asserts that a Lua expression evaluates to true.
func Lua(expr string) Assertion { return Assertion{Lua: &expr} }

// Script is a CI test script.
type Script struct {
	SchemaVersion string      `yaml:"schema_version"`
	Inputs        Inputs      `yaml:"inputs"`
	Limits        Limits      `yaml:"limits"`
	Assertions    []Assertion `yaml:"assertions,omitempty"`

	// Dir is the directory relative input paths resolve against.
	Dir string `yaml:"-"`
}

// legacyScript is the pre-1.0 format with top-level limits.
type legacyScript struct {
	SchemaVersion interface{} `yaml:"schema_version"`
	Firmware      string      `yaml:"firmware"`
	System        string      `yaml:"system"`
	MaxSteps      uint64      `yaml:"max_steps"`
	WallTimeMS    uint64      `yaml:"wall_time_ms"`
	Assertions    []Assertion `yaml:"assertions"`
}

// LoadScript reads and validates a test script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "reading test script")
	}
	s, err := ParseScript(data)
	if err != nil {
		return nil, errors.Annotatef(err, "%s", path)
	}
	s.Dir = filepath.Dir(path)
	return s, nil
}

// ParseScript parses and validates a test script. Scripts using the
// deprecated schema_version 1 layout are converted.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	err := yaml.UnmarshalStrict(data, &s)
	if err != nil {
		legacy, ok := parseLegacy(data)
		if !ok {
			return nil, errors.NotValidf("test script (expected schema_version %q): %v", SchemaVersion, err)
		}
		glog.Warningf("test script uses the deprecated schema_version 1 layout; migrate to %q", SchemaVersion)
		s = *legacy
	}
	if err := s.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &s, nil
}

func parseLegacy(data []byte) (*Script, bool) {
	var probe map[string]interface{}
	if yaml.Unmarshal(data, &probe) != nil {
		return nil, false
	}
	switch v := probe["schema_version"].(type) {
	case int:
		if v != 1 {
			return nil, false
		}
	case string:
		if strings.TrimSpace(v) != "1" {
			return nil, false
		}
	default:
		return nil, false
	}

	var l legacyScript
	if yaml.UnmarshalStrict(data, &l) != nil {
		return nil, false
	}
	return &Script{
		SchemaVersion: SchemaVersion,
		Inputs:        Inputs{Firmware: l.Firmware, System: l.System},
		Limits:        Limits{MaxSteps: l.MaxSteps, WallTimeMS: l.WallTimeMS},
		Assertions:    l.Assertions,
	}, true
}

// Validate checks the schema version, inputs, limits and assertions.
func (s *Script) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return errors.NotValidf("schema_version %q (supported: %q)", s.SchemaVersion, SchemaVersion)
	}
	if strings.TrimSpace(s.Inputs.Firmware) == "" {
		return errors.NotValidf("empty inputs.firmware")
	}
	if err := s.Limits.Validate(); err != nil {
		return err
	}
	for i := range s.Assertions {
		if s.Assertions[i].Kind() == "" {
			return errors.NotValidf("assertion %d must set exactly one check", i)
		}
	}
	return nil
}

// FirmwarePath returns the firmware path resolved against Dir.
func (s *Script) FirmwarePath() string {
	return s.resolve(s.Inputs.Firmware)
}

// SystemPath returns the system descriptor path resolved against Dir, or
// "" when the script uses the built-in descriptor.
func (s *Script) SystemPath() string {
	if s.Inputs.System == "" {
		return ""
	}
	return s.resolve(s.Inputs.System)
}

func (s *Script) resolve(p string) string {
	if filepath.IsAbs(p) || s.Dir == "" {
		return p
	}
	return filepath.Join(s.Dir, p)
}
