package harness

import (
	"github.com/sarchlab/mcusim/config"
	"github.com/sarchlab/mcusim/emu"
)

// ResultSchemaVersion is the version of the result.json layout.
const ResultSchemaVersion = "1.0"

// Status is the verdict of a run.
type Status string

// Statuses.
const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusError Status = "error"
)

// NamedValue is a labelled counter in the stop details.
type NamedValue struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
}

// StopDetails records which limit triggered the stop and the observed
// value.
type StopDetails struct {
	Triggered config.StopReason `json:"triggered_stop_condition"`
	Limit     *NamedValue       `json:"triggered_limit,omitempty"`
	Observed  *NamedValue       `json:"observed,omitempty"`
}

// AssertionResult is the outcome of one assertion.
type AssertionResult struct {
	Assertion config.Assertion `json:"assertion"`
	Passed    bool             `json:"passed"`
	Detail    string           `json:"detail,omitempty"`
}

// RunResult is everything a run produced. Equal inputs give equal
// results; nothing here depends on the host clock.
type RunResult struct {
	SchemaVersion string            `json:"result_schema_version"`
	Status        Status            `json:"status"`
	StopReason    config.StopReason `json:"stop_reason"`
	StopDetails   StopDetails       `json:"stop_reason_details"`
	Message       string            `json:"message,omitempty"`

	Steps        uint64 `json:"steps_executed"`
	Cycles       uint64 `json:"cycles"`
	Instructions uint64 `json:"instructions"`
	// ElapsedNS is simulated time: cycles at the configured clock.
	ElapsedNS int64 `json:"elapsed_sim_ns"`

	UART      []byte `json:"-"`
	UARTBytes int    `json:"uart_bytes"`

	CPU            emu.CPUSnapshot `json:"cpu"`
	MemoryChecksum uint32          `json:"memory_crc32"`

	Limits         config.Limits     `json:"limits"`
	Assertions     []AssertionResult `json:"assertions"`
	FirmwareSHA256 string            `json:"firmware_hash,omitempty"`
}

// Passed reports whether the status is pass.
func (r *RunResult) Passed() bool {
	return r.Status == StatusPass
}

// ConfigErrorResult describes a run that could not start.
func ConfigErrorResult(limits config.Limits, err error) *RunResult {
	return &RunResult{
		SchemaVersion: ResultSchemaVersion,
		Status:        StatusError,
		StopReason:    config.StopConfigError,
		StopDetails:   StopDetails{Triggered: config.StopConfigError},
		Message:       err.Error(),
		Limits:        limits,
		Assertions:    []AssertionResult{},
	}
}
