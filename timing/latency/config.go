package latency

import (
	"encoding/json"
	"os"

	"github.com/juju/errors"
)

// TimingConfig holds cycle costs for instruction classes and exception
// handling. Values follow the Cortex-M3/M4 technical reference manual with
// zero-wait-state memory.
type TimingConfig struct {
	// ALULatency is the cost of data processing, shifts and extends.
	// Default: 1 cycle.
	ALULatency uint64 `json:"alu_latency"`

	// BranchLatency is the cost of a branch that is not taken, or of a
	// predicated-false instruction. Default: 1 cycle.
	BranchLatency uint64 `json:"branch_latency"`

	// BranchTakenPenalty is the pipeline refill cost added when a branch
	// or a PC write is taken. Default: 2 cycles.
	BranchTakenPenalty uint64 `json:"branch_taken_penalty"`

	// LoadLatency is the cost of a single load. Default: 2 cycles.
	LoadLatency uint64 `json:"load_latency"`

	// StoreLatency is the cost of a single store. Default: 1 cycle.
	StoreLatency uint64 `json:"store_latency"`

	// MultipleTransferLatency is the cost per register of LDM/STM/PUSH/POP
	// beyond the first. Default: 1 cycle.
	MultipleTransferLatency uint64 `json:"multiple_transfer_latency"`

	// MultiplyLatency is the cost of 32-bit multiplies. Default: 1 cycle.
	MultiplyLatency uint64 `json:"multiply_latency"`

	// LongMultiplyLatency is the cost of 64-bit result multiplies.
	// Default: 3 cycles.
	LongMultiplyLatency uint64 `json:"long_multiply_latency"`

	// DivideLatencyMin is the minimum divide latency. Default: 2 cycles.
	DivideLatencyMin uint64 `json:"divide_latency_min"`

	// DivideLatencyMax is the maximum divide latency. Default: 12 cycles.
	DivideLatencyMax uint64 `json:"divide_latency_max"`

	// SyscallLatency is the cost of SVC/ECALL before exception entry.
	// Default: 1 cycle.
	SyscallLatency uint64 `json:"syscall_latency"`

	// ExceptionEntryLatency is the cost of stacking and vector fetch.
	// Default: 12 cycles.
	ExceptionEntryLatency uint64 `json:"exception_entry_latency"`

	// ExceptionReturnLatency is the cost of unstacking. Default: 10 cycles.
	ExceptionReturnLatency uint64 `json:"exception_return_latency"`

	// FlashWaitStates is added to every instruction fetch that misses the
	// flash accelerator (or to every fetch when it is disabled).
	// Default: 0.
	FlashWaitStates uint64 `json:"flash_wait_states"`

	// FlashCacheLines is the number of accelerator lines; 0 disables it.
	// Default: 0.
	FlashCacheLines int `json:"flash_cache_lines"`

	// FlashCacheLineSize is the accelerator line size in bytes.
	// Default: 16.
	FlashCacheLineSize int `json:"flash_cache_line_size"`
}

// DefaultTimingConfig returns a TimingConfig with Cortex-M default values.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		ALULatency:              1,
		BranchLatency:           1,
		BranchTakenPenalty:      2,
		LoadLatency:             2,
		StoreLatency:            1,
		MultipleTransferLatency: 1,
		MultiplyLatency:         1,
		LongMultiplyLatency:     3,
		DivideLatencyMin:        2,
		DivideLatencyMax:        12,
		SyscallLatency:          1,
		ExceptionEntryLatency:   12,
		ExceptionReturnLatency:  10,
		FlashWaitStates:         0,
		FlashCacheLines:         0,
		FlashCacheLineSize:      16,
	}
}

// LoadConfig loads a TimingConfig from a JSON file. Fields missing from
// the file keep their defaults.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read timing config file")
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, errors.Annotatef(err, "failed to parse timing config")
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Annotatef(err, "failed to serialize timing config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Annotatef(err, "failed to write timing config file")
	}

	return nil
}

// Validate checks that every latency is usable.
func (c *TimingConfig) Validate() error {
	if c.ALULatency == 0 {
		return errors.Errorf("alu_latency must be > 0")
	}
	if c.BranchLatency == 0 {
		return errors.Errorf("branch_latency must be > 0")
	}
	if c.LoadLatency == 0 {
		return errors.Errorf("load_latency must be > 0")
	}
	if c.StoreLatency == 0 {
		return errors.Errorf("store_latency must be > 0")
	}
	if c.SyscallLatency == 0 {
		return errors.Errorf("syscall_latency must be > 0")
	}
	if c.DivideLatencyMin > c.DivideLatencyMax {
		return errors.Errorf("divide_latency_min must be <= divide_latency_max")
	}
	if c.FlashCacheLines < 0 {
		return errors.Errorf("flash_cache_lines must be >= 0")
	}
	if c.FlashCacheLines > 0 {
		size := c.FlashCacheLineSize
		if size < 4 || size&(size-1) != 0 {
			return errors.Errorf("flash_cache_line_size must be a power of two >= 4")
		}
	}
	return nil
}

// Clone returns a deep copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c
	return &clone
}
