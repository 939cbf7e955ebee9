// Package benchmarks provides timing benchmark infrastructure for
// calibrating the cycle model against real microcontrollers.
package benchmarks

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/config"
	"github.com/sarchlab/mcusim/harness"
	"github.com/sarchlab/mcusim/loader"
	"github.com/sarchlab/mcusim/system"
	"github.com/sarchlab/mcusim/timing/latency"
)

// BenchmarkResult holds the timing results for a single benchmark run.
type BenchmarkResult struct {
	// Name identifies the benchmark
	Name string `json:"name"`

	// Description explains what the benchmark measures
	Description string `json:"description"`

	// Arch is the architecture of the board the benchmark ran on
	Arch string `json:"arch"`

	// SimulatedCycles is the total cycle count from the timing model
	SimulatedCycles uint64 `json:"simulated_cycles"`

	// InstructionsRetired is the number of executed instructions
	InstructionsRetired uint64 `json:"instructions_retired"`

	// CPI is cycles per instruction
	CPI float64 `json:"cpi"`

	// FlashCacheHits/Misses (if the flash accelerator is enabled)
	FlashCacheHits   uint64 `json:"flash_cache_hits,omitempty"`
	FlashCacheMisses uint64 `json:"flash_cache_misses,omitempty"`

	// StopReason is why the run ended; "halt" for a completed benchmark
	StopReason config.StopReason `json:"stop_reason"`

	// ExitCode is r0 (a0 on RISC-V) when the program halted
	ExitCode uint32 `json:"exit_code"`

	// WallTime is the actual time taken to run the simulation
	WallTime time.Duration `json:"wall_time_ns"`
}

// Benchmark defines a single benchmark program. It runs on the built-in
// board for Arch and ends with a breakpoint instruction.
type Benchmark struct {
	// Name identifies the benchmark
	Name string

	// Description explains what the benchmark measures
	Description string

	// Arch selects the board
	Arch config.Arch

	// Program is the flash image, vector table included on Cortex-M
	Program []byte

	// ExpectedExit is the expected exit code (for validation)
	ExpectedExit uint32
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// FlashWaitStates is added to each flash fetch that misses the
	// accelerator
	FlashWaitStates uint64

	// FlashCacheLines enables the flash accelerator with this many lines
	FlashCacheLines int

	// MaxSteps bounds every benchmark
	MaxSteps uint64

	// Output is where to write results (default: os.Stdout)
	Output io.Writer
}

// DefaultConfig returns a default harness configuration: two wait states
// behind an eight-line accelerator, as on a 72 MHz STM32F1.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		FlashWaitStates: 2,
		FlashCacheLines: 8,
		MaxSteps:        100000,
		Output:          os.Stdout,
	}
}

// Harness runs timing benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.MaxSteps == 0 {
		config.MaxSteps = DefaultConfig().MaxSteps
	}
	return &Harness{
		config:     config,
		benchmarks: []Benchmark{},
	}
}

// AddBenchmark adds a benchmark to the harness.
func (h *Harness) AddBenchmark(b Benchmark) {
	h.benchmarks = append(h.benchmarks, b)
}

// AddBenchmarks adds multiple benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// RunAll executes all benchmarks and returns results.
func (h *Harness) RunAll() ([]BenchmarkResult, error) {
	results := make([]BenchmarkResult, 0, len(h.benchmarks))

	for _, bench := range h.benchmarks {
		result, err := h.runBenchmark(bench)
		if err != nil {
			return results, errors.Annotatef(err, "benchmark %s", bench.Name)
		}
		results = append(results, result)
	}

	return results, nil
}

func (h *Harness) timingConfig() *latency.TimingConfig {
	cfg := latency.DefaultTimingConfig()
	cfg.FlashWaitStates = h.config.FlashWaitStates
	cfg.FlashCacheLines = h.config.FlashCacheLines
	return cfg
}

// runBenchmark executes a single benchmark on a fresh board.
func (h *Harness) runBenchmark(bench Benchmark) (BenchmarkResult, error) {
	desc, err := config.Default(bench.Arch)
	if err != nil {
		return BenchmarkResult{}, errors.Trace(err)
	}
	prog := loader.ParseRaw(bench.Program, desc.Flash.Base)

	brd, err := system.Build(desc, prog,
		system.WithTimingConfig(h.timingConfig()),
		system.WithUARTSink(nil))
	if err != nil {
		return BenchmarkResult{}, errors.Trace(err)
	}
	defer brd.Close()

	runner := harness.NewRunner(brd,
		harness.WithLimits(config.Limits{MaxSteps: h.config.MaxSteps}),
		harness.WithAssertions(config.ExpectStop(config.StopHalt)))

	start := time.Now()
	res, err := runner.Run(context.Background())
	wallTime := time.Since(start)
	if err != nil {
		return BenchmarkResult{}, errors.Trace(err)
	}

	result := BenchmarkResult{
		Name:                bench.Name,
		Description:         bench.Description,
		Arch:                string(bench.Arch),
		SimulatedCycles:     res.Cycles,
		InstructionsRetired: res.Instructions,
		StopReason:          res.StopReason,
		WallTime:            wallTime,
	}
	if res.Instructions > 0 {
		result.CPI = float64(res.Cycles) / float64(res.Instructions)
	}

	exitReg := 0
	if bench.Arch == config.ArchRISCV {
		exitReg = 10
	}
	result.ExitCode = brd.Core().Register(exitReg)

	if fc := brd.FlashCache(); fc != nil {
		stats := fc.Stats()
		result.FlashCacheHits = stats.Hits
		result.FlashCacheMisses = stats.Misses
	}

	return result, nil
}

// PrintResults outputs benchmark results in a human-readable format.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output, "=== MCUSim Timing Benchmark Results ===")
	_, _ = fmt.Fprintln(h.config.Output, "")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "Benchmark: %s (%s)\n", r.Name, r.Arch)
		_, _ = fmt.Fprintf(h.config.Output, "  Description: %s\n", r.Description)
		_, _ = fmt.Fprintf(h.config.Output, "  Stop: %s, Exit Code: %d\n", r.StopReason, r.ExitCode)
		_, _ = fmt.Fprintln(h.config.Output, "  --- Timing ---")
		_, _ = fmt.Fprintf(h.config.Output, "  Simulated Cycles:     %d\n", r.SimulatedCycles)
		_, _ = fmt.Fprintf(h.config.Output, "  Instructions Retired: %d\n", r.InstructionsRetired)
		_, _ = fmt.Fprintf(h.config.Output, "  CPI:                  %.3f\n", r.CPI)

		if r.FlashCacheHits > 0 || r.FlashCacheMisses > 0 {
			_, _ = fmt.Fprintln(h.config.Output, "  --- Flash Accelerator ---")
			_, _ = fmt.Fprintf(h.config.Output, "  Hits:   %d\n", r.FlashCacheHits)
			_, _ = fmt.Fprintf(h.config.Output, "  Misses: %d\n", r.FlashCacheMisses)
		}

		_, _ = fmt.Fprintf(h.config.Output, "  Wall Time: %v\n", r.WallTime)
		_, _ = fmt.Fprintln(h.config.Output, "")
	}
}

// PrintCSV outputs benchmark results in CSV format for easy comparison.
func (h *Harness) PrintCSV(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output,
		"name,arch,cycles,instructions,cpi,flash_hits,flash_misses,stop_reason,exit_code")
	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "%s,%s,%d,%d,%.3f,%d,%d,%s,%d\n",
			r.Name,
			r.Arch,
			r.SimulatedCycles,
			r.InstructionsRetired,
			r.CPI,
			r.FlashCacheHits,
			r.FlashCacheMisses,
			r.StopReason,
			r.ExitCode,
		)
	}
}

// BenchmarkReport is the complete output format for benchmark results.
type BenchmarkReport struct {
	// Metadata about the benchmark run
	Metadata ReportMetadata `json:"metadata"`

	// Results is the list of individual benchmark results
	Results []BenchmarkResult `json:"results"`

	// Summary contains aggregate statistics
	Summary ReportSummary `json:"summary"`
}

// ReportMetadata contains information about the benchmark run.
type ReportMetadata struct {
	// Timestamp when the benchmark was run
	Timestamp string `json:"timestamp"`

	// Config describes the benchmark configuration
	Config BenchmarkConfig `json:"config"`
}

// BenchmarkConfig describes the harness configuration used.
type BenchmarkConfig struct {
	FlashWaitStates uint64 `json:"flash_wait_states"`
	FlashCacheLines int    `json:"flash_cache_lines"`
}

// ReportSummary contains aggregate statistics across all benchmarks.
type ReportSummary struct {
	// TotalBenchmarks is the number of benchmarks run
	TotalBenchmarks int `json:"total_benchmarks"`

	// TotalCycles is the sum of all simulated cycles
	TotalCycles uint64 `json:"total_cycles"`

	// TotalInstructions is the sum of all instructions retired
	TotalInstructions uint64 `json:"total_instructions"`

	// AverageCPI is the average cycles per instruction
	AverageCPI float64 `json:"average_cpi"`

	// TotalWallTime is the total wall clock time for all benchmarks
	TotalWallTime time.Duration `json:"total_wall_time_ns"`
}

// PrintJSON outputs benchmark results in JSON format for automated comparison.
func (h *Harness) PrintJSON(results []BenchmarkResult) error {
	var totalCycles, totalInstructions uint64
	var totalWallTime time.Duration
	for _, r := range results {
		totalCycles += r.SimulatedCycles
		totalInstructions += r.InstructionsRetired
		totalWallTime += r.WallTime
	}

	avgCPI := float64(0)
	if totalInstructions > 0 {
		avgCPI = float64(totalCycles) / float64(totalInstructions)
	}

	report := BenchmarkReport{
		Metadata: ReportMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Config: BenchmarkConfig{
				FlashWaitStates: h.config.FlashWaitStates,
				FlashCacheLines: h.config.FlashCacheLines,
			},
		},
		Results: results,
		Summary: ReportSummary{
			TotalBenchmarks:   len(results),
			TotalCycles:       totalCycles,
			TotalInstructions: totalInstructions,
			AverageCPI:        avgCPI,
			TotalWallTime:     totalWallTime,
		},
	}

	encoder := json.NewEncoder(h.config.Output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// Helper functions for building firmware images

// cortexMFlash and cortexMStack match the built-in Cortex-M board.
const (
	cortexMFlash = 0x08000000
	cortexMStack = 0x20005000
)

// BuildThumb assembles halfwords into a Cortex-M image: a two-entry vector
// table followed by the code, which starts executing at flash + 8.
func BuildThumb(halfwords ...uint16) []byte {
	program := make([]byte, 8, 8+len(halfwords)*2)
	binary.LittleEndian.PutUint32(program[0:], cortexMStack)
	binary.LittleEndian.PutUint32(program[4:], cortexMFlash+8|1)
	for _, hw := range halfwords {
		program = binary.LittleEndian.AppendUint16(program, hw)
	}
	return program
}

// BuildRV32 assembles instruction words into a RISC-V image executed from
// its first byte.
func BuildRV32(instrs ...uint32) []byte {
	program := make([]byte, 0, len(instrs)*4)
	for _, inst := range instrs {
		program = binary.LittleEndian.AppendUint32(program, inst)
	}
	return program
}

// Thumb encoding helpers (16-bit forms, low registers only).

// EncodeMOVS encodes MOVS Rd, #imm8
func EncodeMOVS(rd uint8, imm uint8) uint16 {
	return 0x2000 | uint16(rd&7)<<8 | uint16(imm)
}

// EncodeADDSImm encodes ADDS Rdn, #imm8
func EncodeADDSImm(rdn uint8, imm uint8) uint16 {
	return 0x3000 | uint16(rdn&7)<<8 | uint16(imm)
}

// EncodeSUBSImm encodes SUBS Rdn, #imm8
func EncodeSUBSImm(rdn uint8, imm uint8) uint16 {
	return 0x3800 | uint16(rdn&7)<<8 | uint16(imm)
}

// EncodeADDSReg encodes ADDS Rd, Rn, Rm
func EncodeADDSReg(rd, rn, rm uint8) uint16 {
	return 0x1800 | uint16(rm&7)<<6 | uint16(rn&7)<<3 | uint16(rd&7)
}

// EncodeLSLS encodes LSLS Rd, Rm, #imm5
func EncodeLSLS(rd, rm uint8, imm uint8) uint16 {
	return uint16(imm&0x1F)<<6 | uint16(rm&7)<<3 | uint16(rd&7)
}

// EncodeMULS encodes MULS Rdm, Rn, Rdm
func EncodeMULS(rdm, rn uint8) uint16 {
	return 0x4340 | uint16(rn&7)<<3 | uint16(rdm&7)
}

// EncodeSTR encodes STR Rt, [Rn, #imm] with a word-aligned imm below 128
func EncodeSTR(rt, rn uint8, imm uint8) uint16 {
	return 0x6000 | uint16(imm>>2&0x1F)<<6 | uint16(rn&7)<<3 | uint16(rt&7)
}

// EncodeLDR encodes LDR Rt, [Rn, #imm] with a word-aligned imm below 128
func EncodeLDR(rt, rn uint8, imm uint8) uint16 {
	return 0x6800 | uint16(imm>>2&0x1F)<<6 | uint16(rn&7)<<3 | uint16(rt&7)
}

// EncodeBNE encodes BNE with offset measured from the branch address + 4
func EncodeBNE(offset int32) uint16 {
	return 0xD100 | uint16(offset>>1)&0xFF
}

// EncodeB encodes B with offset measured from the branch address + 4
func EncodeB(offset int32) uint16 {
	return 0xE000 | uint16(offset>>1)&0x7FF
}

// EncodeBL encodes the two halfwords of BL with offset measured from the
// branch address + 4
func EncodeBL(offset int32) (uint16, uint16) {
	imm := uint32(offset)
	s := imm >> 24 & 1
	i1 := imm >> 23 & 1
	i2 := imm >> 22 & 1
	j1 := ^(i1 ^ s) & 1
	j2 := ^(i2 ^ s) & 1
	hi := 0xF000 | uint16(s)<<10 | uint16(imm>>12&0x3FF)
	lo := 0xD000 | uint16(j1)<<13 | uint16(j2)<<11 | uint16(imm>>1&0x7FF)
	return hi, lo
}

// EncodeBXLR encodes BX LR
func EncodeBXLR() uint16 {
	return 0x4770
}

// EncodeBKPT encodes BKPT #imm8
func EncodeBKPT(imm uint8) uint16 {
	return 0xBE00 | uint16(imm)
}

// RV32I encoding helpers.

// EncodeADDI encodes ADDI rd, rs1, imm12
func EncodeADDI(rd, rs1 uint8, imm int32) uint32 {
	return uint32(imm&0xFFF)<<20 | uint32(rs1&0x1F)<<15 | uint32(rd&0x1F)<<7 | 0x13
}

// EncodeBNERV encodes BNE rs1, rs2, offset relative to the branch
func EncodeBNERV(rs1, rs2 uint8, offset int32) uint32 {
	imm := uint32(offset)
	return (imm>>12&1)<<31 | (imm>>5&0x3F)<<25 | uint32(rs2&0x1F)<<20 |
		uint32(rs1&0x1F)<<15 | 1<<12 | (imm>>1&0xF)<<8 | (imm>>11&1)<<7 | 0x63
}

// EncodeEBREAK encodes EBREAK
func EncodeEBREAK() uint32 {
	return 0x00100073
}
