// Package emu provides functional emulation of microcontroller cores: an
// ARMv7-M (Thumb/Thumb-2) core and an RV32I hart, plus the Machine that
// steps a core together with its bus and peripherals.
package emu

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/insts"
)

// ISA identifies the instruction set a core executes.
type ISA string

// Supported instruction sets.
const (
	ISACortexM ISA = "cortex-m"
	ISARV32    ISA = "rv32i"
)

// TrapPolicy selects how an unknown encoding is handled.
type TrapPolicy uint8

const (
	// TrapStrict stops the run with a DecodeFault.
	TrapStrict TrapPolicy = iota
	// TrapPermissive logs a warning and skips the encoding.
	TrapPermissive
)

// ParseTrapPolicy parses "strict" or "permissive".
func ParseTrapPolicy(s string) (TrapPolicy, error) {
	switch s {
	case "", "strict":
		return TrapStrict, nil
	case "permissive":
		return TrapPermissive, nil
	}
	return 0, errors.NotValidf("trap policy %q", s)
}

// DecodeFault reports an instruction that could not be decoded or is
// permanently undefined.
type DecodeFault struct {
	PC   uint32
	Raw  uint32
	Size int
}

func (f *DecodeFault) Error() string {
	if f.Size == 2 {
		return fmt.Sprintf("undefined instruction 0x%04x at 0x%08x", f.Raw, f.PC)
	}
	return fmt.Sprintf("undefined instruction 0x%08x at 0x%08x", f.Raw, f.PC)
}

// LockupError reports a fault raised while the fault handler itself was
// running.
type LockupError struct {
	PC    uint32
	Cause error
}

func (e *LockupError) Error() string {
	return fmt.Sprintf("lockup at 0x%08x: %v", e.PC, e.Cause)
}

// StepResult represents the result of a single step.
type StepResult struct {
	// PC is the address of the instruction the step dealt with.
	PC uint32

	// Inst is the decoded instruction, nil when the step took an
	// exception or the core was sleeping.
	Inst *insts.Instruction

	// Executed is false for steps that did not retire an instruction:
	// exception entry, sleep, and predicated-false instructions.
	Executed bool

	// Exception is the exception or interrupt number taken at the start
	// of the step, or 0.
	Exception int

	// Cycles is the simulated cost of the step.
	Cycles uint64

	// Halted is true if the core hit a breakpoint instruction.
	Halted bool

	// HaltCode is the breakpoint immediate if Halted is true.
	HaltCode uint32

	// Err is set if the step failed fatally (bus fault, decode fault,
	// lockup).
	Err error
}

// Core is the per-ISA execution engine a Machine drives.
type Core interface {
	ISA() ISA

	// Reset brings the core to its reset state, reading the vector table
	// or jumping to the entry point.
	Reset() error

	// Step takes a pending exception or executes one instruction.
	Step() StepResult

	PC() uint32
	SetPC(pc uint32)

	// Register and SetRegister use debugger numbering: r0-r15 and xpsr
	// (16) on Cortex-M; x0-x31 and pc (32) on RV32.
	Register(n int) uint32
	SetRegister(n int, v uint32)
	NumRegisters() int
	RegisterNames() []string

	Snapshot() CPUSnapshot
}

// CPUSnapshot is a serializable view of the core registers.
type CPUSnapshot struct {
	ISA       ISA               `json:"isa"`
	PC        uint32            `json:"pc"`
	Registers map[string]uint32 `json:"registers"`
	Flags     string            `json:"flags,omitempty"`
	IT        string            `json:"it,omitempty"`
	Mode      string            `json:"mode,omitempty"`
}

// RegisterIndex resolves a register name or number in the core's debugger
// numbering. It accepts the names from RegisterNames, decimal numbers,
// "r13"-"r15" on Cortex-M and "x0"-"x31" or "fp" on RV32.
func RegisterIndex(core Core, name string) (int, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if n, err := strconv.Atoi(name); err == nil {
		if n < 0 || n >= core.NumRegisters() {
			return 0, errors.NotFoundf("register %d", n)
		}
		return n, nil
	}
	for i, r := range core.RegisterNames() {
		if r == name {
			return i, nil
		}
	}

	prefix := "r"
	if core.ISA() == ISARV32 {
		if name == "fp" {
			return 8, nil
		}
		prefix = "x"
	}
	if strings.HasPrefix(name, prefix) {
		if n, err := strconv.Atoi(name[1:]); err == nil && n >= 0 && n < core.NumRegisters()-1 {
			return n, nil
		}
	}
	return 0, errors.NotFoundf("register %q", name)
}
