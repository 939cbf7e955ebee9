// Package latency provides the per-instruction cycle model used to advance
// simulated time.
//
// The cycle counts approximate an in-order Cortex-M class core and can be
// configured via TimingConfig. RV32 instructions are costed with the same
// classes.
package latency

import (
	"math/bits"

	"github.com/sarchlab/mcusim/insts"
)

// Table provides instruction latency lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a new latency table with default timing values.
func NewTable() *Table {
	return &Table{
		config: DefaultTimingConfig(),
	}
}

// NewTableWithConfig creates a new latency table with custom timing configuration.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{
		config: config,
	}
}

// GetLatency returns the execution latency in cycles for the given
// instruction, not counting a taken-branch penalty. Divides report the
// maximum latency.
func (t *Table) GetLatency(inst *insts.Instruction) uint64 {
	if inst == nil {
		return 1
	}

	switch inst.Op {
	case insts.OpMUL, insts.OpMLA, insts.OpMLS, insts.OpMULH, insts.OpMULHSU, insts.OpMULHU:
		return t.config.MultiplyLatency

	case insts.OpUMULL, insts.OpSMULL, insts.OpUMLAL, insts.OpSMLAL:
		return t.config.LongMultiplyLatency

	case insts.OpUDIV, insts.OpSDIV, insts.OpDIV, insts.OpDIVU, insts.OpREM, insts.OpREMU:
		return t.config.DivideLatencyMax

	case insts.OpSVC, insts.OpECALL:
		return t.config.SyscallLatency

	case insts.OpLDM, insts.OpLDMDB, insts.OpPOP, insts.OpSTM, insts.OpSTMDB, insts.OpPUSH:
		n := uint64(bits.OnesCount16(inst.RegList))
		base := t.config.StoreLatency
		if inst.Op == insts.OpLDM || inst.Op == insts.OpLDMDB || inst.Op == insts.OpPOP {
			base = t.config.LoadLatency
		}
		if n <= 1 {
			return base
		}
		return base + (n-1)*t.config.MultipleTransferLatency

	case insts.OpLDRD, insts.OpSTRD:
		if inst.Op == insts.OpLDRD {
			return t.config.LoadLatency + t.config.MultipleTransferLatency
		}
		return t.config.StoreLatency + t.config.MultipleTransferLatency
	}

	switch {
	case t.IsLoadOp(inst):
		return t.config.LoadLatency
	case t.IsStoreOp(inst):
		return t.config.StoreLatency
	case t.IsBranchOp(inst):
		return t.config.BranchLatency
	}
	return t.config.ALULatency
}

// GetMinLatency returns the minimum execution latency for variable-latency operations.
func (t *Table) GetMinLatency(inst *insts.Instruction) uint64 {
	if inst == nil {
		return 1
	}

	switch inst.Op {
	case insts.OpUDIV, insts.OpSDIV, insts.OpDIV, insts.OpDIVU, insts.OpREM, insts.OpREMU:
		return t.config.DivideLatencyMin
	}
	return t.GetLatency(inst)
}

// GetMaxLatency returns the maximum execution latency for variable-latency operations.
func (t *Table) GetMaxLatency(inst *insts.Instruction) uint64 {
	return t.GetLatency(inst)
}

// Cycles returns the cost of an executed instruction. taken reports
// whether it wrote the PC. Skipped (predicated-false) instructions cost
// BranchLatency.
func (t *Table) Cycles(inst *insts.Instruction, executed, taken bool) uint64 {
	if !executed {
		return t.config.BranchLatency
	}
	c := t.GetLatency(inst)
	if taken {
		c += t.config.BranchTakenPenalty
	}
	return c
}

// ExceptionEntry returns the cost of taking an exception.
func (t *Table) ExceptionEntry() uint64 {
	return t.config.ExceptionEntryLatency
}

// ExceptionReturn returns the cost of returning from an exception.
func (t *Table) ExceptionReturn() uint64 {
	return t.config.ExceptionReturnLatency
}

// FlashWaitStates returns the fetch penalty for uncached flash.
func (t *Table) FlashWaitStates() uint64 {
	return t.config.FlashWaitStates
}

// IsMemoryOp returns true if the instruction accesses memory.
func (t *Table) IsMemoryOp(inst *insts.Instruction) bool {
	return inst != nil && inst.IsMemory()
}

// IsLoadOp returns true if the instruction is a load operation.
func (t *Table) IsLoadOp(inst *insts.Instruction) bool {
	return inst != nil && inst.IsLoad()
}

// IsStoreOp returns true if the instruction is a store operation.
func (t *Table) IsStoreOp(inst *insts.Instruction) bool {
	return inst != nil && inst.IsMemory() && !inst.IsLoad()
}

// IsBranchOp returns true if the instruction is a branch operation.
func (t *Table) IsBranchOp(inst *insts.Instruction) bool {
	return inst != nil && inst.IsBranch()
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
