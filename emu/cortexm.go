package emu

import (
	"fmt"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/bus"
	"github.com/sarchlab/mcusim/insts"
	"github.com/sarchlab/mcusim/intc"
	"github.com/sarchlab/mcusim/timing/latency"
)

// CortexM executes ARMv7-M Thumb and Thumb-2 code.
type CortexM struct {
	regFile *RegFile
	alu     *ALU
	lsu     *LoadStoreUnit
	ctrl    *intc.Controller
	decoder *insts.ThumbDecoder
	timing  *latency.Table

	policy              TrapPolicy
	hardFaultOnBusError bool
	vectorTable         uint32

	faultmask bool
	sleeping  bool
	event     bool

	// Per-instruction execution state.
	curPC     uint32
	nextPC    uint32
	branched  bool
	excReturn uint32
	halted    bool
	haltCode  uint32
}

// CortexMOption is a functional option for configuring the CortexM core.
type CortexMOption func(*CortexM)

// WithTrapPolicy sets how unknown encodings are handled.
func WithTrapPolicy(p TrapPolicy) CortexMOption {
	return func(c *CortexM) {
		c.policy = p
	}
}

// WithHardFaultOnBusError escalates bus faults to HardFault when the
// vector table provides a handler.
func WithHardFaultOnBusError(enable bool) CortexMOption {
	return func(c *CortexM) {
		c.hardFaultOnBusError = enable
	}
}

// WithVectorTable sets the address the vector table is read from at reset.
func WithVectorTable(addr uint32) CortexMOption {
	return func(c *CortexM) {
		c.vectorTable = addr
	}
}

// WithLatencyTable sets the cycle model.
func WithLatencyTable(t *latency.Table) CortexMOption {
	return func(c *CortexM) {
		c.timing = t
	}
}

// NewCortexM creates a Cortex-M core on the given bus and controller.
func NewCortexM(b bus.Accessor, ctrl *intc.Controller, opts ...CortexMOption) *CortexM {
	regFile := &RegFile{}
	c := &CortexM{
		regFile: regFile,
		alu:     NewALU(regFile),
		lsu:     NewLoadStoreUnit(b),
		ctrl:    ctrl,
		decoder: insts.NewThumbDecoder(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.timing == nil {
		c.timing = latency.NewTable()
	}

	return c
}

// ISA returns ISACortexM.
func (c *CortexM) ISA() ISA {
	return ISACortexM
}

// RegFile returns the core's register file.
func (c *CortexM) RegFile() *RegFile {
	return c.regFile
}

// Sleeping reports whether the core waits in WFI/WFE.
func (c *CortexM) Sleeping() bool {
	return c.sleeping
}

// Reset loads SP and PC from the vector table and enters thread mode on
// the main stack.
func (c *CortexM) Reset() error {
	*c.regFile = RegFile{}
	c.faultmask = false
	c.sleeping = false
	c.event = false
	c.lsu.ClearExclusive()
	c.ctrl.SetVectorBase(c.vectorTable)

	sp, err := c.lsu.Load32(c.vectorTable)
	if err != nil {
		return errors.Annotatef(err, "reading initial SP at 0x%08x", c.vectorTable)
	}
	pc, err := c.lsu.Load32(c.vectorTable + 4)
	if err != nil {
		return errors.Annotatef(err, "reading reset vector at 0x%08x", c.vectorTable+4)
	}

	c.regFile.R[RegSP] = sp &^ 3
	c.regFile.R[RegLR] = 0xFFFFFFFF
	c.regFile.R[RegPC] = pc &^ 1
	glog.V(1).Infof("cortex-m reset: sp=0x%08x pc=0x%08x", sp, pc&^1)

	return nil
}

// PC returns the address of the next instruction.
func (c *CortexM) PC() uint32 {
	return c.regFile.R[RegPC]
}

// SetPC moves execution to pc.
func (c *CortexM) SetPC(pc uint32) {
	c.regFile.R[RegPC] = pc &^ 1
}

// ipsr returns the number of the running exception, 0 in thread mode.
func (c *CortexM) ipsr() uint32 {
	if !c.regFile.Handler {
		return 0
	}
	id, ok := c.ctrl.Current()
	if !ok {
		return 0
	}
	return uint32(id)
}

// Register reads r0-r15 or xPSR (16).
func (c *CortexM) Register(n int) uint32 {
	switch {
	case n >= 0 && n < 16:
		return c.regFile.R[n]
	case n == RegXPSR:
		return c.regFile.XPSR(c.ipsr())
	}
	return 0
}

// SetRegister writes r0-r15 or xPSR (16).
func (c *CortexM) SetRegister(n int, v uint32) {
	switch {
	case n == RegPC:
		c.SetPC(v)
	case n == RegSP:
		c.regFile.R[RegSP] = v &^ 3
	case n >= 0 && n < 16:
		c.regFile.R[n] = v
	case n == RegXPSR:
		c.regFile.SetAPSR(v)
		c.regFile.setEPSR(v)
	}
}

// NumRegisters returns 17: r0-r15 and xPSR.
func (c *CortexM) NumRegisters() int {
	return 17
}

var cortexMRegisterNames = []string{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
	"r8", "r9", "r10", "r11", "r12", "sp", "lr", "pc", "xpsr",
}

// RegisterNames returns the debugger register names.
func (c *CortexM) RegisterNames() []string {
	return cortexMRegisterNames
}

// Snapshot captures the architectural state.
func (c *CortexM) Snapshot() CPUSnapshot {
	regs := make(map[string]uint32, len(cortexMRegisterNames))
	for i, name := range cortexMRegisterNames {
		regs[name] = c.Register(i)
	}
	regs["msp"] = c.regFile.BankedSP(false)
	regs["psp"] = c.regFile.BankedSP(true)
	regs["control"] = c.regFile.CONTROL

	mode := "thread"
	if c.regFile.Handler {
		mode = "handler"
	}

	return CPUSnapshot{
		ISA:       ISACortexM,
		PC:        c.PC(),
		Registers: regs,
		Flags:     c.regFile.PSTATE.String(),
		IT:        c.regFile.IT.String(),
		Mode:      mode,
	}
}

// Step takes a preempting exception or executes one instruction.
func (c *CortexM) Step() StepResult {
	if id, ok := c.ctrl.Preempting(); ok {
		c.sleeping = false
		return c.takeException(id)
	}

	if c.sleeping {
		if _, pending := c.ctrl.HighestPending(); !pending {
			return StepResult{PC: c.PC(), Cycles: 1}
		}
		c.sleeping = false
	}

	return c.execute()
}

func (c *CortexM) fetch() (*insts.Instruction, error) {
	pc := c.regFile.R[RegPC]
	h1, err := c.lsu.Load(pc, 2, false)
	if err != nil {
		return nil, errors.Annotate(err, "instruction fetch")
	}

	var h2 uint32
	if insts.IsThumb32(uint16(h1)) {
		h2, err = c.lsu.Load(pc+2, 2, false)
		if err != nil {
			return nil, errors.Annotate(err, "instruction fetch")
		}
	}

	return c.decoder.Decode(uint16(h1), uint16(h2)), nil
}

// execute fetches, decodes and executes the instruction at PC, honoring
// the IT predicate.
func (c *CortexM) execute() StepResult {
	pc := c.regFile.R[RegPC]
	res := StepResult{PC: pc}

	inst, err := c.fetch()
	if err != nil {
		return c.busFault(res, c.regFile.IT, err)
	}
	res.Inst = inst

	c.curPC = pc
	c.nextPC = pc + uint32(inst.Size)
	c.branched = false
	c.excReturn = 0
	c.halted = false

	if inst.Op == insts.OpUnknown || inst.Op == insts.OpUDF {
		fault := &DecodeFault{PC: pc, Raw: inst.Raw, Size: int(inst.Size)}
		if c.policy == TrapStrict {
			res.Err = fault
			return res
		}
		glog.Warningf("%v, skipped", fault)
		if c.regFile.IT.Active() {
			c.regFile.IT.Advance()
		}
		c.regFile.R[RegPC] = c.nextPC
		res.Cycles = c.timing.Cycles(inst, false, false)
		return res
	}

	itBefore := c.regFile.IT
	inIT := itBefore.Active()
	passed := true
	if inIT {
		passed = ConditionPassed(itBefore.Cond(), c.regFile.PSTATE)
		c.regFile.IT.Advance()
	}

	if passed {
		setFlags := inst.SetFlags || inst.SetFlagsOutsideIT && !inIT
		if err := c.dispatch(inst, setFlags); err != nil {
			if _, ok := bus.IsFault(err); ok {
				return c.busFault(res, itBefore, err)
			}
			res.Err = err
			return res
		}
	}

	res.Executed = passed
	res.Cycles = c.timing.Cycles(inst, passed, c.branched)

	if c.halted {
		res.Halted = true
		res.HaltCode = c.haltCode
		c.regFile.IT = itBefore
		return res
	}

	if c.excReturn != 0 {
		if err := c.exceptionReturn(c.excReturn); err != nil {
			res.Err = err
			return res
		}
		res.Cycles += c.timing.ExceptionReturn()
		return res
	}

	c.regFile.R[RegPC] = c.nextPC
	return res
}

// dispatch routes an instruction to its executor.
func (c *CortexM) dispatch(inst *insts.Instruction, setFlags bool) error {
	switch inst.Format {
	case insts.FormatDPImm, insts.FormatDPReg, insts.FormatDPRegShift:
		c.execDataProcessing(inst, setFlags)
	case insts.FormatMultiply:
		c.execMultiply(inst, setFlags)
	case insts.FormatBitfield:
		c.execBitfield(inst)
	case insts.FormatExtend:
		c.execExtend(inst)
	case insts.FormatBranch, insts.FormatBranchCond, insts.FormatBranchReg,
		insts.FormatCompareBranch:
		c.execBranch(inst)
	case insts.FormatTableBranch:
		return c.execTableBranch(inst)
	case insts.FormatLoadStore, insts.FormatLoadStoreReg, insts.FormatLoadStoreLit:
		return c.execLoadStore(inst)
	case insts.FormatLoadStoreDual:
		return c.execLoadStoreDual(inst)
	case insts.FormatLoadStoreMulti:
		return c.execLoadStoreMultiple(inst)
	case insts.FormatSystem:
		return c.execSystem(inst)
	default:
		return errors.Errorf("unhandled format for %s at 0x%08x", inst.Op, c.curPC)
	}
	return nil
}

// readReg reads a register as an operand. PC reads as the instruction
// address plus 4.
func (c *CortexM) readReg(n uint8) uint32 {
	if n == RegPC {
		return c.curPC + 4
	}
	return c.regFile.R[n]
}

// writeReg writes a result register. A write to PC is a branch that
// ignores bit 0.
func (c *CortexM) writeReg(n uint8, v uint32) {
	switch n {
	case RegPC:
		c.branchTo(v)
	case RegSP:
		c.regFile.R[RegSP] = v &^ 3
	default:
		c.regFile.R[n] = v
	}
}

// branchTo redirects execution after the current instruction.
func (c *CortexM) branchTo(target uint32) {
	c.nextPC = target &^ 1
	c.branched = true
}

// bxWritePC is an interworking branch. In handler mode an EXC_RETURN value
// starts an exception return.
func (c *CortexM) bxWritePC(target uint32) {
	if c.regFile.Handler && target >= 0xF0000000 {
		c.excReturn = target
		c.branched = true
		return
	}
	c.branchTo(target)
}

// alignedPC returns Align(PC, 4) as used by literal addressing.
func (c *CortexM) alignedPC() uint32 {
	return (c.curPC + 4) &^ 3
}

func (c *CortexM) String() string {
	return fmt.Sprintf("pc=0x%08x sp=0x%08x %s", c.PC(), c.regFile.SP(), c.regFile.PSTATE)
}
