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

// RV32 debugger register numbers.
const (
	RV32RegSP = 2
	RV32RegPC = 32
)

// Machine-mode CSR numbers.
const (
	CSRMStatus   = 0x300
	CSRMISA      = 0x301
	CSRMIE       = 0x304
	CSRMTVec     = 0x305
	CSRMScratch  = 0x340
	CSRMEPC      = 0x341
	CSRMCause    = 0x342
	CSRMTVal     = 0x343
	CSRMIP       = 0x344
	CSRMCycle    = 0xB00
	CSRMInstret  = 0xB02
	CSRMCycleH   = 0xB80
	CSRMInstretH = 0xB82
	CSRCycle     = 0xC00
	CSRTime      = 0xC01
	CSRInstret   = 0xC02
	CSRCycleH    = 0xC80
	CSRTimeH     = 0xC81
	CSRInstretH  = 0xC82
	CSRMVendorID = 0xF11
	CSRMArchID   = 0xF12
	CSRMImpID    = 0xF13
	CSRMHartID   = 0xF14
)

// mstatus bits.
const (
	MStatusMIE  = 1 << 3
	MStatusMPIE = 1 << 7
	MStatusMPP  = 3 << 11
)

// Synchronous trap causes.
const (
	CauseFetchMisaligned = 0
	CauseFetchFault      = 1
	CauseIllegal         = 2
	CauseBreakpoint      = 3
	CauseLoadMisaligned  = 4
	CauseLoadFault       = 5
	CauseStoreMisaligned = 6
	CauseStoreFault      = 7
	CauseECallM          = 11
)

// misaRV32IM reports MXL=32 with the I and M extensions.
const misaRV32IM = 1<<30 | 1<<('I'-'A') | 1<<('M'-'A')

// RV32State is the architectural state of an RV32 hart.
type RV32State struct {
	X  [32]uint32
	PC uint32

	MStatus  uint32
	MTVec    uint32
	MScratch uint32
	MEPC     uint32
	MCause   uint32
	MTVal    uint32

	Cycle   uint64
	Instret uint64
}

// RV32 executes RV32I code with the Zicsr and M extensions in machine
// mode.
type RV32 struct {
	state   RV32State
	lsu     *LoadStoreUnit
	ctrl    *intc.Controller
	decoder *insts.RV32Decoder
	timing  *latency.Table

	policy     TrapPolicy
	entry      uint32
	stackTop   uint32
	timeSource func() uint64

	sleeping bool
	// trapLines records, per nested trap, the interrupt line being
	// serviced or 0 for a synchronous trap.
	trapLines []int

	curPC    uint32
	nextPC   uint32
	branched bool
	halted   bool
}

// RV32Option is a functional option for configuring the RV32 hart.
type RV32Option func(*RV32)

// WithRV32TrapPolicy sets how illegal instructions are handled.
func WithRV32TrapPolicy(p TrapPolicy) RV32Option {
	return func(h *RV32) {
		h.policy = p
	}
}

// WithEntryPoint sets the reset PC.
func WithEntryPoint(pc uint32) RV32Option {
	return func(h *RV32) {
		h.entry = pc
	}
}

// WithStackPointer sets the initial stack pointer. Zero leaves sp cleared
// for the startup code to set.
func WithStackPointer(sp uint32) RV32Option {
	return func(h *RV32) {
		h.stackTop = sp
	}
}

// WithRV32LatencyTable sets the cycle model.
func WithRV32LatencyTable(t *latency.Table) RV32Option {
	return func(h *RV32) {
		h.timing = t
	}
}

// WithTimeSource sets the counter read by the time CSR, normally the CLINT
// mtime.
func WithTimeSource(f func() uint64) RV32Option {
	return func(h *RV32) {
		h.timeSource = f
	}
}

// NewRV32 creates an RV32 hart on the given bus and controller.
func NewRV32(b bus.Accessor, ctrl *intc.Controller, opts ...RV32Option) *RV32 {
	h := &RV32{
		lsu:     NewLoadStoreUnit(b),
		ctrl:    ctrl,
		decoder: insts.NewRV32Decoder(),
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.timing == nil {
		h.timing = latency.NewTable()
	}

	return h
}

// ISA returns ISARV32.
func (h *RV32) ISA() ISA {
	return ISARV32
}

// State returns the hart state.
func (h *RV32) State() *RV32State {
	return &h.state
}

// Reset clears the hart and jumps to the entry point with interrupts
// globally disabled.
func (h *RV32) Reset() error {
	h.state = RV32State{PC: h.entry, MStatus: MStatusMPP}
	h.state.X[RV32RegSP] = h.stackTop
	h.sleeping = false
	h.trapLines = h.trapLines[:0]
	h.lsu.ClearExclusive()
	h.syncMask()
	for _, id := range []int{intc.MachineSoftware, intc.MachineTimer, intc.MachineExternal} {
		h.ctrl.Disable(id)
	}

	glog.V(1).Infof("rv32 reset: pc=0x%08x sp=0x%08x", h.entry, h.stackTop)
	return nil
}

// PC returns the address of the next instruction.
func (h *RV32) PC() uint32 {
	return h.state.PC
}

// SetPC moves execution to pc.
func (h *RV32) SetPC(pc uint32) {
	h.state.PC = pc
}

// Register reads x0-x31 or pc (32).
func (h *RV32) Register(n int) uint32 {
	switch {
	case n >= 0 && n < 32:
		return h.state.X[n]
	case n == RV32RegPC:
		return h.state.PC
	}
	return 0
}

// SetRegister writes x1-x31 or pc (32). Writes to x0 are ignored.
func (h *RV32) SetRegister(n int, v uint32) {
	switch {
	case n > 0 && n < 32:
		h.state.X[n] = v
	case n == RV32RegPC:
		h.state.PC = v
	}
}

// NumRegisters returns 33: x0-x31 and pc.
func (h *RV32) NumRegisters() int {
	return 33
}

var rv32RegisterNames = []string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6", "pc",
}

// RegisterNames returns the ABI register names.
func (h *RV32) RegisterNames() []string {
	return rv32RegisterNames
}

// Snapshot captures the architectural state.
func (h *RV32) Snapshot() CPUSnapshot {
	regs := make(map[string]uint32, len(rv32RegisterNames)+6)
	for i, name := range rv32RegisterNames {
		regs[name] = h.Register(i)
	}
	regs["mstatus"] = h.state.MStatus
	regs["mtvec"] = h.state.MTVec
	regs["mepc"] = h.state.MEPC
	regs["mcause"] = h.state.MCause
	regs["mtval"] = h.state.MTVal
	regs["mie"] = h.mie()

	mode := "machine"
	if len(h.trapLines) > 0 {
		mode = "trap"
	}

	return CPUSnapshot{
		ISA:       ISARV32,
		PC:        h.state.PC,
		Registers: regs,
		Mode:      mode,
	}
}

// syncMask mirrors mstatus.MIE into the controller's global mask.
func (h *RV32) syncMask() {
	h.ctrl.SetPRIMASK(h.state.MStatus&MStatusMIE == 0)
}

// Step takes a pending interrupt or executes one instruction.
func (h *RV32) Step() StepResult {
	if id, ok := h.ctrl.Preempting(); ok {
		h.sleeping = false
		return h.takeInterrupt(id)
	}

	if h.sleeping {
		if _, pending := h.ctrl.HighestPending(); !pending {
			return h.account(StepResult{PC: h.state.PC, Cycles: 1})
		}
		h.sleeping = false
	}

	return h.account(h.execute())
}

// account updates the cycle and retired-instruction counters.
func (h *RV32) account(res StepResult) StepResult {
	h.state.Cycle += res.Cycles
	if res.Executed {
		h.state.Instret++
	}
	return res
}

// takeInterrupt enters the trap handler for interrupt line id.
func (h *RV32) takeInterrupt(id int) StepResult {
	pc := h.state.PC
	h.trap(uint32(id), true, 0, pc)
	h.ctrl.Enter(id)
	h.trapLines[len(h.trapLines)-1] = id
	res := StepResult{PC: pc, Exception: id, Cycles: h.timing.ExceptionEntry()}
	return h.account(res)
}

// trap performs machine-mode trap entry.
func (h *RV32) trap(cause uint32, interrupt bool, tval, epc uint32) {
	s := &h.state
	s.MEPC = epc
	s.MCause = cause
	if interrupt {
		s.MCause |= 1 << 31
	}
	s.MTVal = tval

	mie := s.MStatus & MStatusMIE
	s.MStatus = s.MStatus&^(MStatusMIE|MStatusMPIE) | mie<<4 | MStatusMPP
	h.syncMask()

	base := s.MTVec &^ 3
	if interrupt && s.MTVec&3 == 1 {
		s.PC = base + 4*cause
	} else {
		s.PC = base
	}
	h.trapLines = append(h.trapLines, 0)

	glog.V(2).Infof("trap cause=0x%08x epc=0x%08x -> 0x%08x", s.MCause, epc, s.PC)
}

// mret returns from the innermost trap.
func (h *RV32) mret() error {
	s := &h.state
	if n := len(h.trapLines); n > 0 {
		id := h.trapLines[n-1]
		h.trapLines = h.trapLines[:n-1]
		if id != 0 {
			if err := h.ctrl.Exit(id); err != nil {
				return errors.Trace(err)
			}
		}
	}

	mpie := s.MStatus & MStatusMPIE
	s.MStatus = s.MStatus&^MStatusMIE | mpie>>4 | MStatusMPIE
	h.syncMask()
	h.nextPC = s.MEPC
	h.branched = true
	return nil
}

func (h *RV32) execute() StepResult {
	pc := h.state.PC
	res := StepResult{PC: pc}

	word, err := h.lsu.Load32(pc)
	if err != nil {
		return h.fault(res, nil, err)
	}
	inst := h.decoder.Decode(word)
	res.Inst = inst

	h.curPC = pc
	h.nextPC = pc + 4
	h.branched = false
	h.halted = false

	if inst.Op == insts.OpUnknown {
		return h.illegal(res, inst)
	}

	if err := h.dispatch(inst); err != nil {
		if _, ok := bus.IsFault(err); ok {
			return h.fault(res, inst, err)
		}
		if _, ok := errors.Cause(err).(*illegalCSR); ok {
			return h.illegal(res, inst)
		}
		res.Err = err
		return res
	}

	res.Executed = true
	res.Cycles = h.timing.Cycles(inst, true, h.branched)
	if h.halted {
		res.Halted = true
		return res
	}

	h.state.PC = h.nextPC
	return res
}

// illegal applies the trap policy to an illegal instruction.
func (h *RV32) illegal(res StepResult, inst *insts.Instruction) StepResult {
	fault := &DecodeFault{PC: res.PC, Raw: inst.Raw, Size: 4}
	if h.policy == TrapStrict {
		res.Err = fault
		return res
	}
	glog.Warningf("%v, skipped", fault)
	h.state.PC = res.PC + 4
	res.Cycles = h.timing.Cycles(inst, false, false)
	return res
}

// fault turns a bus fault into an access-fault trap when mtvec is set.
// inst is nil for instruction fetch faults.
func (h *RV32) fault(res StepResult, inst *insts.Instruction, err error) StepResult {
	f, ok := bus.IsFault(err)
	if !ok || h.state.MTVec == 0 {
		res.Err = err
		return res
	}

	misaligned := f.Kind == bus.FaultMisaligned
	var cause uint32
	switch {
	case inst == nil && misaligned:
		cause = CauseFetchMisaligned
	case inst == nil:
		cause = CauseFetchFault
	case inst.IsLoad() && misaligned:
		cause = CauseLoadMisaligned
	case inst.IsLoad():
		cause = CauseLoadFault
	case misaligned:
		cause = CauseStoreMisaligned
	default:
		cause = CauseStoreFault
	}

	h.trap(cause, false, f.Addr, res.PC)
	res.Inst = nil
	res.Cycles = h.timing.ExceptionEntry()
	return res
}

func (h *RV32) reg(n uint8) uint32 {
	return h.state.X[n]
}

func (h *RV32) setReg(n uint8, v uint32) {
	if n != 0 {
		h.state.X[n] = v
	}
}

func (h *RV32) jump(target uint32) {
	h.nextPC = target
	h.branched = true
}

// dispatch executes one decoded instruction.
func (h *RV32) dispatch(inst *insts.Instruction) error {
	switch inst.Format {
	case insts.FormatRVU:
		if inst.Op == insts.OpLUI {
			h.setReg(inst.Rd, inst.Imm)
		} else {
			h.setReg(inst.Rd, h.curPC+inst.Imm)
		}
	case insts.FormatRVJ:
		h.setReg(inst.Rd, h.curPC+4)
		h.jump(h.curPC + uint32(inst.BranchOffset))
	case insts.FormatRVB:
		if h.branchTaken(inst) {
			h.jump(h.curPC + uint32(inst.BranchOffset))
		}
	case insts.FormatRVS:
		return h.store(inst)
	case insts.FormatRVI:
		switch inst.Op {
		case insts.OpJALR:
			target := (h.reg(inst.Rs1) + inst.Imm) &^ 1
			h.setReg(inst.Rd, h.curPC+4)
			h.jump(target)
		case insts.OpLB, insts.OpLH, insts.OpLW, insts.OpLBU, insts.OpLHU:
			return h.load(inst)
		default:
			h.setReg(inst.Rd, h.opImm(inst.Op, h.reg(inst.Rs1), inst.Imm))
		}
	case insts.FormatRVR:
		h.setReg(inst.Rd, h.opReg(inst.Op, h.reg(inst.Rs1), h.reg(inst.Rs2)))
	case insts.FormatRVSystem:
		return h.system(inst)
	default:
		return errors.Errorf("unhandled format for %s at 0x%08x", inst.Op, h.curPC)
	}
	return nil
}

func (h *RV32) branchTaken(inst *insts.Instruction) bool {
	a, b := h.reg(inst.Rs1), h.reg(inst.Rs2)
	switch inst.Op {
	case insts.OpBEQ:
		return a == b
	case insts.OpBNE:
		return a != b
	case insts.OpBLT:
		return int32(a) < int32(b)
	case insts.OpBGE:
		return int32(a) >= int32(b)
	case insts.OpBLTU:
		return a < b
	case insts.OpBGEU:
		return a >= b
	}
	return false
}

func (h *RV32) load(inst *insts.Instruction) error {
	addr := h.reg(inst.Rs1) + inst.Imm
	var (
		width  int
		signed bool
	)
	switch inst.Op {
	case insts.OpLB:
		width, signed = 1, true
	case insts.OpLH:
		width, signed = 2, true
	case insts.OpLBU:
		width = 1
	case insts.OpLHU:
		width = 2
	default:
		width = 4
	}

	v, err := h.lsu.Load(addr, width, signed)
	if err != nil {
		return err
	}
	h.setReg(inst.Rd, v)
	return nil
}

func (h *RV32) store(inst *insts.Instruction) error {
	addr := h.reg(inst.Rs1) + inst.Imm
	width := 4
	switch inst.Op {
	case insts.OpSB:
		width = 1
	case insts.OpSH:
		width = 2
	}
	return h.lsu.Store(addr, width, h.reg(inst.Rs2))
}

func (h *RV32) opImm(op insts.Op, a, imm uint32) uint32 {
	switch op {
	case insts.OpADDI:
		return a + imm
	case insts.OpSLTI:
		return boolToUint32(int32(a) < int32(imm))
	case insts.OpSLTIU:
		return boolToUint32(a < imm)
	case insts.OpXORI:
		return a ^ imm
	case insts.OpORI:
		return a | imm
	case insts.OpANDI:
		return a & imm
	case insts.OpSLLI:
		return a << (imm & 31)
	case insts.OpSRLI:
		return a >> (imm & 31)
	case insts.OpSRAI:
		return uint32(int32(a) >> (imm & 31))
	}
	return 0
}

func (h *RV32) opReg(op insts.Op, a, b uint32) uint32 {
	switch op {
	case insts.OpADD:
		return a + b
	case insts.OpSUB:
		return a - b
	case insts.OpSLL:
		return a << (b & 31)
	case insts.OpSLT:
		return boolToUint32(int32(a) < int32(b))
	case insts.OpSLTU:
		return boolToUint32(a < b)
	case insts.OpXOR:
		return a ^ b
	case insts.OpSRL:
		return a >> (b & 31)
	case insts.OpSRA:
		return uint32(int32(a) >> (b & 31))
	case insts.OpOR:
		return a | b
	case insts.OpAND:
		return a & b
	case insts.OpMUL:
		return a * b
	case insts.OpMULH:
		return uint32(uint64(int64(int32(a))*int64(int32(b))) >> 32)
	case insts.OpMULHSU:
		return uint32(uint64(int64(int32(a))*int64(b)) >> 32)
	case insts.OpMULHU:
		return uint32(uint64(a) * uint64(b) >> 32)
	case insts.OpDIV:
		switch {
		case b == 0:
			return 0xFFFFFFFF
		case a == 0x80000000 && b == 0xFFFFFFFF:
			return a
		}
		return uint32(int32(a) / int32(b))
	case insts.OpDIVU:
		if b == 0 {
			return 0xFFFFFFFF
		}
		return a / b
	case insts.OpREM:
		switch {
		case b == 0:
			return a
		case a == 0x80000000 && b == 0xFFFFFFFF:
			return 0
		}
		return uint32(int32(a) % int32(b))
	case insts.OpREMU:
		if b == 0 {
			return a
		}
		return a % b
	}
	return 0
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (h *RV32) system(inst *insts.Instruction) error {
	switch inst.Op {
	case insts.OpFENCE:
	case insts.OpECALL:
		if h.state.MTVec == 0 {
			return errors.Errorf("ecall at 0x%08x with no trap vector", h.curPC)
		}
		h.trap(CauseECallM, false, 0, h.curPC)
		h.nextPC = h.state.PC
		h.branched = true
	case insts.OpEBREAK:
		h.halted = true
	case insts.OpMRET:
		return h.mret()
	case insts.OpWFI:
		h.sleeping = true
	default:
		return h.csrOp(inst)
	}
	return nil
}

// illegalCSR reports an access to an unimplemented or read-only CSR.
type illegalCSR struct {
	csr uint16
}

func (e *illegalCSR) Error() string {
	return fmt.Sprintf("illegal access to csr 0x%03x", e.csr)
}

// csrOp executes the Zicsr read-modify-write instructions.
func (h *RV32) csrOp(inst *insts.Instruction) error {
	src := inst.Imm
	switch inst.Op {
	case insts.OpCSRRW, insts.OpCSRRS, insts.OpCSRRC:
		src = h.reg(inst.Rs1)
	}

	write := true
	switch inst.Op {
	case insts.OpCSRRS, insts.OpCSRRC, insts.OpCSRRSI, insts.OpCSRRCI:
		write = inst.Rs1 != 0
	}

	old, ok := h.readCSR(inst.CSR)
	if !ok {
		return &illegalCSR{csr: inst.CSR}
	}

	if write {
		v := src
		switch inst.Op {
		case insts.OpCSRRS, insts.OpCSRRSI:
			v = old | src
		case insts.OpCSRRC, insts.OpCSRRCI:
			v = old &^ src
		}
		if !h.writeCSR(inst.CSR, v) {
			return &illegalCSR{csr: inst.CSR}
		}
	}

	h.setReg(inst.Rd, old)
	return nil
}

var rv32InterruptLines = [...]int{intc.MachineSoftware, intc.MachineTimer, intc.MachineExternal}

// mie composes the mie CSR from the controller's enable bits.
func (h *RV32) mie() uint32 {
	var v uint32
	for _, id := range rv32InterruptLines {
		if h.ctrl.IsEnabled(id) {
			v |= 1 << uint(id)
		}
	}
	return v
}

// mip composes the mip CSR from the controller's pending bits.
func (h *RV32) mip() uint32 {
	var v uint32
	for _, id := range rv32InterruptLines {
		if h.ctrl.IsPending(id) {
			v |= 1 << uint(id)
		}
	}
	return v
}

func (h *RV32) time() uint64 {
	if h.timeSource == nil {
		return h.state.Cycle
	}
	return h.timeSource()
}

// readCSR returns a CSR value; ok is false for unimplemented CSRs.
func (h *RV32) readCSR(n uint16) (uint32, bool) {
	s := &h.state
	switch n {
	case CSRMStatus:
		return s.MStatus, true
	case CSRMISA:
		return misaRV32IM, true
	case CSRMIE:
		return h.mie(), true
	case CSRMTVec:
		return s.MTVec, true
	case CSRMScratch:
		return s.MScratch, true
	case CSRMEPC:
		return s.MEPC, true
	case CSRMCause:
		return s.MCause, true
	case CSRMTVal:
		return s.MTVal, true
	case CSRMIP:
		return h.mip(), true
	case CSRMCycle, CSRCycle:
		return uint32(s.Cycle), true
	case CSRMCycleH, CSRCycleH:
		return uint32(s.Cycle >> 32), true
	case CSRMInstret, CSRInstret:
		return uint32(s.Instret), true
	case CSRMInstretH, CSRInstretH:
		return uint32(s.Instret >> 32), true
	case CSRTime:
		return uint32(h.time()), true
	case CSRTimeH:
		return uint32(h.time() >> 32), true
	case CSRMVendorID, CSRMArchID, CSRMImpID, CSRMHartID:
		return 0, true
	}
	return 0, false
}

// writeCSR updates a writable CSR; it returns false for read-only or
// unimplemented CSRs.
func (h *RV32) writeCSR(n uint16, v uint32) bool {
	s := &h.state
	switch n {
	case CSRMStatus:
		s.MStatus = v&(MStatusMIE|MStatusMPIE) | MStatusMPP
		h.syncMask()
	case CSRMISA:
	case CSRMIE:
		for _, id := range rv32InterruptLines {
			if v&(1<<uint(id)) != 0 {
				h.ctrl.Enable(id)
			} else {
				h.ctrl.Disable(id)
			}
		}
	case CSRMTVec:
		s.MTVec = v &^ 2
	case CSRMScratch:
		s.MScratch = v
	case CSRMEPC:
		s.MEPC = v &^ 3
	case CSRMCause:
		s.MCause = v
	case CSRMTVal:
		s.MTVal = v
	case CSRMIP:
		if v&(1<<intc.MachineSoftware) == 0 {
			h.ctrl.ClearPending(intc.MachineSoftware)
		}
	case CSRMCycle:
		s.Cycle = s.Cycle&^0xFFFFFFFF | uint64(v)
	case CSRMCycleH:
		s.Cycle = s.Cycle&0xFFFFFFFF | uint64(v)<<32
	case CSRMInstret:
		s.Instret = s.Instret&^0xFFFFFFFF | uint64(v)
	case CSRMInstretH:
		s.Instret = s.Instret&0xFFFFFFFF | uint64(v)<<32
	default:
		return false
	}
	return true
}
