package periph

import (
	"github.com/sarchlab/mcusim/bus"
	"github.com/sarchlab/mcusim/intc"
)

// CLINT register offsets (SiFive layout, single hart).
const (
	CLINTMSIP       = 0x0000
	CLINTMTimeCmp   = 0x4000
	CLINTMTimeCmpHi = 0x4004
	CLINTMTime      = 0xBFF8
	CLINTMTimeHi    = 0xBFFC

	// CLINTSize is the extent of the CLINT register window.
	CLINTSize = 0x10000
)

// CLINT is the RISC-V core-local interruptor. mtime counts core cycles.
// The machine timer and software interrupts are level signals: the
// controller line follows mtime >= mtimecmp and msip.
type CLINT struct {
	*RegisterFile

	ctrl  *intc.Controller
	mtime uint64

	msip, cmpLo, cmpHi *Register
}

// NewCLINT creates a CLINT driving ctrl.
func NewCLINT(name string, ctrl *intc.Controller) *CLINT {
	c := &CLINT{RegisterFile: NewRegisterFile(name), ctrl: ctrl}

	c.msip = c.Add(&Register{Name: "MSIP", Offset: CLINTMSIP, Writable: 1})
	c.msip.OnWrite = func(uint32, uint32) { c.update() }
	c.cmpLo = c.Add(&Register{Name: "MTIMECMP", Offset: CLINTMTimeCmp, Reset: 0xFFFFFFFF, Writable: 0xFFFFFFFF})
	c.cmpHi = c.Add(&Register{Name: "MTIMECMPH", Offset: CLINTMTimeCmpHi, Reset: 0xFFFFFFFF, Writable: 0xFFFFFFFF})
	c.cmpLo.OnWrite = func(uint32, uint32) { c.update() }
	c.cmpHi.OnWrite = func(uint32, uint32) { c.update() }

	lo := c.Add(&Register{Name: "MTIME", Offset: CLINTMTime, Writable: 0xFFFFFFFF})
	lo.Get = func() uint32 { return uint32(c.mtime) }
	lo.OnWrite = func(uint32, uint32) { c.mtime = c.mtime&^0xFFFFFFFF | uint64(lo.Value) }
	hi := c.Add(&Register{Name: "MTIMEH", Offset: CLINTMTimeHi, Writable: 0xFFFFFFFF})
	hi.Get = func() uint32 { return uint32(c.mtime >> 32) }
	hi.OnWrite = func(uint32, uint32) { c.mtime = c.mtime&0xFFFFFFFF | uint64(hi.Value)<<32 }
	return c
}

// Time returns mtime. It backs the time/timeh CSRs.
func (c *CLINT) Time() uint64 {
	return c.mtime
}

func (c *CLINT) compare() uint64 {
	return uint64(c.cmpHi.Value)<<32 | uint64(c.cmpLo.Value)
}

func (c *CLINT) update() {
	if c.mtime >= c.compare() {
		c.ctrl.Raise(intc.MachineTimer)
	} else {
		c.ctrl.ClearPending(intc.MachineTimer)
	}
	if c.msip.Value&1 != 0 {
		c.ctrl.Raise(intc.MachineSoftware)
	} else {
		c.ctrl.ClearPending(intc.MachineSoftware)
	}
}

// Tick advances mtime and refreshes the interrupt levels.
func (c *CLINT) Tick(cycles uint64) bus.TickResult {
	c.mtime += cycles
	c.update()
	return bus.TickResult{}
}

// Reset clears mtime.
func (c *CLINT) Reset() {
	c.RegisterFile.Reset()
	c.mtime = 0
}
