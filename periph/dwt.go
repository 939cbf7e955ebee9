package periph

import "github.com/sarchlab/mcusim/bus"

// DWT register offsets.
const (
	DWTCTRL   = 0x00
	DWTCYCCNT = 0x04

	DWTSize = 0x100
)

const dwtCycCntEna = 1 << 0

// DWT is the cycle counter part of the data watchpoint and trace unit.
// CYCCNT counts core cycles while CTRL.CYCCNTENA is set and wraps at 32
// bits.
type DWT struct {
	*RegisterFile

	ctrl, cyccnt *Register
}

// NewDWT creates a DWT with the counter stopped.
func NewDWT(name string) *DWT {
	d := &DWT{RegisterFile: NewRegisterFile(name)}
	d.ctrl = d.Add(&Register{Name: "CTRL", Offset: DWTCTRL, Writable: dwtCycCntEna})
	d.cyccnt = d.Add(&Register{Name: "CYCCNT", Offset: DWTCYCCNT, Writable: 0xFFFFFFFF})
	return d
}

// Cycles returns CYCCNT.
func (d *DWT) Cycles() uint32 {
	return d.cyccnt.Value
}

// Tick advances CYCCNT by the elapsed core cycles.
func (d *DWT) Tick(cycles uint64) bus.TickResult {
	if d.ctrl.Value&dwtCycCntEna != 0 {
		d.cyccnt.Value += uint32(cycles)
	}
	return bus.TickResult{}
}
