package periph

import "github.com/sarchlab/mcusim/bus"

// RCC register offsets (STM32F1 layout).
const (
	RCCCR      = 0x00
	RCCCFGR    = 0x04
	RCCCIR     = 0x08
	RCCAHBENR  = 0x14
	RCCAPB2ENR = 0x18
	RCCAPB1ENR = 0x1C
	RCCBDCR    = 0x20
	RCCCSR     = 0x24
)

// CR oscillator bits. Every ready flag sits one bit above its enable.
const (
	rccHSION = 1 << 0
	rccHSEON = 1 << 16
	rccPLLON = 1 << 24
)

// RCC is the reset and clock control block. Oscillators and the PLL lock
// immediately, so ready flags follow their enable bits and the system
// clock switch status follows the requested source.
type RCC struct {
	*RegisterFile

	cr, cfgr *Register
}

// NewRCC creates a clock controller.
func NewRCC(name string) *RCC {
	r := &RCC{RegisterFile: NewRegisterFile(name)}

	r.cr = r.Add(&Register{Name: "CR", Offset: RCCCR, Reset: 0x83, Writable: 0x010D00F9, Get: r.crView})
	r.cfgr = r.Add(&Register{Name: "CFGR", Offset: RCCCFGR, Writable: 0x07FFFFF3, Get: r.cfgrView})
	r.Add(&Register{Name: "CIR", Offset: RCCCIR, Writable: 0x00001F00})
	r.Add(&Register{Name: "AHBENR", Offset: RCCAHBENR, Reset: 0x14, Writable: 0x557})
	r.Add(&Register{Name: "APB2ENR", Offset: RCCAPB2ENR, Writable: 0x0038FFFD})
	r.Add(&Register{Name: "APB1ENR", Offset: RCCAPB1ENR, Writable: 0x3AFEC9FF})
	r.Add(&Register{Name: "BDCR", Offset: RCCBDCR, Writable: 0x00018305})
	r.Add(&Register{Name: "CSR", Offset: RCCCSR, Reset: 0x0C000000, Writable: 0x01000001})
	return r
}

func (r *RCC) crView() uint32 {
	v := r.cr.Value
	for _, on := range []uint32{rccHSION, rccHSEON, rccPLLON} {
		if v&on != 0 {
			v |= on << 1
		}
	}
	return v
}

func (r *RCC) cfgrView() uint32 {
	v := r.cfgr.Value
	return v&^0xC | (v&0x3)<<2
}

// Enabled reports whether a bit in one of the enable registers is set.
func (r *RCC) Enabled(offset uint32, bit uint) bool {
	return r.Peek(offset)&(1<<bit) != 0
}

// Tick does nothing.
func (r *RCC) Tick(uint64) bus.TickResult {
	return bus.TickResult{}
}
