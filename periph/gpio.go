package periph

import (
	"github.com/golang/glog"

	"github.com/sarchlab/mcusim/bus"
)

// GPIO register offsets (STM32F1 layout).
const (
	GPIOCRL  = 0x00
	GPIOCRH  = 0x04
	GPIOIDR  = 0x08
	GPIOODR  = 0x0C
	GPIOBSRR = 0x10
	GPIOBRR  = 0x14
	GPIOLCKR = 0x18
)

// PinListener observes output pin transitions.
type PinListener func(port string, pin int, high bool)

// GPIO is a 16-pin general purpose I/O port.
type GPIO struct {
	*RegisterFile

	crl, crh, odr *Register
	inputs        uint32
	listeners     []PinListener
	inputWatchers []PinListener
}

// NewGPIO creates a GPIO port.
func NewGPIO(name string) *GPIO {
	g := &GPIO{RegisterFile: NewRegisterFile(name)}

	g.crl = g.Add(&Register{Name: "CRL", Offset: GPIOCRL, Reset: 0x44444444, Writable: 0xFFFFFFFF})
	g.crh = g.Add(&Register{Name: "CRH", Offset: GPIOCRH, Reset: 0x44444444, Writable: 0xFFFFFFFF})
	g.Add(&Register{Name: "IDR", Offset: GPIOIDR, Policy: ReadOnly, Get: g.idr})
	g.odr = g.Add(&Register{Name: "ODR", Offset: GPIOODR, Writable: 0xFFFF, OnWrite: g.outputChanged})
	g.Add(&Register{
		Name: "BSRR", Offset: GPIOBSRR, Writable: 0xFFFF, Policy: SetReset,
		Target: g.odr, Get: zero, OnWrite: g.outputChanged,
	})
	g.Add(&Register{
		Name: "BRR", Offset: GPIOBRR, Writable: 0xFFFF, Policy: WriteOneToClear,
		Target: g.odr, Get: zero, OnWrite: g.outputChanged,
	})
	g.Add(&Register{Name: "LCKR", Offset: GPIOLCKR, Writable: 0x1FFFF})

	return g
}

func zero() uint32 { return 0 }

// Watch registers a listener for output pin changes.
func (g *GPIO) Watch(l PinListener) {
	g.listeners = append(g.listeners, l)
}

// Output returns the output data register.
func (g *GPIO) Output() uint32 {
	return g.odr.Value
}

// WatchInputs registers a listener for level changes that SetInput makes
// on pins configured as inputs.
func (g *GPIO) WatchInputs(l PinListener) {
	g.inputWatchers = append(g.inputWatchers, l)
}

// SetInput drives an input pin from outside the chip.
func (g *GPIO) SetInput(pin int, high bool) {
	bit := uint32(1) << uint(pin)
	old := g.inputs
	if high {
		g.inputs |= bit
	} else {
		g.inputs &^= bit
	}
	if old == g.inputs || g.isOutput(pin) {
		return
	}
	for _, l := range g.inputWatchers {
		l(g.Name(), pin, high)
	}
}

// isOutput reports whether the pin's MODE bits select an output.
func (g *GPIO) isOutput(pin int) bool {
	cr := g.crl.Value
	if pin >= 8 {
		cr = g.crh.Value
	}
	return cr>>(uint(pin%8)*4)&0b11 != 0
}

// idr reflects external inputs and, for output pins, the driven level.
func (g *GPIO) idr() uint32 {
	v := g.inputs
	for pin := 0; pin < 16; pin++ {
		if !g.isOutput(pin) {
			continue
		}
		bit := uint32(1) << uint(pin)
		v = v&^bit | g.odr.Value&bit
	}
	return v & 0xFFFF
}

func (g *GPIO) outputChanged(old, _ uint32) {
	changed := old ^ g.odr.Value
	if changed == 0 {
		return
	}
	for pin := 0; pin < 16; pin++ {
		if changed&(1<<uint(pin)) == 0 {
			continue
		}
		high := g.odr.Value&(1<<uint(pin)) != 0
		if glog.V(2) {
			glog.Infof("%s: pin %d -> %t", g.Name(), pin, high)
		}
		for _, l := range g.listeners {
			l(g.Name(), pin, high)
		}
	}
}

// Tick does nothing; GPIO has no time-driven behavior.
func (g *GPIO) Tick(uint64) bus.TickResult {
	return bus.TickResult{}
}

// Reset restores the reset configuration. External inputs are kept.
func (g *GPIO) Reset() {
	g.RegisterFile.Reset()
}
