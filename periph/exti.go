package periph

import (
	"github.com/golang/glog"

	"github.com/sarchlab/mcusim/bus"
)

// AFIO register offsets (STM32F1 layout).
const (
	AFIOEVCR    = 0x00
	AFIOMAPR    = 0x04
	AFIOEXTICR1 = 0x08
	AFIOMAPR2   = 0x1C
)

// AFIO holds the alternate function remaps and the EXTICR registers that
// select which GPIO port drives each of EXTI lines 0-15.
type AFIO struct {
	*RegisterFile

	exticr [4]*Register
}

// NewAFIO creates an AFIO with every EXTI line routed to port A.
func NewAFIO(name string) *AFIO {
	a := &AFIO{RegisterFile: NewRegisterFile(name)}
	a.Add(&Register{Name: "EVCR", Offset: AFIOEVCR, Writable: 0xFF})
	a.Add(&Register{Name: "MAPR", Offset: AFIOMAPR, Writable: 0x0F1FFFFF})
	for i := range a.exticr {
		a.exticr[i] = a.Add(&Register{
			Name:     "EXTICR" + string(rune('1'+i)),
			Offset:   AFIOEXTICR1 + 4*uint32(i),
			Writable: 0xFFFF,
		})
	}
	a.Add(&Register{Name: "MAPR2", Offset: AFIOMAPR2, Writable: 0x7E0})
	return a
}

// Port returns the port index (0 for A) selected for EXTI line 0-15.
func (a *AFIO) Port(line int) int {
	if line < 0 || line >= 16 {
		return 0
	}
	return int(a.exticr[line/4].Value >> (uint(line%4) * 4) & 0xF)
}

// Tick does nothing.
func (a *AFIO) Tick(uint64) bus.TickResult {
	return bus.TickResult{}
}

// EXTI register offsets (STM32F1 layout).
const (
	EXTIIMR   = 0x00
	EXTIEMR   = 0x04
	EXTIRTSR  = 0x08
	EXTIFTSR  = 0x0C
	EXTISWIER = 0x10
	EXTIPR    = 0x14
)

const extiLines = 0x7FFFF

// extiGroups maps the EXTI0-4, EXTI9_5 and EXTI15_10 vectors to their
// offset from EXTI0's line in the STM32F1 vector table.
var extiGroups = []struct {
	mask   uint32
	offset int
}{
	{1 << 0, 0},
	{1 << 1, 1},
	{1 << 2, 2},
	{1 << 3, 3},
	{1 << 4, 4},
	{0x03E0, 17},
	{0xFC00, 34},
}

// EXTI is the external interrupt controller. Edges on GPIO pins, chosen
// per line by AFIO, set pending bits when the matching trigger is
// enabled; a pending unmasked line raises its group's interrupt until
// software clears PR.
type EXTI struct {
	*RegisterFile

	irq    int
	shared bool
	afio   *AFIO

	imr, rtsr, ftsr, swier, pr *Register
}

// NewEXTI creates an EXTI whose EXTI0 interrupt is line irq (negative for
// none). The other groups follow the STM32F1 vector layout, or all raise
// irq when shared is set.
func NewEXTI(name string, irq int, shared bool) *EXTI {
	e := &EXTI{RegisterFile: NewRegisterFile(name), irq: irq, shared: shared}

	e.imr = e.Add(&Register{Name: "IMR", Offset: EXTIIMR, Writable: extiLines})
	e.Add(&Register{Name: "EMR", Offset: EXTIEMR, Writable: extiLines})
	e.rtsr = e.Add(&Register{Name: "RTSR", Offset: EXTIRTSR, Writable: extiLines})
	e.ftsr = e.Add(&Register{Name: "FTSR", Offset: EXTIFTSR, Writable: extiLines})
	e.swier = e.Add(&Register{
		Name: "SWIER", Offset: EXTISWIER, Writable: extiLines,
		OnWrite: func(old, _ uint32) {
			e.pr.Value |= e.swier.Value &^ old
		},
	})
	e.pr = e.Add(&Register{
		Name: "PR", Offset: EXTIPR, Writable: extiLines, Policy: WriteOneToClear,
		OnWrite: func(_, _ uint32) {
			e.swier.Value &= e.pr.Value
		},
	})
	return e
}

// SetAFIO selects the port routing for lines 0-15. Without it every line
// follows port A.
func (e *EXTI) SetAFIO(a *AFIO) {
	e.afio = a
}

// Attach feeds the pins of the GPIO port with index port (0 for A) into
// the controller.
func (e *EXTI) Attach(port int, g *GPIO) {
	l := func(_ string, pin int, high bool) {
		if e.route(pin) == port {
			e.Trigger(pin, high)
		}
	}
	g.Watch(l)
	g.WatchInputs(l)
}

func (e *EXTI) route(line int) int {
	if e.afio == nil {
		return 0
	}
	return e.afio.Port(line)
}

// Trigger reports an edge on line. The line becomes pending when the
// trigger for that edge direction is enabled.
func (e *EXTI) Trigger(line int, rising bool) {
	bit := uint32(1) << uint(line)
	if bit&extiLines == 0 {
		return
	}
	sel := e.ftsr.Value
	if rising {
		sel = e.rtsr.Value
	}
	if sel&bit == 0 {
		return
	}
	e.pr.Value |= bit
	if glog.V(2) {
		glog.Infof("%s: line %d pending", e.Name(), line)
	}
}

// Pending returns PR.
func (e *EXTI) Pending() uint32 {
	return e.pr.Value
}

// Tick raises the interrupt of every group with a pending unmasked line.
func (e *EXTI) Tick(uint64) bus.TickResult {
	active := e.pr.Value & e.imr.Value
	if active == 0 || e.irq < 0 {
		return bus.TickResult{}
	}
	if e.shared {
		return bus.TickResult{IRQs: []int{e.irq}}
	}

	var irqs []int
	for _, g := range extiGroups {
		if active&g.mask != 0 {
			irqs = append(irqs, e.irq+g.offset)
		}
	}
	return bus.TickResult{IRQs: irqs}
}
