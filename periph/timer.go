package periph

import "github.com/sarchlab/mcusim/bus"

// General-purpose timer register offsets (STM32F1 TIM2-5 layout).
const (
	TimerCR1  = 0x00
	TimerCR2  = 0x04
	TimerDIER = 0x0C
	TimerSR   = 0x10
	TimerEGR  = 0x14
	TimerCNT  = 0x24
	TimerPSC  = 0x28
	TimerARR  = 0x2C
)

const (
	timerCEN = 1 << 0
	timerUIE = 1 << 0
	timerUIF = 1 << 0
	timerUG  = 1 << 0
)

// Timer is an up-counting timer clocked by the core clock through a
// prescaler. An overflow past ARR sets UIF and, when UIE is set, raises
// the timer's interrupt line.
type Timer struct {
	*RegisterFile

	irq      int
	prescale uint32

	cr1, dier, sr, cnt, psc, arr *Register
}

// NewTimer creates a timer raising line irq (negative for none).
func NewTimer(name string, irq int) *Timer {
	t := &Timer{RegisterFile: NewRegisterFile(name), irq: irq}

	t.cr1 = t.Add(&Register{Name: "CR1", Offset: TimerCR1, Writable: 0x3FF})
	t.Add(&Register{Name: "CR2", Offset: TimerCR2, Writable: 0xF8})
	t.dier = t.Add(&Register{Name: "DIER", Offset: TimerDIER, Writable: 0x5F5F})
	t.sr = t.Add(&Register{Name: "SR", Offset: TimerSR, Writable: 0x1E5F, Policy: WriteZeroToClear})
	t.Add(&Register{
		Name: "EGR", Offset: TimerEGR, Writable: 0x5F, Get: zero,
		OnWrite: func(_, written uint32) {
			if written&timerUG != 0 {
				t.cnt.Value = 0
				t.prescale = 0
			}
		},
	})
	t.cnt = t.Add(&Register{Name: "CNT", Offset: TimerCNT, Writable: 0xFFFF})
	t.psc = t.Add(&Register{Name: "PSC", Offset: TimerPSC, Writable: 0xFFFF})
	t.arr = t.Add(&Register{Name: "ARR", Offset: TimerARR, Reset: 0xFFFF, Writable: 0xFFFF})
	return t
}

// Tick advances the counter by the elapsed core cycles.
func (t *Timer) Tick(cycles uint64) bus.TickResult {
	if t.cr1.Value&timerCEN == 0 {
		return bus.TickResult{}
	}

	overflow := false
	for ; cycles > 0; cycles-- {
		t.prescale++
		if t.prescale <= t.psc.Value {
			continue
		}
		t.prescale = 0
		t.cnt.Value++
		if t.cnt.Value > t.arr.Value {
			t.cnt.Value = 0
			t.sr.Value |= timerUIF
			overflow = true
		}
	}

	if overflow && t.dier.Value&timerUIE != 0 && t.irq >= 0 {
		return bus.TickResult{IRQs: []int{t.irq}}
	}
	return bus.TickResult{}
}

// Reset stops the timer.
func (t *Timer) Reset() {
	t.RegisterFile.Reset()
	t.prescale = 0
}
