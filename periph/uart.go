package periph

import (
	"bytes"
	"io"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/bus"
)

// UARTLayout selects a register map.
type UARTLayout uint8

// Supported UART register layouts.
const (
	// LayoutF1 is the STM32F1 USART map: SR, DR, BRR, CR1.
	LayoutF1 UARTLayout = iota
	// LayoutV2 is the newer STM32 map with separate ISR/RDR/TDR.
	LayoutV2
)

// ParseUARTLayout parses "stm32f1" or "stm32v2". Empty selects F1.
func ParseUARTLayout(s string) (UARTLayout, error) {
	switch s {
	case "", "stm32f1":
		return LayoutF1, nil
	case "stm32v2":
		return LayoutV2, nil
	}
	return 0, errors.NotValidf("uart register layout %q (supported: stm32f1, stm32v2)", s)
}

// UART status bits shared by both layouts.
const (
	UARTRXNE = 1 << 5
	UARTTC   = 1 << 6
	UARTTXE  = 1 << 7

	uartRXNEIE = 1 << 5
	uartTXEIE  = 1 << 7
	uartUE     = 1 << 13
)

// UART is a transmit/receive serial port. Transmitted bytes are captured
// in memory and copied to an optional host sink.
type UART struct {
	*RegisterFile

	layout UARTLayout
	irq    int
	cr1    *Register

	tx   bytes.Buffer
	rx   []byte
	sink io.Writer
}

// NewUART creates a UART. irq is the controller line for its interrupt, or
// a negative value for none.
func NewUART(name string, layout UARTLayout, irq int) *UART {
	u := &UART{RegisterFile: NewRegisterFile(name), layout: layout, irq: irq}

	switch layout {
	case LayoutV2:
		u.cr1 = u.Add(&Register{Name: "CR1", Offset: 0x00, Writable: 0x1FFFFFFF})
		u.Add(&Register{Name: "BRR", Offset: 0x0C, Writable: 0xFFFF})
		u.Add(&Register{Name: "ISR", Offset: 0x1C, Policy: ReadOnly, Get: u.status})
		u.Add(&Register{Name: "ICR", Offset: 0x20, Writable: 0xFFFFFFFF, Get: zero})
		u.Add(&Register{Name: "RDR", Offset: 0x24, Policy: ReadOnly, Get: u.peekRX, OnRead: u.popRX})
		u.Add(&Register{Name: "TDR", Offset: 0x28, Writable: 0x1FF, OnWrite: u.transmit})
	default:
		u.Add(&Register{Name: "SR", Offset: 0x00, Writable: 0x3FF, Policy: WriteZeroToClear, Get: u.status})
		u.Add(&Register{
			Name: "DR", Offset: 0x04, Writable: 0x1FF,
			Get: u.peekRX, OnRead: u.popRX, OnWrite: u.transmit,
		})
		u.Add(&Register{Name: "BRR", Offset: 0x08, Writable: 0xFFFF})
		u.cr1 = u.Add(&Register{Name: "CR1", Offset: 0x0C, Writable: 0x3FFF})
		u.Add(&Register{Name: "CR2", Offset: 0x10, Writable: 0x7F7F})
		u.Add(&Register{Name: "CR3", Offset: 0x14, Writable: 0x7FF})
	}
	return u
}

// SetSink copies every transmitted byte to w.
func (u *UART) SetSink(w io.Writer) {
	u.sink = w
}

// Output returns everything transmitted so far.
func (u *UART) Output() []byte {
	return u.tx.Bytes()
}

// Inject queues bytes for the firmware to receive.
func (u *UART) Inject(data []byte) {
	u.rx = append(u.rx, data...)
}

func (u *UART) status() uint32 {
	s := uint32(UARTTXE | UARTTC)
	if len(u.rx) > 0 {
		s |= UARTRXNE
	}
	return s
}

func (u *UART) peekRX() uint32 {
	if len(u.rx) == 0 {
		return 0
	}
	return uint32(u.rx[0])
}

func (u *UART) popRX() {
	if len(u.rx) > 0 {
		u.rx = u.rx[1:]
	}
}

func (u *UART) transmit(_, written uint32) {
	b := byte(written)
	u.tx.WriteByte(b)
	if u.sink == nil {
		return
	}
	if _, err := u.sink.Write([]byte{b}); err != nil {
		glog.Warningf("%s: sink write failed: %v", u.Name(), err)
	}
}

// Tick raises the UART interrupt while an enabled condition holds.
func (u *UART) Tick(uint64) bus.TickResult {
	if u.irq < 0 || u.layout == LayoutF1 && u.cr1.Value&uartUE == 0 {
		return bus.TickResult{}
	}
	cr1 := u.cr1.Value
	if cr1&uartTXEIE != 0 || cr1&uartRXNEIE != 0 && len(u.rx) > 0 {
		return bus.TickResult{IRQs: []int{u.irq}}
	}
	return bus.TickResult{}
}

// Reset clears registers and pending input. Captured output is kept so
// that it survives a firmware-requested reset.
func (u *UART) Reset() {
	u.RegisterFile.Reset()
	u.rx = nil
}
