package periph

import (
	"github.com/golang/glog"

	"github.com/sarchlab/mcusim/bus"
	"github.com/sarchlab/mcusim/intc"
)

// NVIC register banks, relative to 0xE000E100.
const (
	NVICISER = 0x000
	NVICICER = 0x080
	NVICISPR = 0x100
	NVICICPR = 0x180
	NVICIABR = 0x200
	NVICIPR  = 0x300

	nvicBankWords = 8
	nvicIPRBytes  = 240

	// NVICSize is the extent of the NVIC register window.
	NVICSize = 0x400
)

// priorityMask keeps the implemented priority bits (4 bits, STM32).
const priorityMask = 0xF0

// NVIC exposes external interrupt state of the controller. External IRQ n
// is exception 16+n.
type NVIC struct {
	name string
	ctrl *intc.Controller
}

// NewNVIC creates the NVIC view of ctrl.
func NewNVIC(name string, ctrl *intc.Controller) *NVIC {
	return &NVIC{name: name, ctrl: ctrl}
}

// Name returns the device name.
func (n *NVIC) Name() string {
	return n.name
}

func (n *NVIC) bankBits(word uint32, test func(int) bool) uint32 {
	var v uint32
	for bit := 0; bit < 32; bit++ {
		if test(intc.ExternalBase + int(word)*32 + bit) {
			v |= 1 << uint(bit)
		}
	}
	return v
}

func (n *NVIC) applyBits(word, value uint32, apply func(int)) {
	for bit := 0; bit < 32; bit++ {
		if value&(1<<uint(bit)) != 0 {
			apply(intc.ExternalBase + int(word)*32 + bit)
		}
	}
}

func (n *NVIC) priorityByte(offset uint32) uint32 {
	return uint32(n.ctrl.Priority(intc.ExternalBase+int(offset-NVICIPR))) & 0xFF
}

// Peek returns the word at offset.
func (n *NVIC) Peek(offset uint32) uint32 {
	offset &^= 3
	bank, word := offset&^0x7F, offset&0x7F/4
	switch {
	case offset >= NVICIPR && offset < NVICIPR+nvicIPRBytes:
		var v uint32
		for i := uint32(0); i < 4; i++ {
			v |= n.priorityByte(offset+i) << (8 * i)
		}
		return v
	case word >= nvicBankWords:
		return 0
	case bank == NVICISER || bank == NVICICER:
		return n.bankBits(word, n.ctrl.IsEnabled)
	case bank == NVICISPR || bank == NVICICPR:
		return n.bankBits(word, n.ctrl.IsPending)
	case bank == NVICIABR:
		return n.bankBits(word, n.ctrl.IsActive)
	}
	return 0
}

// Read returns width bytes at offset. Reads have no side effects.
func (n *NVIC) Read(offset uint32, width int) uint32 {
	return n.Peek(offset) >> ((offset & 3) * 8) & laneMask(width)
}

// Write updates enable, pending or priority state.
func (n *NVIC) Write(offset uint32, width int, value uint32) {
	if offset >= NVICIPR && offset < NVICIPR+nvicIPRBytes {
		for i := 0; i < width; i++ {
			id := intc.ExternalBase + int(offset-NVICIPR) + i
			n.ctrl.SetPriority(id, uint8(value>>(8*uint(i)))&priorityMask)
		}
		return
	}

	value <<= (offset & 3) * 8
	offset &^= 3
	bank, word := offset&^0x7F, offset&0x7F/4
	if word >= nvicBankWords {
		glog.Warningf("%s: write to unmapped offset 0x%03x ignored", n.name, offset)
		return
	}
	switch bank {
	case NVICISER:
		n.applyBits(word, value, n.ctrl.Enable)
	case NVICICER:
		n.applyBits(word, value, n.ctrl.Disable)
	case NVICISPR:
		n.applyBits(word, value, n.ctrl.Raise)
	case NVICICPR:
		n.applyBits(word, value, n.ctrl.ClearPending)
	case NVICIABR:
		// Active bits are read-only.
	default:
		glog.Warningf("%s: write to unmapped offset 0x%03x ignored", n.name, offset)
	}
}

// Tick does nothing.
func (n *NVIC) Tick(uint64) bus.TickResult {
	return bus.TickResult{}
}

// Reset disables every external interrupt. The controller itself is reset
// by the machine.
func (n *NVIC) Reset() {
	n.ctrl.ResetExternal(intc.ExternalBase)
}
