package periph

import "github.com/sarchlab/mcusim/bus"

// SysTick register offsets, relative to 0xE000E010.
const (
	SysTickCSR   = 0x00
	SysTickRVR   = 0x04
	SysTickCVR   = 0x08
	SysTickCALIB = 0x0C
)

// SysTick CSR bits.
const (
	SysTickEnable    = 1 << 0
	SysTickTickInt   = 1 << 1
	SysTickClkSource = 1 << 2
	SysTickCountFlag = 1 << 16
)

// SysTick is the Cortex-M system timer. It counts down from RVR once per
// core cycle and pends exception line irq on every wrap when TICKINT is
// set.
type SysTick struct {
	*RegisterFile

	irq           int
	csr, rvr, cvr *Register
}

// NewSysTick creates a system timer pending line irq.
func NewSysTick(name string, irq int) *SysTick {
	s := &SysTick{RegisterFile: NewRegisterFile(name), irq: irq}

	s.csr = s.Add(&Register{
		Name: "CSR", Offset: SysTickCSR, Reset: SysTickClkSource,
		Writable: 0x7, ClearOnRead: SysTickCountFlag,
	})
	s.rvr = s.Add(&Register{Name: "RVR", Offset: SysTickRVR, Writable: 0x00FFFFFF})
	s.cvr = s.Add(&Register{
		Name: "CVR", Offset: SysTickCVR, Writable: 0x00FFFFFF,
		OnWrite: func(uint32, uint32) {
			s.cvr.Value = 0
			s.csr.Value &^= SysTickCountFlag
		},
	})
	s.Add(&Register{Name: "CALIB", Offset: SysTickCALIB, Reset: 0x40000000, Policy: ReadOnly})
	return s
}

// Tick counts down by the elapsed cycles.
func (s *SysTick) Tick(cycles uint64) bus.TickResult {
	if s.csr.Value&SysTickEnable == 0 {
		return bus.TickResult{}
	}

	wrapped := false
	for ; cycles > 0; cycles-- {
		if s.cvr.Value == 0 {
			s.cvr.Value = s.rvr.Value
			continue
		}
		s.cvr.Value--
		if s.cvr.Value == 0 {
			s.csr.Value |= SysTickCountFlag
			wrapped = true
		}
	}

	if wrapped && s.csr.Value&SysTickTickInt != 0 {
		return bus.TickResult{IRQs: []int{s.irq}}
	}
	return bus.TickResult{}
}
