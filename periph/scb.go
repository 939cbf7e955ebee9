package periph

import (
	"github.com/sarchlab/mcusim/bus"
	"github.com/sarchlab/mcusim/intc"
)

// SCB register offsets, relative to 0xE000ED00.
const (
	SCBCPUID = 0x00
	SCBICSR  = 0x04
	SCBVTOR  = 0x08
	SCBAIRCR = 0x0C
	SCBSCR   = 0x10
	SCBCCR   = 0x14
	SCBSHPR1 = 0x18
	SCBSHPR2 = 0x1C
	SCBSHPR3 = 0x20
	SCBSHCSR = 0x24

	// SCBSize is the extent of the SCB register window.
	SCBSize = 0x40
)

// ICSR bits.
const (
	ICSRPendSTClr  = 1 << 25
	ICSRPendSTSet  = 1 << 26
	ICSRPendSVClr  = 1 << 27
	ICSRPendSVSet  = 1 << 28
	ICSRNMIPendSet = 1 << 31
)

const (
	aircrVectKey     = 0x05FA
	aircrSysResetReq = 1 << 2
)

// SCB is the system control block: CPU identification, system exception
// pending bits, vector table relocation, reset requests and system
// exception priorities.
type SCB struct {
	*RegisterFile

	ctrl *intc.Controller
}

// NewSCB creates the SCB view of ctrl.
func NewSCB(name string, ctrl *intc.Controller) *SCB {
	s := &SCB{RegisterFile: NewRegisterFile(name), ctrl: ctrl}

	s.Add(&Register{Name: "CPUID", Offset: SCBCPUID, Reset: 0x410FC241, Policy: ReadOnly})
	s.Add(&Register{
		Name: "ICSR", Offset: SCBICSR, Writable: 0xFFFFFFFF,
		Get: s.icsr, OnWrite: s.writeICSR,
	})
	vtor := s.Add(&Register{Name: "VTOR", Offset: SCBVTOR, Writable: 0xFFFFFF80, Get: ctrl.VectorBase})
	vtor.OnWrite = func(uint32, uint32) { ctrl.SetVectorBase(vtor.Value) }
	s.Add(&Register{
		Name: "AIRCR", Offset: SCBAIRCR, Writable: 0x700,
		Get: s.aircr, OnWrite: s.writeAIRCR,
	})
	s.Add(&Register{Name: "SCR", Offset: SCBSCR, Writable: 0x16})
	s.Add(&Register{Name: "CCR", Offset: SCBCCR, Reset: 0x200, Writable: 0x31B})
	s.shpr(SCBSHPR1, intc.MemManage, intc.BusFault, intc.UsageFault, 0)
	s.shpr(SCBSHPR2, 0, 0, 0, intc.SVCall)
	s.shpr(SCBSHPR3, intc.DebugMon, 0, intc.PendSV, intc.SysTick)
	s.Add(&Register{Name: "SHCSR", Offset: SCBSHCSR, Writable: 0x70000})
	return s
}

// shpr adds a system handler priority register whose byte lanes map to the
// given exceptions (0 for a reserved lane).
func (s *SCB) shpr(offset uint32, ids ...int) {
	s.Add(&Register{
		Name: "SHPR", Offset: offset, Writable: 0xFFFFFFFF,
		Get: func() uint32 {
			var v uint32
			for i, id := range ids {
				if id != 0 {
					v |= uint32(s.ctrl.Priority(id)&0xFF) << (8 * uint(i))
				}
			}
			return v
		},
		OnWrite: func(uint32, uint32) {
			r, _ := s.Lookup(offset)
			for i, id := range ids {
				if id != 0 {
					s.ctrl.SetPriority(id, uint8(r.Value>>(8*uint(i)))&priorityMask)
				}
			}
		},
	})
}

func (s *SCB) icsr() uint32 {
	var v uint32
	if s.ctrl.IsPending(intc.PendSV) {
		v |= ICSRPendSVSet
	}
	if s.ctrl.IsPending(intc.SysTick) {
		v |= ICSRPendSTSet
	}
	if s.ctrl.IsPending(intc.NMI) {
		v |= ICSRNMIPendSet
	}
	if id, ok := s.ctrl.Current(); ok {
		v |= uint32(id) & 0x1FF
	}
	if id, ok := s.ctrl.HighestPending(); ok {
		v |= (uint32(id) & 0x1FF) << 12
		v |= 1 << 22
	}
	return v
}

func (s *SCB) writeICSR(_, written uint32) {
	switch {
	case written&ICSRPendSVSet != 0:
		s.ctrl.Raise(intc.PendSV)
	case written&ICSRPendSVClr != 0:
		s.ctrl.ClearPending(intc.PendSV)
	}
	switch {
	case written&ICSRPendSTSet != 0:
		s.ctrl.Raise(intc.SysTick)
	case written&ICSRPendSTClr != 0:
		s.ctrl.ClearPending(intc.SysTick)
	}
	if written&ICSRNMIPendSet != 0 {
		s.ctrl.Raise(intc.NMI)
	}
}

func (s *SCB) aircr() uint32 {
	r, _ := s.Lookup(SCBAIRCR)
	return 0xFA050000 | r.Value&0x700
}

// writeAIRCR accepts writes carrying the VECTKEY only.
func (s *SCB) writeAIRCR(old, written uint32) {
	r, _ := s.Lookup(SCBAIRCR)
	if written>>16 != aircrVectKey {
		r.Value = old
		return
	}
	if written&aircrSysResetReq != 0 {
		s.ctrl.RequestReset()
	}
}

// Tick does nothing.
func (s *SCB) Tick(uint64) bus.TickResult {
	return bus.TickResult{}
}
