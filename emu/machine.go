package emu

import (
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/bus"
	"github.com/sarchlab/mcusim/intc"
	"github.com/sarchlab/mcusim/timing/cache"
	"github.com/sarchlab/mcusim/timing/latency"
)

// DefaultClockHz is the core clock used when none is configured.
const DefaultClockHz = 8_000_000

// Machine is a complete simulated system: one core, its bus with memories
// and peripherals, and the interrupt controller. It is driven one step at
// a time by the harness or a debug session and is not safe for concurrent
// use.
type Machine struct {
	core   Core
	bus    *bus.Bus
	ctrl   *intc.Controller
	timing *latency.Table

	flashBase  uint32
	flashSize  uint32
	flashCache *cache.Cache

	clockHz uint64
	steps   uint64
	cycles  uint64
}

// MachineOption is a functional option for configuring the Machine.
type MachineOption func(*Machine)

// WithClock sets the core clock frequency used for simulated time.
func WithClock(hz uint64) MachineOption {
	return func(m *Machine) {
		m.clockHz = hz
	}
}

// WithFlash marks [base, base+size) as flash for fetch wait states.
func WithFlash(base, size uint32) MachineOption {
	return func(m *Machine) {
		m.flashBase = base
		m.flashSize = size
	}
}

// WithFlashCache puts an instruction cache in front of flash fetches.
func WithFlashCache(c *cache.Cache) MachineOption {
	return func(m *Machine) {
		m.flashCache = c
	}
}

// WithTiming sets the cycle model used for fetch penalties.
func WithTiming(t *latency.Table) MachineOption {
	return func(m *Machine) {
		m.timing = t
	}
}

// NewMachine assembles a machine. Call Reset before the first Step.
func NewMachine(core Core, b *bus.Bus, ctrl *intc.Controller, opts ...MachineOption) *Machine {
	m := &Machine{
		core:    core,
		bus:     b,
		ctrl:    ctrl,
		clockHz: DefaultClockHz,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.timing == nil {
		m.timing = latency.NewTable()
	}
	if m.clockHz == 0 {
		m.clockHz = DefaultClockHz
	}

	return m
}

// Core returns the processor core.
func (m *Machine) Core() Core {
	return m.core
}

// Bus returns the system bus.
func (m *Machine) Bus() *bus.Bus {
	return m.bus
}

// Controller returns the interrupt controller.
func (m *Machine) Controller() *intc.Controller {
	return m.ctrl
}

// FlashCache returns the flash accelerator, or nil.
func (m *Machine) FlashCache() *cache.Cache {
	return m.flashCache
}

// Steps returns the number of steps taken since construction.
func (m *Machine) Steps() uint64 {
	return m.steps
}

// Cycles returns the simulated cycle count since construction.
func (m *Machine) Cycles() uint64 {
	return m.cycles
}

// ClockHz returns the core clock frequency.
func (m *Machine) ClockHz() uint64 {
	return m.clockHz
}

// ElapsedTime converts the cycle count to simulated time.
func (m *Machine) ElapsedTime() time.Duration {
	secs := m.cycles / m.clockHz
	rem := m.cycles % m.clockHz
	return time.Duration(secs)*time.Second +
		time.Duration(rem*uint64(time.Second)/m.clockHz)
}

// Reset restores peripherals and controller state and resets the core.
// Memory contents and the step and cycle counters are kept.
func (m *Machine) Reset() error {
	m.bus.Reset()
	m.ctrl.Reset()
	if m.flashCache != nil {
		m.flashCache.Reset()
	}
	return errors.Trace(m.core.Reset())
}

// Step performs a pending system reset if one was requested, then lets the
// core take an exception or execute one instruction, and finally ticks the
// peripherals with the elapsed cycles. Interrupts the peripherals raise
// become pending for the next step.
func (m *Machine) Step() StepResult {
	if m.ctrl.TakeResetRequest() {
		glog.Infof("system reset requested at step %d", m.steps)
		if err := m.Reset(); err != nil {
			return StepResult{PC: m.core.PC(), Err: errors.Annotate(err, "system reset")}
		}
	}

	res := m.core.Step()
	if res.Inst != nil {
		res.Cycles += m.fetchPenalty(res.PC, uint32(res.Inst.Size))
	}

	m.steps++
	if res.Err != nil {
		m.cycles += res.Cycles
		return res
	}

	t := m.bus.Tick(res.Cycles)
	res.Cycles += t.Cycles
	for _, irq := range t.IRQs {
		m.ctrl.Raise(irq)
	}

	m.cycles += res.Cycles
	return res
}

func (m *Machine) inFlash(addr uint32) bool {
	return m.flashSize != 0 && addr >= m.flashBase && addr-m.flashBase < m.flashSize
}

// fetchPenalty returns the wait states spent fetching an instruction.
func (m *Machine) fetchPenalty(pc, size uint32) uint64 {
	if !m.inFlash(pc) {
		return 0
	}
	if m.flashCache == nil {
		return m.timing.FlashWaitStates()
	}

	lat := m.flashCache.Read(uint64(pc), 2).Latency
	if size == 4 {
		line := uint32(m.flashCache.Config().BlockSize)
		if (pc+2)/line != pc/line {
			lat += m.flashCache.Read(uint64(pc+2), 2).Latency
		}
	}
	return lat
}
