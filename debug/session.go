// Package debug exposes a board to interactive debuggers: a Session that
// steps and inspects the machine, a GDB Remote Serial Protocol stub on top
// of it, and a TCP server for the stub.
package debug

import (
	"context"
	"sort"
	"sync"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/bus"
	"github.com/sarchlab/mcusim/emu"
	"github.com/sarchlab/mcusim/system"
)

// StopKind says why a Step or Continue returned.
type StopKind uint8

// Stop kinds.
const (
	// StopStep is a completed single step.
	StopStep StopKind = iota
	// StopBreakpoint is a PC that reached a breakpoint address.
	StopBreakpoint
	// StopHalt is a breakpoint instruction in the firmware.
	StopHalt
	// StopFault is a fatal step error.
	StopFault
	// StopInterrupt is a cancelled Continue.
	StopInterrupt
)

func (k StopKind) String() string {
	switch k {
	case StopStep:
		return "step"
	case StopBreakpoint:
		return "breakpoint"
	case StopHalt:
		return "halt"
	case StopFault:
		return "fault"
	case StopInterrupt:
		return "interrupt"
	}
	return "unknown"
}

// POSIX signal numbers reported to GDB.
const (
	SigInt  = 2
	SigIll  = 4
	SigTrap = 5
	SigSegv = 11
)

// StopEvent describes where execution stopped.
type StopEvent struct {
	Kind StopKind
	PC   uint32
	// Steps is the number of steps the call executed.
	Steps uint64
	// Err is the step error for StopFault.
	Err error
}

// Signal maps the stop to the signal GDB expects.
func (e StopEvent) Signal() int {
	switch e.Kind {
	case StopInterrupt:
		return SigInt
	case StopFault:
		if _, ok := errors.Cause(e.Err).(*emu.DecodeFault); ok {
			return SigIll
		}
		return SigSegv
	}
	return SigTrap
}

// Session serializes debugger access to a board. All methods are safe
// for concurrent use; a running Continue holds the session until it
// stops.
type Session struct {
	mu          sync.Mutex
	brd         *system.Board
	breakpoints map[uint32]bool
}

// NewSession creates a Session for brd.
func NewSession(brd *system.Board) *Session {
	return &Session{brd: brd, breakpoints: map[uint32]bool{}}
}

// Board returns the board being debugged.
func (s *Session) Board() *system.Board {
	return s.brd
}

// ISA returns the core's instruction set.
func (s *Session) ISA() emu.ISA {
	return s.brd.Core().ISA()
}

// NumRegisters returns the number of registers in debugger numbering.
func (s *Session) NumRegisters() int {
	return s.brd.Core().NumRegisters()
}

// RegisterNames returns the register names in debugger numbering.
func (s *Session) RegisterNames() []string {
	return s.brd.Core().RegisterNames()
}

// PC returns the address of the next instruction.
func (s *Session) PC() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.brd.Core().PC()
}

// ReadRegister reads register n.
func (s *Session) ReadRegister(n int) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	core := s.brd.Core()
	if n < 0 || n >= core.NumRegisters() {
		return 0, errors.NotFoundf("register %d", n)
	}
	return core.Register(n), nil
}

// WriteRegister sets register n.
func (s *Session) WriteRegister(n int, v uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	core := s.brd.Core()
	if n < 0 || n >= core.NumRegisters() {
		return errors.NotFoundf("register %d", n)
	}
	core.SetRegister(n, v)
	return nil
}

// ReadRegisters reads every register in debugger order.
func (s *Session) ReadRegisters() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	core := s.brd.Core()
	regs := make([]uint32, core.NumRegisters())
	for i := range regs {
		regs[i] = core.Register(i)
	}
	return regs
}

// WriteRegisters sets every register in debugger order.
func (s *Session) WriteRegisters(regs []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	core := s.brd.Core()
	if len(regs) != core.NumRegisters() {
		return errors.NotValidf("%d register values for %d registers", len(regs), core.NumRegisters())
	}
	for i, v := range regs {
		core.SetRegister(i, v)
	}
	return nil
}

// ReadMemory reads up to n bytes at addr without peripheral side effects.
// It returns the bytes read before the first unmapped address, with an
// error if there were none.
func (s *Session) ReadMemory(addr uint32, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.brd.Bus()
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		v, err := b.Peek(addr+uint32(i), 1)
		if err != nil {
			if i == 0 {
				return nil, errors.Trace(err)
			}
			break
		}
		out = append(out, byte(v))
	}
	return out, nil
}

// WriteMemory writes data at addr. Memory regions, flash included, are
// written directly; peripheral registers see byte writes.
func (s *Session) WriteMemory(addr uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.brd.Bus()
	for i, v := range data {
		a := addr + uint32(i)
		r, ok := b.Lookup(a)
		if !ok {
			return &bus.Fault{Addr: a, Width: 1, Write: true, Kind: bus.FaultUnmapped}
		}
		if r.Kind == bus.KindPeripheral {
			if err := b.Write(a, 1, uint32(v)); err != nil {
				return errors.Trace(err)
			}
			continue
		}
		if err := b.Load(a, []byte{v}); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// AddBreakpoint stops Continue when the PC reaches addr.
func (s *Session) AddBreakpoint(addr uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakpoints[addr] = true
	glog.V(1).Infof("breakpoint set at 0x%08x", addr)
}

// RemoveBreakpoint removes a breakpoint. Removing a missing one is a
// no-op.
func (s *Session) RemoveBreakpoint(addr uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakpoints, addr)
}

// Breakpoints lists the breakpoint addresses in ascending order.
func (s *Session) Breakpoints() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]uint32, 0, len(s.breakpoints))
	for a := range s.breakpoints {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Step executes one step.
func (s *Session) Step() StopEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := s.step()
	if ev.Kind == StopStep && s.breakpoints[ev.PC] {
		ev.Kind = StopBreakpoint
	}
	return ev
}

func (s *Session) step() StopEvent {
	res := s.brd.Step()
	ev := StopEvent{Kind: StopStep, Steps: 1}
	switch {
	case res.Err != nil:
		ev.Kind = StopFault
		ev.Err = res.Err
	case res.Halted:
		ev.Kind = StopHalt
	}
	ev.PC = s.brd.Core().PC()
	return ev
}

// Continue runs until a breakpoint, a breakpoint instruction, a fault or
// the cancellation of ctx. A breakpoint at the starting PC does not stop
// the first step.
func (s *Session) Continue(ctx context.Context) StopEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var steps uint64
	for {
		select {
		case <-ctx.Done():
			return StopEvent{Kind: StopInterrupt, PC: s.brd.Core().PC(), Steps: steps}
		default:
		}

		ev := s.step()
		steps++
		ev.Steps = steps
		if ev.Kind != StopStep {
			glog.V(1).Infof("continue stopped by %s at 0x%08x after %d steps", ev.Kind, ev.PC, steps)
			return ev
		}
		if s.breakpoints[ev.PC] {
			ev.Kind = StopBreakpoint
			glog.V(1).Infof("breakpoint hit at 0x%08x after %d steps", ev.PC, steps)
			return ev
		}
	}
}

// Reset resets the machine. Breakpoints are kept.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Trace(s.brd.Reset())
}
