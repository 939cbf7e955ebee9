// Package intc models the interrupt/exception controller state shared by the
// cores and the memory-mapped controller views (NVIC, SCB, CLINT).
//
// The controller only keeps bookkeeping: which lines are pending, enabled
// and active, their priorities, and the nesting stack. Taking an exception
// (pushing a frame, loading a vector) is the core's job and happens only at
// instruction boundaries.
package intc

import (
	"fmt"

	"github.com/juju/errors"
)

// ThreadPriority is the execution priority when no exception is active.
const ThreadPriority = 256

// Cortex-M system exception numbers.
const (
	Reset      = 1
	NMI        = 2
	HardFault  = 3
	MemManage  = 4
	BusFault   = 5
	UsageFault = 6
	SVCall     = 11
	DebugMon   = 12
	PendSV     = 14
	SysTick    = 15

	// ExternalBase is the exception number of external IRQ 0.
	ExternalBase = 16
)

// RISC-V machine interrupt causes, used as line numbers on RV32 systems.
const (
	MachineSoftware = 3
	MachineTimer    = 7
	MachineExternal = 11
)

type line struct {
	priority int
	// fixed lines are always enabled; fixedPriority lines ignore
	// SetPriority.
	fixed         bool
	fixedPriority bool
	pending       bool
	active        bool
	enabled       bool
}

// Controller tracks a fixed set of exception lines.
type Controller struct {
	lines  []line
	active []int // nesting stack, innermost last

	primask        bool
	basepri        int
	vectorBase     uint32
	resetRequested bool
}

// New creates a controller with n lines, all disabled at priority 0.
func New(n int) *Controller {
	return &Controller{lines: make([]line, n)}
}

// NewCortexM creates a controller for a Cortex-M core with the given number
// of external interrupts. Reset, NMI and HardFault get their fixed negative
// priorities; system exceptions are always enabled.
func NewCortexM(externalIRQs int) *Controller {
	c := New(ExternalBase + externalIRQs)
	c.setFixed(Reset, -3)
	c.setFixed(NMI, -2)
	c.setFixed(HardFault, -1)
	for _, id := range []int{MemManage, BusFault, UsageFault, SVCall, DebugMon, PendSV, SysTick} {
		c.lines[id].enabled = true
	}
	return c
}

// NewRV32 creates a controller for an RV32 hart. Line numbers are the
// machine interrupt cause codes. External interrupts outrank software
// interrupts, which outrank the timer.
func NewRV32() *Controller {
	c := New(32)
	for id, prio := range map[int]int{MachineExternal: 0, MachineSoftware: 1, MachineTimer: 2} {
		c.lines[id].priority = prio
		c.lines[id].fixedPriority = true
	}
	return c
}

func (c *Controller) setFixed(id, prio int) {
	c.lines[id].priority = prio
	c.lines[id].fixed = true
	c.lines[id].fixedPriority = true
	c.lines[id].enabled = true
}

// NumLines returns the number of lines.
func (c *Controller) NumLines() int {
	return len(c.lines)
}

func (c *Controller) valid(id int) bool {
	return id > 0 && id < len(c.lines)
}

// Raise marks a line pending. Out-of-range lines are ignored.
func (c *Controller) Raise(id int) {
	if c.valid(id) {
		c.lines[id].pending = true
	}
}

// ClearPending clears a pending line.
func (c *Controller) ClearPending(id int) {
	if c.valid(id) {
		c.lines[id].pending = false
	}
}

// IsPending reports whether the line is pending.
func (c *Controller) IsPending(id int) bool {
	return c.valid(id) && c.lines[id].pending
}

// IsActive reports whether the line is active.
func (c *Controller) IsActive(id int) bool {
	return c.valid(id) && c.lines[id].active
}

// Enable enables a line. Lines with a fixed priority are always enabled.
func (c *Controller) Enable(id int) {
	if c.valid(id) {
		c.lines[id].enabled = true
	}
}

// Disable disables a configurable line.
func (c *Controller) Disable(id int) {
	if c.valid(id) && !c.lines[id].fixed {
		c.lines[id].enabled = false
	}
}

// IsEnabled reports whether the line is enabled.
func (c *Controller) IsEnabled(id int) bool {
	return c.valid(id) && c.lines[id].enabled
}

// SetPriority sets a configurable line's priority. Lower values are more
// urgent. Fixed-priority lines ignore the call.
func (c *Controller) SetPriority(id int, prio uint8) {
	if c.valid(id) && !c.lines[id].fixedPriority {
		c.lines[id].priority = int(prio)
	}
}

// Priority returns a line's priority.
func (c *Controller) Priority(id int) int {
	if !c.valid(id) {
		return ThreadPriority
	}
	return c.lines[id].priority
}

// SetPRIMASK sets the global mask for configurable-priority exceptions.
func (c *Controller) SetPRIMASK(masked bool) {
	c.primask = masked
}

// PRIMASK reports whether configurable-priority exceptions are masked.
func (c *Controller) PRIMASK() bool {
	return c.primask
}

// SetBASEPRI sets the priority mask register. 0 disables it.
func (c *Controller) SetBASEPRI(v uint8) {
	c.basepri = int(v)
}

// BASEPRI returns the priority mask register.
func (c *Controller) BASEPRI() uint8 {
	return uint8(c.basepri)
}

// VectorBase returns the vector table base address.
func (c *Controller) VectorBase() uint32 {
	return c.vectorBase
}

// SetVectorBase relocates the vector table.
func (c *Controller) SetVectorBase(addr uint32) {
	c.vectorBase = addr
}

// RequestReset records a software reset request. The machine performs the
// reset at the next instruction boundary.
func (c *Controller) RequestReset() {
	c.resetRequested = true
}

// TakeResetRequest returns and clears the reset request.
func (c *Controller) TakeResetRequest() bool {
	r := c.resetRequested
	c.resetRequested = false
	return r
}

// ExecutionPriority returns the current execution priority: the priority of
// the most urgent active exception, boosted to BASEPRI when it is set and
// to 0 when PRIMASK is set.
func (c *Controller) ExecutionPriority() int {
	prio := ThreadPriority
	for _, id := range c.active {
		if p := c.lines[id].priority; p < prio {
			prio = p
		}
	}
	if c.basepri != 0 && c.basepri < prio {
		prio = c.basepri
	}
	if c.primask && prio > 0 {
		prio = 0
	}
	return prio
}

// HighestPending returns the most urgent pending and enabled line. Ties
// are broken by the lower line number.
func (c *Controller) HighestPending() (int, bool) {
	best := -1
	for id := 1; id < len(c.lines); id++ {
		l := &c.lines[id]
		if !l.pending || !l.enabled {
			continue
		}
		if best < 0 || l.priority < c.lines[best].priority {
			best = id
		}
	}
	return best, best >= 0
}

// Preempting returns the line that should be taken at this boundary, if
// any: the highest pending line whose priority is strictly more urgent than
// the current execution priority.
func (c *Controller) Preempting() (int, bool) {
	id, ok := c.HighestPending()
	if !ok || c.lines[id].priority >= c.ExecutionPriority() {
		return 0, false
	}
	return id, true
}

// Enter marks a line active and no longer pending.
func (c *Controller) Enter(id int) {
	if !c.valid(id) {
		return
	}
	c.lines[id].pending = false
	c.lines[id].active = true
	c.active = append(c.active, id)
}

// Exit deactivates a line. Returning from an exception that is not active
// is an error.
func (c *Controller) Exit(id int) error {
	if !c.IsActive(id) {
		return errors.Errorf("return from inactive exception %d", id)
	}
	c.lines[id].active = false
	for i := len(c.active) - 1; i >= 0; i-- {
		if c.active[i] == id {
			c.active = append(c.active[:i], c.active[i+1:]...)
			break
		}
	}
	return nil
}

// Current returns the innermost active exception.
func (c *Controller) Current() (int, bool) {
	if len(c.active) == 0 {
		return 0, false
	}
	return c.active[len(c.active)-1], true
}

// Nesting returns the number of active exceptions.
func (c *Controller) Nesting() int {
	return len(c.active)
}

// Reset clears pending/active state and configurable priorities and enables.
func (c *Controller) Reset() {
	for i := range c.lines {
		l := &c.lines[i]
		l.pending = false
		l.active = false
		if !l.fixedPriority {
			l.priority = 0
		}
	}
	c.active = c.active[:0]
	c.primask = false
	c.basepri = 0
	c.vectorBase = 0
	c.resetRequested = false
}

// ResetExternal disables every line at or above first. Cortex-M resets all
// external interrupts to disabled.
func (c *Controller) ResetExternal(first int) {
	for i := first; i < len(c.lines); i++ {
		if !c.lines[i].fixed {
			c.lines[i].enabled = false
		}
	}
}

// State is a serializable view of the controller.
type State struct {
	Pending    []int  `json:"pending,omitempty"`
	Active     []int  `json:"active,omitempty"`
	PRIMASK    bool   `json:"primask"`
	VectorBase uint32 `json:"vector_base"`
}

// Snapshot captures the controller state.
func (c *Controller) Snapshot() State {
	s := State{PRIMASK: c.primask, VectorBase: c.vectorBase}
	for id := range c.lines {
		if c.lines[id].pending {
			s.Pending = append(s.Pending, id)
		}
	}
	s.Active = append(s.Active, c.active...)
	return s
}

func (s State) String() string {
	return fmt.Sprintf("pending=%v active=%v primask=%t vtor=0x%08x",
		s.Pending, s.Active, s.PRIMASK, s.VectorBase)
}
