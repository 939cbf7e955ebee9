package emu

import (
	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/bus"
	"github.com/sarchlab/mcusim/intc"
)

// EXC_RETURN values loaded into LR on exception entry.
const (
	ExcReturnHandler   = 0xFFFFFFF1
	ExcReturnThreadMSP = 0xFFFFFFF9
	ExcReturnThreadPSP = 0xFFFFFFFD
)

// frameSize is the size of the basic exception frame.
const frameSize = 0x20

// xpsrAlignBit marks a frame whose stack pointer was realigned to 8 bytes.
const xpsrAlignBit = 1 << 9

// xpsrITMask covers the IT bits of xPSR, [26:25] and [15:10].
const xpsrITMask = 0x3<<25 | 0x3F<<10

// takeException stacks the basic frame, switches to handler mode and
// jumps to the vector of exception id. The step retires no instruction.
func (c *CortexM) takeException(id int) StepResult {
	returnAddr := c.regFile.R[RegPC]
	res := StepResult{PC: returnAddr, Exception: id, Cycles: c.timing.ExceptionEntry()}

	vectorAddr := c.ctrl.VectorBase() + 4*uint32(id)
	vector, err := c.lsu.Load32(vectorAddr)
	if err != nil {
		res.Err = errors.Annotatef(err, "reading vector %d", id)
		return res
	}
	if vector == 0 {
		res.Err = errors.Errorf("no handler for exception %d at 0x%08x", id, vectorAddr)
		return res
	}

	if err := c.pushFrame(returnAddr); err != nil {
		res.Err = errors.Annotatef(err, "stacking for exception %d", id)
		return res
	}

	switch {
	case c.regFile.Handler:
		c.regFile.R[RegLR] = ExcReturnHandler
	case c.regFile.usingPSP():
		c.regFile.R[RegLR] = ExcReturnThreadPSP
	default:
		c.regFile.R[RegLR] = ExcReturnThreadMSP
	}

	c.regFile.switchStack(true, c.regFile.CONTROL)
	c.regFile.IT.Clear()
	c.regFile.R[RegPC] = vector &^ 1
	c.ctrl.Enter(id)
	c.lsu.ClearExclusive()

	glog.V(2).Infof("exception %d taken, return to 0x%08x, handler 0x%08x", id, returnAddr, vector&^1)
	return res
}

// pushFrame writes R0-R3, R12, LR, the return address and xPSR below the
// active stack pointer, realigning to 8 bytes. The stacked xPSR has its IT
// bits cleared.
func (c *CortexM) pushFrame(returnAddr uint32) error {
	sp := c.regFile.R[RegSP]
	xpsr := c.regFile.XPSR(c.ipsr()) &^ xpsrITMask
	if sp&4 != 0 {
		xpsr |= xpsrAlignBit
	}
	frame := (sp - frameSize) &^ 4

	r := &c.regFile.R
	words := [8]uint32{r[0], r[1], r[2], r[3], r[12], r[RegLR], returnAddr, xpsr}
	for i, w := range words {
		if err := c.lsu.Store32(frame+4*uint32(i), w); err != nil {
			return err
		}
	}

	c.regFile.R[RegSP] = frame
	return nil
}

// exceptionReturn unwinds the frame selected by an EXC_RETURN value and
// deactivates the running exception.
func (c *CortexM) exceptionReturn(excReturn uint32) error {
	id, ok := c.ctrl.Current()
	if !ok {
		return errors.Errorf("exception return 0x%08x with no active exception", excReturn)
	}

	var handler, psp bool
	switch excReturn {
	case ExcReturnHandler:
		handler = true
	case ExcReturnThreadMSP:
	case ExcReturnThreadPSP:
		psp = true
	default:
		return errors.NotValidf("EXC_RETURN 0x%08x", excReturn)
	}

	if err := c.ctrl.Exit(id); err != nil {
		return errors.Trace(err)
	}

	control := c.regFile.CONTROL &^ ControlSPSEL
	if psp {
		control |= ControlSPSEL
	}
	c.regFile.switchStack(handler, control)

	sp := c.regFile.R[RegSP]
	var words [8]uint32
	for i := range words {
		w, err := c.lsu.Load32(sp + 4*uint32(i))
		if err != nil {
			return errors.Annotatef(err, "unstacking exception %d", id)
		}
		words[i] = w
	}

	r := &c.regFile.R
	r[0], r[1], r[2], r[3], r[12], r[RegLR] = words[0], words[1], words[2], words[3], words[4], words[5]
	r[RegPC] = words[6] &^ 1

	xpsr := words[7]
	c.regFile.SetAPSR(xpsr)
	c.regFile.IT.Clear()

	sp += frameSize
	if xpsr&xpsrAlignBit != 0 {
		sp |= 4
	}
	r[RegSP] = sp

	glog.V(2).Infof("exception %d returned to 0x%08x", id, r[RegPC])
	return nil
}

// busFault handles a bus fault raised by the current instruction. With
// escalation enabled and a HardFault handler present, the instruction is
// abandoned and HardFault becomes pending; otherwise the fault is fatal.
func (c *CortexM) busFault(res StepResult, it ITState, err error) StepResult {
	if _, ok := bus.IsFault(err); !ok || !c.hardFaultOnBusError {
		res.Err = err
		return res
	}

	if c.ctrl.IsActive(intc.HardFault) {
		res.Err = &LockupError{PC: res.PC, Cause: err}
		return res
	}

	vector, verr := c.lsu.Load32(c.ctrl.VectorBase() + 4*intc.HardFault)
	if verr != nil || vector == 0 {
		res.Err = err
		return res
	}

	glog.V(1).Infof("escalating to HardFault: %v", err)
	c.regFile.IT = it
	c.ctrl.Raise(intc.HardFault)
	res.Inst = nil
	res.Cycles = 1
	return res
}
