package periph

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/sarchlab/mcusim/bus"
)

// DMA register layout (STM32F1 DMA1).
const (
	DMAISR  = 0x00
	DMAIFCR = 0x04

	dmaChannelBase   = 0x08
	dmaChannelStride = 20

	DMAChannels = 7
)

// DMA CCR bits.
const (
	DMAEnable  = 1 << 0
	DMATCIE    = 1 << 1
	DMAHTIE    = 1 << 2
	DMATEIE    = 1 << 3
	DMADir     = 1 << 4
	DMACirc    = 1 << 5
	DMAPInc    = 1 << 6
	DMAMInc    = 1 << 7
	DMAMem2Mem = 1 << 14
)

// DMA ISR flags for channel i are at bit 4*i + flag.
const (
	DMAGIF  = 0
	DMATCIF = 1
	DMAHTIF = 2
	DMATEIF = 3
)

// ChannelState is the transfer state of one DMA channel.
type ChannelState uint8

// Channel states. A channel is Armed once enabled with a nonzero count,
// Active while units are moving, and Complete after the last unit of a
// non-circular transfer.
const (
	ChannelIdle ChannelState = iota
	ChannelArmed
	ChannelActive
	ChannelComplete
)

func (s ChannelState) String() string {
	switch s {
	case ChannelIdle:
		return "idle"
	case ChannelArmed:
		return "armed"
	case ChannelActive:
		return "active"
	case ChannelComplete:
		return "complete"
	}
	return "unknown"
}

type dmaChannel struct {
	index int
	state ChannelState

	ccr, cndtr, cpar, cmar *Register

	total     uint32
	remaining uint32
	par, mar  uint32
}

func (c *dmaChannel) flag(f int) uint32 {
	return 1 << uint(4*c.index+f)
}

// DMA is a seven-channel DMA controller. It moves data through the bus as
// a bus master, one unit per channel per tick.
type DMA struct {
	*RegisterFile

	master   bus.Accessor
	irqBase  int
	isr      *Register
	channels [DMAChannels]*dmaChannel
}

// NewDMA creates a DMA controller that accesses memory through master.
// Channel i raises controller line irqBase+i; a negative irqBase disables
// interrupts.
func NewDMA(name string, master bus.Accessor, irqBase int) *DMA {
	d := &DMA{RegisterFile: NewRegisterFile(name), master: master, irqBase: irqBase}

	d.isr = d.Add(&Register{Name: "ISR", Offset: DMAISR, Policy: ReadOnly})
	d.Add(&Register{
		Name: "IFCR", Offset: DMAIFCR, Writable: 0x0FFFFFFF,
		Policy: WriteOneToClear, Target: d.isr, Get: zero,
		OnWrite: d.clearFlags,
	})

	for i := range d.channels {
		c := &dmaChannel{index: i}
		base := uint32(dmaChannelBase + dmaChannelStride*i)
		n := i + 1
		c.ccr = d.Add(&Register{
			Name: fmt.Sprintf("CCR%d", n), Offset: base, Writable: 0x7FFF,
			OnWrite: func(old, _ uint32) { d.configure(c, old) },
		})
		c.cndtr = d.Add(&Register{
			Name: fmt.Sprintf("CNDTR%d", n), Offset: base + 4, Writable: 0xFFFF,
			Get: func() uint32 { return c.countView() },
		})
		c.cpar = d.Add(&Register{Name: fmt.Sprintf("CPAR%d", n), Offset: base + 8, Writable: 0xFFFFFFFF})
		c.cmar = d.Add(&Register{Name: fmt.Sprintf("CMAR%d", n), Offset: base + 12, Writable: 0xFFFFFFFF})
		d.channels[i] = c
	}
	return d
}

// State returns the state of channel i (0-based).
func (d *DMA) State(i int) ChannelState {
	return d.channels[i].state
}

func (c *dmaChannel) countView() uint32 {
	if c.state == ChannelArmed || c.state == ChannelActive || c.state == ChannelComplete {
		return c.remaining
	}
	return c.cndtr.Value
}

// configure handles CCR writes: enabling arms the channel, disabling
// returns it to idle.
func (d *DMA) configure(c *dmaChannel, old uint32) {
	wasOn := old&DMAEnable != 0
	on := c.ccr.Value&DMAEnable != 0

	switch {
	case on && !wasOn:
		c.total = c.cndtr.Value & 0xFFFF
		c.remaining = c.total
		c.par = c.cpar.Value
		c.mar = c.cmar.Value
		if c.total > 0 {
			c.state = ChannelArmed
		}
	case !on && wasOn:
		// The hardware counter keeps what is left of the transfer.
		if c.state != ChannelIdle {
			c.cndtr.Value = c.remaining
		}
		c.state = ChannelIdle
	}
}

// clearFlags drops GIF for any channel whose other flags are all clear.
func (d *DMA) clearFlags(_, written uint32) {
	for _, c := range d.channels {
		if written&c.flag(DMAGIF) != 0 {
			d.isr.Value &^= c.flag(DMATCIF) | c.flag(DMAHTIF) | c.flag(DMATEIF)
		}
	}
}

func unitSize(bits uint32) int {
	switch bits & 0b11 {
	case 1:
		return 2
	case 2:
		return 4
	}
	return 1
}

// Tick moves one unit on every armed or active channel.
func (d *DMA) Tick(uint64) bus.TickResult {
	var res bus.TickResult
	for _, c := range d.channels {
		if c.state != ChannelArmed && c.state != ChannelActive {
			continue
		}
		c.state = ChannelActive
		res.Cycles++
		if d.transferUnit(c) {
			d.raise(c, &res)
		}
	}
	return res
}

// transferUnit moves one unit and reports whether an enabled interrupt
// condition occurred.
func (d *DMA) transferUnit(c *dmaChannel) bool {
	ccr := c.ccr.Value
	psize := unitSize(ccr >> 8)
	msize := unitSize(ccr >> 10)

	src, srcSize, dst, dstSize := c.par, psize, c.mar, msize
	if ccr&DMADir != 0 {
		src, srcSize, dst, dstSize = c.mar, msize, c.par, psize
	}

	v, err := d.master.Read(src, srcSize)
	if err == nil {
		err = d.master.Write(dst, dstSize, v)
	}
	if err != nil {
		glog.Warningf("%s: channel %d transfer error: %v", d.Name(), c.index+1, err)
		d.isr.Value |= c.flag(DMATEIF) | c.flag(DMAGIF)
		c.ccr.Value &^= DMAEnable
		c.cndtr.Value = c.remaining
		c.state = ChannelIdle
		return ccr&DMATEIE != 0
	}

	if ccr&DMAPInc != 0 {
		c.par += uint32(psize)
	}
	if ccr&DMAMInc != 0 {
		c.mar += uint32(msize)
	}
	c.remaining--

	irq := false
	if c.remaining == c.total/2 && c.total > 1 {
		d.isr.Value |= c.flag(DMAHTIF) | c.flag(DMAGIF)
		irq = ccr&DMAHTIE != 0
	}
	if c.remaining > 0 {
		return irq
	}

	d.isr.Value |= c.flag(DMATCIF) | c.flag(DMAGIF)
	if glog.V(2) {
		glog.Infof("%s: channel %d transferred %d units", d.Name(), c.index+1, c.total)
	}
	if ccr&DMACirc != 0 {
		c.remaining = c.total
		c.par = c.cpar.Value
		c.mar = c.cmar.Value
	} else {
		c.state = ChannelComplete
	}
	return irq || ccr&DMATCIE != 0
}

func (d *DMA) raise(c *dmaChannel, res *bus.TickResult) {
	if d.irqBase >= 0 {
		res.IRQs = append(res.IRQs, d.irqBase+c.index)
	}
}

// Reset idles every channel.
func (d *DMA) Reset() {
	d.RegisterFile.Reset()
	for _, c := range d.channels {
		c.state = ChannelIdle
		c.total, c.remaining, c.par, c.mar = 0, 0, 0, 0
	}
}
