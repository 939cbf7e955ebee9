// Package system assembles a runnable machine from a system descriptor and
// a firmware image.
package system

import (
	"bytes"
	"io"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/bus"
	"github.com/sarchlab/mcusim/config"
	"github.com/sarchlab/mcusim/emu"
	"github.com/sarchlab/mcusim/intc"
	"github.com/sarchlab/mcusim/loader"
	"github.com/sarchlab/mcusim/periph"
	"github.com/sarchlab/mcusim/periph/hostlink"
	"github.com/sarchlab/mcusim/timing/cache"
	"github.com/sarchlab/mcusim/timing/latency"
)

// Board is a machine built from a descriptor, with handles on the
// peripherals the harness and debugger need.
type Board struct {
	*emu.Machine

	Desc    *config.System
	Program *loader.Program

	peripherals []Instance
	uarts       []*periph.UART
	closers     []io.Closer
}

// Instance is one peripheral placed on the bus.
type Instance struct {
	ID         string
	Type       string
	Base       uint32
	Size       uint32
	Line       int
	Peripheral bus.Peripheral
}

// Option configures Build.
type Option func(*options)

type options struct {
	timing     *latency.TimingConfig
	sink       io.Writer
	sinkSet    bool
	trapPolicy *emu.TrapPolicy
}

// WithTimingConfig overrides the descriptor's timing file.
func WithTimingConfig(cfg *latency.TimingConfig) Option {
	return func(o *options) {
		o.timing = cfg
	}
}

// WithUARTSink sends UART output to w instead of the descriptor's
// uart_sink. A nil w disables mirroring.
func WithUARTSink(w io.Writer) Option {
	return func(o *options) {
		o.sink = w
		o.sinkSet = true
	}
}

// WithTrapPolicy overrides the descriptor's trap_policy.
func WithTrapPolicy(p emu.TrapPolicy) Option {
	return func(o *options) {
		o.trapPolicy = &p
	}
}

// Build creates the bus, controller, peripherals and core described by
// desc, loads prog and resets the machine.
func Build(desc *config.System, prog *loader.Program, opts ...Option) (*Board, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if err := desc.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if err := checkArch(desc.Arch, prog); err != nil {
		return nil, err
	}

	timingCfg, err := resolveTiming(desc, o)
	if err != nil {
		return nil, err
	}
	table := latency.NewTableWithConfig(timingCfg)

	policy := emu.TrapStrict
	if desc.TrapPolicy != "" {
		if policy, err = emu.ParseTrapPolicy(desc.TrapPolicy); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if o.trapPolicy != nil {
		policy = *o.trapPolicy
	}

	brd := &Board{Desc: desc, Program: prog}

	var ctrl *intc.Controller
	if desc.Arch == config.ArchARM {
		ext := desc.ExternalIRQs
		if ext == 0 {
			ext = config.DefaultExternalIRQs
		}
		ctrl = intc.NewCortexM(ext)
	} else {
		ctrl = intc.NewRV32()
	}

	b := bus.New(bus.WithUnalignedAccess(desc.Arch == config.ArchARM))
	flash, err := b.AddMemory("flash", desc.Flash.Base, uint32(desc.Flash.Size), bus.KindFlash)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if _, err := b.AddMemory("ram", desc.RAM.Base, uint32(desc.RAM.Size), bus.KindRAM); err != nil {
		return nil, errors.Trace(err)
	}
	if desc.Arch == config.ArchARM && desc.Flash.Base != 0 {
		if err := b.AddAlias("flash-alias", 0, flash, bus.KindFlash); err != nil {
			glog.Warningf("not mirroring flash at 0x0: %v", err)
		}
	}

	sink, err := brd.openSink(desc, o)
	if err != nil {
		return nil, err
	}

	var clint *periph.CLINT
	for i := range desc.Peripherals {
		p := &desc.Peripherals[i]
		spec := periph.Spec{
			ID:     p.ID,
			Type:   p.Type,
			Base:   p.BaseAddress,
			Size:   uint32(p.Size),
			Line:   lineFor(desc.Arch, p.IRQ),
			Config: p.ConfigStrings(),
		}
		dev, size, err := periph.Build(spec, periph.Deps{Bus: b, Controller: ctrl})
		if err != nil {
			brd.Close()
			return nil, errors.Trace(err)
		}
		if err := b.AddPeripheral(spec.Base, size, dev); err != nil {
			brd.Close()
			return nil, errors.Annotatef(err, "placing %s", p.ID)
		}
		brd.peripherals = append(brd.peripherals, Instance{
			ID: p.ID, Type: p.Type, Base: spec.Base, Size: size, Line: spec.Line, Peripheral: dev,
		})

		switch d := dev.(type) {
		case *periph.UART:
			if sink != nil {
				d.SetSink(sink)
			}
			brd.uarts = append(brd.uarts, d)
		case *periph.CLINT:
			clint = d
		}
	}

	if err := brd.wireEXTI(); err != nil {
		brd.Close()
		return nil, err
	}

	if prog != nil {
		if err := prog.LoadInto(b); err != nil {
			brd.Close()
			return nil, errors.Annotatef(err, "loading firmware")
		}
	}

	var core emu.Core
	if desc.Arch == config.ArchARM {
		if vt, err := loader.ReadVectorTable(b, desc.Flash.Base); err == nil {
			if vt.InitialSP < desc.RAM.Base || uint64(vt.InitialSP) > desc.RAM.End() {
				glog.Warningf("initial SP 0x%08x is outside RAM", vt.InitialSP)
			}
		}
		core = emu.NewCortexM(b, ctrl,
			emu.WithTrapPolicy(policy),
			emu.WithHardFaultOnBusError(desc.HardFaultOnBusError),
			emu.WithVectorTable(desc.Flash.Base),
			emu.WithLatencyTable(table))
	} else {
		entry := desc.Flash.Base
		if prog != nil && prog.HasEntry {
			entry = prog.EntryPoint
		}
		rvOpts := []emu.RV32Option{
			emu.WithEntryPoint(entry),
			emu.WithStackPointer(uint32(desc.RAM.End())),
			emu.WithRV32TrapPolicy(policy),
			emu.WithRV32LatencyTable(table),
		}
		if clint != nil {
			rvOpts = append(rvOpts, emu.WithTimeSource(clint.Time))
		}
		core = emu.NewRV32(b, ctrl, rvOpts...)
	}

	mOpts := []emu.MachineOption{
		emu.WithClock(desc.ClockHz),
		emu.WithFlash(desc.Flash.Base, uint32(desc.Flash.Size)),
		emu.WithTiming(table),
	}
	if timingCfg.FlashCacheLines > 0 {
		fc := cache.New(flashCacheConfig(timingCfg), cache.NewMemoryBacking(flash, desc.Flash.Base))
		mOpts = append(mOpts, emu.WithFlashCache(fc))
	}
	brd.Machine = emu.NewMachine(core, b, ctrl, mOpts...)

	if err := brd.Reset(); err != nil {
		brd.Close()
		return nil, errors.Annotatef(err, "reset")
	}

	glog.Infof("built %s (%s): %d peripherals, clock %d Hz", desc.Name, desc.Arch, len(brd.peripherals), brd.ClockHz())
	glog.V(2).Infof("memory map:\n%s", b)
	return brd, nil
}

// wireEXTI routes GPIO ports into each EXTI. The port order is the EXTI's
// "ports" config, a comma-separated list of GPIO ids, or the descriptor
// order of the GPIO instances.
func (brd *Board) wireEXTI() error {
	var (
		afio  *periph.AFIO
		gpios []Instance
	)
	for _, inst := range brd.peripherals {
		switch d := inst.Peripheral.(type) {
		case *periph.AFIO:
			if afio == nil {
				afio = d
			}
		case *periph.GPIO:
			gpios = append(gpios, inst)
		}
	}

	for i := range brd.peripherals {
		exti, ok := brd.peripherals[i].Peripheral.(*periph.EXTI)
		if !ok {
			continue
		}
		if afio != nil {
			exti.SetAFIO(afio)
		}

		ports := gpios
		if p, ok := brd.Desc.Peripheral(brd.peripherals[i].ID); ok {
			if list := p.ConfigStrings()["ports"]; list != "" {
				ports = nil
				for _, id := range strings.Split(list, ",") {
					inst, ok := brd.Peripheral(strings.TrimSpace(id))
					if !ok {
						return errors.NotFoundf("%s port %q", p.ID, id)
					}
					if _, ok := inst.Peripheral.(*periph.GPIO); !ok {
						return errors.NotValidf("%s port %q of type %s", p.ID, id, inst.Type)
					}
					ports = append(ports, inst)
				}
			}
		}

		for idx, inst := range ports {
			exti.Attach(idx, inst.Peripheral.(*periph.GPIO))
			glog.V(1).Infof("%s: port %d is %s", exti.Name(), idx, inst.ID)
		}
	}
	return nil
}

func checkArch(arch config.Arch, prog *loader.Program) error {
	if prog == nil {
		return nil
	}
	switch {
	case prog.Arch == loader.ArchARM && arch != config.ArchARM,
		prog.Arch == loader.ArchRISCV && arch != config.ArchRISCV:
		return errors.NotValidf("%s firmware on a %s system", prog.Arch, arch)
	}
	return nil
}

func resolveTiming(desc *config.System, o *options) (*latency.TimingConfig, error) {
	cfg := o.timing
	if cfg == nil && desc.Timing != "" {
		var err error
		if cfg, err = latency.LoadConfig(desc.Timing); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if cfg == nil {
		cfg = latency.DefaultTimingConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Annotatef(err, "timing config")
	}
	return cfg, nil
}

func flashCacheConfig(cfg *latency.TimingConfig) cache.Config {
	ways := 4
	if cfg.FlashCacheLines < ways {
		ways = cfg.FlashCacheLines
	}
	return cache.Config{
		Size:          cfg.FlashCacheLines * cfg.FlashCacheLineSize,
		Associativity: ways,
		BlockSize:     cfg.FlashCacheLineSize,
		MissLatency:   cfg.FlashWaitStates,
	}
}

// lineFor maps a descriptor irq number to a controller line: external
// interrupt n is exception 16+n on Cortex-M; every RISC-V peripheral
// interrupt arrives on the machine external line.
func lineFor(arch config.Arch, irq *int) int {
	if irq == nil {
		return -1
	}
	if arch == config.ArchARM {
		return intc.ExternalBase + *irq
	}
	return intc.MachineExternal
}

func (brd *Board) openSink(desc *config.System, o *options) (io.Writer, error) {
	if o.sinkSet {
		return o.sink, nil
	}
	s, err := hostlink.Open(desc.UARTSink)
	if err != nil {
		return nil, errors.Annotatef(err, "uart sink")
	}
	if s == nil {
		return nil, nil
	}
	brd.closers = append(brd.closers, s)
	return s, nil
}

// Peripherals returns the placed peripherals in descriptor order.
func (brd *Board) Peripherals() []Instance {
	return brd.peripherals
}

// Peripheral finds a placed peripheral by id.
func (brd *Board) Peripheral(id string) (Instance, bool) {
	for _, p := range brd.peripherals {
		if p.ID == id {
			return p, true
		}
	}
	return Instance{}, false
}

// UARTs returns the UARTs in descriptor order.
func (brd *Board) UARTs() []*periph.UART {
	return brd.uarts
}

// UARTOutput returns everything the firmware transmitted, UART by UART in
// descriptor order.
func (brd *Board) UARTOutput() []byte {
	if len(brd.uarts) == 1 {
		return brd.uarts[0].Output()
	}
	var buf bytes.Buffer
	for _, u := range brd.uarts {
		buf.Write(u.Output())
	}
	return buf.Bytes()
}

// UARTBytes returns the number of bytes transmitted so far.
func (brd *Board) UARTBytes() int {
	n := 0
	for _, u := range brd.uarts {
		n += len(u.Output())
	}
	return n
}

// Close releases host sinks.
func (brd *Board) Close() {
	for _, c := range brd.closers {
		if err := c.Close(); err != nil {
			glog.Warningf("closing uart sink: %v", err)
		}
	}
	brd.closers = nil
}
