package main

import (
	"io"
	"os"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/config"
	"github.com/sarchlab/mcusim/loader"
	"github.com/sarchlab/mcusim/periph/hostlink"
	"github.com/sarchlab/mcusim/system"
	"github.com/sarchlab/mcusim/timing/latency"
)

// defaultRunSteps bounds the run command when no step limit is given.
const defaultRunSteps = 20000

// options is everything a command reads from the command line.
type options struct {
	firmware string
	system   string
	script   string
	format   string
	timing   string

	// limits holds the overrides; zero fields keep the script's value.
	limits      config.Limits
	breakpoints []uint32

	uartSink     string
	noUARTStdout bool

	snapshot  string
	outputDir string
	junit     string
	replay    bool
	gdbAddr   string

	stdout io.Writer
	stderr io.Writer
}

func optionsFromFlags() (*options, error) {
	bps, err := parseAddrs(*breakpointFlag)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &options{
		firmware: *firmwareFlag,
		system:   *systemFlag,
		script:   *scriptFlag,
		format:   *formatFlag,
		timing:   *timingFlag,
		limits: config.Limits{
			MaxSteps:        *maxSteps,
			MaxCycles:       *maxCycles,
			MaxUARTBytes:    *maxUARTBytes,
			NoProgressSteps: *noProgress,
		},
		breakpoints:  bps,
		uartSink:     *uartSinkFlag,
		noUARTStdout: *noUARTStdout,
		snapshot:     *snapshotFlag,
		outputDir:    *outputDir,
		junit:        *junitFlag,
		replay:       *replayFlag,
		gdbAddr:      *gdbAddr,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
	}, nil
}

// applyLimits overlays the command-line limits on base.
func (o *options) applyLimits(base config.Limits) config.Limits {
	if o.limits.MaxSteps != 0 {
		base.MaxSteps = o.limits.MaxSteps
	}
	if o.limits.MaxCycles != 0 {
		base.MaxCycles = o.limits.MaxCycles
	}
	if o.limits.MaxUARTBytes != 0 {
		base.MaxUARTBytes = o.limits.MaxUARTBytes
	}
	if o.limits.NoProgressSteps != 0 {
		base.NoProgressSteps = o.limits.NoProgressSteps
	}
	return base
}

// target is a loaded firmware image and the board it runs on.
type target struct {
	desc   *config.System
	prog   *loader.Program
	timing *latency.TimingConfig

	firmware, system string
}

// load reads the descriptor, the firmware and the timing config. Without
// a descriptor the built-in board for the firmware's architecture is
// used, Cortex-M when the image does not say.
func (o *options) load(firmware, sysPath string) (*target, error) {
	format, err := loader.ParseFormat(o.format)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var desc *config.System
	if sysPath != "" {
		if desc, err = config.LoadSystem(sysPath); err != nil {
			return nil, errors.Trace(err)
		}
	}

	rawBase := config.DefaultCortexM().Flash.Base
	if desc != nil {
		rawBase = desc.Flash.Base
	}
	prog, err := loader.Load(firmware, format, rawBase)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if desc == nil {
		arch := config.ArchARM
		if prog.Arch == loader.ArchRISCV {
			arch = config.ArchRISCV
		}
		if desc, err = config.Default(arch); err != nil {
			return nil, errors.Trace(err)
		}
		glog.V(1).Infof("no system descriptor given; using the built-in %s board", desc.Name)
	}

	t := &target{desc: desc, prog: prog, firmware: firmware, system: sysPath}
	if o.timing != "" {
		if t.timing, err = latency.LoadConfig(o.timing); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return t, nil
}

// openSink opens the UART mirror for the first board. It returns nil when
// the descriptor's own uart_sink applies.
func (o *options) openSink(desc *config.System) (hostlink.Sink, bool, error) {
	switch {
	case o.uartSink != "":
		s, err := hostlink.Open(o.uartSink)
		if err != nil {
			return nil, false, errors.Annotatef(err, "uart sink")
		}
		return s, true, nil
	case desc.UARTSink != "" && !o.noUARTStdout:
		return nil, false, nil
	case o.noUARTStdout:
		return nil, true, nil
	}
	return nopCloser{o.stdout}, true, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// build creates a board for t. When override is set, sink replaces the
// descriptor's uart_sink, nil disabling mirroring.
func (t *target) build(sink io.Writer, override bool) (*system.Board, error) {
	var opts []system.Option
	if t.timing != nil {
		opts = append(opts, system.WithTimingConfig(t.timing))
	}
	if override {
		opts = append(opts, system.WithUARTSink(sink))
	}
	brd, err := system.Build(t.desc, t.prog, opts...)
	return brd, errors.Trace(err)
}
