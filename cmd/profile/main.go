// Package main provides a profiling wrapper for MCUSim to identify
// performance bottlenecks in the simulator itself.
package main

import (
	"context"
	goflag "flag"
	"fmt"
	"os"
	"runtime/pprof"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/sarchlab/mcusim/config"
	"github.com/sarchlab/mcusim/harness"
	"github.com/sarchlab/mcusim/loader"
	"github.com/sarchlab/mcusim/system"
)

var (
	systemPath  = flag.StringP("system", "s", "", "System descriptor (YAML); the built-in board when empty")
	cpuProfile  = flag.String("cpuprofile", "", "write cpu profile to file")
	memProfile  = flag.String("memprofile", "", "write memory profile to file")
	duration    = flag.Duration("duration", 30*time.Second, "max duration to run (for profiling)")
	instruction = flag.Uint64("max-steps", 1000000, "max steps to execute")
)

func main() {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: profile [options] <firmware>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := run(flag.Arg(0)); err != nil {
		glog.Infof("Error: %+v", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(firmware string) error {
	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			return errors.Annotatef(err, "creating CPU profile")
		}
		defer func() { _ = f.Close() }()

		if err := pprof.StartCPUProfile(f); err != nil {
			return errors.Annotatef(err, "starting CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	brd, err := buildBoard(firmware)
	if err != nil {
		return errors.Trace(err)
	}
	defer brd.Close()

	fmt.Printf("Loaded: %s\n", firmware)
	fmt.Printf("Reset PC: 0x%08X\n", brd.Core().PC())

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	res, err := harness.Run(ctx, brd, config.Limits{MaxSteps: *instruction}, nil)
	if err != nil {
		return errors.Trace(err)
	}
	elapsed := time.Since(start)
	if res.StopReason == config.StopCancelled {
		fmt.Printf("\nTimeout reached after %v - stopping execution\n", *duration)
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			return errors.Annotatef(err, "creating memory profile")
		}
		defer func() { _ = f.Close() }()

		if err := pprof.WriteHeapProfile(f); err != nil {
			glog.Warningf("writing memory profile: %v", err)
		}
	}

	fmt.Printf("\nProfiling Results:\n")
	fmt.Printf("Stop reason: %s\n", res.StopReason)
	fmt.Printf("Steps executed: %d\n", res.Steps)
	fmt.Printf("Simulated cycles: %d\n", res.Cycles)
	fmt.Printf("Elapsed time: %v\n", elapsed)
	if res.Steps > 0 {
		fmt.Printf("Steps/second: %.0f\n", float64(res.Steps)/elapsed.Seconds())
		fmt.Printf("Simulated MHz: %.2f\n", float64(res.Cycles)/elapsed.Seconds()/1e6)
	}
	return nil
}

// buildBoard loads the firmware onto the descriptor's board, or the
// built-in board for its architecture.
func buildBoard(firmware string) (*system.Board, error) {
	var desc *config.System
	if *systemPath != "" {
		var err error
		if desc, err = config.LoadSystem(*systemPath); err != nil {
			return nil, errors.Trace(err)
		}
	}

	rawBase := config.DefaultCortexM().Flash.Base
	if desc != nil {
		rawBase = desc.Flash.Base
	}
	prog, err := loader.Load(firmware, loader.FormatAuto, rawBase)
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
	}

	brd, err := system.Build(desc, prog, system.WithUARTSink(nil))
	return brd, errors.Trace(err)
}
