package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/config"
	"github.com/sarchlab/mcusim/harness"
	"github.com/sarchlab/mcusim/system"
)

func testCmd(ctx context.Context) (int, error) {
	o, err := optionsFromFlags()
	if err != nil {
		return exitConfigError, errors.Trace(err)
	}
	return runTest(ctx, o)
}

func runCmd(ctx context.Context) (int, error) {
	o, err := optionsFromFlags()
	if err != nil {
		return exitConfigError, errors.Trace(err)
	}
	return runFirmware(ctx, o)
}

// runTest runs a test script and maps its status to the exit code.
func runTest(ctx context.Context, o *options) (int, error) {
	script, err := config.LoadScript(o.script)
	if err != nil {
		return o.configError(config.Limits{}, err)
	}
	limits := o.applyLimits(script.Limits)

	firmware := o.firmware
	if firmware == "" {
		firmware = script.FirmwarePath()
	}
	sysPath := o.system
	if sysPath == "" {
		sysPath = script.SystemPath()
	}

	runOpts := []harness.Option{
		harness.WithLimits(limits),
		harness.WithAssertions(script.Assertions...),
		harness.WithBreakpoints(o.breakpoints...),
	}
	res, snap, diff, err := o.execute(ctx, firmware, sysPath, runOpts)
	if err != nil {
		return o.configError(limits, err)
	}

	if err := o.writeArtifacts(firmware, sysPath, res, snap); err != nil {
		return exitRuntimeError, err
	}
	o.report(res)

	if diff != "" {
		fmt.Fprintf(o.stderr, "replay diverged:\n%s", diff)
		return exitRuntimeError, nil
	}
	return exitCode(res), nil
}

// runFirmware runs without assertions. Only failed steps and unusable
// inputs give a non-zero exit code.
func runFirmware(ctx context.Context, o *options) (int, error) {
	limits := o.applyLimits(config.Limits{MaxSteps: defaultRunSteps})
	runOpts := []harness.Option{
		harness.WithLimits(limits),
		harness.WithBreakpoints(o.breakpoints...),
	}
	res, snap, diff, err := o.execute(ctx, o.firmware, o.system, runOpts)
	if err != nil {
		return o.configError(limits, err)
	}

	if err := o.writeArtifacts(o.firmware, o.system, res, snap); err != nil {
		return exitRuntimeError, err
	}
	o.report(res)

	switch {
	case diff != "":
		fmt.Fprintf(o.stderr, "replay diverged:\n%s", diff)
		return exitRuntimeError, nil
	case res.StopReason == config.StopMemoryViolation, res.StopReason == config.StopDecodeError:
		return exitRuntimeError, nil
	}
	return exitPass, nil
}

// execute builds the board and runs it, or replays it when asked. A
// replay has no snapshot since its boards are gone when it returns.
func (o *options) execute(ctx context.Context, firmware, sysPath string, runOpts []harness.Option) (*harness.RunResult, *system.Snapshot, string, error) {
	if firmware == "" {
		return nil, nil, "", errors.NotValidf("no firmware given")
	}
	t, err := o.load(firmware, sysPath)
	if err != nil {
		return nil, nil, "", err
	}
	sink, override, err := o.openSink(t.desc)
	if err != nil {
		return nil, nil, "", err
	}
	if sink != nil {
		defer sink.Close()
	}

	if o.replay {
		builds := 0
		rep, err := harness.Replay(ctx, func() (*system.Board, error) {
			builds++
			if builds == 1 {
				return t.build(sink, override)
			}
			return t.build(nil, true)
		}, runOpts...)
		if err != nil {
			return nil, nil, "", errors.Trace(err)
		}
		return rep.First, nil, rep.Diff, nil
	}

	brd, err := t.build(sink, override)
	if err != nil {
		return nil, nil, "", err
	}
	defer brd.Close()

	res, err := harness.NewRunner(brd, runOpts...).Run(ctx)
	if err != nil {
		return nil, nil, "", err
	}
	return res, brd.Snapshot(), "", nil
}

// suiteName names the JUnit suite after the script, or the firmware when
// there is none.
func (o *options) suiteName() string {
	p := o.script
	if p == "" {
		p = o.firmware
	}
	return strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
}

func (o *options) writeArtifacts(firmware, sysPath string, res *harness.RunResult, snap *system.Snapshot) error {
	a := harness.Artifacts{Dir: o.outputDir, Name: o.suiteName(), Firmware: firmware, System: sysPath, Script: o.script}
	if o.outputDir != "" {
		if err := a.Write(res, snap); err != nil {
			return errors.Trace(err)
		}
	}
	if o.junit != "" {
		if err := a.WriteJUnit(o.junit, res); err != nil {
			return errors.Trace(err)
		}
	}
	if o.snapshot != "" && snap != nil {
		if err := snap.WriteFile(o.snapshot); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// configError records inputs that could not be used and returns exit
// code 2.
func (o *options) configError(limits config.Limits, err error) (int, error) {
	glog.V(1).Infof("config error: %+v", err)
	res := harness.ConfigErrorResult(limits, err)
	if werr := o.writeArtifacts(o.firmware, o.system, res, nil); werr != nil {
		glog.Warningf("writing artifacts: %v", werr)
	}
	return exitConfigError, err
}

func (o *options) report(res *harness.RunResult) {
	fmt.Fprintf(o.stderr, "%s: %s after %d steps, %d cycles\n", res.Status, res.StopReason, res.Steps, res.Cycles)
	for _, a := range res.Assertions {
		if !a.Passed {
			fmt.Fprintf(o.stderr, "  failed: %s\n", a.Detail)
		}
	}
	if res.Message != "" {
		fmt.Fprintf(o.stderr, "  %s\n", res.Message)
	}
}

// exitCode maps a result to the process exit code.
func exitCode(res *harness.RunResult) int {
	switch {
	case res.Status == harness.StatusPass:
		return exitPass
	case res.Status == harness.StatusFail:
		return exitAssertFail
	case res.StopReason == config.StopConfigError:
		return exitConfigError
	}
	return exitRuntimeError
}
