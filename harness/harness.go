// Package harness drives a board to a stop condition and turns the run
// into a verdict.
package harness

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/bus"
	"github.com/sarchlab/mcusim/config"
	"github.com/sarchlab/mcusim/emu"
	"github.com/sarchlab/mcusim/system"
)

// StepHook observes every step of a run.
type StepHook func(res emu.StepResult)

// Runner runs a board under limits and assertions.
type Runner struct {
	brd         *system.Board
	limits      config.Limits
	assertions  []config.Assertion
	breakpoints map[uint32]bool
	hooks       []StepHook
}

// Option is a functional option for configuring the Runner.
type Option func(*Runner)

// WithLimits sets the stop limits.
func WithLimits(l config.Limits) Option {
	return func(r *Runner) {
		r.limits = l
	}
}

// WithAssertions sets the assertions checked during and after the run.
func WithAssertions(a ...config.Assertion) Option {
	return func(r *Runner) {
		r.assertions = append(r.assertions, a...)
	}
}

// WithBreakpoints stops the run with StopHalt when the PC reaches any of
// addrs.
func WithBreakpoints(addrs ...uint32) Option {
	return func(r *Runner) {
		for _, a := range addrs {
			r.breakpoints[a] = true
		}
	}
}

// WithStepHook calls h after every step.
func WithStepHook(h StepHook) Option {
	return func(r *Runner) {
		r.hooks = append(r.hooks, h)
	}
}

// NewRunner creates a Runner for brd.
func NewRunner(brd *system.Board, opts ...Option) *Runner {
	r := &Runner{brd: brd, breakpoints: map[uint32]bool{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run runs brd under limits and assertions. It is NewRunner followed by
// Runner.Run.
func Run(ctx context.Context, brd *system.Board, limits config.Limits, assertions []config.Assertion) (*RunResult, error) {
	return NewRunner(brd, WithLimits(limits), WithAssertions(assertions...)).Run(ctx)
}

// runState counts what the stop conditions look at. Counts start at the
// beginning of the run, not at machine construction.
type runState struct {
	steps, cycles, instructions uint64
	startCycles                 uint64
	lastPC                      uint32
	stuck                       uint64
}

// Run steps the board until a stop condition holds. Stop conditions are
// checked at every step boundary in this order, and the first that holds
// wins:
//
//	assertion_failed   a limit below is reached with an output assertion unmet
//	max_steps
//	max_cycles
//	wall_time          simulated time, cycles / clock
//	max_uart_bytes
//	no_progress        PC unchanged for no_progress_steps steps
//	assertion_success  every output assertion holds and stop_on_success is set
//
// A failing step stops the run at once with memory_violation,
// decode_error or halt, and a cancelled ctx stops it with cancelled. The
// returned result is complete in every one of these cases; an error is
// returned only when the run could not start.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	if err := r.limits.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	chk, err := newChecker(r.brd, r.assertions)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer chk.close()

	st := &runState{startCycles: r.brd.Cycles(), lastPC: r.brd.Core().PC()}
	var (
		reason  config.StopReason
		message string
	)

	for reason == "" {
		if ctx.Err() != nil {
			reason = config.StopCancelled
			message = ctx.Err().Error()
			break
		}
		if r.breakpoints[r.brd.Core().PC()] {
			reason = config.StopHalt
			message = "breakpoint"
			break
		}

		res := r.brd.Step()
		st.steps++
		st.cycles = r.brd.Cycles() - st.startCycles
		if res.Executed {
			st.instructions++
		}
		for _, h := range r.hooks {
			h(res)
		}

		if res.Err != nil {
			reason = classify(res.Err)
			message = res.Err.Error()
			glog.Errorf("simulation error at step %d: %v", st.steps, res.Err)
			break
		}
		if res.Halted {
			reason = config.StopHalt
			message = "breakpoint instruction"
			break
		}

		pc := r.brd.Core().PC()
		if pc == st.lastPC {
			st.stuck++
		} else {
			st.stuck = 0
			st.lastPC = pc
		}

		reason = r.checkStop(st, chk)
	}

	chk.steps, chk.cycles = st.steps, st.cycles
	uart := r.brd.UARTOutput()
	result := &RunResult{
		SchemaVersion:  ResultSchemaVersion,
		StopReason:     reason,
		StopDetails:    r.details(reason, st),
		Message:        message,
		Steps:          st.steps,
		Cycles:         st.cycles,
		Instructions:   st.instructions,
		ElapsedNS:      int64(simulatedTime(st.cycles, r.brd.ClockHz())),
		UART:           append([]byte(nil), uart...),
		UARTBytes:      len(uart),
		CPU:            r.brd.Core().Snapshot(),
		MemoryChecksum: r.brd.Bus().Checksum(),
		Limits:         r.limits,
		Assertions:     chk.evaluate(reason, uart),
	}
	if r.brd.Program != nil {
		result.FirmwareSHA256 = r.brd.Program.Digest
	}
	result.Status = verdict(result)

	glog.Infof("run stopped: %s after %d steps, %d cycles (%s)", reason, st.steps, st.cycles, result.Status)
	return result, nil
}

// checkStop applies the limit precedence after a successful step.
func (r *Runner) checkStop(st *runState, chk *checker) config.StopReason {
	l := r.limits
	limit := config.StopReason("")
	switch {
	case st.steps >= l.MaxSteps:
		limit = config.StopMaxSteps
	case l.MaxCycles != 0 && st.cycles >= l.MaxCycles:
		limit = config.StopMaxCycles
	case l.WallTimeMS != 0 && simulatedTime(st.cycles, r.brd.ClockHz()) >= time.Duration(l.WallTimeMS)*time.Millisecond:
		limit = config.StopWallTime
	case l.MaxUARTBytes != 0 && uint64(r.brd.UARTBytes()) >= l.MaxUARTBytes:
		limit = config.StopMaxUARTBytes
	case l.NoProgressSteps != 0 && st.stuck >= l.NoProgressSteps:
		limit = config.StopNoProgress
	}

	met := chk.outputsMet(r.brd.UARTOutput())
	if limit != "" {
		if chk.hasOutput && !met {
			return config.StopAssertionFailed
		}
		return limit
	}
	if l.StopOnSuccess && met {
		return config.StopAssertionSuccess
	}
	return ""
}

func (r *Runner) details(reason config.StopReason, st *runState) StopDetails {
	d := StopDetails{Triggered: reason}
	l := r.limits
	switch reason {
	case config.StopMaxSteps:
		d.Limit = &NamedValue{"max_steps", l.MaxSteps}
		d.Observed = &NamedValue{"steps_executed", st.steps}
	case config.StopMaxCycles:
		d.Limit = &NamedValue{"max_cycles", l.MaxCycles}
		d.Observed = &NamedValue{"cycles", st.cycles}
	case config.StopWallTime:
		d.Limit = &NamedValue{"wall_time_ms", l.WallTimeMS}
		d.Observed = &NamedValue{"simulated_time_ms", uint64(simulatedTime(st.cycles, r.brd.ClockHz()) / time.Millisecond)}
	case config.StopMaxUARTBytes:
		d.Limit = &NamedValue{"max_uart_bytes", l.MaxUARTBytes}
		d.Observed = &NamedValue{"uart_bytes", uint64(r.brd.UARTBytes())}
	case config.StopNoProgress:
		d.Limit = &NamedValue{"no_progress_steps", l.NoProgressSteps}
		d.Observed = &NamedValue{"stuck_steps", st.stuck}
	}
	return d
}

// classify maps a fatal step error to its stop reason.
func classify(err error) config.StopReason {
	cause := errors.Cause(err)
	if lockup, ok := cause.(*emu.LockupError); ok {
		cause = errors.Cause(lockup.Cause)
	}
	if _, ok := cause.(*emu.DecodeFault); ok {
		return config.StopDecodeError
	}
	if _, ok := bus.IsFault(cause); !ok {
		glog.V(1).Infof("reporting %v as a memory violation", err)
	}
	return config.StopMemoryViolation
}

// verdict applies the status rules: failed assertions fail the run, as do
// stops that need an expected_stop_reason to be acceptable; fatal stops
// are errors unless expected.
func verdict(r *RunResult) Status {
	allPassed := true
	expected := false
	for _, a := range r.Assertions {
		if !a.Passed {
			allPassed = false
		}
		if a.Assertion.Kind() == config.AssertExpectedStopReason && a.Passed {
			expected = true
		}
	}

	switch {
	case !allPassed:
		return StatusFail
	case needsExpectation(r.StopReason) && !expected:
		return StatusFail
	case (r.StopReason.Fatal() || r.StopReason == config.StopCancelled) && !expected:
		return StatusError
	}
	return StatusPass
}

func needsExpectation(r config.StopReason) bool {
	switch r {
	case config.StopAssertionFailed, config.StopWallTime, config.StopMaxUARTBytes, config.StopNoProgress:
		return true
	}
	return false
}

func simulatedTime(cycles, hz uint64) time.Duration {
	if hz == 0 {
		hz = emu.DefaultClockHz
	}
	secs := cycles / hz
	rem := cycles % hz
	return time.Duration(secs)*time.Second + time.Duration(rem*uint64(time.Second)/hz)
}
