// Command mcusim runs microcontroller firmware on a simulated board: freely
// (run), under a test script that produces a verdict (test), or attached
// to a GDB client (gdb).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"
)

// Process exit codes.
const (
	exitPass         = 0
	exitAssertFail   = 1
	exitConfigError  = 2
	exitRuntimeError = 3
)

type handler func(ctx context.Context) (int, error)

type command struct {
	name     string
	handler  handler
	short    string
	required []string
	optional []string
}

var commands []command

func init() {
	commands = []command{
		{"run", runCmd, `Run firmware until a limit, breakpoint or fault`, []string{"firmware"},
			[]string{"system", "format", "timing", "max-steps", "max-cycles", "max-uart-bytes", "no-progress", "breakpoint", "uart-sink", "no-uart-stdout", "snapshot", "output-dir"}},
		{"test", testCmd, `Run a test script and report pass, fail or error`, []string{"script"},
			[]string{"firmware", "system", "format", "timing", "max-steps", "max-cycles", "max-uart-bytes", "no-progress", "breakpoint", "uart-sink", "no-uart-stdout", "output-dir", "junit", "replay"}},
		{"gdb", gdbCmd, `Serve the board to a GDB client`, []string{"firmware"},
			[]string{"system", "format", "timing", "gdb-addr", "uart-sink", "no-uart-stdout"}},
	}
}

func run(ctx context.Context) (int, error) {
	if flag.Arg(0) == "help" {
		usage()
		return exitPass, nil
	}
	for _, c := range commands {
		if c.name == flag.Arg(0) {
			if err := checkFlags(c.required); err != nil {
				return exitConfigError, errors.Trace(err)
			}
			return c.handler(ctx)
		}
	}
	usage()
	return exitConfigError, nil
}

func main() {
	initFlags()
	flag.Parse()

	if *helpFull {
		unhideFlags()
		usage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code, err := run(ctx)
	stop()
	glog.Flush()

	if err != nil {
		glog.Infof("Error: %+v", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	os.Exit(code)
}
