package main

import (
	goflag "flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"
)

var (
	firmwareFlag   = flag.StringP("firmware", "f", "", "Firmware image: ELF, Intel HEX or raw binary")
	systemFlag     = flag.StringP("system", "s", "", "System descriptor (YAML). Defaults to the built-in board for the firmware architecture")
	scriptFlag     = flag.StringP("script", "c", "", "Test script (YAML)")
	formatFlag     = flag.String("format", "", "Firmware format: elf, hex or bin. Detected when empty")
	timingFlag     = flag.String("timing", "", "Timing config (JSON), overriding the descriptor's")
	maxSteps       = flag.Uint64("max-steps", 0, "Maximum number of steps; overrides the script (run defaults to 20000)")
	maxCycles      = flag.Uint64("max-cycles", 0, "Maximum number of cycles; overrides the script")
	maxUARTBytes   = flag.Uint64("max-uart-bytes", 0, "Maximum UART bytes; overrides the script")
	noProgress     = flag.Uint64("no-progress", 0, "Stop after this many steps without a PC change; overrides the script")
	breakpointFlag = flag.StringSlice("breakpoint", nil, "Stop when the PC reaches this address (repeatable)")
	uartSinkFlag   = flag.String("uart-sink", "", "Mirror UART output: stdout, serial:<port>@<baud>, mqtt://host:port/topic or ws:host:port")
	noUARTStdout   = flag.Bool("no-uart-stdout", false, "Do not echo UART output to stdout (it is still captured)")
	snapshotFlag   = flag.String("snapshot", "", "Write a machine snapshot (JSON) after the run")
	outputDir      = flag.String("output-dir", "", "Write result.json, uart.log, junit.xml and snapshot.json here")
	junitFlag      = flag.String("junit", "", "Write a JUnit XML report to this path")
	replayFlag     = flag.Bool("replay", false, "Run twice and report any difference between the runs")
	gdbAddr        = flag.String("gdb-addr", "127.0.0.1:3333", "GDB server listen address")
	helpFull       = flag.Bool("helpfull", false, "Show all flags, including logging")

	hiddenFlags = []string{
		"alsologtostderr",
		"log_backtrace_at",
		"log_dir",
		"logtostderr",
		"stderrthreshold",
		"v",
		"vmodule",
	}
)

func initFlags() {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.CommandLine.SetNormalizeFunc(func(f *flag.FlagSet, name string) flag.NormalizedName {
		if name == "detect-stuck" {
			name = "no-progress"
		}
		return flag.NormalizedName(name)
	})
	hideFlags()
	flag.Usage = usage
}

func hideFlags() {
	for _, f := range hiddenFlags {
		flag.CommandLine.MarkHidden(f)
	}
}

func unhideFlags() {
	for _, name := range hiddenFlags {
		if f := flag.Lookup(name); f != nil {
			f.Hidden = false
		}
	}
}

func checkFlags(fs []string) error {
	var missing []string
	for _, req := range fs {
		f := flag.Lookup(req)
		if f == nil || !f.Changed {
			missing = append(missing, "--"+req)
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("%s is required", strings.Join(missing, ", "))
	}
	return nil
}

func printFlag(w io.Writer, opt string, name string) {
	f := flag.Lookup(name)
	if f == nil {
		return
	}
	short := ""
	if f.Shorthand != "" {
		short = "-" + f.Shorthand + ", "
	}
	fmt.Fprintf(w, "  %s--%s\t%s. %s\n", short, f.Name, opt, f.Usage)
}

func usage() {
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 1, ' ', 0)

	if len(os.Args) == 3 && os.Args[1] == "help" {
		for _, c := range commands {
			if c.name == os.Args[2] {
				fmt.Fprintf(w, "%s %s FLAGS\n", os.Args[0], os.Args[2])
				fmt.Fprintf(w, "\nFlags:\n")
				for _, name := range c.required {
					printFlag(w, "Required", name)
				}
				for _, name := range c.optional {
					printFlag(w, "Optional", name)
				}
				w.Flush()
				return
			}
		}
	}

	fmt.Fprintf(w, "The microcontroller simulator.\n")
	fmt.Fprintf(w, "\nUsage:\n")
	fmt.Fprintf(w, "  %s <command> [flags]\n", os.Args[0])
	fmt.Fprintf(w, "\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %s\t\t%s\n", c.name, c.short)
	}
	fmt.Fprintf(w, "\nUse \"%s help <command>\" for the flags of a command.\n", os.Args[0])
	fmt.Fprintf(w, "\nGlobal Flags:\n")
	flag.CommandLine.SetOutput(w)
	flag.PrintDefaults()
	w.Flush()
}

// parseAddrs parses hex breakpoint addresses, with or without 0x.
func parseAddrs(ss []string) ([]uint32, error) {
	out := make([]uint32, 0, len(ss))
	for _, s := range ss {
		h := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
		v, err := strconv.ParseUint(h, 16, 32)
		if err != nil {
			return nil, errors.NotValidf("breakpoint address %q", s)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}
