package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/sarchlab/mcusim/system"
)

// Builder creates a fresh board. Replay calls it once per run.
type Builder func() (*system.Board, error)

// ReplayReport compares two runs of the same inputs.
type ReplayReport struct {
	First, Second *RunResult
	Identical     bool
	// Diff is a line diff of the two results, empty when identical.
	Diff string
}

// Replay runs the same inputs twice on fresh boards and reports any
// difference in the results or the captured UART output.
func Replay(ctx context.Context, build Builder, opts ...Option) (*ReplayReport, error) {
	var runs [2]*RunResult
	for i := range runs {
		brd, err := build()
		if err != nil {
			return nil, errors.Annotatef(err, "building run %d", i+1)
		}
		res, err := NewRunner(brd, opts...).Run(ctx)
		brd.Close()
		if err != nil {
			return nil, errors.Annotatef(err, "run %d", i+1)
		}
		runs[i] = res
	}

	a, err := canonical(runs[0])
	if err != nil {
		return nil, err
	}
	b, err := canonical(runs[1])
	if err != nil {
		return nil, err
	}

	rep := &ReplayReport{First: runs[0], Second: runs[1], Identical: a == b}
	if !rep.Identical {
		rep.Diff = lineDiff(a, b)
		glog.Warningf("replay diverged:\n%s", rep.Diff)
	}
	return rep, nil
}

// canonical renders a result with its UART output for comparison.
func canonical(res *RunResult) (string, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", errors.Trace(err)
	}
	var sb strings.Builder
	sb.Write(data)
	sb.WriteString("\n--- uart ---\n")
	sb.Write(bytes.ToValidUTF8(res.UART, []byte("?")))
	sb.WriteString("\n")
	return sb.String(), nil
}

func lineDiff(a, b string) string {
	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffEqual:
			continue
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line != "" {
				sb.WriteString(prefix + line)
			}
		}
	}
	return sb.String()
}
