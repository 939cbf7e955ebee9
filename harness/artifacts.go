package harness

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/config"
	"github.com/sarchlab/mcusim/system"
)

// Artifact file names.
const (
	ResultFile   = "result.json"
	UARTLogFile  = "uart.log"
	JUnitFile    = "junit.xml"
	SnapshotFile = "snapshot.json"
)

// Artifacts writes run outputs into a directory.
type Artifacts struct {
	Dir string
	// Name is the JUnit test suite name.
	Name string
	// Inputs are echoed in the JUnit failure details.
	Firmware, System, Script string
}

// Write writes result.json, uart.log and junit.xml, and snapshot.json
// when snap is not nil.
func (a Artifacts) Write(res *RunResult, snap *system.Snapshot) error {
	if err := os.MkdirAll(a.Dir, 0755); err != nil {
		return errors.Annotatef(err, "creating output directory")
	}
	if err := WriteResult(filepath.Join(a.Dir, ResultFile), res); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(a.Dir, UARTLogFile), res.UART, 0644); err != nil {
		return errors.Annotatef(err, "writing uart log")
	}
	if err := a.WriteJUnit(filepath.Join(a.Dir, JUnitFile), res); err != nil {
		return err
	}
	if snap != nil {
		if err := snap.WriteFile(filepath.Join(a.Dir, SnapshotFile)); err != nil {
			return errors.Trace(err)
		}
	}
	glog.V(1).Infof("wrote artifacts to %s", a.Dir)
	return nil
}

// WriteResult writes res as indented JSON.
func WriteResult(path string, res *RunResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(os.WriteFile(path, append(data, '\n'), 0644), "writing result")
}

type junitSuites struct {
	XMLName xml.Name     `xml:"testsuites"`
	Suites  []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Errors   int         `xml:"errors,attr"`
	Time     string      `xml:"time,attr"`
	Cases    []junitCase `xml:"testcase"`
}

type junitCase struct {
	Classname string        `xml:"classname,attr"`
	Name      string        `xml:"name,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitProblem `xml:"failure,omitempty"`
	Error     *junitProblem `xml:"error,omitempty"`
}

type junitProblem struct {
	Message string `xml:"message,attr"`
	Body    string `xml:",chardata"`
}

// WriteJUnit writes a JUnit report: one "run" case for the stop condition
// and one case per assertion.
func (a Artifacts) WriteJUnit(path string, res *RunResult) error {
	data, err := a.JUnit(res)
	if err != nil {
		return err
	}
	return errors.Annotatef(os.WriteFile(path, data, 0644), "writing junit report")
}

// JUnit renders the JUnit report.
func (a Artifacts) JUnit(res *RunResult) ([]byte, error) {
	name := a.Name
	if name == "" {
		name = "mcusim"
	}
	details := a.details(res)
	elapsed := fmt.Sprintf("%.6f", (time.Duration(res.ElapsedNS)).Seconds())

	suite := junitSuite{Name: name, Time: elapsed}
	run := junitCase{Classname: name, Name: "run", Time: elapsed}
	anyFailed := false
	for _, r := range res.Assertions {
		if !r.Passed {
			anyFailed = true
		}
	}
	switch {
	case res.Status == StatusError:
		kind := "runtime error"
		if res.StopReason == config.StopConfigError {
			kind = "config error"
		}
		run.Error = &junitProblem{Message: kind, Body: details}
		suite.Errors++
	case res.Status == StatusFail && needsExpectation(res.StopReason) && !anyFailed:
		run.Failure = &junitProblem{Message: "stop condition requires expected_stop_reason assertion", Body: details}
		suite.Failures++
	}
	suite.Cases = append(suite.Cases, run)

	for i, r := range res.Assertions {
		c := junitCase{
			Classname: name,
			Name:      fmt.Sprintf("assertion %d: %s", i+1, r.Assertion.Kind()),
			Time:      "0.000000",
		}
		if !r.Passed {
			c.Failure = &junitProblem{Message: "assertion failed", Body: r.Detail + "\n\n" + details}
			suite.Failures++
		}
		suite.Cases = append(suite.Cases, c)
	}
	suite.Tests = len(suite.Cases)

	out, err := xml.MarshalIndent(junitSuites{Suites: []junitSuite{suite}}, "", "  ")
	if err != nil {
		return nil, errors.Trace(err)
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

func (a Artifacts) details(res *RunResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "result_schema_version=%s\n", res.SchemaVersion)
	fmt.Fprintf(&sb, "stop_reason=%s\n", res.StopReason)
	if res.Message != "" {
		fmt.Fprintf(&sb, "message=%s\n", res.Message)
	}
	if d := res.StopDetails.Limit; d != nil {
		fmt.Fprintf(&sb, "stop_reason_details.triggered_limit.%s=%d\n", d.Name, d.Value)
	}
	if d := res.StopDetails.Observed; d != nil {
		fmt.Fprintf(&sb, "stop_reason_details.observed.%s=%d\n", d.Name, d.Value)
	}
	fmt.Fprintf(&sb, "steps_executed=%d\ncycles=%d\ninstructions=%d\n", res.Steps, res.Cycles, res.Instructions)
	if res.FirmwareSHA256 != "" {
		fmt.Fprintf(&sb, "firmware_hash=%s\n", res.FirmwareSHA256)
	}
	for _, kv := range [][2]string{{"firmware", a.Firmware}, {"system", a.System}, {"script", a.Script}} {
		if kv[1] != "" {
			fmt.Fprintf(&sb, "%s=%s\n", kv[0], kv[1])
		}
	}
	return sb.String()
}
