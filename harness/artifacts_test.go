package harness_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mcusim/config"
	"github.com/sarchlab/mcusim/harness"
)

var _ = Describe("Artifacts", func() {
	var (
		dir string
		art harness.Artifacts
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		art = harness.Artifacts{
			Dir:      filepath.Join(dir, "out"),
			Name:     "blinky",
			Firmware: "blinky.bin",
			Script:   "blinky.yaml",
		}
	})

	runBlinky := func(limits config.Limits, assertions ...config.Assertion) *harness.RunResult {
		brd := newBoard(blinky...)
		defer brd.Close()
		res, err := harness.Run(context.Background(), brd, limits, assertions)
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	It("should write the result, uart log, report and snapshot", func() {
		brd := newBoard(blinky...)
		defer brd.Close()
		res, err := harness.Run(context.Background(), brd,
			config.Limits{MaxSteps: 200}, []config.Assertion{config.UARTContains("PB0=1")})
		Expect(err).NotTo(HaveOccurred())

		Expect(art.Write(res, brd.Snapshot())).To(Succeed())

		for _, name := range []string{harness.ResultFile, harness.UARTLogFile, harness.JUnitFile, harness.SnapshotFile} {
			Expect(filepath.Join(art.Dir, name)).To(BeAnExistingFile())
		}

		uart, err := os.ReadFile(filepath.Join(art.Dir, harness.UARTLogFile))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(uart)).To(Equal("PB0=1\nPB0=0\n"))

		data, err := os.ReadFile(filepath.Join(art.Dir, harness.ResultFile))
		Expect(err).NotTo(HaveOccurred())
		var doc map[string]interface{}
		Expect(json.Unmarshal(data, &doc)).To(Succeed())
		Expect(doc).To(HaveKeyWithValue("result_schema_version", "1.0"))
		Expect(doc).To(HaveKeyWithValue("status", "pass"))
		Expect(doc).To(HaveKeyWithValue("stop_reason", "max_steps"))
		Expect(doc).To(HaveKeyWithValue("steps_executed", BeNumerically("==", 200)))
		Expect(doc).To(HaveKey("stop_reason_details"))
		Expect(doc).To(HaveKey("firmware_hash"))
		Expect(doc).NotTo(HaveKey("UART"))
	})

	It("should skip the snapshot when none is given", func() {
		res := runBlinky(config.Limits{MaxSteps: 10})
		Expect(art.Write(res, nil)).To(Succeed())
		Expect(filepath.Join(art.Dir, harness.SnapshotFile)).NotTo(BeAnExistingFile())
	})

	It("should report one run case and one case per assertion", func() {
		res := runBlinky(config.Limits{MaxSteps: 100},
			config.UARTContains("PB0=1"),
			config.UARTContains("PB0=2"))

		out, err := art.JUnit(res)
		Expect(err).NotTo(HaveOccurred())
		report := string(out)

		Expect(report).To(HavePrefix("<?xml"))
		Expect(report).To(ContainSubstring(`<testsuite name="blinky" tests="3" failures="1" errors="0"`))
		Expect(report).To(ContainSubstring(`name="run"`))
		Expect(report).To(ContainSubstring(`name="assertion 1: uart_contains"`))
		Expect(report).To(ContainSubstring(`name="assertion 2: uart_contains"`))
		Expect(report).To(ContainSubstring("stop_reason=assertion_failed"))
		Expect(report).To(ContainSubstring("script=blinky.yaml"))
	})

	It("should fail the run case on a stop that needed an expectation", func() {
		res := runBlinky(config.Limits{MaxSteps: 5000, NoProgressSteps: 5})

		out, err := art.JUnit(res)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(out)).To(ContainSubstring(`failures="1"`))
		Expect(string(out)).To(ContainSubstring("requires expected_stop_reason"))
	})

	It("should report a config error as an error case", func() {
		res := harness.ConfigErrorResult(config.Limits{MaxSteps: 1}, errMissing)

		out, err := art.JUnit(res)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(out)).To(ContainSubstring(`errors="1"`))
		Expect(string(out)).To(ContainSubstring(`message="config error"`))
	})

	It("should write a config error result without a board", func() {
		Expect(os.MkdirAll(art.Dir, 0755)).To(Succeed())
		path := filepath.Join(art.Dir, harness.ResultFile)
		res := harness.ConfigErrorResult(config.Limits{MaxSteps: 1}, errMissing)

		Expect(harness.WriteResult(path, res)).To(Succeed())
		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"stop_reason": "config_error"`))
	})
})
