package harness_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mcusim/config"
	"github.com/sarchlab/mcusim/emu"
	"github.com/sarchlab/mcusim/harness"
	"github.com/sarchlab/mcusim/system"
)

var _ = Describe("Runner", func() {
	var (
		ctx context.Context
		brd *system.Board
	)

	BeforeEach(func() {
		ctx = context.Background()
		brd = newBoard(blinky...)
	})

	AfterEach(func() {
		brd.Close()
	})

	run := func(limits config.Limits, assertions ...config.Assertion) *harness.RunResult {
		res, err := harness.Run(ctx, brd, limits, assertions)
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	Context("with the GPIO firmware", func() {
		It("should pass when the output appears before max_steps", func() {
			res := run(config.Limits{MaxSteps: 5000},
				config.UARTContains("PB0=1"),
				config.UARTContains("PB0=0"))

			Expect(res.Status).To(Equal(harness.StatusPass))
			Expect(res.StopReason).To(Equal(config.StopMaxSteps))
			Expect(res.Steps).To(Equal(uint64(5000)))
			Expect(string(res.UART)).To(Equal("PB0=1\nPB0=0\n"))
			Expect(res.UARTBytes).To(Equal(12))
			Expect(res.Assertions).To(HaveLen(2))
			Expect(res.Assertions[0].Passed).To(BeTrue())
			Expect(res.Assertions[1].Passed).To(BeTrue())
			Expect(res.StopDetails.Limit.Name).To(Equal("max_steps"))
			Expect(res.StopDetails.Observed.Value).To(Equal(uint64(5000)))
		})

		It("should stop as soon as the output holds with stop_on_success", func() {
			res := run(config.Limits{MaxSteps: 5000, StopOnSuccess: true},
				config.UARTContains("PB0=1"),
				config.UARTRegex(`PB0=0`))

			Expect(res.Status).To(Equal(harness.StatusPass))
			Expect(res.StopReason).To(Equal(config.StopAssertionSuccess))
			Expect(res.Steps).To(Equal(uint64(blinkyDoneStep)))
			Expect(string(res.UART)).To(Equal("PB0=1\nPB0=0"))
		})

		It("should let a limit win over success on the same step", func() {
			first := run(config.Limits{MaxSteps: 5000, StopOnSuccess: true},
				config.UARTContains("PB0=0"))
			Expect(first.StopReason).To(Equal(config.StopAssertionSuccess))

			again := newBoard(blinky...)
			defer again.Close()
			res, err := harness.Run(ctx, again,
				config.Limits{MaxSteps: first.Steps, StopOnSuccess: true},
				[]config.Assertion{config.UARTContains("PB0=0")})
			Expect(err).NotTo(HaveOccurred())

			Expect(res.StopReason).To(Equal(config.StopMaxSteps))
			Expect(res.Steps).To(Equal(first.Steps))
			Expect(res.Status).To(Equal(harness.StatusPass))
		})

		It("should report assertion_failed when a limit is hit with output missing", func() {
			res := run(config.Limits{MaxSteps: 100}, config.UARTContains("PB0=2"))

			Expect(res.StopReason).To(Equal(config.StopAssertionFailed))
			Expect(res.Status).To(Equal(harness.StatusFail))
			Expect(res.Steps).To(Equal(uint64(100)))
			Expect(res.Assertions[0].Passed).To(BeFalse())
		})

		It("should stop on no_progress once the PC stays put", func() {
			res := run(config.Limits{MaxSteps: 5000, NoProgressSteps: 10})

			Expect(res.StopReason).To(Equal(config.StopNoProgress))
			Expect(res.Status).To(Equal(harness.StatusFail))
			Expect(res.Steps).To(BeNumerically("<", 5000))
			Expect(res.StopDetails.Observed.Value).To(Equal(uint64(10)))
		})

		It("should accept no_progress when it is the expected stop", func() {
			res := run(config.Limits{MaxSteps: 5000, NoProgressSteps: 10},
				config.UARTContains("PB0=0"),
				config.ExpectStop(config.StopNoProgress))

			Expect(res.StopReason).To(Equal(config.StopNoProgress))
			Expect(res.Status).To(Equal(harness.StatusPass))
		})

		It("should fail when a different stop was expected", func() {
			res := run(config.Limits{MaxSteps: 50}, config.ExpectStop(config.StopNoProgress))

			Expect(res.StopReason).To(Equal(config.StopMaxSteps))
			Expect(res.Status).To(Equal(harness.StatusFail))
			Expect(res.Assertions[0].Detail).To(ContainSubstring("max_steps"))
		})

		It("should stop on max_cycles", func() {
			res := run(config.Limits{MaxSteps: 5000, MaxCycles: 30})

			Expect(res.StopReason).To(Equal(config.StopMaxCycles))
			Expect(res.Cycles).To(BeNumerically(">=", 30))
			Expect(res.Steps).To(BeNumerically("<=", 30))
			Expect(res.Status).To(Equal(harness.StatusPass))
		})

		It("should stop on max_uart_bytes", func() {
			res := run(config.Limits{MaxSteps: 5000, MaxUARTBytes: 3})

			Expect(res.StopReason).To(Equal(config.StopMaxUARTBytes))
			Expect(string(res.UART)).To(Equal("PB0"))
			Expect(res.Status).To(Equal(harness.StatusFail))
		})

		It("should count run-relative steps on a board that already ran", func() {
			run(config.Limits{MaxSteps: 10})
			res := run(config.Limits{MaxSteps: 10})

			Expect(res.Steps).To(Equal(uint64(10)))
			Expect(brd.Steps()).To(Equal(uint64(20)))
		})
	})

	Context("with a slow clock", func() {
		It("should measure wall_time in simulated time", func() {
			desc := config.DefaultCortexM()
			desc.ClockHz = 1000
			slow := newBoardWith(desc, blinky...)
			defer slow.Close()

			res, err := harness.Run(ctx, slow, config.Limits{MaxSteps: 5000, WallTimeMS: 10}, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(res.StopReason).To(Equal(config.StopWallTime))
			Expect(res.Cycles).To(BeNumerically(">=", 10))
			Expect(res.ElapsedNS).To(BeNumerically(">=", int64(10e6)))
			Expect(res.Status).To(Equal(harness.StatusFail))
		})
	})

	Context("with state assertions", func() {
		It("should check memory, registers and Lua expressions at the stop", func() {
			mask := uint32(1)
			res := run(config.Limits{MaxSteps: 100},
				config.Assertion{MemoryValue: &config.MemoryValue{
					Address: 0x40010C0C, ExpectedValue: 0, Mask: &mask,
				}},
				config.Assertion{RegisterValue: &config.RegisterValue{
					Reg: "r1", ExpectedValue: 0x40013800,
				}},
				config.Assertion{RegisterValue: &config.RegisterValue{
					Reg: "0", ExpectedValue: 0x40010C00,
				}},
				config.Lua(`reg("r1") == 0x40013800 and string.find(uart(), "PB0=1", 1, true) ~= nil and steps() == 100`),
				config.Lua(`mem32(0x08000000) == 0x20005000`))

			Expect(res.Status).To(Equal(harness.StatusPass))
			for _, a := range res.Assertions {
				Expect(a.Passed).To(BeTrue(), a.Detail)
			}
		})

		It("should fail a mismatched register and explain it", func() {
			res := run(config.Limits{MaxSteps: 100},
				config.Assertion{RegisterValue: &config.RegisterValue{Reg: "r1", ExpectedValue: 1}})

			Expect(res.Status).To(Equal(harness.StatusFail))
			Expect(res.Assertions[0].Passed).To(BeFalse())
			Expect(res.Assertions[0].Detail).To(ContainSubstring("0x40013800"))
		})

		It("should fail a Lua expression that evaluates false", func() {
			res := run(config.Limits{MaxSteps: 10}, config.Lua(`cycles() == 0`))

			Expect(res.Status).To(Equal(harness.StatusFail))
		})
	})

	Context("with invalid input", func() {
		It("should reject an unbounded run", func() {
			_, err := harness.Run(ctx, brd, config.Limits{}, nil)
			Expect(err).To(HaveOccurred())
		})

		It("should reject a bad regex before stepping", func() {
			_, err := harness.Run(ctx, brd, config.Limits{MaxSteps: 10},
				[]config.Assertion{config.UARTRegex("(")})
			Expect(err).To(HaveOccurred())
			Expect(brd.Steps()).To(BeZero())
		})

		It("should reject an unknown register", func() {
			_, err := harness.Run(ctx, brd, config.Limits{MaxSteps: 10},
				[]config.Assertion{{RegisterValue: &config.RegisterValue{Reg: "r42"}}})
			Expect(err).To(HaveOccurred())
		})

		It("should reject invalid Lua", func() {
			_, err := harness.Run(ctx, brd, config.Limits{MaxSteps: 10},
				[]config.Assertion{config.Lua("reg(")})
			Expect(err).To(HaveOccurred())
		})

		It("should reject an empty assertion", func() {
			_, err := harness.Run(ctx, brd, config.Limits{MaxSteps: 10},
				[]config.Assertion{{}})
			Expect(err).To(HaveOccurred())
		})
	})

	Context("with fatal steps", func() {
		It("should stop with decode_error on an undefined instruction", func() {
			bad := newBoard(0x2001, 0xDE00)
			defer bad.Close()

			res, err := harness.Run(ctx, bad, config.Limits{MaxSteps: 100}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.StopReason).To(Equal(config.StopDecodeError))
			Expect(res.Status).To(Equal(harness.StatusError))
			Expect(res.Steps).To(Equal(uint64(2)))
			Expect(res.Message).NotTo(BeEmpty())
		})

		It("should pass a decode_error that was expected", func() {
			bad := newBoard(0xDE00)
			defer bad.Close()

			res, err := harness.Run(ctx, bad, config.Limits{MaxSteps: 100},
				[]config.Assertion{config.ExpectStop(config.StopDecodeError)})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(harness.StatusPass))
		})

		It("should stop with memory_violation on an unmapped load", func() {
			bad := newBoard(
				0x2001, // movs r0, #1
				0x0700, // lsls r0, r0, #28
				0x6801, // ldr r1, [r0]
				0xE7FE)
			defer bad.Close()

			res, err := harness.Run(ctx, bad, config.Limits{MaxSteps: 100}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.StopReason).To(Equal(config.StopMemoryViolation))
			Expect(res.Steps).To(Equal(uint64(3)))
			Expect(res.Status).To(Equal(harness.StatusError))
		})

		It("should stop with halt on BKPT", func() {
			bad := newBoard(0x2001, 0xBE00, 0xE7FE)
			defer bad.Close()

			res, err := harness.Run(ctx, bad, config.Limits{MaxSteps: 100}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.StopReason).To(Equal(config.StopHalt))
			Expect(res.Steps).To(Equal(uint64(2)))
			Expect(res.Status).To(Equal(harness.StatusError))
		})
	})

	It("should stop with cancelled when the context is done", func() {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		res, err := harness.Run(cctx, brd, config.Limits{MaxSteps: 100}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.StopReason).To(Equal(config.StopCancelled))
		Expect(res.Steps).To(BeZero())
		Expect(res.Status).To(Equal(harness.StatusError))
	})

	It("should halt at a breakpoint before executing it", func() {
		steps := 0
		r := harness.NewRunner(brd,
			harness.WithLimits(config.Limits{MaxSteps: 100}),
			harness.WithBreakpoints(flashBase+0x10),
			harness.WithStepHook(func(emu.StepResult) { steps++ }))

		res, err := r.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.StopReason).To(Equal(config.StopHalt))
		Expect(res.Message).To(Equal("breakpoint"))
		Expect(res.Steps).To(Equal(uint64(2)))
		Expect(steps).To(Equal(2))
		Expect(brd.Core().PC()).To(Equal(uint32(flashBase + 0x10)))
	})

	It("should carry the firmware digest and a CPU snapshot", func() {
		res := run(config.Limits{MaxSteps: 10})

		Expect(res.FirmwareSHA256).To(HaveLen(64))
		Expect(res.CPU.PC).To(Equal(brd.Core().PC()))
		Expect(res.MemoryChecksum).To(Equal(brd.Bus().Checksum()))
	})
})

var _ = Describe("ConfigErrorResult", func() {
	It("should describe a run that never started", func() {
		res := harness.ConfigErrorResult(config.Limits{MaxSteps: 7}, errMissing)

		Expect(res.Status).To(Equal(harness.StatusError))
		Expect(res.StopReason).To(Equal(config.StopConfigError))
		Expect(res.Message).To(ContainSubstring("missing"))
		Expect(res.Limits.MaxSteps).To(Equal(uint64(7)))
	})
})
