package harness_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mcusim/config"
	"github.com/sarchlab/mcusim/harness"
	"github.com/sarchlab/mcusim/system"
)

var _ = Describe("Replay", func() {
	opts := []harness.Option{
		harness.WithLimits(config.Limits{MaxSteps: 500}),
		harness.WithAssertions(config.UARTContains("PB0=0")),
	}

	It("should find two runs of the same inputs identical", func() {
		build := func() (*system.Board, error) {
			return newBoard(blinky...), nil
		}

		rep, err := harness.Replay(context.Background(), build, opts...)
		Expect(err).NotTo(HaveOccurred())
		Expect(rep.Identical).To(BeTrue())
		Expect(rep.Diff).To(BeEmpty())
		Expect(rep.First.Cycles).To(Equal(rep.Second.Cycles))
		Expect(rep.First.UART).To(Equal(rep.Second.UART))
	})

	It("should show where two runs diverge", func() {
		n := 0
		build := func() (*system.Board, error) {
			n++
			if n == 1 {
				return newBoard(blinky...), nil
			}
			return newBoard(0x2001, 0xE7FE), nil
		}

		rep, err := harness.Replay(context.Background(), build, opts...)
		Expect(err).NotTo(HaveOccurred())
		Expect(rep.Identical).To(BeFalse())
		Expect(rep.Diff).To(ContainSubstring(`- `))
		Expect(rep.Diff).To(ContainSubstring(`+ `))
		Expect(rep.Diff).To(ContainSubstring("PB0=1"))
	})

	It("should return a build failure", func() {
		build := func() (*system.Board, error) {
			return nil, errMissing
		}

		_, err := harness.Replay(context.Background(), build, opts...)
		Expect(err).To(MatchError(ContainSubstring("firmware missing")))
	})
})
