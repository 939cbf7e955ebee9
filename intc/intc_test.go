package intc_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mcusim/intc"
)

var _ = Describe("Controller", func() {
	var c *intc.Controller

	irq := func(n int) int { return intc.ExternalBase + n }

	BeforeEach(func() {
		c = intc.NewCortexM(8)
	})

	It("should size the line table for the external interrupts", func() {
		Expect(c.NumLines()).To(Equal(intc.ExternalBase + 8))
	})

	It("should start in thread mode with nothing pending", func() {
		Expect(c.ExecutionPriority()).To(Equal(intc.ThreadPriority))
		_, ok := c.HighestPending()
		Expect(ok).To(BeFalse())
	})

	It("should ignore pending external lines until enabled", func() {
		c.Raise(irq(2))
		Expect(c.IsPending(irq(2))).To(BeTrue())
		_, ok := c.HighestPending()
		Expect(ok).To(BeFalse())

		c.Enable(irq(2))
		id, ok := c.HighestPending()
		Expect(ok).To(BeTrue())
		Expect(id).To(Equal(irq(2)))
	})

	It("should prefer the lower priority value", func() {
		c.Enable(irq(0))
		c.Enable(irq(1))
		c.SetPriority(irq(0), 0x80)
		c.SetPriority(irq(1), 0x40)
		c.Raise(irq(0))
		c.Raise(irq(1))

		id, _ := c.HighestPending()
		Expect(id).To(Equal(irq(1)))
	})

	It("should break priority ties by the lower exception number", func() {
		c.Enable(irq(3))
		c.Enable(irq(5))
		c.Raise(irq(5))
		c.Raise(irq(3))

		id, _ := c.HighestPending()
		Expect(id).To(Equal(irq(3)))
	})

	It("should keep HardFault above every configurable exception", func() {
		c.Raise(intc.SysTick)
		c.Raise(intc.HardFault)

		id, _ := c.HighestPending()
		Expect(id).To(Equal(intc.HardFault))
		Expect(c.Priority(intc.HardFault)).To(Equal(-1))

		c.SetPriority(intc.HardFault, 0xF0)
		Expect(c.Priority(intc.HardFault)).To(Equal(-1))
	})

	It("should refuse to disable fixed exceptions", func() {
		c.Disable(intc.HardFault)
		Expect(c.IsEnabled(intc.HardFault)).To(BeTrue())
	})

	Describe("preemption", func() {
		BeforeEach(func() {
			c.Enable(irq(0))
			c.Enable(irq(1))
			c.SetPriority(irq(0), 0x40)
			c.SetPriority(irq(1), 0x40)
		})

		It("should not preempt an active exception of equal priority", func() {
			c.Raise(irq(0))
			id, ok := c.Preempting()
			Expect(ok).To(BeTrue())
			c.Enter(id)

			Expect(c.IsPending(irq(0))).To(BeFalse())
			Expect(c.IsActive(irq(0))).To(BeTrue())
			Expect(c.ExecutionPriority()).To(Equal(0x40))

			c.Raise(irq(1))
			_, ok = c.Preempting()
			Expect(ok).To(BeFalse())
		})

		It("should never preempt itself", func() {
			c.Raise(irq(0))
			c.Enter(irq(0))
			c.Raise(irq(0))

			_, ok := c.Preempting()
			Expect(ok).To(BeFalse())
		})

		It("should nest a more urgent exception", func() {
			c.Raise(irq(0))
			c.Enter(irq(0))

			c.SetPriority(irq(1), 0x20)
			c.Raise(irq(1))
			id, ok := c.Preempting()
			Expect(ok).To(BeTrue())
			Expect(id).To(Equal(irq(1)))

			c.Enter(id)
			Expect(c.Nesting()).To(Equal(2))
			cur, _ := c.Current()
			Expect(cur).To(Equal(irq(1)))

			Expect(c.Exit(irq(1))).To(Succeed())
			cur, _ = c.Current()
			Expect(cur).To(Equal(irq(0)))
			Expect(c.ExecutionPriority()).To(Equal(0x40))
		})

		It("should reject returning from an inactive exception", func() {
			Expect(c.Exit(irq(0))).To(HaveOccurred())
		})

		It("should mask configurable exceptions with PRIMASK", func() {
			c.SetPRIMASK(true)
			c.Raise(irq(0))
			_, ok := c.Preempting()
			Expect(ok).To(BeFalse())

			c.Raise(intc.HardFault)
			id, ok := c.Preempting()
			Expect(ok).To(BeTrue())
			Expect(id).To(Equal(intc.HardFault))
		})

		It("should mask exceptions at or below BASEPRI", func() {
			c.SetBASEPRI(0x40)
			c.Raise(irq(0))
			_, ok := c.Preempting()
			Expect(ok).To(BeFalse())

			c.SetPriority(irq(1), 0x30)
			c.Raise(irq(1))
			id, ok := c.Preempting()
			Expect(ok).To(BeTrue())
			Expect(id).To(Equal(irq(1)))
		})
	})

	It("should hand out a reset request exactly once", func() {
		c.RequestReset()
		Expect(c.TakeResetRequest()).To(BeTrue())
		Expect(c.TakeResetRequest()).To(BeFalse())
	})

	It("should clear state on reset and disable external lines", func() {
		c.Enable(irq(0))
		c.SetPriority(irq(0), 0x80)
		c.Raise(irq(0))
		c.Enter(irq(0))
		c.SetPRIMASK(true)
		c.SetVectorBase(0x08000000)

		c.Reset()
		c.ResetExternal(intc.ExternalBase)

		Expect(c.Nesting()).To(Equal(0))
		Expect(c.IsActive(irq(0))).To(BeFalse())
		Expect(c.IsEnabled(irq(0))).To(BeFalse())
		Expect(c.Priority(irq(0))).To(Equal(0))
		Expect(c.PRIMASK()).To(BeFalse())
		Expect(c.VectorBase()).To(Equal(uint32(0)))
		Expect(c.IsEnabled(intc.SysTick)).To(BeTrue())
	})

	It("should snapshot pending and active lines", func() {
		c.Raise(intc.SysTick)
		c.Raise(intc.PendSV)
		c.Enter(intc.SysTick)

		s := c.Snapshot()
		Expect(s.Pending).To(Equal([]int{intc.PendSV}))
		Expect(s.Active).To(Equal([]int{intc.SysTick}))
		Expect(s.String()).To(ContainSubstring("active=[15]"))
	})

	It("should ignore out-of-range lines", func() {
		c.Raise(1000)
		c.Raise(0)
		Expect(c.IsPending(1000)).To(BeFalse())
		Expect(c.Priority(-1)).To(Equal(intc.ThreadPriority))
	})
})

var _ = Describe("RV32 controller", func() {
	It("should order external above software above timer", func() {
		c := intc.NewRV32()
		for _, id := range []int{intc.MachineTimer, intc.MachineSoftware, intc.MachineExternal} {
			c.Enable(id)
			c.Raise(id)
		}

		id, _ := c.HighestPending()
		Expect(id).To(Equal(intc.MachineExternal))
		c.ClearPending(intc.MachineExternal)

		id, _ = c.HighestPending()
		Expect(id).To(Equal(intc.MachineSoftware))
		c.ClearPending(intc.MachineSoftware)

		id, _ = c.HighestPending()
		Expect(id).To(Equal(intc.MachineTimer))
	})

	It("should keep the fixed priorities", func() {
		c := intc.NewRV32()
		c.SetPriority(intc.MachineTimer, 0)
		Expect(c.Priority(intc.MachineTimer)).To(Equal(2))
	})
})
