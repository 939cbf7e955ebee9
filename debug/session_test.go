package debug_test

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/juju/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mcusim/config"
	"github.com/sarchlab/mcusim/debug"
	"github.com/sarchlab/mcusim/loader"
	"github.com/sarchlab/mcusim/system"
)

const (
	flashBase = 0x08000000
	bSelf     = 0xE7FE
)

// counting is three instructions ending in a spin:
//
//	0x08: movs r0, #1
//	0x0A: movs r1, #2
//	0x0C: adds r2, r0, r1
//	0x0E: b .
var counting = []uint16{0x2001, 0x2102, 0x1842, bSelf}

func newSession(code ...uint16) *debug.Session {
	img := make([]byte, 8+2*len(code))
	binary.LittleEndian.PutUint32(img[0:], 0x20005000)
	binary.LittleEndian.PutUint32(img[4:], flashBase+9)
	for i, h := range code {
		binary.LittleEndian.PutUint16(img[8+2*i:], h)
	}
	brd, err := system.Build(config.DefaultCortexM(), loader.ParseRaw(img, flashBase))
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(brd.Close)
	return debug.NewSession(brd)
}

var _ = Describe("Session", func() {
	var sess *debug.Session

	BeforeEach(func() {
		sess = newSession(counting...)
	})

	Context("registers", func() {
		It("should read the reset state", func() {
			Expect(sess.NumRegisters()).To(Equal(17))
			pc, err := sess.ReadRegister(15)
			Expect(err).NotTo(HaveOccurred())
			Expect(pc).To(Equal(uint32(flashBase + 8)))

			regs := sess.ReadRegisters()
			Expect(regs).To(HaveLen(17))
			Expect(regs[13]).To(Equal(uint32(0x20005000)))
		})

		It("should write a register", func() {
			Expect(sess.WriteRegister(4, 0xCAFE)).To(Succeed())
			v, err := sess.ReadRegister(4)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(uint32(0xCAFE)))
		})

		It("should reject registers out of range", func() {
			_, err := sess.ReadRegister(17)
			Expect(errors.IsNotFound(err)).To(BeTrue())
			Expect(errors.IsNotFound(sess.WriteRegister(-1, 0))).To(BeTrue())
		})

		It("should write all registers at once", func() {
			regs := sess.ReadRegisters()
			regs[0] = 7
			Expect(sess.WriteRegisters(regs)).To(Succeed())
			Expect(sess.ReadRegisters()[0]).To(Equal(uint32(7)))

			Expect(sess.WriteRegisters(regs[:3])).NotTo(Succeed())
		})
	})

	Context("memory", func() {
		It("should read flash", func() {
			data, err := sess.ReadMemory(flashBase, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte{0x00, 0x50, 0x00, 0x20}))
		})

		It("should stop a read at the end of a region", func() {
			data, err := sess.ReadMemory(0x20004FFE, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(HaveLen(2))
		})

		It("should fail a read that starts unmapped", func() {
			_, err := sess.ReadMemory(0x30000000, 4)
			Expect(err).To(HaveOccurred())
		})

		It("should write RAM and flash", func() {
			Expect(sess.WriteMemory(0x20000000, []byte{1, 2, 3})).To(Succeed())
			data, err := sess.ReadMemory(0x20000000, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte{1, 2, 3}))

			Expect(sess.WriteMemory(flashBase+8, []byte{0x05, 0x20})).To(Succeed())
			sess.Step()
			r0, _ := sess.ReadRegister(0)
			Expect(r0).To(Equal(uint32(5)))
		})

		It("should fail a write to an unmapped address", func() {
			Expect(sess.WriteMemory(0x30000000, []byte{1})).NotTo(Succeed())
		})
	})

	Context("execution", func() {
		It("should single-step", func() {
			ev := sess.Step()
			Expect(ev.Kind).To(Equal(debug.StopStep))
			Expect(ev.PC).To(Equal(uint32(flashBase + 0xA)))
			Expect(ev.Signal()).To(Equal(debug.SigTrap))
			r0, _ := sess.ReadRegister(0)
			Expect(r0).To(Equal(uint32(1)))
		})

		It("should continue to a breakpoint", func() {
			sess.AddBreakpoint(flashBase + 0xC)

			ev := sess.Continue(context.Background())
			Expect(ev.Kind).To(Equal(debug.StopBreakpoint))
			Expect(ev.PC).To(Equal(uint32(flashBase + 0xC)))
			Expect(ev.Steps).To(Equal(uint64(2)))
		})

		It("should step off the breakpoint it is resting on", func() {
			sess.AddBreakpoint(flashBase + 0xE)
			Expect(sess.Continue(context.Background()).PC).To(Equal(uint32(flashBase + 0xE)))

			ev := sess.Continue(context.Background())
			Expect(ev.Kind).To(Equal(debug.StopBreakpoint))
			Expect(ev.Steps).To(Equal(uint64(1)))
		})

		It("should report a step onto a breakpoint", func() {
			sess.AddBreakpoint(flashBase + 0xA)
			Expect(sess.Step().Kind).To(Equal(debug.StopBreakpoint))
		})

		It("should list and remove breakpoints", func() {
			sess.AddBreakpoint(0x30)
			sess.AddBreakpoint(0x10)
			sess.AddBreakpoint(0x20)
			sess.RemoveBreakpoint(0x20)
			sess.RemoveBreakpoint(0x99)
			Expect(sess.Breakpoints()).To(Equal([]uint32{0x10, 0x30}))
		})

		It("should stop when the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			ev := sess.Continue(ctx)
			Expect(ev.Kind).To(Equal(debug.StopInterrupt))
			Expect(ev.Steps).To(BeZero())
			Expect(ev.Signal()).To(Equal(debug.SigInt))
		})

		It("should interrupt a spinning core", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			ev := sess.Continue(ctx)
			Expect(ev.Kind).To(Equal(debug.StopInterrupt))
			Expect(ev.PC).To(Equal(uint32(flashBase + 0xE)))
			Expect(ev.Steps).To(BeNumerically(">", 3))
		})

		It("should report an undefined instruction as SIGILL", func() {
			s := newSession(0x2001, 0xDE00)
			ev := s.Continue(context.Background())
			Expect(ev.Kind).To(Equal(debug.StopFault))
			Expect(ev.Err).To(HaveOccurred())
			Expect(ev.Signal()).To(Equal(debug.SigIll))
		})

		It("should report a bus fault as SIGSEGV", func() {
			s := newSession(0x2001, 0x0700, 0x6801, bSelf)
			ev := s.Continue(context.Background())
			Expect(ev.Kind).To(Equal(debug.StopFault))
			Expect(ev.Signal()).To(Equal(debug.SigSegv))
		})

		It("should stop on a breakpoint instruction", func() {
			s := newSession(0x2001, 0xBE00, bSelf)
			ev := s.Continue(context.Background())
			Expect(ev.Kind).To(Equal(debug.StopHalt))
			Expect(ev.Signal()).To(Equal(debug.SigTrap))
		})

		It("should reset and keep breakpoints", func() {
			sess.AddBreakpoint(flashBase + 0xC)
			sess.Step()
			Expect(sess.Reset()).To(Succeed())
			Expect(sess.PC()).To(Equal(uint32(flashBase + 8)))
			Expect(sess.Breakpoints()).To(ConsistOf(uint32(flashBase + 0xC)))
		})
	})
})
