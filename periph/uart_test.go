package periph_test

import (
	"bytes"

	"github.com/juju/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mcusim/periph"
)

var _ = Describe("UART", func() {
	const (
		sr  = 0x00
		dr  = 0x04
		cr1 = 0x0C
	)

	var u *periph.UART

	BeforeEach(func() {
		u = periph.NewUART("usart1", periph.LayoutF1, 53)
	})

	It("should report the transmitter ready", func() {
		Expect(u.Read(sr, 4)).To(Equal(uint32(periph.UARTTXE | periph.UARTTC)))
	})

	It("should capture transmitted bytes and copy them to the sink", func() {
		var sink bytes.Buffer
		u.SetSink(&sink)

		for _, c := range []byte("hi\n") {
			u.Write(dr, 4, uint32(c)|0xF00)
		}
		Expect(string(u.Output())).To(Equal("hi\n"))
		Expect(sink.String()).To(Equal("hi\n"))
	})

	It("should pop injected input from DR", func() {
		u.Inject([]byte("ok"))
		Expect(u.Read(sr, 4) & periph.UARTRXNE).NotTo(BeZero())

		Expect(u.Read(dr, 4)).To(Equal(uint32('o')))
		Expect(u.Read(dr, 4)).To(Equal(uint32('k')))
		Expect(u.Read(sr, 4) & periph.UARTRXNE).To(BeZero())
		Expect(u.Read(dr, 4)).To(Equal(uint32(0)))
	})

	It("should raise its line only when enabled with TXEIE", func() {
		Expect(u.Tick(1).IRQs).To(BeEmpty())

		u.Write(cr1, 4, 1<<13|1<<7)
		Expect(u.Tick(1).IRQs).To(Equal([]int{53}))
	})

	It("should raise on pending input with RXNEIE", func() {
		u.Write(cr1, 4, 1<<13|1<<5)
		Expect(u.Tick(1).IRQs).To(BeEmpty())

		u.Inject([]byte{1})
		Expect(u.Tick(1).IRQs).To(Equal([]int{53}))
	})

	It("should keep captured output across reset", func() {
		u.Write(dr, 1, 'x')
		u.Inject([]byte("y"))
		u.Reset()

		Expect(string(u.Output())).To(Equal("x"))
		Expect(u.Read(sr, 4) & periph.UARTRXNE).To(BeZero())
	})

	It("should transmit through TDR in the v2 layout", func() {
		v2 := periph.NewUART("usart2", periph.LayoutV2, -1)
		v2.Write(0x28, 4, 'A')
		Expect(string(v2.Output())).To(Equal("A"))
		Expect(v2.Read(0x1C, 4) & periph.UARTTXE).NotTo(BeZero())
		Expect(v2.Tick(1).IRQs).To(BeEmpty())
	})

	It("should parse layouts", func() {
		l, err := periph.ParseUARTLayout("")
		Expect(err).NotTo(HaveOccurred())
		Expect(l).To(Equal(periph.LayoutF1))

		l, err = periph.ParseUARTLayout("stm32v2")
		Expect(err).NotTo(HaveOccurred())
		Expect(l).To(Equal(periph.LayoutV2))

		_, err = periph.ParseUARTLayout("nrf52")
		Expect(errors.IsNotValid(err)).To(BeTrue())
	})
})
