package system_test

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mcusim/config"
	"github.com/sarchlab/mcusim/emu"
	"github.com/sarchlab/mcusim/loader"
	"github.com/sarchlab/mcusim/periph"
	"github.com/sarchlab/mcusim/system"
	"github.com/sarchlab/mcusim/timing/latency"
)

func thumbImage(code ...uint16) []byte {
	img := make([]byte, 8+2*len(code))
	binary.LittleEndian.PutUint32(img[0:], 0x20005000)
	binary.LittleEndian.PutUint32(img[4:], 0x08000009)
	for i, h := range code {
		binary.LittleEndian.PutUint16(img[8+2*i:], h)
	}
	return img
}

func rvImage(words ...uint32) []byte {
	img := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(img[4*i:], w)
	}
	return img
}

// hello writes 'H' to USART1 DR and spins.
var hello = []uint16{
	0xF643, 0x0100, // movw r1, #0x3800
	0xF2C4, 0x0101, // movt r1, #0x4001
	0x2348,         // movs r3, #'H'
	0x604B,         // str r3, [r1, #4]
	0xE7FE,         // b .
}

var _ = Describe("Board", func() {
	var desc *config.System

	BeforeEach(func() {
		desc = config.DefaultCortexM()
	})

	build := func(prog *loader.Program, opts ...system.Option) *system.Board {
		brd, err := system.Build(desc, prog, opts...)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(brd.Close)
		return brd
	}

	Context("on Cortex-M", func() {
		It("should reset from the vector table", func() {
			brd := build(loader.ParseRaw(thumbImage(hello...), 0x08000000))

			Expect(brd.Core().PC()).To(Equal(uint32(0x08000008)))
			sp, err := emu.RegisterIndex(brd.Core(), "sp")
			Expect(err).NotTo(HaveOccurred())
			Expect(brd.Core().Register(sp)).To(Equal(uint32(0x20005000)))
		})

		It("should mirror flash at address zero", func() {
			brd := build(loader.ParseRaw(thumbImage(hello...), 0x08000000))

			v, err := brd.Bus().Peek(0, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(uint32(0x20005000)))
		})

		It("should place every descriptor peripheral", func() {
			brd := build(nil)

			Expect(brd.Peripherals()).To(HaveLen(len(desc.Peripherals)))
			usart, ok := brd.Peripheral("usart1")
			Expect(ok).To(BeTrue())
			Expect(usart.Base).To(Equal(uint32(0x40013800)))
			Expect(usart.Line).To(Equal(16 + 37))
			rcc, ok := brd.Peripheral("rcc")
			Expect(ok).To(BeTrue())
			Expect(rcc.Line).To(Equal(-1))
			_, ok = brd.Peripheral("nope")
			Expect(ok).To(BeFalse())
			Expect(brd.UARTs()).To(HaveLen(1))
		})

		It("should count cycles in DWT CYCCNT once enabled", func() {
			brd := build(loader.ParseRaw(thumbImage(hello...), 0x08000000))

			Expect(brd.Bus().Write(0xE0001000, 4, 1)).To(Succeed())
			start := brd.Cycles()
			for i := 0; i < 6; i++ {
				Expect(brd.Step().Err).NotTo(HaveOccurred())
			}
			cyccnt, err := brd.Bus().Read(0xE0001004, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(uint64(cyccnt)).To(Equal(brd.Cycles() - start))
			Expect(cyccnt).NotTo(BeZero())
		})

		It("should route a GPIO edge through AFIO and EXTI to the controller", func() {
			brd := build(nil)
			b := brd.Bus()

			Expect(b.Write(0x40010008, 4, 0x1)).To(Succeed())        // AFIO_EXTICR1: line 0 on port B
			Expect(b.Write(0x40010408, 4, 0x1)).To(Succeed())        // EXTI_RTSR
			Expect(b.Write(0x40010400, 4, 0x1)).To(Succeed())        // EXTI_IMR
			Expect(b.Write(0x40010C00, 4, 0x44444442)).To(Succeed()) // PB0 output
			Expect(b.Write(0x40010C10, 4, 0x1)).To(Succeed())        // PB0 high

			exti, ok := brd.Peripheral("exti")
			Expect(ok).To(BeTrue())
			Expect(exti.Peripheral.(*periph.EXTI).Pending()).To(Equal(uint32(1)))
			Expect(b.Tick(1).IRQs).To(ContainElement(16 + 6))
		})

		It("should honor an explicit EXTI port list", func() {
			for i := range desc.Peripherals {
				if desc.Peripherals[i].ID == "exti" {
					desc.Peripherals[i].Config = map[string]interface{}{"ports": "gpioc"}
				}
			}
			brd := build(nil)
			b := brd.Bus()

			Expect(b.Write(0x40010408, 4, 0x2)).To(Succeed())        // EXTI_RTSR line 1
			Expect(b.Write(0x40011000, 4, 0x44444424)).To(Succeed()) // PC1 output
			Expect(b.Write(0x40011010, 4, 0x2)).To(Succeed())

			exti, _ := brd.Peripheral("exti")
			Expect(exti.Peripheral.(*periph.EXTI).Pending()).To(Equal(uint32(2)))

			for i := range desc.Peripherals {
				if desc.Peripherals[i].ID == "exti" {
					desc.Peripherals[i].Config = map[string]interface{}{"ports": "usart1"}
				}
			}
			_, err := system.Build(desc, nil)
			Expect(errors.IsNotValid(err)).To(BeTrue())
		})

		It("should capture UART output and copy it to the sink", func() {
			var sink bytes.Buffer
			brd := build(loader.ParseRaw(thumbImage(hello...), 0x08000000), system.WithUARTSink(&sink))

			for i := 0; i < 6; i++ {
				Expect(brd.Step().Err).NotTo(HaveOccurred())
			}
			Expect(string(brd.UARTOutput())).To(Equal("H"))
			Expect(brd.UARTBytes()).To(Equal(1))
			Expect(sink.String()).To(Equal("H"))
		})

		It("should reject firmware built for the other architecture", func() {
			prog := loader.ParseRaw(rvImage(0x0000006F), 0)
			prog.Arch = loader.ArchRISCV

			_, err := system.Build(desc, prog)
			Expect(err).To(HaveOccurred())
			Expect(errors.IsNotValid(err)).To(BeTrue())
		})

		It("should reject an unknown peripheral type", func() {
			desc.Peripherals = append(desc.Peripherals, config.Peripheral{
				ID: "mystery", Type: "flux-capacitor", BaseAddress: 0x50000000, Size: 0x400,
			})

			_, err := system.Build(desc, nil)
			Expect(err).To(MatchError(ContainSubstring("flux-capacitor")))
		})

		It("should reject firmware that does not fit the memory map", func() {
			_, err := system.Build(desc, loader.ParseRaw([]byte{1, 2, 3, 4}, 0x30000000))
			Expect(err).To(MatchError(ContainSubstring("loading firmware")))
		})

		It("should enable the flash cache from the timing config", func() {
			cfg := latency.DefaultTimingConfig()
			cfg.FlashWaitStates = 2
			cfg.FlashCacheLines = 8

			brd := build(loader.ParseRaw(thumbImage(hello...), 0x08000000), system.WithTimingConfig(cfg))
			Expect(brd.FlashCache()).NotTo(BeNil())

			for i := 0; i < 10; i++ {
				brd.Step()
			}
			Expect(brd.FlashCache().Stats().Hits).To(BeNumerically(">", 0))
		})

		It("should leave the flash cache off by default", func() {
			brd := build(nil)
			Expect(brd.FlashCache()).To(BeNil())
		})

		It("should read the timing config named by the descriptor", func() {
			cfg := latency.DefaultTimingConfig()
			cfg.FlashWaitStates = 1
			cfg.FlashCacheLines = 4
			path := filepath.Join(GinkgoT().TempDir(), "timing.json")
			Expect(cfg.SaveConfig(path)).To(Succeed())
			desc.Timing = path

			brd := build(nil)
			Expect(brd.FlashCache()).NotTo(BeNil())
		})

		It("should honor the trap policy option", func() {
			brd := build(loader.ParseRaw(thumbImage(0xDE00), 0x08000000),
				system.WithTrapPolicy(emu.TrapPermissive))

			Expect(brd.Step().Err).NotTo(HaveOccurred())
		})
	})

	Context("on RV32", func() {
		BeforeEach(func() {
			desc = config.DefaultRV32()
		})

		It("should start at the flash base with the stack at the top of RAM", func() {
			var sink bytes.Buffer
			prog := loader.ParseRaw(rvImage(
				0x10013537, // lui a0, 0x10013
				0x04100593, // addi a1, zero, 'A'
				0x00B52223, // sw a1, 4(a0)
				0x0000006F, // j .
			), 0)
			brd := build(prog, system.WithUARTSink(&sink))

			Expect(brd.Core().PC()).To(Equal(uint32(0)))
			sp, err := emu.RegisterIndex(brd.Core(), "sp")
			Expect(err).NotTo(HaveOccurred())
			Expect(brd.Core().Register(sp)).To(Equal(uint32(0x80010000)))

			for i := 0; i < 4; i++ {
				Expect(brd.Step().Err).NotTo(HaveOccurred())
			}
			Expect(sink.String()).To(Equal("A"))
		})

		It("should place the CLINT", func() {
			brd := build(nil)

			clint, ok := brd.Peripheral("clint")
			Expect(ok).To(BeTrue())
			Expect(clint.Base).To(Equal(uint32(0x02000000)))
		})
	})

	Describe("Snapshot", func() {
		It("should describe the machine", func() {
			brd := build(loader.ParseRaw(thumbImage(hello...), 0x08000000))
			brd.Step()

			snap := brd.Snapshot()
			Expect(snap.System).To(Equal("stm32f103-default"))
			Expect(snap.Arch).To(Equal("arm"))
			Expect(snap.Steps).To(Equal(uint64(1)))
			Expect(snap.FirmwareSHA256).To(HaveLen(64))
			Expect(snap.CPU.PC).To(Equal(uint32(0x0800000C)))
			Expect(snap.MemoryCRC32).To(HaveLen(8))
			Expect(snap.Peripherals).To(ContainElement(system.PeripheralRecord{
				ID: "usart1", Type: "uart", Base: "0x40013800", Size: 0x400,
			}))
		})

		It("should write indented JSON", func() {
			brd := build(nil)
			path := filepath.Join(GinkgoT().TempDir(), "snapshot.json")
			Expect(brd.Snapshot().WriteFile(path)).To(Succeed())

			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			var doc map[string]interface{}
			Expect(json.Unmarshal(data, &doc)).To(Succeed())
			Expect(doc).To(HaveKeyWithValue("arch", "arm"))
			Expect(doc).To(HaveKey("interrupts"))
		})
	})
})
