package config

import "github.com/juju/errors"

func irq(n int) *int { return &n }

// DefaultCortexM returns an STM32F103-like system: 64KB flash at
// 0x08000000, 20KB RAM, three GPIO ports with AFIO and EXTI, USART1, TIM2,
// DMA1 and the core peripherals.
func DefaultCortexM() *System {
	return &System{
		Name:    "stm32f103-default",
		Arch:    ArchARM,
		ClockHz: 8_000_000,
		Flash:   MemoryRange{Base: 0x08000000, Size: 64 << 10},
		RAM:     MemoryRange{Base: 0x20000000, Size: 20 << 10},
		Peripherals: []Peripheral{
			{ID: "tim2", Type: "timer", BaseAddress: 0x40000000, IRQ: irq(28)},
			{ID: "afio", Type: "afio", BaseAddress: 0x40010000},
			{ID: "exti", Type: "exti", BaseAddress: 0x40010400, IRQ: irq(6)},
			{ID: "gpioa", Type: "gpio", BaseAddress: 0x40010800},
			{ID: "gpiob", Type: "gpio", BaseAddress: 0x40010C00},
			{ID: "gpioc", Type: "gpio", BaseAddress: 0x40011000},
			{ID: "usart1", Type: "uart", BaseAddress: 0x40013800, IRQ: irq(37)},
			{ID: "dma1", Type: "dma", BaseAddress: 0x40020000, IRQ: irq(11)},
			{ID: "rcc", Type: "rcc", BaseAddress: 0x40021000},
			{ID: "dwt", Type: "dwt", BaseAddress: 0xE0001000},
			{ID: "systick", Type: "systick", BaseAddress: 0xE000E010},
			{ID: "nvic", Type: "nvic", BaseAddress: 0xE000E100},
			{ID: "scb", Type: "scb", BaseAddress: 0xE000ED00},
		},
	}
}

// DefaultRV32 returns a small RV32I system with flash at 0, RAM at
// 0x80000000, a CLINT, a UART and a GPIO port.
func DefaultRV32() *System {
	return &System{
		Name:    "rv32i-default",
		Arch:    ArchRISCV,
		ClockHz: 8_000_000,
		Flash:   MemoryRange{Base: 0x00000000, Size: 256 << 10},
		RAM:     MemoryRange{Base: 0x80000000, Size: 64 << 10},
		Peripherals: []Peripheral{
			{ID: "clint", Type: "clint", BaseAddress: 0x02000000},
			{ID: "uart0", Type: "uart", BaseAddress: 0x10013000, IRQ: irq(0)},
			{ID: "gpio0", Type: "gpio", BaseAddress: 0x10012000},
		},
	}
}

// Default returns the built-in descriptor for arch.
func Default(arch Arch) (*System, error) {
	switch arch {
	case ArchARM:
		return DefaultCortexM(), nil
	case ArchRISCV:
		return DefaultRV32(), nil
	}
	return nil, errors.NotFoundf("default system for arch %q", arch)
}
