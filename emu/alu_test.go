package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mcusim/emu"
	"github.com/sarchlab/mcusim/insts"
)

var _ = Describe("ALU", func() {
	Describe("AddWithCarry", func() {
		It("should add without flags for small values", func() {
			r, c, v := emu.AddWithCarry(2, 3, false)
			Expect(r).To(Equal(uint32(5)))
			Expect(c).To(BeFalse())
			Expect(v).To(BeFalse())
		})

		It("should set carry on unsigned overflow", func() {
			r, c, v := emu.AddWithCarry(0xFFFFFFFF, 1, false)
			Expect(r).To(Equal(uint32(0)))
			Expect(c).To(BeTrue())
			Expect(v).To(BeFalse())
		})

		It("should set overflow on signed overflow", func() {
			r, c, v := emu.AddWithCarry(0x7FFFFFFF, 1, false)
			Expect(r).To(Equal(uint32(0x80000000)))
			Expect(c).To(BeFalse())
			Expect(v).To(BeTrue())
		})

		It("should implement subtraction as x + ^y + 1", func() {
			// 5 - 5: no borrow, so C is set.
			r, c, _ := emu.AddWithCarry(5, ^uint32(5), true)
			Expect(r).To(Equal(uint32(0)))
			Expect(c).To(BeTrue())

			// 3 - 5: borrow, C clear.
			r, c, _ = emu.AddWithCarry(3, ^uint32(5), true)
			Expect(r).To(Equal(uint32(0xFFFFFFFE)))
			Expect(c).To(BeFalse())
		})
	})

	Describe("ShiftC", func() {
		It("should keep value and carry for a zero shift", func() {
			r, c := emu.ShiftC(0x80000001, insts.ShiftLSL, 0, true)
			Expect(r).To(Equal(uint32(0x80000001)))
			Expect(c).To(BeTrue())
		})

		It("should shift out the last bit for LSL", func() {
			r, c := emu.ShiftC(0x80000001, insts.ShiftLSL, 1, false)
			Expect(r).To(Equal(uint32(2)))
			Expect(c).To(BeTrue())
		})

		It("should handle LSR #32", func() {
			r, c := emu.ShiftC(0x80000000, insts.ShiftLSR, 32, false)
			Expect(r).To(Equal(uint32(0)))
			Expect(c).To(BeTrue())
		})

		It("should sign fill for ASR", func() {
			r, c := emu.ShiftC(0x80000000, insts.ShiftASR, 4, false)
			Expect(r).To(Equal(uint32(0xF8000000)))
			Expect(c).To(BeFalse())

			r, c = emu.ShiftC(0x80000000, insts.ShiftASR, 40, false)
			Expect(r).To(Equal(uint32(0xFFFFFFFF)))
			Expect(c).To(BeTrue())
		})

		It("should rotate for ROR with carry from bit 31", func() {
			r, c := emu.ShiftC(0x00000001, insts.ShiftROR, 1, false)
			Expect(r).To(Equal(uint32(0x80000000)))
			Expect(c).To(BeTrue())
		})

		It("should shift the carry in for RRX", func() {
			r, c := emu.ShiftC(0x00000003, insts.ShiftRRX, 1, true)
			Expect(r).To(Equal(uint32(0x80000001)))
			Expect(c).To(BeTrue())
		})
	})

	Describe("ConditionPassed", func() {
		It("should evaluate each condition against the flags", func() {
			z := emu.PSTATE{Z: true}
			Expect(emu.ConditionPassed(insts.CondEQ, z)).To(BeTrue())
			Expect(emu.ConditionPassed(insts.CondNE, z)).To(BeFalse())
			Expect(emu.ConditionPassed(insts.CondLS, z)).To(BeTrue())
			Expect(emu.ConditionPassed(insts.CondHI, emu.PSTATE{C: true})).To(BeTrue())
			Expect(emu.ConditionPassed(insts.CondGE, emu.PSTATE{N: true, V: true})).To(BeTrue())
			Expect(emu.ConditionPassed(insts.CondLT, emu.PSTATE{N: true})).To(BeTrue())
			Expect(emu.ConditionPassed(insts.CondGT, emu.PSTATE{Z: true})).To(BeFalse())
			Expect(emu.ConditionPassed(insts.CondAL, emu.PSTATE{})).To(BeTrue())
		})
	})

	Describe("Bitfields", func() {
		It("should extract unsigned and signed fields", func() {
			Expect(emu.BitfieldExtract(0x0000F0F0, 4, 8, false)).To(Equal(uint32(0x0F)))
			Expect(emu.BitfieldExtract(0x00000080, 4, 4, true)).To(Equal(uint32(0xFFFFFFF8)))
		})

		It("should insert a field", func() {
			Expect(emu.BitfieldInsert(0xFFFFFFFF, 0, 8, 8)).To(Equal(uint32(0xFFFF00FF)))
			Expect(emu.BitfieldInsert(0, 0xAB, 4, 8)).To(Equal(uint32(0xAB0)))
		})
	})
})

var _ = Describe("ITState", func() {
	It("should be inactive when zero", func() {
		var it emu.ITState
		Expect(it.Active()).To(BeFalse())
		Expect(it.Slot()).To(Equal(emu.ITNone))
	})

	It("should walk an ITE block", func() {
		var it emu.ITState
		it.Start(insts.CondEQ, 0b1100)

		Expect(it.Active()).To(BeTrue())
		Expect(it.Remaining()).To(Equal(2))
		Expect(it.Cond()).To(Equal(insts.CondEQ))
		Expect(it.Slot()).To(Equal(emu.ITThen))

		it.Advance()
		Expect(it.Cond()).To(Equal(insts.CondNE))
		Expect(it.Slot()).To(Equal(emu.ITElse))
		Expect(it.Last()).To(BeTrue())

		it.Advance()
		Expect(it.Active()).To(BeFalse())
	})

	It("should run four slots of ITTEE", func() {
		var it emu.ITState
		// ITTEE GT: firstcond 1100, mask T=0 E=1 E=1 then terminator.
		it.Start(insts.CondGT, 0b0111)

		slots := []emu.ITSlot{}
		for it.Active() {
			slots = append(slots, it.Slot())
			it.Advance()
		}
		Expect(slots).To(Equal([]emu.ITSlot{emu.ITThen, emu.ITThen, emu.ITElse, emu.ITElse}))
	})

	It("should round-trip through the ITSTATE byte", func() {
		var it emu.ITState
		it.Start(insts.CondNE, 0b0100)
		it2 := emu.ITState{}
		it2.SetBits(it.Bits())
		Expect(it2.Cond()).To(Equal(it.Cond()))
		Expect(it2.Remaining()).To(Equal(it.Remaining()))
	})
})
