package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mcusim/insts"
)

var _ = Describe("RV32Decoder", func() {
	var decoder *insts.RV32Decoder

	BeforeEach(func() {
		decoder = insts.NewRV32Decoder()
	})

	// addi x1, x0, 5
	It("should decode ADDI", func() {
		inst := decoder.Decode(0x00500093)

		Expect(inst.Op).To(Equal(insts.OpADDI))
		Expect(inst.Format).To(Equal(insts.FormatRVI))
		Expect(inst.Size).To(Equal(uint8(4)))
		Expect(inst.Rd).To(Equal(uint8(1)))
		Expect(inst.Rs1).To(Equal(uint8(0)))
		Expect(inst.Imm).To(Equal(uint32(5)))
	})

	// addi x2, x0, -3
	It("should sign-extend I-type immediates", func() {
		inst := decoder.Decode(0xFFD00113)

		Expect(inst.Op).To(Equal(insts.OpADDI))
		Expect(inst.Imm).To(Equal(uint32(0xFFFFFFFD)))
	})

	// lui x5, 0x80008
	It("should decode LUI", func() {
		inst := decoder.Decode(0x800082B7)

		Expect(inst.Op).To(Equal(insts.OpLUI))
		Expect(inst.Rd).To(Equal(uint8(5)))
		Expect(inst.Imm).To(Equal(uint32(0x80008000)))
	})

	// sw x6, 40(x5)
	It("should decode SW with a split immediate", func() {
		inst := decoder.Decode(1<<25 | 6<<20 | 5<<15 | 2<<12 | 8<<7 | 0x23)

		Expect(inst.Op).To(Equal(insts.OpSW))
		Expect(inst.Format).To(Equal(insts.FormatRVS))
		Expect(inst.Rs1).To(Equal(uint8(5)))
		Expect(inst.Rs2).To(Equal(uint8(6)))
		Expect(inst.Imm).To(Equal(uint32(40)))
	})

	// beq x1, x2, -8
	It("should decode a backward branch", func() {
		inst := decoder.Decode(0xFE208CE3)

		Expect(inst.Op).To(Equal(insts.OpBEQ))
		Expect(inst.Format).To(Equal(insts.FormatRVB))
		Expect(inst.BranchOffset).To(Equal(int32(-8)))
		Expect(inst.IsBranch()).To(BeTrue())
	})

	// jal x1, 16
	It("should decode JAL", func() {
		inst := decoder.Decode(0x010000EF)

		Expect(inst.Op).To(Equal(insts.OpJAL))
		Expect(inst.Rd).To(Equal(uint8(1)))
		Expect(inst.BranchOffset).To(Equal(int32(16)))
	})

	// srai x1, x2, 3
	It("should decode SRAI with the shift amount", func() {
		inst := decoder.Decode(0x40315093)

		Expect(inst.Op).To(Equal(insts.OpSRAI))
		Expect(inst.Imm).To(Equal(uint32(3)))
	})

	It("should decode the M extension", func() {
		div := decoder.Decode(1<<25 | 0<<20 | 1<<15 | 4<<12 | 2<<7 | 0x33)
		Expect(div.Op).To(Equal(insts.OpDIV))

		mulhu := decoder.Decode(1<<25 | 3<<20 | 1<<15 | 3<<12 | 2<<7 | 0x33)
		Expect(mulhu.Op).To(Equal(insts.OpMULHU))
		Expect(mulhu.Rs2).To(Equal(uint8(3)))
	})

	It("should decode system instructions", func() {
		Expect(decoder.Decode(0x00000073).Op).To(Equal(insts.OpECALL))
		Expect(decoder.Decode(0x00100073).Op).To(Equal(insts.OpEBREAK))
		Expect(decoder.Decode(0x30200073).Op).To(Equal(insts.OpMRET))
		Expect(decoder.Decode(0x10500073).Op).To(Equal(insts.OpWFI))
		Expect(decoder.Decode(0x0FF0000F).Op).To(Equal(insts.OpFENCE))
	})

	// csrrs x1, misa, x0
	It("should decode CSR accesses", func() {
		inst := decoder.Decode(0x301020F3)

		Expect(inst.Op).To(Equal(insts.OpCSRRS))
		Expect(inst.CSR).To(Equal(uint16(0x301)))
		Expect(inst.Rd).To(Equal(uint8(1)))
	})

	// csrrwi x0, mstatus, 8
	It("should carry the zimm of immediate CSR forms", func() {
		inst := decoder.Decode(0x300<<20 | 8<<15 | 5<<12 | 0x73)

		Expect(inst.Op).To(Equal(insts.OpCSRRWI))
		Expect(inst.Imm).To(Equal(uint32(8)))
	})

	It("should reject compressed and unknown encodings", func() {
		c := decoder.Decode(0x4501)
		Expect(c.Op).To(Equal(insts.OpUnknown))

		bad := decoder.Decode(0xFFFFFFFF)
		Expect(bad.Op).To(Equal(insts.OpUnknown))
		Expect(bad.Format).To(Equal(insts.FormatUnknown))
	})
})
