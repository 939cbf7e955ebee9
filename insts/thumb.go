package insts

// ThumbDecoder decodes ARMv7-M Thumb and Thumb-2 machine code.
type ThumbDecoder struct{}

// NewThumbDecoder creates a new Thumb instruction decoder.
func NewThumbDecoder() *ThumbDecoder {
	return &ThumbDecoder{}
}

// IsThumb32 reports whether the halfword is the first half of a 32-bit
// Thumb-2 encoding. Bits [15:11] of 0b11101, 0b11110 or 0b11111 select the
// 32-bit form; everything else is a complete 16-bit instruction.
func IsThumb32(h1 uint16) bool {
	return h1&0xE000 == 0xE000 && h1&0x1800 != 0
}

// Decode decodes one instruction. h2 is ignored for 16-bit encodings.
func (d *ThumbDecoder) Decode(h1, h2 uint16) *Instruction {
	if IsThumb32(h1) {
		inst := &Instruction{Op: OpUnknown, Size: 4, Raw: uint32(h1)<<16 | uint32(h2)}
		d.decode32(h1, h2, inst)
		return inst
	}

	inst := &Instruction{Op: OpUnknown, Size: 2, Raw: uint32(h1)}
	d.decode16(h1, inst)
	return inst
}

func bits(v uint32, hi, lo uint) uint32 {
	return (v >> lo) & (1<<(hi-lo+1) - 1)
}

func bit(v uint32, n uint) bool {
	return (v>>n)&1 == 1
}

func signExtend(v uint32, width uint) int32 {
	shift := 32 - width
	return int32(v<<shift) >> shift
}

// decode16 decodes a 16-bit Thumb instruction.
func (d *ThumbDecoder) decode16(h uint16, inst *Instruction) {
	w := uint32(h)

	switch {
	case w>>14 == 0b00:
		d.decodeShiftAddSubMovCmp(w, inst)
	case w>>10 == 0b010000:
		d.decodeDataProcessing16(w, inst)
	case w>>10 == 0b010001:
		d.decodeSpecialDataBranch(w, inst)
	case w>>11 == 0b01001:
		inst.Op = OpLDR
		inst.Format = FormatLoadStoreLit
		inst.Rd = uint8(bits(w, 10, 8))
		inst.Rn = 15
		inst.Imm = bits(w, 7, 0) << 2
		inst.Add = true
	case w>>12 == 0b0101:
		d.decodeLoadStoreReg16(w, inst)
	case w>>13 == 0b011, w>>12 == 0b1000, w>>12 == 0b1001:
		d.decodeLoadStoreImm16(w, inst)
	case w>>11 == 0b10100:
		inst.Op = OpADR
		inst.Format = FormatDPImm
		inst.Rd = uint8(bits(w, 10, 8))
		inst.Rn = 15
		inst.Imm = bits(w, 7, 0) << 2
		inst.Add = true
	case w>>11 == 0b10101:
		inst.Op = OpADD
		inst.Format = FormatDPImm
		inst.Rd = uint8(bits(w, 10, 8))
		inst.Rn = 13
		inst.Imm = bits(w, 7, 0) << 2
	case w>>12 == 0b1011:
		d.decodeMisc16(w, inst)
	case w>>12 == 0b1100:
		inst.Format = FormatLoadStoreMulti
		inst.Rn = uint8(bits(w, 10, 8))
		inst.RegList = uint16(bits(w, 7, 0))
		if bit(w, 11) {
			inst.Op = OpLDM
			inst.WriteBack = inst.RegList&(1<<inst.Rn) == 0
		} else {
			inst.Op = OpSTM
			inst.WriteBack = true
		}
	case w>>12 == 0b1101:
		d.decodeCondBranch16(w, inst)
	case w>>11 == 0b11100:
		inst.Op = OpB
		inst.Format = FormatBranch
		inst.BranchOffset = signExtend(bits(w, 10, 0)<<1, 12)
	}
}

// decodeShiftAddSubMovCmp decodes the 00xxxx opcode space.
func (d *ThumbDecoder) decodeShiftAddSubMovCmp(w uint32, inst *Instruction) {
	inst.SetFlagsOutsideIT = true
	op := bits(w, 13, 11)

	switch op {
	case 0b000, 0b001, 0b010:
		// LSL/LSR/ASR (immediate). LSL #0 is MOVS Rd, Rm.
		inst.Format = FormatDPReg
		inst.Rd = uint8(bits(w, 2, 0))
		inst.Rm = uint8(bits(w, 5, 3))
		imm5 := bits(w, 10, 6)
		inst.ShiftType = ShiftType(op)
		inst.ShiftAmount = uint8(imm5)
		if op != 0b000 && imm5 == 0 {
			inst.ShiftAmount = 32
		}
		switch {
		case op == 0b000 && imm5 == 0:
			inst.Op = OpMOV
		case op == 0b000:
			inst.Op = OpLSL
		case op == 0b001:
			inst.Op = OpLSR
		default:
			inst.Op = OpASR
		}
	case 0b011:
		inst.Rd = uint8(bits(w, 2, 0))
		inst.Rn = uint8(bits(w, 5, 3))
		switch bits(w, 10, 9) {
		case 0b00:
			inst.Op, inst.Format = OpADD, FormatDPReg
			inst.Rm = uint8(bits(w, 8, 6))
		case 0b01:
			inst.Op, inst.Format = OpSUB, FormatDPReg
			inst.Rm = uint8(bits(w, 8, 6))
		case 0b10:
			inst.Op, inst.Format = OpADD, FormatDPImm
			inst.Imm = bits(w, 8, 6)
		case 0b11:
			inst.Op, inst.Format = OpSUB, FormatDPImm
			inst.Imm = bits(w, 8, 6)
		}
	default:
		inst.Format = FormatDPImm
		inst.Rd = uint8(bits(w, 10, 8))
		inst.Rn = inst.Rd
		inst.Imm = bits(w, 7, 0)
		switch op {
		case 0b100:
			inst.Op = OpMOV
		case 0b101:
			inst.Op = OpCMP
			inst.SetFlags = true
			inst.SetFlagsOutsideIT = false
		case 0b110:
			inst.Op = OpADD
		case 0b111:
			inst.Op = OpSUB
		}
	}
}

var dataProcessing16 = [16]Op{
	OpAND, OpEOR, OpLSL, OpLSR, OpASR, OpADC, OpSBC, OpROR,
	OpTST, OpRSB, OpCMP, OpCMN, OpORR, OpMUL, OpBIC, OpMVN,
}

// decodeDataProcessing16 decodes the 010000 register data-processing group.
func (d *ThumbDecoder) decodeDataProcessing16(w uint32, inst *Instruction) {
	op := bits(w, 9, 6)
	inst.Op = dataProcessing16[op]
	inst.Rd = uint8(bits(w, 2, 0))
	inst.Rn = inst.Rd
	inst.Rm = uint8(bits(w, 5, 3))
	inst.Format = FormatDPReg
	inst.SetFlagsOutsideIT = true

	switch inst.Op {
	case OpLSL, OpLSR, OpASR, OpROR:
		inst.Format = FormatDPRegShift
	case OpTST, OpCMP, OpCMN:
		inst.SetFlags = true
		inst.SetFlagsOutsideIT = false
	case OpRSB:
		// RSBS Rd, Rn, #0
		inst.Format = FormatDPImm
		inst.Rn = uint8(bits(w, 5, 3))
		inst.Imm = 0
	case OpMUL:
		inst.Format = FormatMultiply
		inst.Rn = uint8(bits(w, 5, 3))
		inst.Rm = inst.Rd
	}
}

// decodeSpecialDataBranch decodes high-register ADD/CMP/MOV and BX/BLX.
func (d *ThumbDecoder) decodeSpecialDataBranch(w uint32, inst *Instruction) {
	rdn := uint8(bits(w, 2, 0))
	if bit(w, 7) {
		rdn |= 8
	}
	rm := uint8(bits(w, 6, 3))

	switch bits(w, 9, 8) {
	case 0b00:
		inst.Op, inst.Format = OpADD, FormatDPReg
		inst.Rd, inst.Rn, inst.Rm = rdn, rdn, rm
	case 0b01:
		inst.Op, inst.Format = OpCMP, FormatDPReg
		inst.Rn, inst.Rm = rdn, rm
		inst.SetFlags = true
	case 0b10:
		inst.Op, inst.Format = OpMOV, FormatDPReg
		inst.Rd, inst.Rm = rdn, rm
	case 0b11:
		inst.Format = FormatBranchReg
		inst.Rm = rm
		if bit(w, 7) {
			inst.Op = OpBLX
		} else {
			inst.Op = OpBX
		}
	}
}

var loadStoreReg16 = [8]Op{OpSTR, OpSTRH, OpSTRB, OpLDRSB, OpLDR, OpLDRH, OpLDRB, OpLDRSH}

// decodeLoadStoreReg16 decodes register-offset loads and stores.
func (d *ThumbDecoder) decodeLoadStoreReg16(w uint32, inst *Instruction) {
	inst.Op = loadStoreReg16[bits(w, 11, 9)]
	inst.Format = FormatLoadStoreReg
	inst.Rd = uint8(bits(w, 2, 0))
	inst.Rn = uint8(bits(w, 5, 3))
	inst.Rm = uint8(bits(w, 8, 6))
	inst.Index, inst.Add = true, true
}

// decodeLoadStoreImm16 decodes immediate-offset loads and stores, including
// the SP-relative forms.
func (d *ThumbDecoder) decodeLoadStoreImm16(w uint32, inst *Instruction) {
	inst.Format = FormatLoadStore
	inst.Index, inst.Add = true, true
	load := bit(w, 11)
	inst.Rd = uint8(bits(w, 2, 0))
	inst.Rn = uint8(bits(w, 5, 3))
	imm5 := bits(w, 10, 6)

	switch w >> 12 {
	case 0b0110:
		inst.Op = pick(load, OpLDR, OpSTR)
		inst.Imm = imm5 << 2
	case 0b0111:
		inst.Op = pick(load, OpLDRB, OpSTRB)
		inst.Imm = imm5
	case 0b1000:
		inst.Op = pick(load, OpLDRH, OpSTRH)
		inst.Imm = imm5 << 1
	case 0b1001:
		inst.Op = pick(load, OpLDR, OpSTR)
		inst.Rd = uint8(bits(w, 10, 8))
		inst.Rn = 13
		inst.Imm = bits(w, 7, 0) << 2
	}
}

func pick(cond bool, a, b Op) Op {
	if cond {
		return a
	}
	return b
}

// decodeMisc16 decodes the 1011 miscellaneous group.
func (d *ThumbDecoder) decodeMisc16(w uint32, inst *Instruction) {
	switch {
	case w>>8 == 0b10110000:
		inst.Format = FormatDPImm
		inst.Op = pick(bit(w, 7), OpSUB, OpADD)
		inst.Rd, inst.Rn = 13, 13
		inst.Imm = bits(w, 6, 0) << 2
	case w&0xF500 == 0xB100:
		inst.Format = FormatCompareBranch
		inst.Op = pick(bit(w, 11), OpCBNZ, OpCBZ)
		inst.Rn = uint8(bits(w, 2, 0))
		inst.BranchOffset = int32(bits(w, 9, 9)<<6 | bits(w, 7, 3)<<1)
	case w>>8 == 0b10110010:
		inst.Format = FormatExtend
		inst.Op = [4]Op{OpSXTH, OpSXTB, OpUXTH, OpUXTB}[bits(w, 7, 6)]
		inst.Rd = uint8(bits(w, 2, 0))
		inst.Rm = uint8(bits(w, 5, 3))
		inst.Rn = 15
	case w>>9 == 0b1011010:
		inst.Format = FormatLoadStoreMulti
		inst.Op = OpPUSH
		inst.Rn = 13
		inst.RegList = uint16(bits(w, 7, 0))
		if bit(w, 8) {
			inst.RegList |= 1 << 14
		}
		inst.WriteBack = true
	case w&0xFFE8 == 0xB660:
		inst.Format = FormatSystem
		inst.Op = pick(bit(w, 4), OpCPSID, OpCPSIE)
		inst.Imm = bits(w, 2, 0)
	case w>>8 == 0b10111010:
		inst.Format = FormatExtend
		inst.Rd = uint8(bits(w, 2, 0))
		inst.Rm = uint8(bits(w, 5, 3))
		switch bits(w, 7, 6) {
		case 0b00:
			inst.Op = OpREV
		case 0b01:
			inst.Op = OpREV16
		case 0b11:
			inst.Op = OpREVSH
		default:
			inst.Format = FormatUnknown
		}
	case w>>9 == 0b1011110:
		inst.Format = FormatLoadStoreMulti
		inst.Op = OpPOP
		inst.Rn = 13
		inst.RegList = uint16(bits(w, 7, 0))
		if bit(w, 8) {
			inst.RegList |= 1 << 15
		}
		inst.WriteBack = true
	case w>>8 == 0b10111110:
		inst.Format = FormatSystem
		inst.Op = OpBKPT
		inst.Imm = bits(w, 7, 0)
	case w>>8 == 0b10111111:
		inst.Format = FormatSystem
		if bits(w, 3, 0) != 0 {
			inst.Op = OpIT
			inst.Cond = Cond(bits(w, 7, 4))
			inst.Mask = uint8(bits(w, 3, 0))
			return
		}
		switch bits(w, 7, 4) {
		case 0:
			inst.Op = OpNOP
		case 1:
			inst.Op = OpYIELD
		case 2:
			inst.Op = OpWFE
		case 3:
			inst.Op = OpWFI
		case 4:
			inst.Op = OpSEV
		default:
			inst.Op = OpNOP
		}
	}
}

// decodeCondBranch16 decodes B<cond>, UDF and SVC.
func (d *ThumbDecoder) decodeCondBranch16(w uint32, inst *Instruction) {
	cond := bits(w, 11, 8)
	switch cond {
	case 0b1110:
		inst.Format = FormatSystem
		inst.Op = OpUDF
		inst.Imm = bits(w, 7, 0)
	case 0b1111:
		inst.Format = FormatSystem
		inst.Op = OpSVC
		inst.Imm = bits(w, 7, 0)
	default:
		inst.Format = FormatBranchCond
		inst.Op = OpB
		inst.Cond = Cond(cond)
		inst.BranchOffset = signExtend(bits(w, 7, 0)<<1, 9)
	}
}

// decode32 decodes a 32-bit Thumb-2 instruction.
func (d *ThumbDecoder) decode32(h1, h2 uint16, inst *Instruction) {
	a := uint32(h1)
	b := uint32(h2)
	op1 := bits(a, 12, 11)
	op2 := bits(a, 10, 4)

	switch op1 {
	case 0b01:
		switch {
		case op2&0b1100100 == 0b0000000:
			d.decodeLoadStoreMultiple(a, b, inst)
		case op2&0b1100100 == 0b0000100:
			d.decodeLoadStoreDual(a, b, inst)
		case op2&0b1100000 == 0b0100000:
			d.decodeDataProcessingShifted(a, b, inst)
		}
	case 0b10:
		switch {
		case bit(b, 15):
			d.decodeBranchMisc(a, b, inst)
		case !bit(a, 9):
			d.decodeModifiedImm(a, b, inst)
		default:
			d.decodePlainImm(a, b, inst)
		}
	case 0b11:
		switch {
		case op2&0b1110001 == 0b0000000:
			d.decodeLoadStoreSingle(a, b, inst, false)
		case op2&0b1100001 == 0b0000001:
			d.decodeLoadStoreSingle(a, b, inst, true)
		case op2&0b1110000 == 0b0100000:
			d.decodeDataProcessingReg32(a, b, inst)
		case op2&0b1111000 == 0b0110000:
			d.decodeMultiply(a, b, inst)
		case op2&0b1111000 == 0b0111000:
			d.decodeLongMultiplyDivide(a, b, inst)
		}
	}
}

// decodeLoadStoreMultiple decodes LDM/STM (IA and DB) including PUSH.W/POP.W.
func (d *ThumbDecoder) decodeLoadStoreMultiple(a, b uint32, inst *Instruction) {
	inst.Format = FormatLoadStoreMulti
	inst.Rn = uint8(bits(a, 3, 0))
	inst.RegList = uint16(b)
	inst.WriteBack = bit(a, 5)
	load := bit(a, 4)

	switch bits(a, 8, 7) {
	case 0b01:
		inst.Op = pick(load, OpLDM, OpSTM)
		if load && inst.Rn == 13 && inst.WriteBack {
			inst.Op = OpPOP
		}
	case 0b10:
		inst.Op = pick(load, OpLDMDB, OpSTMDB)
		if !load && inst.Rn == 13 && inst.WriteBack {
			inst.Op = OpPUSH
		}
	default:
		inst.Format = FormatUnknown
	}
}

// decodeLoadStoreDual decodes LDRD/STRD, exclusives and table branches.
func (d *ThumbDecoder) decodeLoadStoreDual(a, b uint32, inst *Instruction) {
	opA := bits(a, 8, 7)
	opB := bits(a, 5, 4)
	inst.Rn = uint8(bits(a, 3, 0))
	inst.Rd = uint8(bits(b, 15, 12))

	switch {
	case opA == 0b00 && opB == 0b00:
		inst.Op = OpSTREX
		inst.Format = FormatLoadStore
		inst.Ra = uint8(bits(b, 11, 8)) // status register
		inst.Imm = bits(b, 7, 0) << 2
		inst.Index, inst.Add = true, true
	case opA == 0b00 && opB == 0b01:
		inst.Op = OpLDREX
		inst.Format = FormatLoadStore
		inst.Imm = bits(b, 7, 0) << 2
		inst.Index, inst.Add = true, true
	case opA == 0b01 && opB == 0b01 && bits(b, 7, 5) == 0:
		inst.Format = FormatTableBranch
		inst.Op = pick(bit(b, 4), OpTBH, OpTBB)
		inst.Rm = uint8(bits(b, 3, 0))
	case opA&0b10 == 0 && opB&0b10 == 0:
		// remaining exclusive byte/halfword forms
	default:
		inst.Format = FormatLoadStoreDual
		inst.Op = pick(bit(a, 4), OpLDRD, OpSTRD)
		inst.Ra = uint8(bits(b, 11, 8))
		inst.Imm = bits(b, 7, 0) << 2
		inst.Index = bit(a, 8)
		inst.Add = bit(a, 7)
		inst.WriteBack = bit(a, 5)
	}
}

// dataProcessingOps maps the 4-bit Thumb-2 data-processing opcode.
var dataProcessingOps = [16]Op{
	OpAND, OpBIC, OpORR, OpORN, OpEOR, OpUnknown, OpUnknown, OpUnknown,
	OpADD, OpUnknown, OpADC, OpSBC, OpUnknown, OpSUB, OpRSB, OpUnknown,
}

// applyDataProcessingAliases resolves TST/TEQ/CMN/CMP and MOV/MVN aliases
// that are encoded with Rd or Rn set to 0b1111.
func applyDataProcessingAliases(inst *Instruction) {
	if inst.Rd == 15 && inst.SetFlags {
		switch inst.Op {
		case OpAND:
			inst.Op = OpTST
		case OpEOR:
			inst.Op = OpTEQ
		case OpADD:
			inst.Op = OpCMN
		case OpSUB:
			inst.Op = OpCMP
		}
	}
	if inst.Rn == 15 {
		switch inst.Op {
		case OpORR:
			inst.Op = OpMOV
		case OpORN:
			inst.Op = OpMVN
		}
	}
}

// decodeDataProcessingShifted decodes data processing (shifted register).
func (d *ThumbDecoder) decodeDataProcessingShifted(a, b uint32, inst *Instruction) {
	inst.Format = FormatDPReg
	inst.Op = dataProcessingOps[bits(a, 8, 5)]
	if inst.Op == OpUnknown {
		inst.Format = FormatUnknown
		return
	}
	inst.SetFlags = bit(a, 4)
	inst.Rn = uint8(bits(a, 3, 0))
	inst.Rd = uint8(bits(b, 11, 8))
	inst.Rm = uint8(bits(b, 3, 0))
	typ := ShiftType(bits(b, 5, 4))
	amount := uint8(bits(b, 14, 12)<<2 | bits(b, 7, 6))
	inst.ShiftType, inst.ShiftAmount = decodeImmShift(typ, amount)
	applyDataProcessingAliases(inst)

	// MOV with a shift is the canonical LSL/LSR/ASR/ROR/RRX immediate form.
	if inst.Op == OpMOV && (inst.ShiftAmount != 0 || inst.ShiftType == ShiftRRX) {
		inst.Op = [5]Op{OpLSL, OpLSR, OpASR, OpROR, OpRRX}[inst.ShiftType]
	}
}

// decodeImmShift normalizes an encoded shift the way DecodeImmShift does in
// the architecture manual.
func decodeImmShift(typ ShiftType, amount uint8) (ShiftType, uint8) {
	switch typ {
	case ShiftLSR, ShiftASR:
		if amount == 0 {
			return typ, 32
		}
	case ShiftROR:
		if amount == 0 {
			return ShiftRRX, 1
		}
	}
	return typ, amount
}

// ThumbExpandImm expands a 12-bit modified immediate. The returned flag is
// true when a rotation was applied, in which case the carry-out equals bit
// 31 of the result.
func ThumbExpandImm(imm12 uint32) (uint32, bool) {
	imm8 := imm12 & 0xFF
	if bits(imm12, 11, 10) == 0 {
		switch bits(imm12, 9, 8) {
		case 0b00:
			return imm8, false
		case 0b01:
			return imm8<<16 | imm8, false
		case 0b10:
			return imm8<<24 | imm8<<8, false
		default:
			return imm8<<24 | imm8<<16 | imm8<<8 | imm8, false
		}
	}
	unrotated := 0x80 | (imm12 & 0x7F)
	rot := bits(imm12, 11, 7)
	return unrotated>>rot | unrotated<<(32-rot), true
}

// decodeModifiedImm decodes data processing (modified immediate).
func (d *ThumbDecoder) decodeModifiedImm(a, b uint32, inst *Instruction) {
	inst.Format = FormatDPImm
	inst.Op = dataProcessingOps[bits(a, 8, 5)]
	if inst.Op == OpUnknown {
		inst.Format = FormatUnknown
		return
	}
	inst.SetFlags = bit(a, 4)
	inst.Rn = uint8(bits(a, 3, 0))
	inst.Rd = uint8(bits(b, 11, 8))
	imm12 := bits(a, 10, 10)<<11 | bits(b, 14, 12)<<8 | bits(b, 7, 0)
	inst.Imm, inst.ImmCarry = ThumbExpandImm(imm12)
	applyDataProcessingAliases(inst)
}

// decodePlainImm decodes data processing (plain binary immediate).
func (d *ThumbDecoder) decodePlainImm(a, b uint32, inst *Instruction) {
	inst.Rn = uint8(bits(a, 3, 0))
	inst.Rd = uint8(bits(b, 11, 8))
	imm12 := bits(a, 10, 10)<<11 | bits(b, 14, 12)<<8 | bits(b, 7, 0)

	switch bits(a, 8, 4) {
	case 0b00000:
		inst.Op, inst.Format = OpADD, FormatDPImm
		inst.Imm = imm12
		if inst.Rn == 15 {
			inst.Op = OpADR
			inst.Add = true
		}
	case 0b01010:
		inst.Op, inst.Format = OpSUB, FormatDPImm
		inst.Imm = imm12
		if inst.Rn == 15 {
			inst.Op = OpADR
		}
	case 0b00100, 0b01100:
		inst.Op = pick(bits(a, 8, 4) == 0b00100, OpMOVW, OpMOVT)
		inst.Format = FormatDPImm
		inst.Imm = bits(a, 3, 0)<<12 | imm12
	case 0b10100, 0b11100:
		inst.Op = pick(bits(a, 8, 4) == 0b10100, OpSBFX, OpUBFX)
		inst.Format = FormatBitfield
		inst.Lsb = uint8(bits(b, 14, 12)<<2 | bits(b, 7, 6))
		inst.Width = uint8(bits(b, 4, 0)) + 1
	case 0b10110:
		inst.Format = FormatBitfield
		inst.Op = OpBFI
		if inst.Rn == 15 {
			inst.Op = OpBFC
		}
		lsb := bits(b, 14, 12)<<2 | bits(b, 7, 6)
		msb := bits(b, 4, 0)
		inst.Lsb = uint8(lsb)
		if msb >= lsb {
			inst.Width = uint8(msb - lsb + 1)
		} else {
			inst.Op, inst.Format = OpUnknown, FormatUnknown
		}
	}
}

// decodeBranchMisc decodes branches and miscellaneous control.
func (d *ThumbDecoder) decodeBranchMisc(a, b uint32, inst *Instruction) {
	s := bits(a, 10, 10)
	j1 := bits(b, 13, 13)
	j2 := bits(b, 11, 11)

	switch {
	case bit(b, 12):
		// B.W (T4) and BL share the same offset layout.
		i1 := ^(j1 ^ s) & 1
		i2 := ^(j2 ^ s) & 1
		imm := s<<24 | i1<<23 | i2<<22 | bits(a, 9, 0)<<12 | bits(b, 10, 0)<<1
		inst.BranchOffset = signExtend(imm, 25)
		inst.Format = FormatBranch
		inst.Op = pick(bit(b, 14), OpBL, OpB)
	case bit(b, 14):
		// BLX immediate does not exist on M-profile.
	case bits(a, 9, 7) != 0b111:
		imm := s<<20 | j2<<19 | j1<<18 | bits(a, 5, 0)<<12 | bits(b, 10, 0)<<1
		inst.BranchOffset = signExtend(imm, 21)
		inst.Cond = Cond(bits(a, 9, 6))
		inst.Format = FormatBranchCond
		inst.Op = OpB
	default:
		d.decodeMiscControl(a, b, inst)
	}
}

// decodeMiscControl decodes MSR/MRS, hints and barriers.
func (d *ThumbDecoder) decodeMiscControl(a, b uint32, inst *Instruction) {
	inst.Format = FormatSystem
	switch bits(a, 10, 4) {
	case 0b0111000, 0b0111001:
		inst.Op = OpMSR
		inst.Rn = uint8(bits(a, 3, 0))
		inst.SysReg = SysReg(bits(b, 7, 0))
		inst.Mask = uint8(bits(b, 11, 10))
	case 0b0111010:
		switch bits(b, 7, 0) {
		case 1:
			inst.Op = OpYIELD
		case 2:
			inst.Op = OpWFE
		case 3:
			inst.Op = OpWFI
		case 4:
			inst.Op = OpSEV
		default:
			inst.Op = OpNOP
		}
	case 0b0111011:
		switch bits(b, 7, 4) {
		case 0b0010:
			inst.Op = OpCLREX
		case 0b0100:
			inst.Op = OpDSB
		case 0b0101:
			inst.Op = OpDMB
		case 0b0110:
			inst.Op = OpISB
		}
	case 0b0111110, 0b0111111:
		inst.Op = OpMRS
		inst.Rd = uint8(bits(b, 11, 8))
		inst.SysReg = SysReg(bits(b, 7, 0))
	case 0b1111111:
		if bits(b, 14, 12) == 0b010 {
			inst.Op = OpUDF
			inst.Imm = bits(a, 3, 0)<<12 | bits(b, 11, 0)
		}
	}
	if inst.Op == OpUnknown {
		inst.Format = FormatUnknown
	}
}

// decodeLoadStoreSingle decodes single loads and stores of all widths.
func (d *ThumbDecoder) decodeLoadStoreSingle(a, b uint32, inst *Instruction, load bool) {
	signed := bit(a, 8)
	size := bits(a, 6, 5)
	inst.Rn = uint8(bits(a, 3, 0))
	inst.Rd = uint8(bits(b, 15, 12))

	switch {
	case size == 0b11:
		return
	case signed && !load:
		return
	case load:
		inst.Op = [2][3]Op{
			{OpLDRB, OpLDRH, OpLDR},
			{OpLDRSB, OpLDRSH, OpUnknown},
		}[boolIndex(signed)][size]
	default:
		inst.Op = [3]Op{OpSTRB, OpSTRH, OpSTR}[size]
	}
	if inst.Op == OpUnknown {
		return
	}

	switch {
	case load && inst.Rn == 15:
		inst.Format = FormatLoadStoreLit
		inst.Add = bit(a, 7)
		inst.Imm = bits(b, 11, 0)
	case bit(a, 7):
		inst.Format = FormatLoadStore
		inst.Index, inst.Add = true, true
		inst.Imm = bits(b, 11, 0)
	case bit(b, 11):
		inst.Format = FormatLoadStore
		inst.Index = bit(b, 10)
		inst.Add = bit(b, 9)
		inst.WriteBack = bit(b, 8)
		inst.Imm = bits(b, 7, 0)
	case bits(b, 11, 6) == 0:
		inst.Format = FormatLoadStoreReg
		inst.Index, inst.Add = true, true
		inst.Rm = uint8(bits(b, 3, 0))
		inst.ShiftType = ShiftLSL
		inst.ShiftAmount = uint8(bits(b, 5, 4))
	default:
		inst.Op = OpUnknown
		return
	}

	// Loads of sub-word width into PC are preload hints.
	if load && inst.Rd == 15 && inst.Op != OpLDR {
		inst.Op, inst.Format = OpNOP, FormatSystem
	}
}

func boolIndex(b bool) int {
	if b {
		return 1
	}
	return 0
}

// decodeDataProcessingReg32 decodes register shifts, extends and the
// miscellaneous operations (REV, RBIT, CLZ).
func (d *ThumbDecoder) decodeDataProcessingReg32(a, b uint32, inst *Instruction) {
	inst.Rn = uint8(bits(a, 3, 0))
	inst.Rd = uint8(bits(b, 11, 8))
	inst.Rm = uint8(bits(b, 3, 0))
	op1 := bits(a, 7, 4)

	switch {
	case op1&0b1000 == 0 && bits(b, 7, 4) == 0:
		inst.Format = FormatDPRegShift
		inst.Op = [4]Op{OpLSL, OpLSR, OpASR, OpROR}[bits(a, 6, 5)]
		inst.SetFlags = bit(a, 4)
	case op1 <= 0b0101 && bit(b, 7):
		// Rn other than PC selects the extend-and-add form.
		add := inst.Rn != 15
		switch op1 {
		case 0b0000:
			inst.Op = pick(add, OpSXTAH, OpSXTH)
		case 0b0001:
			inst.Op = pick(add, OpUXTAH, OpUXTH)
		case 0b0100:
			inst.Op = pick(add, OpSXTAB, OpSXTB)
		case 0b0101:
			inst.Op = pick(add, OpUXTAB, OpUXTB)
		default:
			return
		}
		inst.Format = FormatExtend
		inst.Lsb = uint8(bits(b, 5, 4) << 3)
	case op1&0b1100 == 0b1000 && bits(b, 7, 6) == 0b10:
		inst.Format = FormatExtend
		switch bits(a, 5, 4)<<2 | bits(b, 5, 4) {
		case 0b0100:
			inst.Op = OpREV
		case 0b0101:
			inst.Op = OpREV16
		case 0b0110:
			inst.Op = OpRBIT
		case 0b0111:
			inst.Op = OpREVSH
		case 0b1100:
			inst.Op = OpCLZ
		default:
			inst.Format = FormatUnknown
		}
	}
}

// decodeMultiply decodes MUL/MLA/MLS.
func (d *ThumbDecoder) decodeMultiply(a, b uint32, inst *Instruction) {
	if bits(a, 6, 4) != 0 {
		return
	}
	inst.Format = FormatMultiply
	inst.Rn = uint8(bits(a, 3, 0))
	inst.Ra = uint8(bits(b, 15, 12))
	inst.Rd = uint8(bits(b, 11, 8))
	inst.Rm = uint8(bits(b, 3, 0))

	switch bits(b, 5, 4) {
	case 0b00:
		inst.Op = OpMLA
		if inst.Ra == 15 {
			inst.Op = OpMUL
		}
	case 0b01:
		inst.Op = OpMLS
	default:
		inst.Format = FormatUnknown
	}
}

// decodeLongMultiplyDivide decodes SMULL/UMULL/SMLAL/UMLAL/SDIV/UDIV.
func (d *ThumbDecoder) decodeLongMultiplyDivide(a, b uint32, inst *Instruction) {
	inst.Format = FormatMultiply
	inst.Rn = uint8(bits(a, 3, 0))
	inst.Rd = uint8(bits(b, 15, 12)) // RdLo
	inst.Ra = uint8(bits(b, 11, 8))  // RdHi
	inst.Rm = uint8(bits(b, 3, 0))

	switch bits(a, 6, 4)<<4 | bits(b, 7, 4) {
	case 0b000_0000:
		inst.Op = OpSMULL
	case 0b010_0000:
		inst.Op = OpUMULL
	case 0b100_0000:
		inst.Op = OpSMLAL
	case 0b110_0000:
		inst.Op = OpUMLAL
	case 0b001_1111:
		inst.Op = OpSDIV
		inst.Rd = inst.Ra
	case 0b011_1111:
		inst.Op = OpUDIV
		inst.Rd = inst.Ra
	default:
		inst.Format = FormatUnknown
	}
}
