package insts

// RV32Decoder decodes RISC-V RV32I (+Zicsr, +M) machine code.
type RV32Decoder struct{}

// NewRV32Decoder creates a new RV32 instruction decoder.
func NewRV32Decoder() *RV32Decoder {
	return &RV32Decoder{}
}

// RV32 major opcodes (bits [6:0]).
const (
	rvOpLoad    = 0b0000011
	rvOpMiscMem = 0b0001111
	rvOpImm     = 0b0010011
	rvOpAUIPC   = 0b0010111
	rvOpStore   = 0b0100011
	rvOpReg     = 0b0110011
	rvOpLUI     = 0b0110111
	rvOpBranch  = 0b1100011
	rvOpJALR    = 0b1100111
	rvOpJAL     = 0b1101111
	rvOpSystem  = 0b1110011
)

// Decode decodes a 32-bit RV32 instruction word. Compressed encodings (low
// two bits not 0b11) decode to OpUnknown.
func (d *RV32Decoder) Decode(word uint32) *Instruction {
	inst := &Instruction{Op: OpUnknown, Size: 4, Raw: word}
	if word&0b11 != 0b11 {
		return inst
	}

	inst.Rd = uint8(bits(word, 11, 7))
	inst.Rs1 = uint8(bits(word, 19, 15))
	inst.Rs2 = uint8(bits(word, 24, 20))
	funct3 := bits(word, 14, 12)
	funct7 := bits(word, 31, 25)

	switch word & 0x7F {
	case rvOpLUI:
		inst.Op, inst.Format = OpLUI, FormatRVU
		inst.Imm = word & 0xFFFFF000
	case rvOpAUIPC:
		inst.Op, inst.Format = OpAUIPC, FormatRVU
		inst.Imm = word & 0xFFFFF000
	case rvOpJAL:
		inst.Op, inst.Format = OpJAL, FormatRVJ
		imm := bits(word, 31, 31)<<20 | bits(word, 19, 12)<<12 |
			bits(word, 20, 20)<<11 | bits(word, 30, 21)<<1
		inst.BranchOffset = signExtend(imm, 21)
	case rvOpJALR:
		if funct3 == 0 {
			inst.Op, inst.Format = OpJALR, FormatRVI
			inst.Imm = uint32(signExtend(bits(word, 31, 20), 12))
		}
	case rvOpBranch:
		d.decodeBranch(word, funct3, inst)
	case rvOpLoad:
		ops := [8]Op{OpLB, OpLH, OpLW, OpUnknown, OpLBU, OpLHU, OpUnknown, OpUnknown}
		if op := ops[funct3]; op != OpUnknown {
			inst.Op, inst.Format = op, FormatRVI
			inst.Imm = uint32(signExtend(bits(word, 31, 20), 12))
		}
	case rvOpStore:
		ops := [8]Op{OpSB, OpSH, OpSW, OpUnknown, OpUnknown, OpUnknown, OpUnknown, OpUnknown}
		if op := ops[funct3]; op != OpUnknown {
			inst.Op, inst.Format = op, FormatRVS
			inst.Imm = uint32(signExtend(bits(word, 31, 25)<<5|bits(word, 11, 7), 12))
		}
	case rvOpImm:
		d.decodeOpImm(word, funct3, funct7, inst)
	case rvOpReg:
		d.decodeOpReg(funct3, funct7, inst)
	case rvOpMiscMem:
		inst.Op, inst.Format = OpFENCE, FormatRVSystem
	case rvOpSystem:
		d.decodeSystem(word, funct3, inst)
	}

	if inst.Op == OpUnknown {
		inst.Format = FormatUnknown
	}
	return inst
}

func (d *RV32Decoder) decodeBranch(word, funct3 uint32, inst *Instruction) {
	ops := [8]Op{OpBEQ, OpBNE, OpUnknown, OpUnknown, OpBLT, OpBGE, OpBLTU, OpBGEU}
	if ops[funct3] == OpUnknown {
		return
	}
	inst.Op, inst.Format = ops[funct3], FormatRVB
	imm := bits(word, 31, 31)<<12 | bits(word, 7, 7)<<11 |
		bits(word, 30, 25)<<5 | bits(word, 11, 8)<<1
	inst.BranchOffset = signExtend(imm, 13)
}

func (d *RV32Decoder) decodeOpImm(word, funct3, funct7 uint32, inst *Instruction) {
	inst.Format = FormatRVI
	inst.Imm = uint32(signExtend(bits(word, 31, 20), 12))

	switch funct3 {
	case 0b000:
		inst.Op = OpADDI
	case 0b010:
		inst.Op = OpSLTI
	case 0b011:
		inst.Op = OpSLTIU
	case 0b100:
		inst.Op = OpXORI
	case 0b110:
		inst.Op = OpORI
	case 0b111:
		inst.Op = OpANDI
	case 0b001:
		if funct7 == 0 {
			inst.Op = OpSLLI
			inst.Imm = uint32(inst.Rs2)
		}
	case 0b101:
		switch funct7 {
		case 0b0000000:
			inst.Op = OpSRLI
			inst.Imm = uint32(inst.Rs2)
		case 0b0100000:
			inst.Op = OpSRAI
			inst.Imm = uint32(inst.Rs2)
		}
	}
}

func (d *RV32Decoder) decodeOpReg(funct3, funct7 uint32, inst *Instruction) {
	inst.Format = FormatRVR

	switch funct7 {
	case 0b0000000:
		inst.Op = [8]Op{OpADD, OpSLL, OpSLT, OpSLTU, OpXOR, OpSRL, OpOR, OpAND}[funct3]
	case 0b0100000:
		switch funct3 {
		case 0b000:
			inst.Op = OpSUB
		case 0b101:
			inst.Op = OpSRA
		}
	case 0b0000001:
		inst.Op = [8]Op{OpMUL, OpMULH, OpMULHSU, OpMULHU, OpDIV, OpDIVU, OpREM, OpREMU}[funct3]
	}
}

func (d *RV32Decoder) decodeSystem(word, funct3 uint32, inst *Instruction) {
	inst.Format = FormatRVSystem
	inst.CSR = uint16(bits(word, 31, 20))

	if funct3 == 0 {
		switch word {
		case 0x00000073:
			inst.Op = OpECALL
		case 0x00100073:
			inst.Op = OpEBREAK
		case 0x30200073:
			inst.Op = OpMRET
		case 0x10500073:
			inst.Op = OpWFI
		}
		return
	}

	// CSR*I forms carry a 5-bit zero-extended immediate in the rs1 field.
	inst.Imm = uint32(inst.Rs1)
	inst.Op = [8]Op{
		OpUnknown, OpCSRRW, OpCSRRS, OpCSRRC,
		OpUnknown, OpCSRRWI, OpCSRRSI, OpCSRRCI,
	}[funct3]
}
