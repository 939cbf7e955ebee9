// Package insts provides instruction definitions and decoding.
package insts

// Op represents an operation code shared by the Thumb and RV32I decoders.
type Op uint16

// Opcodes. Thumb and RISC-V share entries where the semantics line up
// (ADD, SUB, AND, MUL); the Format tells the executors which ISA produced
// the instruction.
const (
	OpUnknown Op = iota

	// Thumb data processing
	OpMOV
	OpMVN
	OpADD
	OpADC
	OpSUB
	OpSBC
	OpRSB
	OpAND
	OpORR
	OpORN
	OpEOR
	OpBIC
	OpTST
	OpTEQ
	OpCMP
	OpCMN
	OpLSL
	OpLSR
	OpASR
	OpROR
	OpRRX
	OpMOVW
	OpMOVT
	OpADR

	// Thumb multiply and divide
	OpMUL
	OpMLA
	OpMLS
	OpUMULL
	OpSMULL
	OpUMLAL
	OpSMLAL
	OpUDIV
	OpSDIV

	// Thumb bit manipulation
	OpSXTB
	OpSXTH
	OpUXTB
	OpUXTH
	OpSXTAB
	OpSXTAH
	OpUXTAB
	OpUXTAH
	OpREV
	OpREV16
	OpREVSH
	OpCLZ
	OpRBIT
	OpUBFX
	OpSBFX
	OpBFI
	OpBFC

	// Thumb branches
	OpB
	OpBL
	OpBX
	OpBLX
	OpCBZ
	OpCBNZ
	OpTBB
	OpTBH

	// Thumb loads and stores
	OpLDR
	OpLDRB
	OpLDRH
	OpLDRSB
	OpLDRSH
	OpSTR
	OpSTRB
	OpSTRH
	OpLDRD
	OpSTRD
	OpLDREX
	OpSTREX
	OpLDM
	OpSTM
	OpLDMDB
	OpSTMDB
	OpPUSH
	OpPOP

	// Thumb system and hints
	OpIT
	OpNOP
	OpYIELD
	OpWFI
	OpWFE
	OpSEV
	OpCPSIE
	OpCPSID
	OpSVC
	OpBKPT
	OpUDF
	OpMRS
	OpMSR
	OpDSB
	OpDMB
	OpISB
	OpCLREX

	// RV32I
	OpLUI
	OpAUIPC
	OpJAL
	OpJALR
	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpBLTU
	OpBGEU
	OpLB
	OpLH
	OpLW
	OpLBU
	OpLHU
	OpSB
	OpSH
	OpSW
	OpADDI
	OpSLTI
	OpSLTIU
	OpXORI
	OpORI
	OpANDI
	OpSLLI
	OpSRLI
	OpSRAI
	OpSLL
	OpSLT
	OpSLTU
	OpXOR
	OpSRL
	OpSRA
	OpOR
	OpFENCE
	OpECALL
	OpEBREAK
	OpMRET
	OpCSRRW
	OpCSRRS
	OpCSRRC
	OpCSRRWI
	OpCSRRSI
	OpCSRRCI

	// RV32M
	OpMULH
	OpMULHSU
	OpMULHU
	OpDIV
	OpDIVU
	OpREM
	OpREMU

	opCount
)

var opNames = [opCount]string{
	OpUnknown: "UNKNOWN",
	OpMOV:     "MOV", OpMVN: "MVN", OpADD: "ADD", OpADC: "ADC", OpSUB: "SUB",
	OpSBC: "SBC", OpRSB: "RSB", OpAND: "AND", OpORR: "ORR", OpORN: "ORN",
	OpEOR: "EOR", OpBIC: "BIC", OpTST: "TST", OpTEQ: "TEQ", OpCMP: "CMP",
	OpCMN: "CMN", OpLSL: "LSL", OpLSR: "LSR", OpASR: "ASR", OpROR: "ROR",
	OpRRX: "RRX", OpMOVW: "MOVW", OpMOVT: "MOVT", OpADR: "ADR",
	OpMUL: "MUL", OpMLA: "MLA", OpMLS: "MLS", OpUMULL: "UMULL",
	OpSMULL: "SMULL", OpUMLAL: "UMLAL", OpSMLAL: "SMLAL", OpUDIV: "UDIV",
	OpSDIV: "SDIV",
	OpSXTB: "SXTB", OpSXTH: "SXTH", OpUXTB: "UXTB", OpUXTH: "UXTH",
	OpSXTAB: "SXTAB", OpSXTAH: "SXTAH", OpUXTAB: "UXTAB", OpUXTAH: "UXTAH",
	OpREV: "REV", OpREV16: "REV16", OpREVSH: "REVSH", OpCLZ: "CLZ",
	OpRBIT: "RBIT", OpUBFX: "UBFX", OpSBFX: "SBFX", OpBFI: "BFI", OpBFC: "BFC",
	OpB: "B", OpBL: "BL", OpBX: "BX", OpBLX: "BLX", OpCBZ: "CBZ",
	OpCBNZ: "CBNZ", OpTBB: "TBB", OpTBH: "TBH",
	OpLDR: "LDR", OpLDRB: "LDRB", OpLDRH: "LDRH", OpLDRSB: "LDRSB",
	OpLDRSH: "LDRSH", OpSTR: "STR", OpSTRB: "STRB", OpSTRH: "STRH",
	OpLDRD: "LDRD", OpSTRD: "STRD", OpLDREX: "LDREX", OpSTREX: "STREX",
	OpLDM: "LDM", OpSTM: "STM", OpLDMDB: "LDMDB", OpSTMDB: "STMDB",
	OpPUSH: "PUSH", OpPOP: "POP",
	OpIT: "IT", OpNOP: "NOP", OpYIELD: "YIELD", OpWFI: "WFI", OpWFE: "WFE",
	OpSEV: "SEV", OpCPSIE: "CPSIE", OpCPSID: "CPSID", OpSVC: "SVC",
	OpBKPT: "BKPT", OpUDF: "UDF", OpMRS: "MRS", OpMSR: "MSR", OpDSB: "DSB",
	OpDMB: "DMB", OpISB: "ISB", OpCLREX: "CLREX",
	OpLUI: "LUI", OpAUIPC: "AUIPC", OpJAL: "JAL", OpJALR: "JALR",
	OpBEQ: "BEQ", OpBNE: "BNE", OpBLT: "BLT", OpBGE: "BGE", OpBLTU: "BLTU",
	OpBGEU: "BGEU", OpLB: "LB", OpLH: "LH", OpLW: "LW", OpLBU: "LBU",
	OpLHU: "LHU", OpSB: "SB", OpSH: "SH", OpSW: "SW", OpADDI: "ADDI",
	OpSLTI: "SLTI", OpSLTIU: "SLTIU", OpXORI: "XORI", OpORI: "ORI",
	OpANDI: "ANDI", OpSLLI: "SLLI", OpSRLI: "SRLI", OpSRAI: "SRAI",
	OpSLL: "SLL", OpSLT: "SLT", OpSLTU: "SLTU", OpXOR: "XOR", OpSRL: "SRL",
	OpSRA: "SRA", OpOR: "OR", OpFENCE: "FENCE", OpECALL: "ECALL",
	OpEBREAK: "EBREAK", OpMRET: "MRET", OpCSRRW: "CSRRW", OpCSRRS: "CSRRS",
	OpCSRRC: "CSRRC", OpCSRRWI: "CSRRWI", OpCSRRSI: "CSRRSI",
	OpCSRRCI: "CSRRCI",
	OpMULH: "MULH", OpMULHSU: "MULHSU", OpMULHU: "MULHU", OpDIV: "DIV",
	OpDIVU: "DIVU", OpREM: "REM", OpREMU: "REMU",
}

// String returns the mnemonic of the opcode.
func (o Op) String() string {
	if o < opCount && opNames[o] != "" {
		return opNames[o]
	}
	return "UNKNOWN"
}

// Format represents an instruction encoding format.
type Format uint8

// Instruction formats.
const (
	FormatUnknown      Format = iota
	FormatDPImm               // Data processing with an immediate operand
	FormatDPReg               // Data processing with a (shifted) register operand
	FormatDPRegShift          // Shift by register (LSL Rd, Rn, Rm)
	FormatMultiply            // MUL/MLA/MLS and long multiplies, divides
	FormatBitfield            // UBFX/SBFX/BFI/BFC
	FormatExtend              // SXTB/UXTH/REV/CLZ family
	FormatBranch              // Unconditional branch with immediate offset
	FormatBranchCond          // Conditional branch
	FormatBranchReg           // BX/BLX register
	FormatCompareBranch       // CBZ/CBNZ
	FormatTableBranch         // TBB/TBH
	FormatLoadStore           // Single load/store, immediate offset
	FormatLoadStoreReg        // Single load/store, register offset
	FormatLoadStoreLit        // PC-relative literal load
	FormatLoadStoreDual       // LDRD/STRD
	FormatLoadStoreMulti      // LDM/STM/PUSH/POP
	FormatSystem              // Hints, barriers, CPS, SVC, BKPT, IT, MRS/MSR

	FormatRVR      // RV32 register-register
	FormatRVI      // RV32 immediate, loads, JALR
	FormatRVS      // RV32 stores
	FormatRVB      // RV32 conditional branches
	FormatRVU      // RV32 LUI/AUIPC
	FormatRVJ      // RV32 JAL
	FormatRVSystem // RV32 ECALL/EBREAK/MRET/WFI/CSR*/FENCE
)

// IsRISCV reports whether the format belongs to the RV32 decoder.
func (f Format) IsRISCV() bool {
	return f >= FormatRVR
}

// Cond represents an ARM condition code.
type Cond uint8

// ARM condition codes.
const (
	CondEQ Cond = 0b0000 // Equal (Z == 1)
	CondNE Cond = 0b0001 // Not Equal (Z == 0)
	CondCS Cond = 0b0010 // Carry Set / Unsigned higher or same (C == 1)
	CondCC Cond = 0b0011 // Carry Clear / Unsigned lower (C == 0)
	CondMI Cond = 0b0100 // Minus / Negative (N == 1)
	CondPL Cond = 0b0101 // Plus / Positive or zero (N == 0)
	CondVS Cond = 0b0110 // Overflow (V == 1)
	CondVC Cond = 0b0111 // No overflow (V == 0)
	CondHI Cond = 0b1000 // Unsigned higher (C == 1 && Z == 0)
	CondLS Cond = 0b1001 // Unsigned lower or same (C == 0 || Z == 1)
	CondGE Cond = 0b1010 // Signed greater than or equal (N == V)
	CondLT Cond = 0b1011 // Signed less than (N != V)
	CondGT Cond = 0b1100 // Signed greater than (Z == 0 && N == V)
	CondLE Cond = 0b1101 // Signed less than or equal (Z == 1 || N != V)
	CondAL Cond = 0b1110 // Always (unconditional)
)

var condNames = [16]string{
	"EQ", "NE", "CS", "CC", "MI", "PL", "VS", "VC",
	"HI", "LS", "GE", "LT", "GT", "LE", "AL", "NV",
}

// String returns the condition suffix, e.g. "EQ".
func (c Cond) String() string {
	return condNames[c&0xF]
}

// Invert returns the logical negation of the condition. Conditions come in
// pairs that differ only in bit 0.
func (c Cond) Invert() Cond {
	return c ^ 1
}

// ShiftType represents a shift type for register operands.
type ShiftType uint8

// Shift types. RRX is encoded as ROR #0 and normalized by the decoder.
const (
	ShiftLSL ShiftType = 0b00 // Logical shift left
	ShiftLSR ShiftType = 0b01 // Logical shift right
	ShiftASR ShiftType = 0b10 // Arithmetic shift right
	ShiftROR ShiftType = 0b11 // Rotate right
	ShiftRRX ShiftType = 0b100
)

// SysReg identifies a special register accessed by MRS/MSR.
type SysReg uint8

// Special registers (SYSm encodings).
const (
	SysAPSR    SysReg = 0
	SysIAPSR   SysReg = 1
	SysEAPSR   SysReg = 2
	SysXPSR    SysReg = 3
	SysIPSR    SysReg = 5
	SysEPSR    SysReg = 6
	SysIEPSR   SysReg = 7
	SysMSP     SysReg = 8
	SysPSP     SysReg = 9
	SysPRIMASK SysReg = 16
	SysBASEPRI SysReg = 17
	SysBASEMAX SysReg = 18
	SysFAULTM  SysReg = 19
	SysCONTROL SysReg = 20
)

// Instruction represents a decoded instruction.
type Instruction struct {
	Op     Op     // Operation code
	Format Format // Encoding format
	Size   uint8  // Encoding length in bytes (2 or 4)
	Raw    uint32 // Raw encoding; 32-bit Thumb keeps the first halfword on top

	// Common fields
	SetFlags bool // true if the instruction always sets flags (S suffix, CMP, TST)
	// SetFlagsOutsideIT is set for 16-bit data-processing encodings that
	// update flags only when they are not inside an IT block.
	SetFlagsOutsideIT bool
	Rd                uint8 // Destination register (RdLo for long multiplies, Rt for loads)
	Rn                uint8 // First source register / base register
	Rm                uint8 // Second source register / offset register
	Ra                uint8 // Accumulator, RdHi for long multiplies, Rt2 for dual loads

	// Immediate operand
	Imm uint32
	// ImmCarry is true when the modified immediate was produced by a
	// rotation, in which case the shifter carry-out is Imm bit 31.
	ImmCarry bool

	// Branch fields
	BranchOffset int32 // Signed branch offset in bytes
	Cond         Cond  // Condition code for conditional branches and IT

	// Shift for register operand
	ShiftType   ShiftType // Type of shift applied to Rm
	ShiftAmount uint8     // Shift amount for Rm

	// Load/store addressing
	Index     bool   // Pre-indexed (offset applied before access)
	Add       bool   // Offset is added (true) or subtracted
	WriteBack bool   // Base register is updated
	RegList   uint16 // Register list for LDM/STM/PUSH/POP

	// IT mask, bitfield geometry and system register selectors
	Mask   uint8  // IT mask (4 bits)
	Lsb    uint8  // Bitfield lsb, extend rotation
	Width  uint8  // Bitfield width
	SysReg SysReg // MRS/MSR special register

	// RISC-V
	Rs1 uint8
	Rs2 uint8
	CSR uint16
}

// IsBranch reports whether the instruction may write the PC directly.
func (i *Instruction) IsBranch() bool {
	switch i.Format {
	case FormatBranch, FormatBranchCond, FormatBranchReg, FormatCompareBranch,
		FormatTableBranch, FormatRVB, FormatRVJ:
		return true
	}
	return i.Op == OpJALR
}

// IsMemory reports whether the instruction accesses data memory.
func (i *Instruction) IsMemory() bool {
	switch i.Format {
	case FormatLoadStore, FormatLoadStoreReg, FormatLoadStoreLit,
		FormatLoadStoreDual, FormatLoadStoreMulti, FormatTableBranch, FormatRVS:
		return true
	case FormatRVI:
		switch i.Op {
		case OpLB, OpLH, OpLW, OpLBU, OpLHU:
			return true
		}
	}
	return false
}

// IsLoad reports whether the instruction reads data memory into registers.
func (i *Instruction) IsLoad() bool {
	switch i.Op {
	case OpLDR, OpLDRB, OpLDRH, OpLDRSB, OpLDRSH, OpLDRD, OpLDREX, OpLDM,
		OpLDMDB, OpPOP, OpTBB, OpTBH, OpLB, OpLH, OpLW, OpLBU, OpLHU:
		return true
	}
	return false
}
