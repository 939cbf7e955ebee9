package emu

import (
	"math/bits"

	"github.com/sarchlab/mcusim/insts"
)

// shiftTypeOf maps a register-shift opcode to its shift type.
func shiftTypeOf(op insts.Op) insts.ShiftType {
	switch op {
	case insts.OpLSR:
		return insts.ShiftLSR
	case insts.OpASR:
		return insts.ShiftASR
	case insts.OpROR:
		return insts.ShiftROR
	}
	return insts.ShiftLSL
}

// execDataProcessing executes immediate, shifted-register and
// register-shift data processing.
func (c *CortexM) execDataProcessing(inst *insts.Instruction, setFlags bool) {
	switch inst.Op {
	case insts.OpADR:
		if inst.Add {
			c.writeReg(inst.Rd, c.alignedPC()+inst.Imm)
		} else {
			c.writeReg(inst.Rd, c.alignedPC()-inst.Imm)
		}
		return
	case insts.OpMOVW:
		c.writeReg(inst.Rd, inst.Imm)
		return
	case insts.OpMOVT:
		c.writeReg(inst.Rd, c.regFile.R[inst.Rd]&0xFFFF|inst.Imm<<16)
		return
	}

	x := c.readReg(inst.Rn)
	carry := c.regFile.PSTATE.C
	var y uint32

	switch inst.Format {
	case insts.FormatDPImm:
		y = inst.Imm
		if inst.ImmCarry {
			carry = y>>31 != 0
		}
	case insts.FormatDPReg:
		y, carry = ShiftC(c.readReg(inst.Rm), inst.ShiftType, uint32(inst.ShiftAmount), carry)
	case insts.FormatDPRegShift:
		amount := c.readReg(inst.Rm) & 0xFF
		y, carry = ShiftC(x, shiftTypeOf(inst.Op), amount, carry)
	}

	var (
		r     uint32
		write bool
	)
	if IsArith(inst.Op) {
		r, write = c.alu.Arith(inst.Op, x, y, setFlags)
	} else {
		r, write = c.alu.Logic(inst.Op, x, y, carry, setFlags)
	}

	if write {
		c.writeReg(inst.Rd, r)
	}
}

// execMultiply executes 32-bit and long multiplies and divides.
func (c *CortexM) execMultiply(inst *insts.Instruction, setFlags bool) {
	rn := c.regFile.R[inst.Rn]
	rm := c.regFile.R[inst.Rm]

	switch inst.Op {
	case insts.OpMUL:
		r := rn * rm
		if setFlags {
			c.alu.setNZ(r)
		}
		c.writeReg(inst.Rd, r)
	case insts.OpMLA:
		c.writeReg(inst.Rd, c.regFile.R[inst.Ra]+rn*rm)
	case insts.OpMLS:
		c.writeReg(inst.Rd, c.regFile.R[inst.Ra]-rn*rm)
	case insts.OpUMULL, insts.OpSMULL, insts.OpUMLAL, insts.OpSMLAL:
		var r uint64
		switch inst.Op {
		case insts.OpUMULL, insts.OpUMLAL:
			r = uint64(rn) * uint64(rm)
		default:
			r = uint64(int64(int32(rn)) * int64(int32(rm)))
		}
		if inst.Op == insts.OpUMLAL || inst.Op == insts.OpSMLAL {
			r += uint64(c.regFile.R[inst.Ra])<<32 | uint64(c.regFile.R[inst.Rd])
		}
		c.writeReg(inst.Rd, uint32(r))
		c.writeReg(inst.Ra, uint32(r>>32))
	case insts.OpUDIV:
		var r uint32
		if rm != 0 {
			r = rn / rm
		}
		c.writeReg(inst.Rd, r)
	case insts.OpSDIV:
		var r uint32
		switch {
		case rm == 0:
		case rn == 0x80000000 && rm == 0xFFFFFFFF:
			r = 0x80000000
		default:
			r = uint32(int32(rn) / int32(rm))
		}
		c.writeReg(inst.Rd, r)
	}
}

// execBitfield executes UBFX/SBFX/BFI/BFC.
func (c *CortexM) execBitfield(inst *insts.Instruction) {
	switch inst.Op {
	case insts.OpUBFX, insts.OpSBFX:
		v := BitfieldExtract(c.regFile.R[inst.Rn], inst.Lsb, inst.Width, inst.Op == insts.OpSBFX)
		c.writeReg(inst.Rd, v)
	case insts.OpBFI:
		c.writeReg(inst.Rd, BitfieldInsert(c.regFile.R[inst.Rd], c.regFile.R[inst.Rn], inst.Lsb, inst.Width))
	case insts.OpBFC:
		c.writeReg(inst.Rd, BitfieldInsert(c.regFile.R[inst.Rd], 0, inst.Lsb, inst.Width))
	}
}

// execExtend executes the sign/zero extends, byte reversals, CLZ and RBIT.
func (c *CortexM) execExtend(inst *insts.Instruction) {
	rm := c.regFile.R[inst.Rm]
	var r uint32

	switch inst.Op {
	case insts.OpSXTB, insts.OpSXTH, insts.OpUXTB, insts.OpUXTH,
		insts.OpSXTAB, insts.OpSXTAH, insts.OpUXTAB, insts.OpUXTAH:
		v := bits.RotateLeft32(rm, -int(inst.Lsb))
		switch inst.Op {
		case insts.OpSXTB, insts.OpSXTAB:
			r = uint32(int32(int8(v)))
		case insts.OpSXTH, insts.OpSXTAH:
			r = uint32(int32(int16(v)))
		case insts.OpUXTB, insts.OpUXTAB:
			r = v & 0xFF
		default:
			r = v & 0xFFFF
		}
		switch inst.Op {
		case insts.OpSXTAB, insts.OpSXTAH, insts.OpUXTAB, insts.OpUXTAH:
			r += c.regFile.R[inst.Rn]
		}
	case insts.OpREV:
		r = bits.ReverseBytes32(rm)
	case insts.OpREV16:
		r = (rm&0x00FF00FF)<<8 | (rm&0xFF00FF00)>>8
	case insts.OpREVSH:
		r = uint32(int32(int16(bits.ReverseBytes16(uint16(rm)))))
	case insts.OpCLZ:
		r = uint32(bits.LeadingZeros32(rm))
	case insts.OpRBIT:
		r = bits.Reverse32(rm)
	}

	c.writeReg(inst.Rd, r)
}
