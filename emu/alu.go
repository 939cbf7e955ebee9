package emu

import (
	"math/bits"

	"github.com/sarchlab/mcusim/insts"
)

// AddWithCarry returns x + y + carry with the resulting carry and signed
// overflow, as the architecture's AddWithCarry pseudo-function.
func AddWithCarry(x, y uint32, carry bool) (result uint32, carryOut, overflow bool) {
	var cin uint32
	if carry {
		cin = 1
	}
	sum, c := bits.Add32(x, y, cin)
	result = sum
	carryOut = c != 0
	overflow = (x^result)&(y^result)&0x80000000 != 0
	return result, carryOut, overflow
}

// ShiftC applies a shift and returns the shifter carry-out. An amount of 0
// leaves the value and carry untouched, except for RRX.
func ShiftC(v uint32, typ insts.ShiftType, amount uint32, carry bool) (uint32, bool) {
	if typ == insts.ShiftRRX {
		out := v&1 != 0
		var in uint32
		if carry {
			in = 1 << 31
		}
		return v>>1 | in, out
	}
	if amount == 0 {
		return v, carry
	}

	switch typ {
	case insts.ShiftLSL:
		switch {
		case amount < 32:
			return v << amount, v>>(32-amount)&1 != 0
		case amount == 32:
			return 0, v&1 != 0
		}
		return 0, false
	case insts.ShiftLSR:
		switch {
		case amount < 32:
			return v >> amount, v>>(amount-1)&1 != 0
		case amount == 32:
			return 0, v>>31 != 0
		}
		return 0, false
	case insts.ShiftASR:
		if amount >= 32 {
			if int32(v) < 0 {
				return 0xFFFFFFFF, true
			}
			return 0, false
		}
		return uint32(int32(v) >> amount), v>>(amount-1)&1 != 0
	case insts.ShiftROR:
		amount %= 32
		if amount == 0 {
			return v, v>>31 != 0
		}
		r := bits.RotateLeft32(v, -int(amount))
		return r, r>>31 != 0
	}
	return v, carry
}

// ConditionPassed evaluates a condition code against the flags.
func ConditionPassed(cond insts.Cond, p PSTATE) bool {
	var result bool
	switch cond >> 1 {
	case 0b000:
		result = p.Z
	case 0b001:
		result = p.C
	case 0b010:
		result = p.N
	case 0b011:
		result = p.V
	case 0b100:
		result = p.C && !p.Z
	case 0b101:
		result = p.N == p.V
	case 0b110:
		result = p.N == p.V && !p.Z
	case 0b111:
		return true
	}
	if cond&1 == 1 {
		return !result
	}
	return result
}

// ALU implements Thumb data-processing operations on a register file.
type ALU struct {
	regFile *RegFile
}

// NewALU creates a new ALU connected to the given register file.
func NewALU(regFile *RegFile) *ALU {
	return &ALU{regFile: regFile}
}

// setNZ updates N and Z from a result.
func (a *ALU) setNZ(result uint32) {
	a.regFile.PSTATE.N = result>>31 != 0
	a.regFile.PSTATE.Z = result == 0
}

// setNZCV updates all four condition flags.
func (a *ALU) setNZCV(result uint32, c, v bool) {
	a.setNZ(result)
	a.regFile.PSTATE.C = c
	a.regFile.PSTATE.V = v
}

// Arith performs ADD/ADC/SUB/SBC/RSB/CMP/CMN. It returns the result and
// whether the operation writes a destination.
func (a *ALU) Arith(op insts.Op, x, y uint32, setFlags bool) (uint32, bool) {
	var (
		r    uint32
		c, v bool
	)
	carry := a.regFile.PSTATE.C
	write := true

	switch op {
	case insts.OpADD:
		r, c, v = AddWithCarry(x, y, false)
	case insts.OpADC:
		r, c, v = AddWithCarry(x, y, carry)
	case insts.OpSUB:
		r, c, v = AddWithCarry(x, ^y, true)
	case insts.OpSBC:
		r, c, v = AddWithCarry(x, ^y, carry)
	case insts.OpRSB:
		r, c, v = AddWithCarry(^x, y, true)
	case insts.OpCMP:
		r, c, v = AddWithCarry(x, ^y, true)
		write, setFlags = false, true
	case insts.OpCMN:
		r, c, v = AddWithCarry(x, y, false)
		write, setFlags = false, true
	}

	if setFlags {
		a.setNZCV(r, c, v)
	}
	return r, write
}

// Logic performs AND/ORR/ORN/EOR/BIC/MOV/MVN/TST/TEQ. carry is the shifter
// carry-out, applied to C when flags are set.
func (a *ALU) Logic(op insts.Op, x, y uint32, carry, setFlags bool) (uint32, bool) {
	var r uint32
	write := true

	switch op {
	case insts.OpAND:
		r = x & y
	case insts.OpORR:
		r = x | y
	case insts.OpORN:
		r = x | ^y
	case insts.OpEOR:
		r = x ^ y
	case insts.OpBIC:
		r = x &^ y
	case insts.OpMOV, insts.OpLSL, insts.OpLSR, insts.OpASR, insts.OpROR, insts.OpRRX:
		r = y
	case insts.OpMVN:
		r = ^y
	case insts.OpTST:
		r = x & y
		write, setFlags = false, true
	case insts.OpTEQ:
		r = x ^ y
		write, setFlags = false, true
	}

	if setFlags {
		a.setNZ(r)
		a.regFile.PSTATE.C = carry
	}
	return r, write
}

// IsArith reports whether op is an add/subtract class operation.
func IsArith(op insts.Op) bool {
	switch op {
	case insts.OpADD, insts.OpADC, insts.OpSUB, insts.OpSBC, insts.OpRSB,
		insts.OpCMP, insts.OpCMN:
		return true
	}
	return false
}

// BitfieldExtract returns width bits of v starting at lsb, sign-extended
// when signed is set.
func BitfieldExtract(v uint32, lsb, width uint8, signed bool) uint32 {
	if width == 0 || int(lsb)+int(width) > 32 {
		return 0
	}
	field := v >> lsb
	if width < 32 {
		field &= 1<<width - 1
	}
	if signed {
		shift := 32 - width
		return uint32(int32(field<<shift) >> shift)
	}
	return field
}

// BitfieldInsert replaces width bits of dst at lsb with the low bits of src.
func BitfieldInsert(dst, src uint32, lsb, width uint8) uint32 {
	if width == 0 || int(lsb)+int(width) > 32 {
		return dst
	}
	mask := uint32(0xFFFFFFFF)
	if width < 32 {
		mask = 1<<width - 1
	}
	return dst&^(mask<<lsb) | (src&mask)<<lsb
}
