package emu

import (
	"fmt"
	"math/bits"

	"github.com/sarchlab/mcusim/insts"
)

// ITSlot classifies the instruction the IT state currently guards.
type ITSlot uint8

// IT slots.
const (
	ITNone ITSlot = iota
	ITThen
	ITElse
)

func (s ITSlot) String() string {
	switch s {
	case ITThen:
		return "then"
	case ITElse:
		return "else"
	}
	return "none"
}

// ITState is the Thumb-2 conditional execution state. It holds the base
// condition of the block and the architectural ITSTATE byte: bits [7:4]
// are the condition of the next guarded instruction, bits [3:0] encode
// the remaining pattern with a terminating 1.
type ITState struct {
	Base  insts.Cond
	state uint8
}

// Start begins an IT block.
func (it *ITState) Start(firstcond insts.Cond, mask uint8) {
	it.Base = firstcond
	it.state = uint8(firstcond)<<4 | mask&0xF
}

// Active reports whether the next instruction is guarded.
func (it ITState) Active() bool {
	return it.state&0xF != 0
}

// Cond returns the condition guarding the next instruction.
func (it ITState) Cond() insts.Cond {
	return insts.Cond(it.state >> 4)
}

// Slot returns whether the next guarded instruction is a then or an else
// slot.
func (it ITState) Slot() ITSlot {
	switch {
	case !it.Active():
		return ITNone
	case it.Cond() == it.Base:
		return ITThen
	}
	return ITElse
}

// Last reports whether the next instruction is the last in the block.
func (it ITState) Last() bool {
	return it.state&0xF == 0b1000
}

// Remaining returns how many guarded instructions are left.
func (it ITState) Remaining() int {
	if !it.Active() {
		return 0
	}
	return 4 - bits.TrailingZeros8(it.state&0xF)
}

// Advance moves to the next slot, clearing the state after the last one.
func (it *ITState) Advance() {
	if it.state&0x7 == 0 {
		it.Clear()
		return
	}
	it.state = it.state&0xE0 | it.state<<1&0x1F
}

// Clear leaves the IT block.
func (it *ITState) Clear() {
	*it = ITState{}
}

// Bits returns the architectural ITSTATE byte.
func (it ITState) Bits() uint8 {
	return it.state
}

// SetBits restores the state from an ITSTATE byte, as after exception
// return.
func (it *ITState) SetBits(v uint8) {
	it.state = v
	if v&0xF == 0 {
		it.state = 0
	}
	it.Base = it.Cond()
}

func (it ITState) String() string {
	if !it.Active() {
		return ""
	}
	return fmt.Sprintf("%s:%s(%d left)", it.Slot(), it.Cond(), it.Remaining())
}
