// Package insts provides instruction definitions and decoding for the
// microcontroller ISAs supported by the simulator.
//
// This package implements decoding of machine code into structured
// instruction representations. It supports:
//   - ARMv7-M Thumb (16-bit) and Thumb-2 (32-bit) encodings
//   - RISC-V RV32I with the Zicsr and M extensions
//
// Thumb instructions are variable length. The first halfword tells whether a
// second halfword follows, so callers check IsThumb32 before fetching it.
//
// Usage:
//
//	decoder := insts.NewThumbDecoder()
//	h1 := uint16(0x2005) // MOVS R0, #5
//	inst := decoder.Decode(h1, 0)
//	fmt.Printf("Op: %v, Rd: %d, Imm: %d\n", inst.Op, inst.Rd, inst.Imm)
package insts
