package benchmarks

import "github.com/sarchlab/mcusim/config"

// GetMicrobenchmarks returns the standard set of microbenchmarks. Each one
// targets a single characteristic of the cycle model and leaves its result
// in r0 (a0 on RISC-V) before halting.
func GetMicrobenchmarks() []Benchmark {
	return []Benchmark{
		arithmeticSequential(),
		dependencyChain(),
		memorySequential(),
		functionCalls(),
		branchTaken(),
		multiplyChain(),
		loopSimulation(),
		rv32Loop(),
	}
}

// GetCoreBenchmarks returns a minimal set of benchmarks for quick
// validation: a loop, calls and taken branches.
func GetCoreBenchmarks() []Benchmark {
	return []Benchmark{
		loopSimulation(),
		functionCalls(),
		branchTaken(),
	}
}

// 1. Arithmetic Sequential - independent ALU operations
func arithmeticSequential() Benchmark {
	code := []uint16{
		EncodeMOVS(0, 0), EncodeMOVS(1, 0), EncodeMOVS(2, 0), EncodeMOVS(3, 0), EncodeMOVS(4, 0),
	}
	for i := 0; i < 20; i++ {
		code = append(code, EncodeADDSImm(uint8(i%5), 1))
	}
	code = append(code, EncodeBKPT(0))

	return Benchmark{
		Name:         "arithmetic_sequential",
		Description:  "20 independent ADDS over r0-r4 - measures ALU throughput",
		Arch:         config.ArchARM,
		Program:      BuildThumb(code...),
		ExpectedExit: 4,
	}
}

// 2. Dependency Chain - every instruction reads the previous result
func dependencyChain() Benchmark {
	code := []uint16{EncodeMOVS(0, 0)}
	for i := 0; i < 20; i++ {
		code = append(code, EncodeADDSImm(0, 1))
	}
	code = append(code, EncodeBKPT(0))

	return Benchmark{
		Name:         "dependency_chain",
		Description:  "20 dependent ADDS (r0 = r0 + 1)",
		Arch:         config.ArchARM,
		Program:      BuildThumb(code...),
		ExpectedExit: 20,
	}
}

// 3. Memory Sequential - stores then loads eight consecutive words
func memorySequential() Benchmark {
	code := []uint16{
		EncodeMOVS(5, 0x20),
		EncodeLSLS(5, 5, 24), // r5 = 0x20000000
		EncodeMOVS(1, 7),
	}
	for i := uint8(0); i < 8; i++ {
		code = append(code, EncodeSTR(1, 5, i*4))
	}
	code = append(code, EncodeMOVS(0, 0))
	for i := uint8(0); i < 8; i++ {
		code = append(code, EncodeLDR(2, 5, i*4), EncodeADDSReg(0, 0, 2))
	}
	code = append(code, EncodeBKPT(0))

	return Benchmark{
		Name:         "memory_sequential",
		Description:  "8 STR then 8 LDR+ADDS to consecutive RAM words",
		Arch:         config.ArchARM,
		Program:      BuildThumb(code...),
		ExpectedExit: 56,
	}
}

// 4. Function Calls - BL/BX LR pairs
func functionCalls() Benchmark {
	const calls = 5
	// Code starts at flash + 8: movs, five BLs, bkpt, then the callee.
	const start = 8
	callee := int32(start + 2 + calls*4 + 2)

	code := []uint16{EncodeMOVS(0, 0)}
	for i := int32(0); i < calls; i++ {
		addr := int32(start+2) + i*4
		hi, lo := EncodeBL(callee - (addr + 4))
		code = append(code, hi, lo)
	}
	code = append(code, EncodeBKPT(0))
	code = append(code, EncodeADDSImm(0, 1), EncodeBXLR())

	return Benchmark{
		Name:         "function_calls",
		Description:  "5 calls to a one-instruction function - measures call/return cost",
		Arch:         config.ArchARM,
		Program:      BuildThumb(code...),
		ExpectedExit: calls,
	}
}

// 5. Branch Taken - forward branches over a skipped instruction
func branchTaken() Benchmark {
	code := []uint16{EncodeMOVS(0, 0)}
	for i := 0; i < 5; i++ {
		code = append(code,
			EncodeB(0),            // skip the next instruction
			EncodeADDSImm(0, 100), // never executed
			EncodeADDSImm(0, 1),
		)
	}
	code = append(code, EncodeBKPT(0))

	return Benchmark{
		Name:         "branch_taken",
		Description:  "5 taken unconditional branches - measures the taken-branch penalty",
		Arch:         config.ArchARM,
		Program:      BuildThumb(code...),
		ExpectedExit: 5,
	}
}

// 6. Multiply Chain - dependent single-cycle multiplies
func multiplyChain() Benchmark {
	code := []uint16{EncodeMOVS(0, 1), EncodeMOVS(1, 3)}
	for i := 0; i < 5; i++ {
		code = append(code, EncodeMULS(0, 1))
	}
	code = append(code, EncodeBKPT(0))

	return Benchmark{
		Name:         "multiply_chain",
		Description:  "5 dependent MULS (r0 = r0 * 3)",
		Arch:         config.ArchARM,
		Program:      BuildThumb(code...),
		ExpectedExit: 243,
	}
}

// 7. Loop Simulation - a counted loop with a backward conditional branch
func loopSimulation() Benchmark {
	return Benchmark{
		Name:        "loop_simulation",
		Description: "10 iterations of ADDS/SUBS/BNE",
		Arch:        config.ArchARM,
		Program: BuildThumb(
			EncodeMOVS(0, 0),
			EncodeMOVS(1, 10),
			// loop:
			EncodeADDSImm(0, 1),
			EncodeSUBSImm(1, 1),
			EncodeBNE(-8),
			EncodeBKPT(0),
		),
		ExpectedExit: 10,
	}
}

// 8. RV32 Loop - the same counted loop on the RV32I board
func rv32Loop() Benchmark {
	return Benchmark{
		Name:        "rv32_loop",
		Description: "10 iterations of ADDI/ADDI/BNE on RV32I",
		Arch:        config.ArchRISCV,
		Program: BuildRV32(
			EncodeADDI(10, 0, 0),
			EncodeADDI(11, 0, 10),
			// loop:
			EncodeADDI(10, 10, 1),
			EncodeADDI(11, 11, -1),
			EncodeBNERV(11, 0, -8),
			EncodeEBREAK(),
		),
		ExpectedExit: 10,
	}
}
