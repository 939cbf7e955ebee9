package latency_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mcusim/insts"
	"github.com/sarchlab/mcusim/timing/latency"
)

var _ = Describe("Latency", func() {
	var (
		table *latency.Table
		thumb *insts.ThumbDecoder
		rv    *insts.RV32Decoder
	)

	BeforeEach(func() {
		table = latency.NewTable()
		thumb = insts.NewThumbDecoder()
		rv = insts.NewRV32Decoder()
	})

	Describe("Default Timing Values", func() {
		It("should have correct ALU latency", func() {
			config := table.Config()
			Expect(config.ALULatency).To(Equal(uint64(1)))
		})

		It("should have correct load latency", func() {
			config := table.Config()
			Expect(config.LoadLatency).To(Equal(uint64(2)))
		})

		It("should have correct taken branch penalty", func() {
			config := table.Config()
			Expect(config.BranchTakenPenalty).To(Equal(uint64(2)))
		})

		It("should have correct exception costs", func() {
			Expect(table.ExceptionEntry()).To(Equal(uint64(12)))
			Expect(table.ExceptionReturn()).To(Equal(uint64(10)))
			Expect(table.FlashWaitStates()).To(Equal(uint64(0)))
		})
	})

	Describe("ALU Instruction Latencies", func() {
		It("should return 1 cycle for MOVS immediate", func() {
			inst := thumb.Decode(0x2005, 0)
			Expect(table.GetLatency(inst)).To(Equal(uint64(1)))
		})

		It("should return 1 cycle for ADDS register", func() {
			inst := thumb.Decode(0x180A, 0)
			Expect(table.GetLatency(inst)).To(Equal(uint64(1)))
		})

		It("should return 1 cycle for RV32 ADDI", func() {
			inst := rv.Decode(0x00500093)
			Expect(table.GetLatency(inst)).To(Equal(uint64(1)))
		})
	})

	Describe("Multiply and Divide Latencies", func() {
		It("should return the multiply latency for MULS", func() {
			inst := thumb.Decode(0x4363, 0)
			Expect(table.GetLatency(inst)).To(Equal(uint64(1)))
		})

		It("should return the long multiply latency for UMULL", func() {
			// UMULL r0, r1, r2, r3
			inst := thumb.Decode(0xFBA2, 0x0103)
			Expect(inst.Op).To(Equal(insts.OpUMULL))
			Expect(table.GetLatency(inst)).To(Equal(uint64(3)))
		})

		It("should report the divide latency range", func() {
			udiv := thumb.Decode(0xFBB0, 0xF2F1)
			Expect(table.GetMinLatency(udiv)).To(Equal(uint64(2)))
			Expect(table.GetMaxLatency(udiv)).To(Equal(uint64(12)))
			Expect(table.GetLatency(udiv)).To(Equal(uint64(12)))
		})

		It("should cost RV32 DIV like UDIV", func() {
			div := rv.Decode(1<<25 | 0<<20 | 1<<15 | 4<<12 | 2<<7 | 0x33)
			Expect(table.GetLatency(div)).To(Equal(uint64(12)))
		})
	})

	Describe("Memory Instruction Latencies", func() {
		It("should return the load latency for LDR", func() {
			inst := thumb.Decode(0x6848, 0)
			Expect(table.GetLatency(inst)).To(Equal(uint64(2)))
		})

		It("should return the store latency for STR", func() {
			inst := thumb.Decode(0x6048, 0)
			Expect(table.GetLatency(inst)).To(Equal(uint64(1)))
		})

		It("should charge one cycle per extra register of PUSH and POP", func() {
			push := thumb.Decode(0xB510, 0)
			Expect(table.GetLatency(push)).To(Equal(uint64(2)))

			pop := thumb.Decode(0xBD10, 0)
			Expect(table.GetLatency(pop)).To(Equal(uint64(3)))
		})

		It("should cost RV32 LW and SW", func() {
			lw := rv.Decode(4<<20 | 5<<15 | 2<<12 | 6<<7 | 0x03)
			sw := rv.Decode(6<<20 | 5<<15 | 2<<12 | 8<<7 | 0x23)
			Expect(table.GetLatency(lw)).To(Equal(uint64(2)))
			Expect(table.GetLatency(sw)).To(Equal(uint64(1)))
		})
	})

	Describe("Cycles", func() {
		It("should add the taken penalty to a branch that writes the PC", func() {
			b := thumb.Decode(0xE7FE, 0)
			Expect(table.Cycles(b, true, false)).To(Equal(uint64(1)))
			Expect(table.Cycles(b, true, true)).To(Equal(uint64(3)))
		})

		It("should charge a skipped instruction the branch latency", func() {
			udiv := thumb.Decode(0xFBB0, 0xF2F1)
			Expect(table.Cycles(udiv, false, false)).To(Equal(uint64(1)))
		})
	})

	Describe("Instruction Type Detection", func() {
		It("should classify loads, stores and branches", func() {
			ldr := thumb.Decode(0x6848, 0)
			str := thumb.Decode(0x6048, 0)
			beq := rv.Decode(0xFE208CE3)

			Expect(table.IsLoadOp(ldr)).To(BeTrue())
			Expect(table.IsMemoryOp(ldr)).To(BeTrue())
			Expect(table.IsStoreOp(str)).To(BeTrue())
			Expect(table.IsLoadOp(str)).To(BeFalse())
			Expect(table.IsBranchOp(beq)).To(BeTrue())
			Expect(table.IsMemoryOp(beq)).To(BeFalse())
		})
	})

	Describe("Nil Instruction Handling", func() {
		It("should return 1 for nil instruction", func() {
			Expect(table.GetLatency(nil)).To(Equal(uint64(1)))
		})

		It("should return false for nil instruction memory check", func() {
			Expect(table.IsMemoryOp(nil)).To(BeFalse())
			Expect(table.IsLoadOp(nil)).To(BeFalse())
			Expect(table.IsStoreOp(nil)).To(BeFalse())
			Expect(table.IsBranchOp(nil)).To(BeFalse())
		})
	})

	Describe("Custom Configuration", func() {
		It("should use custom config values", func() {
			config := latency.DefaultTimingConfig()
			config.ALULatency = 2
			config.LoadLatency = 8
			config.BranchLatency = 3
			customTable := latency.NewTableWithConfig(config)

			Expect(customTable.GetLatency(thumb.Decode(0x2005, 0))).To(Equal(uint64(2)))
			Expect(customTable.GetLatency(thumb.Decode(0x6848, 0))).To(Equal(uint64(8)))
			Expect(customTable.GetLatency(thumb.Decode(0xE7FE, 0))).To(Equal(uint64(3)))
		})
	})
})

var _ = Describe("TimingConfig", func() {
	Describe("Default Config", func() {
		It("should create valid default config", func() {
			config := latency.DefaultTimingConfig()
			Expect(config.Validate()).To(Succeed())
		})
	})

	Describe("Validation", func() {
		It("should reject zero ALU latency", func() {
			config := latency.DefaultTimingConfig()
			config.ALULatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject zero branch latency", func() {
			config := latency.DefaultTimingConfig()
			config.BranchLatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject zero load latency", func() {
			config := latency.DefaultTimingConfig()
			config.LoadLatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject zero store latency", func() {
			config := latency.DefaultTimingConfig()
			config.StoreLatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject inverted divide latency range", func() {
			config := latency.DefaultTimingConfig()
			config.DivideLatencyMin = 20
			config.DivideLatencyMax = 10
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject a flash cache line size that is not a power of two", func() {
			config := latency.DefaultTimingConfig()
			config.FlashCacheLines = 32
			config.FlashCacheLineSize = 24
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should ignore the line size while the flash cache is off", func() {
			config := latency.DefaultTimingConfig()
			config.FlashCacheLineSize = 24
			Expect(config.Validate()).To(Succeed())
		})
	})

	Describe("Clone", func() {
		It("should create independent copy", func() {
			original := latency.DefaultTimingConfig()
			clone := original.Clone()

			clone.ALULatency = 100

			Expect(original.ALULatency).To(Equal(uint64(1)))
			Expect(clone.ALULatency).To(Equal(uint64(100)))
		})
	})

	Describe("File Operations", func() {
		var tempDir string

		BeforeEach(func() {
			var err error
			tempDir, err = os.MkdirTemp("", "latency-test")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			_ = os.RemoveAll(tempDir)
		})

		It("should save and load config", func() {
			original := latency.DefaultTimingConfig()
			original.ALULatency = 5
			original.LoadLatency = 10

			path := filepath.Join(tempDir, "timing.json")
			Expect(original.SaveConfig(path)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.ALULatency).To(Equal(uint64(5)))
			Expect(loaded.LoadLatency).To(Equal(uint64(10)))
		})

		It("should keep defaults for fields missing from the file", func() {
			path := filepath.Join(tempDir, "partial.json")
			err := os.WriteFile(path, []byte(`{"flash_wait_states": 5}`), 0644)
			Expect(err).NotTo(HaveOccurred())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.FlashWaitStates).To(Equal(uint64(5)))
			Expect(loaded.ExceptionEntryLatency).To(Equal(uint64(12)))
		})

		It("should return error for non-existent file", func() {
			_, err := latency.LoadConfig("/nonexistent/path/timing.json")
			Expect(err).To(HaveOccurred())
		})

		It("should return error for invalid JSON", func() {
			path := filepath.Join(tempDir, "invalid.json")
			err := os.WriteFile(path, []byte("not valid json"), 0644)
			Expect(err).NotTo(HaveOccurred())

			_, err = latency.LoadConfig(path)
			Expect(err).To(HaveOccurred())
		})
	})
})
