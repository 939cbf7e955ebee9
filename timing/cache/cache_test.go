package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mcusim/bus"
	"github.com/sarchlab/mcusim/timing/cache"
)

var _ = Describe("Cache", func() {
	var (
		c       *cache.Cache
		memory  *bus.Memory
		backing *cache.MemoryBacking
	)

	BeforeEach(func() {
		memory = bus.NewMemory(0x4000)
		backing = cache.NewMemoryBacking(memory, 0x08000000)
		// Small cache for testing: 256B, 4-way, 16B lines
		config := cache.Config{
			Size:          256,
			Associativity: 4,
			BlockSize:     16,
			HitLatency:    0,
			MissLatency:   3,
		}
		c = cache.New(config, backing)
	})

	Describe("Read operations", func() {
		It("should miss on cold cache", func() {
			memory.Write(0x100, 4, 0xDEADBEEF)

			result := c.Read(0x08000100, 4)
			Expect(result.Hit).To(BeFalse())
			Expect(result.Latency).To(Equal(uint64(3)))
			Expect(result.Data).To(Equal(uint64(0xDEADBEEF)))

			stats := c.Stats()
			Expect(stats.Reads).To(Equal(uint64(1)))
			Expect(stats.Misses).To(Equal(uint64(1)))
			Expect(stats.Hits).To(Equal(uint64(0)))
		})

		It("should hit on cached data", func() {
			memory.Write(0x100, 4, 0xCAFEBABE)

			c.Read(0x08000100, 4)

			result := c.Read(0x08000100, 4)
			Expect(result.Hit).To(BeTrue())
			Expect(result.Latency).To(Equal(uint64(0)))
			Expect(result.Data).To(Equal(uint64(0xCAFEBABE)))
		})

		It("should hit on different addresses in same line", func() {
			memory.Write(0x100, 2, 0x1111)
			memory.Write(0x10E, 2, 0x2222)

			c.Read(0x08000100, 2)

			result := c.Read(0x0800010E, 2)
			Expect(result.Hit).To(BeTrue())
			Expect(result.Data).To(Equal(uint64(0x2222)))
		})

		It("should read zero outside the backing store", func() {
			result := c.Read(0x00000010, 4)
			Expect(result.Hit).To(BeFalse())
			Expect(result.Data).To(Equal(uint64(0)))
		})
	})

	Describe("Eviction", func() {
		// 256B / (4 ways * 16B) = 4 sets, so lines 64 bytes apart share
		// a set.
		It("should evict the least recently used line when a set is full", func() {
			for i := uint64(0); i < 4; i++ {
				c.Read(0x08000000+i*64, 4)
			}
			for i := uint64(1); i < 4; i++ {
				Expect(c.Read(0x08000000+i*64, 4).Hit).To(BeTrue())
			}

			result := c.Read(0x08000100, 4)
			Expect(result.Hit).To(BeFalse())
			Expect(result.Evicted).To(BeTrue())
			Expect(result.EvictedAddr).To(Equal(uint64(0x08000000)))
			Expect(c.Stats().Evictions).To(Equal(uint64(1)))
		})
	})

	Describe("Invalidate and Reset", func() {
		It("should miss after a line is invalidated", func() {
			c.Read(0x08000020, 4)
			c.Invalidate(0x08000024)
			Expect(c.Read(0x08000020, 4).Hit).To(BeFalse())
		})

		It("should drop every line and the statistics on reset", func() {
			c.Read(0x08000020, 4)
			c.Reset()

			Expect(c.Stats()).To(Equal(cache.Statistics{}))
			Expect(c.Read(0x08000020, 4).Hit).To(BeFalse())
		})
	})

	Describe("Default configuration", func() {
		It("should model a 64-line flash accelerator", func() {
			config := cache.DefaultFlashConfig(2)
			Expect(config.Size).To(Equal(64 * 16))
			Expect(config.BlockSize).To(Equal(16))
			Expect(config.MissLatency).To(Equal(uint64(2)))
			Expect(config.HitLatency).To(Equal(uint64(0)))
		})
	})
})
