package cache

import (
	"github.com/sarchlab/mcusim/bus"
)

// MemoryBacking exposes a bus memory store mapped at base as a
// BackingStore.
type MemoryBacking struct {
	memory *bus.Memory
	base   uint64
}

// NewMemoryBacking creates a new MemoryBacking adapter.
func NewMemoryBacking(memory *bus.Memory, base uint32) *MemoryBacking {
	return &MemoryBacking{memory: memory, base: uint64(base)}
}

// Read fetches data from the backing memory. Bytes outside the store read
// as zero.
func (m *MemoryBacking) Read(addr uint64, size int) []byte {
	data := make([]byte, size)
	mem := m.memory.Bytes()
	for i := 0; i < size; i++ {
		off := addr + uint64(i) - m.base
		if addr+uint64(i) >= m.base && off < uint64(len(mem)) {
			data[i] = mem[off]
		}
	}
	return data
}
