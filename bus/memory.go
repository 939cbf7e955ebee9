package bus

import "encoding/binary"

// Memory is a flat little-endian byte store backing a RAM or flash region.
type Memory struct {
	data []byte
}

// NewMemory creates a zero-filled store of the given size.
func NewMemory(size uint32) *Memory {
	return &Memory{data: make([]byte, size)}
}

// Size returns the store size in bytes.
func (m *Memory) Size() int {
	return len(m.data)
}

// Bytes exposes the underlying storage.
func (m *Memory) Bytes() []byte {
	return m.data
}

// Read reads width bytes at offset. Callers validate bounds.
func (m *Memory) Read(offset uint32, width int) uint32 {
	switch width {
	case 1:
		return uint32(m.data[offset])
	case 2:
		return uint32(binary.LittleEndian.Uint16(m.data[offset:]))
	default:
		return binary.LittleEndian.Uint32(m.data[offset:])
	}
}

// Write writes the low width bytes of value at offset.
func (m *Memory) Write(offset uint32, width int, value uint32) {
	switch width {
	case 1:
		m.data[offset] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(m.data[offset:], uint16(value))
	default:
		binary.LittleEndian.PutUint32(m.data[offset:], value)
	}
}

// Load copies data into the store at offset.
func (m *Memory) Load(offset uint32, data []byte) {
	copy(m.data[offset:], data)
}
