// Package bus provides the system memory map: RAM and flash regions,
// peripheral-backed regions, and the address dispatch between them.
package bus

import (
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Kind classifies a memory region.
type Kind uint8

// Region kinds.
const (
	KindRAM Kind = iota
	KindFlash
	KindPeripheral
)

func (k Kind) String() string {
	switch k {
	case KindRAM:
		return "ram"
	case KindFlash:
		return "flash"
	case KindPeripheral:
		return "peripheral"
	}
	return "unknown"
}

// Accessor is the read/write capability of the bus. Bus masters other than
// the core (DMA) and the loaders depend on this rather than on *Bus.
type Accessor interface {
	Read(addr uint32, width int) (uint32, error)
	Write(addr uint32, width int, value uint32) error
}

// TickResult reports what a peripheral did during a tick.
type TickResult struct {
	// IRQs lists interrupt controller lines to raise.
	IRQs []int
	// Cycles is the number of extra bus cycles the peripheral consumed.
	Cycles uint64
}

// Peripheral is the uniform capability every memory-mapped device provides.
// Offsets are relative to the region base. Accesses at offsets the
// peripheral does not implement are ignored by the peripheral itself.
type Peripheral interface {
	Name() string
	Read(offset uint32, width int) uint32
	Write(offset uint32, width int, value uint32)
	// Peek returns the register value without read side effects.
	Peek(offset uint32) uint32
	Tick(cycles uint64) TickResult
	Reset()
}

// Region is a contiguous address range backed by memory or a peripheral.
type Region struct {
	Name string
	Base uint32
	Size uint32
	Kind Kind

	mem        *Memory
	peripheral Peripheral
}

// End returns the first address past the region.
func (r *Region) End() uint64 {
	return uint64(r.Base) + uint64(r.Size)
}

// Contains reports whether addr falls within the region.
func (r *Region) Contains(addr uint32) bool {
	return addr >= r.Base && uint64(addr) < r.End()
}

// Memory returns the backing store of a RAM or flash region.
func (r *Region) Memory() *Memory {
	return r.mem
}

// Peripheral returns the device behind a peripheral region.
func (r *Region) Peripheral() Peripheral {
	return r.peripheral
}

// Bus dispatches accesses to regions by address.
type Bus struct {
	regions     []*Region // sorted by base
	peripherals []*Region // registration order, used for ticking

	// allowUnaligned permits unaligned halfword/word accesses to memory
	// regions (ARMv7-M behavior). Peripheral accesses must always be
	// naturally aligned.
	allowUnaligned bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithUnalignedAccess permits unaligned accesses to RAM and flash.
func WithUnalignedAccess(allow bool) Option {
	return func(b *Bus) {
		b.allowUnaligned = allow
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddMemory maps a new RAM or flash region and returns its backing store.
func (b *Bus) AddMemory(name string, base, size uint32, kind Kind) (*Memory, error) {
	if kind == KindPeripheral {
		return nil, errors.NotValidf("memory region %q of kind %s", name, kind)
	}
	mem := NewMemory(size)
	if err := b.insert(&Region{Name: name, Base: base, Size: size, Kind: kind, mem: mem}); err != nil {
		return nil, errors.Trace(err)
	}
	return mem, nil
}

// AddAlias maps an existing memory store at another base address, as when
// flash is mirrored at address zero for boot.
func (b *Bus) AddAlias(name string, base uint32, target *Memory, kind Kind) error {
	r := &Region{Name: name, Base: base, Size: uint32(target.Size()), Kind: kind, mem: target}
	return errors.Trace(b.insert(r))
}

// AddPeripheral maps a peripheral over [base, base+size).
func (b *Bus) AddPeripheral(base, size uint32, p Peripheral) error {
	r := &Region{Name: p.Name(), Base: base, Size: size, Kind: KindPeripheral, peripheral: p}
	if err := b.insert(r); err != nil {
		return errors.Trace(err)
	}
	b.peripherals = append(b.peripherals, r)
	return nil
}

// insert adds a region, keeping regions sorted and rejecting overlaps.
func (b *Bus) insert(r *Region) error {
	if r.Size == 0 {
		return errors.NotValidf("zero-sized region %q", r.Name)
	}
	if r.End() > 1<<32 {
		return errors.NotValidf("region %q past the end of the address space", r.Name)
	}

	i := sort.Search(len(b.regions), func(i int) bool {
		return b.regions[i].Base >= r.Base
	})
	if i > 0 && b.regions[i-1].End() > uint64(r.Base) {
		return errors.Errorf("region %q at 0x%08x overlaps %q", r.Name, r.Base, b.regions[i-1].Name)
	}
	if i < len(b.regions) && r.End() > uint64(b.regions[i].Base) {
		return errors.Errorf("region %q at 0x%08x overlaps %q", r.Name, r.Base, b.regions[i].Name)
	}

	b.regions = append(b.regions, nil)
	copy(b.regions[i+1:], b.regions[i:])
	b.regions[i] = r
	return nil
}

// Lookup finds the region containing addr.
func (b *Bus) Lookup(addr uint32) (*Region, bool) {
	i := sort.Search(len(b.regions), func(i int) bool {
		return b.regions[i].End() > uint64(addr)
	})
	if i < len(b.regions) && b.regions[i].Contains(addr) {
		return b.regions[i], true
	}
	return nil, false
}

// Regions returns all regions sorted by base address.
func (b *Bus) Regions() []*Region {
	return b.regions
}

// Peripherals returns the peripheral regions in registration order.
func (b *Bus) Peripherals() []*Region {
	return b.peripherals
}

// resolve finds the region for an access and validates width, alignment
// and extent.
func (b *Bus) resolve(addr uint32, width int, write bool) (*Region, error) {
	if width != 1 && width != 2 && width != 4 {
		return nil, &Fault{Addr: addr, Width: width, Write: write, Kind: FaultWidth}
	}
	r, ok := b.Lookup(addr)
	if !ok {
		return nil, &Fault{Addr: addr, Width: width, Write: write, Kind: FaultUnmapped}
	}
	if uint64(addr)+uint64(width) > r.End() {
		return nil, &Fault{Addr: addr, Width: width, Write: write, Kind: FaultUnmapped}
	}
	aligned := addr%uint32(width) == 0
	if !aligned && (r.Kind == KindPeripheral || !b.allowUnaligned) {
		return nil, &Fault{Addr: addr, Width: width, Write: write, Kind: FaultMisaligned}
	}
	return r, nil
}

// Read performs a little-endian read of width bytes.
func (b *Bus) Read(addr uint32, width int) (uint32, error) {
	r, err := b.resolve(addr, width, false)
	if err != nil {
		return 0, err
	}
	if r.Kind == KindPeripheral {
		return r.peripheral.Read(addr-r.Base, width), nil
	}
	return r.mem.Read(addr-r.Base, width), nil
}

// Write performs a little-endian write of width bytes. Flash is read-only
// through the bus.
func (b *Bus) Write(addr uint32, width int, value uint32) error {
	r, err := b.resolve(addr, width, true)
	if err != nil {
		return err
	}
	switch r.Kind {
	case KindPeripheral:
		r.peripheral.Write(addr-r.Base, width, value)
	case KindFlash:
		return &Fault{Addr: addr, Width: width, Write: true, Kind: FaultReadOnly}
	default:
		r.mem.Write(addr-r.Base, width, value)
	}
	return nil
}

// Peek reads without peripheral side effects. It is used by debuggers and
// assertions.
func (b *Bus) Peek(addr uint32, width int) (uint32, error) {
	r, err := b.resolve(addr, width, false)
	if err != nil {
		return 0, err
	}
	if r.Kind == KindPeripheral {
		word := r.peripheral.Peek((addr - r.Base) &^ 3)
		shift := (addr & 3) * 8
		return (word >> shift) & widthMask(width), nil
	}
	return r.mem.Read(addr-r.Base, width), nil
}

// Load copies an image into memory regions, ignoring flash write
// protection. It does not touch peripherals.
func (b *Bus) Load(addr uint32, data []byte) error {
	for len(data) > 0 {
		r, ok := b.Lookup(addr)
		if !ok || r.Kind == KindPeripheral {
			return errors.Errorf("cannot load %d bytes at 0x%08x: no memory region", len(data), addr)
		}
		n := int(r.End() - uint64(addr))
		if n > len(data) {
			n = len(data)
		}
		r.mem.Load(addr-r.Base, data[:n])
		data = data[n:]
		addr += uint32(n)
	}
	return nil
}

// Tick advances every peripheral by the given number of cycles, in
// registration order, and collects the interrupt lines they raise.
func (b *Bus) Tick(cycles uint64) TickResult {
	var result TickResult
	for _, r := range b.peripherals {
		t := r.peripheral.Tick(cycles)
		if len(t.IRQs) > 0 && glog.V(3) {
			glog.Infof("%s raised %v", r.Name, t.IRQs)
		}
		result.IRQs = append(result.IRQs, t.IRQs...)
		result.Cycles += t.Cycles
	}
	return result
}

// Reset restores every peripheral to its reset state. Memory contents are
// left intact so that a reset re-runs the loaded image.
func (b *Bus) Reset() {
	for _, r := range b.peripherals {
		r.peripheral.Reset()
	}
}

// Checksum returns a CRC-32 over all writable memory, in address order.
// Aliases are skipped so each store is hashed once.
func (b *Bus) Checksum() uint32 {
	seen := make(map[*Memory]bool)
	h := crc32.NewIEEE()
	for _, r := range b.regions {
		if r.Kind != KindRAM || seen[r.mem] {
			continue
		}
		seen[r.mem] = true
		_, _ = h.Write(r.mem.Bytes())
	}
	return h.Sum32()
}

// String renders the memory map for logs.
func (b *Bus) String() string {
	s := ""
	for _, r := range b.regions {
		s += fmt.Sprintf("  0x%08x-0x%08x %-10s %s\n", r.Base, r.End()-1, r.Kind, r.Name)
	}
	return s
}

func widthMask(width int) uint32 {
	if width >= 4 {
		return 0xFFFFFFFF
	}
	return 1<<(uint(width)*8) - 1
}
