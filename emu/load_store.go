package emu

import (
	"math/bits"

	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/bus"
	"github.com/sarchlab/mcusim/insts"
)

// LoadStoreUnit performs data accesses for a core over the bus and keeps
// the local exclusive monitor.
type LoadStoreUnit struct {
	bus bus.Accessor

	exclusive     bool
	exclusiveAddr uint32
}

// NewLoadStoreUnit creates a new LoadStoreUnit connected to the given bus.
func NewLoadStoreUnit(b bus.Accessor) *LoadStoreUnit {
	return &LoadStoreUnit{bus: b}
}

// Load reads width bytes at addr, sign-extending sub-word values when
// signed is set.
func (lsu *LoadStoreUnit) Load(addr uint32, width int, signed bool) (uint32, error) {
	v, err := lsu.bus.Read(addr, width)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if signed {
		switch width {
		case 1:
			v = uint32(int32(int8(v)))
		case 2:
			v = uint32(int32(int16(v)))
		}
	}
	return v, nil
}

// Store writes the low width bytes of v at addr.
func (lsu *LoadStoreUnit) Store(addr uint32, width int, v uint32) error {
	return errors.Trace(lsu.bus.Write(addr, width, v))
}

// Load32 reads a word.
func (lsu *LoadStoreUnit) Load32(addr uint32) (uint32, error) {
	return lsu.Load(addr, 4, false)
}

// Store32 writes a word.
func (lsu *LoadStoreUnit) Store32(addr uint32, v uint32) error {
	return lsu.Store(addr, 4, v)
}

// MarkExclusive tags addr for a following store-exclusive.
func (lsu *LoadStoreUnit) MarkExclusive(addr uint32) {
	lsu.exclusive = true
	lsu.exclusiveAddr = addr
}

// CheckExclusive reports whether a store-exclusive to addr may proceed and
// clears the monitor.
func (lsu *LoadStoreUnit) CheckExclusive(addr uint32) bool {
	ok := lsu.exclusive && lsu.exclusiveAddr == addr
	lsu.exclusive = false
	return ok
}

// ClearExclusive clears the monitor, as CLREX and exception entry do.
func (lsu *LoadStoreUnit) ClearExclusive() {
	lsu.exclusive = false
}


// accessOf returns the width, signedness and direction of a single load or
// store opcode.
func accessOf(op insts.Op) (width int, signed, load bool) {
	switch op {
	case insts.OpLDR:
		return 4, false, true
	case insts.OpLDRH:
		return 2, false, true
	case insts.OpLDRSH:
		return 2, true, true
	case insts.OpLDRB:
		return 1, false, true
	case insts.OpLDRSB:
		return 1, true, true
	case insts.OpSTRH:
		return 2, false, false
	case insts.OpSTRB:
		return 1, false, false
	}
	return 4, false, false
}

// execLoadStore executes single loads and stores, exclusives included.
func (c *CortexM) execLoadStore(inst *insts.Instruction) error {
	base := c.readReg(inst.Rn)
	var offset uint32

	switch inst.Format {
	case insts.FormatLoadStoreLit:
		base = c.alignedPC()
		offset = inst.Imm
	case insts.FormatLoadStoreReg:
		offset = c.regFile.R[inst.Rm] << inst.ShiftAmount
	default:
		offset = inst.Imm
	}

	offsetAddr := base + offset
	if !inst.Add {
		offsetAddr = base - offset
	}
	addr := base
	if inst.Index || inst.Format == insts.FormatLoadStoreLit {
		addr = offsetAddr
	}

	switch inst.Op {
	case insts.OpLDREX:
		v, err := c.lsu.Load32(addr)
		if err != nil {
			return err
		}
		c.lsu.MarkExclusive(addr)
		c.writeReg(inst.Rd, v)
		return nil
	case insts.OpSTREX:
		status := uint32(1)
		if c.lsu.CheckExclusive(addr) {
			if err := c.lsu.Store32(addr, c.regFile.R[inst.Rd]); err != nil {
				return err
			}
			status = 0
		}
		c.writeReg(inst.Ra, status)
		return nil
	}

	width, signed, load := accessOf(inst.Op)
	if !load {
		if err := c.lsu.Store(addr, width, c.readReg(inst.Rd)); err != nil {
			return err
		}
		if inst.WriteBack {
			c.writeReg(inst.Rn, offsetAddr)
		}
		return nil
	}

	v, err := c.lsu.Load(addr, width, signed)
	if err != nil {
		return err
	}
	if inst.WriteBack {
		c.writeReg(inst.Rn, offsetAddr)
	}
	if inst.Rd == RegPC {
		c.bxWritePC(v)
	} else {
		c.writeReg(inst.Rd, v)
	}
	return nil
}

// execLoadStoreDual executes LDRD and STRD.
func (c *CortexM) execLoadStoreDual(inst *insts.Instruction) error {
	base := c.readReg(inst.Rn)
	if inst.Rn == RegPC {
		base = c.alignedPC()
	}

	offsetAddr := base + inst.Imm
	if !inst.Add {
		offsetAddr = base - inst.Imm
	}
	addr := base
	if inst.Index {
		addr = offsetAddr
	}

	if inst.Op == insts.OpLDRD {
		lo, err := c.lsu.Load32(addr)
		if err != nil {
			return err
		}
		hi, err := c.lsu.Load32(addr + 4)
		if err != nil {
			return err
		}
		if inst.WriteBack {
			c.writeReg(inst.Rn, offsetAddr)
		}
		c.writeReg(inst.Rd, lo)
		c.writeReg(inst.Ra, hi)
		return nil
	}

	if err := c.lsu.Store32(addr, c.regFile.R[inst.Rd]); err != nil {
		return err
	}
	if err := c.lsu.Store32(addr+4, c.regFile.R[inst.Ra]); err != nil {
		return err
	}
	if inst.WriteBack {
		c.writeReg(inst.Rn, offsetAddr)
	}
	return nil
}

// execLoadStoreMultiple executes LDM/STM (increment after and decrement
// before) and PUSH/POP. Loaded values are committed only after every
// access succeeded.
func (c *CortexM) execLoadStoreMultiple(inst *insts.Instruction) error {
	n := uint32(bits.OnesCount16(inst.RegList))
	base := c.regFile.R[inst.Rn]

	var addr, wb uint32
	load := false
	switch inst.Op {
	case insts.OpLDM, insts.OpPOP:
		addr, wb, load = base, base+4*n, true
	case insts.OpSTM:
		addr, wb = base, base+4*n
	case insts.OpLDMDB:
		addr, wb, load = base-4*n, base-4*n, true
	case insts.OpSTMDB, insts.OpPUSH:
		addr, wb = base-4*n, base-4*n
	}

	var loaded [16]uint32
	for i := uint8(0); i < 16; i++ {
		if inst.RegList&(1<<i) == 0 {
			continue
		}
		if load {
			v, err := c.lsu.Load32(addr)
			if err != nil {
				return err
			}
			loaded[i] = v
		} else if err := c.lsu.Store32(addr, c.readReg(i)); err != nil {
			return err
		}
		addr += 4
	}

	if inst.WriteBack && !(load && inst.RegList&(1<<inst.Rn) != 0) {
		c.writeReg(inst.Rn, wb)
	}
	if !load {
		return nil
	}

	for i := uint8(0); i < 15; i++ {
		if inst.RegList&(1<<i) != 0 {
			c.writeReg(i, loaded[i])
		}
	}
	if inst.RegList&(1<<RegPC) != 0 {
		c.bxWritePC(loaded[RegPC])
	}
	return nil
}
