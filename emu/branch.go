package emu

import (
	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/insts"
)

// execBranch executes B, Bcc, BL, BX, BLX, CBZ and CBNZ. Branch offsets are
// relative to the instruction address plus 4.
func (c *CortexM) execBranch(inst *insts.Instruction) {
	target := c.curPC + 4 + uint32(inst.BranchOffset)

	switch inst.Format {
	case insts.FormatBranch:
		if inst.Op == insts.OpBL {
			c.regFile.R[RegLR] = c.nextPC | 1
		}
		c.branchTo(target)

	case insts.FormatBranchCond:
		if ConditionPassed(inst.Cond, c.regFile.PSTATE) {
			c.branchTo(target)
		}

	case insts.FormatBranchReg:
		dest := c.regFile.R[inst.Rm]
		if inst.Rm == RegPC {
			dest = c.readReg(RegPC)
		}
		if inst.Op == insts.OpBLX {
			c.regFile.R[RegLR] = c.nextPC | 1
		}
		c.bxWritePC(dest)

	case insts.FormatCompareBranch:
		zero := c.regFile.R[inst.Rn] == 0
		if zero == (inst.Op == insts.OpCBZ) {
			c.branchTo(target)
		}
	}
}

// execTableBranch executes TBB and TBH: a forward branch by twice the
// table entry selected by Rm.
func (c *CortexM) execTableBranch(inst *insts.Instruction) error {
	base := c.readReg(inst.Rn)
	index := c.regFile.R[inst.Rm]

	var (
		entry uint32
		err   error
	)
	if inst.Op == insts.OpTBH {
		entry, err = c.lsu.Load(base+index<<1, 2, false)
	} else {
		entry, err = c.lsu.Load(base+index, 1, false)
	}
	if err != nil {
		return errors.Annotatef(err, "%s table read", inst.Op)
	}

	c.branchTo(c.curPC + 4 + entry*2)
	return nil
}
