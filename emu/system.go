package emu

import (
	"github.com/golang/glog"

	"github.com/sarchlab/mcusim/insts"
	"github.com/sarchlab/mcusim/intc"
)

// execSystem executes hints, barriers, IT, CPS, SVC, BKPT and MRS/MSR.
func (c *CortexM) execSystem(inst *insts.Instruction) error {
	switch inst.Op {
	case insts.OpIT:
		c.regFile.IT.Start(inst.Cond, inst.Mask)
	case insts.OpNOP, insts.OpYIELD, insts.OpDSB, insts.OpDMB, insts.OpISB:
	case insts.OpSEV:
		c.event = true
	case insts.OpCLREX:
		c.lsu.ClearExclusive()
	case insts.OpWFI:
		c.sleeping = true
	case insts.OpWFE:
		if c.event {
			c.event = false
		} else {
			c.sleeping = true
		}
	case insts.OpCPSIE, insts.OpCPSID:
		disable := inst.Op == insts.OpCPSID
		if inst.Imm&0b010 != 0 {
			c.ctrl.SetPRIMASK(disable)
		}
		if inst.Imm&0b001 != 0 {
			c.faultmask = disable
		}
	case insts.OpSVC:
		glog.V(2).Infof("svc #%d at 0x%08x", inst.Imm, c.curPC)
		c.ctrl.Raise(intc.SVCall)
	case insts.OpBKPT:
		c.halted = true
		c.haltCode = inst.Imm
	case insts.OpMRS:
		c.writeReg(inst.Rd, c.readSpecial(inst.SysReg))
	case insts.OpMSR:
		c.writeSpecial(inst.SysReg, inst.Mask, c.regFile.R[inst.Rn])
	}
	return nil
}

// readSpecial implements MRS. EPSR bits always read as zero.
func (c *CortexM) readSpecial(r insts.SysReg) uint32 {
	switch {
	case r <= insts.SysIEPSR:
		var v uint32
		if r&4 == 0 {
			v |= c.regFile.APSR()
		}
		if r&1 != 0 {
			v |= c.ipsr()
		}
		return v
	case r == insts.SysMSP:
		return c.regFile.BankedSP(false)
	case r == insts.SysPSP:
		return c.regFile.BankedSP(true)
	case r == insts.SysPRIMASK:
		if c.ctrl.PRIMASK() {
			return 1
		}
		return 0
	case r == insts.SysBASEPRI, r == insts.SysBASEMAX:
		return uint32(c.ctrl.BASEPRI())
	case r == insts.SysFAULTM:
		if c.faultmask {
			return 1
		}
		return 0
	case r == insts.SysCONTROL:
		return c.regFile.CONTROL
	}
	return 0
}

// writeSpecial implements MSR. mask bit 1 selects the APSR flags.
func (c *CortexM) writeSpecial(r insts.SysReg, mask uint8, v uint32) {
	switch {
	case r <= insts.SysIEPSR:
		if r&4 == 0 && mask&0b10 != 0 {
			c.regFile.SetAPSR(v)
		}
	case r == insts.SysMSP:
		c.regFile.SetBankedSP(false, v)
	case r == insts.SysPSP:
		c.regFile.SetBankedSP(true, v)
	case r == insts.SysPRIMASK:
		c.ctrl.SetPRIMASK(v&1 != 0)
	case r == insts.SysBASEPRI:
		c.ctrl.SetBASEPRI(uint8(v))
	case r == insts.SysBASEMAX:
		cur := c.ctrl.BASEPRI()
		if p := uint8(v); p != 0 && (cur == 0 || p < cur) {
			c.ctrl.SetBASEPRI(p)
		}
	case r == insts.SysFAULTM:
		c.faultmask = v&1 != 0
	case r == insts.SysCONTROL:
		control := v & (ControlNPRIV | ControlSPSEL)
		if c.regFile.Handler {
			control = control&^ControlSPSEL | c.regFile.CONTROL&ControlSPSEL
		}
		c.regFile.switchStack(c.regFile.Handler, control)
	}
}
