package emu

// Register numbers with architectural roles.
const (
	RegSP = 13
	RegLR = 14
	RegPC = 15

	// RegXPSR is the debugger number of xPSR.
	RegXPSR = 16
)

// CONTROL register bits.
const (
	ControlNPRIV = 1 << 0
	ControlSPSEL = 1 << 1
)

// RegFile represents the ARMv7-M register file.
type RegFile struct {
	// R holds r0-r15. R[13] is the stack pointer currently in use, the
	// other one is kept in MSP or PSP.
	R [16]uint32

	// MSP and PSP hold the banked stack pointer that is not in use.
	MSP uint32
	PSP uint32

	// CONTROL holds nPRIV and SPSEL.
	CONTROL uint32

	// PSTATE holds the APSR flags.
	PSTATE PSTATE

	// IT is the conditional execution state.
	IT ITState

	// Handler is true while an exception handler runs.
	Handler bool
}

// PSTATE represents the processor state flags.
type PSTATE struct {
	N bool
	Z bool
	C bool
	V bool
	Q bool
}

// usingPSP reports whether R[13] is the process stack pointer.
func (r *RegFile) usingPSP() bool {
	return !r.Handler && r.CONTROL&ControlSPSEL != 0
}

// SP returns the active stack pointer.
func (r *RegFile) SP() uint32 {
	return r.R[RegSP]
}

// BankedSP returns MSP (psp false) or PSP (psp true) regardless of which
// one is active.
func (r *RegFile) BankedSP(psp bool) uint32 {
	if psp == r.usingPSP() {
		return r.R[RegSP]
	}
	if psp {
		return r.PSP
	}
	return r.MSP
}

// SetBankedSP writes MSP or PSP.
func (r *RegFile) SetBankedSP(psp bool, v uint32) {
	v &^= 3
	switch {
	case psp == r.usingPSP():
		r.R[RegSP] = v
	case psp:
		r.PSP = v
	default:
		r.MSP = v
	}
}

// switchStack changes mode and SPSEL together, swapping the banked stack
// pointers as needed.
func (r *RegFile) switchStack(handler bool, control uint32) {
	wasPSP := r.usingPSP()
	if wasPSP {
		r.PSP = r.R[RegSP]
	} else {
		r.MSP = r.R[RegSP]
	}

	r.Handler = handler
	r.CONTROL = control

	if r.usingPSP() {
		r.R[RegSP] = r.PSP
	} else {
		r.R[RegSP] = r.MSP
	}
}

// APSR returns the flag bits of xPSR.
func (r *RegFile) APSR() uint32 {
	var v uint32
	if r.PSTATE.N {
		v |= 1 << 31
	}
	if r.PSTATE.Z {
		v |= 1 << 30
	}
	if r.PSTATE.C {
		v |= 1 << 29
	}
	if r.PSTATE.V {
		v |= 1 << 28
	}
	if r.PSTATE.Q {
		v |= 1 << 27
	}
	return v
}

// SetAPSR sets the flags from xPSR bits [31:27].
func (r *RegFile) SetAPSR(v uint32) {
	r.PSTATE.N = v&(1<<31) != 0
	r.PSTATE.Z = v&(1<<30) != 0
	r.PSTATE.C = v&(1<<29) != 0
	r.PSTATE.V = v&(1<<28) != 0
	r.PSTATE.Q = v&(1<<27) != 0
}

// XPSR combines APSR, the IT bits, the Thumb bit and the exception number.
func (r *RegFile) XPSR(ipsr uint32) uint32 {
	it := uint32(r.IT.Bits())
	return r.APSR() | (it&0x3)<<25 | 1<<24 | (it>>2)<<10 | ipsr&0x1FF
}

// setEPSR sets the IT bits from an xPSR value written by the debugger.
func (r *RegFile) setEPSR(xpsr uint32) {
	r.IT.SetBits(uint8(xpsr>>25&0x3 | (xpsr>>10&0x3F)<<2))
}

// String renders the flags as letters, lowercase when clear.
func (p PSTATE) String() string {
	b := []byte("nzcvq")
	for i, set := range []bool{p.N, p.Z, p.C, p.V, p.Q} {
		if set {
			b[i] -= 'a' - 'A'
		}
	}
	return string(b)
}
