package cpu

// Standard machine CSR addresses this implementation recognises
// directly. Anything else is delegated to Bus.CSRRead/CSRWrite (the
// "other CSR" hook, spec.md §4.4), which covers the implementation-
// defined debug/keyboard CSRs in 0x136-0x140.
const (
	csrMStatus  = 0x300
	csrMIE      = 0x304
	csrMTvec    = 0x305
	csrMScratch = 0x340
	csrMEPC     = 0x341
	csrMCause   = 0x342
	csrMTval    = 0x343
	csrMIP      = 0x344
	csrMHartID  = 0xF14

	csrCycle  = 0xC00
	csrCycleH = 0xC80
	csrTime   = 0xC01
	csrTimeH  = 0xC81

	// Implementation-defined: the 64-bit timecmp value spec.md §3
	// describes but does not assign a CSR address to. Chosen in the
	// custom machine-CSR range, outside the 0x136-0x140 debug pool so
	// it never collides with the platform glue's hooks.
	csrTimeCmp  = 0x7C0
	csrTimeCmpH = 0x7C1
)

// readCSR returns the value of a CSR this package owns directly, or
// delegates to bus for anything else. ok is false only for a CSR that
// neither this package nor the bus recognises.
func (h *Hart) readCSR(bus Bus, csr uint32) (uint32, bool) {
	switch csr {
	case csrMStatus:
		return h.MStatus, true
	case csrMIE:
		return h.MIE, true
	case csrMTvec:
		return h.MTvec, true
	case csrMScratch:
		return h.MScratch, true
	case csrMEPC:
		return h.MEPC, true
	case csrMCause:
		return h.MCause, true
	case csrMTval:
		return h.MTval, true
	case csrMIP:
		return h.pendingMIP(), true
	case csrMHartID:
		return 0, true
	case csrCycle:
		return h.CycleLow(), true
	case csrCycleH:
		return h.CycleHigh(), true
	case csrTime:
		return h.TimeLow(), true
	case csrTimeH:
		return h.TimeHigh(), true
	case csrTimeCmp:
		return h.TimeCmpLow(), true
	case csrTimeCmpH:
		return h.TimeCmpHigh(), true
	default:
		return bus.CSRRead(csr)
	}
}

// writeCSR writes a CSR this package owns, or delegates to bus.
func (h *Hart) writeCSR(bus Bus, csr uint32, value uint32) bool {
	switch csr {
	case csrMStatus:
		h.MStatus = value
	case csrMIE:
		h.MIE = value
	case csrMTvec:
		h.MTvec = value
	case csrMScratch:
		h.MScratch = value
	case csrMEPC:
		h.MEPC = value
	case csrMCause:
		h.MCause = value
	case csrMTval:
		h.MTval = value
	case csrMIP:
		h.MIP = value
	case csrMHartID:
		// read-only; silently absorb the write
	case csrCycle, csrCycleH, csrTime, csrTimeH:
		// read-only shadows; silently absorb the write
	case csrTimeCmp:
		h.SetTimeCmpLow(value)
	case csrTimeCmpH:
		h.SetTimeCmpHigh(value)
	default:
		return bus.CSRWrite(csr, value)
	}
	return true
}

// pendingMIP returns MIP with the timer-pending bit computed live from
// Time/TimeCmp, rather than stored, since the comparison must be
// re-evaluated every time it is observed.
func (h *Hart) pendingMIP() uint32 {
	mip := h.MIP
	if h.Time >= h.TimeCmp {
		mip |= mipMTIP
	}
	return mip
}

// Interrupt bit positions within mie/mip, standard RISC-V machine
// interrupt assignment.
const (
	mipMSIP = 1 << 3  // machine software interrupt pending
	mipMTIP = 1 << 7  // machine timer interrupt pending
	mipMEIP = 1 << 11 // machine external interrupt pending
)

// Interrupt cause codes (low bits of mcause with the async bit set).
const (
	causeMachineSoftwareInterrupt = 3
	causeMachineTimerInterrupt    = 7
	causeMachineExternalInterrupt = 11
)

// Exception cause codes (mcause with the async bit clear).
const (
	causeInstructionAddressMisaligned = 0
	causeInstructionAccessFault       = 1
	causeIllegalInstruction           = 2
	causeBreakpoint                   = 3
	causeLoadAddressMisaligned        = 4
	causeLoadAccessFault              = 5
	causeStoreAddressMisaligned       = 6
	causeStoreAccessFault             = 7
	causeECallFromUMode               = 8
	causeECallFromMMode               = 11
)

const mcauseAsyncBit = uint32(1) << 31
