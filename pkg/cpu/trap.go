package cpu

// pendingInterrupt returns the cause code of the highest-priority
// pending, enabled interrupt, and true if one exists. Tie-break order
// is the standard RISC-V priority: external > software > timer.
func (h *Hart) pendingInterrupt() (uint32, bool) {
	mip := h.pendingMIP()
	enabled := mip & h.MIE
	if enabled == 0 {
		return 0, false
	}
	switch {
	case enabled&mipMEIP != 0:
		return causeMachineExternalInterrupt, true
	case enabled&mipMSIP != 0:
		return causeMachineSoftwareInterrupt, true
	case enabled&mipMTIP != 0:
		return causeMachineTimerInterrupt, true
	}
	return 0, false
}

// interruptsGloballyEnabled reports whether MIE (the mstatus bit, not
// the mie CSR) permits interrupt delivery in the current mode. Machine
// mode only takes an interrupt when mstatus.MIE is set; a hart running
// in user mode (reachable through MRET) always takes pending machine
// interrupts.
func (h *Hart) interruptsGloballyEnabled() bool {
	if h.Mode != ModeMachine {
		return true
	}
	return h.MStatus&mstatusMIE != 0
}

// enterTrap performs the standard machine trap-entry sequence: save PC
// to mepc, set mcause/mtval, clear MIE into MPIE, record MPP, switch to
// machine mode, and jump to mtvec (direct mode only — this
// implementation does not support vectored mode).
func (h *Hart) enterTrap(cause uint32, tval uint32, isInterrupt bool) {
	h.MEPC = h.PC
	if isInterrupt {
		h.MCause = cause | mcauseAsyncBit
	} else {
		h.MCause = cause
	}
	h.MTval = tval

	mpp := uint32(h.Mode) << mstatusMPPShift
	mstatus := h.MStatus &^ (mstatusMPIE | mstatusMPPMask)
	if h.MStatus&mstatusMIE != 0 {
		mstatus |= mstatusMPIE
	}
	mstatus |= mpp & mstatusMPPMask
	mstatus &^= mstatusMIE
	h.MStatus = mstatus

	h.Mode = ModeMachine
	h.PC = h.MTvec &^ 0b11 // direct mode: ignore the low mode bits

	// Any trap invalidates a live LR/SC reservation.
	h.lrValid = false
}

// mret executes the MRET instruction: restore mode from MPP, restore
// MIE from MPIE, set MPIE to 1, set MPP to user mode (the least
// privileged mode this hart supports), and jump to mepc.
func (h *Hart) mret() {
	mpp := Mode((h.MStatus & mstatusMPPMask) >> mstatusMPPShift)
	mpie := h.MStatus&mstatusMPIE != 0

	mstatus := h.MStatus &^ (mstatusMIE | mstatusMPPMask)
	if mpie {
		mstatus |= mstatusMIE
	}
	mstatus |= mstatusMPIE // MPIE set to 1 per the privileged spec

	h.MStatus = mstatus
	h.Mode = mpp
	h.PC = h.MEPC
}
