package cpu

// execAMO implements the A extension's word-width ops: LR.W, SC.W, and
// the AMO* read-modify-write family. aq/rl (bits 26/25) are accepted
// but not modelled — this is a single-hart interpreter with no other
// observer of memory ordering.
func (h *Hart) execAMO(bus Bus, in instr) execResult {
	if in.funct3 != 0b010 {
		h.trap(causeIllegalInstruction, in.raw)
		return execResult{pcSet: true}
	}

	addr := h.X[in.rs1]
	if addr%4 != 0 {
		h.trap(causeLoadAddressMisaligned, addr)
		return execResult{pcSet: true}
	}

	funct5 := in.funct7 >> 2
	switch funct5 {
	case 0b00010: // LR.W
		v, err := bus.Load4(addr)
		if err != nil {
			h.trap(causeLoadAccessFault, addr)
			return execResult{pcSet: true}
		}
		h.lrValid = true
		h.lrAddr = addr
		h.setX(in.rd, v)
		return execResult{}

	case 0b00011: // SC.W
		if h.lrValid && h.lrAddr == addr {
			if res := h.handleStoreErr(bus.Store4(addr, h.X[in.rs2]), addr); res.halted || res.pcSet {
				return res
			}
			h.lrValid = false
			h.setX(in.rd, 0) // success
		} else {
			h.setX(in.rd, 1) // failure
		}
		return execResult{}
	}

	// Read-modify-write AMOs: load the old value, compute the new one,
	// store it, return the old value in rd. Any store to this address
	// (ours included) invalidates a live reservation.
	old, err := bus.Load4(addr)
	if err != nil {
		h.trap(causeLoadAccessFault, addr)
		return execResult{pcSet: true}
	}

	rs2 := h.X[in.rs2]
	var next uint32
	switch funct5 {
	case 0b00001: // AMOSWAP.W
		next = rs2
	case 0b00000: // AMOADD.W
		next = old + rs2
	case 0b00100: // AMOXOR.W
		next = old ^ rs2
	case 0b01100: // AMOAND.W
		next = old & rs2
	case 0b01000: // AMOOR.W
		next = old | rs2
	case 0b10000: // AMOMIN.W
		if int32(old) < int32(rs2) {
			next = old
		} else {
			next = rs2
		}
	case 0b10100: // AMOMAX.W
		if int32(old) > int32(rs2) {
			next = old
		} else {
			next = rs2
		}
	case 0b11000: // AMOMINU.W
		if old < rs2 {
			next = old
		} else {
			next = rs2
		}
	case 0b11100: // AMOMAXU.W
		if old > rs2 {
			next = old
		} else {
			next = rs2
		}
	default:
		h.trap(causeIllegalInstruction, in.raw)
		return execResult{pcSet: true}
	}

	if res := h.handleStoreErr(bus.Store4(addr, next), addr); res.halted || res.pcSet {
		return res
	}
	if h.lrValid && h.lrAddr == addr {
		h.lrValid = false
	}
	h.setX(in.rd, old)
	return execResult{}
}
