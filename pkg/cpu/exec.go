package cpu

// execResult lets execute signal something Step must act on beyond the
// normal "retire and move PC on" path, without overloading a single
// return value the way the firmware this is ported from overloads its
// step return code onto a live trap cause.
type execResult struct {
	code   StepCode // non-zero only for WFI / breakpoint / syscon requests
	halted bool     // true if code should end the instruction loop now
	pcSet  bool     // true if PC was already finalized (trap redirect or MRET); caller must not also advance it
}

// execute decodes and runs a single instruction, leaving h.PC pointing
// at the next instruction to fetch (or the trap vector, on a trap).
// Guest-visible faults are turned into traps internally; a host-fatal
// backing-store failure is reported by the bus panicking, which
// pkg/platform recovers above the Step loop.
func (h *Hart) execute(bus Bus, in instr) execResult {
	switch in.opcode {
	case opLUI:
		h.setX(in.rd, uint32(in.immU))
		h.PC += 4

	case opAUIPC:
		h.setX(in.rd, h.PC+uint32(in.immU))
		h.PC += 4

	case opJAL:
		target := h.PC + uint32(in.immJ)
		if target%4 != 0 {
			h.trap(causeInstructionAddressMisaligned, target)
			return execResult{}
		}
		h.setX(in.rd, h.PC+4)
		h.PC = target

	case opJALR:
		target := (h.X[in.rs1] + uint32(in.immI)) &^ 1
		if target%4 != 0 {
			h.trap(causeInstructionAddressMisaligned, target)
			return execResult{}
		}
		link := h.PC + 4
		h.setX(in.rd, link)
		h.PC = target

	case opBRANCH:
		taken, ok := h.execBranch(in)
		if !ok {
			return execResult{}
		}
		if taken {
			target := h.PC + uint32(in.immB)
			if target%4 != 0 {
				h.trap(causeInstructionAddressMisaligned, target)
				return execResult{}
			}
			h.PC = target
		} else {
			h.PC += 4
		}

	case opLOAD:
		res := h.execLoad(bus, in)
		if res.pcSet {
			return res
		}
		h.PC += 4

	case opSTORE:
		res := h.execStore(bus, in)
		if res.halted || res.pcSet {
			return res
		}
		h.PC += 4

	case opOPIMM:
		res := h.execOpImm(in)
		if res.pcSet {
			return res
		}
		h.PC += 4

	case opOP:
		res := h.execOp(in)
		if res.pcSet {
			return res
		}
		h.PC += 4

	case opMISC:
		// FENCE / FENCE.I: this interpreter has no pipeline or cache of
		// instructions to reorder, so both are no-ops.
		h.PC += 4

	case opAMO:
		res := h.execAMO(bus, in)
		if res.halted || res.pcSet {
			return res
		}
		h.PC += 4

	case opSYSTEM:
		res := h.execSystem(bus, in)
		if res.halted || res.pcSet {
			return res
		}
		h.PC += 4

	default:
		h.trap(causeIllegalInstruction, in.raw)
	}

	return execResult{}
}

// setX writes a GPR, silently discarding writes to x0 the way the
// architecture requires.
func (h *Hart) setX(rd uint32, v uint32) {
	if rd != 0 {
		h.X[rd] = v
	}
}

// trap is enterTrap with tval defaulted from the common case (the
// faulting address/instruction), kept as a thin wrapper so exec.go's
// call sites read as what they are: a synchronous exception.
func (h *Hart) trap(cause uint32, tval uint32) {
	h.enterTrap(cause, tval, false)
}

// execBranch evaluates the branch condition. ok is false when funct3
// is one of the two encodings RV32I leaves undefined, in which case a
// trap has already been raised and the caller must not touch PC again.
func (h *Hart) execBranch(in instr) (taken bool, ok bool) {
	a, b := h.X[in.rs1], h.X[in.rs2]
	switch in.funct3 {
	case 0b000: // BEQ
		return a == b, true
	case 0b001: // BNE
		return a != b, true
	case 0b100: // BLT
		return int32(a) < int32(b), true
	case 0b101: // BGE
		return int32(a) >= int32(b), true
	case 0b110: // BLTU
		return a < b, true
	case 0b111: // BGEU
		return a >= b, true
	default:
		h.trap(causeIllegalInstruction, in.raw)
		return false, false
	}
}

func (h *Hart) execLoad(bus Bus, in instr) execResult {
	addr := h.X[in.rs1] + uint32(in.immI)
	switch in.funct3 {
	case 0b000: // LB
		v, err := bus.Load1(addr)
		if err != nil {
			h.trap(causeLoadAccessFault, addr)
			return execResult{pcSet: true}
		}
		h.setX(in.rd, uint32(int32(int8(v))))
	case 0b001: // LH
		if addr%2 != 0 {
			h.trap(causeLoadAddressMisaligned, addr)
			return execResult{pcSet: true}
		}
		v, err := bus.Load2(addr)
		if err != nil {
			h.trap(causeLoadAccessFault, addr)
			return execResult{pcSet: true}
		}
		h.setX(in.rd, uint32(int32(int16(v))))
	case 0b010: // LW
		if addr%4 != 0 {
			h.trap(causeLoadAddressMisaligned, addr)
			return execResult{pcSet: true}
		}
		v, err := bus.Load4(addr)
		if err != nil {
			h.trap(causeLoadAccessFault, addr)
			return execResult{pcSet: true}
		}
		h.setX(in.rd, v)
	case 0b100: // LBU
		v, err := bus.Load1(addr)
		if err != nil {
			h.trap(causeLoadAccessFault, addr)
			return execResult{pcSet: true}
		}
		h.setX(in.rd, uint32(v))
	case 0b101: // LHU
		if addr%2 != 0 {
			h.trap(causeLoadAddressMisaligned, addr)
			return execResult{pcSet: true}
		}
		v, err := bus.Load2(addr)
		if err != nil {
			h.trap(causeLoadAccessFault, addr)
			return execResult{pcSet: true}
		}
		h.setX(in.rd, uint32(v))
	default:
		h.trap(causeIllegalInstruction, in.raw)
		return execResult{pcSet: true}
	}
	return execResult{}
}

func (h *Hart) execStore(bus Bus, in instr) execResult {
	addr := h.X[in.rs1] + uint32(in.immS)
	val := h.X[in.rs2]

	// A store from this hart to the reservation granule invalidates a
	// live LR/SC reservation, regardless of the store's own width.
	if h.lrValid && (addr&^3) == h.lrAddr {
		h.lrValid = false
	}

	switch in.funct3 {
	case 0b000: // SB
		return h.handleStoreErr(bus.Store1(addr, uint8(val)), addr)
	case 0b001: // SH
		if addr%2 != 0 {
			h.trap(causeStoreAddressMisaligned, addr)
			return execResult{pcSet: true}
		}
		return h.handleStoreErr(bus.Store2(addr, uint16(val)), addr)
	case 0b010: // SW
		if addr%4 != 0 {
			h.trap(causeStoreAddressMisaligned, addr)
			return execResult{pcSet: true}
		}
		return h.handleStoreErr(bus.Store4(addr, val), addr)
	default:
		h.trap(causeIllegalInstruction, in.raw)
		return execResult{pcSet: true}
	}
}

// handleStoreErr classifies a Bus store error: a *HaltRequest ends the
// Step early with its code (the syscon reset/power-off path); anything
// else is an access fault and becomes a guest-visible trap. A
// host-fatal backing-store failure never reaches here as an error — it
// is reported by a panic the bus lets propagate out of Step entirely.
func (h *Hart) handleStoreErr(err error, addr uint32) execResult {
	if err == nil {
		return execResult{}
	}
	if hr, ok := err.(*HaltRequest); ok {
		return execResult{code: hr.Code, halted: true}
	}
	h.trap(causeStoreAccessFault, addr)
	return execResult{pcSet: true}
}

func (h *Hart) execOpImm(in instr) execResult {
	a := h.X[in.rs1]
	shamt := uint32(in.immI) & 0x1f
	switch in.funct3 {
	case 0b000: // ADDI
		h.setX(in.rd, a+uint32(in.immI))
	case 0b010: // SLTI
		h.setX(in.rd, boolU32(int32(a) < in.immI))
	case 0b011: // SLTIU
		h.setX(in.rd, boolU32(a < uint32(in.immI)))
	case 0b100: // XORI
		h.setX(in.rd, a^uint32(in.immI))
	case 0b110: // ORI
		h.setX(in.rd, a|uint32(in.immI))
	case 0b111: // ANDI
		h.setX(in.rd, a&uint32(in.immI))
	case 0b001: // SLLI
		h.setX(in.rd, a<<shamt)
	case 0b101: // SRLI / SRAI, distinguished by funct7 (bit 30 of the raw word)
		if in.funct7&0x20 != 0 {
			h.setX(in.rd, uint32(int32(a)>>shamt))
		} else {
			h.setX(in.rd, a>>shamt)
		}
	default:
		h.trap(causeIllegalInstruction, in.raw)
		return execResult{pcSet: true}
	}
	return execResult{}
}

func boolU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (h *Hart) execOp(in instr) execResult {
	a, b := h.X[in.rs1], h.X[in.rs2]

	if in.funct7 == 0b0000001 { // M extension
		h.execMulDiv(in, a, b)
		return execResult{}
	}

	switch {
	case in.funct3 == 0b000 && in.funct7 == 0x00: // ADD
		h.setX(in.rd, a+b)
	case in.funct3 == 0b000 && in.funct7 == 0x20: // SUB
		h.setX(in.rd, a-b)
	case in.funct3 == 0b001: // SLL
		h.setX(in.rd, a<<(b&0x1f))
	case in.funct3 == 0b010: // SLT
		h.setX(in.rd, boolU32(int32(a) < int32(b)))
	case in.funct3 == 0b011: // SLTU
		h.setX(in.rd, boolU32(a < b))
	case in.funct3 == 0b100: // XOR
		h.setX(in.rd, a^b)
	case in.funct3 == 0b101 && in.funct7 == 0x00: // SRL
		h.setX(in.rd, a>>(b&0x1f))
	case in.funct3 == 0b101 && in.funct7 == 0x20: // SRA
		h.setX(in.rd, uint32(int32(a)>>(b&0x1f)))
	case in.funct3 == 0b110: // OR
		h.setX(in.rd, a|b)
	case in.funct3 == 0b111: // AND
		h.setX(in.rd, a&b)
	default:
		h.trap(causeIllegalInstruction, in.raw)
		return execResult{pcSet: true}
	}
	return execResult{}
}

// execMulDiv implements the M extension. Division by zero and the
// signed-overflow corner case (MinInt32 / -1) follow the RISC-V spec's
// defined (non-trapping) results rather than the host's native
// behaviour, which would otherwise panic or differ by platform.
func (h *Hart) execMulDiv(in instr, a, b uint32) {
	sa, sb := int32(a), int32(b)
	switch in.funct3 {
	case 0b000: // MUL
		h.setX(in.rd, a*b)
	case 0b001: // MULH
		h.setX(in.rd, uint32((int64(sa)*int64(sb))>>32))
	case 0b010: // MULHSU
		h.setX(in.rd, uint32((int64(sa)*int64(b))>>32))
	case 0b011: // MULHU
		h.setX(in.rd, uint32((uint64(a)*uint64(b))>>32))
	case 0b100: // DIV
		switch {
		case sb == 0:
			h.setX(in.rd, 0xffffffff)
		case sa == -(1<<31) && sb == -1:
			h.setX(in.rd, uint32(sa))
		default:
			h.setX(in.rd, uint32(sa/sb))
		}
	case 0b101: // DIVU
		if b == 0 {
			h.setX(in.rd, 0xffffffff)
		} else {
			h.setX(in.rd, a/b)
		}
	case 0b110: // REM
		switch {
		case sb == 0:
			h.setX(in.rd, a)
		case sa == -(1<<31) && sb == -1:
			h.setX(in.rd, 0)
		default:
			h.setX(in.rd, uint32(sa%sb))
		}
	case 0b111: // REMU
		if b == 0 {
			h.setX(in.rd, a)
		} else {
			h.setX(in.rd, a%b)
		}
	default:
		h.trap(causeIllegalInstruction, in.raw)
	}
}
