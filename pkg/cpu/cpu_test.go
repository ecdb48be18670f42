package cpu

import "testing"

// flatBus is a minimal Bus over a flat byte slice, with no MMIO
// window, used to test the interpreter in isolation from pkg/cache
// and pkg/bus.
type flatBus struct {
	mem  []byte
	csrs map[uint32]uint32
}

func newFlatBus(size int) *flatBus {
	return &flatBus{mem: make([]byte, size), csrs: map[uint32]uint32{}}
}

func (b *flatBus) Load1(addr uint32) (uint8, error) { return b.mem[addr], nil }
func (b *flatBus) Load2(addr uint32) (uint16, error) {
	return uint16(b.mem[addr]) | uint16(b.mem[addr+1])<<8, nil
}
func (b *flatBus) Load4(addr uint32) (uint32, error) {
	return uint32(b.mem[addr]) | uint32(b.mem[addr+1])<<8 |
		uint32(b.mem[addr+2])<<16 | uint32(b.mem[addr+3])<<24, nil
}

func (b *flatBus) Store1(addr uint32, v uint8) error { b.mem[addr] = v; return nil }
func (b *flatBus) Store2(addr uint32, v uint16) error {
	b.mem[addr] = byte(v)
	b.mem[addr+1] = byte(v >> 8)
	return nil
}
func (b *flatBus) Store4(addr uint32, v uint32) error {
	b.mem[addr] = byte(v)
	b.mem[addr+1] = byte(v >> 8)
	b.mem[addr+2] = byte(v >> 16)
	b.mem[addr+3] = byte(v >> 24)
	return nil
}

func (b *flatBus) CSRRead(csr uint32) (uint32, bool) {
	v, ok := b.csrs[csr]
	return v, ok
}
func (b *flatBus) CSRWrite(csr uint32, v uint32) bool {
	if _, ok := b.csrs[csr]; !ok {
		return false
	}
	b.csrs[csr] = v
	return true
}

func (b *flatBus) storeProgram(base uint32, words []uint32) {
	for i, w := range words {
		b.Store4(base+uint32(i*4), w)
	}
}

// Instruction encoders, RV32I subset needed by the tests below.

func encodeI(opcode, funct3, rd, rs1 uint32, imm int32) uint32 {
	return (uint32(imm)&0xfff)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeR(opcode, funct3, funct7, rd, rs1, rs2 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func addi(rd, rs1 uint32, imm int32) uint32 { return encodeI(opOPIMM, 0b000, rd, rs1, imm) }
func add(rd, rs1, rs2 uint32) uint32        { return encodeR(opOP, 0b000, 0x00, rd, rs1, rs2) }
func ebreak() uint32                        { return encodeI(opSYSTEM, 0b000, 0, 0, 0x001) }

// S1 — ADDI and ADD: spec.md §8 end-to-end scenario.
func TestScenarioS1(t *testing.T) {
	bus := newFlatBus(4096)
	bus.storeProgram(0, []uint32{
		addi(1, 0, 5),
		addi(2, 0, 7),
		add(3, 1, 2),
		ebreak(),
	})

	h := NewHart(0, 0)
	code := h.Step(bus, 0, 4)

	if h.X[3] != 12 {
		t.Fatalf("x3 = %d, want 12", h.X[3])
	}
	if h.MCause != causeBreakpoint {
		t.Fatalf("mcause = %d, want %d (breakpoint)", h.MCause, causeBreakpoint)
	}
	if h.PC != 16 {
		t.Fatalf("PC = %#x, want %#x (past EBREAK)", h.PC, 16)
	}
	if code != StepBreakpoint {
		t.Fatalf("step code = %#x, want StepBreakpoint", uint32(code))
	}
}

// Invariant 1: register 0 always reads as zero after retirement.
func TestInvariantX0AlwaysZero(t *testing.T) {
	bus := newFlatBus(4096)
	bus.storeProgram(0, []uint32{
		addi(0, 0, 123), // attempt to write x0
		ebreak(),
	})
	h := NewHart(0, 0)
	h.Step(bus, 0, 2)
	if h.X[0] != 0 {
		t.Fatalf("x0 = %d, want 0", h.X[0])
	}
}

// Invariant 6: LR.W/SC.W round trip — an SC immediately following its
// LR succeeds and clears the reservation; a second immediate SC fails.
func TestInvariantLRSC(t *testing.T) {
	bus := newFlatBus(4096)
	const addr = 64
	lrw := encodeR(opAMO, 0b010, 0b0001000, 5, 1, 0)  // LR.W x5, (x1)
	scw1 := encodeR(opAMO, 0b010, 0b0001100, 6, 1, 2) // SC.W x6, x2, (x1)
	scw2 := encodeR(opAMO, 0b010, 0b0001100, 7, 1, 2) // SC.W x7, x2, (x1)
	bus.storeProgram(0, []uint32{
		addi(1, 0, addr),
		addi(2, 0, 0xAB),
		lrw,
		scw1,
		scw2,
		ebreak(),
	})
	h := NewHart(0, 0)
	h.Step(bus, 0, 6)

	if h.X[6] != 0 {
		t.Fatalf("first SC.W result = %d, want 0 (success)", h.X[6])
	}
	if h.X[7] != 1 {
		t.Fatalf("second SC.W result = %d, want 1 (failure, no live reservation)", h.X[7])
	}
	v, _ := bus.Load4(addr)
	if v != 0xAB {
		t.Fatalf("memory at addr = %#x, want 0xAB", v)
	}
}

func encodeS(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	immU := uint32(imm)
	lo := immU & 0x1f
	hi := (immU >> 5) & 0x7f
	return hi<<25 | rs2<<20 | rs1<<15 | funct3<<12 | lo<<7 | opcode
}

func sw(rs1, rs2 uint32, imm int32) uint32 { return encodeS(opSTORE, 0b010, rs1, rs2, imm) }
func csrrw(rd, csr, rs1 uint32) uint32     { return encodeI(opSYSTEM, 0b001, rd, rs1, int32(csr)) }

// LR/SC reservation contract, clause (a): an ordinary store from this
// hart to the reservation granule invalidates the reservation, even
// though it isn't an SC itself.
func TestStoreInvalidatesReservation(t *testing.T) {
	bus := newFlatBus(4096)
	const addr = 64
	lrw := encodeR(opAMO, 0b010, 0b0001000, 5, 1, 0) // LR.W x5, (x1)
	scw := encodeR(opAMO, 0b010, 0b0001100, 6, 1, 2) // SC.W x6, x2, (x1)
	bus.storeProgram(0, []uint32{
		addi(1, 0, addr),
		addi(2, 0, 0xAB),
		lrw,
		sw(1, 2, 0), // ordinary store to the reserved address
		scw,
		ebreak(),
	})
	h := NewHart(0, 0)
	h.Step(bus, 0, 6)

	if h.X[6] != 1 {
		t.Fatalf("SC.W result = %d, want 1 (failure: intervening store must invalidate the reservation)", h.X[6])
	}
}

// WFI must retire like any other non-branch instruction: PC advances
// past it before the hart actually sleeps, so a pending interrupt's
// mepc (and thus MRET) lands on the instruction after wfi, not on wfi
// itself.
func TestWFIAdvancesPastInstruction(t *testing.T) {
	bus := newFlatBus(4096)
	wfi := encodeI(opSYSTEM, 0b000, 0, 0, 0x105)
	mret := encodeI(opSYSTEM, 0b000, 0, 0, 0x302)
	bus.storeProgram(0, []uint32{
		wfi,
		addi(1, 0, 42),
		ebreak(),
	})
	// The handler disarms the timer comparator before MRET so the
	// interrupt condition doesn't immediately re-trigger on return.
	bus.storeProgram(0x100, []uint32{
		addi(2, 0, -1),
		csrrw(0, csrTimeCmp, 2),
		csrrw(0, csrTimeCmpH, 2),
		mret,
	})

	h := NewHart(0, 0)
	h.MTvec = 0x100
	h.TimeCmp = 0xffffffffffffffff // not due yet

	code := h.Step(bus, 0, 10)
	if code != StepWFI {
		t.Fatalf("step code = %#x, want StepWFI", uint32(code))
	}
	if h.PC != 4 {
		t.Fatalf("PC = %#x, want 4 (past wfi)", h.PC)
	}

	// Arm and take the timer interrupt; Step must resume execution at
	// the instruction after wfi once the handler returns via MRET.
	h.MStatus |= mstatusMIE
	h.MIE |= mipMTIP
	h.TimeCmp = 0 // already due

	code = h.Step(bus, 0, 10)
	if code != StepBreakpoint {
		t.Fatalf("step code = %#x, want StepBreakpoint", uint32(code))
	}
	if h.X[1] != 42 {
		t.Fatalf("x1 = %d, want 42: the instruction after wfi must execute", h.X[1])
	}
}

// Invariant 7: timer interrupt monotonicity.
func TestInvariantTimerInterrupt(t *testing.T) {
	bus := newFlatBus(4096)
	bus.storeProgram(0, []uint32{
		addi(1, 0, 1),
		addi(1, 0, 1),
		addi(1, 0, 1),
		addi(1, 0, 1),
	})
	h := NewHart(0, 0)
	h.MTvec = 0x100
	h.MStatus |= mstatusMIE
	h.MIE |= mipMTIP
	h.TimeCmp = 0 // already due

	h.Step(bus, 1, 1)

	if h.MCause != (causeMachineTimerInterrupt | mcauseAsyncBit) {
		t.Fatalf("mcause = %#x, want timer interrupt with async bit set", h.MCause)
	}
	if h.PC != 0x100 {
		t.Fatalf("PC = %#x, want mtvec (%#x)", h.PC, 0x100)
	}
}

func TestMRETRestoresModeAndPC(t *testing.T) {
	bus := newFlatBus(4096)
	mret := encodeI(opSYSTEM, 0b000, 0, 0, 0x302)
	bus.storeProgram(0x100, []uint32{mret})

	h := NewHart(0, 0)
	h.MEPC = 0x42
	h.MStatus = mstatusMPIE | (uint32(ModeUser) << mstatusMPPShift)
	h.PC = 0x100
	h.Mode = ModeMachine

	h.Step(bus, 0, 1)

	if h.PC != 0x42 {
		t.Fatalf("PC = %#x, want mepc (0x42)", h.PC)
	}
	if h.Mode != ModeUser {
		t.Fatalf("mode = %v, want ModeUser", h.Mode)
	}
	if h.MStatus&mstatusMIE == 0 {
		t.Fatalf("MIE not restored from MPIE")
	}
	if h.MStatus&mstatusMPIE == 0 {
		t.Fatalf("MPIE should be set to 1 after MRET")
	}
}

func TestDivByZeroAndOverflow(t *testing.T) {
	div := encodeR(opOP, 0b100, 0b0000001, 3, 1, 2)
	rem := encodeR(opOP, 0b110, 0b0000001, 4, 1, 2)

	t.Run("div by zero", func(t *testing.T) {
		bus := newFlatBus(4096)
		bus.storeProgram(0, []uint32{addi(1, 0, 7), addi(2, 0, 0), div, rem})
		h := NewHart(0, 0)
		h.Step(bus, 0, 4)
		if h.X[3] != 0xffffffff {
			t.Fatalf("DIV by zero = %#x, want all-ones", h.X[3])
		}
		if h.X[4] != 7 {
			t.Fatalf("REM by zero = %d, want dividend (7)", h.X[4])
		}
	})

	t.Run("signed overflow", func(t *testing.T) {
		bus := newFlatBus(4096)
		bus.storeProgram(0, []uint32{div, rem})
		h := NewHart(0, 0)
		h.X[1] = 0x80000000 // MinInt32
		h.X[2] = 0xffffffff // -1
		h.Step(bus, 0, 2)
		if h.X[3] != 0x80000000 {
			t.Fatalf("DIV overflow = %#x, want MinInt32", h.X[3])
		}
		if h.X[4] != 0 {
			t.Fatalf("REM overflow = %d, want 0", h.X[4])
		}
	})
}
