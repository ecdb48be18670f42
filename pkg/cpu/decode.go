package cpu

// RV32 base opcodes (bits [6:0] of the instruction word).
const (
	opLUI    = 0b0110111
	opAUIPC  = 0b0010111
	opJAL    = 0b1101111
	opJALR   = 0b1100111
	opBRANCH = 0b1100011
	opLOAD   = 0b0000011
	opSTORE  = 0b0100011
	opOPIMM  = 0b0010011
	opOP     = 0b0110011
	opMISC   = 0b0001111 // FENCE / FENCE.I
	opSYSTEM = 0b1110011
	opAMO    = 0b0101111
)

// instr holds the decoded fields of a 32-bit instruction word. Not
// every field is meaningful for every opcode; exec.go picks out what
// it needs per instruction format.
type instr struct {
	raw    uint32
	opcode uint32
	rd     uint32
	funct3 uint32
	rs1    uint32
	rs2    uint32
	funct7 uint32

	immI int32
	immS int32
	immB int32
	immU int32
	immJ int32
}

func decode(ir uint32) instr {
	return instr{
		raw:    ir,
		opcode: ir & 0x7f,
		rd:     (ir >> 7) & 0x1f,
		funct3: (ir >> 12) & 0x7,
		rs1:    (ir >> 15) & 0x1f,
		rs2:    (ir >> 20) & 0x1f,
		funct7: (ir >> 25) & 0x7f,

		immI: signExtend(ir>>20, 12),
		immS: signExtend((((ir>>25)&0x7f)<<5)|((ir>>7)&0x1f), 12),
		immB: signExtend(
			(((ir>>31)&1)<<12)|(((ir>>7)&1)<<11)|(((ir>>25)&0x3f)<<5)|(((ir>>8)&0xf)<<1),
			13,
		),
		immU: int32(ir & 0xfffff000),
		immJ: signExtend(
			(((ir>>31)&1)<<20)|(((ir>>12)&0xff)<<12)|(((ir>>20)&1)<<11)|(((ir>>21)&0x3ff)<<1),
			21,
		),
	}
}

// signExtend sign-extends the low `bits` bits of v (already assumed
// shifted into position) to a full 32-bit signed value.
func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}
