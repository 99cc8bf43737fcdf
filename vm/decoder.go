package vm

// Decoder extracts the fields of a fetched instruction word. It is
// stateless: every method is a pure function of its argument, matching
// spec.md's "the decoder is stateless" requirement.
type Decoder struct{}

// IsCompressed reports whether the low two bits of a fetched 32-bit
// word mark a 16-bit (compressed) instruction. Only the low 16 bits of
// word are meaningful in that case.
func IsCompressed(word uint32) bool {
	return word&0x3 != 0x3
}

// Instruction32 holds every field a 32-bit RV64IM encoding might need.
// Not every field applies to every opcode; the interpreter reads only
// the ones its handler needs.
type Instruction32 struct {
	Raw    uint32
	Opcode uint32
	RD     uint32
	RS1    uint32
	RS2    uint32
	Funct3 uint32
	Funct7 uint32
	Funct5 uint32 // AMO op selector, bits [31:27]

	ImmI int64
	ImmS int64
	ImmB int64
	ImmU int64
	ImmJ int64

	Shamt6 uint32 // bits [25:20], 6-bit shift amount for 64-bit shifts
	Shamt5 uint32 // bits [24:20], 5-bit shift amount for *W shifts
}

func signExtend(value uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(value<<shift) >> shift
}

// Decode32 extracts every RV64IM field from a 32-bit instruction word.
func (Decoder) Decode32(word uint32) Instruction32 {
	var ins Instruction32
	ins.Raw = word
	ins.Opcode = word & Mask7Bit
	ins.RD = (word >> RDShift) & Mask5Bit
	ins.Funct3 = (word >> Funct3Shift) & 0x7
	ins.RS1 = (word >> RS1Shift) & Mask5Bit
	ins.RS2 = (word >> RS2Shift) & Mask5Bit
	ins.Funct7 = (word >> Funct7Shift) & Mask7Bit
	ins.Funct5 = (word >> 27) & 0x1F

	// I-immediate: sign-extend bits [31:20].
	ins.ImmI = signExtend(uint64(word)>>20, ImmIBits)

	// S-immediate: bits [31:25] || [11:7].
	immS := ((word >> 25) << 5) | ((word >> 7) & Mask5Bit)
	ins.ImmS = signExtend(uint64(immS), ImmSBits)

	// B-immediate: [31]|[7]|[30:25]|[11:8], scaled by 2 (implicit 0 bit).
	b12 := (word >> 31) & 1
	b11 := (word >> 7) & 1
	b105 := (word >> 25) & Mask6Bit
	b41 := (word >> 8) & 0xF
	immB := (b12 << 12) | (b11 << 11) | (b105 << 5) | (b41 << 1)
	ins.ImmB = signExtend(uint64(immB), ImmBBits)

	// U-immediate: bits [31:12] shifted left 12.
	ins.ImmU = int64(int32(word & 0xFFFFF000))

	// J-immediate: [31]|[19:12]|[20]|[30:21], scaled by 2.
	j20 := (word >> 31) & 1
	j1912 := (word >> 12) & 0xFF
	j11 := (word >> 20) & 1
	j101 := (word >> 21) & 0x3FF
	immJ := (j20 << 20) | (j1912 << 12) | (j11 << 11) | (j101 << 1)
	ins.ImmJ = signExtend(uint64(immJ), ImmJBits)

	ins.Shamt6 = (word >> 20) & Mask6Bit
	ins.Shamt5 = (word >> 20) & Mask5Bit

	return ins
}

// Instruction16 holds the fields a 16-bit compressed encoding might
// need; the interpreter's compressed handlers read the ones relevant
// to their quadrant/funct3.
type Instruction16 struct {
	Raw      uint16
	Quadrant uint32
	Funct3   uint32 // bits [15:13]
	RD       uint32 // full 5-bit rd/rs1 field, bits [11:7]
	RS1      uint32 // alias of RD for encodings that read it as a source
	RS2      uint32 // full 5-bit rs2 field, bits [6:2]
	RDp      uint32 // compressed 3-bit rd'  (x8-x15), bits [4:2]
	RS1p     uint32 // compressed 3-bit rs1' (x8-x15), bits [9:7]
	RS2p     uint32 // compressed 3-bit rs2' (x8-x15), bits [4:2]
}

// Decode16 extracts the quadrant, funct3 and the raw register fields
// shared by most compressed formats. Immediate bit-surgery for each
// specific mnemonic is performed by the compressed interpreter
// handlers themselves (see compressed.go), since the C extension's
// immediate layouts don't share a single shape the way I/S/B/U/J do.
func (Decoder) Decode16(word uint16) Instruction16 {
	var ins Instruction16
	ins.Raw = word
	ins.Quadrant = uint32(word) & 0x3
	ins.Funct3 = uint32(word>>13) & 0x7
	ins.RD = uint32(word>>7) & Mask5Bit
	ins.RS1 = ins.RD
	ins.RS2 = uint32(word>>2) & Mask5Bit
	ins.RDp = CompressedRegBase + (uint32(word>>2)&0x7)
	ins.RS1p = CompressedRegBase + (uint32(word>>7)&0x7)
	ins.RS2p = CompressedRegBase + (uint32(word>>2)&0x7)
	return ins
}
