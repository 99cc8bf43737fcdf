package vm

// ============================================================================
// RV64GC instruction encoding constants
// ============================================================================
// Bit positions and opcode values are fixed by the RISC-V ISA manual
// and should not be modified.

// 32-bit instruction opcodes (bits [6:0]).
const (
	OpLoad       = 0b0000011
	OpMiscMem    = 0b0001111
	OpImm        = 0b0010011
	OpAUIPC      = 0b0010111
	OpImm32      = 0b0011011
	OpStore      = 0b0100011
	OpAMO        = 0b0101111
	OpOp         = 0b0110011
	OpLUI        = 0b0110111
	OpOp32       = 0b0111011
	OpMAdd       = 0b1000011
	OpFPOp       = 0b1010011
	OpBranch     = 0b1100011
	OpJALR       = 0b1100111
	OpJAL        = 0b1101111
	OpSystem     = 0b1110011
	Opcode32Mask = 0b1111111
)

// funct3 values shared across several opcodes; names are scoped to the
// family they're used in by the interpreter's dispatch switches.
const (
	Funct3ADDSUB = 0x0
	Funct3SLL    = 0x1
	Funct3SLT    = 0x2
	Funct3SLTU   = 0x3
	Funct3XOR    = 0x4
	Funct3SR     = 0x5
	Funct3OR     = 0x6
	Funct3AND    = 0x7

	Funct3LB  = 0x0
	Funct3LH  = 0x1
	Funct3LW  = 0x2
	Funct3LD  = 0x3
	Funct3LBU = 0x4
	Funct3LHU = 0x5
	Funct3LWU = 0x6

	Funct3BEQ  = 0x0
	Funct3BNE  = 0x1
	Funct3BLT  = 0x4
	Funct3BGE  = 0x5
	Funct3BLTU = 0x6
	Funct3BGEU = 0x7

	Funct3ECALLBREAK = 0x0
)

// funct7 values that distinguish ADD/SUB and SRL/SRA, and select
// between the base integer op and its M-extension sibling for the
// given funct3.
const (
	Funct7Base = 0x00
	Funct7Alt  = 0x20 // SUB, SRA, SRAI, SRAIW
	Funct7MExt = 0x01 // MUL/MULH*/DIV*/REM* share this funct7 at opcode OP/OP-32
)

// Bit masks and shifts used while extracting instruction fields.
const (
	Mask5Bit  = 0x1F
	Mask6Bit  = 0x3F
	Mask7Bit  = 0x7F
	Mask12Bit = 0xFFF
	Mask20Bit = 0xFFFFF

	RDShift     = 7
	Funct3Shift = 12
	RS1Shift    = 15
	RS2Shift    = 20
	Funct7Shift = 25
)

// Sign extension helpers operate on these field widths.
const (
	ImmIBits = 12
	ImmSBits = 12
	ImmBBits = 13
	ImmJBits = 21
)

// Instruction sizes in bytes.
const (
	InstSize32 = 4
	InstSize16 = 2
)

// Compressed-register field mapping: the three-bit rs1'/rs2'/rd' fields
// used by several quadrant-00/01 encodings address x8..x15.
const CompressedRegBase = 8

// ============================================================================
// Quadrants and funct3 for the C (compressed) extension
// ============================================================================
const (
	Quadrant0 = 0b00
	Quadrant1 = 0b01
	Quadrant2 = 0b10
	Quadrant3 = 0b11 // not compressed -- marks a 32-bit instruction
)
