package vm

import "testing"

func TestDecode32Fields(t *testing.T) {
	// ADDI x1, x2, -1: opcode OP-IMM, funct3 ADDSUB, rd=1, rs1=2, imm=-1 (all ones)
	word := uint32(0xFFF10093)
	ins := Decoder{}.Decode32(word)

	if ins.Opcode != OpImm {
		t.Fatalf("opcode = 0x%X, want OpImm", ins.Opcode)
	}
	if ins.RD != 1 {
		t.Fatalf("rd = %d, want 1", ins.RD)
	}
	if ins.RS1 != 2 {
		t.Fatalf("rs1 = %d, want 2", ins.RS1)
	}
	if ins.Funct3 != Funct3ADDSUB {
		t.Fatalf("funct3 = %d, want ADDSUB", ins.Funct3)
	}
	if ins.ImmI != -1 {
		t.Fatalf("immI = %d, want -1", ins.ImmI)
	}
}

func TestDecode32BranchImmediate(t *testing.T) {
	// BEQ x0, x0, -4 (a tight infinite loop): imm[12|10:5|4:1|11] all encode -4.
	// Construct directly rather than from a real assembler encoding table:
	// imm = -4 -> binary ...11111111100, bit0 implicit zero.
	// b12=1 b11=1 b10_5=0x3F b4_1=0xE
	raw := uint32(OpBranch)
	raw |= uint32(Funct3BEQ) << Funct3Shift
	b12 := uint32(1)
	b11 := uint32(1)
	b10_5 := uint32(0x3F)
	b4_1 := uint32(0xE)
	raw |= b12 << 31
	raw |= b11 << 7
	raw |= b10_5 << 25
	raw |= b4_1 << 8

	ins := Decoder{}.Decode32(raw)
	if ins.ImmB != -4 {
		t.Fatalf("immB = %d, want -4", ins.ImmB)
	}
}

func TestDecode16Quadrant(t *testing.T) {
	// C.LI x1, 5: quadrant 1, funct3 010, rd=1, imm bits set for 5.
	raw := uint16(Quadrant1) | uint16(0x2)<<13 | uint16(1)<<7 | uint16(5)<<2
	ins := Decoder{}.Decode16(raw)
	if ins.Quadrant != Quadrant1 {
		t.Fatalf("quadrant = %d, want 1", ins.Quadrant)
	}
	if ins.Funct3 != 0x2 {
		t.Fatalf("funct3 = %d, want 2", ins.Funct3)
	}
	if ins.RD != 1 {
		t.Fatalf("rd = %d, want 1", ins.RD)
	}
}

func TestIsCompressed(t *testing.T) {
	if IsCompressed(0xFFFFFFFF) {
		t.Fatal("word with low bits 11 should not be compressed")
	}
	if !IsCompressed(0x00000001) {
		t.Fatal("word with low bits != 11 should be compressed")
	}
}
