package vm

import "testing"

func TestExecuteCompressedADDI4SPN(t *testing.T) {
	cpu := NewCPU()
	mem := NewMemory()
	cpu.SetX(RegSP, 0x2000)

	raw := uint16(0x0080) // quadrant 0, funct3 0, nzuimm bit6 set -> +64, rd'=x8
	ins := Decoder{}.Decode16(raw)
	if _, err := ExecuteCompressed(cpu, mem, ins, 0x1000); err != nil {
		t.Fatalf("c.addi4spn: %v", err)
	}
	if cpu.GetX(8) != 0x2040 {
		t.Fatalf("x8 = 0x%X, want 0x2040", cpu.GetX(8))
	}
}

func TestExecuteCompressedLI(t *testing.T) {
	cpu := NewCPU()
	mem := NewMemory()

	raw := uint16(Quadrant1) | uint16(0x2)<<13 | uint16(1)<<7 | uint16(5)<<2 // c.li x1, 5
	ins := Decoder{}.Decode16(raw)
	next, err := ExecuteCompressed(cpu, mem, ins, 0x1000)
	if err != nil {
		t.Fatalf("c.li: %v", err)
	}
	if cpu.GetX(1) != 5 {
		t.Fatalf("x1 = %d, want 5", cpu.GetX(1))
	}
	if next != 0x1002 {
		t.Fatalf("next pc = 0x%X, want 0x1002", next)
	}
}

func TestExecuteCompressedJ(t *testing.T) {
	cpu := NewCPU()
	mem := NewMemory()

	raw := uint16(Quadrant1) | uint16(0x5)<<13 | uint16(1)<<7 // c.j, offset bit6 set -> +64
	ins := Decoder{}.Decode16(raw)
	next, err := ExecuteCompressed(cpu, mem, ins, 0x1000)
	if err != nil {
		t.Fatalf("c.j: %v", err)
	}
	if next != 0x1040 {
		t.Fatalf("next pc = 0x%X, want 0x1040", next)
	}
}

func TestExecuteCompressedLoadStoreRoundTrip(t *testing.T) {
	cpu := NewCPU()
	mem := NewMemory()
	base, err := mem.Alloc(0x3000, 0x40, PermRead|PermWrite, "data")
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	cpu.SetX(8, base) // x8 is the compressed-register-base (rs1')
	cpu.SetX(9, 0x1234)

	// c.sd x9, 0(x8): quadrant 0, funct3 0x7, rs1'=x8 (0), rs2'=x9 (1)
	sdRaw := uint16(Quadrant0) | uint16(0x7)<<13 | uint16(0)<<7 | uint16(1)<<2
	sdIns := Decoder{}.Decode16(sdRaw)
	if _, err := ExecuteCompressed(cpu, mem, sdIns, 0x1000); err != nil {
		t.Fatalf("c.sd: %v", err)
	}

	// c.ld x10, 0(x8): rd'=x10 (2), rs1'=x8 (0)
	ldRaw := uint16(Quadrant0) | uint16(0x3)<<13 | uint16(0)<<7 | uint16(2)<<2
	ldIns := Decoder{}.Decode16(ldRaw)
	if _, err := ExecuteCompressed(cpu, mem, ldIns, 0x1000); err != nil {
		t.Fatalf("c.ld: %v", err)
	}
	if cpu.GetX(10) != 0x1234 {
		t.Fatalf("x10 = 0x%X, want 0x1234", cpu.GetX(10))
	}
}
