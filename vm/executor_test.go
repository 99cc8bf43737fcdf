package vm

import (
	"bytes"
	"testing"
)

func writeProgram(t *testing.T, mem *Memory, base uint64, words []uint32) {
	t.Helper()
	for i, w := range words {
		if err := mem.WriteWord(base+uint64(i)*4, w); err != nil {
			t.Fatalf("write instruction %d: %v", i, err)
		}
	}
}

func newTestExecutor(t *testing.T) (*Executor, *Memory, uint64) {
	t.Helper()
	mem := NewMemory()
	base, err := mem.Alloc(0x10000, 0x1000, PermRead|PermWrite|PermExecute, "text")
	if err != nil {
		t.Fatalf("alloc text: %v", err)
	}
	cpu := NewCPU()
	cpu.PC = base
	syscalls := NewSyscallTable(&bytes.Buffer{}, &bytes.Buffer{})
	exec := NewExecutor(cpu, mem, syscalls)
	return exec, mem, base
}

func TestExecutorAddiChain(t *testing.T) {
	exec, mem, base := newTestExecutor(t)

	program := []uint32{
		encodeI(OpImm, 1, Funct3ADDSUB, 0, 5),  // addi x1, x0, 5
		encodeI(OpImm, 2, Funct3ADDSUB, 1, 10), // addi x2, x1, 10
	}
	writeProgram(t, mem, base, program)

	exec.MaxInstructions = 2
	if err := exec.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if exec.CPU.GetX(1) != 5 {
		t.Fatalf("x1 = %d, want 5", exec.CPU.GetX(1))
	}
	if exec.CPU.GetX(2) != 15 {
		t.Fatalf("x2 = %d, want 15", exec.CPU.GetX(2))
	}
	if exec.InstructionsRun() != 2 {
		t.Fatalf("instructions run = %d, want 2", exec.InstructionsRun())
	}
}

func TestExecutorLoadAfterStore(t *testing.T) {
	exec, mem, base := newTestExecutor(t)
	data, err := mem.Alloc(0x20000, 0x100, PermRead|PermWrite, "data")
	if err != nil {
		t.Fatalf("alloc data: %v", err)
	}

	// Materialize the data address via LUI (upper 20 bits) + ADDI (low 12
	// bits, sign-extended) -- the standard RISC-V large-constant idiom.
	high := (data + 0x800) &^ 0xFFF
	low := int32(int64(data) - int64(high))

	prog := []uint32{
		encodeLUIImm(1, high),                    // lui x1, high
		encodeI(OpImm, 1, Funct3ADDSUB, 1, low),   // addi x1, x1, low
		encodeI(OpImm, 2, Funct3ADDSUB, 0, 0x123), // addi x2, x0, 0x123
		encodeS(OpStore, Funct3SD, 1, 2, 0),       // sd x2, 0(x1)
		encodeI(OpLoad, 3, Funct3LD, 1, 0),        // ld x3, 0(x1)
	}
	writeProgram(t, mem, base, prog)

	exec.MaxInstructions = uint64(len(prog))
	if err := exec.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if exec.CPU.GetX(3) != 0x123 {
		t.Fatalf("x3 = 0x%X, want 0x123", exec.CPU.GetX(3))
	}
}

func TestExecutorGuestExitPropagates(t *testing.T) {
	exec, mem, base := newTestExecutor(t)

	prog := []uint32{
		encodeI(OpImm, RegA0, Funct3ADDSUB, 0, 7),      // addi a0, x0, 7
		encodeI(OpImm, RegA7, Funct3ADDSUB, 0, SysExit), // addi a7, x0, SysExit
		encodeSystem(0),                                 // ecall
	}
	writeProgram(t, mem, base, prog)
	exec.MaxInstructions = 0

	err := exec.Run()
	ge, ok := IsGuestExit(err)
	if !ok {
		t.Fatalf("expected GuestExit, got %v", err)
	}
	if ge.Status != 7 {
		t.Fatalf("exit status = %d, want 7", ge.Status)
	}
}

func TestExecutorSnapshotRestore(t *testing.T) {
	exec, mem, base := newTestExecutor(t)
	data, err := mem.Alloc(0x30000, 0x20, PermRead|PermWrite, "data")
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}

	prog := []uint32{
		encodeI(OpImm, 1, Funct3ADDSUB, 0, 1), // addi x1, x0, 1
	}
	writeProgram(t, mem, base, prog)
	exec.MaxInstructions = 1

	snap := exec.Snapshot()

	if err := exec.Run(); err != nil {
		t.Fatalf("run 1: %v", err)
	}
	if exec.CPU.GetX(1) != 1 {
		t.Fatalf("x1 after first run = %d, want 1", exec.CPU.GetX(1))
	}
	if err := mem.WriteByte(data, 0xFF); err != nil {
		t.Fatalf("dirty write: %v", err)
	}

	exec.Restore(snap)
	if exec.CPU.GetX(1) != 0 {
		t.Fatalf("x1 after restore = %d, want 0", exec.CPU.GetX(1))
	}
	if exec.CPU.PC != base {
		t.Fatalf("PC after restore = 0x%X, want 0x%X", exec.CPU.PC, base)
	}
	v, err := mem.ReadByte(data)
	if err != nil {
		t.Fatalf("read after restore: %v", err)
	}
	if v != 0 {
		t.Fatalf("dirty byte survived restore: 0x%X", v)
	}
}

func encodeS(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm) & Mask12Bit
	immHi := u >> 5
	immLo := u & 0x1F
	return immHi<<25 | rs2<<RS2Shift | rs1<<RS1Shift | funct3<<Funct3Shift | immLo<<7 | opcode
}

func encodeLUIImm(rd uint32, value uint64) uint32 {
	return uint32(value&0xFFFFF000) | rd<<RDShift | OpLUI
}

func encodeSystem(imm uint32) uint32 {
	return imm<<20 | OpSystem
}
