package fuzz

import (
	"bytes"
	"context"
	"testing"

	"github.com/rv64fuzz/emu/vm"
)

func newExitExecutor(t *testing.T) (*vm.Executor, error) {
	t.Helper()
	mem := vm.NewMemory()
	base, err := mem.Alloc(0x10000, 0x1000, vm.PermRead|vm.PermWrite|vm.PermExecute, "text")
	if err != nil {
		return nil, err
	}
	program := []uint32{
		0x00000513, // addi a0, x0, 0
		0x05D00893, // addi a7, x0, 93 (exit)
		0x00000073, // ecall
	}
	for i, w := range program {
		if err := mem.WriteWord(base+uint64(i)*4, w); err != nil {
			return nil, err
		}
	}
	cpu := vm.NewCPU()
	cpu.PC = base
	syscalls := vm.NewSyscallTable(&bytes.Buffer{}, &bytes.Buffer{})
	exec := vm.NewExecutor(cpu, mem, syscalls)
	exec.MaxInstructions = 1000
	return exec, nil
}

func newUnsupportedExecutor(t *testing.T) (*vm.Executor, error) {
	t.Helper()
	mem := vm.NewMemory()
	base, err := mem.Alloc(0x10000, 0x1000, vm.PermRead|vm.PermWrite|vm.PermExecute, "text")
	if err != nil {
		return nil, err
	}
	if err := mem.WriteWord(base, 0x0000007F); err != nil { // opcode with no handler
		return nil, err
	}
	cpu := vm.NewCPU()
	cpu.PC = base
	syscalls := vm.NewSyscallTable(&bytes.Buffer{}, &bytes.Buffer{})
	exec := vm.NewExecutor(cpu, mem, syscalls)
	exec.MaxInstructions = 1000
	return exec, nil
}

func TestHarnessRunRespectsIterationBudget(t *testing.T) {
	h := &Harness{
		Workers:    2,
		Iterations: 10,
		Seed:       []byte{0x00},
		Mutate:     BitFlipMutator,
		NewExecutor: func() (*vm.Executor, error) {
			return newExitExecutor(t)
		},
	}
	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	snap := h.Stats.Snapshot()
	// The budget check-then-increment isn't perfectly exact across workers,
	// so allow a small overshoot rather than asserting an exact count.
	if snap.Iterations < 10 || snap.Iterations > uint64(10+h.Workers) {
		t.Fatalf("iterations = %d, want roughly 10", snap.Iterations)
	}
	if snap.NormalExits != snap.Iterations {
		t.Fatalf("normal exits = %d, want %d (every iteration exits cleanly)", snap.NormalExits, snap.Iterations)
	}
}

func TestHarnessRunToSnapshotPCAdvancesPastSetup(t *testing.T) {
	mem := vm.NewMemory()
	base, err := mem.Alloc(0x10000, 0x1000, vm.PermRead|vm.PermWrite|vm.PermExecute, "text")
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	program := []uint32{
		0x00000513, // addi a0, x0, 0   (setup)
		0x00100593, // addi a1, x0, 1   (snapshot PC lands here)
		0x05D00893, // addi a7, x0, 93  (exit)
		0x00000073, // ecall
	}
	for i, w := range program {
		if err := mem.WriteWord(base+uint64(i)*4, w); err != nil {
			t.Fatalf("write program: %v", err)
		}
	}
	cpu := vm.NewCPU()
	cpu.PC = base
	syscalls := vm.NewSyscallTable(&bytes.Buffer{}, &bytes.Buffer{})
	exec := vm.NewExecutor(cpu, mem, syscalls)
	exec.MaxInstructions = 1000

	h := &Harness{SnapshotPC: base + 4}
	if !h.runToSnapshotPC(exec) {
		t.Fatal("runToSnapshotPC returned false, want true")
	}
	if exec.CPU.PC != base+4 {
		t.Fatalf("PC after runToSnapshotPC = 0x%x, want 0x%x", exec.CPU.PC, base+4)
	}
	if exec.CPU.GetX(vm.RegA0) != 0 {
		t.Fatalf("a0 = %d, want 0 (setup instruction should have run)", exec.CPU.GetX(vm.RegA0))
	}
}

func TestHarnessRunToSnapshotPCFailsIfGuestExitsFirst(t *testing.T) {
	exec, err := newExitExecutor(t)
	if err != nil {
		t.Fatalf("newExitExecutor: %v", err)
	}
	h := &Harness{SnapshotPC: exec.CPU.PC + 1000} // unreachable before exit
	if h.runToSnapshotPC(exec) {
		t.Fatal("runToSnapshotPC returned true, want false (guest exits before reaching it)")
	}
}

func TestHarnessStopsOnUnsupported(t *testing.T) {
	h := &Harness{
		Workers:    3,
		Iterations: 0, // unbounded: only the Unsupported halt should stop it
		Seed:       []byte{0x00},
		Mutate:     BitFlipMutator,
		NewExecutor: func() (*vm.Executor, error) {
			return newUnsupportedExecutor(t)
		},
	}
	err := h.Run(context.Background())
	if err == nil {
		t.Fatal("expected Run to return the Unsupported error")
	}
}
