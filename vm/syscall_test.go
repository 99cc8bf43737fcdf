package vm

import (
	"bytes"
	"os"
	"testing"
)

func TestSyscallWrite(t *testing.T) {
	var stdout bytes.Buffer
	table := NewSyscallTable(&stdout, &bytes.Buffer{})

	cpu := NewCPU()
	mem := NewMemory()
	base, err := mem.Alloc(0x1000, 0x20, PermRead|PermWrite, "buf")
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	msg := []byte("hello")
	if err := mem.PutBytes(base, msg); err != nil {
		t.Fatalf("put: %v", err)
	}

	cpu.SetX(RegA7, SysWrite)
	cpu.SetX(RegA0, FDStdout)
	cpu.SetX(RegA1, base)
	cpu.SetX(RegA2, uint64(len(msg)))

	if err := table.Dispatch(cpu, mem); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stdout.String() != "hello" {
		t.Fatalf("stdout = %q, want %q", stdout.String(), "hello")
	}
	if cpu.GetX(RegA0) != uint64(len(msg)) {
		t.Fatalf("a0 = %d, want %d", cpu.GetX(RegA0), len(msg))
	}
}

func TestSyscallWriteBadFD(t *testing.T) {
	table := NewSyscallTable(&bytes.Buffer{}, &bytes.Buffer{})
	cpu := NewCPU()
	mem := NewMemory()

	cpu.SetX(RegA7, SysWrite)
	cpu.SetX(RegA0, 99)
	cpu.SetX(RegA1, 0)
	cpu.SetX(RegA2, 0)

	if err := table.Dispatch(cpu, mem); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if int64(cpu.GetX(RegA0)) >= 0 {
		t.Fatalf("a0 = %d, want negative errno", int64(cpu.GetX(RegA0)))
	}
}

func TestSyscallExitLatchesCPU(t *testing.T) {
	table := NewSyscallTable(&bytes.Buffer{}, &bytes.Buffer{})
	cpu := NewCPU()
	mem := NewMemory()

	cpu.SetX(RegA7, SysExit)
	cpu.SetX(RegA0, 42)

	if err := table.Dispatch(cpu, mem); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !cpu.ExitCalled || cpu.ExitStatus != 42 {
		t.Fatalf("exit not latched: called=%v status=%d", cpu.ExitCalled, cpu.ExitStatus)
	}
}

func TestSyscallOpenat(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "rv64fuzz-test")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	if _, err := tmp.WriteString("0123456789"); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	tmp.Close()

	table := NewSyscallTable(&bytes.Buffer{}, &bytes.Buffer{})
	cpu := NewCPU()
	mem := NewMemory()
	base, err := mem.Alloc(0x1000, 0x100, PermRead|PermWrite, "path")
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	path := append([]byte(tmp.Name()), 0)
	if err := mem.PutBytes(base, path); err != nil {
		t.Fatalf("put: %v", err)
	}

	cpu.SetX(RegA7, SysOpenat)
	cpu.SetX(RegA0, 0)
	cpu.SetX(RegA1, base)
	cpu.SetX(RegA2, 0) // O_RDONLY
	cpu.SetX(RegA3, 0)

	if err := table.Dispatch(cpu, mem); err != nil {
		t.Fatalf("openat dispatch: %v", err)
	}
	fd := int32(cpu.GetX(RegA0))
	if fd < FirstUserFD {
		t.Fatalf("openat returned fd %d, want >= %d", fd, FirstUserFD)
	}
}

func TestSyscallLseekUnsupported(t *testing.T) {
	table := NewSyscallTable(&bytes.Buffer{}, &bytes.Buffer{})
	cpu := NewCPU()
	mem := NewMemory()

	cpu.SetX(RegA7, SysLseek)
	cpu.SetX(RegA0, 0)
	cpu.SetX(RegA1, 5)
	cpu.SetX(RegA2, 0) // SEEK_SET

	err := table.Dispatch(cpu, mem)
	if _, ok := err.(*Unsupported); !ok {
		t.Fatalf("lseek dispatch err = %v (%T), want *Unsupported", err, err)
	}
}

func TestSyscallIoctlIsNoop(t *testing.T) {
	table := NewSyscallTable(&bytes.Buffer{}, &bytes.Buffer{})
	cpu := NewCPU()
	mem := NewMemory()

	cpu.SetX(RegA7, SysIoctl)
	cpu.SetX(RegA0, 0)
	cpu.SetX(RegA1, 0)
	cpu.SetX(RegA2, 0)

	if err := table.Dispatch(cpu, mem); err != nil {
		t.Fatalf("ioctl dispatch: %v", err)
	}
	if cpu.GetX(RegA0) != 0 {
		t.Fatalf("ioctl a0 = %d, want 0", cpu.GetX(RegA0))
	}
}
