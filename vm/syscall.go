package vm

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Error handling philosophy for the syscall layer:
//
//  1. VM integrity errors (bad guest pointer, permission violation,
//     address overflow) return a Go error and halt execution -- these
//     come back from Memory's Check*/Read*/Write* helpers unchanged.
//  2. Expected operation failures (ENOENT, EBADF, short write) are
//     reported the way Linux reports them to real programs: a negative
//     errno written into a0. The guest is expected to check it, exactly
//     like native code linked against libc's syscall wrappers would.
//
// ECALL is never itself an error; SysExit/SysExitGroup latch the CPU's
// exit state instead of returning one, so the executor's normal retire
// path unwinds cleanly up to the caller, which then reports GuestExit.

// hostFile is an open file descriptor in the guest's FD table above
// FirstUserFD. Stdin/stdout/stderr are not tracked here -- they always
// resolve to SyscallTable's configured streams.
type hostFile struct {
	f *os.File
}

// SyscallTable implements the Linux RV64 syscalls this emulator
// understands, operating on a CPU/Memory pair passed at dispatch time.
// It owns the guest's open-file table and I/O streams so a fuzzing
// harness can redirect guest output per-worker without touching the
// CPU/Memory types themselves.
type SyscallTable struct {
	Stdout io.Writer
	Stderr io.Writer

	files  map[int32]*hostFile
	nextFD int32
}

// NewSyscallTable returns a table writing guest stdout/stderr to the
// given streams (os.Stdout/os.Stderr normally; a discarding writer
// under the fuzzing harness).
func NewSyscallTable(stdout, stderr io.Writer) *SyscallTable {
	return &SyscallTable{
		Stdout: stdout,
		Stderr: stderr,
		files:  make(map[int32]*hostFile),
		nextFD: FirstUserFD,
	}
}

// Dispatch executes the syscall numbered in a7, reading its other
// arguments from a0-a5 and writing its return value (or negative
// errno) into a0, per the ecall calling convention.
func (t *SyscallTable) Dispatch(cpu *CPU, mem *Memory) error {
	num := cpu.GetX(RegA7)
	a0 := cpu.GetX(RegA0)
	a1 := cpu.GetX(RegA1)
	a2 := cpu.GetX(RegA2)

	switch num {
	case SysWrite:
		return t.sysWrite(cpu, mem, int32(a0), a1, a2)
	case SysWritev:
		return t.sysWritev(cpu, mem, int32(a0), a1, a2)
	case SysOpenat:
		return t.sysOpenat(cpu, mem, int32(a0), a1, uint32(a2), uint32(cpu.GetX(RegA3)))
	case SysLseek:
		return &Unsupported{Feature: "lseek"}
	case SysIoctl:
		cpu.SetX(RegA0, 0)
		return nil
	case SysMmap:
		return t.sysMmap(cpu, mem)
	case SysSetTidAddress:
		cpu.SetX(RegA0, 1) // fixed fake tid, no real threading
		return nil
	case SysExit:
		cpu.SetExit(int32(a0))
		return nil
	case SysExitGroup:
		cpu.SetExit(int32(a0))
		return nil
	default:
		return &Unsupported{Feature: "syscall number"}
	}
}

func negErrno(err error) uint64 {
	if errno, ok := err.(unix.Errno); ok {
		return uint64(int64(-int32(errno)))
	}
	return uint64(int64(-1))
}

func (t *SyscallTable) writerFor(fd int32) io.Writer {
	switch fd {
	case FDStdout:
		return t.Stdout
	case FDStderr:
		return t.Stderr
	default:
		if hf, ok := t.files[fd]; ok {
			return hf.f
		}
		return nil
	}
}

func (t *SyscallTable) sysWrite(cpu *CPU, mem *Memory, fd int32, bufAddr, count uint64) error {
	w := t.writerFor(fd)
	if w == nil {
		cpu.SetX(RegA0, negErrno(unix.EBADF))
		return nil
	}
	data, err := mem.GetBytes(bufAddr, count)
	if err != nil {
		return err
	}
	n, werr := w.Write(data)
	if werr != nil {
		cpu.SetX(RegA0, negErrno(unix.EIO))
		return nil
	}
	cpu.SetX(RegA0, uint64(n))
	return nil
}

func (t *SyscallTable) sysWritev(cpu *CPU, mem *Memory, fd int32, iovAddr, iovCnt uint64) error {
	w := t.writerFor(fd)
	if w == nil {
		cpu.SetX(RegA0, negErrno(unix.EBADF))
		return nil
	}
	var total uint64
	for i := uint64(0); i < iovCnt; i++ {
		entry, err := mem.GetBytes(iovAddr+i*IovecSize, IovecSize)
		if err != nil {
			return err
		}
		base := leUint64(entry[0:8])
		length := leUint64(entry[8:16])
		if length == 0 {
			continue
		}
		data, err := mem.GetBytes(base, length)
		if err != nil {
			return err
		}
		n, werr := w.Write(data)
		if werr != nil {
			cpu.SetX(RegA0, negErrno(unix.EIO))
			return nil
		}
		total += uint64(n)
	}
	cpu.SetX(RegA0, total)
	return nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func (t *SyscallTable) sysOpenat(cpu *CPU, mem *Memory, dirfd int32, pathAddr uint64, flags, mode uint32) error {
	pathBytes, err := mem.ReadString(pathAddr)
	if err != nil {
		return err
	}
	hostFlags := translateOpenFlags(flags)
	f, oerr := os.OpenFile(string(pathBytes), hostFlags, os.FileMode(mode&0o777))
	if oerr != nil {
		cpu.SetX(RegA0, negErrno(unix.ENOENT))
		return nil
	}
	fd := t.nextFD
	t.nextFD++
	t.files[fd] = &hostFile{f: f}
	cpu.SetX(RegA0, uint64(fd))
	return nil
}

func translateOpenFlags(guestFlags uint32) int {
	flags := 0
	if guestFlags&unix.O_WRONLY != 0 {
		flags |= os.O_WRONLY
	}
	if guestFlags&unix.O_RDWR != 0 {
		flags |= os.O_RDWR
	}
	if guestFlags&unix.O_CREAT != 0 {
		flags |= os.O_CREATE
	}
	if guestFlags&unix.O_APPEND != 0 {
		flags |= os.O_APPEND
	}
	if guestFlags&unix.O_TRUNC != 0 {
		flags |= os.O_TRUNC
	}
	return flags
}

// sysMmap services anonymous mmap requests only -- the emulator has no
// host file-backed-mapping story, matching spec.md's memory-mapped-file
// non-goal. A request without MAP_ANONYMOUS in a3 gets -ENODEV. The
// requested length is satisfied from Memory's bump allocator; a nonzero
// address in a0 is honored as the allocation base.
func (t *SyscallTable) sysMmap(cpu *CPU, mem *Memory) error {
	const mapAnonymous = 0x20 // Linux MAP_ANONYMOUS
	addrHint := cpu.GetX(RegA0)
	length := cpu.GetX(RegA1)
	prot := uint32(cpu.GetX(RegA2))
	if cpu.GetX(RegA3)&mapAnonymous == 0 {
		cpu.SetX(RegA0, negErrno(unix.ENODEV))
		return nil
	}

	perms := PermNone
	if prot&MmapProtRead != 0 {
		perms |= PermRead
	}
	if prot&MmapProtWrite != 0 {
		perms |= PermWrite
	}
	if prot&MmapProtExec != 0 {
		perms |= PermExecute
	}

	base, err := mem.Alloc(addrHint, length, perms, "mmap")
	if err != nil {
		cpu.SetX(RegA0, negErrno(unix.ENOMEM))
		return nil
	}
	cpu.SetX(RegA0, base)
	return nil
}
