package vm

// Linux RV64 syscall numbers this emulator understands. The guest
// loads the number into a7 (x17) before ECALL; unknown numbers are
// fatal (see Unsupported) so a fuzzer can count them as a distinct
// category.
const (
	SysIoctl         = 0x1D
	SysOpenat        = 0x38
	SysWrite         = 0x40
	SysWritev        = 0x42
	SysExit          = 0x5D
	SysExitGroup     = 0x5E
	SysSetTidAddress = 0x60
	SysLseek         = 0x62
	SysMmap          = 0xDE
)

// Standard guest file descriptors.
const (
	FDStdin     = 0
	FDStdout    = 1
	FDStderr    = 2
	FirstUserFD = 3
)

// iovec layout for writev: 16 bytes per entry (8-byte base pointer,
// 8-byte length), host byte order equals guest byte order because the
// guest is little-endian and the emulator itself reads LE.
const IovecSize = 16

// mmap prot bits as passed by the guest in a2, matching the standard
// Linux PROT_* encoding (mirrored by golang.org/x/sys/unix.PROT_*).
const (
	MmapProtRead  = 0x1
	MmapProtWrite = 0x2
	MmapProtExec  = 0x4
)
