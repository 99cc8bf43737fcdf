package vm

import (
	"errors"
	"fmt"
)

// Error kinds returned by the memory manager, decoder and interpreter.
//
// Propagation policy (see also Executor.Step): GuestExit is not an error,
// it is the normal termination signal threaded through the exit latch.
// SegFault, PermDenied and IllegalInstruction are "fuzz-interesting" --
// the fetch-execute loop classifies them distinctly so a fuzzing harness
// can bucket crashes by category. Unsupported is a hard stop.

// SegFault reports an access to an address no segment contains.
type SegFault struct {
	Addr uint64
}

func (e *SegFault) Error() string {
	return fmt.Sprintf("segmentation fault at 0x%016X", e.Addr)
}

// PermDenied reports an access that violates a segment's R/W/X bits.
type PermDenied struct {
	Addr   uint64
	Needed Permission
}

func (e *PermDenied) Error() string {
	return fmt.Sprintf("permission denied (%s) at 0x%016X", e.Needed, e.Addr)
}

// IllegalInstruction reports a decode failure or a reserved encoding.
type IllegalInstruction struct {
	PC  uint64
	Raw uint32
}

func (e *IllegalInstruction) Error() string {
	return fmt.Sprintf("illegal instruction 0x%08X at pc=0x%016X", e.Raw, e.PC)
}

// Unsupported reports a feature this core declines to implement: the
// D/F extensions, an AMO width other than word/doubleword, CSR
// instructions, EBREAK, an opcode or funct3 with no handler, a reserved
// compressed encoding, lseek, or an unrecognized syscall number.
type Unsupported struct {
	Feature string
}

func (e *Unsupported) Error() string {
	return fmt.Sprintf("unsupported: %s", e.Feature)
}

// GuestExit is not a failure. When the guest invokes exit or exit_group
// the ECALL handler only latches the CPU's exit state; Executor.Run then
// returns a GuestExit so callers can distinguish "program finished" from
// every other error kind.
type GuestExit struct {
	Status int32
}

func (e *GuestExit) Error() string {
	return fmt.Sprintf("guest exited with status %d", e.Status)
}

// IsGuestExit reports whether err is (or wraps) a GuestExit.
func IsGuestExit(err error) (*GuestExit, bool) {
	var ge *GuestExit
	ok := errors.As(err, &ge)
	return ge, ok
}
