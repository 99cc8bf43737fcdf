package vm

// Execution limits
const (
	DefaultMaxInstructions = 10_000_000 // default instruction budget before the executor halts a run
	DefaultCallTraceCap    = callTraceDepth
	DefaultStackSize       = 1 << 20 // 1MB, matches a typical Linux default guest stack
)

// Memory layout defaults for the emulator shell's initial stack, used
// when the ELF being loaded doesn't otherwise constrain placement.
const (
	DefaultStackTop = 0x0000_7fff_ffff_f000
)

// Address overflow protection: the maximum address that still allows
// an 8-byte access without wrapping a 64-bit address calculation.
const Address64BitMaxSafe = ^uint64(0) - 7
