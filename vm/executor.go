package vm

// Snapshot is a point-in-time copy of an Executor's full machine
// state, taken before a fuzzing iteration so the guest can be rerun
// from the same starting point without reloading the ELF image.
type Snapshot struct {
	cpu *CPU
	mem *Memory
}

// Executor drives the fetch-decode-execute loop over a CPU/Memory
// pair. It has no notion of debugger stepping modes or breakpoints --
// those are explicitly out of scope -- it either runs to completion
// (GuestExit, or an error) or stops at an instruction budget.
type Executor struct {
	CPU      *CPU
	Memory   *Memory
	Syscalls *SyscallTable

	decoder Decoder

	// MaxInstructions bounds a single Run call; zero means unbounded.
	// Fuzzing callers always set this so a guest that spins forever
	// can't wedge a worker.
	MaxInstructions uint64

	// Trace is nil for every fuzzing worker; a single-shot run can set
	// it (via ExecutionTrace.Enabled) to reproduce one interesting
	// input outside the harness.
	Trace *ExecutionTrace

	instructionsRun uint64
}

// NewExecutor wires a CPU, Memory and SyscallTable into a runnable
// machine. The caller is responsible for having already loaded a
// program into Memory and set CPU.PC to its entry point.
func NewExecutor(cpu *CPU, mem *Memory, syscalls *SyscallTable) *Executor {
	return &Executor{CPU: cpu, Memory: mem, Syscalls: syscalls, MaxInstructions: DefaultMaxInstructions}
}

// InstructionsRun returns the number of instructions retired since the
// Executor was created (or since the last Snapshot/Restore cycle,
// which does not reset the counter -- it's a lifetime total used for
// throughput statistics in the fuzzing harness).
func (e *Executor) InstructionsRun() uint64 { return e.instructionsRun }

// Run steps the machine until it exits, faults, or hits
// MaxInstructions. The returned error is nil only when MaxInstructions
// is exhausted without the guest exiting; a normal guest exit comes
// back as *GuestExit (see IsGuestExit), and any fault comes back as
// the corresponding error type from errors.go.
func (e *Executor) Run() error {
	start := e.instructionsRun
	for e.MaxInstructions == 0 || e.instructionsRun-start < e.MaxInstructions {
		if err := e.Step(); err != nil {
			return err
		}
		if e.CPU.ExitCalled {
			return &GuestExit{Status: e.CPU.ExitStatus}
		}
	}
	return nil
}

// Step fetches, decodes and executes exactly one instruction, advancing
// PC and incrementing the instruction counter. It does not itself check
// CPU.ExitCalled -- callers that want to stop promptly after an exit
// should check it themselves, as Run does.
func (e *Executor) Step() error {
	if err := e.Memory.CheckExecute(e.CPU.PC); err != nil {
		return err
	}

	word, err := e.Memory.ReadWord(e.CPU.PC)
	if err != nil {
		return err
	}

	if e.Trace != nil {
		e.Trace.BeforeStep(e.CPU)
	}

	var nextPC uint64
	if IsCompressed(word) {
		ins16 := e.decoder.Decode16(uint16(word))
		nextPC, err = ExecuteCompressed(e.CPU, e.Memory, ins16, e.CPU.PC)
		e.CPU.LastWasCompressed = true
	} else {
		ins32 := e.decoder.Decode32(word)
		nextPC, err = e.executeInstruction32(ins32, e.CPU.PC)
		e.CPU.LastWasCompressed = false
	}
	if err != nil {
		return wrapExecError(err, e.CPU.PC, word)
	}

	if isJumpOpcode(word) {
		e.CPU.RecordCall(e.CPU.PC, nextPC)
	}

	e.CPU.PC = nextPC
	e.CPU.ForceZero()
	e.instructionsRun++
	if e.Trace != nil {
		e.Trace.AfterStep(e.instructionsRun, word, e.CPU)
	}
	return nil
}

func wrapExecError(err error, pc uint64, word uint32) error {
	if _, ok := err.(*Unsupported); ok {
		return err
	}
	if _, ok := err.(*SegFault); ok {
		return err
	}
	if _, ok := err.(*PermDenied); ok {
		return err
	}
	return &IllegalInstruction{PC: pc, Raw: word}
}

func isJumpOpcode(word uint32) bool {
	op := word & Opcode32Mask
	return op == OpJAL || op == OpJALR
}

// executeInstruction32 dispatches a decoded 32-bit instruction to its
// handler and returns the PC of the following instruction.
func (e *Executor) executeInstruction32(ins Instruction32, pc uint64) (uint64, error) {
	fallthroughPC := pc + InstSize32

	switch ins.Opcode {
	case OpImm:
		return fallthroughPC, ExecuteOpImm(e.CPU, ins)
	case OpImm32:
		return fallthroughPC, ExecuteOpImm32(e.CPU, ins)
	case OpOp:
		return fallthroughPC, ExecuteOp(e.CPU, ins)
	case OpOp32:
		return fallthroughPC, ExecuteOp32(e.CPU, ins)
	case OpLUI:
		ExecuteLUI(e.CPU, ins)
		return fallthroughPC, nil
	case OpAUIPC:
		ExecuteAUIPC(e.CPU, ins, pc)
		return fallthroughPC, nil
	case OpLoad:
		return fallthroughPC, ExecuteLoad(e.CPU, e.Memory, ins)
	case OpStore:
		return fallthroughPC, ExecuteStore(e.CPU, e.Memory, ins)
	case OpBranch:
		target, taken, err := ExecuteBranch(e.CPU, ins, pc)
		if err != nil {
			return fallthroughPC, err
		}
		if taken {
			return target, nil
		}
		return fallthroughPC, nil
	case OpJAL:
		return ExecuteJAL(e.CPU, ins, pc, InstSize32), nil
	case OpJALR:
		return ExecuteJALR(e.CPU, ins, pc, InstSize32), nil
	case OpSystem:
		return fallthroughPC, ExecuteSystem(e.CPU, e.Memory, e.Syscalls, ins)
	case OpAMO:
		return fallthroughPC, ExecuteAMO(e.CPU, e.Memory, ins)
	case OpMiscMem:
		return fallthroughPC, nil // FENCE/FENCE.I: no-op, single-hart
	case OpFPOp, OpMAdd:
		return fallthroughPC, &Unsupported{Feature: "floating point"}
	default:
		return fallthroughPC, &Unsupported{Feature: "opcode"}
	}
}

// Snapshot captures the full machine state for later restore. Taking a
// snapshot is O(size of all mapped memory + register file), since
// Memory's Clone deep-copies every segment's bytes once, here at
// snapshot time; restoring is the cheap, frequent operation.
func (e *Executor) Snapshot() *Snapshot {
	return &Snapshot{cpu: e.CPU.Clone(), mem: e.Memory.Clone()}
}

// Restore rewinds the Executor to a previously captured Snapshot. Only
// segments dirtied since the snapshot are copied back; segments
// allocated afterward are dropped. The instruction counter is not
// reset -- it is a lifetime total for throughput reporting, not a
// per-iteration one.
func (e *Executor) Restore(snap *Snapshot) {
	e.CPU.RestoreFrom(snap.cpu)
	e.Memory.RestoreFrom(snap.mem)
}
