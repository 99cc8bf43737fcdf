package fuzz

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rv64fuzz/emu/vm"
)

// OutcomeKind classifies how a single fuzzing iteration ended.
type OutcomeKind int

const (
	// OutcomeNormalExit means the guest called exit/exit_group.
	OutcomeNormalExit OutcomeKind = iota
	// OutcomeCrash means a SegFault, PermDenied or IllegalInstruction
	// was raised -- the interesting case a fuzzer is looking for.
	OutcomeCrash
	// OutcomeHang means the iteration's instruction budget was
	// exhausted without the guest exiting.
	OutcomeHang
	// OutcomeUnsupported means the guest hit a feature this core
	// declines to implement. Unlike the other three, this is not
	// scored as fuzz-interesting -- it means the corpus input can't
	// be evaluated at all, and the harness stops rather than letting
	// every subsequent iteration trip over the same gap.
	OutcomeUnsupported
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNormalExit:
		return "normal-exit"
	case OutcomeCrash:
		return "crash"
	case OutcomeHang:
		return "hang"
	case OutcomeUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Outcome is the result of one snapshot-restore iteration.
type Outcome struct {
	Kind         OutcomeKind
	Err          error
	Instructions uint64
	ExitStatus   int32
}

// ExecutorFactory builds one Executor per worker, already loaded with
// the target program and positioned at its entry point. Workers never
// share an Executor -- Memory and CPU are not safe for concurrent use.
type ExecutorFactory func() (*vm.Executor, error)

// InputWriter mutates guest state to apply one fuzzing iteration's
// input before Step-ing the executor, e.g. writing bytes into a
// pre-allocated buffer the guest reads from, or patching argv. Harness
// does not prescribe where the input goes -- that's ELF-specific.
type InputWriter func(mem *vm.Memory, input []byte) error

// Mutator produces the next input to try from a seed corpus entry.
type Mutator func(seed []byte) []byte

// Harness runs many independent snapshot-restore iterations of a
// loaded guest program across a pool of worker goroutines, the way
// spec.md's fuzzing shell drives the core emulator: each worker runs
// its freshly loaded machine forward to SnapshotPC, snapshots it there
// once, then repeatedly restores to that point, mutates the input, and
// reruns.
type Harness struct {
	NewExecutor ExecutorFactory
	WriteInput  InputWriter
	Mutate      Mutator
	Seed        []byte

	Workers    int
	Iterations uint64 // 0 = run until ctx is cancelled

	// SnapshotPC is the program counter each worker runs forward to,
	// once, before taking its restore-point snapshot. Zero means
	// snapshot immediately at the executor's starting PC (the ELF
	// entry point) -- useful for targets with no interesting setup to
	// skip past.
	SnapshotPC uint64

	Coverage *Coverage
	Stats    *Stats

	iterationCount atomic.Uint64
	unsupported    atomic.Bool
	firstUnsup     atomic.Value // error
}

// Run starts Workers goroutines and blocks until every iteration budget
// is exhausted, ctx is cancelled, or a worker reports Unsupported. It
// returns the Unsupported error if that's why it stopped, nil otherwise.
func (h *Harness) Run(ctx context.Context) error {
	if h.Workers <= 0 {
		h.Workers = 1
	}
	if h.Coverage == nil {
		h.Coverage = NewCoverage()
	}
	if h.Stats == nil {
		h.Stats = NewStats()
	}

	var wg sync.WaitGroup
	for i := 0; i < h.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.workerLoop(ctx)
		}()
	}
	wg.Wait()

	if h.unsupported.Load() {
		if err, ok := h.firstUnsup.Load().(error); ok {
			return fmt.Errorf("fuzzing stopped: %w", err)
		}
	}
	return nil
}

func (h *Harness) workerLoop(ctx context.Context) {
	exec, err := h.NewExecutor()
	if err != nil {
		return
	}
	if !h.runToSnapshotPC(exec) {
		return
	}
	snapshot := exec.Snapshot()
	local := NewLocalCoverage()

	input := make([]byte, len(h.Seed))
	copy(input, h.Seed)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if h.unsupported.Load() {
			return
		}
		if h.Iterations > 0 && h.iterationCount.Load() >= h.Iterations {
			return
		}
		h.iterationCount.Add(1)

		exec.Restore(snapshot)
		local.Reset()

		mutated := input
		if h.Mutate != nil {
			mutated = h.Mutate(input)
		}
		if h.WriteInput != nil {
			if werr := h.WriteInput(exec.Memory, mutated); werr != nil {
				continue
			}
		}

		outcome := h.runOneIteration(exec, local)
		newEdges := h.Coverage.Merge(local)
		h.Stats.RecordIteration(outcome.Instructions, outcome.Kind, newEdges)

		if outcome.Kind == OutcomeUnsupported {
			if h.unsupported.CompareAndSwap(false, true) {
				h.firstUnsup.Store(outcome.Err)
			}
			return
		}
	}
}

// runToSnapshotPC steps exec once from its starting state until
// CPU.PC == h.SnapshotPC, so the restore point captures the program
// past whatever one-time setup (libc startup, arg parsing) runs before
// it reaches the input-handling code a fuzzer actually wants to
// exercise repeatedly. A zero SnapshotPC means the executor's starting
// PC is itself the restore point, the common case for a target with
// no such setup. Returns false if the guest exits or faults before
// ever reaching SnapshotPC -- there is nothing for this worker to fuzz.
func (h *Harness) runToSnapshotPC(exec *vm.Executor) bool {
	if h.SnapshotPC == 0 || exec.CPU.PC == h.SnapshotPC {
		return true
	}
	for exec.CPU.PC != h.SnapshotPC {
		if err := exec.Step(); err != nil {
			return false
		}
		if exec.CPU.ExitCalled {
			return false
		}
	}
	return true
}

// runOneIteration drives exec one instruction at a time (rather than
// calling exec.Run) so every retired PC can be folded into local
// coverage before the next fetch.
func (h *Harness) runOneIteration(exec *vm.Executor, local *LocalCoverage) Outcome {
	before := exec.InstructionsRun()

	for {
		if exec.MaxInstructions != 0 && exec.InstructionsRun()-before >= exec.MaxInstructions {
			return Outcome{Kind: OutcomeHang, Instructions: exec.InstructionsRun() - before}
		}

		local.RecordPC(exec.CPU.PC)
		err := exec.Step()
		if err != nil {
			return classifyError(err, exec.InstructionsRun()-before)
		}
		if exec.CPU.ExitCalled {
			return Outcome{
				Kind:         OutcomeNormalExit,
				Instructions: exec.InstructionsRun() - before,
				ExitStatus:   exec.CPU.ExitStatus,
			}
		}
	}
}

func classifyError(err error, instrs uint64) Outcome {
	if ge, ok := vm.IsGuestExit(err); ok {
		return Outcome{Kind: OutcomeNormalExit, Instructions: instrs, ExitStatus: ge.Status}
	}
	switch err.(type) {
	case *vm.SegFault, *vm.PermDenied, *vm.IllegalInstruction:
		return Outcome{Kind: OutcomeCrash, Err: err, Instructions: instrs}
	case *vm.Unsupported:
		return Outcome{Kind: OutcomeUnsupported, Err: err, Instructions: instrs}
	default:
		return Outcome{Kind: OutcomeCrash, Err: err, Instructions: instrs}
	}
}
