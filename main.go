package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rv64fuzz/emu/config"
	"github.com/rv64fuzz/emu/fuzz"
	"github.com/rv64fuzz/emu/loader"
	"github.com/rv64fuzz/emu/vm"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to a TOML config file (default: platform config path)")
		fuzzMode    = flag.Bool("fuzz", false, "Run the target under the snapshot-restore fuzzing harness instead of a single pass")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("rv64fuzz %s (%s)\n", Version, Commit)
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: rv64fuzz [-config path] [-fuzz] <elf-path> [guest-args...]")
		os.Exit(2)
	}
	elfPath := args[0]
	guestArgs := args[1:]

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rv64fuzz: config: %v\n", err)
		os.Exit(1)
	}

	if *fuzzMode {
		os.Exit(runFuzz(cfg, elfPath, guestArgs))
	}
	os.Exit(runOnce(cfg, elfPath, guestArgs))
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFrom(path)
}

func newExecutor(elfPath string, guestArgs []string, maxInstructions uint64, stdout, stderr io.Writer) (*vm.Executor, error) {
	mem := vm.NewMemory()
	argv := append([]string{elfPath}, guestArgs...)
	prog, err := loader.Load(mem, elfPath, argv, os.Environ())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", elfPath, err)
	}

	cpu := vm.NewCPU()
	cpu.PC = prog.EntryPoint
	cpu.SetX(vm.RegSP, prog.StackTop)

	syscalls := vm.NewSyscallTable(stdout, stderr)
	exec := vm.NewExecutor(cpu, mem, syscalls)
	exec.MaxInstructions = maxInstructions
	return exec, nil
}

func runOnce(cfg *config.Config, elfPath string, guestArgs []string) int {
	exec, err := newExecutor(elfPath, guestArgs, cfg.Execution.MaxInstructions, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rv64fuzz: %v\n", err)
		return 1
	}

	if cfg.Execution.EnableTrace {
		traceFile, err := os.Create(cfg.Execution.TraceOutputFile) // #nosec G304 -- operator-supplied config path
		if err != nil {
			fmt.Fprintf(os.Stderr, "rv64fuzz: open trace file: %v\n", err)
			return 1
		}
		defer traceFile.Close()
		trace := vm.NewExecutionTrace(traceFile)
		trace.Enabled = true
		exec.Trace = trace
		defer trace.Dump()
	}

	err = exec.Run()
	if ge, ok := vm.IsGuestExit(err); ok {
		return int(ge.Status)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "rv64fuzz: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "rv64fuzz: instruction budget exhausted after %d instructions\n", exec.InstructionsRun())
	return 1
}

func runFuzz(cfg *config.Config, elfPath string, guestArgs []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	seed := readSeed(cfg.Fuzz.SeedFile)

	harness := &fuzz.Harness{
		Workers:    cfg.Fuzz.Workers,
		Iterations: cfg.Fuzz.Iterations,
		SnapshotPC: cfg.Fuzz.SnapshotPC,
		Seed:       seed,
		Mutate:     fuzz.BitFlipMutator,
		NewExecutor: func() (*vm.Executor, error) {
			return newExecutor(elfPath, guestArgs, cfg.Fuzz.MaxInstructions, discard{}, discard{})
		},
		WriteInput: writeInputToDataSegment,
	}

	if err := harness.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "rv64fuzz: %v\n", err)
		return 1
	}

	snap := harness.Stats.Snapshot()
	fmt.Printf("iterations=%d instructions=%d crashes=%d hangs=%d normal_exits=%d iters/sec=%.1f coverage=%.2f%%\n",
		snap.Iterations, snap.Instructions, snap.Crashes, snap.Hangs, snap.NormalExits,
		snap.IterationsPerSec, harness.Coverage.Density()*100)
	return 0
}

// writeInputToDataSegment is the harness's default InputWriter: it
// pokes mutated input bytes into the lowest-addressed writable data
// segment the loader mapped (typically .data/.bss), truncated to that
// segment's size. A target expecting input somewhere else (a specific
// global buffer, a stdin emulation) needs its own InputWriter; this is
// the generic convention for a guest with no such wiring.
func writeInputToDataSegment(mem *vm.Memory, input []byte) error {
	seg, ok := mem.FindWritableDataSegment()
	if !ok {
		return nil
	}
	n := uint64(len(input))
	if segLen := seg.Len(); n > segLen {
		n = segLen
	}
	return mem.PutBytes(seg.Base, input[:n])
}

func readSeed(path string) []byte {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}

// discard silences guest stdout/stderr during a fuzzing run, where
// dozens of workers writing concurrently would otherwise interleave.
type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
