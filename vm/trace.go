package vm

import (
	"fmt"
	"io"
)

// TraceEntry is one retired instruction's register-change record.
type TraceEntry struct {
	Sequence uint64
	PC       uint64
	Raw      uint32
	Changed  map[int]uint64 // register index -> new value, only entries that changed
}

// ExecutionTrace is an optional diagnostic: it never affects execution
// semantics, only what gets written to Writer. A fuzzing harness
// typically runs with tracing disabled and only turns it on to
// reproduce a single interesting input.
type ExecutionTrace struct {
	Enabled    bool
	Writer     io.Writer
	MaxEntries int

	entries []TraceEntry
	before  RegisterSnapshot
}

// NewExecutionTrace returns a disabled trace writing to w when enabled.
func NewExecutionTrace(w io.Writer) *ExecutionTrace {
	return &ExecutionTrace{Writer: w, MaxEntries: 100000, entries: make([]TraceEntry, 0, 1024)}
}

// BeforeStep captures register state immediately before an instruction
// executes; Executor.Step calls it and pairs it with AfterStep once the
// instruction retires.
func (t *ExecutionTrace) BeforeStep(cpu *CPU) {
	if !t.Enabled {
		return
	}
	t.before.Capture(cpu)
}

// AfterStep diffs the captured "before" snapshot against cpu's current
// state and appends a trace entry if anything changed.
func (t *ExecutionTrace) AfterStep(seq uint64, raw uint32, cpu *CPU) {
	if !t.Enabled {
		return
	}
	if t.MaxEntries > 0 && len(t.entries) >= t.MaxEntries {
		return
	}

	var after RegisterSnapshot
	after.Capture(cpu)

	changed := t.before.Changed(&after)
	if len(changed) == 0 {
		return
	}
	entry := TraceEntry{Sequence: seq, PC: t.before.PC, Raw: raw, Changed: make(map[int]uint64, len(changed))}
	for _, idx := range changed {
		entry.Changed[idx] = after.X[idx]
	}
	t.entries = append(t.entries, entry)
}

// Entries returns the recorded trace, most recent last.
func (t *ExecutionTrace) Entries() []TraceEntry { return t.entries }

// Dump writes every recorded entry to Writer in a flat, grep-friendly
// format: one line per changed register.
func (t *ExecutionTrace) Dump() error {
	for _, e := range t.entries {
		for reg, value := range e.Changed {
			if _, err := fmt.Fprintf(t.Writer, "%08d pc=0x%016x x%-2d=0x%016x\n", e.Sequence, e.PC, reg, value); err != nil {
				return err
			}
		}
	}
	return nil
}
