package fuzz

import (
	"sync/atomic"
	"time"
)

// Stats tracks harness-wide execution statistics across every worker,
// the fuzzing-harness analogue of the teacher's single-threaded
// instruction/cycle counters: every field here is updated with atomic
// ops instead of being owned by one goroutine, since workers run
// concurrently.
type Stats struct {
	startTime time.Time

	iterations  atomic.Uint64
	instrs      atomic.Uint64
	normalExits atomic.Uint64
	crashes     atomic.Uint64
	hangs       atomic.Uint64
	newCoverage atomic.Uint64
}

// NewStats returns a zeroed Stats with its clock started now.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// RecordIteration tallies one completed fuzzing iteration: how many
// instructions it retired, which Outcome category it fell into, and
// whether it touched any previously-unseen coverage buckets.
func (s *Stats) RecordIteration(instrs uint64, outcome OutcomeKind, newEdges int) {
	s.iterations.Add(1)
	s.instrs.Add(instrs)
	if newEdges > 0 {
		s.newCoverage.Add(uint64(newEdges))
	}
	switch outcome {
	case OutcomeNormalExit:
		s.normalExits.Add(1)
	case OutcomeCrash:
		s.crashes.Add(1)
	case OutcomeHang:
		s.hangs.Add(1)
	}
}

// Snapshot is a consistent-enough point-in-time read of Stats for
// reporting; fields may be a few atomics apart under heavy concurrent
// load but never torn.
type Snapshot struct {
	Elapsed            time.Duration
	Iterations         uint64
	Instructions       uint64
	NormalExits        uint64
	Crashes            uint64
	Hangs              uint64
	NewCoverageBuckets uint64
	IterationsPerSec   float64
	InstructionsPerSec float64
}

// Snapshot computes iteration/instruction throughput from elapsed wall
// time since NewStats.
func (s *Stats) Snapshot() Snapshot {
	elapsed := time.Since(s.startTime)
	iters := s.iterations.Load()
	instrs := s.instrs.Load()

	secs := elapsed.Seconds()
	var itersPerSec, instrsPerSec float64
	if secs > 0 {
		itersPerSec = float64(iters) / secs
		instrsPerSec = float64(instrs) / secs
	}

	return Snapshot{
		Elapsed:            elapsed,
		Iterations:         iters,
		Instructions:       instrs,
		NormalExits:        s.normalExits.Load(),
		Crashes:            s.crashes.Load(),
		Hangs:              s.hangs.Load(),
		NewCoverageBuckets: s.newCoverage.Load(),
		IterationsPerSec:   itersPerSec,
		InstructionsPerSec: instrsPerSec,
	}
}
