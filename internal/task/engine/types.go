package engine

import (
	"sync"
	"time"
)

// Config controls the dispatch engine.
type Config struct {
	// HistorySize bounds the in-memory run history. 0 means 200.
	HistorySize int

	// PanicLogRate limits how many panic/skip warnings per second reach the log.
	// 0 means 5.
	PanicLogRate float64
}

type OverlapPolicy int

const (
	// OverlapAllow lets a new execution start while a previous one of the
	// same task is still running.
	OverlapAllow OverlapPolicy = iota
	// OverlapSkipIfRunning drops a dispatch while a previous execution of the
	// same task is in flight.
	OverlapSkipIfRunning
)

func (p OverlapPolicy) String() string {
	switch p {
	case OverlapSkipIfRunning:
		return "skip"
	default:
		return "allow"
	}
}

// ParseOverlap maps config values ("", "allow", "skip", "skip_if_running").
func ParseOverlap(s string) (OverlapPolicy, bool) {
	switch s {
	case "", "allow":
		return OverlapAllow, true
	case "skip", "skip_if_running":
		return OverlapSkipIfRunning, true
	default:
		return OverlapAllow, false
	}
}

// RunState tracks whether a task has an execution in flight.
// Each task owns one; the engine only touches it for OverlapSkipIfRunning.
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// InFlight reports the number of running executions tracked by s.
func (s *RunState) InFlight() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// Job is one execution handed to the engine.
type Job struct {
	TaskID  string
	Name    string
	Run     func()
	Overlap OverlapPolicy
	State   *RunState
}

type HistoryItem struct {
	ID       string
	TaskID   string
	Name     string
	Started  time.Time
	Duration time.Duration
	Panic    string
}

// TaskEvent is emitted on the event bus for execution lifecycle events.
type TaskEvent struct {
	ID       string        `json:"id"`
	TaskID   string        `json:"task_id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Panic    string        `json:"panic,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	InFlight   int
	Dispatched uint64
	Finished   uint64
	Panicked   uint64
	Skipped    uint64
	// Rejected counts dispatches refused with ErrClosed.
	Rejected   uint64
	History    []HistoryItem
}
