package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// MaxRows bounds the sqlite journal. 0 means 10000.
	MaxRows int
}

// Outcome values for RunRecord.
const (
	OutcomeFinished = "finished"
	OutcomePanicked = "panicked"
	OutcomeSkipped  = "skipped"
)

// RunRecord is one journaled execution (or skipped dispatch).
// Keep it compact and schema-stable.
type RunRecord struct {
	At         time.Time `json:"at"`
	RunID      string    `json:"run_id"`
	TaskID     string    `json:"task_id"`
	Task       string    `json:"task"`
	Outcome    string    `json:"outcome"`
	Started    time.Time `json:"started"`
	DurationMS int64     `json:"duration_ms"`
	Panic      string    `json:"panic,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}
