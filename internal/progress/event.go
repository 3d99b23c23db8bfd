// Package progress defines the events emitted by the poll loop and the
// sinks that observe them.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageJobTick      Stage = "JOB_TICK"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StageJobCancelled Stage = "JOB_CANCELLED"
	StageJobTimedOut  Stage = "JOB_TIMED_OUT"
)

// Event captures a single observation of job progress. Tick events
// mirror the status snapshot that produced them; terminal events carry
// the failure text in Note.
type Event struct {
	// JobID identifies the run; empty when the server tracks an
	// implicit singleton job.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// IsRunning mirrors the snapshot's running flag for tick events.
	IsRunning bool
	// Progress is the snapshot's 0-100 completion estimate.
	Progress int
	// Message is the server's human-readable status line.
	Message string
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobTick, StageJobDone, StageJobError, StageJobCancelled, StageJobTimedOut:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Progress < 0 || e.Progress > 100 {
		return fmt.Errorf("progress %d out of range", e.Progress)
	}
	return nil
}
