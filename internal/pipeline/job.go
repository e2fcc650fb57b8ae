package pipeline

import (
	"time"

	"vigil/internal/media"
)

// Status is the job lifecycle state. Transitions are Pending → Running →
// {Succeeded, Failed}; terminal states are immutable.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Job is one end-to-end processing request for a single uploaded media item.
// Only the orchestrator mutates a job.
type Job struct {
	ID         string     `json:"id"`
	SourceName string     `json:"source_name"`
	SourcePath string     `json:"-"`
	SourceKind media.Kind `json:"source_kind"`
	Detectors  []string   `json:"detectors"`
	Status     Status     `json:"status"`
	// Error holds the human-readable failure reason for failed jobs.
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// CancelReason is the recorded failure reason for cancelled jobs.
const CancelReason = "cancelled"
