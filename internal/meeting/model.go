package meeting

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a meeting record does not exist.
var ErrNotFound = errors.New("meeting not found")

// ErrTerminal is returned when a transition is attempted on a record that has
// already completed or failed.
var ErrTerminal = errors.New("meeting already in terminal state")

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true for statuses that represent a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record holds a meeting's metadata and processing state.
// Transcript and Summary are non-nil exactly when Status is completed.
type Record struct {
	ID              string     `json:"id"`
	Filename        string     `json:"filename"`
	ArtifactID      string     `json:"artifact_id"`
	Status          Status     `json:"status"`
	Transcript      *string    `json:"transcript,omitempty"`
	Summary         *string    `json:"summary,omitempty"`
	Keywords        []string   `json:"keywords,omitempty"`
	Language        *string    `json:"language,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	RetryCount      int        `json:"retry_count"`
	ErrorReason     string     `json:"error_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Results is what the worker persists when a job completes.
type Results struct {
	Transcript      string
	Summary         string
	Keywords        []string
	Language        string
	DurationSeconds float64
}
