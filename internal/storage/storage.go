package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by GetRun when no run matches.
	ErrNotFound = errors.New("run not found")

	// ErrAmbiguous is returned by GetRun when a prefix matches several runs.
	ErrAmbiguous = errors.New("ambiguous run prefix")
)

// Run is the recorded metadata of one sandboxed execution. Script text and
// artifacts are never stored.
type Run struct {
	ID          string    `json:"id" yaml:"id"`
	Outcome     string    `json:"outcome" yaml:"outcome"`
	ExitCode    int       `json:"exit_code" yaml:"exit_code"`
	DurationMs  int64     `json:"duration_ms" yaml:"duration_ms"`
	ScriptBytes int       `json:"script_bytes" yaml:"script_bytes"`
	StdoutBytes int       `json:"stdout_bytes" yaml:"stdout_bytes"`
	Message     string    `json:"message,omitempty" yaml:"message,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// RunListOptions controls filtering and pagination for ListRuns.
type RunListOptions struct {
	Outcome string
	Limit   int
	Offset  int
}

// Store is the persistence interface for run history.
type Store interface {
	// RecordRun inserts a run. The ID field must be set by the caller.
	RecordRun(ctx context.Context, r *Run) error

	// GetRun returns a run by ID or unique ID prefix.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs ordered by created_at descending.
	ListRuns(ctx context.Context, opts RunListOptions) ([]Run, error)

	// Close releases resources.
	Close() error
}
