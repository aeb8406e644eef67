package sandbox

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout means the outer deadline elapsed and the child was killed.
	ErrTimeout = errors.New("sandbox: outer deadline exceeded")

	// ErrUnavailable means the isolation binary could not be located or invoked.
	ErrUnavailable = errors.New("sandbox: isolation mechanism unavailable")
)

// RunResult is the raw output of one sandboxed run.
type RunResult struct {
	Stdout  []byte // normal output of the script
	Control []byte // control channel (stderr): result and error sentinels

	ExitCode int
	Pid      int
	Duration time.Duration

	StdoutTruncated  bool
	ControlTruncated bool
}

// Sandbox runs an execution artifact in an isolated child process.
type Sandbox interface {
	// Run executes the script at scriptPath and blocks until the child exits
	// or the outer deadline fires. A non-zero exit status is not an error.
	Run(ctx context.Context, scriptPath string) (*RunResult, error)

	// Check reports whether the isolation mechanism can be launched.
	Check(ctx context.Context) error
}
