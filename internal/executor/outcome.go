package executor

import (
	"encoding/json"
	"time"
)

// Kind names the class of an execution outcome.
type Kind string

const (
	KindSuccess            Kind = "success"
	KindApplicationError   Kind = "application_error"
	KindTimeout            Kind = "timeout"
	KindSandboxUnavailable Kind = "sandbox_unavailable"
	KindInternalError      Kind = "internal_error"

	// KindValidationError never appears on an Outcome; the response layer
	// uses it for scripts rejected before launch.
	KindValidationError Kind = "validation_error"
)

// Outcome is the terminal, classified result of one execution.
type Outcome struct {
	RunID string
	Kind  Kind

	// Value is the compact JSON returned by main(); set only on success.
	Value   json.RawMessage
	Stdout  string
	Message string

	ExitCode  int
	Duration  time.Duration
	Truncated bool
}

// OK reports whether main() returned a value.
func (o *Outcome) OK() bool {
	return o != nil && o.Kind == KindSuccess
}
