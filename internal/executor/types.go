// Package executor validates, dispatches and normalizes code executions.
package executor

import (
	"livecode-sandbox/internal/runtime"
	"livecode-sandbox/internal/sandbox"
)

const (
	ExitTimeout = 124
	ExitOOM     = 137

	// MaxTimeoutSeconds bounds Request.Timeout.
	MaxTimeoutSeconds = 300
)

// Execution statuses used in metrics and audit records.
const (
	StatusCompleted   = "completed"
	StatusError       = "error"
	StatusTimeout     = "timeout"
	StatusOOM         = "oom"
	StatusRejected    = "rejected"
	StatusUnavailable = "unavailable"
	StatusCancelled   = "cancelled"
)

type Request struct {
	Code     string           `json:"code"`
	Language runtime.Language `json:"language"`
	Input    string           `json:"input,omitempty"`
	// Timeout is in seconds; 0 selects the default.
	Timeout   int    `json:"timeout,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// ExecutionID is generated when empty.
	ExecutionID string `json:"execution_id,omitempty"`
	RequestIP   string `json:"-"`
}

// Result is produced for every request, including rejected ones.
type Result struct {
	Stdout         string                  `json:"stdout"`
	Stderr         string                  `json:"stderr"`
	ExitCode       int                     `json:"exit_code"`
	ExecutionTime  float64                 `json:"execution_time"`
	TimedOut       bool                    `json:"timed_out"`
	ExecutionID    string                  `json:"execution_id"`
	Backend        string                  `json:"backend,omitempty"`
	SecurityEvents []sandbox.SecurityEvent `json:"security_events,omitempty"`

	status string
}

// Status is the outcome class of the execution.
func (r *Result) Status() string { return r.status }

// Success reports a zero exit code.
func (r *Result) Success() bool { return r.ExitCode == 0 }
