package storage

import "time"

// Execution is the audit record of one sandboxed run.
type Execution struct {
	ID             string     `json:"id" db:"id"`
	SessionID      string     `json:"session_id,omitempty" db:"session_id"`
	Language       string     `json:"language" db:"language"`
	Backend        string     `json:"backend" db:"backend"`
	CodeHash       string     `json:"code_hash" db:"code_hash"`
	ExitCode       int        `json:"exit_code" db:"exit_code"`
	TimedOut       bool       `json:"timed_out" db:"timed_out"`
	Stdout         string     `json:"stdout" db:"stdout"`
	Stderr         string     `json:"stderr" db:"stderr"`
	DurationMS     int64      `json:"duration_ms" db:"duration_ms"`
	SecurityEvents int        `json:"security_events" db:"security_events"`
	Status         string     `json:"status" db:"status"` // completed, error, timeout, rejected
	RequestIP      string     `json:"request_ip,omitempty" db:"request_ip"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// HookRecord is the audit record of a finished hook execution.
type HookRecord struct {
	ID          string     `json:"id" db:"id"`
	EventType   string     `json:"event_type" db:"event_type"`
	SessionID   string     `json:"session_id" db:"session_id"`
	Status      string     `json:"status" db:"status"` // completed, failed
	AIResponse  string     `json:"ai_response,omitempty" db:"ai_response"`
	Error       string     `json:"error,omitempty" db:"error"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	DurationMS  int64      `json:"duration_ms" db:"duration_ms"`
}

// SecurityEventRecord stores security event details for audit.
type SecurityEventRecord struct {
	ID          string    `json:"id" db:"id"`
	ExecutionID string    `json:"execution_id" db:"execution_id"`
	Type        string    `json:"type" db:"type"`
	Severity    string    `json:"severity" db:"severity"`
	Detail      string    `json:"detail" db:"detail"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ExecutionFilter provides criteria for querying executions.
type ExecutionFilter struct {
	SessionID string
	Language  string
	Status    string
	Limit     int
	Offset    int
}
