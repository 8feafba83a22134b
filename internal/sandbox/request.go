package sandbox

import (
	"crypto/sha256"
	"fmt"
	"time"

	"livecode-sandbox/internal/runtime"
)

const (
	maxCodeBytes   = runtime.MaxCodeSize
	maxStdinBytes  = 1 << 20
	maxStdoutBytes = 1 << 20
	maxStderrBytes = 256 * 1024

	workspaceDir = "/workspace"
)

type ExecutionRequest struct {
	// ExecID is generated when empty.
	ExecID   string           `json:"exec_id,omitempty"`
	Code     string           `json:"code"`
	Language runtime.Language `json:"language"`
	Stdin    string           `json:"stdin,omitempty"`
	Timeout  time.Duration    `json:"timeout"`
	// Limits default to the language's configuration when zero.
	Limits ResourceLimits `json:"limits"`
}

type ExecutionResult struct {
	ID             string          `json:"id"`
	Output         string          `json:"output"`
	Stderr         string          `json:"stderr"`
	ExitCode       int             `json:"exit_code"`
	Duration       time.Duration   `json:"duration"`
	SecurityEvents []SecurityEvent `json:"security_events,omitempty"`
	CodeHash       string          `json:"code_hash"`
	Backend        string          `json:"backend"`
}

type SecurityEvent struct {
	Type     string `json:"type"`
	Severity string `json:"severity,omitempty"`
	Detail   string `json:"detail"`
}

// CodeHash is the hex SHA-256 of code, used to correlate audit records.
func CodeHash(code string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(code)))
}

// prepared is a validated request resolved against the language registry.
type prepared struct {
	ExecutionRequest
	lang   *runtime.Config
	limits ResourceLimits
}

func prepare(reg *runtime.Registry, req ExecutionRequest, diskMB int64) (*prepared, error) {
	if req.Code == "" {
		return nil, fmt.Errorf("%w: code is empty", ErrInvalidRequest)
	}
	if len(req.Code) > maxCodeBytes {
		return nil, fmt.Errorf("%w: code exceeds %d bytes", ErrInvalidRequest, maxCodeBytes)
	}
	if len(req.Stdin) > maxStdinBytes {
		return nil, fmt.Errorf("%w: stdin exceeds %d bytes", ErrInvalidRequest, maxStdinBytes)
	}
	if req.Timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", ErrInvalidRequest)
	}

	lang, err := reg.Get(req.Language)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLang, req.Language)
	}

	limits := req.Limits
	if limits == (ResourceLimits{}) {
		limits = LimitsFor(lang, diskMB)
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	return &prepared{ExecutionRequest: req, lang: lang, limits: limits}, nil
}
