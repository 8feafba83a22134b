package sandbox

import (
	"errors"
	"fmt"

	"livecode-sandbox/internal/runtime"
)

var (
	ErrTimeout            = errors.New("execution timed out")
	ErrOOM                = errors.New("out of memory")
	ErrInvalidRequest     = errors.New("invalid execution request")
	ErrUnsupportedLang    = errors.New("unsupported language")
	ErrBackendUnavailable = errors.New("sandbox backend unavailable")
	ErrClosed             = errors.New("sandbox backend closed")
)

// ExecutionError records which backend step failed for which run.
type ExecutionError struct {
	ExecID   string
	Language runtime.Language
	Op       string
	Err      error
}

func (e *ExecutionError) Error() string {
	var prefix string
	switch {
	case e.ExecID != "" && e.Language != "":
		prefix = fmt.Sprintf("execution %s (%s): ", e.ExecID, e.Language)
	case e.ExecID != "":
		prefix = fmt.Sprintf("execution %s: ", e.ExecID)
	}
	return fmt.Sprintf("%s%s: %s", prefix, e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func failed(req ExecutionRequest, op string, err error) *ExecutionError {
	return &ExecutionError{ExecID: req.ExecID, Language: req.Language, Op: op, Err: err}
}
