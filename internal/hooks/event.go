// Package hooks reacts to editor events (runs, errors, saves) by asking the
// assistant for commentary and publishing it to the session.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrHookDisabled     = errors.New("hook is disabled")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrTooManyListeners = errors.New("too many listeners for event type")
)

type EventType string

const (
	OnRun   EventType = "on_run"
	OnError EventType = "on_error"
	OnSave  EventType = "on_save"
)

// EventTypes lists every event type in a stable order.
func EventTypes() []EventType {
	return []EventType{OnRun, OnError, OnSave}
}

func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case OnRun, OnError, OnSave:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
}

type Event struct {
	Type      EventType      `json:"event_type"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func (e Event) str(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Execution tracks one hook run from trigger to a terminal status.
type Execution struct {
	ID            string     `json:"id"`
	Event         Event      `json:"event"`
	Status        Status     `json:"status"`
	AIResponse    string     `json:"ai_response,omitempty"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ExecutionTime float64    `json:"execution_time,omitempty"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AIContext is what the assistant sees about the session.
type AIContext struct {
	SessionID    string        `json:"session_id"`
	Code         string        `json:"current_code,omitempty"`
	Language     string        `json:"language,omitempty"`
	RecentErrors []string      `json:"recent_errors,omitempty"`
	ChatHistory  []ChatMessage `json:"chat_history,omitempty"`
}

// ContextFromEvent derives the assistant context from an event's data.
func ContextFromEvent(e Event) AIContext {
	ctx := AIContext{
		SessionID: e.SessionID,
		Code:      e.str("code"),
		Language:  e.str("language"),
	}
	if errText := e.str("error"); errText != "" {
		ctx.RecentErrors = []string{errText}
	}
	return ctx
}

// Assistant produces commentary. Implementations must be safe for
// concurrent use.
type Assistant interface {
	ReactToEvent(ctx context.Context, event Event, aiCtx AIContext) (string, error)
	GenerateResponse(ctx context.Context, prompt string, aiCtx AIContext) (string, error)
}

// Listener runs after a successful reaction.
type Listener func(ctx context.Context, event Event, response string) error
