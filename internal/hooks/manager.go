package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"livecode-sandbox/internal/monitor"
	"livecode-sandbox/internal/notify"
	"livecode-sandbox/internal/storage"
)

const (
	defaultHistorySize  = 1000
	defaultMaxListeners = 16
	defaultHookTimeout  = 30 * time.Second
	defaultHistoryLimit = 100
)

// Recorder persists finished hook executions. *storage.AuditWriter implements it.
type Recorder interface {
	LogHook(rec *storage.HookRecord)
}

type Options struct {
	Assistant Assistant
	Publisher notify.Publisher
	Recorder  Recorder
	Metrics   *monitor.Metrics
	Tracer    *monitor.Tracer

	// Enabled overrides the default (all enabled) per event type.
	Enabled      map[EventType]bool
	HistorySize  int
	MaxListeners int
	Timeout      time.Duration
}

// Stats is a snapshot of the manager's counters.
type Stats struct {
	TotalEvents         int                `json:"total_events"`
	SuccessfulResponses int                `json:"successful_responses"`
	FailedResponses     int                `json:"failed_responses"`
	EventsByType        map[EventType]int  `json:"events_by_type"`
	EnabledHooks        map[EventType]bool `json:"enabled_hooks"`
	TotalExecutions     int                `json:"total_executions"`
	SuccessRate         float64            `json:"success_rate"`
}

type listenerEntry struct {
	id int
	fn Listener
}

// Manager triggers hook reactions and keeps their history.
type Manager struct {
	assistant Assistant
	publisher notify.Publisher
	recorder  Recorder
	metrics   *monitor.Metrics
	tracer    *monitor.Tracer

	historySize  int
	maxListeners int
	timeout      time.Duration

	mu           sync.Mutex
	enabled      map[EventType]bool
	total        int
	successful   int
	failed       int
	byType       map[EventType]int
	history      []*Execution
	listeners    map[EventType][]listenerEntry
	nextListener int

	wg  sync.WaitGroup
	now func() time.Time
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		assistant:    opts.Assistant,
		publisher:    opts.Publisher,
		recorder:     opts.Recorder,
		metrics:      opts.Metrics,
		tracer:       opts.Tracer,
		historySize:  opts.HistorySize,
		maxListeners: opts.MaxListeners,
		timeout:      opts.Timeout,
		enabled:      make(map[EventType]bool),
		byType:       make(map[EventType]int),
		listeners:    make(map[EventType][]listenerEntry),
		now:          time.Now,
	}
	if m.historySize <= 0 {
		m.historySize = defaultHistorySize
	}
	if m.maxListeners <= 0 {
		m.maxListeners = defaultMaxListeners
	}
	if m.timeout <= 0 {
		m.timeout = defaultHookTimeout
	}
	for _, t := range EventTypes() {
		m.enabled[t] = true
		m.byType[t] = 0
	}
	for t, on := range opts.Enabled {
		m.enabled[t] = on
	}
	return m
}

// TriggerHook runs the reaction for one event and returns the assistant's
// response. A disabled type returns ErrHookDisabled without touching stats.
func (m *Manager) TriggerHook(ctx context.Context, eventType EventType, sessionID string, data map[string]any) (string, error) {
	if _, err := ParseEventType(string(eventType)); err != nil {
		return "", err
	}

	m.mu.Lock()
	if !m.enabled[eventType] {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrHookDisabled, eventType)
	}
	if data == nil {
		data = map[string]any{}
	}
	now := m.now()
	exec := &Execution{
		ID:        uuid.New().String(),
		Event:     Event{Type: eventType, SessionID: sessionID, Timestamp: now, Data: data},
		Status:    StatusPending,
		StartedAt: now,
	}
	m.appendHistoryLocked(exec)
	m.total++
	m.byType[eventType]++
	exec.Status = StatusProcessing
	event := exec.Event
	m.mu.Unlock()

	logger := log.With().
		Str("hook_id", exec.ID).
		Str("event_type", string(eventType)).
		Str("session_id", sessionID).
		Logger()
	logger.Debug().Msg("hook triggered")

	m.publish(ctx, notify.HookTriggered(sessionID, string(eventType), hookContext(event)))
	m.publish(ctx, notify.AITyping(sessionID, true))
	defer m.publish(ctx, notify.AITyping(sessionID, false))

	spanCtx, span := m.tracer.StartSpan(ctx, "hook",
		monitor.AttrHookType.String(string(eventType)),
		monitor.AttrSessionID.String(sessionID),
	)
	response, err := m.react(spanCtx, event)
	monitor.EndSpan(span, err)

	m.mu.Lock()
	done := m.now()
	exec.CompletedAt = &done
	exec.ExecutionTime = done.Sub(exec.StartedAt).Seconds()
	if err != nil {
		exec.Status = StatusFailed
		exec.Error = err.Error()
		m.failed++
	} else {
		exec.Status = StatusCompleted
		exec.AIResponse = response
		m.successful++
	}
	snapshot := *exec
	listeners := append([]listenerEntry(nil), m.listeners[eventType]...)
	m.mu.Unlock()

	m.record(&snapshot)

	if err != nil {
		logger.Warn().Err(err).Msg("hook failed")
		m.publish(ctx, notify.Error(sessionID, fmt.Sprintf("Hook %s failed", eventType), err.Error(), 500))
		return "", fmt.Errorf("hook %s: %w", eventType, err)
	}

	m.publish(ctx, notify.GhostResponse(sessionID, response, string(eventType)))
	m.runListeners(ctx, listeners, event, response)
	logger.Debug().Float64("duration_sec", snapshot.ExecutionTime).Msg("hook completed")
	return response, nil
}

func (m *Manager) react(ctx context.Context, event Event) (response string, err error) {
	if m.assistant == nil {
		return "", errors.New("assistant not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("assistant panic: %v", r)
		}
	}()
	return m.assistant.ReactToEvent(ctx, event, ContextFromEvent(event))
}

func (m *Manager) runListeners(ctx context.Context, listeners []listenerEntry, event Event, response string) {
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Int("listener_id", l.id).Str("event_type", string(event.Type)).Msg("hook listener panicked")
				}
			}()
			if err := l.fn(ctx, event, response); err != nil {
				log.Warn().Err(err).Int("listener_id", l.id).Str("event_type", string(event.Type)).Msg("hook listener failed")
			}
		}()
	}
}

func (m *Manager) publish(ctx context.Context, msg notify.Message) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(ctx, msg)
}

func (m *Manager) record(exec *Execution) {
	if m.metrics != nil {
		m.metrics.RecordHook(string(exec.Event.Type), string(exec.Status), exec.ExecutionTime)
	}
	if m.recorder == nil {
		return
	}
	rec := &storage.HookRecord{
		ID:          exec.ID,
		EventType:   string(exec.Event.Type),
		SessionID:   exec.Event.SessionID,
		Status:      string(exec.Status),
		AIResponse:  exec.AIResponse,
		Error:       exec.Error,
		StartedAt:   exec.StartedAt,
		CompletedAt: exec.CompletedAt,
		DurationMS:  int64(exec.ExecutionTime * 1000),
	}
	m.recorder.LogHook(rec)
}

func hookContext(e Event) map[string]any {
	info := map[string]any{"language": e.str("language")}
	if code := e.str("code"); code != "" {
		info["code_length"] = len(code)
	}
	if errText := e.str("error"); errText != "" {
		info["error"] = errText
	}
	if name := e.str("filename"); name != "" {
		info["filename"] = name
	}
	return info
}

func (m *Manager) OnRun(ctx context.Context, sessionID, code, language string) (string, error) {
	return m.TriggerHook(ctx, OnRun, sessionID, map[string]any{
		"code":      code,
		"language":  language,
		"timestamp": m.now().UTC().Format(time.RFC3339),
	})
}

func (m *Manager) OnError(ctx context.Context, sessionID, code, language, errText string) (string, error) {
	return m.TriggerHook(ctx, OnError, sessionID, map[string]any{
		"code":      code,
		"language":  language,
		"error":     errText,
		"timestamp": m.now().UTC().Format(time.RFC3339),
	})
}

func (m *Manager) OnSave(ctx context.Context, sessionID, code, language, filename string) (string, error) {
	return m.TriggerHook(ctx, OnSave, sessionID, map[string]any{
		"code":      code,
		"language":  language,
		"filename":  filename,
		"timestamp": m.now().UTC().Format(time.RFC3339),
	})
}

// Go runs fn in a goroutine that Wait drains. Errors are logged unless the
// hook was simply disabled.
func (m *Manager) Go(fn func(ctx context.Context) (string, error)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := fn(context.Background()); err != nil && !errors.Is(err, ErrHookDisabled) {
			log.Debug().Err(err).Msg("async hook failed")
		}
	}()
}

// Wait blocks until in-flight async hooks finish or ctx ends.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) Enable(t EventType) error  { return m.setEnabled(t, true) }
func (m *Manager) Disable(t EventType) error { return m.setEnabled(t, false) }

func (m *Manager) setEnabled(t EventType, on bool) error {
	if _, err := ParseEventType(string(t)); err != nil {
		return err
	}
	m.mu.Lock()
	m.enabled[t] = on
	m.mu.Unlock()
	log.Info().Str("event_type", string(t)).Bool("enabled", on).Msg("hook toggled")
	return nil
}

func (m *Manager) IsEnabled(t EventType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[t]
}

func (m *Manager) Statistics() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	byType := make(map[EventType]int, len(m.byType))
	for k, v := range m.byType {
		byType[k] = v
	}
	enabled := make(map[EventType]bool, len(m.enabled))
	for k, v := range m.enabled {
		enabled[k] = v
	}
	total := m.total
	if total < 1 {
		total = 1
	}
	return Stats{
		TotalEvents:         m.total,
		SuccessfulResponses: m.successful,
		FailedResponses:     m.failed,
		EventsByType:        byType,
		EnabledHooks:        enabled,
		TotalExecutions:     len(m.history),
		SuccessRate:         float64(m.successful) / float64(total) * 100,
	}
}

// Subscribe registers fn for t and returns its id.
func (m *Manager) Subscribe(t EventType, fn Listener) (int, error) {
	if _, err := ParseEventType(string(t)); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.listeners[t]) >= m.maxListeners {
		return 0, fmt.Errorf("%w: %s has %d", ErrTooManyListeners, t, m.maxListeners)
	}
	m.nextListener++
	m.listeners[t] = append(m.listeners[t], listenerEntry{id: m.nextListener, fn: fn})
	return m.nextListener, nil
}

// Unsubscribe removes the listener and reports whether it existed.
func (m *Manager) Unsubscribe(t EventType, id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.listeners[t]
	for i, l := range entries {
		if l.id == id {
			m.listeners[t] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}
