package notify

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

const previewLen = 100

// Publisher delivers an envelope to its session. *Router implements it.
type Publisher interface {
	Publish(ctx context.Context, msg Message) int
}

// Router publishes envelopes to the local registry and, when a bus is
// configured, to the other instances sharing it.
type Router struct {
	registry *Registry
	bus      *Bus
}

// NewRouter returns a router over registry. bus may be nil.
func NewRouter(registry *Registry, bus *Bus) *Router {
	return &Router{registry: registry, bus: bus}
}

func (r *Router) Registry() *Registry { return r.registry }

// Publish sends msg to every local connection of msg.SessionID and forwards it
// on the bus. It returns the number of local deliveries.
func (r *Router) Publish(ctx context.Context, msg Message) int {
	n := r.registry.SendToSession(ctx, msg.SessionID, msg)
	if r.bus != nil {
		if err := r.bus.Publish(ctx, msg); err != nil {
			log.Warn().Err(err).Str("session_id", msg.SessionID).Str("type", string(msg.Type)).Msg("bus publish failed")
		}
	}
	return n
}

// Deliver is the bus callback: local fan-out only.
func (r *Router) Deliver(ctx context.Context, msg Message) {
	r.registry.SendToSession(ctx, msg.SessionID, msg)
}

// Stats summarises local connections.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveSessions   []string       `json:"active_sessions"`
	SessionCount     int            `json:"session_count"`
	Connections      map[string]int `json:"connections_per_session"`
	BusEnabled       bool           `json:"bus_enabled"`
}

func (r *Router) Stats() Stats {
	sessions := r.registry.ActiveSessions()
	per := make(map[string]int, len(sessions))
	for _, id := range sessions {
		per[id] = r.registry.SessionConnectionCount(id)
	}
	return Stats{
		TotalConnections: r.registry.TotalConnections(),
		ActiveSessions:   sessions,
		SessionCount:     len(sessions),
		Connections:      per,
		BusEnabled:       r.bus != nil,
	}
}

func ExecutionStart(sessionID, execID, language, code string) Message {
	return NewMessage(TypeExecutionStart, sessionID, map[string]any{
		"language":     language,
		"code_preview": truncateRunes(code, previewLen),
		"execution_id": execID,
	})
}

func ExecutionOutput(sessionID, execID, stream, output string) Message {
	return NewMessage(TypeExecutionOutput, sessionID, map[string]any{
		"output":       output,
		"stream":       stream,
		"execution_id": execID,
	})
}

// ExecutionComplete carries the final result, which must marshal to JSON.
func ExecutionComplete(sessionID, execID string, result any) Message {
	return NewMessage(TypeExecutionComplete, sessionID, map[string]any{
		"result":       result,
		"execution_id": execID,
	})
}

func AIResponse(sessionID, content string, info map[string]any) Message {
	if info == nil {
		info = map[string]any{}
	}
	return NewMessage(TypeAIResponse, sessionID, map[string]any{
		"message": map[string]any{
			"role":      "assistant",
			"content":   content,
			"timestamp": nowISO(),
		},
		"context": info,
	})
}

func GhostResponse(sessionID, response, hookType string) Message {
	return NewMessage(TypeGhostResponse, sessionID, map[string]any{
		"response":  response,
		"hook_type": hookType,
		"timestamp": nowISO(),
	})
}

func AITyping(sessionID string, typing bool) Message {
	return NewMessage(TypeAITyping, sessionID, map[string]any{"is_typing": typing})
}

func HookTriggered(sessionID, hookType string, info map[string]any) Message {
	if info == nil {
		info = map[string]any{}
	}
	return NewMessage(TypeHookTriggered, sessionID, map[string]any{
		"hook_type": hookType,
		"context":   info,
	})
}

func FileSaved(sessionID, fileID, fileName, language string) Message {
	return NewMessage(TypeFileSaved, sessionID, map[string]any{
		"file_id":   fileID,
		"file_name": fileName,
		"language":  language,
		"saved_at":  nowISO(),
	})
}

func SessionUpdate(sessionID, updateType string, details map[string]any) Message {
	if details == nil {
		details = map[string]any{}
	}
	return NewMessage(TypeSessionUpdate, sessionID, map[string]any{
		"update_type": updateType,
		"details":     details,
	})
}

func Error(sessionID, errMsg, detail string, code int) Message {
	return NewMessage(TypeError, sessionID, map[string]any{
		"error":  errMsg,
		"detail": detail,
		"code":   code,
	})
}

func Pong(sessionID string) Message {
	return NewMessage(TypePong, sessionID, map[string]any{"timestamp": nowISO()})
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// OutputWriter turns a process stream into execution_output messages of at
// most chunk bytes. Writes never fail. A rune cut off by the end of one write
// is held until the next write or Flush.
type OutputWriter struct {
	ctx       context.Context
	pub       Publisher
	sessionID string
	execID    string
	stream    string
	chunk     int

	mu      sync.Mutex
	pending []byte
}

func NewOutputWriter(ctx context.Context, pub Publisher, sessionID, execID, stream string, chunk int) *OutputWriter {
	if chunk <= 0 {
		chunk = 4096
	}
	return &OutputWriter{ctx: ctx, pub: pub, sessionID: sessionID, execID: execID, stream: stream, chunk: chunk}
}

func (w *OutputWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := p
	if len(w.pending) > 0 {
		buf = append(w.pending, p...)
		w.pending = nil
	}
	if tail := partialRune(buf); tail > 0 {
		w.pending = append([]byte(nil), buf[len(buf)-tail:]...)
		buf = buf[:len(buf)-tail]
	}
	w.publish(buf)
	return len(p), nil
}

// Flush publishes whatever is still held back. Call it once the stream ends.
func (w *OutputWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.publish(w.pending)
	w.pending = nil
}

func (w *OutputWriter) publish(rest []byte) {
	for len(rest) > 0 {
		n := len(rest)
		if n > w.chunk {
			n = w.chunk
			// Keep multi-byte runes whole when the cut lands inside one.
			for i := n; i > n-utf8.UTFMax && i > 0; i-- {
				if utf8.RuneStart(rest[i]) {
					n = i
					break
				}
			}
		}
		w.pub.Publish(w.ctx, ExecutionOutput(w.sessionID, w.execID, w.stream, string(rest[:n])))
		rest = rest[n:]
	}
}

// partialRune returns the length of an incomplete UTF-8 sequence at the end
// of b, or 0.
func partialRune(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		if !utf8.RuneStart(b[len(b)-i]) {
			continue
		}
		if utf8.FullRune(b[len(b)-i:]) {
			return 0
		}
		return i
	}
	return 0
}
