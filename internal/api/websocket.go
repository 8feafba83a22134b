package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"livecode-sandbox/internal/assistant"
	"livecode-sandbox/internal/executor"
	"livecode-sandbox/internal/hooks"
	"livecode-sandbox/internal/notify"
	"livecode-sandbox/internal/runtime"
)

// HandleWebSocket upgrades the request and serves the session protocol until
// the client goes away. Long-running work (executions, chat) runs in
// goroutines so pings are answered meanwhile.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		writeError(w, "session_id is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	// The server write timeout must not cut a long-lived connection.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	cfg := h.app.Config
	opts := &websocket.AcceptOptions{OriginPatterns: cfg.Security.AllowedOrigins}
	conn := notify.NewWSConn(w, r, opts, cfg.Notify.MaxMessageBytes)
	if !h.app.Connections.Connect(r.Context(), conn, sessionID) {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		h.app.Connections.Disconnect(conn)
		_ = conn.Close()
	}()

	s := &wsSession{
		h:       h,
		conn:    conn,
		id:      sessionID,
		limiter: rate.NewLimiter(rate.Limit(cfg.Notify.InboundRPS), max(cfg.Notify.InboundBurst, 1)),
		wg:      &wg,
	}
	logger := log.With().Str("session_id", sessionID).Str("conn_id", conn.ID()).Logger()

	for {
		msg, err := conn.Read(ctx)
		switch {
		case errors.Is(err, notify.ErrInvalidMessage):
			s.reply(ctx, notify.Error(sessionID, "Invalid message format", err.Error(), http.StatusBadRequest))
			continue
		case err != nil:
			if !notify.IsNormalClosure(err) && ctx.Err() == nil {
				logger.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}

		if !s.limiter.Allow() {
			s.reply(ctx, notify.Error(sessionID, "Rate limit exceeded", string(msg.Type), http.StatusTooManyRequests))
			continue
		}
		if msg.Type == notify.TypeDisconnect {
			return
		}
		s.handle(ctx, msg)
	}
}

// wsSession is the per-connection state of HandleWebSocket.
type wsSession struct {
	h       *Handlers
	conn    notify.Conn
	id      string
	limiter *rate.Limiter
	wg      *sync.WaitGroup
}

func (s *wsSession) reply(ctx context.Context, msg notify.Message) {
	if err := s.h.app.Connections.SendToOne(ctx, s.conn, msg); err != nil {
		log.Debug().Err(err).Str("conn_id", s.conn.ID()).Msg("reply failed")
	}
}

func (s *wsSession) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *wsSession) handle(ctx context.Context, msg notify.Message) {
	a := s.h.app
	switch msg.Type {
	case notify.TypePing:
		s.reply(ctx, notify.Pong(s.id))

	case notify.TypeConnect:
		s.reply(ctx, notify.SessionUpdate(s.id, "connected", map[string]any{
			"connection_id": s.conn.ID(),
			"connections":   a.Connections.SessionConnectionCount(s.id),
		}))

	case notify.TypeExecuteCode:
		timeout, err := intField(msg.Data, "timeout")
		if err != nil {
			s.reply(ctx, notify.Error(s.id, "Invalid timeout", err.Error(), http.StatusBadRequest))
			return
		}
		req := executor.Request{
			Code:      msg.String("code"),
			Language:  runtime.Language(msg.String("language")),
			Input:     msg.String("input"),
			Timeout:   timeout,
			SessionID: s.id,
		}
		s.spawn(func() { a.Live.Run(ctx, req) })

	case notify.TypeSaveFile:
		name, lang, code := msg.String("filename"), msg.String("language"), msg.String("code")
		fileID := msg.String("file_id")
		if fileID == "" {
			fileID = name
		}
		a.Router.Publish(ctx, notify.FileSaved(s.id, fileID, name, lang))
		a.Hooks.Go(func(ctx context.Context) (string, error) {
			return a.Hooks.OnSave(ctx, s.id, code, lang, name)
		})

	case notify.TypeGhostChat:
		prompt := msg.String("message")
		if prompt == "" {
			s.reply(ctx, notify.Error(s.id, "Empty chat message", "data.message is required", http.StatusBadRequest))
			return
		}
		aiCtx := hooks.AIContext{SessionID: s.id, Code: msg.String("code"), Language: msg.String("language")}
		s.spawn(func() { s.chat(ctx, prompt, aiCtx) })

	case notify.TypeHookEvent:
		t, err := hooks.ParseEventType(msg.String("event_type"))
		if err != nil {
			s.reply(ctx, notify.Error(s.id, "Unknown hook type", msg.String("event_type"), http.StatusBadRequest))
			return
		}
		data := msg.Data
		a.Hooks.Go(func(ctx context.Context) (string, error) {
			return a.Hooks.TriggerHook(ctx, t, s.id, data)
		})

	default:
		s.reply(ctx, notify.Error(s.id, "Unknown message type", string(msg.Type), http.StatusBadRequest))
	}
}

// chat answers a ghost_chat message. Assistant failures fall back to a canned
// reply instead of an error so the conversation keeps going.
func (s *wsSession) chat(ctx context.Context, prompt string, aiCtx hooks.AIContext) {
	a := s.h.app
	pubCtx := context.WithoutCancel(ctx)
	a.Router.Publish(pubCtx, notify.AITyping(s.id, true))
	defer a.Router.Publish(pubCtx, notify.AITyping(s.id, false))

	fallback := a.Assistant == nil
	var resp string
	if !fallback {
		var err error
		resp, err = a.Assistant.GenerateResponse(ctx, prompt, aiCtx)
		if err != nil {
			log.Warn().Err(err).Str("session_id", s.id).Msg("chat response failed, using fallback")
			fallback = true
		}
	}
	if fallback {
		resp = assistant.Fallback("")
	}
	a.Router.Publish(pubCtx, notify.AIResponse(s.id, resp, map[string]any{"fallback": fallback}))
}

// intField reads an optional whole JSON number. Missing or null gives 0.
func intField(data map[string]any, key string) (int, error) {
	switch v := data[key].(type) {
	case nil:
		return 0, nil
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
			return 0, fmt.Errorf("%s must be a whole number, got %v", key, v)
		}
		return int(v), nil
	case int:
		return v, nil
	}
	return 0, fmt.Errorf("%s must be a number", key)
}
