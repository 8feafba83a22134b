package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"livecode-sandbox/internal/monitor"
)

// Conn is a live transport handle. Implementations must allow Send to be
// called from several goroutines.
type Conn interface {
	ID() string
	Accept(ctx context.Context) error
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Registry maps sessions to their connections. A connection belongs to at
// most one session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Conn
	owner    map[string]string

	writeTimeout time.Duration
	metrics      *monitor.Metrics
}

func NewRegistry(writeTimeout time.Duration, metrics *monitor.Metrics) *Registry {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Registry{
		sessions:     make(map[string]map[string]Conn),
		owner:        make(map[string]string),
		writeTimeout: writeTimeout,
		metrics:      metrics,
	}
}

// Connect accepts conn and binds it to sessionID. A connection already bound
// to another session is moved. It reports false when the accept fails.
func (r *Registry) Connect(ctx context.Context, conn Conn, sessionID string) bool {
	if err := conn.Accept(ctx); err != nil {
		log.Warn().Err(err).Str("conn_id", conn.ID()).Str("session_id", sessionID).Msg("connection accept failed")
		return false
	}

	r.mu.Lock()
	if prev, ok := r.owner[conn.ID()]; ok && prev != sessionID {
		r.removeLocked(conn.ID(), prev)
	}
	conns, ok := r.sessions[sessionID]
	if !ok {
		conns = make(map[string]Conn)
		r.sessions[sessionID] = conns
	}
	conns[conn.ID()] = conn
	r.owner[conn.ID()] = sessionID
	total := len(r.owner)
	r.mu.Unlock()

	r.setGauge(total)
	log.Info().Str("conn_id", conn.ID()).Str("session_id", sessionID).Msg("connection registered")
	return true
}

// Disconnect unbinds conn. Sessions left without connections are dropped.
func (r *Registry) Disconnect(conn Conn) {
	r.mu.Lock()
	sessionID, ok := r.owner[conn.ID()]
	if ok {
		r.removeLocked(conn.ID(), sessionID)
	}
	total := len(r.owner)
	r.mu.Unlock()

	if ok {
		r.setGauge(total)
		log.Info().Str("conn_id", conn.ID()).Str("session_id", sessionID).Msg("connection removed")
	}
}

func (r *Registry) removeLocked(connID, sessionID string) {
	delete(r.owner, connID)
	if conns, ok := r.sessions[sessionID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.sessions, sessionID)
		}
	}
}

// SendToSession delivers msg to every connection of the session and returns
// the number of successful writes. Failed connections are disconnected.
func (r *Registry) SendToSession(ctx context.Context, sessionID string, msg Message) int {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.sessions[sessionID]))
	for _, c := range r.sessions[sessionID] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	return r.deliver(ctx, conns, msg)
}

// Broadcast delivers msg to every registered connection.
func (r *Registry) Broadcast(ctx context.Context, msg Message) int {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.owner))
	for _, set := range r.sessions {
		for _, c := range set {
			conns = append(conns, c)
		}
	}
	r.mu.RUnlock()

	return r.deliver(ctx, conns, msg)
}

// SendToOne writes msg to a single registered connection. A failed write
// disconnects it.
func (r *Registry) SendToOne(ctx context.Context, conn Conn, msg Message) error {
	r.mu.RLock()
	_, ok := r.owner[conn.ID()]
	r.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}

	if err := r.write(ctx, conn, msg); err != nil {
		r.Disconnect(conn)
		return err
	}
	return nil
}

func (r *Registry) deliver(ctx context.Context, conns []Conn, msg Message) int {
	sent := 0
	for _, c := range conns {
		if err := r.write(ctx, c, msg); err != nil {
			log.Debug().Err(err).Str("conn_id", c.ID()).Str("type", string(msg.Type)).Msg("send failed, dropping connection")
			r.Disconnect(c)
			continue
		}
		sent++
	}
	return sent
}

func (r *Registry) write(ctx context.Context, conn Conn, msg Message) error {
	wctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	err := conn.Send(wctx, msg)
	if r.metrics != nil {
		r.metrics.RecordSend(string(msg.Type), err == nil)
	}
	return err
}

func (r *Registry) setGauge(total int) {
	if r.metrics != nil {
		r.metrics.Connections.Set(float64(total))
	}
}

func (r *Registry) SessionConnectionCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}

func (r *Registry) TotalConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owner)
}

// ActiveSessions returns the ids of sessions with at least one connection.
func (r *Registry) ActiveSessions() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// SessionOf returns the session conn is bound to.
func (r *Registry) SessionOf(conn Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.owner[conn.ID()]
	return id, ok
}
