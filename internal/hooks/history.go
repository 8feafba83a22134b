package hooks

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Filter selects history entries. Zero fields match everything.
type Filter struct {
	SessionID string
	EventType EventType
	Limit     int
}

func (m *Manager) appendHistoryLocked(exec *Execution) {
	m.history = append(m.history, exec)
	if over := len(m.history) - m.historySize; over > 0 {
		clear(m.history[:over])
		m.history = m.history[over:]
	}
}

// History returns copies of matching executions, newest first.
func (m *Manager) History(f Filter) []Execution {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Execution, 0, min(limit, len(m.history)))
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.history[i]
		if f.SessionID != "" && e.Event.SessionID != f.SessionID {
			continue
		}
		if f.EventType != "" && e.Event.Type != f.EventType {
			continue
		}
		out = append(out, *e)
	}
	return out
}

// Prune drops executions that started before now-olderThan and returns how
// many were removed.
func (m *Manager) Prune(olderThan time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)
	kept := m.history[:0]
	for _, e := range m.history {
		if !e.StartedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(m.history) - len(kept)
	clear(m.history[len(kept):])
	m.history = kept
	return removed
}

// SchedulePrune runs Prune(maxAge) on a cron schedule such as "@every 1h".
// The returned func stops the schedule and waits for a running prune.
func (m *Manager) SchedulePrune(schedule string, maxAge time.Duration) (func(), error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if n := m.Prune(maxAge); n > 0 {
			log.Info().Int("removed", n).Dur("max_age", maxAge).Msg("pruned hook history")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling hook history prune %q: %w", schedule, err)
	}
	c.Start()
	log.Info().Str("schedule", schedule).Dur("max_age", maxAge).Msg("hook history pruning scheduled")

	return func() { <-c.Stop().Done() }, nil
}

// Clear drops the whole history and returns how many executions it held.
func (m *Manager) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.history)
	clear(m.history)
	m.history = m.history[:0]
	return n
}
