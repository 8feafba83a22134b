package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Store is the persistence side of the audit writer; *DB implements it.
type Store interface {
	LogExecution(ctx context.Context, exec *Execution) error
	LogHook(ctx context.Context, rec *HookRecord) error
	LogSecurityEvent(ctx context.Context, event *SecurityEventRecord) error
}

// entry carries exactly one record.
type entry struct {
	exec *Execution
	hook *HookRecord
	sec  *SecurityEventRecord
}

func (e entry) id() string {
	switch {
	case e.exec != nil:
		return e.exec.ID
	case e.hook != nil:
		return e.hook.ID
	}
	return e.sec.ExecutionID
}

// AuditWriter buffers audit records and writes them in the background so
// request paths never wait on the database. A full buffer drops entries.
type AuditWriter struct {
	store      Store
	ch         chan entry
	wg         sync.WaitGroup
	done       chan struct{}
	closeOnce  sync.Once
	maxRetries int
	backoff    time.Duration
}

func NewAuditWriter(store Store, bufferSize int) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		store:      store,
		ch:         make(chan entry, bufferSize),
		done:       make(chan struct{}),
		maxRetries: 3,
		backoff:    100 * time.Millisecond,
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Log queues an execution record.
func (w *AuditWriter) Log(exec *Execution) {
	w.enqueue(entry{exec: exec})
}

// LogHook queues a hook record.
func (w *AuditWriter) LogHook(rec *HookRecord) {
	w.enqueue(entry{hook: rec})
}

// LogSecurityEvent queues a security event found in an execution.
func (w *AuditWriter) LogSecurityEvent(event *SecurityEventRecord) {
	w.enqueue(entry{sec: event})
}

func (w *AuditWriter) enqueue(e entry) {
	select {
	case w.ch <- e:
	default:
		log.Warn().Str("record_id", e.id()).Msg("audit buffer full, dropping log entry")
	}
}

// Flush stops the writer and waits up to timeout for queued records.
func (w *AuditWriter) Flush(timeout time.Duration) {
	w.closeOnce.Do(func() { close(w.done) })

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case e := <-w.ch:
			w.writeWithRetry(e)
		case <-w.done:
			for {
				select {
				case e := <-w.ch:
					w.writeWithRetry(e)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) write(e entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	switch {
	case e.exec != nil:
		return w.store.LogExecution(ctx, e.exec)
	case e.hook != nil:
		return w.store.LogHook(ctx, e.hook)
	}
	return w.store.LogSecurityEvent(ctx, e.sec)
}

func (w *AuditWriter) writeWithRetry(e entry) {
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		err := w.write(e)
		if err == nil {
			return
		}

		if attempt < w.maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * w.backoff
			log.Warn().
				Err(err).
				Str("record_id", e.id()).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("audit write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("record_id", e.id()).
				Msg("audit write failed permanently after retries")
		}
	}
}
