package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu       sync.Mutex
	execs    []*Execution
	hooks    []*HookRecord
	events   []*SecurityEventRecord
	failures int // fail this many writes first
	calls    int
}

func (f *fakeStore) fail() error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeStore) LogExecution(_ context.Context, exec *Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.execs = append(f.execs, exec)
	return nil
}

func (f *fakeStore) LogHook(_ context.Context, rec *HookRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.hooks = append(f.hooks, rec)
	return nil
}

func (f *fakeStore) LogSecurityEvent(_ context.Context, event *SecurityEventRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.events = append(f.events, event)
	return nil
}

func TestAuditWriter_SecurityEvents(t *testing.T) {
	store := &fakeStore{}
	w := NewAuditWriter(store, 10)
	w.Start()

	w.LogSecurityEvent(&SecurityEventRecord{ExecutionID: "exec-1", Type: "ctypes_import", Severity: "critical"})
	w.Flush(time.Second)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.events) != 1 || store.events[0].Type != "ctypes_import" {
		t.Errorf("events = %+v", store.events)
	}
}

func TestAuditWriter_WritesBothKinds(t *testing.T) {
	store := &fakeStore{}
	w := NewAuditWriter(store, 10)
	w.Start()

	w.Log(&Execution{ID: "exec-1", Language: "python"})
	w.LogHook(&HookRecord{ID: "hook-1", EventType: "on_run", Status: "completed"})
	w.Flush(time.Second)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.execs) != 1 || store.execs[0].ID != "exec-1" {
		t.Errorf("execs = %+v", store.execs)
	}
	if len(store.hooks) != 1 || store.hooks[0].ID != "hook-1" {
		t.Errorf("hooks = %+v", store.hooks)
	}
}

func TestAuditWriter_RetriesTransientFailure(t *testing.T) {
	store := &fakeStore{failures: 2}
	w := NewAuditWriter(store, 10)
	w.backoff = time.Millisecond
	w.Start()

	w.Log(&Execution{ID: "exec-1"})
	w.Flush(time.Second)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.execs) != 1 {
		t.Errorf("execs = %d, want 1 after retries", len(store.execs))
	}
	if store.calls != 3 {
		t.Errorf("calls = %d, want 3", store.calls)
	}
}

func TestAuditWriter_GivesUpAfterMaxRetries(t *testing.T) {
	store := &fakeStore{failures: 100}
	w := NewAuditWriter(store, 10)
	w.backoff = time.Millisecond
	w.Start()

	w.Log(&Execution{ID: "exec-1"})
	w.Flush(time.Second)

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.calls != w.maxRetries+1 {
		t.Errorf("calls = %d, want %d", store.calls, w.maxRetries+1)
	}
}

func TestAuditWriter_DropsWhenFull(t *testing.T) {
	store := &fakeStore{}
	w := NewAuditWriter(store, 1)

	// Not started: the second entry cannot be buffered.
	w.Log(&Execution{ID: "a"})
	w.Log(&Execution{ID: "b"})

	w.Start()
	w.Flush(time.Second)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.execs) != 1 || store.execs[0].ID != "a" {
		t.Errorf("execs = %+v, want only a", store.execs)
	}
}

func TestAuditWriter_FlushTwice(t *testing.T) {
	w := NewAuditWriter(&fakeStore{}, 1)
	w.Start()
	w.Flush(time.Second)
	w.Flush(time.Second)
}

func TestTruncateForDB(t *testing.T) {
	if got := truncateForDB("hello", 3); got != "hel" {
		t.Errorf("truncateForDB = %q", got)
	}
	if got := truncateForDB("hi", 3); got != "hi" {
		t.Errorf("truncateForDB = %q", got)
	}
}
