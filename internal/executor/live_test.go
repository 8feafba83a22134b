package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livecode-sandbox/internal/notify"
)

type capturePublisher struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (p *capturePublisher) Publish(_ context.Context, msg notify.Message) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return 1
}

func (p *capturePublisher) types() []notify.MessageType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notify.MessageType, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.Type
	}
	return out
}

type hookCall struct {
	kind    string
	session string
	errText string
}

// syncHooks runs dispatched hooks inline so tests can assert on them directly.
type syncHooks struct {
	mu    sync.Mutex
	calls []hookCall
}

func (h *syncHooks) Go(fn func(ctx context.Context) (string, error)) {
	_, _ = fn(context.Background())
}

func (h *syncHooks) OnRun(_ context.Context, sessionID, _, _ string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, hookCall{kind: "on_run", session: sessionID})
	return "", nil
}

func (h *syncHooks) OnError(_ context.Context, sessionID, _, _, errText string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, hookCall{kind: "on_error", session: sessionID, errText: errText})
	return "", nil
}

func TestLiveRunner_MessageOrder(t *testing.T) {
	b := &fakeBackend{stdout: "hello\n"}
	o, _ := newTestOrchestrator(b)
	pub := &capturePublisher{}
	hooks := &syncHooks{}
	live := NewLiveRunner(o, pub, hooks, 0)

	res := live.Run(context.Background(), Request{Code: `print("hello")`, Language: "python", SessionID: "s1"})
	require.Equal(t, 0, res.ExitCode)

	assert.Equal(t, []notify.MessageType{
		notify.TypeExecutionStart,
		notify.TypeExecutionOutput,
		notify.TypeExecutionComplete,
	}, pub.types())

	for _, m := range pub.msgs {
		assert.Equal(t, "s1", m.SessionID)
		assert.Equal(t, res.ExecutionID, m.Data["execution_id"])
	}
	assert.Equal(t, "hello\n", pub.msgs[1].Data["output"])
	assert.Equal(t, "stdout", pub.msgs[1].Data["stream"])

	assert.Equal(t, []hookCall{{kind: "on_run", session: "s1"}}, hooks.calls)
}

func TestLiveRunner_ErrorDispatchesOnError(t *testing.T) {
	b := &fakeBackend{exitCode: 1, stderr: "boom"}
	o, _ := newTestOrchestrator(b)
	hooks := &syncHooks{}
	live := NewLiveRunner(o, &capturePublisher{}, hooks, 0)

	res := live.Run(context.Background(), Request{Code: "exit 1", Language: "bash", SessionID: "s2"})
	require.Equal(t, 1, res.ExitCode)

	require.Len(t, hooks.calls, 2)
	assert.Equal(t, "on_run", hooks.calls[0].kind)
	assert.Equal(t, "on_error", hooks.calls[1].kind)
	assert.Equal(t, "boom", hooks.calls[1].errText)
}

func TestLiveRunner_RejectedStillCompletes(t *testing.T) {
	b := &fakeBackend{}
	o, _ := newTestOrchestrator(b)
	pub := &capturePublisher{}
	live := NewLiveRunner(o, pub, nil, 0)

	res := live.Run(context.Background(), Request{Code: "import ctypes", Language: "python", SessionID: "s1"})
	assert.Equal(t, StatusRejected, res.Status())
	assert.Equal(t, 0, b.callCount())
	assert.Equal(t, []notify.MessageType{notify.TypeExecutionStart, notify.TypeExecutionComplete}, pub.types())
}

func TestLiveRunner_CompletesAfterCancel(t *testing.T) {
	b := &fakeBackend{}
	o, _ := newTestOrchestrator(b)
	pub := &capturePublisher{}
	live := NewLiveRunner(o, pub, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = live.Run(ctx, Request{Code: "print(1)", Language: "python", SessionID: "s1"})

	types := pub.types()
	assert.Equal(t, notify.TypeExecutionComplete, types[len(types)-1])
}

func TestLiveRunner_FlushesTrailingPartialRune(t *testing.T) {
	b := &fakeBackend{stdout: "caf\xc3"}
	o, _ := newTestOrchestrator(b)
	pub := &capturePublisher{}
	live := NewLiveRunner(o, pub, nil, 0)

	_ = live.Run(context.Background(), Request{Code: "printf 'caf\\303'", Language: "bash", SessionID: "s1"})

	var output string
	for _, m := range pub.msgs {
		if m.Type == notify.TypeExecutionOutput {
			output += m.String("output")
		}
	}
	assert.Equal(t, "caf\xc3", output, "held-back bytes are published before completion")
	assert.Equal(t, notify.TypeExecutionComplete, pub.types()[len(pub.msgs)-1])
}
