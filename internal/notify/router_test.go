package notify

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeShape(t *testing.T) {
	msg := ExecutionStart("s1", "exec-1", "python", strings.Repeat("x", 250))

	b, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	for _, key := range []string{"type", "timestamp", "session_id", "data"} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, "execution_start", raw["type"])

	_, err = time.Parse(time.RFC3339Nano, msg.Timestamp)
	assert.NoError(t, err)

	data := raw["data"].(map[string]any)
	assert.Len(t, data["code_preview"], 100)
	assert.Equal(t, "exec-1", data["execution_id"])
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		typ  MessageType
		key  string
		want any
	}{
		{"output", ExecutionOutput("s", "e", "stderr", "boom"), TypeExecutionOutput, "stream", "stderr"},
		{"complete", ExecutionComplete("s", "e", map[string]int{"exit_code": 0}), TypeExecutionComplete, "execution_id", "e"},
		{"ghost", GhostResponse("s", "nice", "on_run"), TypeGhostResponse, "hook_type", "on_run"},
		{"typing", AITyping("s", true), TypeAITyping, "is_typing", true},
		{"hook", HookTriggered("s", "on_error", nil), TypeHookTriggered, "hook_type", "on_error"},
		{"saved", FileSaved("s", "f1", "main.py", "python"), TypeFileSaved, "file_name", "main.py"},
		{"update", SessionUpdate("s", "file_added", nil), TypeSessionUpdate, "update_type", "file_added"},
		{"error", Error("s", "Hook on_run failed", "timeout", 500), TypeError, "code", 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.msg.Type)
			assert.Equal(t, "s", tt.msg.SessionID)
			assert.Equal(t, tt.want, tt.msg.Data[tt.key])
		})
	}

	ai := AIResponse("s", "hello", nil)
	assert.Equal(t, "hello", ai.Data["message"].(map[string]any)["content"])
	assert.Equal(t, TypePong, Pong("s").Type)
}

func TestDecodeMessage(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"type":"execute_code","data":{"code":"print(1)","language":"python"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeExecuteCode, msg.Type)
	assert.Equal(t, "print(1)", msg.String("code"))
	assert.Equal(t, "", msg.String("missing"))

	_, err = DecodeMessage([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = DecodeMessage([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	msg, err = DecodeMessage([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.NotNil(t, msg.Data)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg Message) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return 1
}

func TestOutputWriter_Chunks(t *testing.T) {
	pub := &recordingPublisher{}
	w := NewOutputWriter(context.Background(), pub, "s1", "exec-1", "stdout", 4)

	n, err := w.Write([]byte("abcdefghij"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	require.Len(t, pub.msgs, 3)
	var joined strings.Builder
	for _, m := range pub.msgs {
		assert.Equal(t, TypeExecutionOutput, m.Type)
		assert.Equal(t, "exec-1", m.Data["execution_id"])
		joined.WriteString(m.String("output"))
	}
	assert.Equal(t, "abcdefghij", joined.String())
}

func TestOutputWriter_KeepsRunesWhole(t *testing.T) {
	pub := &recordingPublisher{}
	w := NewOutputWriter(context.Background(), pub, "s1", "e", "stdout", 4)

	_, _ = w.Write([]byte("ab€cd"))
	for _, m := range pub.msgs {
		assert.True(t, utf8.ValidString(m.String("output")), "chunk %q split a rune", m.String("output"))
	}
}

func TestOutputWriter_RuneAcrossWrites(t *testing.T) {
	pub := &recordingPublisher{}
	w := NewOutputWriter(context.Background(), pub, "s1", "e", "stdout", 4096)

	text := []byte("héllo")
	_, _ = w.Write(text[:2])
	_, _ = w.Write(text[2:])
	w.Flush()

	var joined strings.Builder
	for _, m := range pub.msgs {
		assert.True(t, utf8.ValidString(m.String("output")), "chunk %q split a rune", m.String("output"))
		joined.WriteString(m.String("output"))
	}
	assert.Equal(t, "héllo", joined.String())
}

func TestOutputWriter_FlushPublishesRemainder(t *testing.T) {
	pub := &recordingPublisher{}
	w := NewOutputWriter(context.Background(), pub, "s1", "e", "stdout", 4096)

	euro := []byte("€")
	_, _ = w.Write(append([]byte("ok "), euro[:1]...))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "ok ", pub.msgs[0].String("output"))

	w.Flush()
	require.Len(t, pub.msgs, 2)
	w.Flush()
	assert.Len(t, pub.msgs, 2, "nothing left to flush")
}

func TestRouter_PublishAndStats(t *testing.T) {
	reg := NewRegistry(time.Second, nil)
	router := NewRouter(reg, nil)
	ctx := context.Background()
	a, b := newFakeConn("a"), newFakeConn("b")
	reg.Connect(ctx, a, "s1")
	reg.Connect(ctx, b, "s1")

	assert.Equal(t, 2, router.Publish(ctx, AITyping("s1", true)))
	assert.Equal(t, 0, router.Publish(ctx, AITyping("other", true)))

	stats := router.Stats()
	assert.Equal(t, 2, stats.TotalConnections)
	assert.Equal(t, 1, stats.SessionCount)
	assert.Equal(t, 2, stats.Connections["s1"])
	assert.False(t, stats.BusEnabled)
}
