package api

import (
	"context"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"livecode-sandbox/internal/hooks"
	"livecode-sandbox/internal/notify"
	"livecode-sandbox/internal/sandbox"
)

func dialSession(t *testing.T, backend sandbox.Backend, asst hooks.Assistant, sessionID string) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(newTestServer(t, newTestApp(t, backend, asst)))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + sessionID
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ notify.MessageType, data map[string]any) {
	t.Helper()
	if err := wsjson.Write(ctx, conn, map[string]any{"type": typ, "data": data}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

// readUntil returns every message up to and including the first of type want.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, want notify.MessageType) []notify.Message {
	t.Helper()
	var seen []notify.Message
	for {
		var msg notify.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("waiting for %s after %d messages: %v", want, len(seen), err)
		}
		seen = append(seen, msg)
		if msg.Type == want {
			return seen
		}
	}
}

func typesOf(msgs []notify.Message) []notify.MessageType {
	out := make([]notify.MessageType, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func aiReply(t *testing.T, msg notify.Message) (content string, fallback bool) {
	t.Helper()
	message, ok := msg.Data["message"].(map[string]any)
	if !ok {
		t.Fatalf("ai_response without message: %v", msg.Data)
	}
	info, ok := msg.Data["context"].(map[string]any)
	if !ok {
		t.Fatalf("ai_response without context: %v", msg.Data)
	}
	content, _ = message["content"].(string)
	fallback, _ = info["fallback"].(bool)
	return content, fallback
}

func TestWebSocket_Ping(t *testing.T) {
	conn, ctx := dialSession(t, nil, nil, "s1")

	send(t, ctx, conn, notify.TypePing, nil)
	msgs := readUntil(t, ctx, conn, notify.TypePong)
	if len(msgs) != 1 {
		t.Errorf("got %v, want a single pong", typesOf(msgs))
	}
	if msgs[0].SessionID != "s1" {
		t.Errorf("SessionID = %q", msgs[0].SessionID)
	}
}

func TestWebSocket_Connect(t *testing.T) {
	conn, ctx := dialSession(t, nil, nil, "s1")

	send(t, ctx, conn, notify.TypeConnect, nil)
	msgs := readUntil(t, ctx, conn, notify.TypeSessionUpdate)
	if got := msgs[len(msgs)-1].String("update_type"); got != "connected" {
		t.Errorf("update_type = %q", got)
	}
}

func TestWebSocket_ExecuteCode(t *testing.T) {
	conn, ctx := dialSession(t, &mockBackend{stdout: "hi\n"}, nil, "s1")

	send(t, ctx, conn, notify.TypeExecuteCode, map[string]any{
		"code":     "print('hi')",
		"language": "python",
		"timeout":  5,
	})
	msgs := readUntil(t, ctx, conn, notify.TypeExecutionComplete)

	types := typesOf(msgs)
	if types[0] != notify.TypeExecutionStart {
		t.Errorf("first message = %s, want %s", types[0], notify.TypeExecutionStart)
	}
	if !slices.Contains(types, notify.TypeExecutionOutput) {
		t.Errorf("no output in %v", types)
	}
	for _, m := range msgs {
		if m.Type != notify.TypeExecutionOutput {
			continue
		}
		if m.String("output") != "hi\n" || m.String("stream") != "stdout" {
			t.Errorf("output = %q on %q", m.String("output"), m.String("stream"))
		}
	}
}

func TestWebSocket_GhostChatFallback(t *testing.T) {
	conn, ctx := dialSession(t, nil, nil, "s1")

	send(t, ctx, conn, notify.TypeGhostChat, map[string]any{"message": "help?"})
	msgs := readUntil(t, ctx, conn, notify.TypeAIResponse)

	if msgs[0].Type != notify.TypeAITyping {
		t.Errorf("first message = %s, want typing indicator", msgs[0].Type)
	}
	content, fallback := aiReply(t, msgs[len(msgs)-1])
	if content == "" || !fallback {
		t.Errorf("reply = %q (fallback %v), want a canned fallback", content, fallback)
	}
}

func TestWebSocket_GhostChatAssistant(t *testing.T) {
	conn, ctx := dialSession(t, nil, &mockAssistant{reply: "try a loop"}, "s1")

	send(t, ctx, conn, notify.TypeGhostChat, map[string]any{"message": "help?", "language": "python"})
	msgs := readUntil(t, ctx, conn, notify.TypeAIResponse)

	content, fallback := aiReply(t, msgs[len(msgs)-1])
	if content != "try a loop" || fallback {
		t.Errorf("reply = %q (fallback %v)", content, fallback)
	}
}

func TestWebSocket_Errors(t *testing.T) {
	backend := &mockBackend{}
	conn, ctx := dialSession(t, backend, nil, "s1")

	tests := []struct {
		name  string
		write func()
	}{
		{"unknown type", func() { send(t, ctx, conn, "teleport", nil) }},
		{"empty chat", func() { send(t, ctx, conn, notify.TypeGhostChat, map[string]any{}) }},
		{"bad hook", func() { send(t, ctx, conn, notify.TypeHookEvent, map[string]any{"event_type": "on_deploy"}) }},
		{"invalid json", func() {
			if err := conn.Write(ctx, websocket.MessageText, []byte("{nope")); err != nil {
				t.Fatal(err)
			}
		}},
		{"fractional timeout", func() {
			send(t, ctx, conn, notify.TypeExecuteCode, map[string]any{"code": "print(1)", "language": "python", "timeout": 0.5})
		}},
		{"huge timeout", func() {
			send(t, ctx, conn, notify.TypeExecuteCode, map[string]any{"code": "print(1)", "language": "python", "timeout": 1e300})
		}},
		{"string timeout", func() {
			send(t, ctx, conn, notify.TypeExecuteCode, map[string]any{"code": "print(1)", "language": "python", "timeout": "30"})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.write()
			msgs := readUntil(t, ctx, conn, notify.TypeError)
			if len(msgs) != 1 {
				t.Errorf("got %v before the error", typesOf(msgs))
			}
		})
	}

	// The connection survives every error above.
	send(t, ctx, conn, notify.TypePing, nil)
	readUntil(t, ctx, conn, notify.TypePong)
	if n := backend.callCount(); n != 0 {
		t.Errorf("backend ran %d times for invalid requests", n)
	}
}

func TestIntField(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string]any
		want    int
		wantErr bool
	}{
		{name: "missing", data: map[string]any{}},
		{name: "null", data: map[string]any{"timeout": nil}},
		{name: "whole", data: map[string]any{"timeout": 30.0}, want: 30},
		{name: "int", data: map[string]any{"timeout": 7}, want: 7},
		{name: "fraction", data: map[string]any{"timeout": 0.5}, wantErr: true},
		{name: "overflow", data: map[string]any{"timeout": 1e19}, wantErr: true},
		{name: "string", data: map[string]any{"timeout": "30"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := intField(tt.data, "timeout")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWebSocket_SaveFile(t *testing.T) {
	conn, ctx := dialSession(t, nil, &mockAssistant{reply: "looks good"}, "s1")

	send(t, ctx, conn, notify.TypeSaveFile, map[string]any{
		"filename": "main.py",
		"language": "python",
		"code":     "print(1)",
	})
	msgs := readUntil(t, ctx, conn, notify.TypeFileSaved)
	if got := msgs[len(msgs)-1].String("file_name"); got != "main.py" {
		t.Errorf("file_name = %q", got)
	}

	msgs = readUntil(t, ctx, conn, notify.TypeGhostResponse)
	last := msgs[len(msgs)-1]
	if last.String("response") != "looks good" {
		t.Errorf("response = %q", last.String("response"))
	}
	if last.String("hook_type") != string(hooks.OnSave) {
		t.Errorf("hook_type = %q", last.String("hook_type"))
	}
}
