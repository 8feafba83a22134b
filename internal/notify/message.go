// Package notify delivers session events to live connections.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType names an envelope on the wire.
type MessageType string

// Client to server.
const (
	TypeConnect     MessageType = "connect"
	TypeDisconnect  MessageType = "disconnect"
	TypePing        MessageType = "ping"
	TypeExecuteCode MessageType = "execute_code"
	TypeGhostChat   MessageType = "ghost_chat"
	TypeSaveFile    MessageType = "save_file"
	TypeHookEvent   MessageType = "hook_event"
)

// Server to client.
const (
	TypePong              MessageType = "pong"
	TypeExecutionStart    MessageType = "execution_start"
	TypeExecutionOutput   MessageType = "execution_output"
	TypeExecutionComplete MessageType = "execution_complete"
	TypeExecutionError    MessageType = "execution_error"
	TypeAIResponse        MessageType = "ai_response"
	TypeAITyping          MessageType = "ai_typing"
	TypeAIError           MessageType = "ai_error"
	TypeGhostResponse     MessageType = "ghost_response"
	TypeHookTriggered     MessageType = "hook_triggered"
	TypeSessionUpdate     MessageType = "session_update"
	TypeFileSaved         MessageType = "file_saved"
	TypeError             MessageType = "error"
)

var (
	ErrNotConnected   = errors.New("connection not registered")
	ErrInvalidMessage = errors.New("invalid message")
)

// Message is the envelope every connection sees.
type Message struct {
	Type      MessageType    `json:"type"`
	Timestamp string         `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data"`
}

// NewMessage stamps an envelope with the current time.
func NewMessage(t MessageType, sessionID string, data map[string]any) Message {
	if data == nil {
		data = map[string]any{}
	}
	return Message{
		Type:      t,
		Timestamp: nowISO(),
		SessionID: sessionID,
		Data:      data,
	}
}

// DecodeMessage parses an inbound frame. Only the type is required.
func DecodeMessage(b []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	if msg.Data == nil {
		msg.Data = map[string]any{}
	}
	return msg, nil
}

// String returns the string stored under key, or "".
func (m Message) String(key string) string {
	s, _ := m.Data[key].(string)
	return s
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
