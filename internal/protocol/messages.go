package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeToolCall        MessageType = "tool_call"
	TypeAuthUpdate      MessageType = "auth_update"
	TypeSessionGreeting MessageType = "session_greeting"
	TypeToolResult      MessageType = "tool_result"
	TypeErrorEvent      MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ToolCall is a model-issued tool invocation relayed by the hosting runtime.
type ToolCall struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type AuthUpdate struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	AuthKey   string      `json:"auth_key"`
}

type SessionGreeting struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"session_id"`
	Username     string      `json:"username"`
	Instructions string      `json:"instructions"`
	Greeting     string      `json:"greeting"`
	Tools        any         `json:"tools"`
}

type ToolResult struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Result    any         `json:"result"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeToolCall:
		var msg ToolCall
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.Name) == "" {
			return nil, errors.New("invalid tool_call")
		}
		return msg, nil
	case TypeAuthUpdate:
		var msg AuthUpdate
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.AuthKey) == "" {
			return nil, errors.New("invalid auth_update")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
