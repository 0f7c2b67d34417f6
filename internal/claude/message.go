package claude

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// EncodeHistory serializes a history as a JSON array.
func EncodeHistory(history []Message) ([]byte, error) {
	if history == nil {
		history = []Message{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to encode history: %w", err)
	}
	return data, nil
}

// DecodeHistory parses a JSON array of messages. Unknown roles are rejected.
func DecodeHistory(data []byte) ([]Message, error) {
	var history []Message
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	for i, msg := range history {
		switch msg.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return nil, fmt.Errorf("failed to decode history: message %d has unknown role %q", i, msg.Role)
		}
	}
	return history, nil
}
