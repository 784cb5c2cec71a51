// Package protocol defines the message types shared across the memory
// service, orchestrator and transports.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ToolExecution records one tool invocation attached to a message.
type ToolExecution struct {
	ToolName  string         `json:"tool_name" bson:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty" bson:"arguments,omitempty"`
	Result    string         `json:"result,omitempty" bson:"result,omitempty"`
	IsError   bool           `json:"is_error,omitempty" bson:"is_error,omitempty"`
	Duration  time.Duration  `json:"duration,omitempty" bson:"duration,omitempty"`
}

// Message is one conversation turn. Messages are immutable once appended;
// IDs are unique within the persistent store.
type Message struct {
	ID             string          `json:"id" bson:"message_id"`
	ConversationID string          `json:"conversation_id" bson:"conversation_id"`
	Role           Role            `json:"role" bson:"role"`
	Content        string          `json:"content" bson:"content"`
	Timestamp      time.Time       `json:"timestamp" bson:"timestamp"`
	ToolExecutions []ToolExecution `json:"tool_executions,omitempty" bson:"tool_executions,omitempty"`
}

// NewMessage creates a message with a fresh id and current timestamp.
func NewMessage(conversationID string, role Role, content string) Message {
	return Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      time.Now().UTC(),
	}
}

// Encode serializes the message to its JSON wire form.
func (m Message) Encode() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode message %s: %w", m.ID, err)
	}
	return string(data), nil
}

// DecodeMessage parses a message from its JSON wire form.
func DecodeMessage(data string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	return m, nil
}
