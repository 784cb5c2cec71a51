// Package events publishes tool-lifecycle and stage-status events onto the
// per-message topic.
//
// All publications for one turn funnel through a single Publisher so the
// topic sees a totally ordered stream with monotonic timestamps. Tool
// invocations get a ToolPublisher whose toolId is fixed at construction,
// guaranteeing the start and terminal events correlate.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kadirpekel/conductor/pkg/kv"
)

const (
	TypeToolStart    = "tool_start"
	TypeToolProgress = "tool_progress"
	TypeToolComplete = "tool_complete"
	TypeToolError    = "tool_error"
	TypeStatus       = "status"

	// MaxFieldBytes bounds every string field in an event payload before it
	// reaches the bus.
	MaxFieldBytes = 2048
)

// TopicFor returns the bus topic for a message id.
func TopicFor(messageID string) string {
	return "events:" + messageID
}

// Publisher emits events for one turn, keyed by message id.
type Publisher struct {
	store     kv.Store
	messageID string

	mu     sync.Mutex
	lastMs int64
}

func NewPublisher(store kv.Store, messageID string) *Publisher {
	return &Publisher{
		store:     store,
		messageID: messageID,
	}
}

func (p *Publisher) MessageID() string {
	return p.messageID
}

func (p *Publisher) Topic() string {
	return TopicFor(p.messageID)
}

// timestamp returns epoch milliseconds, strictly increasing per publisher.
func (p *Publisher) timestamp() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UnixMilli()
	if now <= p.lastMs {
		now = p.lastMs + 1
	}
	p.lastMs = now
	return now
}

func (p *Publisher) publish(ctx context.Context, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.store.Publish(ctx, p.Topic(), string(data)); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", p.Topic(), err)
	}
	return nil
}

// Status emits a stage-level status event (routing, planning, thinking,
// tool_status). Extra fields such as reasoning and confidence are merged
// into the envelope. Publish failures are logged, never propagated; the
// event stream is advisory.
func (p *Publisher) Status(ctx context.Context, action, description string, extra map[string]any) {
	payload := map[string]any{
		"type":        TypeStatus,
		"action":      action,
		"description": Truncate(description),
		"timestamp":   p.timestamp(),
	}
	for k, v := range extra {
		payload[k] = sanitizeValue(v)
	}
	if err := p.publish(ctx, payload); err != nil {
		slog.Warn("Failed to publish status event",
			"message_id", p.messageID,
			"action", action,
			"error", err)
	}
}

// Tool creates a ToolPublisher for one tool invocation. The toolId is
// assigned here and stays stable for the invocation's lifetime.
func (p *Publisher) Tool(toolType, toolName string) *ToolPublisher {
	return &ToolPublisher{
		parent:   p,
		toolID:   fmt.Sprintf("%s_%d", toolType, time.Now().UnixMilli()),
		toolType: toolType,
		toolName: toolName,
	}
}

// ToolPublisher emits the lifecycle events of a single tool invocation.
type ToolPublisher struct {
	parent   *Publisher
	toolID   string
	toolType string
	toolName string
}

func (t *ToolPublisher) ToolID() string {
	return t.toolID
}

func (t *ToolPublisher) envelope(eventType string) map[string]any {
	return map[string]any{
		"type":      eventType,
		"toolId":    t.toolID,
		"toolType":  t.toolType,
		"toolName":  t.toolName,
		"timestamp": t.parent.timestamp(),
	}
}

func (t *ToolPublisher) emit(ctx context.Context, eventType string, fields map[string]any) {
	payload := t.envelope(eventType)
	for k, v := range fields {
		payload[k] = v
	}
	if err := t.parent.publish(ctx, payload); err != nil {
		slog.Warn("Failed to publish tool event",
			"message_id", t.parent.messageID,
			"tool", t.toolName,
			"type", eventType,
			"error", err)
	}
}

func (t *ToolPublisher) Start(ctx context.Context, args map[string]any) {
	t.emit(ctx, TypeToolStart, map[string]any{
		"arguments": SanitizeArgs(args),
	})
}

func (t *ToolPublisher) Progress(ctx context.Context, message string) {
	t.emit(ctx, TypeToolProgress, map[string]any{
		"message": Truncate(message),
	})
}

func (t *ToolPublisher) Complete(ctx context.Context, metadata map[string]any) {
	t.emit(ctx, TypeToolComplete, map[string]any{
		"metadata": SanitizeArgs(metadata),
	})
}

func (t *ToolPublisher) Error(ctx context.Context, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	t.emit(ctx, TypeToolError, map[string]any{
		"error": Truncate(msg),
	})
}

// Truncate caps a string at MaxFieldBytes, appending a marker when cut.
func Truncate(s string) string {
	if len(s) <= MaxFieldBytes {
		return s
	}
	return s[:MaxFieldBytes] + "... (truncated)"
}

// SanitizeArgs truncates every string field of an argument map, one level
// deep into nested maps and slices.
func SanitizeArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return Truncate(val)
	case map[string]any:
		return SanitizeArgs(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}
