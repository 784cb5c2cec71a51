package events

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kadirpekel/conductor/pkg/kv"
)

func collect(t *testing.T, store *kv.MemoryStore, topic string, n int, run func()) []map[string]any {
	t.Helper()

	ctx := context.Background()
	ch, cancel, err := store.Subscribe(ctx, topic)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	run()

	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		select {
		case raw := <-ch:
			var payload map[string]any
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				t.Fatalf("event %d is not JSON: %v", i, err)
			}
			out = append(out, payload)
		default:
			t.Fatalf("expected %d events, got %d", n, i)
		}
	}
	return out
}

func TestPublisher_ToolLifecycle(t *testing.T) {
	store := kv.NewMemoryStore()
	defer store.Close()

	pub := NewPublisher(store, "msg-1")
	if pub.Topic() != "events:msg-1" {
		t.Errorf("Topic() = %q", pub.Topic())
	}

	ctx := context.Background()
	got := collect(t, store, pub.Topic(), 3, func() {
		tool := pub.Tool("search", "web_search")
		tool.Start(ctx, map[string]any{"query": "weather"})
		tool.Progress(ctx, "fetching results")
		tool.Complete(ctx, map[string]any{"results": 3})
	})

	if got[0]["type"] != TypeToolStart || got[1]["type"] != TypeToolProgress || got[2]["type"] != TypeToolComplete {
		t.Fatalf("event types = %v, %v, %v", got[0]["type"], got[1]["type"], got[2]["type"])
	}

	id := got[0]["toolId"].(string)
	if !strings.HasPrefix(id, "search_") {
		t.Errorf("toolId = %q, want search_ prefix", id)
	}
	for i, ev := range got {
		if ev["toolId"] != id {
			t.Errorf("event %d toolId = %v, want %q", i, ev["toolId"], id)
		}
		if ev["toolName"] != "web_search" {
			t.Errorf("event %d toolName = %v", i, ev["toolName"])
		}
	}

	args := got[0]["arguments"].(map[string]any)
	if args["query"] != "weather" {
		t.Errorf("arguments = %v", args)
	}
}

func TestPublisher_ToolError(t *testing.T) {
	store := kv.NewMemoryStore()
	defer store.Close()

	pub := NewPublisher(store, "msg-2")
	ctx := context.Background()

	got := collect(t, store, pub.Topic(), 2, func() {
		tool := pub.Tool("command", "execute_command")
		tool.Start(ctx, nil)
		tool.Error(ctx, context.DeadlineExceeded)
	})

	if got[1]["type"] != TypeToolError {
		t.Fatalf("type = %v", got[1]["type"])
	}
	if got[1]["error"] != context.DeadlineExceeded.Error() {
		t.Errorf("error = %v", got[1]["error"])
	}
	if got[0]["toolId"] != got[1]["toolId"] {
		t.Errorf("toolId mismatch: %v vs %v", got[0]["toolId"], got[1]["toolId"])
	}
}

func TestPublisher_StatusEvent(t *testing.T) {
	store := kv.NewMemoryStore()
	defer store.Close()

	pub := NewPublisher(store, "msg-3")
	ctx := context.Background()

	got := collect(t, store, pub.Topic(), 1, func() {
		pub.Status(ctx, "routing", "Classifying request", map[string]any{
			"confidence": 0.92,
			"reasoning":  "matched command phrasing",
		})
	})

	ev := got[0]
	if ev["type"] != TypeStatus || ev["action"] != "routing" {
		t.Fatalf("event = %v", ev)
	}
	if ev["confidence"] != 0.92 {
		t.Errorf("confidence = %v", ev["confidence"])
	}
}

func TestPublisher_MonotonicTimestamps(t *testing.T) {
	store := kv.NewMemoryStore()
	defer store.Close()

	pub := NewPublisher(store, "msg-4")
	ctx := context.Background()

	const n = 20
	got := collect(t, store, pub.Topic(), n, func() {
		for i := 0; i < n; i++ {
			pub.Status(ctx, "thinking", "step", nil)
		}
	})

	prev := int64(-1)
	for i, ev := range got {
		ts := int64(ev["timestamp"].(float64))
		if ts <= prev {
			t.Fatalf("event %d timestamp %d not after %d", i, ts, prev)
		}
		prev = ts
	}
}

func TestTruncate(t *testing.T) {
	short := "hello"
	if Truncate(short) != short {
		t.Errorf("Truncate() altered a short string")
	}

	long := strings.Repeat("x", MaxFieldBytes+100)
	got := Truncate(long)
	if !strings.HasSuffix(got, "... (truncated)") {
		t.Errorf("Truncate() missing marker: %q", got[len(got)-30:])
	}
	if len(got) > MaxFieldBytes+len("... (truncated)") {
		t.Errorf("Truncate() length = %d", len(got))
	}
}

func TestSanitizeArgs_Nested(t *testing.T) {
	long := strings.Repeat("y", MaxFieldBytes*2)
	args := map[string]any{
		"content": long,
		"count":   7,
		"nested":  map[string]any{"body": long},
		"list":    []any{long, 1},
	}

	got := SanitizeArgs(args)
	if len(got["content"].(string)) >= len(long) {
		t.Error("top-level string not truncated")
	}
	if got["count"] != 7 {
		t.Errorf("count = %v", got["count"])
	}
	if len(got["nested"].(map[string]any)["body"].(string)) >= len(long) {
		t.Error("nested string not truncated")
	}
	if len(got["list"].([]any)[0].(string)) >= len(long) {
		t.Error("list string not truncated")
	}
}
