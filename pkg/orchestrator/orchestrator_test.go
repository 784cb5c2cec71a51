package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kadirpekel/conductor/pkg/docstore"
	"github.com/kadirpekel/conductor/pkg/events"
	"github.com/kadirpekel/conductor/pkg/kv"
	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/memory"
	"github.com/kadirpekel/conductor/pkg/patterns"
	"github.com/kadirpekel/conductor/pkg/protocol"
	"github.com/kadirpekel/conductor/pkg/tokens"
	"github.com/kadirpekel/conductor/pkg/tools"
)

// stubSource is a scriptable tool source for turn tests.
type stubSource struct {
	name  string
	infos []tools.ToolInfo
	fn    func(name string, args map[string]any) (string, error)

	mu    sync.Mutex
	calls []string
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) ListTools(ctx context.Context) ([]tools.ToolInfo, error) {
	return s.infos, nil
}

func (s *stubSource) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
	return s.fn(name, args)
}

func (s *stubSource) ListPatternResources(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *stubSource) Close() error { return nil }

func (s *stubSource) callCount(tool string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == tool {
			n++
		}
	}
	return n
}

type harness struct {
	orch    *Orchestrator
	fast    *llms.MockProvider
	primary *llms.MockProvider
	store   *docstore.MemoryStore
	bus     *kv.MemoryStore
	source  *stubSource
}

func newHarness(t *testing.T, fast, primary *llms.MockProvider, source *stubSource, patternDocs []string) *harness {
	t.Helper()

	bus := kv.NewMemoryStore()
	t.Cleanup(func() { bus.Close() })
	store := docstore.NewMemoryStore()

	counter, err := tokens.NewCounter("gpt-4")
	if err != nil {
		t.Fatalf("NewCounter() error = %v", err)
	}
	mem := memory.NewService(store, bus, fast, counter, memory.Config{})

	reg := tools.NewRegistry(time.Second)
	if source != nil {
		if err := reg.AddSource(context.Background(), source); err != nil {
			t.Fatalf("AddSource() error = %v", err)
		}
	}

	pats := patterns.NewRegistry()
	if err := pats.Load(patternDocs); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	orch, err := New(Capabilities{
		Fast:     fast,
		Primary:  primary,
		Memory:   mem,
		Tools:    reg,
		Patterns: pats,
		Bus:      bus,
	}, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &harness{orch: orch, fast: fast, primary: primary, store: store, bus: bus, source: source}
}

// collectEvents subscribes to a message topic and returns a drain
// function for the events published so far.
func collectEvents(t *testing.T, bus *kv.MemoryStore, messageID string) func() []map[string]any {
	t.Helper()
	ch, cancel, err := bus.Subscribe(context.Background(), events.TopicFor(messageID))
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	t.Cleanup(cancel)

	return func() []map[string]any {
		var out []map[string]any
		for {
			select {
			case raw := <-ch:
				var payload map[string]any
				if err := json.Unmarshal([]byte(raw), &payload); err != nil {
					t.Fatalf("bad event JSON: %v", err)
				}
				out = append(out, payload)
			default:
				return out
			}
		}
	}
}

func eventTypes(evts []map[string]any) []string {
	var out []string
	for _, e := range evts {
		if s, ok := e["type"].(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func lightsSource() *stubSource {
	return &stubSource{
		name: "home",
		infos: []tools.ToolInfo{{
			Name:        "control_light",
			Description: "Switch lights on or off",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action":   map[string]any{"type": "string"},
					"location": map[string]any{"type": "string"},
				},
				"required": []any{"action", "location"},
			},
		}},
		fn: func(name string, args map[string]any) (string, error) {
			return fmt.Sprintf("lights %v in %v", args["action"], args["location"]), nil
		},
	}
}

const lightsPatternDoc = `{
	"id": "lights_control",
	"pattern": "^turn\\s+(on|off)\\s+(?:the\\s+)?(.+?)\\s+lights?$",
	"flags": "i",
	"tool": "control_light",
	"parameterMapping": {"action": 1, "location": 2},
	"confidence": 0.95
}`

func TestRespond_FastpathTurnsOnTheLights(t *testing.T) {
	fast := llms.NewMockProvider("Kitchen lights are now on.")
	primary := llms.NewMockProvider("planner must not run")
	h := newHarness(t, fast, primary, lightsSource(), []string{lightsPatternDoc})

	drain := collectEvents(t, h.bus, "msg-lights")
	text, usage, err := h.orch.RespondBlocking(context.Background(), "turn on the kitchen lights", Options{
		ConversationID: "conv-lights",
		GenerationID:   "msg-lights",
	})
	if err != nil {
		t.Fatalf("RespondBlocking() error = %v", err)
	}

	if !strings.Contains(text, "on") {
		t.Errorf("response = %q", text)
	}
	if usage.TotalTokens == 0 {
		t.Error("usage not accumulated")
	}
	if got := len(primary.Calls()); got != 0 {
		t.Errorf("primary model called %d times on the fastpath", got)
	}
	if h.source.callCount("control_light") != 1 {
		t.Errorf("control_light calls = %d", h.source.callCount("control_light"))
	}

	var toolEvents []string
	for _, typ := range eventTypes(drain()) {
		if strings.HasPrefix(typ, "tool_") {
			toolEvents = append(toolEvents, typ)
		}
	}
	if len(toolEvents) != 2 || toolEvents[0] != events.TypeToolStart || toolEvents[1] != events.TypeToolComplete {
		t.Errorf("tool events = %v", toolEvents)
	}
}

func TestRespond_DirectAnswerSkipsPlanner(t *testing.T) {
	fast := llms.NewMockProvider(`{"decision": "direct", "confidence": 0.9, "reasoning": "general knowledge"}`)
	primary := llms.NewMockProvider("Recursion is when a function calls itself until a base case stops it.")
	h := newHarness(t, fast, primary, nil, nil)

	stream, err := h.orch.Respond(context.Background(), "What is recursion?", Options{
		ConversationID: "conv-recursion",
	})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	var text strings.Builder
	usageChunks := 0
	for chunk := range stream {
		switch chunk.Type {
		case llms.ChunkTypeText:
			text.WriteString(chunk.Text)
		case llms.ChunkTypeUsage:
			usageChunks++
		case llms.ChunkTypeError:
			t.Fatalf("stream error: %v", chunk.Error)
		}
	}

	if !strings.Contains(text.String(), "base case") {
		t.Errorf("response = %q", text.String())
	}
	if usageChunks != 1 {
		t.Errorf("usage chunks = %d, want exactly 1", usageChunks)
	}
	// Only the responder used the primary model; no plan was constructed.
	if got := len(primary.Calls()); got != 1 {
		t.Errorf("primary calls = %d", got)
	}

	msgs, err := h.store.ListByConversation(context.Background(), "conv-recursion")
	if err != nil {
		t.Fatalf("ListByConversation() error = %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != protocol.RoleUser || msgs[1].Role != protocol.RoleAssistant {
		t.Errorf("persisted roles = %+v", msgs)
	}
}

func TestRespond_PlannedSearchFlow(t *testing.T) {
	searcher := &stubSource{
		name: "web",
		infos: []tools.ToolInfo{{
			Name:        "web_search",
			Description: "Search the web",
		}},
		fn: func(name string, args map[string]any) (string, error) {
			return "1. Chiefs beat Ravens 27-24 tonight", nil
		},
	}

	fast := llms.NewMockProvider(
		`{"decision": "plan", "confidence": 0.9, "reasoning": "needs current scores"}`,
		`{"sufficient": true, "reasoning": "score found"}`,
	)
	primary := llms.NewMockProvider(
		`{"reasoning": "look up the score", "steps": [
			{"type": "search", "purpose": "find score", "searchQuery": "chiefs game score tonight"},
			{"type": "respond", "purpose": "answer"}
		]}`,
		"Yes, the Chiefs won 27-24.",
	)
	h := newHarness(t, fast, primary, searcher, nil)

	text, _, err := h.orch.RespondBlocking(context.Background(), "Did the Chiefs win tonight?", Options{
		ConversationID: "conv-chiefs",
	})
	if err != nil {
		t.Fatalf("RespondBlocking() error = %v", err)
	}

	if !strings.Contains(text, "27-24") {
		t.Errorf("response = %q", text)
	}
	if got := searcher.callCount("web_search"); got != 1 {
		t.Errorf("web_search calls = %d, want exactly 1", got)
	}
	// Responder must see the injected search results.
	calls := primary.Calls()
	if len(calls) != 2 {
		t.Fatalf("primary calls = %d", len(calls))
	}
	responderInput := calls[1]
	found := false
	for _, msg := range responderInput {
		if msg.Role == protocol.RoleSystem && strings.Contains(msg.Content, "27-24") {
			found = true
		}
	}
	if !found {
		t.Error("search results never reached the responder")
	}
}

func TestRespond_SearchRefinementInjectsStep(t *testing.T) {
	searcher := &stubSource{
		name:  "web",
		infos: []tools.ToolInfo{{Name: "web_search", Description: "Search the web"}},
		fn: func(name string, args map[string]any) (string, error) {
			return fmt.Sprintf("results for %v", args["query"]), nil
		},
	}

	fast := llms.NewMockProvider(
		`{"decision": "plan", "confidence": 0.9, "reasoning": "r"}`,
		`{"sufficient": false, "reasoning": "too vague", "newSearchQuery": "narrower query"}`,
		`{"sufficient": true, "reasoning": "good now"}`,
	)
	primary := llms.NewMockProvider(
		`{"reasoning": "r", "steps": [
			{"type": "search", "purpose": "p", "searchQuery": "broad query"},
			{"type": "respond", "purpose": "answer"}
		]}`,
		"Here is what I found.",
	)
	h := newHarness(t, fast, primary, searcher, nil)

	if _, _, err := h.orch.RespondBlocking(context.Background(), "find it", Options{
		ConversationID: "conv-refine",
	}); err != nil {
		t.Fatalf("RespondBlocking() error = %v", err)
	}

	if got := searcher.callCount("web_search"); got != 2 {
		t.Errorf("web_search calls = %d, want 2 (original + refinement)", got)
	}
}

func TestRespond_SearchIterationCap(t *testing.T) {
	searcher := &stubSource{
		name:  "web",
		infos: []tools.ToolInfo{{Name: "web_search", Description: "Search the web"}},
		fn: func(name string, args map[string]any) (string, error) {
			return "nothing useful", nil
		},
	}

	// The evaluator always demands another query; the cap must stop it.
	fast := llms.NewMockProvider(
		`{"decision": "plan", "confidence": 0.9, "reasoning": "r"}`,
		`{"sufficient": false, "reasoning": "keep digging", "newSearchQuery": "again"}`,
	)
	primary := llms.NewMockProvider(
		`{"reasoning": "r", "steps": [
			{"type": "search", "purpose": "p", "searchQuery": "q"},
			{"type": "respond", "purpose": "answer"}
		]}`,
		"Best effort answer.",
	)
	h := newHarness(t, fast, primary, searcher, nil)

	if _, _, err := h.orch.RespondBlocking(context.Background(), "find it", Options{
		ConversationID: "conv-cap",
	}); err != nil {
		t.Fatalf("RespondBlocking() error = %v", err)
	}

	if got := searcher.callCount("web_search"); got != 5 {
		t.Errorf("web_search calls = %d, want the iteration cap of 5", got)
	}
}

func TestRespond_InadequateAnswerTriggersOneReplan(t *testing.T) {
	fast := llms.NewMockProvider(`{"decision": "direct", "confidence": 0.9, "reasoning": "r"}`)
	primary := llms.NewMockProvider(
		"I don't have enough information to answer that.",
		`{"reasoning": "retry", "steps": [{"type": "respond", "purpose": "answer properly"}]}`,
		"The answer is 42.",
	)
	h := newHarness(t, fast, primary, nil, nil)

	stream, err := h.orch.Respond(context.Background(), "what is the answer?", Options{
		ConversationID: "conv-replan",
	})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	var text strings.Builder
	for chunk := range stream {
		if chunk.Type == llms.ChunkTypeText {
			text.WriteString(chunk.Text)
		}
	}

	if !strings.Contains(text.String(), "42") {
		t.Errorf("response = %q", text.String())
	}
	// The inadequate draft must never reach the caller.
	if strings.Contains(text.String(), "enough information") {
		t.Errorf("discarded draft leaked: %q", text.String())
	}
	// Responder, planner, responder.
	if got := len(primary.Calls()); got != 3 {
		t.Errorf("primary calls = %d", got)
	}
}

func TestRespond_SecondInadequateAnswerIsDelivered(t *testing.T) {
	fast := llms.NewMockProvider(`{"decision": "direct", "confidence": 0.9, "reasoning": "r"}`)
	primary := llms.NewMockProvider(
		"I cannot answer that.",
		`{"reasoning": "retry", "steps": [{"type": "respond", "purpose": "p"}]}`,
		"I cannot answer that either.",
	)
	h := newHarness(t, fast, primary, nil, nil)

	text, _, err := h.orch.RespondBlocking(context.Background(), "impossible question", Options{
		ConversationID: "conv-replan-2",
	})
	if err != nil {
		t.Fatalf("RespondBlocking() error = %v", err)
	}

	// One replan per turn: the second inadequate answer goes out as-is.
	if !strings.Contains(text, "either") {
		t.Errorf("response = %q", text)
	}
	if got := len(primary.Calls()); got != 3 {
		t.Errorf("primary calls = %d", got)
	}
}

func TestRespond_LowConfidenceClassifierCoercesToPlan(t *testing.T) {
	fast := llms.NewMockProvider(`{"decision": "direct", "confidence": 0.3, "reasoning": "unsure"}`)
	primary := llms.NewMockProvider(
		`{"reasoning": "r", "steps": [{"type": "respond", "purpose": "p"}]}`,
		"Planned answer.",
	)
	h := newHarness(t, fast, primary, nil, nil)

	text, _, err := h.orch.RespondBlocking(context.Background(), "maybe hard question", Options{
		ConversationID: "conv-coerce",
	})
	if err != nil {
		t.Fatalf("RespondBlocking() error = %v", err)
	}
	if text != "Planned answer." {
		t.Errorf("response = %q", text)
	}
	// Two primary calls prove the planner ran.
	if got := len(primary.Calls()); got != 2 {
		t.Errorf("primary calls = %d", got)
	}
}

func TestRespond_PlannerFailureFallsBackToRespond(t *testing.T) {
	fast := llms.NewMockProvider(`{"decision": "plan", "confidence": 0.9, "reasoning": "r"}`)
	primary := llms.NewMockProvider(
		"this is not a plan at all",
		"Direct answer despite planner noise.",
	)
	h := newHarness(t, fast, primary, nil, nil)

	text, _, err := h.orch.RespondBlocking(context.Background(), "question", Options{
		ConversationID: "conv-fallback",
	})
	if err != nil {
		t.Fatalf("RespondBlocking() error = %v", err)
	}
	if !strings.Contains(text, "Direct answer") {
		t.Errorf("response = %q", text)
	}
}

func TestRespond_FailedCommandBecomesContextForResponder(t *testing.T) {
	shell := &stubSource{
		name:  "command",
		infos: []tools.ToolInfo{{Name: "execute_command", Description: "Run a shell command"}},
		fn: func(name string, args map[string]any) (string, error) {
			return "", fmt.Errorf("command blocked by security policy")
		},
	}

	fast := llms.NewMockProvider(`{"decision": "plan", "confidence": 0.9, "reasoning": "r"}`)
	primary := llms.NewMockProvider(
		`{"reasoning": "r", "steps": [
			{"type": "command", "purpose": "wipe", "commandDetails": "rm -rf /"},
			{"type": "respond", "purpose": "answer"}
		]}`,
		"I can't run that command, it is blocked for safety.",
	)
	h := newHarness(t, fast, primary, shell, nil)

	drain := collectEvents(t, h.bus, "msg-blocked")
	text, _, err := h.orch.RespondBlocking(context.Background(), "delete everything", Options{
		ConversationID: "conv-blocked",
		GenerationID:   "msg-blocked",
	})
	if err != nil {
		t.Fatalf("RespondBlocking() error = %v", err)
	}

	if !strings.Contains(text, "blocked") {
		t.Errorf("response = %q", text)
	}

	types := eventTypes(drain())
	sawError := false
	for _, typ := range types {
		if typ == events.TypeToolError {
			sawError = true
		}
	}
	if !sawError {
		t.Errorf("no tool_error event in %v", types)
	}

	// The failure must reach the responder as system context.
	calls := primary.Calls()
	responderInput := calls[len(calls)-1]
	found := false
	for _, msg := range responderInput {
		if msg.Role == protocol.RoleSystem && strings.Contains(msg.Content, "failed") {
			found = true
		}
	}
	if !found {
		t.Error("command failure never reached the responder")
	}
}

func TestRespond_ToolLifecycleBalanced(t *testing.T) {
	fast := llms.NewMockProvider("confirmed")
	primary := llms.NewMockProvider("unused")
	h := newHarness(t, fast, primary, lightsSource(), []string{lightsPatternDoc})

	drain := collectEvents(t, h.bus, "msg-balance")
	if _, _, err := h.orch.RespondBlocking(context.Background(), "turn off the bedroom lights", Options{
		ConversationID: "conv-balance",
		GenerationID:   "msg-balance",
	}); err != nil {
		t.Fatalf("RespondBlocking() error = %v", err)
	}

	starts, terminals := 0, 0
	for _, typ := range eventTypes(drain()) {
		switch typ {
		case events.TypeToolStart:
			starts++
		case events.TypeToolComplete, events.TypeToolError:
			terminals++
		}
	}
	if starts == 0 || starts != terminals {
		t.Errorf("starts = %d, terminals = %d", starts, terminals)
	}
}

func TestRespond_EmptyQuery(t *testing.T) {
	fast := llms.NewMockProvider("x")
	primary := llms.NewMockProvider("x")
	h := newHarness(t, fast, primary, nil, nil)

	if _, err := h.orch.Respond(context.Background(), "   ", Options{}); err == nil {
		t.Error("Respond() should reject an empty query")
	}
}

func TestRespond_PersistenceFailureIsFatal(t *testing.T) {
	fast := llms.NewMockProvider("x")
	primary := llms.NewMockProvider("x")
	h := newHarness(t, fast, primary, nil, nil)

	h.store.SetInsertHook(func(protocol.Message) error {
		return fmt.Errorf("store unreachable")
	})

	if _, err := h.orch.Respond(context.Background(), "hello", Options{ConversationID: "conv-x"}); err == nil {
		t.Error("Respond() should fail when the user message cannot be persisted")
	}
}

func TestRespond_DerivesConversationID(t *testing.T) {
	fast := llms.NewMockProvider(`{"decision": "direct", "confidence": 0.9, "reasoning": "r"}`)
	primary := llms.NewMockProvider("Hi there.")
	h := newHarness(t, fast, primary, nil, nil)

	if _, _, err := h.orch.RespondBlocking(context.Background(), "hello world", Options{}); err != nil {
		t.Fatalf("RespondBlocking() error = %v", err)
	}

	derived := memory.DeriveConversationID("hello world")
	msgs, err := h.store.ListByConversation(context.Background(), derived)
	if err != nil {
		t.Fatalf("ListByConversation() error = %v", err)
	}
	if len(msgs) == 0 {
		t.Errorf("no messages under derived conversation id %s", derived)
	}
}
