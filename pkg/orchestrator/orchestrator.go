// Package orchestrator turns a single user message into a streamed
// assistant reply by routing it through an execution graph: a regex
// precheck, a fast classifier, and a planner/executor loop with
// specialized search and command nodes.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/conductor/pkg/events"
	"github.com/kadirpekel/conductor/pkg/graph"
	"github.com/kadirpekel/conductor/pkg/kv"
	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/memory"
	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/patterns"
	"github.com/kadirpekel/conductor/pkg/protocol"
	"github.com/kadirpekel/conductor/pkg/tools"
)

// Capabilities is the bundle of ports a turn runs against. Nodes receive
// it through the turn, never through graph state.
type Capabilities struct {
	// Fast serves the classifier and search evaluator.
	Fast llms.Provider

	// Primary serves the planner and responder.
	Primary llms.Provider

	Memory   *memory.Service
	Tools    *tools.Registry
	Patterns *patterns.Registry

	// Bus carries per-message event topics.
	Bus kv.Store

	// Metrics is optional; a nil value disables recording.
	Metrics *observability.Metrics
}

func (c Capabilities) validate() error {
	switch {
	case c.Fast == nil:
		return fmt.Errorf("capabilities missing fast model")
	case c.Primary == nil:
		return fmt.Errorf("capabilities missing primary model")
	case c.Memory == nil:
		return fmt.Errorf("capabilities missing memory service")
	case c.Tools == nil:
		return fmt.Errorf("capabilities missing tool registry")
	case c.Patterns == nil:
		return fmt.Errorf("capabilities missing pattern registry")
	case c.Bus == nil:
		return fmt.Errorf("capabilities missing event bus")
	}
	return nil
}

// Config bounds a turn.
type Config struct {
	// MaxReplans caps replan rounds per turn.
	MaxReplans int `yaml:"max_replans,omitempty"`

	// MaxSearchIterations caps refinement loops inside one search step.
	MaxSearchIterations int `yaml:"max_search_iterations,omitempty"`

	// SearchResultCount is passed to web_search as count.
	SearchResultCount int `yaml:"search_result_count,omitempty"`

	// SystemPrompt seeds every responder call.
	SystemPrompt string `yaml:"system_prompt,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.MaxReplans <= 0 {
		c.MaxReplans = 3
	}
	if c.MaxSearchIterations <= 0 {
		c.MaxSearchIterations = 5
	}
	if c.SearchResultCount <= 0 {
		c.SearchResultCount = 5
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = "You are a helpful assistant. Answer directly and concisely. " +
			"When tool output is present in the conversation, ground your answer in it."
	}
}

// Source identifies the caller's surface.
type Source struct {
	Application string `json:"application,omitempty"`
	Device      string `json:"device,omitempty"`
}

// Options are per-turn caller options.
type Options struct {
	// ConversationID selects the conversation; empty derives a stable id
	// from the query text.
	ConversationID string

	// GenerationID keys the event topic; empty generates one.
	GenerationID string

	Stream bool
	Source *Source
}

// Orchestrator owns the capability bundle and runs turns.
type Orchestrator struct {
	caps Capabilities
	cfg  Config
}

func New(caps Capabilities, cfg Config) (*Orchestrator, error) {
	if err := caps.validate(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	return &Orchestrator{caps: caps, cfg: cfg}, nil
}

// RefreshPatterns reloads command patterns from every tool server.
// Called once at startup and again on demand.
func (o *Orchestrator) RefreshPatterns(ctx context.Context) error {
	return o.caps.Patterns.Refresh(ctx, o.caps.Tools)
}

// Respond runs one turn. The returned channel emits zero or more text
// chunks followed by exactly one usage chunk, then closes. A persistence
// failure for the user message fails the turn before any streaming.
func (o *Orchestrator) Respond(ctx context.Context, query string, opts Options) (<-chan llms.StreamChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	conversationID := opts.ConversationID
	if conversationID == "" {
		conversationID = memory.DeriveConversationID(query)
	}
	messageID := opts.GenerationID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	userMsg := protocol.NewMessage(conversationID, protocol.RoleUser, query)
	if err := o.caps.Memory.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	contextMessages, err := o.caps.Memory.GetContext(ctx, conversationID)
	if err != nil {
		slog.Warn("Context load failed, continuing with empty history",
			"conversation_id", conversationID,
			"error", err)
		contextMessages = nil
	}

	out := make(chan llms.StreamChunk)
	t := &turn{
		o:    o,
		pub:  events.NewPublisher(o.caps.Bus, messageID),
		sink: out,
	}

	initial := graph.State{}
	seed := graph.Partial{}
	chQuery.Set(seed, query)
	chOptions.Set(seed, opts)
	chMessageID.Set(seed, messageID)
	chContextMsgs.Set(seed, contextMessages)
	for name, update := range seed {
		initial[name] = update(nil, false)
	}

	g, err := t.buildGraph()
	if err != nil {
		close(out)
		return nil, err
	}

	go func() {
		defer close(out)

		started := time.Now()
		final, runErr := g.Run(ctx, initial)
		if runErr != nil {
			slog.Error("Turn failed",
				"conversation_id", conversationID,
				"message_id", messageID,
				"error", runErr)
			t.emit(ctx, llms.StreamChunk{Type: llms.ChunkTypeError, Error: runErr})
			return
		}

		response := chResponse.Get(final)
		if response != "" {
			assistantMsg := protocol.NewMessage(conversationID, protocol.RoleAssistant, response)
			assistantMsg.ToolExecutions = t.toolRecords
			if err := o.caps.Memory.AppendMessage(ctx, assistantMsg); err != nil {
				slog.Error("Failed to persist assistant message",
					"conversation_id", conversationID,
					"message_id", assistantMsg.ID,
					"error", err)
			}
		}
		o.caps.Memory.ScheduleSummarize(conversationID)

		o.caps.Metrics.RecordTurn(ctx, routeOf(final), time.Since(started))
		o.caps.Metrics.RecordUsage(ctx, t.usage)

		usage := t.usage
		t.emit(ctx, llms.StreamChunk{Type: llms.ChunkTypeUsage, Usage: &usage})
	}()

	return out, nil
}

// routeOf names the branch that produced the final answer.
func routeOf(s graph.State) string {
	if chPrecheck.Get(s) == decisionFastpath {
		return decisionFastpath
	}
	if chRouterDecision.Get(s) == decisionDirect && chPlan.Get(s).Steps == nil {
		return decisionDirect
	}
	return decisionPlan
}

// RespondBlocking collects a full turn into one assistant message.
func (o *Orchestrator) RespondBlocking(ctx context.Context, query string, opts Options) (string, llms.Usage, error) {
	stream, err := o.Respond(ctx, query, opts)
	if err != nil {
		return "", llms.Usage{}, err
	}

	var text strings.Builder
	var usage llms.Usage
	for chunk := range stream {
		switch chunk.Type {
		case llms.ChunkTypeText:
			text.WriteString(chunk.Text)
		case llms.ChunkTypeUsage:
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
		case llms.ChunkTypeError:
			return "", usage, chunk.Error
		}
	}
	return text.String(), usage, nil
}

// turn carries per-turn collaborators to node functions. Nodes run
// serially, so plain fields need no locking.
type turn struct {
	o    *Orchestrator
	pub  *events.Publisher
	sink chan<- llms.StreamChunk

	usage       llms.Usage
	replanUsed  bool
	toolRecords []protocol.ToolExecution
}

func (t *turn) caps() Capabilities {
	return t.o.caps
}

func (t *turn) cfg() Config {
	return t.o.cfg
}

func (t *turn) addUsage(u llms.Usage) {
	t.usage = t.usage.Add(u)
}

func (t *turn) recordTool(name string, args map[string]any, result string, isErr bool) {
	t.o.caps.Metrics.RecordToolCall(context.Background(), name, isErr)
	t.toolRecords = append(t.toolRecords, protocol.ToolExecution{
		ToolName:  name,
		Arguments: args,
		Result:    events.Truncate(result),
		IsError:   isErr,
	})
}

func (t *turn) emit(ctx context.Context, chunk llms.StreamChunk) {
	select {
	case t.sink <- chunk:
	case <-ctx.Done():
	}
}

// buildGraph wires the turn's nodes. The graph itself is data; every
// cycle (search refinement, replan) is an ordinary labeled edge.
func (t *turn) buildGraph() (*graph.Graph, error) {
	b := graph.NewBuilder()

	b.AddNode(nodePrecheck, t.precheck)
	b.AddNode(nodeFastpathExecutor, t.fastpathExecutor)
	b.AddNode(nodeConfirmer, t.confirmer)
	b.AddNode(nodeClassifier, t.classifier)
	b.AddNode(nodePlanner, t.planner)
	b.AddNode(nodeExecutor, t.executor)
	b.AddNode(nodeSearch, t.search)
	b.AddNode(nodeCommand, t.command)
	b.AddNode(nodeResponder, t.responder)

	b.AddConditionalEdge(nodePrecheck, func(s graph.State) string {
		if chPrecheck.Get(s) == decisionFastpath {
			return nodeFastpathExecutor
		}
		return nodeClassifier
	})
	b.AddEdge(nodeFastpathExecutor, nodeConfirmer)
	b.AddEdge(nodeConfirmer, graph.End)

	b.AddConditionalEdge(nodeClassifier, func(s graph.State) string {
		if chRouterDecision.Get(s) == decisionDirect {
			return nodeResponder
		}
		return nodePlanner
	})
	b.AddEdge(nodePlanner, nodeExecutor)

	b.AddConditionalEdge(nodeExecutor, func(s graph.State) string {
		switch chNextGraph.Get(s) {
		case StepSearch:
			return nodeSearch
		case StepCommand:
			return nodeCommand
		case StepRespond:
			return nodeResponder
		default:
			return graph.End
		}
	})
	b.AddEdge(nodeSearch, nodeExecutor)
	b.AddEdge(nodeCommand, nodeExecutor)

	b.AddConditionalEdge(nodeResponder, func(s graph.State) string {
		if chRequestReplan.Get(s) {
			return nodePlanner
		}
		return graph.End
	})

	b.SetEntry(nodePrecheck)
	return b.Build()
}
