package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/conductor/pkg/events"
	"github.com/kadirpekel/conductor/pkg/graph"
	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/protocol"
)

// precheck matches the query against the loaded command patterns. A hit
// at or above the confidence floor takes the fastpath chain; anything
// else falls through to the classifier.
func (t *turn) precheck(ctx context.Context, s graph.State) (graph.Partial, error) {
	p := graph.Partial{}
	bump(s, p)

	query := chQuery.Get(s)
	match, ok := t.caps().Patterns.Match(query)
	if !ok {
		chPrecheck.Set(p, decisionClassifier)
		return p, nil
	}

	t.pub.Status(ctx, "routing", fmt.Sprintf("Matched command pattern %s", match.PatternID), map[string]any{
		"confidence": match.Confidence,
	})
	chPrecheck.Set(p, decisionFastpath)
	chFastpath.Set(p, fastpathTicket{
		PatternID:  match.PatternID,
		Tool:       match.Tool,
		Parameters: match.Parameters,
		Confidence: match.Confidence,
	})
	return p, nil
}

// classification is the structured output of the tier-1 router.
type classification struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

const classifierPrompt = `Decide how to handle the user's message.

Reply with JSON only: {"decision": "direct" | "plan", "confidence": 0.0-1.0, "reasoning": "..."}

Choose "direct" when the message can be answered from general knowledge and
the conversation so far. Choose "plan" when answering needs current
information, a web search, running a command, or multiple steps.`

// classifier asks the fast model for a direct-or-plan decision. Low
// confidence and every failure mode coerce toward the safer branch.
func (t *turn) classifier(ctx context.Context, s graph.State) (graph.Partial, error) {
	p := graph.Partial{}
	bump(s, p)

	query := chQuery.Get(s)
	messages := make([]llms.Message, 0, len(chContextMsgs.Get(s))+2)
	messages = append(messages, llms.Message{Role: protocol.RoleSystem, Content: classifierPrompt})
	messages = append(messages, chContextMsgs.Get(s)...)
	messages = append(messages, llms.Message{Role: protocol.RoleUser, Content: query})

	schema, err := llms.SchemaFor(classification{})
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier schema: %w", err)
	}

	raw, usage, err := t.caps().Fast.GenerateStructured(ctx, messages, &llms.StructuredOutputConfig{
		Name:   "classification",
		Schema: schema,
	})
	t.addUsage(usage)

	decision := decisionDirect
	var c classification
	switch {
	case err != nil:
		slog.Warn("Classifier call failed, defaulting to direct", "error", err)
	case decodeClassification(raw, &c) != nil:
		slog.Warn("Classifier output unparseable, defaulting to direct", "raw", events.Truncate(raw))
	default:
		decision = strings.ToLower(strings.TrimSpace(c.Decision))
		if decision != decisionDirect && decision != decisionPlan {
			decision = decisionPlan
		}
		// Uncertain direct answers get the planner's scrutiny instead.
		if c.Confidence < 0.5 {
			decision = decisionPlan
		}
	}

	t.pub.Status(ctx, "routing", "Classified request", map[string]any{
		"decision":   decision,
		"confidence": c.Confidence,
		"reasoning":  c.Reasoning,
	})
	chRouterDecision.Set(p, decision)
	return p, nil
}

func decodeClassification(raw string, out *classification) error {
	var doc json.RawMessage
	if err := llms.DecodeStructured(raw, &doc); err != nil {
		return err
	}
	doc = llms.UnwrapEnvelope(doc, "classification", "result", "data")
	return json.Unmarshal(doc, out)
}
