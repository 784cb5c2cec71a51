package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/conductor/pkg/graph"
	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/protocol"
)

// sufficiency is the search evaluator's structured output.
type sufficiency struct {
	Sufficient     bool   `json:"sufficient"`
	Reasoning      string `json:"reasoning"`
	NewSearchQuery string `json:"newSearchQuery,omitempty"`
}

const evaluatorPrompt = `Judge whether the search results answer the user's question.

Reply with JSON only: {"sufficient": true | false, "reasoning": "...", "newSearchQuery": "..."}

Set sufficient=false and provide newSearchQuery only when a refined query
would plausibly find what is missing.`

// search runs one web_search call for the current step, then asks the
// fast model whether the results suffice. Insufficient results inject a
// refined search step right after this one, bounded by the iteration cap.
func (t *turn) search(ctx context.Context, s graph.State) (graph.Partial, error) {
	p := graph.Partial{}
	bump(s, p)

	plan := chPlan.Get(s)
	index := chStepIndex.Get(s)
	step := plan.Steps[index]

	searchQuery := step.SearchQuery
	if searchQuery == "" {
		searchQuery = chQuery.Get(s)
	}

	iteration := chSearchIters.Get(s) + 1
	chSearchIters.Set(p, iteration)
	chStepIndex.Set(p, index+1)

	t.pub.Status(ctx, "tool_status", fmt.Sprintf("Searching (iteration %d)", iteration), map[string]any{
		"query": searchQuery,
	})

	args := map[string]any{"query": searchQuery, "count": t.cfg().SearchResultCount}
	results, err := t.caps().Tools.Call(ctx, "web_search", args, t.pub)
	if err != nil {
		t.recordTool("web_search", args, err.Error(), true)
		chMessages.Set(p, []llms.Message{{
			Role:    protocol.RoleSystem,
			Content: fmt.Sprintf("Web search for %q failed: %v. Answer from existing knowledge and say the search failed.", searchQuery, err),
		}})
		return p, nil
	}
	t.recordTool("web_search", args, results, false)
	chMessages.Set(p, []llms.Message{{
		Role:    protocol.RoleSystem,
		Content: fmt.Sprintf("Search results for %q:\n%s", searchQuery, results),
	}})

	if iteration >= t.cfg().MaxSearchIterations {
		return p, nil
	}

	verdict := t.evaluate(ctx, chQuery.Get(s), searchQuery, results, chContextMsgs.Get(s))
	if verdict.Sufficient || strings.TrimSpace(verdict.NewSearchQuery) == "" {
		return p, nil
	}

	refined := plan.withStepAfter(index, Step{
		Type:        StepSearch,
		Purpose:     "Refine search: " + verdict.Reasoning,
		SearchQuery: verdict.NewSearchQuery,
	})
	chPlan.Set(p, refined)
	return p, nil
}

// evaluate asks the fast model for a sufficiency verdict. Any failure
// counts as sufficient so the turn never stalls on its cheapest call.
func (t *turn) evaluate(ctx context.Context, userQuery, searchQuery, results string, contextMessages []llms.Message) sufficiency {
	schema, err := llms.SchemaFor(sufficiency{})
	if err != nil {
		return sufficiency{Sufficient: true}
	}

	messages := make([]llms.Message, 0, len(contextMessages)+2)
	messages = append(messages, llms.Message{Role: protocol.RoleSystem, Content: evaluatorPrompt})
	messages = append(messages, contextMessages...)
	messages = append(messages, llms.Message{
		Role: protocol.RoleUser,
		Content: fmt.Sprintf("Question: %s\n\nSearch query used: %s\n\nResults:\n%s",
			userQuery, searchQuery, results),
	})

	raw, usage, err := t.caps().Fast.GenerateStructured(ctx, messages, &llms.StructuredOutputConfig{
		Name:   "sufficiency",
		Schema: schema,
	})
	t.addUsage(usage)
	if err != nil {
		slog.Warn("Search evaluator failed, treating results as sufficient", "error", err)
		return sufficiency{Sufficient: true}
	}

	var verdict sufficiency
	var doc json.RawMessage
	if err := llms.DecodeStructured(raw, &doc); err != nil {
		slog.Warn("Search evaluator output unparseable, treating results as sufficient", "error", err)
		return sufficiency{Sufficient: true}
	}
	doc = llms.UnwrapEnvelope(doc, "evaluation", "result", "data")
	if err := json.Unmarshal(doc, &verdict); err != nil {
		slog.Warn("Search evaluator output unparseable, treating results as sufficient", "error", err)
		return sufficiency{Sufficient: true}
	}
	return verdict
}
