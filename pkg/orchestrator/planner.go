package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/conductor/pkg/graph"
	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/protocol"
)

const plannerPrompt = `Break the user's request into an ordered plan.

Reply with JSON only:
{"reasoning": "...", "steps": [{"type": "search" | "command" | "respond", "purpose": "...", "searchQuery": "...", "commandDetails": "..."}]}

Rules:
- "search" steps need a searchQuery.
- "command" steps need commandDetails holding the exact shell command.
- The final step must be "respond".
- Prefer the fewest steps that can answer well.`

// planner asks the primary model for an execution plan and normalizes it.
// Every failure mode degrades to a single respond step so the turn always
// reaches the responder.
func (t *turn) planner(ctx context.Context, s graph.State) (graph.Partial, error) {
	p := graph.Partial{}
	bump(s, p)

	query := chQuery.Get(s)
	messages := make([]llms.Message, 0, len(chContextMsgs.Get(s))+4)
	messages = append(messages, llms.Message{Role: protocol.RoleSystem, Content: plannerPrompt})
	if directory := t.toolDirectory(); directory != "" {
		messages = append(messages, llms.Message{Role: protocol.RoleSystem, Content: directory})
	}
	messages = append(messages, chContextMsgs.Get(s)...)

	if chRequestReplan.Get(s) {
		reason := chReplanReason.Get(s)
		messages = append(messages, llms.Message{
			Role: protocol.RoleSystem,
			Content: "The previous plan produced an inadequate answer: " + reason +
				"\nProduce a different plan that gathers what was missing.",
		})
		chReplannedCount.Set(p, chReplannedCount.Get(s)+1)
		chRequestReplan.Set(p, false)
		t.caps().Metrics.RecordReplan(ctx)
	}
	messages = append(messages, llms.Message{Role: protocol.RoleUser, Content: query})

	plan := t.generatePlan(ctx, messages)
	normalizePlan(&plan)

	t.pub.Status(ctx, "planning", fmt.Sprintf("Planned %d step(s)", len(plan.Steps)), map[string]any{
		"reasoning": plan.Reasoning,
	})
	chPlan.Set(p, plan)
	chStepIndex.Set(p, 0)
	return p, nil
}

func (t *turn) generatePlan(ctx context.Context, messages []llms.Message) ExecutionPlan {
	schema, err := llms.SchemaFor(ExecutionPlan{})
	if err != nil {
		slog.Warn("Failed to build plan schema, using fallback plan", "error", err)
		return fallbackPlan()
	}

	raw, usage, err := t.caps().Primary.GenerateStructured(ctx, messages, &llms.StructuredOutputConfig{
		Name:   "execution_plan",
		Schema: schema,
	})
	t.addUsage(usage)
	if err != nil {
		slog.Warn("Planner call failed, using fallback plan", "error", err)
		return fallbackPlan()
	}

	plan, err := decodePlan(raw)
	if err != nil {
		slog.Warn("Plan output unparseable, using fallback plan", "error", err)
		return fallbackPlan()
	}
	return plan
}

func (t *turn) toolDirectory() string {
	infos := t.caps().Tools.List()
	if len(infos) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, info := range infos {
		fmt.Fprintf(&b, "- %s: %s\n", info.Name, info.Description)
	}
	return b.String()
}

func fallbackPlan() ExecutionPlan {
	return ExecutionPlan{
		Reasoning: "Planning unavailable, answering directly.",
		Steps:     []Step{{Type: StepRespond, Purpose: "Provide direct answer"}},
	}
}

// decodePlan parses a model plan, tolerating envelope wrappers, bare step
// arrays and alternate key casings (snake_case, camelCase).
func decodePlan(raw string) (ExecutionPlan, error) {
	var doc json.RawMessage
	if err := llms.DecodeStructured(raw, &doc); err != nil {
		return ExecutionPlan{}, err
	}
	doc = llms.UnwrapEnvelope(doc, "plan", "executionPlan", "data")

	var generic any
	if err := json.Unmarshal(doc, &generic); err != nil {
		return ExecutionPlan{}, fmt.Errorf("failed to decode plan document: %w", err)
	}
	if steps, ok := generic.([]any); ok {
		generic = map[string]any{"steps": steps}
	}

	var plan ExecutionPlan
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &plan,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return foldKey(mapKey) == foldKey(fieldName)
		},
	})
	if err != nil {
		return ExecutionPlan{}, err
	}
	if err := dec.Decode(generic); err != nil {
		return ExecutionPlan{}, fmt.Errorf("plan does not match schema: %w", err)
	}
	return plan, nil
}

// foldKey lowercases and strips separators so search_query, searchQuery
// and SearchQuery all collide.
func foldKey(k string) string {
	k = strings.ToLower(k)
	k = strings.ReplaceAll(k, "_", "")
	return strings.ReplaceAll(k, "-", "")
}

// normalizePlan enforces the plan invariants: step types folded onto the
// three dispatch tags, steps non-empty, respond terminal present.
func normalizePlan(plan *ExecutionPlan) {
	for i := range plan.Steps {
		plan.Steps[i].Type = normalizeStepType(plan.Steps[i].Type)
	}
	if len(plan.Steps) == 0 || plan.Steps[len(plan.Steps)-1].Type != StepRespond {
		plan.Steps = append(plan.Steps, Step{Type: StepRespond, Purpose: "Provide final answer"})
	}
}
