package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/conductor/pkg/graph"
	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/protocol"
)

// inadequacyMarkers are lowercase phrases that flag a non-answer. The
// list is intentionally short; false positives burn a replan round.
var inadequacyMarkers = []string{
	"i don't have enough information",
	"i do not have enough information",
	"i don't have access to",
	"i do not have access to",
	"i cannot answer",
	"i can't answer",
	"i'm unable to answer",
	"unable to determine",
	"no information available",
}

func isInadequate(response string) bool {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, marker := range inadequacyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// responder streams the final answer from the primary model. An
// inadequate answer triggers at most one replan round per turn, bounded
// by the replan budget; the inadequate text is then discarded.
func (t *turn) responder(ctx context.Context, s graph.State) (graph.Partial, error) {
	p := graph.Partial{}
	bump(s, p)

	messages := make([]llms.Message, 0, len(chContextMsgs.Get(s))+len(chMessages.Get(s))+2)
	messages = append(messages, llms.Message{Role: protocol.RoleSystem, Content: t.cfg().SystemPrompt})
	messages = append(messages, chContextMsgs.Get(s)...)
	messages = append(messages, chMessages.Get(s)...)
	messages = append(messages, llms.Message{Role: protocol.RoleUser, Content: chQuery.Get(s)})

	t.pub.Status(ctx, "thinking", "Generating answer", nil)

	stream, err := t.caps().Primary.GenerateStreaming(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("responder generation failed: %w", err)
	}

	// Chunks are buffered until the adequacy decision so a discarded
	// answer never reaches the caller.
	var chunks []string
	var full strings.Builder
	for chunk := range stream {
		switch chunk.Type {
		case llms.ChunkTypeText:
			chunks = append(chunks, chunk.Text)
			full.WriteString(chunk.Text)
		case llms.ChunkTypeUsage:
			if chunk.Usage != nil {
				t.addUsage(*chunk.Usage)
			}
		case llms.ChunkTypeError:
			return nil, fmt.Errorf("responder stream failed: %w", chunk.Error)
		}
	}

	response := full.String()
	if isInadequate(response) && !t.replanUsed && chReplannedCount.Get(s) < t.cfg().MaxReplans {
		t.replanUsed = true
		reason := strings.TrimSpace(response)
		if reason == "" {
			reason = "the answer was empty"
		}
		slog.Debug("Responder output inadequate, requesting replan",
			"message_id", chMessageID.Get(s))
		chRequestReplan.Set(p, true)
		chReplanReason.Set(p, reason)
		return p, nil
	}

	for _, text := range chunks {
		t.emit(ctx, llms.StreamChunk{Type: llms.ChunkTypeText, Text: text})
	}
	chResponse.Set(p, response)
	chRequestReplan.Set(p, false)
	return p, nil
}

// fastpathExecutor runs the tool chosen by precheck with the captured
// parameters. Failures ride the ticket to the confirmer.
func (t *turn) fastpathExecutor(ctx context.Context, s graph.State) (graph.Partial, error) {
	p := graph.Partial{}
	bump(s, p)

	ticket := chFastpath.Get(s)
	result, err := t.caps().Tools.Call(ctx, ticket.Tool, ticket.Parameters, t.pub)
	if err != nil {
		ticket.Success = false
		ticket.Error = err.Error()
		t.recordTool(ticket.Tool, ticket.Parameters, err.Error(), true)
	} else {
		ticket.Success = true
		ticket.Result = result
		t.recordTool(ticket.Tool, ticket.Parameters, result, false)
	}

	chFastpath.Set(p, ticket)
	return p, nil
}

// confirmer phrases a one-line confirmation of the fastpath outcome with
// the fast model, with a canned fallback so the fastpath never depends on
// a model being reachable.
func (t *turn) confirmer(ctx context.Context, s graph.State) (graph.Partial, error) {
	p := graph.Partial{}
	bump(s, p)

	ticket := chFastpath.Get(s)

	var prompt string
	if ticket.Success {
		prompt = fmt.Sprintf(
			"The command %q ran with parameters %v and returned: %s\nConfirm to the user in one short sentence.",
			ticket.Tool, ticket.Parameters, ticket.Result)
	} else {
		prompt = fmt.Sprintf(
			"The command %q failed: %s\nTell the user in one short sentence.",
			ticket.Tool, ticket.Error)
	}

	response, usage, err := t.caps().Fast.Generate(ctx, []llms.Message{
		{Role: protocol.RoleUser, Content: prompt},
	})
	t.addUsage(usage)
	if err != nil || strings.TrimSpace(response) == "" {
		if ticket.Success {
			response = fmt.Sprintf("Done, %s completed.", ticket.Tool)
		} else {
			response = fmt.Sprintf("Sorry, %s failed: %s", ticket.Tool, ticket.Error)
		}
	}

	t.emit(ctx, llms.StreamChunk{Type: llms.ChunkTypeText, Text: response})
	chResponse.Set(p, response)
	return p, nil
}
