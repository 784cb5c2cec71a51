package orchestrator

import (
	"context"
	"fmt"

	"github.com/kadirpekel/conductor/pkg/graph"
	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/protocol"
)

// executor dispatches the current plan step to its specialized node.
// An exhausted plan ends the graph; by the normalization invariant the
// last executed step was respond.
func (t *turn) executor(ctx context.Context, s graph.State) (graph.Partial, error) {
	p := graph.Partial{}
	bump(s, p)

	plan := chPlan.Get(s)
	index := chStepIndex.Get(s)
	if index >= len(plan.Steps) {
		chNextGraph.Set(p, "")
		return p, nil
	}

	step := plan.Steps[index]
	chNextGraph.Set(p, normalizeStepType(step.Type))
	return p, nil
}

// command runs one command step through the execute_command tool. Tool
// and validation failures become system context for the responder, never
// turn failures.
func (t *turn) command(ctx context.Context, s graph.State) (graph.Partial, error) {
	p := graph.Partial{}
	bump(s, p)

	plan := chPlan.Get(s)
	index := chStepIndex.Get(s)
	step := plan.Steps[index]

	commandLine := step.CommandDetails
	if commandLine == "" {
		commandLine = step.Purpose
	}

	args := map[string]any{"command": commandLine}
	t.pub.Status(ctx, "tool_status", "Running command step", map[string]any{
		"purpose": step.Purpose,
	})

	result, err := t.caps().Tools.Call(ctx, "execute_command", args, t.pub)
	if err != nil {
		t.recordTool("execute_command", args, err.Error(), true)
		chMessages.Set(p, []llms.Message{{
			Role:    protocol.RoleSystem,
			Content: fmt.Sprintf("Command %q failed: %v. Explain this to the user.", commandLine, err),
		}})
	} else {
		t.recordTool("execute_command", args, result, false)
		chMessages.Set(p, []llms.Message{{
			Role:    protocol.RoleSystem,
			Content: fmt.Sprintf("Output of %q:\n%s", commandLine, result),
		}})
	}

	chStepIndex.Set(p, index+1)
	return p, nil
}
