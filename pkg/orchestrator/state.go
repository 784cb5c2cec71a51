package orchestrator

import (
	"strings"

	"github.com/kadirpekel/conductor/pkg/graph"
	"github.com/kadirpekel/conductor/pkg/llms"
)

// Step types. Model output uses loose synonyms; normalizeStepType folds
// them onto these three.
const (
	StepSearch  = "search"
	StepCommand = "command"
	StepRespond = "respond"
)

// Step is one element of an execution plan.
type Step struct {
	Type           string `json:"type"`
	Purpose        string `json:"purpose"`
	SearchQuery    string `json:"searchQuery,omitempty"`
	Domain         string `json:"domain,omitempty"`
	CommandDetails string `json:"commandDetails,omitempty"`
}

// ExecutionPlan is an ordered step list. Steps is never empty and always
// ends with a respond step once the planner has normalized it.
type ExecutionPlan struct {
	Reasoning string `json:"reasoning"`
	Steps     []Step `json:"steps"`
}

// withStepAfter returns a copy of the plan with step inserted after
// index. Plans in graph state are never mutated in place.
func (p ExecutionPlan) withStepAfter(index int, step Step) ExecutionPlan {
	steps := make([]Step, 0, len(p.Steps)+1)
	steps = append(steps, p.Steps[:index+1]...)
	steps = append(steps, step)
	steps = append(steps, p.Steps[index+1:]...)
	return ExecutionPlan{Reasoning: p.Reasoning, Steps: steps}
}

// normalizeStepType folds model vocabulary onto the three dispatch tags.
// Research outranks command, command outranks respond.
func normalizeStepType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case StepSearch, "research", "web_search", "websearch", "lookup":
		return StepSearch
	case StepCommand, "shell", "execute", "command_execution":
		return StepCommand
	default:
		return StepRespond
	}
}

// Precheck decisions.
const (
	decisionFastpath   = "fastpath"
	decisionClassifier = "classifier"
)

// Classifier decisions.
const (
	decisionDirect = "direct"
	decisionPlan   = "plan"
)

// fastpathTicket carries a precheck match through the fastpath chain.
type fastpathTicket struct {
	PatternID  string
	Tool       string
	Parameters map[string]any
	Confidence float64
	Success    bool
	Result     string
	Error      string
}

// Graph node labels.
const (
	nodePrecheck         = "precheck"
	nodeFastpathExecutor = "fastpath_executor"
	nodeConfirmer        = "confirmer"
	nodeClassifier       = "classifier"
	nodePlanner          = "planner"
	nodeExecutor         = "executor"
	nodeSearch           = "search"
	nodeCommand          = "command"
	nodeResponder        = "responder"
)

// State channels. Messages accumulates; everything else replaces.
var (
	chQuery          = graph.NewChannel[string]("query")
	chOptions        = graph.NewChannel[Options]("options")
	chMessages       = graph.NewAppendChannel[llms.Message]("messages")
	chResponse       = graph.NewChannel[string]("response")
	chNextGraph      = graph.NewChannel[string]("nextGraph")
	chMessageID      = graph.NewChannel[string]("messageId")
	chContextMsgs    = graph.NewChannel[[]llms.Message]("contextMessages")
	chPlan           = graph.NewChannel[ExecutionPlan]("executionPlan")
	chStepIndex      = graph.NewChannel[int]("currentStepIndex")
	chRequestReplan  = graph.NewChannel[bool]("requestReplan")
	chReplanReason   = graph.NewChannel[string]("replanReason")
	chReplannedCount = graph.NewChannel[int]("replannedCount")
	chSearchIters    = graph.NewChannel[int]("searchIterations")
	chPrecheck       = graph.NewChannel[string]("precheckDecision")
	chFastpath       = graph.NewChannel[fastpathTicket]("fastpath")
	chRouterDecision = graph.NewChannel[string]("routerDecision")
	chNodeNumber     = graph.NewChannel[int]("nodeNumber")
)

// bump advances the diagnostic node counter inside a partial.
func bump(s graph.State, p graph.Partial) {
	chNodeNumber.Set(p, chNodeNumber.Get(s)+1)
}
