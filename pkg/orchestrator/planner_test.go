package orchestrator

import (
	"testing"
)

func TestDecodePlan_DirectJSON(t *testing.T) {
	raw := `{"reasoning": "needs current data", "steps": [
		{"type": "search", "purpose": "find score", "searchQuery": "chiefs score"},
		{"type": "respond", "purpose": "answer"}
	]}`

	plan, err := decodePlan(raw)
	if err != nil {
		t.Fatalf("decodePlan() error = %v", err)
	}
	if len(plan.Steps) != 2 || plan.Steps[0].SearchQuery != "chiefs score" {
		t.Errorf("plan = %+v", plan)
	}
}

func TestDecodePlan_Envelope(t *testing.T) {
	raw := `{"plan": {"reasoning": "r", "steps": [{"type": "respond", "purpose": "p"}]}}`

	plan, err := decodePlan(raw)
	if err != nil {
		t.Fatalf("decodePlan() error = %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Type != StepRespond {
		t.Errorf("plan = %+v", plan)
	}
}

func TestDecodePlan_BareStepArray(t *testing.T) {
	raw := `[{"type": "search", "purpose": "p", "searchQuery": "q"}]`

	plan, err := decodePlan(raw)
	if err != nil {
		t.Fatalf("decodePlan() error = %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Type != StepSearch {
		t.Errorf("plan = %+v", plan)
	}
}

func TestDecodePlan_EnvelopedSingleStepArray(t *testing.T) {
	raw := `{"plan": [{"type": "search", "purpose": "p", "searchQuery": "q"}]}`

	plan, err := decodePlan(raw)
	if err != nil {
		t.Fatalf("decodePlan() error = %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].SearchQuery != "q" {
		t.Errorf("plan = %+v", plan)
	}
}

func TestDecodePlan_SnakeCaseKeys(t *testing.T) {
	raw := `{"reasoning": "r", "steps": [
		{"type": "search", "purpose": "p", "search_query": "snake"},
		{"type": "command", "purpose": "p", "command_details": "ls"}
	]}`

	plan, err := decodePlan(raw)
	if err != nil {
		t.Fatalf("decodePlan() error = %v", err)
	}
	if plan.Steps[0].SearchQuery != "snake" {
		t.Errorf("SearchQuery = %q", plan.Steps[0].SearchQuery)
	}
	if plan.Steps[1].CommandDetails != "ls" {
		t.Errorf("CommandDetails = %q", plan.Steps[1].CommandDetails)
	}
}

func TestDecodePlan_FencedAndProse(t *testing.T) {
	raw := "Here is the plan:\n```json\n" +
		`{"reasoning": "r", "steps": [{"type": "respond", "purpose": "p"}]}` +
		"\n```\nLet me know."

	plan, err := decodePlan(raw)
	if err != nil {
		t.Fatalf("decodePlan() error = %v", err)
	}
	if len(plan.Steps) != 1 {
		t.Errorf("plan = %+v", plan)
	}
}

func TestDecodePlan_QuotedJSONString(t *testing.T) {
	raw := `"{\"reasoning\": \"r\", \"steps\": [{\"type\": \"respond\", \"purpose\": \"p\"}]}"`

	plan, err := decodePlan(raw)
	if err != nil {
		t.Fatalf("decodePlan() error = %v", err)
	}
	if len(plan.Steps) != 1 {
		t.Errorf("plan = %+v", plan)
	}
}

func TestDecodePlan_Garbage(t *testing.T) {
	if _, err := decodePlan("no json to be found here"); err == nil {
		t.Error("decodePlan() should fail on prose")
	}
}

func TestNormalizePlan_AppendsRespondTerminal(t *testing.T) {
	plan := ExecutionPlan{Steps: []Step{{Type: "search", Purpose: "p", SearchQuery: "q"}}}
	normalizePlan(&plan)

	if len(plan.Steps) != 2 || plan.Steps[1].Type != StepRespond {
		t.Errorf("plan = %+v", plan)
	}
}

func TestNormalizePlan_EmptyStepsGetRespond(t *testing.T) {
	plan := ExecutionPlan{}
	normalizePlan(&plan)

	if len(plan.Steps) != 1 || plan.Steps[0].Type != StepRespond {
		t.Errorf("plan = %+v", plan)
	}
}

func TestNormalizePlan_FoldsStepVocabulary(t *testing.T) {
	plan := ExecutionPlan{Steps: []Step{
		{Type: "Research"},
		{Type: "shell"},
		{Type: "answer"},
	}}
	normalizePlan(&plan)

	if plan.Steps[0].Type != StepSearch || plan.Steps[1].Type != StepCommand || plan.Steps[2].Type != StepRespond {
		t.Errorf("plan = %+v", plan)
	}
}

func TestWithStepAfter_DoesNotMutateOriginal(t *testing.T) {
	plan := ExecutionPlan{Steps: []Step{
		{Type: StepSearch, SearchQuery: "a"},
		{Type: StepRespond},
	}}

	refined := plan.withStepAfter(0, Step{Type: StepSearch, SearchQuery: "b"})
	if len(refined.Steps) != 3 || refined.Steps[1].SearchQuery != "b" {
		t.Errorf("refined = %+v", refined)
	}
	if len(plan.Steps) != 2 {
		t.Errorf("original mutated: %+v", plan)
	}
}

func TestIsInadequate(t *testing.T) {
	tests := []struct {
		response string
		want     bool
	}{
		{"", true},
		{"   \n", true},
		{"I don't have enough information to answer that.", true},
		{"Sorry, I cannot answer this question.", true},
		{"No information available on that topic.", true},
		{"The Chiefs won 27-24.", false},
		{"Yes.", false},
	}
	for _, tt := range tests {
		if got := isInadequate(tt.response); got != tt.want {
			t.Errorf("isInadequate(%q) = %v, want %v", tt.response, got, tt.want)
		}
	}
}
