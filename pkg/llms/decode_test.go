package llms

import (
	"encoding/json"
	"testing"
)

type decodeTarget struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
}

func TestDecodeStructured_DirectParse(t *testing.T) {
	var out decodeTarget
	err := DecodeStructured(`{"decision": "plan", "confidence": 0.9}`, &out)
	if err != nil {
		t.Fatalf("DecodeStructured() error = %v", err)
	}
	if out.Decision != "plan" || out.Confidence != 0.9 {
		t.Errorf("decoded = %+v", out)
	}
}

func TestDecodeStructured_BalancedBraceScan(t *testing.T) {
	raw := `Sure! Here is my answer: {"decision": "direct", "confidence": 0.7} hope that helps.`
	var out decodeTarget
	if err := DecodeStructured(raw, &out); err != nil {
		t.Fatalf("DecodeStructured() error = %v", err)
	}
	if out.Decision != "direct" {
		t.Errorf("Decision = %q, want \"direct\"", out.Decision)
	}
}

func TestDecodeStructured_BracesInsideStrings(t *testing.T) {
	raw := `prefix {"decision": "a } tricky { value", "confidence": 1} suffix`
	var out decodeTarget
	if err := DecodeStructured(raw, &out); err != nil {
		t.Fatalf("DecodeStructured() error = %v", err)
	}
	if out.Decision != "a } tricky { value" {
		t.Errorf("Decision = %q", out.Decision)
	}
}

func TestDecodeStructured_FencedBlock(t *testing.T) {
	raw := "Here you go:\n```json\n{\"decision\": \"plan\", \"confidence\": 0.55}\n```\n"
	var out decodeTarget
	if err := DecodeStructured(raw, &out); err != nil {
		t.Fatalf("DecodeStructured() error = %v", err)
	}
	if out.Decision != "plan" || out.Confidence != 0.55 {
		t.Errorf("decoded = %+v", out)
	}
}

func TestDecodeStructured_Array(t *testing.T) {
	var out []decodeTarget
	raw := `noise [{"decision": "x", "confidence": 0.1}] noise`
	if err := DecodeStructured(raw, &out); err != nil {
		t.Fatalf("DecodeStructured() error = %v", err)
	}
	if len(out) != 1 || out[0].Decision != "x" {
		t.Errorf("decoded = %+v", out)
	}
}

func TestDecodeStructured_Failure(t *testing.T) {
	var out decodeTarget
	if err := DecodeStructured("no json here at all", &out); err == nil {
		t.Error("DecodeStructured() should fail on prose")
	}
	if err := DecodeStructured("", &out); err == nil {
		t.Error("DecodeStructured() should fail on empty input")
	}
}

func TestUnwrapEnvelope_SingleKey(t *testing.T) {
	raw := json.RawMessage(`{"plan": {"decision": "inner"}}`)
	got := UnwrapEnvelope(raw, "plan", "executionPlan", "data")

	var out decodeTarget
	if err := json.Unmarshal(got, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.Decision != "inner" {
		t.Errorf("Decision = %q, want \"inner\"", out.Decision)
	}
}

func TestUnwrapEnvelope_CaseInsensitive(t *testing.T) {
	raw := json.RawMessage(`{"ExecutionPlan": {"decision": "inner"}}`)
	got := UnwrapEnvelope(raw, "executionPlan")

	var out decodeTarget
	if err := json.Unmarshal(got, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.Decision != "inner" {
		t.Errorf("Decision = %q, want \"inner\"", out.Decision)
	}
}

func TestUnwrapEnvelope_QuotedJSONString(t *testing.T) {
	raw := json.RawMessage(`"{\"decision\": \"inner\", \"confidence\": 0.3}"`)
	got := UnwrapEnvelope(raw, "plan")

	var out decodeTarget
	if err := json.Unmarshal(got, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.Decision != "inner" {
		t.Errorf("Decision = %q, want \"inner\"", out.Decision)
	}
}

func TestUnwrapEnvelope_SingleElementArrayEnvelope(t *testing.T) {
	raw := json.RawMessage(`[{"plan": {"decision": "inner"}}]`)
	got := UnwrapEnvelope(raw, "plan")

	var out decodeTarget
	if err := json.Unmarshal(got, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.Decision != "inner" {
		t.Errorf("Decision = %q, want \"inner\"", out.Decision)
	}
}

func TestUnwrapEnvelope_SingleElementPayloadArrayKept(t *testing.T) {
	// A lone payload object inside an array is not an envelope; the
	// caller may want the array itself.
	raw := json.RawMessage(`[{"decision": "inner"}]`)
	got := UnwrapEnvelope(raw, "plan")
	if string(got) != string(raw) {
		t.Errorf("UnwrapEnvelope() = %s, want unchanged", got)
	}
}

func TestUnwrapEnvelope_PassThrough(t *testing.T) {
	raw := json.RawMessage(`{"decision": "top", "confidence": 1}`)
	got := UnwrapEnvelope(raw, "plan")
	if string(got) != string(raw) {
		t.Errorf("UnwrapEnvelope() = %s, want unchanged", got)
	}
}
