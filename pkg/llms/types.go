// Package llms defines the language-model capability port and its
// OpenAI-compatible implementation.
package llms

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/conductor/pkg/protocol"
)

// Message is one LLM-visible turn.
type Message struct {
	Role    protocol.Role `json:"role"`
	Content string        `json:"content"`
}

// Usage reports token consumption for one request.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// StreamChunk is one element of a streaming response.
type StreamChunk struct {
	Type  string // "text", "usage" or "error"
	Text  string
	Usage *Usage
	Error error
}

const (
	ChunkTypeText  = "text"
	ChunkTypeUsage = "usage"
	ChunkTypeError = "error"
)

// StructuredOutputConfig constrains a generation to a JSON schema.
type StructuredOutputConfig struct {
	// Name labels the schema for providers that require one.
	Name string

	// Schema is the JSON schema the output must satisfy.
	Schema json.RawMessage

	// Strict requests provider-side schema enforcement when available.
	Strict bool
}

// SchemaFor reflects a JSON schema from a Go value for structured output.
func SchemaFor(v any) (json.RawMessage, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}
