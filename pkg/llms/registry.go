package llms

import (
	"context"
	"fmt"

	"github.com/kadirpekel/conductor/pkg/registry"
)

// Provider is the language-model capability port. Implementations live
// behind this interface; the orchestrator never talks to a backend
// directly.
type Provider interface {
	// Generate performs a non-streaming request and returns the text.
	Generate(ctx context.Context, messages []Message) (string, Usage, error)

	// GenerateStreaming returns a channel of chunks: zero or more text
	// chunks followed by exactly one usage chunk (or an error chunk).
	GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error)

	// GenerateStructured constrains the output to the given schema.
	GenerateStructured(ctx context.Context, messages []Message, cfg *StructuredOutputConfig) (string, Usage, error)

	GetModelName() string

	Close() error
}

// Registry holds named providers. The orchestrator registers two tiers:
// "fast" for the classifier and evaluators, "primary" for planning and
// responding.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

func (r *Registry) RegisterProvider(name string, provider Provider) error {
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if provider == nil {
		return fmt.Errorf("provider cannot be nil")
	}
	return r.Register(name, provider)
}

func (r *Registry) Close() error {
	var firstErr error
	for _, provider := range r.List() {
		if err := provider.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
