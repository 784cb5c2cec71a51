package llms

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a scriptable Provider used by tests across packages.
// Responses are consumed in order; when the script is exhausted the last
// response repeats.
type MockProvider struct {
	mu        sync.Mutex
	responses []string
	calls     []([]Message)
	streamErr error
	genErr    error
	model     string
}

func NewMockProvider(responses ...string) *MockProvider {
	return &MockProvider{
		responses: responses,
		model:     "mock-model",
	}
}

// SetError makes all generation calls fail with err.
func (p *MockProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.genErr = err
}

// Calls returns the message lists of every generation call so far.
func (p *MockProvider) Calls() [][]Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]Message, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *MockProvider) next(messages []Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, messages)
	if p.genErr != nil {
		return "", p.genErr
	}
	if len(p.responses) == 0 {
		return "", fmt.Errorf("mock provider has no scripted responses")
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

func (p *MockProvider) Generate(ctx context.Context, messages []Message) (string, Usage, error) {
	text, err := p.next(messages)
	if err != nil {
		return "", Usage{}, err
	}
	return text, Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}, nil
}

func (p *MockProvider) GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	text, err := p.next(messages)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		// Emit the response word-ish at a time to exercise consumers.
		const step = 8
		for i := 0; i < len(text); i += step {
			end := i + step
			if end > len(text) {
				end = len(text)
			}
			select {
			case out <- StreamChunk{Type: ChunkTypeText, Text: text[i:end]}:
			case <-ctx.Done():
				return
			}
		}
		usage := Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}
		out <- StreamChunk{Type: ChunkTypeUsage, Usage: &usage}
	}()
	return out, nil
}

func (p *MockProvider) GenerateStructured(ctx context.Context, messages []Message, cfg *StructuredOutputConfig) (string, Usage, error) {
	return p.Generate(ctx, messages)
}

func (p *MockProvider) GetModelName() string {
	return p.model
}

func (p *MockProvider) Close() error {
	return nil
}
