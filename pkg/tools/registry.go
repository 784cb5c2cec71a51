package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kadirpekel/conductor/pkg/events"
)

// DefaultCallTimeout bounds a single tool invocation.
const DefaultCallTimeout = 60 * time.Second

// Registry aggregates tool sources, validates arguments against each
// tool's schema and publishes lifecycle events around every call.
type Registry struct {
	callTimeout time.Duration

	mu      sync.RWMutex
	sources map[string]Source
	byTool  map[string]Source
	infos   map[string]ToolInfo
	schemas map[string]*jsonschema.Schema
}

func NewRegistry(callTimeout time.Duration) *Registry {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Registry{
		callTimeout: callTimeout,
		sources:     make(map[string]Source),
		byTool:      make(map[string]Source),
		infos:       make(map[string]ToolInfo),
		schemas:     make(map[string]*jsonschema.Schema),
	}
}

// AddSource registers a source and indexes its tools. Tool names must be
// unique across sources. Schemas that fail to compile disable validation
// for that tool only.
func (r *Registry) AddSource(ctx context.Context, src Source) error {
	infos, err := src.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tools from %q: %w", src.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[src.Name()]; exists {
		return fmt.Errorf("source %q already registered", src.Name())
	}
	for _, info := range infos {
		if existing, taken := r.byTool[info.Name]; taken {
			return fmt.Errorf("tool %q from %q conflicts with source %q",
				info.Name, src.Name(), existing.Name())
		}
	}

	r.sources[src.Name()] = src
	for _, info := range infos {
		info.Server = src.Name()
		r.byTool[info.Name] = src
		r.infos[info.Name] = info
		if schema := compileSchema(info); schema != nil {
			r.schemas[info.Name] = schema
		}
	}
	return nil
}

func compileSchema(info ToolInfo) *jsonschema.Schema {
	if len(info.Schema) == 0 {
		return nil
	}
	raw, err := json.Marshal(info.Schema)
	if err != nil {
		return nil
	}
	schema, err := jsonschema.CompileString(info.Name+".json", string(raw))
	if err != nil {
		return nil
	}
	return schema
}

// List returns every registered tool, sorted by name.
func (r *Registry) List() []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolInfo, 0, len(r.infos))
	for _, info := range r.infos {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a tool's info by name.
func (r *Registry) Get(name string) (ToolInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.infos[name]
	return info, ok
}

// ValidateArgs checks args against the tool's schema. Tools without a
// compiled schema accept anything.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()

	if schema == nil {
		return nil
	}

	// Round-trip so nested values take the generic shapes the validator
	// expects.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("arguments for %q are not serializable: %w", name, err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("arguments for %q are not serializable: %w", name, err)
	}
	if err := schema.Validate(generic); err != nil {
		return fmt.Errorf("invalid arguments for %q: %w", name, err)
	}
	return nil
}

// Call validates and dispatches one tool invocation, publishing the
// start/complete/error lifecycle on pub when it is non-nil.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any, pub *events.Publisher) (string, error) {
	r.mu.RLock()
	src := r.byTool[name]
	r.mu.RUnlock()

	if src == nil {
		return "", fmt.Errorf("unknown tool: %q", name)
	}

	// Validation happens before the lifecycle opens: a call rejected here
	// never emits tool_start.
	if err := r.ValidateArgs(name, args); err != nil {
		return "", err
	}

	var tp *events.ToolPublisher
	if pub != nil {
		tp = pub.Tool(src.Name(), name)
		tp.Start(ctx, args)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	started := time.Now()
	result, err := src.CallTool(callCtx, name, args)
	if err != nil {
		if tp != nil {
			tp.Error(ctx, err)
		}
		return "", err
	}

	if tp != nil {
		tp.Complete(ctx, map[string]any{
			"durationMs":  time.Since(started).Milliseconds(),
			"resultBytes": len(result),
		})
	}
	return result, nil
}

// PatternResources collects pattern documents from every source.
func (r *Registry) PatternResources(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	sources := make([]Source, 0, len(r.sources))
	for _, src := range r.sources {
		sources = append(sources, src)
	}
	r.mu.RUnlock()

	var docs []string
	for _, src := range sources {
		fromSource, err := src.ListPatternResources(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read patterns from %q: %w", src.Name(), err)
		}
		docs = append(docs, fromSource...)
	}
	return docs, nil
}

// Close closes every source.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, src := range r.sources {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close source %q: %w", name, err)
		}
	}
	r.sources = make(map[string]Source)
	r.byTool = make(map[string]Source)
	r.infos = make(map[string]ToolInfo)
	r.schemas = make(map[string]*jsonschema.Schema)
	return firstErr
}
