// Package graph is a small execution-graph runtime. Nodes are pure
// functions from state to a partial update; the scheduler merges each
// partial through per-channel reducers and follows a conditional edge to
// the next node, until the END label.
package graph

import (
	"context"
	"fmt"
	"log/slog"
)

// End is the sentinel edge label that terminates a run.
const End = "END"

// State is the accumulated channel values of one run. The scheduler owns
// it; nodes only read it and return partials.
type State map[string]any

// Clone returns a shallow copy.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Update applies one staged channel write during a merge.
type Update func(current any, exists bool) any

// Partial is a node's staged writes, keyed by channel name.
type Partial map[string]Update

// Node computes a partial update from the current state.
type Node func(ctx context.Context, s State) (Partial, error)

// Edge picks the label of the next node from the merged state.
type Edge func(s State) string

// Channel is a typed slot in the state with a merge reducer. Reads and
// writes go through the channel so values keep their static type.
type Channel[T any] struct {
	name   string
	reduce func(current T, incoming T) T
}

// NewChannel declares a replace-reducer channel: each write overwrites
// the previous value.
func NewChannel[T any](name string) Channel[T] {
	return Channel[T]{
		name:   name,
		reduce: func(_, incoming T) T { return incoming },
	}
}

// NewAppendChannel declares a list channel whose writes accumulate.
func NewAppendChannel[T any](name string) Channel[[]T] {
	return Channel[[]T]{
		name: name,
		reduce: func(current, incoming []T) []T {
			merged := make([]T, 0, len(current)+len(incoming))
			merged = append(merged, current...)
			return append(merged, incoming...)
		},
	}
}

func (c Channel[T]) Name() string {
	return c.name
}

// Get reads the channel's current value; the zero value when unset.
func (c Channel[T]) Get(s State) T {
	if v, ok := s[c.name]; ok {
		if typed, ok := v.(T); ok {
			return typed
		}
	}
	var zero T
	return zero
}

// Set stages a write into a partial, carrying the channel's reducer.
func (c Channel[T]) Set(p Partial, value T) {
	p[c.name] = func(current any, exists bool) any {
		if !exists {
			var zero T
			return c.reduce(zero, value)
		}
		typed, ok := current.(T)
		if !ok {
			var zero T
			typed = zero
		}
		return c.reduce(typed, value)
	}
}

// Graph is an immutable node/edge table built once at startup.
type Graph struct {
	nodes    map[string]Node
	edges    map[string]Edge
	entry    string
	maxSteps int
}

// Builder accumulates graph structure; Build validates it.
type Builder struct {
	nodes    map[string]Node
	edges    map[string]Edge
	entry    string
	maxSteps int
	err      error
}

func NewBuilder() *Builder {
	return &Builder{
		nodes:    make(map[string]Node),
		edges:    make(map[string]Edge),
		maxSteps: 100,
	}
}

func (b *Builder) AddNode(name string, node Node) *Builder {
	if _, exists := b.nodes[name]; exists {
		b.err = fmt.Errorf("node %q already registered", name)
		return b
	}
	b.nodes[name] = node
	return b
}

// AddEdge wires an unconditional transition.
func (b *Builder) AddEdge(from, to string) *Builder {
	return b.AddConditionalEdge(from, func(State) string { return to })
}

// AddConditionalEdge wires a state-dependent transition.
func (b *Builder) AddConditionalEdge(from string, edge Edge) *Builder {
	if _, exists := b.edges[from]; exists {
		b.err = fmt.Errorf("edge from %q already registered", from)
		return b
	}
	b.edges[from] = edge
	return b
}

func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// SetMaxSteps bounds a run; a graph that never reaches END is a bug, not
// a workload.
func (b *Builder) SetMaxSteps(n int) *Builder {
	if n > 0 {
		b.maxSteps = n
	}
	return b
}

func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.entry == "" {
		return nil, fmt.Errorf("graph has no entry node")
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, fmt.Errorf("entry node %q is not registered", b.entry)
	}
	for from := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("edge from unknown node %q", from)
		}
	}
	return &Graph{
		nodes:    b.nodes,
		edges:    b.edges,
		entry:    b.entry,
		maxSteps: b.maxSteps,
	}, nil
}

// Run executes the graph from its entry node over a copy of initial and
// returns the final state. Node errors and cancellation abort the run.
func (g *Graph) Run(ctx context.Context, initial State) (State, error) {
	state := initial.Clone()
	if state == nil {
		state = State{}
	}

	current := g.entry
	for step := 0; step < g.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		node, ok := g.nodes[current]
		if !ok {
			return state, fmt.Errorf("transition to unknown node %q", current)
		}

		partial, err := node(ctx, state)
		if err != nil {
			return state, fmt.Errorf("node %q failed: %w", current, err)
		}
		for name, update := range partial {
			value, exists := state[name]
			state[name] = update(value, exists)
		}

		edge, ok := g.edges[current]
		if !ok {
			return state, nil
		}
		next := edge(state)
		slog.Debug("Graph transition", "from", current, "to", next, "step", step)
		if next == End {
			return state, nil
		}
		current = next
	}
	return state, fmt.Errorf("graph exceeded %d steps without reaching END", g.maxSteps)
}
