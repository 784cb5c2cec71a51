package graph

import (
	"context"
	"fmt"
	"testing"
)

var (
	counterCh = NewChannel[int]("counter")
	logCh     = NewAppendChannel[string]("log")
	routeCh   = NewChannel[string]("route")
)

func TestChannel_ReplaceReducer(t *testing.T) {
	state := State{}
	p := Partial{}
	counterCh.Set(p, 1)
	for name, update := range p {
		v, ok := state[name]
		state[name] = update(v, ok)
	}

	p = Partial{}
	counterCh.Set(p, 5)
	for name, update := range p {
		v, ok := state[name]
		state[name] = update(v, ok)
	}

	if got := counterCh.Get(state); got != 5 {
		t.Errorf("Get() = %d, want 5", got)
	}
}

func TestChannel_AppendReducer(t *testing.T) {
	state := State{}
	for _, entry := range []string{"a", "b", "c"} {
		p := Partial{}
		logCh.Set(p, []string{entry})
		for name, update := range p {
			v, ok := state[name]
			state[name] = update(v, ok)
		}
	}

	got := logCh.Get(state)
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("Get() = %v", got)
	}
}

func TestChannel_ZeroValueWhenUnset(t *testing.T) {
	if got := counterCh.Get(State{}); got != 0 {
		t.Errorf("Get() on empty state = %d", got)
	}
}

func TestGraph_LinearRun(t *testing.T) {
	appendLog := func(entry string) Node {
		return func(ctx context.Context, s State) (Partial, error) {
			p := Partial{}
			logCh.Set(p, []string{entry})
			return p, nil
		}
	}

	g, err := NewBuilder().
		AddNode("first", appendLog("first")).
		AddNode("second", appendLog("second")).
		AddEdge("first", "second").
		AddEdge("second", End).
		SetEntry("first").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	state, err := g.Run(context.Background(), State{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := logCh.Get(state)
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("log = %v", got)
	}
}

func TestGraph_ConditionalRouting(t *testing.T) {
	g, err := NewBuilder().
		AddNode("router", func(ctx context.Context, s State) (Partial, error) {
			p := Partial{}
			routeCh.Set(p, "right")
			return p, nil
		}).
		AddNode("left", func(ctx context.Context, s State) (Partial, error) {
			p := Partial{}
			logCh.Set(p, []string{"left"})
			return p, nil
		}).
		AddNode("right", func(ctx context.Context, s State) (Partial, error) {
			p := Partial{}
			logCh.Set(p, []string{"right"})
			return p, nil
		}).
		AddConditionalEdge("router", func(s State) string { return routeCh.Get(s) }).
		AddEdge("left", End).
		AddEdge("right", End).
		SetEntry("router").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	state, err := g.Run(context.Background(), State{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := logCh.Get(state)
	if len(got) != 1 || got[0] != "right" {
		t.Errorf("log = %v", got)
	}
}

func TestGraph_LoopWithCounter(t *testing.T) {
	g, err := NewBuilder().
		AddNode("tick", func(ctx context.Context, s State) (Partial, error) {
			p := Partial{}
			counterCh.Set(p, counterCh.Get(s)+1)
			return p, nil
		}).
		AddConditionalEdge("tick", func(s State) string {
			if counterCh.Get(s) >= 3 {
				return End
			}
			return "tick"
		}).
		SetEntry("tick").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	state, err := g.Run(context.Background(), State{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := counterCh.Get(state); got != 3 {
		t.Errorf("counter = %d, want 3", got)
	}
}

func TestGraph_NodeErrorAbortsRun(t *testing.T) {
	g, err := NewBuilder().
		AddNode("boom", func(ctx context.Context, s State) (Partial, error) {
			return nil, fmt.Errorf("deliberate failure")
		}).
		AddEdge("boom", End).
		SetEntry("boom").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, err := g.Run(context.Background(), State{}); err == nil {
		t.Error("Run() should surface node errors")
	}
}

func TestGraph_CancellationStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	steps := 0
	g, err := NewBuilder().
		AddNode("spin", func(ctx context.Context, s State) (Partial, error) {
			steps++
			if steps == 2 {
				cancel()
			}
			return Partial{}, nil
		}).
		AddConditionalEdge("spin", func(s State) string { return "spin" }).
		SetEntry("spin").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, err := g.Run(ctx, State{}); err == nil {
		t.Error("Run() should return the cancellation error")
	}
	if steps > 3 {
		t.Errorf("ran %d steps after cancellation", steps)
	}
}

func TestGraph_StepBoundTripsOnInfiniteLoop(t *testing.T) {
	g, err := NewBuilder().
		AddNode("spin", func(ctx context.Context, s State) (Partial, error) {
			return Partial{}, nil
		}).
		AddConditionalEdge("spin", func(s State) string { return "spin" }).
		SetEntry("spin").
		SetMaxSteps(10).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, err := g.Run(context.Background(), State{}); err == nil {
		t.Error("Run() should fail when the step bound is exceeded")
	}
}

func TestBuilder_Validation(t *testing.T) {
	if _, err := NewBuilder().Build(); err == nil {
		t.Error("Build() without entry should fail")
	}

	_, err := NewBuilder().
		AddNode("a", func(ctx context.Context, s State) (Partial, error) { return nil, nil }).
		SetEntry("missing").
		Build()
	if err == nil {
		t.Error("Build() with unknown entry should fail")
	}

	_, err = NewBuilder().
		AddNode("a", func(ctx context.Context, s State) (Partial, error) { return nil, nil }).
		AddNode("a", nil).
		SetEntry("a").
		Build()
	if err == nil {
		t.Error("Build() with duplicate node should fail")
	}
}
