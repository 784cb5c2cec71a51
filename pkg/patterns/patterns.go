// Package patterns implements the precheck tier of the router: regex
// command patterns served by tool servers, matched against user input
// before any model is consulted.
package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
)

// MinConfidence is the floor below which a pattern match falls through
// to the classifier.
const MinConfidence = 0.8

// CommandPattern is one dispatchable phrasing, as advertised by a tool
// server's pattern:// resource.
type CommandPattern struct {
	ID               string         `json:"id"`
	Pattern          string         `json:"pattern"`
	Flags            string         `json:"flags,omitempty"`
	Tool             string         `json:"tool"`
	ParameterMapping map[string]int `json:"parameterMapping,omitempty"`
	Description      string         `json:"description,omitempty"`
	Examples         []string       `json:"examples,omitempty"`
	Confidence       float64        `json:"confidence"`
}

// Match is a winning precheck result: the tool to call and the
// parameters captured from the input.
type Match struct {
	PatternID  string
	Tool       string
	Parameters map[string]any
	Confidence float64
}

type compiledPattern struct {
	CommandPattern
	re *regexp.Regexp
}

// Registry holds the process-wide pattern set. Reads vastly outnumber
// refreshes, so the compiled slice is swapped atomically and read
// lock-free.
type Registry struct {
	patterns atomic.Pointer[[]compiledPattern]
}

func NewRegistry() *Registry {
	r := &Registry{}
	empty := make([]compiledPattern, 0)
	r.patterns.Store(&empty)
	return r
}

// PatternProvider is the slice of the tool registry the pattern loader
// needs.
type PatternProvider interface {
	PatternResources(ctx context.Context) ([]string, error)
}

// Refresh reloads patterns from every tool server and atomically replaces
// the active set. The previous set stays live until the swap.
func (r *Registry) Refresh(ctx context.Context, provider PatternProvider) error {
	docs, err := provider.PatternResources(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect pattern resources: %w", err)
	}
	return r.Load(docs)
}

// Load parses and compiles pattern documents. Each document may hold one
// pattern object or an array. Invalid entries are skipped with a warning;
// one bad server must not take down precheck.
func (r *Registry) Load(docs []string) error {
	var compiled []compiledPattern
	for _, doc := range docs {
		parsed, err := parseDoc(doc)
		if err != nil {
			slog.Warn("Skipping unparseable pattern document", "error", err)
			continue
		}
		for _, p := range parsed {
			cp, err := compile(p)
			if err != nil {
				slog.Warn("Skipping invalid pattern", "id", p.ID, "error", err)
				continue
			}
			compiled = append(compiled, cp)
		}
	}

	// Deterministic match order: highest confidence first.
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Confidence > compiled[j].Confidence
	})

	r.patterns.Store(&compiled)
	slog.Debug("Loaded command patterns", "count", len(compiled))
	return nil
}

func parseDoc(doc string) ([]CommandPattern, error) {
	trimmed := strings.TrimSpace(doc)
	if strings.HasPrefix(trimmed, "[") {
		var list []CommandPattern
		if err := json.Unmarshal([]byte(trimmed), &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var single CommandPattern
	if err := json.Unmarshal([]byte(trimmed), &single); err != nil {
		return nil, err
	}
	return []CommandPattern{single}, nil
}

func compile(p CommandPattern) (compiledPattern, error) {
	if p.Pattern == "" {
		return compiledPattern{}, fmt.Errorf("pattern source is empty")
	}
	if p.Tool == "" {
		return compiledPattern{}, fmt.Errorf("pattern %q names no tool", p.ID)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return compiledPattern{}, fmt.Errorf("pattern %q confidence %f out of range", p.ID, p.Confidence)
	}

	source := p.Pattern
	if flags := inlineFlags(p.Flags); flags != "" {
		source = flags + source
	}
	re, err := regexp.Compile(source)
	if err != nil {
		return compiledPattern{}, fmt.Errorf("pattern %q does not compile: %w", p.ID, err)
	}
	return compiledPattern{CommandPattern: p, re: re}, nil
}

func inlineFlags(flags string) string {
	var enabled []rune
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			enabled = append(enabled, f)
		}
	}
	if len(enabled) == 0 {
		return ""
	}
	return "(?" + string(enabled) + ")"
}

// Patterns returns the active set, best confidence first.
func (r *Registry) Patterns() []CommandPattern {
	active := *r.patterns.Load()
	out := make([]CommandPattern, len(active))
	for i, cp := range active {
		out[i] = cp.CommandPattern
	}
	return out
}

// Match runs the input against every active pattern and returns the
// highest-confidence hit at or above MinConfidence. Parameters are
// filled from the capture group mapping.
func (r *Registry) Match(input string) (Match, bool) {
	trimmed := strings.TrimSpace(input)
	for _, cp := range *r.patterns.Load() {
		if cp.Confidence < MinConfidence {
			// The set is sorted; everything after is below the floor.
			break
		}
		groups := cp.re.FindStringSubmatch(trimmed)
		if groups == nil {
			continue
		}

		params := make(map[string]any, len(cp.ParameterMapping))
		for name, idx := range cp.ParameterMapping {
			if idx >= 0 && idx < len(groups) {
				params[name] = groups[idx]
			}
		}
		return Match{
			PatternID:  cp.ID,
			Tool:       cp.Tool,
			Parameters: params,
			Confidence: cp.Confidence,
		}, true
	}
	return Match{}, false
}
