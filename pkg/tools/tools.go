// Package tools exposes the tool layer: in-process MCP servers for
// commands, web access, search, document retrieval and conversation
// memory, plus the registry that validates and dispatches calls.
package tools

import (
	"context"
)

// ToolInfo describes one callable tool as advertised by its source.
type ToolInfo struct {
	// Name is the tool name, unique across all sources.
	Name string `json:"name"`

	// Description is the model-facing summary.
	Description string `json:"description"`

	// Server is the source that serves this tool. It doubles as the tool
	// type in event toolIds.
	Server string `json:"server"`

	// Schema is the JSON schema of the tool's arguments.
	Schema map[string]any `json:"schema,omitempty"`
}

// Source serves a set of tools and, optionally, command pattern
// resources.
type Source interface {
	// Name identifies the source.
	Name() string

	// ListTools returns the tools this source serves.
	ListTools(ctx context.Context) ([]ToolInfo, error)

	// CallTool invokes a tool and returns its text output. A tool-level
	// failure (isError result) comes back as an error.
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)

	// ListPatternResources returns the raw JSON documents of every
	// pattern:// resource the source serves.
	ListPatternResources(ctx context.Context) ([]string, error)

	Close() error
}
