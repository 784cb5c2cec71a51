package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	protocolVersion = "2024-11-05"

	// PatternURIPrefix marks resources that carry command patterns.
	PatternURIPrefix = "pattern://"
)

// MCPSource adapts an MCP server into a Source. The transport is
// in-process: the servers in this package run inside the same binary,
// but speak the same protocol an external server would.
type MCPSource struct {
	name string
	cli  *client.Client
}

// NewInProcessSource connects to an in-process MCP server and completes
// the initialize handshake.
func NewInProcessSource(ctx context.Context, name string, srv *server.MCPServer) (*MCPSource, error) {
	cli, err := client.NewInProcessClient(srv)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %q: %w", name, err)
	}

	if err := cli.Start(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to start client for %q: %w", name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "conductor",
		Version: "1.0.0",
	}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := cli.Initialize(ctx, initReq); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to initialize %q: %w", name, err)
	}

	return &MCPSource{name: name, cli: cli}, nil
}

func (s *MCPSource) Name() string {
	return s.name
}

func (s *MCPSource) ListTools(ctx context.Context) ([]ToolInfo, error) {
	resp, err := s.cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("tools/list failed: %w", err)
	}

	infos := make([]ToolInfo, 0, len(resp.Tools))
	for _, tool := range resp.Tools {
		infos = append(infos, ToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			Server:      s.name,
			Schema:      convertSchema(tool.InputSchema),
		})
	}
	return infos, nil
}

// convertSchema round-trips the protocol schema into a plain map.
func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

func (s *MCPSource) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := s.cli.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("tools/call %q failed: %w", name, err)
	}

	var texts []string
	for _, content := range resp.Content {
		if text, ok := content.(mcp.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}
	joined := strings.Join(texts, "\n")

	if resp.IsError {
		if joined == "" {
			joined = "unknown error"
		}
		return "", fmt.Errorf("tool %q: %s", name, joined)
	}
	return joined, nil
}

func (s *MCPSource) ListPatternResources(ctx context.Context) ([]string, error) {
	resp, err := s.cli.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		// Sources without the resource capability simply serve no
		// patterns.
		slog.Debug("resources/list unavailable", "source", s.name, "error", err)
		return nil, nil
	}

	var docs []string
	for _, res := range resp.Resources {
		if !strings.HasPrefix(res.URI, PatternURIPrefix) {
			continue
		}
		readReq := mcp.ReadResourceRequest{}
		readReq.Params.URI = res.URI

		contents, err := s.cli.ReadResource(ctx, readReq)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", res.URI, err)
		}
		for _, content := range contents.Contents {
			if text, ok := content.(mcp.TextResourceContents); ok {
				docs = append(docs, text.Text)
			}
		}
	}
	return docs, nil
}

func (s *MCPSource) Close() error {
	return s.cli.Close()
}

var _ Source = (*MCPSource)(nil)
