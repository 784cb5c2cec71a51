package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kadirpekel/conductor/pkg/httpx"
)

// SearchConfig configures the web search tool server. BaseURL points at a
// SearxNG-compatible instance with the JSON format enabled.
type SearchConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	MaxResults int           `yaml:"max_results,omitempty"`
}

func (c *SearchConfig) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 10
	}
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// NewSearchServer builds the MCP server exposing web_search.
func NewSearchServer(cfg SearchConfig) *server.MCPServer {
	cfg.SetDefaults()

	httpClient := httpx.New(
		httpx.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)

	s := server.NewMCPServer("conductor-search", "1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.AddTool(mcp.NewTool("web_search",
		mcp.WithDescription("Search the web and return titles, URLs and snippets."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
		),
		mcp.WithNumber("count",
			mcp.Description("Maximum number of results (default 5)"),
		),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if cfg.BaseURL == "" {
			return mcp.NewToolResultError("search backend is not configured (search.base_url)"), nil
		}

		count := req.GetInt("count", 5)
		if count <= 0 {
			count = 5
		}
		if count > cfg.MaxResults {
			count = cfg.MaxResults
		}

		endpoint := strings.TrimSuffix(cfg.BaseURL, "/") + "/search?" + url.Values{
			"q":      {query},
			"format": {"json"},
		}.Encode()

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to build request: %v", err)), nil
		}

		resp, err := httpClient.Do(httpReq)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: HTTP %d", resp.StatusCode)), nil
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read response: %v", err)), nil
		}

		var parsed searchResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("unexpected search response: %v", err)), nil
		}
		if len(parsed.Results) == 0 {
			return mcp.NewToolResultText("No results found."), nil
		}

		var out strings.Builder
		for i, result := range parsed.Results {
			if i >= count {
				break
			}
			fmt.Fprintf(&out, "%d. %s\n   %s\n", i+1, result.Title, result.URL)
			if result.Content != "" {
				fmt.Fprintf(&out, "   %s\n", result.Content)
			}
		}
		return mcp.NewToolResultText(out.String()), nil
	})

	return s
}
