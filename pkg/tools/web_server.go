package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kadirpekel/conductor/pkg/httpx"
)

// WebConfig configures the web tool server.
type WebConfig struct {
	Timeout         time.Duration `yaml:"timeout,omitempty"`
	MaxResponseSize int64         `yaml:"max_response_size,omitempty"`
	MaxContentChars int           `yaml:"max_content_chars,omitempty"`
	UserAgent       string        `yaml:"user_agent,omitempty"`
}

func (c *WebConfig) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxResponseSize <= 0 {
		c.MaxResponseSize = 1 << 20
	}
	if c.MaxContentChars <= 0 {
		c.MaxContentChars = 8000
	}
	if c.UserAgent == "" {
		c.UserAgent = "conductor/1.0"
	}
}

// validateScrapeURL rejects URLs that could reach internal services.
func validateScrapeURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q: only http and https are allowed", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, fmt.Errorf("url has no host")
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return nil, fmt.Errorf("access to localhost is not allowed")
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return nil, fmt.Errorf("access to internal address %s is not allowed", host)
		}
	}
	return parsed, nil
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe  = regexp.MustCompile(`[ \t]+`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// htmlToText is a rough extraction: good enough for feeding a model, not
// a rendering engine.
func htmlToText(html string) string {
	text := scriptRe.ReplaceAllString(html, " ")
	text = tagRe.ReplaceAllString(text, "\n")
	text = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	).Replace(text)
	text = spaceRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return blankRe.ReplaceAllString(strings.Join(kept, "\n"), "\n\n")
}

// NewWebServer builds the MCP server exposing scrape_url.
func NewWebServer(cfg WebConfig) *server.MCPServer {
	cfg.SetDefaults()

	httpClient := httpx.New(
		httpx.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)

	s := server.NewMCPServer("conductor-web", "1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.AddTool(mcp.NewTool("scrape_url",
		mcp.WithDescription("Fetch a public web page and return its readable text content."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Absolute http(s) URL of the page to fetch"),
		),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		parsed, err := validateScrapeURL(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to build request: %v", err)), nil
		}
		httpReq.Header.Set("User-Agent", cfg.UserAgent)
		httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

		resp, err := httpClient.Do(httpReq)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("fetch failed: %v", err)), nil
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return mcp.NewToolResultError(fmt.Sprintf("fetch failed: HTTP %d", resp.StatusCode)), nil
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, cfg.MaxResponseSize))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read response: %v", err)), nil
		}

		text := string(body)
		if strings.Contains(resp.Header.Get("Content-Type"), "html") {
			text = htmlToText(text)
		}
		if len(text) > cfg.MaxContentChars {
			text = text[:cfg.MaxContentChars] + "\n... (content truncated)"
		}
		return mcp.NewToolResultText(text), nil
	})

	return s
}
