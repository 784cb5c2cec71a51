package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kadirpekel/conductor/pkg/memory"
)

// NewMemoryServer builds the MCP server exposing conversation history and
// summaries, so the model can consult memory like any other tool.
func NewMemoryServer(svc *memory.Service) *server.MCPServer {
	s := server.NewMCPServer("conductor-memory", "1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.AddTool(mcp.NewTool("get_context_history",
		mcp.WithDescription("Return the recent messages of a conversation, oldest first."),
		mcp.WithString("conversation_id", mcp.Required(),
			mcp.Description("Conversation to read")),
		mcp.WithNumber("limit",
			mcp.Description("Maximum messages to return (default 20)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conversationID, err := req.RequireString("conversation_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		limit := req.GetInt("limit", 20)

		messages, err := svc.History(ctx, conversationID, limit)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(messages) == 0 {
			return mcp.NewToolResultText("No messages in this conversation."), nil
		}

		var out strings.Builder
		for _, msg := range messages {
			fmt.Fprintf(&out, "%s: %s\n", msg.Role, msg.Content)
		}
		return mcp.NewToolResultText(strings.TrimSpace(out.String())), nil
	})

	s.AddTool(mcp.NewTool("get_summary",
		mcp.WithDescription("Return the executive summary of a conversation, if one exists."),
		mcp.WithString("conversation_id", mcp.Required(),
			mcp.Description("Conversation to summarize")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conversationID, err := req.RequireString("conversation_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		summary, err := svc.GetExecutiveSummary(ctx, conversationID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if summary == "" {
			return mcp.NewToolResultText("No summary available yet."), nil
		}
		return mcp.NewToolResultText(summary), nil
	})

	return s
}
