package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kadirpekel/conductor/pkg/rag"
)

// DefaultCollection is used when a RAG call names no collection.
const DefaultCollection = "documents"

// NewRAGServer builds the MCP server exposing document indexing and
// retrieval on top of a rag.Pipeline.
func NewRAGServer(pipeline *rag.Pipeline) *server.MCPServer {
	s := server.NewMCPServer("conductor-rag", "1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.AddTool(mcp.NewTool("add_document",
		mcp.WithDescription("Chunk, embed and index a document for later retrieval. "+
			"Re-adding a source replaces its previous content."),
		mcp.WithString("source", mcp.Required(),
			mcp.Description("Document identifier, e.g. a filename or URL")),
		mcp.WithString("content", mcp.Required(),
			mcp.Description("Full document text")),
		mcp.WithString("collection",
			mcp.Description("Target collection (default \"documents\")")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		source, err := req.RequireString("source")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		collection := req.GetString("collection", DefaultCollection)

		count, err := pipeline.AddDocument(ctx, collection, source, content, nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Indexed %q into %q as %d chunks.", source, collection, count)), nil
	})

	s.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Semantic search over indexed documents. Adjacent chunks of "+
			"the same source are merged back into contiguous text."),
		mcp.WithString("query", mcp.Required(),
			mcp.Description("Natural language query")),
		mcp.WithString("collection",
			mcp.Description("Collection to search (default \"documents\")")),
		mcp.WithNumber("topK",
			mcp.Description("Maximum chunks to retrieve (default 5)")),
		mcp.WithNumber("threshold",
			mcp.Description("Minimum similarity score in [0,1] (default 0.6)")),
		mcp.WithBoolean("merge",
			mcp.Description("Merge adjacent chunks per source (default true)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		collection := req.GetString("collection", DefaultCollection)

		opts := rag.SearchOptions{
			TopK:      req.GetInt("topK", 5),
			Threshold: float32(req.GetFloat("threshold", 0.6)),
			Merge:     req.GetBool("merge", true),
		}
		results, err := pipeline.Search(ctx, collection, query, opts)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(results) == 0 {
			return mcp.NewToolResultText("No matching documents."), nil
		}

		var out strings.Builder
		for i, result := range results {
			fmt.Fprintf(&out, "[%d] %s (score %.2f, %d chunks)\n%s\n\n",
				i+1, result.Source, result.AvgScore, result.MergedChunks, result.Content)
		}
		return mcp.NewToolResultText(strings.TrimSpace(out.String())), nil
	})

	s.AddTool(mcp.NewTool("delete_documents",
		mcp.WithDescription("Remove every chunk of a source from a collection."),
		mcp.WithString("source", mcp.Required(),
			mcp.Description("Document identifier used at add time")),
		mcp.WithString("collection",
			mcp.Description("Collection to delete from (default \"documents\")")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		source, err := req.RequireString("source")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		collection := req.GetString("collection", DefaultCollection)

		if err := pipeline.DeleteSource(ctx, collection, source); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Deleted %q from %q.", source, collection)), nil
	})

	s.AddTool(mcp.NewTool("list_collections",
		mcp.WithDescription("List the vector collections currently available."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		names, err := pipeline.ListCollections(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(names) == 0 {
			return mcp.NewToolResultText("No collections."), nil
		}
		return mcp.NewToolResultText(strings.Join(names, "\n")), nil
	})

	s.AddTool(mcp.NewTool("get_collection_stats",
		mcp.WithDescription("Report document counts for a collection."),
		mcp.WithString("collection",
			mcp.Description("Collection name (default \"documents\")")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		collection := req.GetString("collection", DefaultCollection)

		stats, err := pipeline.CollectionStats(ctx, collection)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		data, err := json.Marshal(stats)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})

	return s
}
