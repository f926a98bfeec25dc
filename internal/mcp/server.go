// Package mcp exposes web search and document retrieval as Model Context Protocol tools
// for external agents.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/middleware"
	"github.com/arturoeanton/go-chat-search-rag/internal/service"
)

const (
	ServerName    = "contextual-chat"
	ServerVersion = "1.0.0"

	maxToolLimit = 20
)

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(true),
}

// Server is the MCP tool server.
type Server struct {
	mcp    *mcpserver.MCPServer
	http   *mcpserver.StreamableHTTPServer
	search *service.SearchService
	rag    *service.RAGService
	audit  middleware.AuditWriter
	port   string
}

// NewServer creates the MCP server. audit may be nil.
func NewServer(search *service.SearchService, rag *service.RAGService, audit middleware.AuditWriter, port string) *Server {
	s := &Server{
		mcp:    mcpserver.NewMCPServer(ServerName, ServerVersion, mcpserver.WithToolCapabilities(false)),
		search: search,
		rag:    rag,
		audit:  audit,
		port:   port,
	}
	s.mcp.AddTool(webSearchTool(), s.handleWebSearch)
	s.mcp.AddTool(searchDocumentsTool(), s.handleSearchDocuments)
	s.http = mcpserver.NewStreamableHTTPServer(s.mcp)
	return s
}

// Start serves streamable HTTP on the configured port and blocks.
func (s *Server) Start() error {
	slog.Info("🔌 MCP server starting", "port", s.port, "tools", []string{"web_search", "search_documents"})
	return s.http.Start(":" + s.port)
}

// Shutdown stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func webSearchTool() mcp.Tool {
	return mcp.NewTool("web_search",
		mcp.WithDescription("Search the web across the configured engines. Returns deduplicated results with title, URL and snippet."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default 5)"),
		),
		mcp.WithString("engines",
			mcp.Description("Comma separated engine names, e.g. 'duckduckgo,brave'. Defaults to the configured selection."),
		),
		mcp.WithString("domain",
			mcp.Description("Only keep results whose URL contains this domain"),
		),
	)
}

func searchDocumentsTool() mcp.Tool {
	return mcp.NewTool("search_documents",
		mcp.WithDescription("Semantic search over a user's uploaded documents. Returns the most relevant chunks with similarity scores."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("owner",
			mcp.Required(),
			mcp.Description("Owner identity (email) of the documents"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language query"),
		),
		mcp.WithNumber("k",
			mcp.Description("Number of chunks to return (default 5)"),
		),
		mcp.WithString("conversation_id",
			mcp.Description("Restrict the search to one conversation's documents"),
		),
	)
}

// --- Handlers ---

func (s *Server) handleWebSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(req.GetString("query", ""))
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	limit := clampLimit(req.GetInt("limit", service.DefaultSearchLimit), service.DefaultSearchLimit)
	s.record("web_search", query)

	results := s.search.Search(ctx, service.SearchRequest{
		Query:        query,
		Limit:        limit,
		Engines:      splitList(req.GetString("engines", "")),
		DomainFilter: req.GetString("domain", ""),
	})
	if len(results) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No web results for %q.", query)), nil
	}
	return mcp.NewToolResultText(formatWebResults(query, results)), nil
}

func (s *Server) handleSearchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := strings.TrimSpace(req.GetString("owner", ""))
	query := strings.TrimSpace(req.GetString("query", ""))
	if owner == "" || query == "" {
		return mcp.NewToolResultError("owner and query are required"), nil
	}
	k := clampLimit(req.GetInt("k", 5), 5)
	s.record("search_documents", query)

	chunks, err := s.rag.Search(ctx, service.RAGRequest{
		Owner:          owner,
		ConversationID: req.GetString("conversation_id", ""),
		Query:          query,
	}, k)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(chunks) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No relevant document chunks for %q.", query)), nil
	}
	return mcp.NewToolResultText(formatChunks(query, chunks)), nil
}

func (s *Server) record(tool, query string) {
	if s.audit == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{"tool": tool, "query": query})
	go func() {
		if err := s.audit.WriteAudit("mcp", domain.AuditActionMCPCall, "mcp", tool, string(details), "", ""); err != nil {
			slog.Error("failed to write audit log", "error", err)
		}
	}()
}

// --- Formatting helpers ---

func formatWebResults(query string, results []domain.SearchResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Web results for %q (%d)\n\n", query, len(results))
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. **%s**\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
		if r.Source != "" {
			fmt.Fprintf(&sb, "   source: %s\n", r.Source)
		}
	}
	return sb.String()
}

func formatChunks(query string, chunks []domain.RetrievedChunk) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Document chunks for %q (%d)\n\n", query, len(chunks))
	for i, c := range chunks {
		fmt.Fprintf(&sb, "### %d. document %s, chunk %d (similarity %.3f)\n\n%s\n\n", i+1, c.DocumentID, c.ChunkIndex, c.Similarity, c.Content)
	}
	return sb.String()
}

func clampLimit(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	if n > maxToolLimit {
		return maxToolLimit
	}
	return n
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
