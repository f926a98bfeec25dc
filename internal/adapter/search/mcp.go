package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

// MCPEngine calls the "search" tool of a DuckDuckGo MCP server behind an MCP gateway.
type MCPEngine struct {
	serverURL string
	toolName  string
}

var _ port.SearchEngine = (*MCPEngine)(nil)

// NewMCPEngine creates an engine for the streamable-HTTP MCP endpoint at serverURL.
func NewMCPEngine(serverURL string) *MCPEngine {
	return &MCPEngine{serverURL: serverURL, toolName: "search"}
}

// Name returns "mcp".
func (m *MCPEngine) Name() string { return "mcp" }

// Search opens a session, calls the search tool and parses its text listing.
func (m *MCPEngine) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	c, err := client.NewStreamableHttpClient(m.serverURL)
	if err != nil {
		return nil, fmt.Errorf("mcp search: create client: %w", err)
	}
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcp search: start: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "contextual-chat", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("mcp search: initialize: %w", err)
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = m.toolName
	callReq.Params.Arguments = map[string]interface{}{
		"query":       query,
		"max_results": limit,
	}
	res, err := c.CallTool(ctx, callReq)
	if err != nil {
		return nil, fmt.Errorf("mcp search: call tool: %w", err)
	}
	if res.IsError {
		return nil, fmt.Errorf("mcp search: tool error: %s", toolText(res))
	}

	results := parseMCPListing(toolText(res))
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func toolText(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var listingItem = regexp.MustCompile(`(?m)^\s*\d+\.\s+`)

// parseMCPListing reads blocks of the form
//
//	1. Title
//	   URL: https://...
//	   Summary: ...
func parseMCPListing(text string) []domain.SearchResult {
	locs := listingItem.FindAllStringIndex(text, -1)
	var results []domain.SearchResult
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		block := text[loc[1]:end]

		lines := strings.Split(block, "\n")
		r := domain.SearchResult{Title: strings.TrimSpace(lines[0]), Source: "duckduckgo"}
		var summary []string
		inSummary := false
		for _, line := range lines[1:] {
			trimmed := strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(trimmed, "URL:"):
				r.URL = strings.TrimSpace(strings.TrimPrefix(trimmed, "URL:"))
				inSummary = false
			case strings.HasPrefix(trimmed, "Summary:"):
				summary = append(summary, strings.TrimSpace(strings.TrimPrefix(trimmed, "Summary:")))
				inSummary = true
			case inSummary && trimmed != "":
				summary = append(summary, trimmed)
			}
		}
		r.Snippet = strings.Join(summary, " ")
		results = append(results, r)
	}
	return results
}
