package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

// DuckDuckGoEngine scrapes the DuckDuckGo HTML endpoint. It needs no credentials and
// serves as the always-available fallback engine.
type DuckDuckGoEngine struct {
	BaseURL    string
	httpClient *http.Client
}

var _ port.SearchEngine = (*DuckDuckGoEngine)(nil)

// NewDuckDuckGoEngine creates the engine using the given client.
func NewDuckDuckGoEngine(client *http.Client) *DuckDuckGoEngine {
	return &DuckDuckGoEngine{BaseURL: "https://html.duckduckgo.com/html/", httpClient: client}
}

// Name returns "duckduckgo".
func (d *DuckDuckGoEngine) Name() string { return "duckduckgo" }

// Search queries DuckDuckGo and parses the result list.
func (d *DuckDuckGoEngine) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("duckduckgo API error (%d): %s", resp.StatusCode, string(body))
	}

	results, err := parseDuckDuckGoHTML(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: parse: %w", err)
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// parseDuckDuckGoHTML pairs every result__a link with the result__snippet that follows it.
func parseDuckDuckGoHTML(r io.Reader) ([]domain.SearchResult, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var results []domain.SearchResult
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				results = append(results, domain.SearchResult{
					Title:  strings.TrimSpace(textContent(n)),
					URL:    resolveRedirect(attr(n, "href")),
					Source: "duckduckgo",
				})
				return
			case hasClass(n, "result__snippet"):
				if len(results) > 0 && results[len(results)-1].Snippet == "" {
					results[len(results)-1].Snippet = strings.Join(strings.Fields(textContent(n)), " ")
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

// resolveRedirect unwraps DuckDuckGo's //duckduckgo.com/l/?uddg=<target> links.
func resolveRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, f := range strings.Fields(attr(n, "class")) {
		if f == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
