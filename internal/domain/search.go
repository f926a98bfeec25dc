package domain

// SearchResult is a single hit returned by a web search engine.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
}

// Valid reports whether the result carries a title, url and snippet.
func (r SearchResult) Valid() bool {
	return r.Title != "" && r.URL != "" && r.Snippet != ""
}

// Citation types.
const (
	CitationWeb = "web"
	CitationRAG = "rag"
)

// Citation describes a context source shown to the client alongside the answer.
type Citation struct {
	Type       string  `json:"type"`
	Title      string  `json:"title,omitempty"`
	URL        string  `json:"url,omitempty"`
	Snippet    string  `json:"snippet,omitempty"`
	Source     string  `json:"source,omitempty"`
	DocumentID string  `json:"document_id,omitempty"`
	ChunkIndex *int    `json:"chunk_index,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
}
