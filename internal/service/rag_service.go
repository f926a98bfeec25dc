package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

const (
	ragFallbackChunks = 5
	ragSnippetRunes   = 200

	noticeRAGEmbedFailed = "(RAG embedding failed. Answering based on conversation history.)\n\n"
	noticeRAGNoDocuments = "(No relevant documents found. Answering based on conversation history.)\n\n"
)

// RAGRequest scopes a retrieval to a principal and optionally one conversation.
type RAGRequest struct {
	Owner          string
	ConversationID string
	Query          string
}

// RAGContext is the retrieval outcome ready to be spliced into a prompt.
type RAGContext struct {
	Block  string // prepended to the user turn; a notice when nothing was found
	Chunks []domain.RetrievedChunk
}

// Found reports whether any chunk contributed context.
func (c RAGContext) Found() bool { return len(c.Chunks) > 0 }

// Citations lists the chunks used as "rag" citation items.
func (c RAGContext) Citations() []domain.Citation {
	items := make([]domain.Citation, len(c.Chunks))
	for i, ch := range c.Chunks {
		idx := ch.ChunkIndex
		items[i] = domain.Citation{
			Type:       domain.CitationRAG,
			DocumentID: ch.DocumentID,
			ChunkIndex: &idx,
			Snippet:    truncateRunes(ch.Content, ragSnippetRunes),
			Similarity: ch.Similarity,
		}
	}
	return items
}

// RAGService embeds the query, runs the retrieval engine and formats the context block.
// When no embedding is ready yet it degrades to the newest document's leading chunks.
type RAGService struct {
	embedder  port.Embedder
	retriever *Retriever
	store     port.DocumentStore
	topK      int
	threshold float64
}

// NewRAGService creates a new RAG service.
func NewRAGService(embedder port.Embedder, store port.DocumentStore, topK int, threshold float64) *RAGService {
	if topK <= 0 {
		topK = 5
	}
	return &RAGService{
		embedder:  embedder,
		retriever: NewRetriever(store),
		store:     store,
		topK:      topK,
		threshold: threshold,
	}
}

// Search returns the ranked chunks for a query without the fallback path.
func (s *RAGService) Search(ctx context.Context, req RAGRequest, k int) ([]domain.RetrievedChunk, error) {
	if k <= 0 {
		k = s.topK
	}
	embedding, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embedding) == 0 {
		return nil, port.ErrEmptyEmbedding
	}
	return s.retriever.Retrieve(ctx, RetrievalQuery{
		Owner:          req.Owner,
		ConversationID: req.ConversationID,
		Embedding:      embedding,
		TopK:           k,
		Threshold:      s.threshold,
	})
}

// BuildContext never fails: embedding or store errors turn into a notice for the model.
func (s *RAGService) BuildContext(ctx context.Context, req RAGRequest) RAGContext {
	embedding, err := s.embedder.Embed(ctx, req.Query)
	if err != nil || len(embedding) == 0 {
		slog.Warn("RAG query embedding failed", "error", err)
		return RAGContext{Block: noticeRAGEmbedFailed}
	}

	chunks, err := s.retriever.Retrieve(ctx, RetrievalQuery{
		Owner:          req.Owner,
		ConversationID: req.ConversationID,
		Embedding:      embedding,
		TopK:           s.topK,
		Threshold:      s.threshold,
	})
	if err != nil {
		slog.Warn("RAG retrieval failed", "error", err)
	}
	if len(chunks) > 0 {
		return RAGContext{Block: formatRankedChunks(chunks), Chunks: chunks}
	}

	raw := s.fallbackChunks(ctx, req)
	if len(raw) > 0 {
		slog.Info("RAG using raw chunks of latest document", "document_id", raw[0].DocumentID, "chunks", len(raw))
		return RAGContext{Block: formatRawChunks(raw), Chunks: raw}
	}
	return RAGContext{Block: noticeRAGNoDocuments}
}

// fallbackChunks takes the first chunks of the newest document in scope, embedded or not.
func (s *RAGService) fallbackChunks(ctx context.Context, req RAGRequest) []domain.RetrievedChunk {
	filter := port.DocumentFilter{Owner: req.Owner, ConversationID: req.ConversationID}
	if filter.Empty() {
		return nil
	}
	docs, err := s.store.FindDocuments(ctx, filter)
	docs = ownedBy(docs, req.Owner)
	if err != nil || len(docs) == 0 {
		if err != nil {
			slog.Warn("RAG fallback document lookup failed", "error", err)
		}
		return nil
	}
	chunks, err := s.store.FindChunks(ctx, port.ChunkFilter{DocumentIDs: []string{docs[0].ID}, Limit: ragFallbackChunks})
	if err != nil {
		slog.Warn("RAG fallback chunk lookup failed", "document_id", docs[0].ID, "error", err)
		return nil
	}
	out := make([]domain.RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		c.Embedding = nil
		out = append(out, domain.RetrievedChunk{DocumentChunk: c, Similarity: 1.0})
	}
	return out
}

func formatRankedChunks(chunks []domain.RetrievedChunk) string {
	var b strings.Builder
	b.WriteString("\n\nRelevant Document Chunks:\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "%d. Document ID: %s, Chunk %d\n", i+1, c.DocumentID, c.ChunkIndex)
		fmt.Fprintf(&b, "   Content: %s...\n", truncateRunes(c.Content, ragSnippetRunes))
		fmt.Fprintf(&b, "   Similarity: %.2f\n", c.Similarity)
	}
	b.WriteString("\nUse the above document chunks to inform your response if relevant:\n")
	return b.String()
}

func formatRawChunks(chunks []domain.RetrievedChunk) string {
	var b strings.Builder
	b.WriteString("\n\nDocument Content (raw chunks):\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "%d. Document ID: %s, Chunk %d\n", i+1, c.DocumentID, c.ChunkIndex)
		fmt.Fprintf(&b, "   Content: %s...\n", truncateRunes(c.Content, ragSnippetRunes))
	}
	b.WriteString("\nUse the above document content to summarize as requested.\n")
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
