package handler

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-chat-search-rag/internal/service"
)

// RAGHandler handles retrieval queries over the caller's documents.
type RAGHandler struct {
	ragService *service.RAGService
}

// NewRAGHandler creates a new RAG handler.
func NewRAGHandler(ragService *service.RAGService) *RAGHandler {
	return &RAGHandler{ragService: ragService}
}

// Register sets up RAG routes.
func (h *RAGHandler) Register(router fiber.Router) {
	rag := router.Group("/rag", requireUser)
	rag.Post("/query", h.Query)
}

// Query returns the chunks most relevant to the query, without the fallback path.
func (h *RAGHandler) Query(c fiber.Ctx) error {
	var body struct {
		Query          string `json:"query"`
		ConversationID string `json:"conversation_id"`
		K              int    `json:"k"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(body.Query) == "" {
		return badRequest(c, "query is required")
	}

	chunks, err := h.ragService.Search(c.Context(), service.RAGRequest{
		Owner:          owner(c),
		ConversationID: body.ConversationID,
		Query:          body.Query,
	}, body.K)
	if err != nil {
		return respondError(c, err)
	}

	sources := make([]fiber.Map, len(chunks))
	for i, chunk := range chunks {
		sources[i] = fiber.Map{
			"document_id": chunk.DocumentID,
			"chunk_index": chunk.ChunkIndex,
			"content":     chunk.Content,
			"similarity":  chunk.Similarity,
		}
	}

	return c.JSON(fiber.Map{
		"query":   body.Query,
		"sources": sources,
	})
}
