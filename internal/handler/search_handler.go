package handler

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-chat-search-rag/internal/service"
)

const maxSearchLimit = 20

// SearchHandler exposes the search orchestrator directly.
type SearchHandler struct {
	search *service.SearchService
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(search *service.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

// Register sets up search routes.
func (h *SearchHandler) Register(router fiber.Router) {
	router.Get("/search", h.Search)
	router.Get("/search/engines", h.Engines)
}

// Search runs a web search across the requested engines.
func (h *SearchHandler) Search(c fiber.Ctx) error {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		return badRequest(c, "q is required")
	}
	limit := queryInt(c, "limit", service.DefaultSearchLimit)
	if limit <= 0 {
		limit = service.DefaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	results := h.search.Search(c.Context(), service.SearchRequest{
		Query:        q,
		Limit:        limit,
		Engines:      splitList(c.Query("engines")),
		DomainFilter: c.Query("domain"),
	})
	return c.JSON(fiber.Map{"query": q, "results": results, "count": len(results)})
}

// Engines lists registered engines and the default selection.
func (h *SearchHandler) Engines(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"engines": h.search.Engines(), "defaults": h.search.Defaults()})
}
