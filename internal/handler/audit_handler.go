package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

const maxAuditLimit = 1000

// AuditHandler handles audit log endpoints.
type AuditHandler struct {
	store port.AuditStore
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(store port.AuditStore) *AuditHandler {
	return &AuditHandler{store: store}
}

// Register sets up audit routes.
func (h *AuditHandler) Register(router fiber.Router) {
	audit := router.Group("/audit", requireUser)
	audit.Get("/logs", h.ListLogs)
}

// ListLogs returns audit logs with optional filtering.
func (h *AuditHandler) ListLogs(c fiber.Ctx) error {
	limit := queryInt(c, "limit", 100)
	if limit <= 0 || limit > maxAuditLimit {
		limit = 100
	}
	action := c.Query("action", "")

	logs, err := h.store.ListAuditLogs(c.Context(), limit, action)
	if err != nil {
		return respondError(c, err)
	}
	if logs == nil {
		logs = []domain.AuditLog{}
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"count": len(logs),
	})
}
