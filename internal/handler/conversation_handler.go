package handler

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/service"
)

// ConversationHandler handles conversation and message endpoints.
type ConversationHandler struct {
	conversations *service.ConversationService
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(conversations *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// Register sets up conversation routes.
func (h *ConversationHandler) Register(router fiber.Router) {
	chat := router.Group("/chat")
	chat.Post("/new", h.Create)
	chat.Get("/conversations", h.List)
	chat.Get("/conversations/:id/messages", h.Messages)
	chat.Put("/conversations/:id", h.Rename)
	chat.Delete("/conversations/:id", h.Delete)
	chat.Post("/conversations/:id/title", h.GenerateTitle)
	chat.Post("/messages", h.AddMessage)
}

// Create starts a new conversation.
func (h *ConversationHandler) Create(c fiber.Ctx) error {
	conv, err := h.conversations.Create(c.Context(), owner(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

// List returns the caller's conversations.
func (h *ConversationHandler) List(c fiber.Ctx) error {
	convs, err := h.conversations.List(c.Context(), owner(c))
	if err != nil {
		return respondError(c, err)
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	return c.JSON(convs)
}

// Messages returns a conversation's messages, oldest first.
func (h *ConversationHandler) Messages(c fiber.Ctx) error {
	msgs, err := h.conversations.Messages(c.Context(), owner(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return c.JSON(msgs)
}

// Rename updates a conversation title.
func (h *ConversationHandler) Rename(c fiber.Ctx) error {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.Bind().JSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		return badRequest(c, "title is required")
	}
	if err := h.conversations.Rename(c.Context(), owner(c), c.Params("id"), req.Title); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"id": c.Params("id"), "title": strings.TrimSpace(req.Title)})
}

// Delete removes a conversation and its messages.
func (h *ConversationHandler) Delete(c fiber.Ctx) error {
	if err := h.conversations.Delete(c.Context(), owner(c), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GenerateTitle asks the model to title the conversation.
func (h *ConversationHandler) GenerateTitle(c fiber.Ctx) error {
	var req struct {
		Model string `json:"model"`
	}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	title, err := h.conversations.GenerateTitle(c.Context(), owner(c), c.Params("id"), req.Model)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"id": c.Params("id"), "title": title})
}

// AddMessage stores one message of a conversation.
func (h *ConversationHandler) AddMessage(c fiber.Ctx) error {
	var req struct {
		ConversationID string `json:"conversation_id"`
		Sender         string `json:"sender"`
		Content        string `json:"content"`
	}
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.ConversationID == "" {
		return badRequest(c, "conversation_id is required")
	}

	msg := &domain.Message{ConversationID: req.ConversationID, Sender: req.Sender, Content: req.Content}
	if err := h.conversations.AddMessage(c.Context(), owner(c), msg); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}
