package handler

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/middleware"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
	"github.com/arturoeanton/go-chat-search-rag/internal/service"
)

// ChatHandler streams model answers and exposes the endpoint configuration.
type ChatHandler struct {
	gateway       *service.Gateway
	conversations *service.ConversationService
	jwt           middleware.JWTConfig
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(gateway *service.Gateway, conversations *service.ConversationService, jwt middleware.JWTConfig) *ChatHandler {
	return &ChatHandler{gateway: gateway, conversations: conversations, jwt: jwt}
}

// Register sets up chat routes.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Post("/chat/stream", h.Stream)
	router.Get("/models", h.Models)
	router.Get("/llm/config", h.LLMConfig)
}

type streamRequest struct {
	ConversationID   string   `json:"conversation_id"`
	Text             string   `json:"text"`
	Model            string   `json:"model"`
	WebSearchEnabled bool     `json:"web_search_enabled"`
	RAGEnabled       bool     `json:"rag_enabled"`
	AuthToken        string   `json:"auth_token"`
	Token            string   `json:"token"`
	Engines          []string `json:"engines"`
}

// Stream answers one chat turn as server-sent events.
func (h *ChatHandler) Stream(c fiber.Ctx) error {
	var req streamRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return badRequest(c, "text is required")
	}

	who := h.identity(c, req)
	in := service.ChatInput{
		History:        h.conversations.History(c.Context(), who, req.ConversationID),
		Text:           req.Text,
		Model:          req.Model,
		WebSearch:      req.WebSearchEnabled,
		SearchEngines:  req.Engines,
		RAG:            req.RAGEnabled,
		Owner:          who,
		ConversationID: req.ConversationID,
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	// The writer outlives the handler, so the stream gets its own context. A failed
	// write means the client went away and cancels the upstream call. fasthttp gives no
	// close notification, so a disconnect during a silent upstream is only seen once the
	// idle timeout ends the stream.
	ctx, cancel := context.WithCancel(context.Background())
	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		err := h.gateway.Respond(ctx, in, func(frame domain.StreamFrame) error {
			if _, err := w.WriteString(frame.SSE()); err != nil {
				return err
			}
			return w.Flush()
		})
		switch {
		case err == nil:
		case errors.Is(err, port.ErrNoEndpoint):
			slog.Error("chat stream failed", "conversation_id", in.ConversationID, "error", err)
		default:
			slog.Info("chat stream closed", "conversation_id", in.ConversationID, "reason", err)
		}
	})
}

// identity prefers the principal set by the auth middleware and falls back to the token
// carried in the body.
func (h *ChatHandler) identity(c fiber.Ctx, req streamRequest) string {
	if who := owner(c); who != "" {
		return who
	}
	token := req.AuthToken
	if token == "" {
		token = req.Token
	}
	if token == "" {
		return ""
	}
	claims, err := middleware.Verify(token, h.jwt)
	if err != nil {
		slog.Warn("ignoring invalid body token", "error", err)
		return ""
	}
	return claims.UserContext().Identity()
}

// Models lists the models of the first reachable endpoint.
func (h *ChatHandler) Models(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"models": h.gateway.Models(c.Context())})
}

// LLMConfig returns the configured endpoints without credentials.
func (h *ChatHandler) LLMConfig(c fiber.Ctx) error {
	return c.JSON(h.gateway.Config())
}
