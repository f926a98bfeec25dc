package handler

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-chat-search-rag/internal/middleware"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

// errorStatus maps sentinel errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, port.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, port.ErrUnauthorized),
		errors.Is(err, port.ErrTokenInvalid),
		errors.Is(err, port.ErrTokenExpired):
		return fiber.StatusUnauthorized
	case errors.Is(err, port.ErrUnsupportedFile), errors.Is(err, port.ErrFileTooLarge):
		return fiber.StatusBadRequest
	case errors.Is(err, port.ErrQueueFull), errors.Is(err, port.ErrQueueClosed), errors.Is(err, port.ErrNoEndpoint):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c fiber.Ctx, err error) error {
	status := errorStatus(err)
	if status == fiber.StatusInternalServerError {
		slog.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// owner is the identity of the authenticated caller, empty for anonymous requests.
func owner(c fiber.Ctx) string {
	return middleware.GetUserContext(c).Identity()
}

// requireUser rejects anonymous callers on routes mounted behind OptionalJWT.
func requireUser(c fiber.Ctx) error {
	if middleware.GetUserContext(c) == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication required"})
	}
	return c.Next()
}

func queryInt(c fiber.Ctx, key string, fallback int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return n
}

// splitList parses a comma separated query value.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
