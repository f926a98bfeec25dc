package middleware

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
)

// AuditWriter defines how audit records are persisted.
type AuditWriter interface {
	WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error
}

// AuditMiddleware records every request with its outcome and duration.
func AuditMiddleware(writer AuditWriter) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		// Capture request data BEFORE handler execution (Fiber reuses context objects)
		method := c.Method()
		path := c.Path()
		ip := c.IP()
		userAgent := c.Get("User-Agent")

		err := c.Next()

		userID := "anonymous"
		if uc := GetUserContext(c); uc != nil {
			userID = uc.Identity()
		}

		details := map[string]interface{}{
			"method":      method,
			"path":        path,
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		detailsJSON, _ := json.Marshal(details)
		action := auditAction(method, path)

		// All values are captured, safe to use in goroutine
		go func() {
			if writeErr := writer.WriteAudit(
				userID,
				action,
				"api",
				path,
				string(detailsJSON),
				ip,
				userAgent,
			); writeErr != nil {
				slog.Error("failed to write audit log", "error", writeErr)
			}
		}()

		return err
	}
}

func auditAction(method, path string) string {
	switch {
	case method == fiber.MethodPost && strings.HasSuffix(path, "/chat/stream"):
		return domain.AuditActionChatStream
	case method == fiber.MethodPost && strings.HasSuffix(path, "/documents/upload"):
		return domain.AuditActionDocumentUpload
	default:
		return domain.AuditActionHTTPRequest
	}
}
