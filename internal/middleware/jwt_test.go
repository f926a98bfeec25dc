package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

var testJWT = JWTConfig{Secret: "test-secret", Issuer: "contextual-chat", ExpiresIn: time.Hour}

func mustToken(t *testing.T, cfg JWTConfig) string {
	t.Helper()
	token, err := GenerateJWT(domain.UserContext{Email: "ana@example.com", Name: "Ana", Role: "user"}, cfg)
	require.NoError(t, err)
	return token
}

func TestVerifyRoundTrip(t *testing.T) {
	claims, err := Verify(mustToken(t, testJWT), testJWT)

	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", claims.Subject)
	assert.Equal(t, "ana@example.com", claims.UserContext().Identity())
}

func TestVerifyRejections(t *testing.T) {
	valid := mustToken(t, testJWT)

	expiredCfg := testJWT
	expiredCfg.ExpiresIn = -time.Minute
	expired := mustToken(t, expiredCfg)

	otherIssuer := testJWT
	otherIssuer.Issuer = "someone-else"

	tests := []struct {
		name  string
		token string
		cfg   JWTConfig
		want  error
	}{
		{"malformed", "abc", testJWT, port.ErrTokenInvalid},
		{"wrong secret", valid, JWTConfig{Secret: "nope", Issuer: testJWT.Issuer}, port.ErrTokenInvalid},
		{"tampered claims", tamper(valid), testJWT, port.ErrTokenInvalid},
		{"expired", expired, testJWT, port.ErrTokenExpired},
		{"issuer mismatch", valid, otherIssuer, port.ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Verify(tt.token, tt.cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func tamper(token string) string {
	parts := strings.Split(token, ".")
	parts[1] = parts[1] + "A"
	return strings.Join(parts, ".")
}

func whoami(c fiber.Ctx) error {
	return c.SendString(GetUserContext(c).Identity())
}

func TestJWTMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/me", JWTMiddleware(testJWT), whoami)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+mustToken(t, testJWT))
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// EventSource clients pass the token as a query parameter.
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/me?token="+mustToken(t, testJWT), nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestOptionalJWTAllowsAnonymous(t *testing.T) {
	app := fiber.New()
	app.Get("/me", OptionalJWT(testJWT), whoami)

	for _, auth := range []string{"", "Bearer garbage"} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
}

type recordingAuditWriter struct {
	mu      sync.Mutex
	actions []string
	users   []string
}

func (r *recordingAuditWriter) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	r.users = append(r.users, userID)
	return nil
}

func (r *recordingAuditWriter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

func TestAuditMiddlewareRecordsAction(t *testing.T) {
	writer := &recordingAuditWriter{}
	app := fiber.New()
	app.Use(AuditMiddleware(writer))
	app.Post("/api/v1/chat/stream", OptionalJWT(testJWT), func(c fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", nil)
	req.Header.Set("Authorization", "Bearer "+mustToken(t, testJWT))
	_, err := app.Test(req)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return writer.count() == 1 }, time.Second, 5*time.Millisecond)
	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.Equal(t, domain.AuditActionChatStream, writer.actions[0])
	assert.Equal(t, "ana@example.com", writer.users[0])
}
