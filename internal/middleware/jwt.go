package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

// JWTConfig holds JWT middleware configuration.
type JWTConfig struct {
	Secret    string
	Issuer    string
	ExpiresIn time.Duration
}

// JWTMiddleware rejects requests without a valid bearer token and injects the
// UserContext into the request locals.
func JWTMiddleware(cfg JWTConfig) fiber.Handler {
	return func(c fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization",
			})
		}

		claims, err := Verify(token, cfg)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		c.Locals("user", claims.UserContext())
		return c.Next()
	}
}

// OptionalJWT injects the UserContext when a valid token is present and lets anonymous
// requests through. An invalid token is logged and treated as anonymous.
func OptionalJWT(cfg JWTConfig) fiber.Handler {
	return func(c fiber.Ctx) error {
		if token := bearerToken(c); token != "" {
			claims, err := Verify(token, cfg)
			if err != nil {
				slog.Warn("ignoring invalid token", "path", c.Path(), "error", err)
			} else {
				c.Locals("user", claims.UserContext())
			}
		}
		return c.Next()
	}
}

// bearerToken reads the Authorization header, falling back to ?token= for
// EventSource clients which cannot set headers.
func bearerToken(c fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return c.Query("token")
}

// GetUserContext extracts the UserContext from Fiber locals.
func GetUserContext(c fiber.Ctx) *domain.UserContext {
	u, ok := c.Locals("user").(*domain.UserContext)
	if !ok {
		return nil
	}
	return u
}

// --- JWT Claims & Helpers ---

// Claims represents the JWT payload.
type Claims struct {
	Subject   string `json:"sub"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Issuer    string `json:"iss"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// UserContext converts the claims into the principal seen by handlers.
func (c *Claims) UserContext() *domain.UserContext {
	return &domain.UserContext{
		UserID: c.Subject,
		Email:  c.Email,
		Name:   c.Name,
		Role:   c.Role,
	}
}

// GenerateJWT creates a new signed HS256 token for the given principal.
func GenerateJWT(user domain.UserContext, cfg JWTConfig) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("generate token: empty secret")
	}
	subject := user.UserID
	if subject == "" {
		subject = user.Email
	}

	now := time.Now()
	claims := Claims{
		Subject:   subject,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		Issuer:    cfg.Issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(cfg.ExpiresIn).Unix(),
	}

	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, _ := json.Marshal(header)
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	headerB64 := base64.RawURLEncoding.EncodeToString(headerJSON)
	claimsB64 := base64.RawURLEncoding.EncodeToString(claimsJSON)

	signingInput := headerB64 + "." + claimsB64
	return signingInput + "." + signHS256(signingInput, cfg.Secret), nil
}

// Verify checks signature, algorithm, expiry and issuer, returning the claims.
// Failures wrap port.ErrTokenInvalid or port.ErrTokenExpired.
func Verify(tokenStr string, cfg JWTConfig) (*Claims, error) {
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: malformed token", port.ErrTokenInvalid)
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: bad header encoding", port.ErrTokenInvalid)
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil || header.Alg != "HS256" {
		return nil, fmt.Errorf("%w: unsupported algorithm", port.ErrTokenInvalid)
	}

	signingInput := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(signHS256(signingInput, cfg.Secret))) {
		return nil, fmt.Errorf("%w: bad signature", port.ErrTokenInvalid)
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad claims encoding", port.ErrTokenInvalid)
	}
	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, fmt.Errorf("%w: bad claims", port.ErrTokenInvalid)
	}

	if time.Now().Unix() > claims.ExpiresAt {
		return nil, port.ErrTokenExpired
	}
	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("%w: unexpected issuer", port.ErrTokenInvalid)
	}
	return &claims, nil
}

func signHS256(input, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(input))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
