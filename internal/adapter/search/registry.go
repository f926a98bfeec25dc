package search

import (
	"log/slog"
	"time"

	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

// FallbackEngine is the always-available engine tried when the selected engines return nothing.
const FallbackEngine = "duckduckgo"

// RegistryConfig lists the credentials and network policy used to build engines.
type RegistryConfig struct {
	Proxy          string
	RequireProxy   bool
	RatePerSecond  float64
	BraveAPIKey    string
	SougouSecretID string
	SougouSecret   string
	MCPServerURL   string
	Timeout        time.Duration
}

// NewRegistry builds every engine the configuration allows. Engines calling the public
// internet are skipped entirely when RequireProxy is set and no proxy is configured.
// The MCP engine talks to a gateway on the local network and is exempt.
func NewRegistry(cfg RegistryConfig) *port.EngineRegistry {
	var engines []port.SearchEngine

	if cfg.MCPServerURL != "" {
		engines = append(engines, NewMCPEngine(cfg.MCPServerURL))
	}

	if cfg.RequireProxy && cfg.Proxy == "" {
		slog.Warn("web search proxy not configured, external search engines disabled")
		return port.NewEngineRegistry(FallbackEngine, engines...)
	}

	client, err := NewProxiedClient(cfg.Proxy, cfg.Timeout)
	if err != nil {
		slog.Error("invalid web search proxy, external search engines disabled", "error", err)
		return port.NewEngineRegistry(FallbackEngine, engines...)
	}

	engines = append(engines, WithRateLimit(NewDuckDuckGoEngine(client), cfg.RatePerSecond, 2))

	if cfg.BraveAPIKey != "" {
		engines = append(engines, WithRateLimit(NewBraveEngine(cfg.BraveAPIKey, client), cfg.RatePerSecond, 1))
	}
	if cfg.SougouSecretID != "" && cfg.SougouSecret != "" {
		engines = append(engines, WithRateLimit(NewSougouEngine(cfg.SougouSecretID, cfg.SougouSecret, client), cfg.RatePerSecond, 2))
	}

	registry := port.NewEngineRegistry(FallbackEngine, engines...)
	slog.Info("web search engines registered", "engines", registry.Available(), "fallback", FallbackEngine)
	return registry
}
