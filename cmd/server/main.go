package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/arturoeanton/go-chat-search-rag/internal/adapter/ai"
	"github.com/arturoeanton/go-chat-search-rag/internal/adapter/extract"
	"github.com/arturoeanton/go-chat-search-rag/internal/adapter/search"
	"github.com/arturoeanton/go-chat-search-rag/internal/adapter/store"
	"github.com/arturoeanton/go-chat-search-rag/internal/adapter/store/memory"
	"github.com/arturoeanton/go-chat-search-rag/internal/handler"
	"github.com/arturoeanton/go-chat-search-rag/internal/mcp"
	"github.com/arturoeanton/go-chat-search-rag/internal/middleware"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
	"github.com/arturoeanton/go-chat-search-rag/internal/service"
	"github.com/arturoeanton/go-chat-search-rag/pkg/config"

	_ "github.com/lib/pq"
)

// appStore is satisfied by both the Postgres and the in-memory store.
type appStore interface {
	port.DocumentStore
	port.ConversationStore
	port.AuditStore
}

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg := config.Load()
	setupLogger(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("🚀 Starting "+cfg.AppName,
		"port", cfg.Port,
		"store", cfg.StoreDriver,
		"llm_endpoints", len(cfg.LLMBaseURLs),
		"embed_provider", cfg.EmbedProvider,
		"mcp_enabled", cfg.MCPEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Storage ──────────────────────────────────────────────────────────
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// ── Adapters ─────────────────────────────────────────────────────────
	proxy := ai.ProxyConfig{HTTPProxy: cfg.HTTPProxy, HTTPSProxy: cfg.HTTPSProxy}
	chatClient := ai.NewOpenAIClient(ai.OpenAIConfig{
		APIKey:  cfg.LLMAPIKey,
		Timeout: cfg.LLMRequestTimeout,
		Proxy:   proxy,
	})
	embedder := ai.NewCachedEmbedder(newEmbedder(cfg), cfg.EmbedCacheSize)

	registry := search.NewRegistry(search.RegistryConfig{
		Proxy:          cfg.SearchProxy,
		RequireProxy:   cfg.SearchRequireProxy,
		RatePerSecond:  cfg.SearchRatePerSecond,
		BraveAPIKey:    cfg.BraveAPIKey,
		SougouSecretID: cfg.SougouSecretID,
		SougouSecret:   cfg.SougouSecretKey,
		MCPServerURL:   cfg.MCPSearchURL,
		Timeout:        10 * time.Second,
	})
	slog.Info("🔎 Search engines registered", "engines", registry.Available(), "defaults", cfg.SearchSelection())

	// ── Services ─────────────────────────────────────────────────────────
	searchService := service.NewSearchService(registry, cfg.SearchSelection())
	ragService := service.NewRAGService(embedder, st, cfg.RAGTopK, cfg.RAGSimilarityThreshold)
	gateway := service.NewGateway(chatClient, service.GatewayConfig{
		Endpoints:    cfg.LLMBaseURLs,
		MaxRetries:   cfg.LLMMaxRetries,
		RetryBackoff: cfg.LLMRetryBackoff,
		DefaultModel: cfg.LLMDefaultModel,
		SearchLimit:  cfg.SearchMaxResults,
		Timeout:      cfg.LLMRequestTimeout,
	}, service.NewClassifier(), searchService, ragService)

	queue := service.NewEmbeddingQueue(embedder, st, cfg.EmbedWorkers, 64)
	queue.Start(ctx)
	defer queue.Stop()

	conversationService := service.NewConversationService(st, gateway)
	documentService := service.NewDocumentService(st, extract.New(os.TempDir()), queue, cfg.DocumentTTL, cfg.MaxUploadBytes)
	go documentService.RunSweeper(ctx, cfg.DocumentSweepEvery)

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:     cfg.AppName,
		ReadTimeout: 30 * time.Second,
		// Streams are bounded by the upstream timeout, not by the write deadline.
		WriteTimeout: 0,
		BodyLimit:    int(cfg.MaxUploadBytes) + 1<<20,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	}))

	// Audit middleware (logs all requests)
	app.Use(middleware.AuditMiddleware(st))

	// Health check
	app.Get("/api/v1/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"app":     cfg.AppName,
			"version": "1.0.0",
		})
	})

	// ── API Routes ───────────────────────────────────────────────────────
	jwtCfg := middleware.JWTConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		ExpiresIn: time.Duration(cfg.JWTExpiration) * time.Hour,
	}

	// Chat works anonymously; documents and audit logs reject anonymous callers.
	api := app.Group("/api/v1", middleware.OptionalJWT(jwtCfg))

	handler.NewChatHandler(gateway, conversationService, jwtCfg).Register(api)
	handler.NewConversationHandler(conversationService).Register(api)
	handler.NewSearchHandler(searchService).Register(api)
	handler.NewDocumentHandler(documentService).Register(api)
	handler.NewRAGHandler(ragService).Register(api)
	handler.NewAuditHandler(st).Register(api)

	// ── MCP Server (separate port) ───────────────────────────────────────
	var mcpServer *mcp.Server
	if cfg.MCPEnabled {
		mcpServer = mcp.NewServer(searchService, ragService, st, cfg.MCPPort)
		go func() {
			if err := mcpServer.Start(); err != nil {
				slog.Error("MCP server failed", "error", err)
			}
		}()
	}

	// ── Start ────────────────────────────────────────────────────────────
	// Listen returns as soon as shutdown begins; the deferred queue and store
	// teardown must wait until in-flight handlers have drained.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("🛑 Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if mcpServer != nil {
			if err := mcpServer.Shutdown(shutdownCtx); err != nil {
				slog.Warn("MCP shutdown failed", "error", err)
			}
		}
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown failed", "error", err)
		}
	}()

	slog.Info("🌐 Fiber listening", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	<-shutdownDone
}

func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

func openStore(ctx context.Context, cfg *config.Config) (appStore, func(), error) {
	if cfg.StoreDriver == "memory" {
		slog.Warn("using in-memory store, data is lost on restart")
		return memory.New(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	pg, err := store.NewPostgresStore(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	slog.Info("🐘 Connected to Postgres")
	return pg, func() { _ = pg.Close() }, nil
}

func newEmbedder(cfg *config.Config) port.Embedder {
	endpoint := ai.EmbedEndpointConfig{
		BaseURL: cfg.EmbedURL,
		Model:   cfg.EmbedModel,
		Token:   cfg.EmbedToken,
	}
	if cfg.EmbedProvider == "openai" {
		return ai.NewOpenAIEmbedder(endpoint)
	}
	return ai.NewOllamaEmbedder(endpoint)
}
