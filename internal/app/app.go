// Package app builds the fully wired doc-chat components from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/spherical/doc-chat/internal/cache"
	"github.com/spherical/doc-chat/internal/chat"
	"github.com/spherical/doc-chat/internal/config"
	"github.com/spherical/doc-chat/internal/export"
	"github.com/spherical/doc-chat/internal/extract"
	"github.com/spherical/doc-chat/internal/llm"
	"github.com/spherical/doc-chat/internal/metrics"
	"github.com/spherical/doc-chat/internal/observability"
	"github.com/spherical/doc-chat/internal/pdf"
	"github.com/spherical/doc-chat/internal/session"
)

// App holds the components shared by the API server and the CLI.
type App struct {
	Config       *config.Config
	Logger       *observability.Logger
	Metrics      *metrics.Metrics
	Store        *session.Store
	Sessions     *session.Sessions
	Client       *llm.Client
	Renderer     *pdf.Renderer
	Orchestrator *extract.Orchestrator
	Chat         *chat.Service
	Exporter     *export.Exporter

	cacheClient cache.Client
}

// New wires every component from cfg. The session store is opened once here
// and shared by everything built from the returned App.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	if logger == nil {
		logger = observability.Nop()
	}

	m := metrics.New()

	store := session.Open(cfg.Session.File, logger).WithFailureRecorder(m)
	sessions := session.NewSessions(store)

	client := llm.NewClient(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		Timeout: cfg.LLM.RequestTimeout,
		Retry: llm.RetryConfig{
			MaxRetries:     cfg.LLM.MaxRetries,
			InitialBackoff: cfg.LLM.InitialBackoff,
			MaxBackoff:     cfg.LLM.MaxBackoff,
		},
		Endpoints: Endpoints(cfg.LLM),
	}, logger).WithObserver(m)

	renderer := pdf.NewRenderer(pdf.Config{MaxPages: cfg.PDF.MaxPages}, logger)

	orchestrator := extract.NewOrchestrator(client, extract.Config{
		BatchSize:      cfg.Extraction.BatchSize,
		JPEGQuality:    cfg.Extraction.JPEGQuality,
		RetryPasses:    cfg.Extraction.RetryPasses,
		MaxConcurrency: cfg.Extraction.MaxConcurrency,
		Temperature:    cfg.Extraction.Temperature,
		MaxTokens:      cfg.Extraction.MaxTokens,
	}, logger, extract.WithRecorder(m))

	cacheClient, err := NewCacheClient(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}

	var opts []chat.Option
	if _, nop := cacheClient.(cache.NopClient); !nop {
		opts = append(opts, chat.WithCache(cache.NewExtractionCache(cacheClient, cfg.Cache.TTL, logger)))
	}

	svc := chat.NewService(renderer, orchestrator, client, sessions, chat.Config{
		DefaultModel: cfg.Chat.DefaultModel,
		SystemPrompt: cfg.Chat.SystemPrompt,
		Temperature:  cfg.Chat.Temperature,
		MaxTokens:    cfg.Chat.MaxTokens,
	}, logger, opts...)

	logger.Info().
		Str("session_file", cfg.Session.File).
		Str("cache", cfg.Cache.Driver).
		Strs("models", cfg.ModelNames()).
		Msg("application wired")

	return &App{
		Config:       cfg,
		Logger:       logger,
		Metrics:      m,
		Store:        store,
		Sessions:     sessions,
		Client:       client,
		Renderer:     renderer,
		Orchestrator: orchestrator,
		Chat:         svc,
		Exporter:     export.NewExporter(logger),
		cacheClient:  cacheClient,
	}, nil
}

// Close releases the cache connection.
func (a *App) Close() error {
	if a.cacheClient == nil {
		return nil
	}
	return a.cacheClient.Close()
}

// Endpoints resolves each configured model to its base URL.
func Endpoints(cfg config.LLMConfig) map[string]string {
	out := make(map[string]string, len(cfg.Models))
	for name, m := range cfg.Models {
		if m.BaseURL != "" {
			out[name] = m.BaseURL
			continue
		}
		out[name] = llm.BaseURL(cfg.Host, m.Port)
	}
	return out
}

// NewCacheClient creates the extraction cache backend selected by cfg.Driver.
func NewCacheClient(ctx context.Context, cfg config.CacheConfig) (cache.Client, error) {
	switch cfg.Driver {
	case "redis":
		c, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis cache: %w", err)
		}
		return c, nil
	case "none":
		return cache.NopClient{}, nil
	default:
		return cache.NewMemoryClient(cfg.MaxEntries), nil
	}
}
