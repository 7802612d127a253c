package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/doc-chat/cmd/doc-chat-api/handlers"
	"github.com/spherical/doc-chat/cmd/doc-chat-api/middleware"
	"github.com/spherical/doc-chat/internal/observability"
)

// RouterConfig holds the dependencies of the API router.
type RouterConfig struct {
	Logger         *observability.Logger
	Chat           handlers.ChatService
	Metrics        http.Handler
	Observer       middleware.RequestObserver
	Models         []string
	RequestTimeout time.Duration
	MaxUploadBytes int64
	AllowedOrigins []string
}

// NewRouter creates the API router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = observability.Nop()
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.TraceID)
	r.Use(middleware.Logger(cfg.Logger, cfg.Observer))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.ProcessTime)

	health := handlers.NewHealthHandler("doc-chat", cfg.Models)
	r.Get("/health", health.Health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	process := handlers.NewProcessHandler(cfg.Logger, cfg.Chat, cfg.MaxUploadBytes)

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
		}

		r.Route("/process", func(r chi.Router) {
			r.Post("/file", process.ProcessFile)
			r.Post("/message", process.ProcessMessage)
		})
		r.Get("/sessions/{sessionId}", process.GetSession)
	})

	return r
}
