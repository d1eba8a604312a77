// rolechat - role-conditioned streaming chat server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/rolechat/internal/api"
	"github.com/ashureev/rolechat/internal/chat"
	"github.com/ashureev/rolechat/internal/config"
	"github.com/ashureev/rolechat/internal/generation"
	"github.com/ashureev/rolechat/internal/middleware"
	"github.com/ashureev/rolechat/internal/persona"
	"github.com/ashureev/rolechat/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"backend", cfg.Generation.Backend,
		"model", cfg.Generation.Model,
		"container", config.IsContainer(),
	)

	catalog := persona.Default()
	if cfg.PersonaFile != "" {
		catalog, err = persona.LoadFile(cfg.PersonaFile)
		if err != nil {
			slog.Error("Failed to load persona file", "path", cfg.PersonaFile, "error", err)
			os.Exit(1)
		}
		slog.Info("Persona overrides loaded", "path", cfg.PersonaFile)
	}

	// Completion auditing is optional.
	var repo store.Repository
	if cfg.DBPath != "" {
		sqlite, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := sqlite.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()

		if err := sqlite.Ping(context.Background()); err != nil {
			slog.Error("Database health check failed", "error", err)
			os.Exit(1)
		}
		repo = sqlite
		slog.Info("Database connected", "path", cfg.DBPath)
	} else {
		slog.Info("Completion auditing disabled (DB_PATH empty)")
	}

	backend, err := generation.NewBackend(cfg.GenerationBackend(), logger)
	if err != nil {
		slog.Error("Failed to initialize generation backend", "error", err)
		os.Exit(1)
	}
	model := generation.NewService(backend, logger)
	defer model.Close()

	// The model must be ready before the listener accepts traffic.
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), cfg.Generation.ConnectTimeout)
	err = model.Load(loadCtx)
	cancelLoad()
	if err != nil {
		slog.Error("Failed to load model", "backend", backend.Name(), "addr", cfg.Generation.Addr, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize handlers.
	gate := chat.NewGate(cfg.Generation.MaxConcurrent, cfg.Generation.QueueTimeout)
	chatOpts := []chat.Option{chat.WithMaxBodySize(cfg.MaxRequestBodySize)}
	if repo != nil {
		chatOpts = append(chatOpts, chat.WithRecorder(repo))
	}
	chatHandler := chat.NewHandler(catalog, model, gate, chatOpts...)
	healthHandler := api.NewHealthHandler(model, repo)

	if repo != nil {
		store.StartRetentionWorker(ctx, repo, cfg.AuditRetention, time.Hour)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	limiter.StartEviction(ctx)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	healthHandler.RegisterRoutes(r)
	r.Group(func(r chi.Router) {
		if limiter.Enabled() {
			r.Use(limiter.Middleware)
		}
		chatHandler.RegisterRoutes(r)
		healthHandler.RegisterAuditRoutes(r)
	})

	// SSE streams can outlive any fixed write deadline.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		slog.Info("Server listening",
			"addr", srv.Addr,
			"max_concurrent_generations", gate.Size(),
			"rate_limit_requests", cfg.RateLimit.Requests,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
