// Coordination simulator server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/coordsim/internal/api"
	"github.com/ashureev/coordsim/internal/config"
	"github.com/ashureev/coordsim/internal/coordination"
	"github.com/ashureev/coordsim/internal/dispatch"
	"github.com/ashureev/coordsim/internal/events"
	"github.com/ashureev/coordsim/internal/identity"
	"github.com/ashureev/coordsim/internal/middleware"
	"github.com/ashureev/coordsim/internal/scenario"
	"github.com/ashureev/coordsim/internal/store"
	"github.com/ashureev/coordsim/internal/stream"
	"github.com/ashureev/coordsim/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

const retentionInterval = 10 * time.Minute

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if envErr != nil {
		slog.Info("No .env file found, using environment variables")
	}
	slog.Info("Starting server", "port", cfg.Port, "archive", cfg.Archive.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize the optional archive.
	var repo store.Repository
	if cfg.Archive.Enabled {
		repo, err = store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()

		if err := repo.Ping(ctx); err != nil {
			slog.Error("Database health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Database connected", "path", cfg.DBPath)

		store.StartRetentionWorker(ctx, repo, cfg.Archive.Retention, retentionInterval, logger)
	}

	// Initialize services.
	bus := events.NewBus(events.Options{
		QueueSize:      cfg.Stream.QueueSize,
		ReplaySize:     cfg.Stream.ReplaySize,
		RetainFinished: cfg.Stream.RetainFinished,
		Logger:         logger,
	})

	opts := []coordination.Option{
		coordination.WithDispatcher(dispatch.New()),
		coordination.WithPublisher(bus),
		coordination.WithLogger(logger),
		coordination.WithHistoryLimit(cfg.HistoryLimit),
		coordination.WithDelays(coordination.DelayPolicy{
			Coordinator: cfg.StepDelays.Coordinator,
			Frontend:    cfg.StepDelays.Frontend,
			Backend:     cfg.StepDelays.Backend,
			System:      cfg.StepDelays.System,
			Default:     cfg.StepDelays.Default,
		}),
	}
	if repo != nil {
		opts = append(opts, coordination.WithArchive(repo))
	}
	orch := coordination.New(scenario.Default(), opts...)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	conns := stream.NewConnManager()

	// Initialize handlers.
	coordHandler := api.NewCoordinationHandler(orch, repo, limiter.Middleware)
	healthHandler := api.NewHealthHandler(repo, orch)
	sseHandler := stream.NewSSEHandler(bus, orch, cfg.Stream.Keepalive, logger)
	wsHandler := stream.NewWebSocketHandler(bus, orch, conns, cfg.AllowedOrigins, cfg.Stream.Keepalive, logger)
	wsHandler.SetLimiter(limiter)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware)

	healthHandler.RegisterHealth(r)
	coordHandler.RegisterRoutes(r)
	sseHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/events", wsHandler.ServeHTTP)

	// Serve embedded observer page (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// SSE and WebSocket streams are long-lived, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	conns.CloseAll("server shutting down")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	if err := orch.Close(shutdownCtx); err != nil {
		slog.Error("Coordinations did not drain", "error", err)
	}

	slog.Info("Server stopped successfully",
		"active_sessions", orch.ActiveCount(),
		"history_sessions", orch.HistoryLen(),
	)
}
