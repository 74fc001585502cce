// Goal Coach - conversational goal planning server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/goalcoach/internal/api"
	"github.com/ashureev/goalcoach/internal/coach"
	"github.com/ashureev/goalcoach/internal/config"
	"github.com/ashureev/goalcoach/internal/conversation"
	"github.com/ashureev/goalcoach/internal/docstore"
	"github.com/ashureev/goalcoach/internal/events"
	"github.com/ashureev/goalcoach/internal/identity"
	"github.com/ashureev/goalcoach/internal/metrics"
	"github.com/ashureev/goalcoach/internal/middleware"
	"github.com/ashureev/goalcoach/internal/store"
	"github.com/ashureev/goalcoach/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
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
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"store", cfg.Store.Backend,
		"coach", cfg.Coach.Provider,
	)

	docs, err := docstore.Open(ctx, docstore.Options{
		Backend:       cfg.Store.Backend,
		SQLitePath:    cfg.Store.DBPath,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
	})
	if err != nil {
		return err
	}
	repo := store.New(docs)
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		return err
	}
	logger.Info("Document store connected", "backend", cfg.Store.Backend)

	retry := coach.DefaultRetryConfig()
	if cfg.Coach.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Coach.MaxAttempts
	}
	delegates, err := coach.New(ctx, coach.Config{
		Provider:       cfg.Coach.Provider,
		APIKey:         cfg.Coach.APIKey,
		BaseURL:        cfg.Coach.BaseURL,
		Model:          cfg.Coach.Model,
		GrpcAddr:       cfg.Coach.GrpcAddr,
		RequestTimeout: cfg.Coach.RequestTimeout,
		Retry:          retry,
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = delegates.Close() }()
	logger.Info("Coach delegates ready", "provider", delegates.Provider)

	var publisher events.Publisher = events.Noop{}
	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("Failed to connect to NATS, plan events disabled", "error", err)
		} else {
			publisher = nc
			logger.Info("Publishing plan events", "nats_url", cfg.NATSURL)
		}
	}
	defer func() { _ = publisher.Close() }()

	var limiter *coach.RateLimiter
	if cfg.RateLimit.Requests > 0 {
		limiter = coach.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		defer limiter.Stop()
	}

	m := metrics.New()
	handler := api.NewHandler(api.Deps{
		Repo:            repo,
		Controller:      conversation.NewController(delegates.Replier, logger),
		Planner:         delegates.Planner,
		Advisor:         delegates.Advisor,
		Limiter:         limiter,
		Metrics:         m,
		Events:          publisher,
		Logger:          logger,
		TransitionDelay: cfg.TransitionDelay,
		AllowedOrigin:   cfg.FrontendURL,
		IsDev:           cfg.IsDevelopment(),
	})

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(m.Middleware)
	r.Use(middleware.CORS(middleware.AllowedOrigins(cfg.FrontendURL)))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	handler.RegisterRoutes(r)
	r.Handle("/metrics", m.Handler())
	r.Handle("/*", web.SPAHandler())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Websocket conversations and plan generation outlive a short
		// write deadline.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
