// Package main is the entrypoint for the Shortstat API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/shortstat/shortstat/internal/cache"
	"github.com/shortstat/shortstat/internal/config"
	"github.com/shortstat/shortstat/internal/handler"
	"github.com/shortstat/shortstat/internal/ingest"
	"github.com/shortstat/shortstat/internal/metrics"
	"github.com/shortstat/shortstat/internal/middleware"
	"github.com/shortstat/shortstat/internal/report"
	"github.com/shortstat/shortstat/internal/repository"
	"github.com/shortstat/shortstat/internal/rollup"
	"github.com/shortstat/shortstat/internal/server"
	"github.com/shortstat/shortstat/internal/service"
	"github.com/shortstat/shortstat/internal/visitor"
)

func main() {
	// Initialize context
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	// Initialize database
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to database")

	// Initialize cache
	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	// Initialize services
	metricsRecorder := metrics.NewInMemory()
	linkService := service.NewLinkService(repo, cacheClient, cfg.BaseURL, metricsRecorder, logger)
	reportService := report.NewService(repo, logger)

	// Visit event pipeline
	publisher := ingest.NewPublisher(cacheClient.Client(), logger, metricsRecorder)
	classifier := visitor.NewClassifier(repo, cfg.UniqueLookback())
	worker := ingest.NewWorker(cacheClient.Client(), repo, classifier, logger, ingest.NewConsumerID(), metricsRecorder)

	// Rollup aggregation
	aggregator := rollup.NewAggregator(repo, logger, metricsRecorder)
	scheduler := rollup.NewScheduler(aggregator.Run, cfg.RollupInterval, cfg.RollupRunOnStart, logger)

	// Click counter durability
	clickFlusher := service.NewClickFlusher(repo, cacheClient, cfg.ClickFlushInterval, logger)

	// Initialize handlers
	h := handler.New()
	healthHandler := handler.NewHealthHandler(repo, cacheClient)
	linkHandler := handler.NewLinkHandler(linkService, logger)
	redirectHandler := handler.NewRedirectHandler(linkService, publisher, logger)
	apiKeyHandler := handler.NewAPIKeyHandler(logger, repo, cacheClient)
	statsHandler := handler.NewStatsHandler(reportService, logger)
	adminHandler := handler.NewAdminHandler(repo, repo, aggregator, logger)
	metricsHandler := handler.NewMetricsHandler(metricsRecorder)

	// Setup router
	r := setupRouter(routerDeps{
		base:     h,
		health:   healthHandler,
		links:    linkHandler,
		redirect: redirectHandler,
		apiKeys:  apiKeyHandler,
		stats:    statsHandler,
		admin:    adminHandler,
		metrics:  metricsHandler,
		repo:     repo,
		cache:    cacheClient,
		cfg:      cfg,
		logger:   logger,
	})

	// Create server
	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)

	// Start background components. Both stop via their Shutdown funcs
	// during graceful shutdown, after the HTTP server drains.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	if cfg.IngestWorkerEnabled {
		go func() {
			if err := worker.Run(workerCtx); err != nil && err != context.Canceled {
				logger.Error("ingest worker stopped", "error", err)
			}
		}()
		srv.OnShutdown("ingest-worker", worker.Shutdown)
	}

	go func() {
		if err := scheduler.Run(workerCtx); err != nil && err != context.Canceled {
			logger.Error("rollup scheduler stopped", "error", err)
		}
	}()
	srv.OnShutdown("rollup-scheduler", scheduler.Shutdown)

	go func() {
		if err := clickFlusher.Run(workerCtx); err != nil && err != context.Canceled {
			logger.Error("click flusher stopped", "error", err)
		}
	}()
	srv.OnShutdown("click-flusher", clickFlusher.Shutdown)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL,
		"env", cfg.AppEnv,
		"ingest_worker", cfg.IngestWorkerEnabled,
		"rollup_interval", cfg.RollupInterval.String(),
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// routerDeps bundles everything setupRouter needs.
type routerDeps struct {
	base     *handler.Handler
	health   *handler.HealthHandler
	links    *handler.LinkHandler
	redirect *handler.RedirectHandler
	apiKeys  *handler.APIKeyHandler
	stats    *handler.StatsHandler
	admin    *handler.AdminHandler
	metrics  *handler.MetricsHandler
	repo     *repository.Repository
	cache    *cache.Cache
	cfg      *config.Config
	logger   *slog.Logger
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(d routerDeps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.logger))
	r.Use(middleware.Recoverer(d.logger))
	securityCfg := middleware.DefaultSecurityConfig()
	securityCfg.IsDevelopment = d.cfg.IsDevelopment()
	r.Use(middleware.Security(securityCfg))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	// Health endpoints (no auth required)
	r.Get("/healthz", d.health.Healthz)
	r.Get("/readyz", d.health.Readyz)

	// Operational metrics (no auth; expose internally only)
	r.Get("/metrics", d.metrics.Metrics)

	// Root info endpoint
	r.Get("/", d.base.Root)

	// Auth middleware configuration
	authCfg := middleware.AuthConfig{
		Logger:     d.logger,
		Repository: d.repo,
		Cache:      d.cache,
	}

	// Rate limit middleware configuration
	rateLimitCfg := middleware.RateLimitConfig{
		Logger:          d.logger,
		Cache:           d.cache,
		APIEnabled:      d.cfg.RateLimitAPIEnabled,
		RedirectEnabled: d.cfg.RateLimitRedirectEnabled,
		RedirectRPS:     d.cfg.RateLimitRedirectRPS,
		RedirectBurst:   d.cfg.RateLimitRedirectBurst,
	}

	// API v1 routes (require authentication)
	r.Route("/api/v1", func(r chi.Router) {
		// Apply auth and rate limit middleware to all API routes
		r.Use(middleware.MaxBodySize(d.cfg.MaxRequestBodySize))
		r.Use(middleware.Auth(authCfg))
		r.Use(middleware.RateLimitAPI(rateLimitCfg))

		// Link management (requires write scope for mutations)
		r.Route("/links", func(r chi.Router) {
			r.With(middleware.RequireRead()).Get("/", d.links.List)
			r.With(middleware.RequireRead()).Get("/{id}", d.links.Get)
			r.With(middleware.RequireRead()).Get("/{id}/stats", d.stats.LinkStats)
			r.With(middleware.RequireWrite()).Post("/", d.links.Create)
			r.With(middleware.RequireWrite()).Patch("/{id}", d.links.Update)
			r.With(middleware.RequireAdmin()).Delete("/{id}", d.links.Delete)
		})

		// Merged historical + live reports (read scope)
		r.Route("/stats", func(r chi.Router) {
			r.Use(middleware.RequireRead())
			r.Get("/overview", d.stats.Overview)
			r.Get("/countries", d.stats.Countries)
			r.Get("/devices", d.stats.Devices)
			r.Get("/device-types", d.stats.DeviceTypes)
			r.Get("/mobile-brands", d.stats.MobileBrands)
			r.Get("/time-patterns", d.stats.TimePatterns)
		})

		// API key management (requires admin scope for mutations)
		r.Route("/api-keys", func(r chi.Router) {
			r.With(middleware.RequireRead()).Get("/", d.apiKeys.ListAPIKeys)
			r.With(middleware.RequireAdmin()).Post("/", d.apiKeys.CreateAPIKey)
			r.With(middleware.RequireAdmin()).Delete("/{key_id}", d.apiKeys.RevokeAPIKey)
			r.With(middleware.RequireAdmin()).Post("/{key_id}/rotate", d.apiKeys.RotateAPIKey)
		})

		// Admin-only operational endpoints
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin())
			r.Get("/links", d.admin.LookupLinks)
			r.Get("/api-keys", d.admin.ListAPIKeysByUser)
			r.Get("/stats", d.admin.Stats)
			r.Post("/rollup", d.admin.TriggerRollup)
		})
	})

	// Redirect handler with IP-based rate limiting (no auth required)
	r.With(middleware.RateLimitIP(rateLimitCfg)).Get("/{shortCode}", d.redirect.Redirect)

	// 404 and 405 handlers
	r.NotFound(d.base.NotFound)
	r.MethodNotAllowed(d.base.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
