// Package main is the entrypoint for the LLM orchestrator API server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/llmportal/orchestrator/internal/auth"
	"github.com/llmportal/orchestrator/internal/cache"
	"github.com/llmportal/orchestrator/internal/config"
	"github.com/llmportal/orchestrator/internal/directory"
	"github.com/llmportal/orchestrator/internal/handler"
	"github.com/llmportal/orchestrator/internal/litellm"
	"github.com/llmportal/orchestrator/internal/metrics"
	"github.com/llmportal/orchestrator/internal/policy"
	"github.com/llmportal/orchestrator/internal/repository"
	"github.com/llmportal/orchestrator/internal/router"
	"github.com/llmportal/orchestrator/internal/server"
	"github.com/llmportal/orchestrator/internal/service"
	"github.com/llmportal/orchestrator/internal/worker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Database: directory tables and cleanup history
	repo, err := repository.New(ctx, cfg.DatabaseURL, repository.PoolOptions{
		MaxConns:        cfg.DatabaseMaxConns,
		MinConns:        cfg.DatabaseMinConns,
		MaxConnLifetime: cfg.DatabaseMaxConnLifetime,
	})
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		return errors.New("database unavailable")
	}
	logger.Info("connected to database")

	// Redis: rate limits and the cleanup lock
	cacheClient, err := cache.New(ctx, cfg.RedisURL, cfg.RedisPoolSize)
	if err != nil {
		repo.Close()
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		return errors.New("redis unavailable")
	}
	logger.Info("connected to Redis")

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheus(registry)

	// Upstream gateway
	client := litellm.New(litellm.Options{
		BaseURL:   cfg.LiteLLM.BaseURL,
		MasterKey: cfg.LiteLLM.MasterKey,
		Timeout:   cfg.LiteLLM.Timeout,
		Recorder:  recorder,
	})
	logger.Info("upstream configured", slog.String("litellm_url", redactURL(cfg.LiteLLM.BaseURL)))

	// Directory backend
	var dir service.Directory = repo
	var dirWriter handler.DirectoryWriter = repo
	if cfg.DirectoryBackend == config.DirectoryCatalog {
		dir = directory.NewCatalog(directory.CatalogOptions{
			BaseURL: cfg.CatalogBaseURL,
			Token:   cfg.CatalogToken,
		})
		dirWriter = nil
	}
	logger.Info("directory configured", "backend", cfg.DirectoryBackend)

	// Services
	p := policy.New(cfg.LiteLLM.AdminGroup, cfg.LiteLLM.AllowedGroup)
	userService := service.NewUserService(client, p, service.UserDefaults{
		MaxBudget:      cfg.LiteLLM.UserMaxBudget,
		BudgetDuration: cfg.LiteLLM.UserBudgetDuration,
	}, recorder, logger)
	keyService := service.NewKeyService(client, p, recorder, logger)
	cleanupService := service.NewCleanupService(client, dir, cfg.LiteLLM.AllowedGroup, cfg.CleanupBatchSize, recorder, logger)

	var schedule cron.Schedule
	if cfg.CleanupEnabled {
		schedule, err = worker.ParseSchedule(cfg.CleanupSchedule)
		if err != nil {
			return err
		}
	}
	cleanupWorker := worker.NewCleanupWorker(cleanupService, cacheClient, repo, schedule, cfg.CleanupLockTTL, logger)

	// Handlers
	r := router.New(router.Deps{
		Logger:      logger,
		Policy:      p,
		Verifier:    auth.NewVerifier(cfg.IdentityJWTSecret, cfg.IdentityJWTIssuer, cfg.IdentityJWTAudience),
		Provisioner: userService,
		Limiter:     cacheClient,
		RateLimit: router.RateLimitOptions{
			Enabled: cfg.RateLimitEnabled,
			RPM:     cfg.RateLimitRPM,
			Burst:   cfg.RateLimitBurst,
		},
		Users: handler.NewUserHandler(userService, p, logger),
		Keys:  handler.NewKeyHandler(keyService, logger),
		Admin: handler.NewAdminHandler(cleanupWorker, repo, dirWriter, version, logger),
		Health: handler.NewHealthHandler(map[string]handler.HealthChecker{
			"database": repo,
			"redis":    cacheClient,
			"litellm":  client,
		}),
		Metrics: handler.NewMetricsHandler(registry),

		IsDevelopment:      cfg.IsDevelopment(),
		CORSAllowedOrigins: cfg.GetCORSAllowedOrigins(),
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	})

	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)
	srv.OnShutdown("database", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(context.Context) error {
		return cacheClient.Close()
	})
	if cfg.CleanupEnabled {
		srv.Go("cleanup-worker", cleanupWorker.Run)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"version", version,
		"cleanup_enabled", cfg.CleanupEnabled,
		"cleanup_schedule", cfg.CleanupSchedule,
	)

	return srv.Run(ctx)
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", "llm-orchestrator")
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
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
