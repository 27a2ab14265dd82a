// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Directory backends.
const (
	DirectoryPostgres = "postgres"
	DirectoryCatalog  = "catalog"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL): directory tables and cleanup history
	DatabaseURL             string        `env:"DATABASE_URL,required"`
	DatabaseMaxConns        int32         `env:"DATABASE_MAX_CONNS" envDefault:"10"`
	DatabaseMinConns        int32         `env:"DATABASE_MIN_CONNS" envDefault:"2"`
	DatabaseMaxConnLifetime time.Duration `env:"DATABASE_MAX_CONN_LIFETIME" envDefault:"1h"`

	// Cache (Redis): rate limits and the cleanup lock
	RedisURL      string `env:"REDIS_URL,required"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Upstream LLM gateway
	LiteLLM LiteLLMConfig `envPrefix:"LITELLM_"`

	// Portal identity tokens
	IdentityJWTSecret   string `env:"IDENTITY_JWT_SECRET,required,notEmpty"`
	IdentityJWTIssuer   string `env:"IDENTITY_JWT_ISSUER"`
	IdentityJWTAudience string `env:"IDENTITY_JWT_AUDIENCE"`

	// Directory
	DirectoryBackend string `env:"DIRECTORY_BACKEND" envDefault:"postgres"`
	CatalogBaseURL   string `env:"CATALOG_BASE_URL"`
	CatalogToken     string `env:"CATALOG_TOKEN"`

	// Cleanup of accounts whose owners left the allowed group
	CleanupEnabled   bool          `env:"CLEANUP_ENABLED" envDefault:"true"`
	CleanupSchedule  string        `env:"CLEANUP_SCHEDULE" envDefault:"@every 1h"`
	CleanupLockTTL   time.Duration `env:"CLEANUP_LOCK_TTL" envDefault:"10m"`
	CleanupBatchSize int           `env:"CLEANUP_BATCH_SIZE" envDefault:"10"`

	// Rate limiting (per caller identity)
	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitRPM     int  `env:"RATE_LIMIT_RPM" envDefault:"120"`
	RateLimitBurst   int  `env:"RATE_LIMIT_BURST" envDefault:"20"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://portal.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// LiteLLMConfig holds the upstream gateway settings and account defaults.
type LiteLLMConfig struct {
	BaseURL   string        `env:"BASE_URL,required"`
	MasterKey string        `env:"MASTER_KEY,required,notEmpty"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"15s"`

	AdminGroup   string `env:"ADMIN_GROUP,required"`
	AllowedGroup string `env:"ALLOWED_GROUP,required"`

	UserMaxBudget      float64 `env:"USER_MAX_BUDGET,required"`
	UserBudgetDuration string  `env:"USER_BUDGET_DURATION,required"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.DirectoryBackend {
	case DirectoryPostgres:
	case DirectoryCatalog:
		if c.CatalogBaseURL == "" {
			errs = append(errs, errors.New("CATALOG_BASE_URL is required for the catalog directory backend"))
		}
		if c.CatalogToken == "" {
			errs = append(errs, errors.New("CATALOG_TOKEN is required for the catalog directory backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DIRECTORY_BACKEND %q", c.DirectoryBackend))
	}

	if c.CleanupEnabled {
		if _, err := cron.ParseStandard(c.CleanupSchedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid CLEANUP_SCHEDULE %q: %w", c.CleanupSchedule, err))
		}
	}
	if c.DatabaseMaxConns <= 0 || c.DatabaseMinConns < 0 || c.DatabaseMinConns > c.DatabaseMaxConns {
		errs = append(errs, errors.New("DATABASE_MIN_CONNS must be between 0 and DATABASE_MAX_CONNS"))
	}
	if c.CleanupBatchSize <= 0 {
		errs = append(errs, errors.New("CLEANUP_BATCH_SIZE must be positive"))
	}
	if c.LiteLLM.UserMaxBudget < 0 {
		errs = append(errs, errors.New("LITELLM_USER_MAX_BUDGET must not be negative"))
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a Config.
// A .env file in the working directory is applied first when present.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
