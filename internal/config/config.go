// Package config loads service configuration from the environment.
// A .env file in the working directory is honoured when present so local
// development matches the container deployment, which injects the same
// variables directly.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the root configuration for the EcoSort service.
type Config struct {
	Server    ServerConfig
	Uploads   UploadConfig
	Guides    GuideConfig
	Vision    VisionConfig
	Text      TextConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig

	// AllowedOrigins is the raw comma-separated CORS origin list. Empty
	// means every origin is allowed.
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `env:"HOST,default=0.0.0.0"`
	Port            int           `env:"PORT,default=8090"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT,default=30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT,default=90s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT,default=120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=30s"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UploadConfig controls the temporary image spool.
type UploadConfig struct {
	Dir           string        `env:"UPLOAD_DIR,default=./temp-data"`
	MaxImageSize  int64         `env:"MAX_IMAGE_SIZE,default=80000"`
	MaxAge        time.Duration `env:"UPLOAD_MAX_AGE,default=10m"`
	SweepSchedule string        `env:"UPLOAD_SWEEP_SCHEDULE,default=@every 5m"`
}

// GuideConfig controls the disposal guide corpus.
type GuideConfig struct {
	Dir            string `env:"GUIDE_DIR,default=./data"`
	ReloadSchedule string `env:"GUIDE_RELOAD_SCHEDULE"`
}

// VisionConfig configures the image-capable model endpoint.
type VisionConfig struct {
	APIKey      string        `env:"OPENAI_API_KEY"`
	BaseURL     string        `env:"OPENAI_BASE_URL,default=https://api.openai.com/v1"`
	Model       string        `env:"VISION_MODEL,default=gpt-4o-2024-08-06"`
	Temperature float64       `env:"VISION_TEMPERATURE,default=0.5"`
	Timeout     time.Duration `env:"LLM_TIMEOUT,default=60s"`
	MaxRetries  int           `env:"LLM_MAX_RETRIES,default=2"`
}

// Enabled reports whether the vision path is configured.
func (c VisionConfig) Enabled() bool { return strings.TrimSpace(c.APIKey) != "" }

// TextConfig configures the text-only model endpoint used for
// description-based advice.
type TextConfig struct {
	APIKey  string `env:"GROQ_API_KEY"`
	BaseURL string `env:"GROQ_BASE_URL,default=https://api.groq.com/openai/v1"`
	Model   string `env:"TEXT_MODEL,default=llama-3.3-70b-versatile"`
}

// Enabled reports whether the text path is configured.
func (c TextConfig) Enabled() bool { return strings.TrimSpace(c.APIKey) != "" }

// DatabaseConfig configures the optional PostgreSQL store. An empty DSN
// selects the in-memory stores.
type DatabaseConfig struct {
	Driver          string        `env:"DATABASE_DRIVER,default=postgres"`
	DSN             string        `env:"DATABASE_DSN"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
}

// Enabled reports whether a database is configured.
func (c DatabaseConfig) Enabled() bool { return strings.TrimSpace(c.DSN) != "" }

// RedisConfig configures the optional shared advice cache.
type RedisConfig struct {
	Addr      string        `env:"REDIS_ADDR"`
	Password  string        `env:"REDIS_PASSWORD"`
	DB        int           `env:"REDIS_DB,default=0"`
	AdviceTTL time.Duration `env:"ADVICE_CACHE_TTL,default=1h"`
}

// Enabled reports whether Redis is configured.
func (c RedisConfig) Enabled() bool { return strings.TrimSpace(c.Addr) != "" }

// AuthConfig configures the admin surface. An empty secret disables the
// admin routes entirely.
type AuthConfig struct {
	AdminJWTSecret string `env:"ADMIN_JWT_SECRET"`
	AuditLogPath   string `env:"ADMIN_AUDIT_LOG"`
}

// Enabled reports whether the admin surface is configured.
func (c AuthConfig) Enabled() bool { return strings.TrimSpace(c.AdminJWTSecret) != "" }

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	RPS   int `env:"RATE_LIMIT_RPS,default=10"`
	Burst int `env:"RATE_LIMIT_BURST,default=20"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info"`
	Format     string `env:"LOG_FORMAT,default=text"`
	Output     string `env:"LOG_OUTPUT,default=stderr"`
	FilePrefix string `env:"LOG_FILE_PREFIX"`
}

// Load reads configuration from a .env file (when present) and the
// environment, applies defaults, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration invariants that envdecode cannot express.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Server.Port)
	}
	if c.Uploads.MaxImageSize <= 0 {
		return fmt.Errorf("MAX_IMAGE_SIZE must be positive, got %d", c.Uploads.MaxImageSize)
	}
	if c.Vision.Temperature < 0 || c.Vision.Temperature > 2 {
		return fmt.Errorf("VISION_TEMPERATURE %v out of range [0,2]", c.Vision.Temperature)
	}
	if c.Vision.MaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must not be negative, got %d", c.Vision.MaxRetries)
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate limit values must be positive (rps=%d burst=%d)", c.RateLimit.RPS, c.RateLimit.Burst)
	}
	if c.Database.Enabled() && strings.TrimSpace(c.Database.Driver) == "" {
		return fmt.Errorf("DATABASE_DRIVER required when DATABASE_DSN is set")
	}
	return nil
}

// Origins returns the allowed CORS origins. The raw value splits on commas
// with blank entries dropped; an empty result means allow all.
func (c *Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
