package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the application.
type Config struct {
	// Port is the HTTP server port.
	Port int `env:"READER_PORT" envDefault:"3000"`

	// DatabasePath is the SQLite database file.
	DatabasePath string `env:"READER_DATABASE_PATH" envDefault:"reader.db"`

	// IngestURL is the WebSocket endpoint that pushes fetched post
	// batches. Ingest is disabled when it is empty.
	IngestURL string `env:"READER_INGEST_URL"`

	// MaxPostsPerStream is the retention cap applied by each purge pass.
	MaxPostsPerStream int `env:"READER_MAX_POSTS_PER_STREAM" envDefault:"200"`

	// PurgeSchedule and ReconcileSchedule are cron expressions or
	// descriptors such as "@every 1h".
	PurgeSchedule     string `env:"READER_PURGE_SCHEDULE" envDefault:"@every 1h"`
	ReconcileSchedule string `env:"READER_RECONCILE_SCHEDULE" envDefault:"@every 6h"`

	// JobTimeout bounds a single scheduled maintenance run.
	JobTimeout time.Duration `env:"READER_JOB_TIMEOUT" envDefault:"5m"`

	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration `env:"READER_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// OTelEndpoint is the OTLP/HTTP trace collector URL. Tracing is off
	// when it is empty.
	OTelEndpoint    string  `env:"READER_OTEL_ENDPOINT"`
	OTelSampleRatio float64 `env:"READER_OTEL_SAMPLE_RATIO" envDefault:"1"`

	LogLevel slog.Level `env:"READER_LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid READER_PORT %d", c.Port)
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("READER_DATABASE_PATH is required")
	}
	if c.MaxPostsPerStream <= 0 {
		return fmt.Errorf("READER_MAX_POSTS_PER_STREAM must be positive, got %d", c.MaxPostsPerStream)
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		return fmt.Errorf("READER_OTEL_SAMPLE_RATIO must be within [0, 1], got %v", c.OTelSampleRatio)
	}
	return nil
}
