// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// ErrServerAPIKeyRequired is returned when SERVER_API_KEY is not set.
var ErrServerAPIKeyRequired = errors.New("config: SERVER_API_KEY is required")

// Config holds all configuration for the worker service. It is populated
// once at startup and treated as immutable afterwards.
type Config struct {
	// Asset API settings
	ServerAPIKey string `env:"SERVER_API_KEY, required" json:"-" validate:"required"` // Masked in JSON
	APIBaseURL   string `env:"API_BASE_URL, default=http://localhost:3000" json:"api_base_url" validate:"required,url"`

	// Scheduling settings
	StuckJobThresholdSeconds int `env:"STUCK_JOB_THRESHOLD_SECONDS, default=30" json:"stuck_job_threshold_seconds" validate:"gt=0"`
	MaxJobAttempts           int `env:"MAX_JOB_ATTEMPTS, default=3" json:"max_job_attempts" validate:"gt=0"`
	MaxNumWorkers            int `env:"MAX_NUM_WORKERS, default=2" json:"max_num_workers" validate:"gt=0"`
	HeartbeatIntervalSeconds int `env:"HEARTBEAT_INTERVAL_SECONDS, default=10" json:"heartbeat_interval_seconds" validate:"gt=0"`

	// Media settings
	MaxChunkSizeBytes int64  `env:"MAX_CHUNK_SIZE_BYTES, default=26214400" json:"max_chunk_size_bytes" validate:"gt=0"`
	TempDir           string `env:"TEMP_DIR" json:"temp_dir" validate:"required,abspath"`
	FFmpegPath        string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath       string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Metrics settings
	MetricsAddr string `env:"METRICS_ADDR, default=:9090" json:"metrics_addr"`

	// Optional S3 chunk archive settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 chunk archiving is configured.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// StuckJobThreshold returns the liveness threshold as a duration.
func (c *Config) StuckJobThreshold() time.Duration {
	return time.Duration(c.StuckJobThresholdSeconds) * time.Second
}

// HeartbeatInterval returns the heartbeat cadence as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set or invalid.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		if strings.Contains(err.Error(), "SERVER_API_KEY") {
			return nil, ErrServerAPIKeyRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "asset-processing")
	}
	if len(cfg.TempDir) > 1 {
		cfg.TempDir = strings.TrimRight(cfg.TempDir, string(os.PathSeparator))
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration against its struct rules. TempDir must
// be an absolute path; the service refuses to start otherwise.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.RegisterValidation("abspath", func(fl validator.FieldLevel) bool {
		return filepath.IsAbs(fl.Field().String())
	}); err != nil {
		return fmt.Errorf("config: register validation: %w", err)
	}

	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// EnsureTempDir creates the scratch directory root, verifying it is writable.
func (c *Config) EnsureTempDir() error {
	if err := os.MkdirAll(c.TempDir, 0750); err != nil {
		return fmt.Errorf("config: create temp directory %s: %w", c.TempDir, err)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{APIBaseURL: %s, StuckJobThresholdSeconds: %d, MaxJobAttempts: %d, MaxNumWorkers: %d, HeartbeatIntervalSeconds: %d, MaxChunkSizeBytes: %d, TempDir: %s, MetricsAddr: %s, S3Bucket: %s, LogFormat: %s, LogLevel: %s}",
		c.APIBaseURL,
		c.StuckJobThresholdSeconds,
		c.MaxJobAttempts,
		c.MaxNumWorkers,
		c.HeartbeatIntervalSeconds,
		c.MaxChunkSizeBytes,
		c.TempDir,
		c.MetricsAddr,
		c.S3Bucket,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
