// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	AllowedOrigins  []string
	DBPath          string
	LogLevel        string
	HistoryLimit    int
	ShutdownTimeout time.Duration
	Archive         ArchiveConfig
	StepDelays      StepDelayConfig
	Stream          StreamConfig
	RateLimit       RateLimitConfig
}

// ArchiveConfig controls persistence of finalized sessions.
type ArchiveConfig struct {
	Enabled   bool
	Retention time.Duration // 0 keeps archived sessions forever
}

// StepDelayConfig is the simulated thinking time after each step, per role.
type StepDelayConfig struct {
	Coordinator time.Duration
	Frontend    time.Duration
	Backend     time.Duration
	System      time.Duration
	Default     time.Duration
}

// StreamConfig controls live event delivery to observers.
type StreamConfig struct {
	QueueSize      int
	ReplaySize     int
	Keepalive      time.Duration
	RetainFinished time.Duration // replay backlog kept after a session ends
}

// RateLimitConfig throttles session-creating requests per client.
type RateLimitConfig struct {
	RequestsPerWindow int // 0 disables limiting
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		AllowedOrigins:  splitList(getEnv("ALLOWED_ORIGINS", "*")),
		DBPath:          getEnv("DB_PATH", "./data/coordinations.db"),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
		HistoryLimit:    getEnvInt("HISTORY_LIMIT", 500),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Archive: ArchiveConfig{
			Enabled:   getEnvBool("ARCHIVE_ENABLED", true),
			Retention: getEnvDuration("ARCHIVE_RETENTION", 0),
		},
		StepDelays: StepDelayConfig{
			Coordinator: getEnvDuration("STEP_DELAY_COORDINATOR", 2000*time.Millisecond),
			Frontend:    getEnvDuration("STEP_DELAY_FRONTEND", 1500*time.Millisecond),
			Backend:     getEnvDuration("STEP_DELAY_BACKEND", 2500*time.Millisecond),
			System:      getEnvDuration("STEP_DELAY_SYSTEM", 1000*time.Millisecond),
			Default:     getEnvDuration("STEP_DELAY_DEFAULT", 1500*time.Millisecond),
		},
		Stream: StreamConfig{
			QueueSize:      getEnvInt("STREAM_QUEUE_SIZE", 256),
			ReplaySize:     getEnvInt("STREAM_REPLAY_SIZE", 200),
			Keepalive:      getEnvDuration("STREAM_KEEPALIVE", 15*time.Second),
			RetainFinished: getEnvDuration("STREAM_RETAIN_FINISHED", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("START_RATE_LIMIT", 60),
			WindowDuration:    getEnvDuration("START_RATE_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Archive.Enabled && c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty when ARCHIVE_ENABLED is set")
	}
	if c.Archive.Retention < 0 {
		return fmt.Errorf("ARCHIVE_RETENTION must be >= 0")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be > 0")
	}
	delays := map[string]time.Duration{
		"STEP_DELAY_COORDINATOR": c.StepDelays.Coordinator,
		"STEP_DELAY_FRONTEND":    c.StepDelays.Frontend,
		"STEP_DELAY_BACKEND":     c.StepDelays.Backend,
		"STEP_DELAY_SYSTEM":      c.StepDelays.System,
		"STEP_DELAY_DEFAULT":     c.StepDelays.Default,
	}
	for key, d := range delays {
		if d < 0 {
			return fmt.Errorf("%s must be >= 0", key)
		}
	}
	if c.Stream.QueueSize <= 0 {
		return fmt.Errorf("STREAM_QUEUE_SIZE must be > 0")
	}
	if c.Stream.ReplaySize <= 0 {
		return fmt.Errorf("STREAM_REPLAY_SIZE must be > 0")
	}
	if c.Stream.Keepalive <= 0 {
		return fmt.Errorf("STREAM_KEEPALIVE must be > 0")
	}
	if c.Stream.RetainFinished <= 0 {
		return fmt.Errorf("STREAM_RETAIN_FINISHED must be > 0")
	}
	if c.RateLimit.RequestsPerWindow < 0 {
		return fmt.Errorf("START_RATE_LIMIT must be >= 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("START_RATE_WINDOW must be > 0")
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// AllowsAnyOrigin reports whether CORS and WebSocket origin checks are open.
func (c *Config) AllowsAnyOrigin() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return len(c.AllowedOrigins) == 0
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("1500ms", "2s") or a bare
// integer number of milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
