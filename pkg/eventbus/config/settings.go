package config

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable read by ParseEnv.
const EnvPrefix = "EVENTBUS_"

// MaxRetentionDays is the largest retention whose age still fits in a
// time.Duration.
const MaxRetentionDays = int(math.MaxInt64 / int64(24*time.Hour))

// RetentionAge converts a retention in days to an age. Negative values
// and values above MaxRetentionDays are rejected.
func RetentionAge(days int) (time.Duration, error) {
	if days < 0 {
		return 0, fmt.Errorf("retention days must not be negative, got %d", days)
	}
	if days > MaxRetentionDays {
		return 0, fmt.Errorf("retention days must be at most %d, got %d", MaxRetentionDays, days)
	}
	return time.Duration(days) * 24 * time.Hour, nil
}

// Settings is the typed bus configuration.
//
// Values are resolved in order: DefaultSettings, then a YAML/JSON file,
// then .env files, then the process environment. Later sources win.
type Settings struct {
	// Source identifies this bus on every envelope it publishes.
	Source string `env:"SOURCE"`

	// DBPath is the SQLite log path. Empty disables persistence.
	DBPath string `env:"DB_PATH"`

	// HistorySize bounds the in-memory history ring.
	HistorySize int `env:"HISTORY_SIZE"`

	// HandlerTimeout abandons handlers that run longer. Zero disables it.
	HandlerTimeout time.Duration `env:"HANDLER_TIMEOUT"`

	// RetentionDays is the default age for CleanupOldEvents sweeps.
	RetentionDays int `env:"RETENTION_DAYS"`

	// ShutdownTimeout bounds how long Shutdown waits for the queue to drain.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`

	// MetricsEnabled exports counters through OpenTelemetry.
	MetricsEnabled bool `env:"METRICS_ENABLED"`

	// TracingEnabled emits publish and dispatch spans.
	TracingEnabled bool `env:"TRACING_ENABLED"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Source:          "eventbus",
		HistorySize:     1000,
		RetentionDays:   30,
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
	}
}

// ApplyConfig overlays values present in cfg. Keys may sit at the top
// level or under an "eventbus" section.
func (s *Settings) ApplyConfig(cfg Config) {
	if cfg.Has("eventbus") {
		cfg = cfg.Sub("eventbus")
	}
	s.Source = cfg.String("source", s.Source)
	s.DBPath = cfg.String("db_path", s.DBPath)
	s.HistorySize = cfg.Int("history_size", s.HistorySize)
	s.HandlerTimeout = cfg.Duration("handler_timeout", s.HandlerTimeout)
	s.RetentionDays = cfg.Int("retention_days", s.RetentionDays)
	s.ShutdownTimeout = cfg.Duration("shutdown_timeout", s.ShutdownTimeout)
	s.MetricsEnabled = cfg.Bool("metrics_enabled", s.MetricsEnabled)
	s.TracingEnabled = cfg.Bool("tracing_enabled", s.TracingEnabled)
	s.LogLevel = cfg.String("log_level", s.LogLevel)
}

// Validate checks settings for values the bus cannot use.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Source) == "" {
		return fmt.Errorf("source is required")
	}
	if s.HistorySize <= 0 {
		return fmt.Errorf("history_size must be positive, got %d", s.HistorySize)
	}
	if s.HandlerTimeout < 0 {
		return fmt.Errorf("handler_timeout must not be negative, got %s", s.HandlerTimeout)
	}
	if _, err := RetentionAge(s.RetentionDays); err != nil {
		return fmt.Errorf("retention_days: %w", err)
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must not be negative, got %s", s.ShutdownTimeout)
	}
	if _, err := ParseLogLevel(s.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns LogLevel as a slog.Level, defaulting to info.
func (s Settings) SlogLevel() slog.Level {
	level, err := ParseLogLevel(s.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// ParseLogLevel converts debug/info/warn/error to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q: %w", s, err)
	}
	return level, nil
}

// Load resolves settings from defaults, an optional config file, optional
// .env files and the environment, then validates the result.
func Load(path string, dotenv ...string) (Settings, error) {
	s := DefaultSettings()

	if path != "" {
		cfg, err := FromFile(path)
		if err != nil {
			return Settings{}, err
		}
		s.ApplyConfig(cfg)
	}

	if err := LoadDotEnv(dotenv...); err != nil {
		return Settings{}, err
	}
	if err := ParseEnv(&s); err != nil {
		return Settings{}, err
	}

	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}
