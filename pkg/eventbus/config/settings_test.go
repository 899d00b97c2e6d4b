package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventbus/pkg/eventbus/config"
)

// clearEnv unsets every EVENTBUS_ variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SOURCE", "DB_PATH", "HISTORY_SIZE", "HANDLER_TIMEOUT", "RETENTION_DAYS",
		"SHUTDOWN_TIMEOUT", "METRICS_ENABLED", "TRACING_ENABLED", "LOG_LEVEL",
	} {
		name := config.EnvPrefix + key
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	s, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSettings(), s)
	assert.Equal(t, slog.LevelInfo, s.SlogLevel())
}

func TestLoad_Layers(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	file := filepath.Join(dir, "bus.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
eventbus:
  source: from-file
  db_path: ./file.db
  history_size: 50
  handler_timeout: 2s
  retention_days: 7
  metrics_enabled: true
`), 0o600))

	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("EVENTBUS_DB_PATH=./dotenv.db\nEVENTBUS_LOG_LEVEL=debug\n"), 0o600))

	t.Setenv("EVENTBUS_SOURCE", "from-env")
	t.Setenv("EVENTBUS_TRACING_ENABLED", "true")

	s, err := config.Load(file, dotenv, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "from-env", s.Source, "environment beats file")
	assert.Equal(t, "./dotenv.db", s.DBPath, ".env beats file")
	assert.Equal(t, 50, s.HistorySize)
	assert.Equal(t, 2*time.Second, s.HandlerTimeout)
	assert.Equal(t, 7, s.RetentionDays)
	assert.Equal(t, 5*time.Second, s.ShutdownTimeout, "default kept")
	assert.True(t, s.MetricsEnabled)
	assert.True(t, s.TracingEnabled)
	assert.Equal(t, slog.LevelDebug, s.SlogLevel())
}

func TestLoad_FlatFile(t *testing.T) {
	clearEnv(t)

	file := filepath.Join(t.TempDir(), "bus.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"source":"flat","history_size":5}`), 0o600))

	s, err := config.Load(file)
	require.NoError(t, err)
	assert.Equal(t, "flat", s.Source)
	assert.Equal(t, 5, s.HistorySize)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("EVENTBUS_HISTORY_SIZE", "lots")
	_, err = config.Load("")
	assert.ErrorContains(t, err, "parse env")

	t.Setenv("EVENTBUS_HISTORY_SIZE", "0")
	_, err = config.Load("")
	assert.ErrorContains(t, err, "history_size")
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Settings)
		errMsg string
	}{
		{"defaults", func(*config.Settings) {}, ""},
		{"empty source", func(s *config.Settings) { s.Source = " " }, "source"},
		{"zero history", func(s *config.Settings) { s.HistorySize = 0 }, "history_size"},
		{"negative timeout", func(s *config.Settings) { s.HandlerTimeout = -time.Second }, "handler_timeout"},
		{"negative retention", func(s *config.Settings) { s.RetentionDays = -1 }, "retention_days"},
		{"huge retention", func(s *config.Settings) { s.RetentionDays = config.MaxRetentionDays + 1 }, "retention_days"},
		{"negative shutdown", func(s *config.Settings) { s.ShutdownTimeout = -time.Second }, "shutdown_timeout"},
		{"bad log level", func(s *config.Settings) { s.LogLevel = "loud" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := config.DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestRetentionAge(t *testing.T) {
	age, err := config.RetentionAge(7)
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, age)

	age, err = config.RetentionAge(config.MaxRetentionDays)
	require.NoError(t, err)
	assert.Positive(t, age)

	for _, days := range []int{-1, config.MaxRetentionDays + 1, 150000, 213504} {
		_, err := config.RetentionAge(days)
		assert.Error(t, err, days)
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := config.ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	s := config.DefaultSettings()
	s.LogLevel = "nonsense"
	assert.Equal(t, slog.LevelInfo, s.SlogLevel())
}
