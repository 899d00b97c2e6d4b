package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventbus/pkg/eventbus/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{"nil map", nil},
		{"empty map", map[string]any{}},
		{"with values", map[string]any{"key": "value"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			assert.NotNil(t, cfg.Raw())
		})
	}
}

func TestAccessors(t *testing.T) {
	cfg := config.New(map[string]any{
		"name":      "orders",
		"count":     3,
		"count64":   int64(4),
		"countf":    5.0,
		"fraction":  5.5,
		"enabled":   true,
		"timeout":   "30s",
		"secs":      2,
		"fsecs":     1.5,
		"bad":       "not-a-duration",
		"tags":      []any{"a", "b"},
		"mixedTags": []any{"a", 1},
		"strTags":   []string{"x"},
		"eventbus": map[string]any{
			"db_path": "./events.db",
			"nested":  map[string]any{"depth": 2},
		},
	})

	assert.Equal(t, "orders", cfg.String("name", "d"))
	assert.Equal(t, "d", cfg.String("count", "d"), "wrong type falls back")
	assert.Equal(t, "d", cfg.String("missing", "d"))

	assert.Equal(t, 3, cfg.Int("count", 0))
	assert.Equal(t, 4, cfg.Int("count64", 0))
	assert.Equal(t, 5, cfg.Int("countf", 0))
	assert.Equal(t, 9, cfg.Int("fraction", 9), "fractional float is rejected")

	assert.True(t, cfg.Bool("enabled", false))
	assert.True(t, cfg.Bool("name", true), "wrong type falls back")

	assert.Equal(t, 30*time.Second, cfg.Duration("timeout", 0))
	assert.Equal(t, 2*time.Second, cfg.Duration("secs", 0))
	assert.Equal(t, 1500*time.Millisecond, cfg.Duration("fsecs", 0))
	assert.Equal(t, time.Minute, cfg.Duration("bad", time.Minute))

	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("tags", nil))
	assert.Equal(t, []string{"z"}, cfg.StringSlice("mixedTags", []string{"z"}))
	assert.Equal(t, []string{"x"}, cfg.StringSlice("strTags", nil))

	assert.Equal(t, "./events.db", cfg.String("eventbus.db_path", ""))
	assert.Equal(t, 2, cfg.Int("eventbus.nested.depth", 0))
	assert.True(t, cfg.Has("eventbus.nested"))
	assert.False(t, cfg.Has("eventbus.missing"))
	assert.False(t, cfg.Has("name.deeper"), "cannot walk into a scalar")

	sub := cfg.Sub("eventbus")
	assert.Equal(t, "./events.db", sub.String("db_path", ""))
	assert.Empty(t, cfg.Sub("name").Raw())
	assert.Empty(t, cfg.Sub("missing").Raw())
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "bus.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("eventbus:\n  source: shop\n  history_size: 10\n"), 0o600))
	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "shop", cfg.String("eventbus.source", ""))
	assert.Equal(t, 10, cfg.Int("eventbus.history_size", 0))

	jsonPath := filepath.Join(dir, "bus.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"source":"shop","history_size":10}`), 0o600))
	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Int("history_size", 0))

	_, err = config.FromFile(filepath.Join(dir, "bus.toml"))
	assert.Error(t, err)

	tomlPath := filepath.Join(dir, "exists.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("x = 1"), 0o600))
	_, err = config.FromFile(tomlPath)
	assert.ErrorContains(t, err, "unsupported config file extension")

	_, err = config.FromYAML([]byte("key: [unclosed"))
	assert.Error(t, err)
	_, err = config.FromJSON([]byte("{"))
	assert.Error(t, err)
}
