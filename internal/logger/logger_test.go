package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyboxhq/keybox/internal/config"
)

func TestNewWithWriter(t *testing.T) {
	t.Parallel()

	t.Run("Should emit JSON with global service attributes", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := &config.AppConfig{
			Name:        "keybox",
			Version:     "1.2.3",
			Environment: "production",
			LogLevel:    "info",
			LogFormat:   "json",
		}

		log := NewWithWriter(cfg, &buf)
		log.Info("hello")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "keybox", entry["service"])
		assert.Equal(t, "1.2.3", entry["version"])
		assert.Equal(t, "production", entry["env"])
		assert.Equal(t, "hello", entry["msg"])

		// AddSource is disabled in production.
		assert.NotContains(t, entry, "source")
	})

	t.Run("Should respect the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := &config.AppConfig{
			Name:        "keybox",
			Version:     "dev",
			Environment: "development",
			LogLevel:    "warn",
			LogFormat:   "json",
		}

		log := NewWithWriter(cfg, &buf)
		log.Info("ignored")
		assert.Zero(t, buf.Len(), "info must be suppressed at warn level")

		log.Warn("kept")
		assert.NotZero(t, buf.Len())
	})

	t.Run("Should default unknown formats to JSON", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := &config.AppConfig{
			Name:        "keybox",
			Version:     "dev",
			Environment: "development",
			LogLevel:    "info",
			LogFormat:   "yaml",
		}

		log := NewWithWriter(cfg, &buf)
		log.Info("hello")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "output must be JSON")
	})

	t.Run("Should panic on nil config", func(t *testing.T) {
		assert.Panics(t, func() {
			NewWithWriter(nil, &bytes.Buffer{})
		})
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"banana", slog.LevelInfo}, // unknown falls back to info
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "input %q", tt.in)
	}
}
