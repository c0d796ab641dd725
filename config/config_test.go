package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Addr())
	assert.Equal(t, 30, cfg.DefaultTimerSeconds)
	assert.Equal(t, 5*time.Second, cfg.DisputeWindow)
	assert.Equal(t, 6, cfg.GameCodeLength)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "disable", cfg.DBSSLMode)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BIND_ADDRESS", "0.0.0.0")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("DISPUTE_WINDOW", "8s")
	t.Setenv("DEFAULT_TIMER_SECONDS", "45")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr())
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, 8*time.Second, cfg.DisputeWindow)
	assert.Equal(t, 45, cfg.DefaultTimerSeconds)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"DEFAULT_TIMER_SECONDS", "2"},
		{"DEFAULT_TIMER_SECONDS", "ten"},
		{"DISPUTE_WINDOW", "0s"},
		{"GAME_CODE_LENGTH", "3"},
		{"LOG_FORMAT", "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel(""))
}
