package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := loadConfig("", env(nil))
	require.NoError(t, err)

	assert.Equal(t, ":4200", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)
	assert.Equal(t, "actionkit.db", filepath.Base(cfg.DBPath))
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9000"
log_level: debug
history_retention: 72h
rate_limit:
  requests: 10
  window: 30s
auth:
  jwt_secret: s3cret
http:
  max_attempts: 3
  retry_delay: "attempt * 100"
scheduler:
  jobs:
    - name: nightly
      schedule: "@daily"
      action: crypto.uuid
    - name: ping
      schedule: "*/5 * * * *"
      action: http.request
      input:
        url: https://example.com
`)
	cfg, err := loadConfig(path, env(nil))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 72*time.Hour, cfg.HistoryRetention)
	assert.Equal(t, 10, cfg.RateLimit.Requests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 3, cfg.HTTP.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout, "unset keys keep defaults")

	require.Len(t, cfg.Scheduler.Jobs, 2)
	assert.Equal(t, "nightly", cfg.Scheduler.Jobs[0].Name)
	assert.Equal(t, map[string]any{"url": "https://example.com"}, cfg.Scheduler.Jobs[1].Input)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "listen_addr: \":9000\"\nlog_level: debug\n")
	cfg, err := loadConfig(path, env(map[string]string{
		"ACTIONKIT_LISTEN_ADDR":       ":9100",
		"ACTIONKIT_RATE_LIMIT":        "5",
		"ACTIONKIT_METRICS":           "false",
		"ACTIONKIT_REDIS_ADDR":        "localhost:6379",
		"ACTIONKIT_HISTORY_RETENTION": "24h",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.RateLimit.Requests)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 24*time.Hour, cfg.HistoryRetention)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "bad yaml", file: "listen_addr: [\n"},
		{name: "bad log level", file: "log_level: loud\n"},
		{name: "bad rate limit env", env: map[string]string{"ACTIONKIT_RATE_LIMIT": "many"}},
		{name: "negative rate limit", file: "rate_limit:\n  requests: -1\n"},
		{name: "zero window", file: "rate_limit:\n  requests: 1\n  window: 0s\n"},
		{name: "unknown exporter", file: "tracing:\n  exporter: zipkin\n"},
		{name: "otlp without endpoint", file: "tracing:\n  exporter: otlp\n"},
		{name: "sample ratio", file: "tracing:\n  sample_ratio: 2\n"},
		{name: "bad retry delay", file: "http:\n  retry_delay: \"attempt *\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.file), env(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"), env(nil))
	assert.Error(t, err)
}
