package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rendis/actionkit/internal/expressions"
	"github.com/rendis/actionkit/internal/logging"
	"github.com/rendis/actionkit/internal/scheduler"
)

// Config holds all actionkit server configuration.
// Priority: env vars > config file > defaults.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
	DBPath     string `yaml:"db_path"`
	// HistoryRetention prunes invocations older than this. Zero keeps them.
	HistoryRetention time.Duration `yaml:"history_retention"`

	RedisAddr string          `yaml:"redis_addr"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	HTTP      HTTPConfig      `yaml:"http"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// RateLimitConfig throttles HTTP requests per client IP. Requests zero
// disables it. With a redis address the window is shared across processes.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	Burst    int           `yaml:"burst"`
}

// AuthConfig enables bearer token verification for whoami.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig selects the span exporter: none, stdout or otlp.
type TracingConfig struct {
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// HTTPConfig tunes the http.request action. RetryDelay is an expr
// expression over attempt and code yielding milliseconds.
type HTTPConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	MaxResponseBody int64         `yaml:"max_response_body"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryDelay      string        `yaml:"retry_delay"`
}

type SchedulerConfig struct {
	Concurrency int             `yaml:"concurrency"`
	Jobs        []scheduler.Job `yaml:"jobs"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":4200",
		LogLevel:   "info",
		LogFormat:  "text",
		DBPath:     filepath.Join(actionkitDir(), "actionkit.db"),
		RateLimit:  RateLimitConfig{Window: time.Minute},
		Metrics:    MetricsConfig{Enabled: true, Path: "/metrics"},
		Tracing:    TracingConfig{Exporter: "none", SampleRatio: 1},
		HTTP:       HTTPConfig{Timeout: 30 * time.Second, MaxAttempts: 1},
		Scheduler:  SchedulerConfig{Concurrency: 4},
	}
}

func actionkitDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".actionkit"
	}
	return filepath.Join(home, ".actionkit")
}

func defaultConfigPath() string {
	return filepath.Join(actionkitDir(), "config.yaml")
}

// loadConfig layers the config file and the environment over the defaults.
// An empty path reads the default location and tolerates its absence.
func loadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := map[string]*string{
		"ACTIONKIT_LISTEN_ADDR":      &cfg.ListenAddr,
		"ACTIONKIT_LOG_LEVEL":        &cfg.LogLevel,
		"ACTIONKIT_LOG_FORMAT":       &cfg.LogFormat,
		"ACTIONKIT_DB_PATH":          &cfg.DBPath,
		"ACTIONKIT_REDIS_ADDR":       &cfg.RedisAddr,
		"ACTIONKIT_JWT_SECRET":       &cfg.Auth.JWTSecret,
		"ACTIONKIT_TRACING_EXPORTER": &cfg.Tracing.Exporter,
		"ACTIONKIT_OTLP_ENDPOINT":    &cfg.Tracing.Endpoint,
	}
	for key, dst := range str {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	if v := getenv("ACTIONKIT_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ACTIONKIT_RATE_LIMIT: %w", err)
		}
		cfg.RateLimit.Requests = n
	}
	if v := getenv("ACTIONKIT_METRICS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ACTIONKIT_METRICS: %w", err)
		}
		cfg.Metrics.Enabled = b
	}
	if v := getenv("ACTIONKIT_HISTORY_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ACTIONKIT_HISTORY_RETENTION: %w", err)
		}
		cfg.HistoryRetention = d
	}
	return nil
}

func (c Config) validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("rate_limit.requests must not be negative")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	case "otlp":
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("unknown tracing exporter %q", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	if c.HTTP.RetryDelay != "" {
		if _, err := expressions.DelayExpr(c.HTTP.RetryDelay); err != nil {
			return fmt.Errorf("http.retry_delay: %w", err)
		}
	}
	return nil
}
