package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix scopes environment overrides, e.g. ROOMNOTI_BACKEND_BASE_URL.
const envPrefix = "ROOMNOTI"

// BackendConfig locates the community REST API.
type BackendConfig struct {
	// BaseURL is the root URL of the API (e.g., https://api.roomcrew.kr).
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// TimeoutSec bounds a single request/response exchange.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`

	// PageSize is how many notifications one list page holds.
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
}

// LiveConfig tunes the server-push Live Channel.
type LiveConfig struct {
	StreamPath          string  `mapstructure:"stream_path" yaml:"stream_path"`
	ReconnectDelayMs    int     `mapstructure:"reconnect_delay_ms" yaml:"reconnect_delay_ms"`
	MaxReconnectDelayMs int     `mapstructure:"max_reconnect_delay_ms" yaml:"max_reconnect_delay_ms"`
	BackoffMultiplier   float64 `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
	IdleTimeoutSec      int     `mapstructure:"idle_timeout_sec" yaml:"idle_timeout_sec"`

	// Dedupe is "off", "memory", or "redis".
	Dedupe       string `mapstructure:"dedupe" yaml:"dedupe"`
	DedupeTTLSec int    `mapstructure:"dedupe_ttl_sec" yaml:"dedupe_ttl_sec"`
}

// RedisConfig is only consulted when live.dedupe is "redis".
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// CacheConfig locates the offline inbox cache.
type CacheConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is non-empty.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// SyncConfig controls periodic reconciliation with the server.
type SyncConfig struct {
	ReconcileIntervalSec int `mapstructure:"reconcile_interval_sec" yaml:"reconcile_interval_sec"`
}

// LogConfig locates the log file used while the terminal UI owns stdout.
type LogConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
	Live    LiveConfig    `mapstructure:"live" yaml:"live"`
	Redis   RedisConfig   `mapstructure:"redis" yaml:"redis"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// RequestTimeout returns the backend request timeout.
func (c *AppConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSec) * time.Second
}

// ReconnectDelay returns the base Live Channel reconnect delay.
func (c *AppConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.Live.ReconnectDelayMs) * time.Millisecond
}

// MaxReconnectDelay returns the reconnect backoff ceiling.
func (c *AppConfig) MaxReconnectDelay() time.Duration {
	return time.Duration(c.Live.MaxReconnectDelayMs) * time.Millisecond
}

// IdleTimeout returns how long a silent stream is tolerated. Zero disables
// idle detection.
func (c *AppConfig) IdleTimeout() time.Duration {
	return time.Duration(c.Live.IdleTimeoutSec) * time.Second
}

// ReconcileInterval returns the periodic reconcile interval. Zero disables it.
func (c *AppConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.Sync.ReconcileIntervalSec) * time.Second
}

// ConfigDir returns ~/.config/roomnoti, or the working directory when the
// home directory cannot be resolved.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "roomnoti")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/roomnoti/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// setDefaults registers every default so missing keys resolve to sensible
// values and env overrides can bind to them.
func setDefaults(v *viper.Viper) {
	dir := ConfigDir()
	v.SetDefault("backend.base_url", "http://localhost:8080")
	v.SetDefault("backend.timeout_sec", 15)
	v.SetDefault("backend.page_size", 20)
	v.SetDefault("live.stream_path", "/api/notifications/subscribe")
	v.SetDefault("live.reconnect_delay_ms", 3000)
	v.SetDefault("live.max_reconnect_delay_ms", 60000)
	v.SetDefault("live.backoff_multiplier", 2.0)
	v.SetDefault("live.idle_timeout_sec", 90)
	v.SetDefault("live.dedupe", "off")
	v.SetDefault("live.dedupe_ttl_sec", 600)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.path", filepath.Join(dir, "inbox.db"))
	v.SetDefault("metrics.addr", "")
	v.SetDefault("sync.reconcile_interval_sec", 300)
	v.SetDefault("log.path", filepath.Join(dir, "roomnoti.log"))
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A missing file is not an error: defaults plus ROOMNOTI_* environment
// variables are used instead.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects values the client cannot run with.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return fmt.Errorf("backend.base_url must not be empty")
	}
	if c.Live.ReconnectDelayMs <= 0 {
		return fmt.Errorf("live.reconnect_delay_ms must be positive")
	}
	if c.Live.MaxReconnectDelayMs < c.Live.ReconnectDelayMs {
		return fmt.Errorf("live.max_reconnect_delay_ms must be >= live.reconnect_delay_ms")
	}
	if c.Live.BackoffMultiplier < 1 {
		return fmt.Errorf("live.backoff_multiplier must be >= 1")
	}
	switch c.Live.Dedupe {
	case "off", "memory", "redis":
	default:
		return fmt.Errorf("live.dedupe must be one of off, memory, redis (got %q)", c.Live.Dedupe)
	}
	if c.Live.Dedupe != "off" && c.Live.DedupeTTLSec <= 0 {
		return fmt.Errorf("live.dedupe_ttl_sec must be positive when live.dedupe is %s", c.Live.Dedupe)
	}
	if c.Backend.PageSize <= 0 {
		return fmt.Errorf("backend.page_size must be positive")
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("backend", cfg.Backend)
	v.Set("live", cfg.Live)
	v.Set("redis", cfg.Redis)
	v.Set("cache", cfg.Cache)
	v.Set("metrics", cfg.Metrics)
	v.Set("sync", cfg.Sync)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
