package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Editor    EditorConfig    `yaml:"editor" toml:"editor"`
	Fetch     FetchConfig     `yaml:"fetch" toml:"fetch"`
	Sync      SyncConfig      `yaml:"sync" toml:"sync"`
	Cache     CacheConfig     `yaml:"cache" toml:"cache"`
	Browser   BrowserConfig   `yaml:"browser" toml:"browser"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        string   `envconfig:"PORT" yaml:"port" toml:"port"`
	Host        string   `envconfig:"HOST" yaml:"host" toml:"host"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" yaml:"cors_origins" toml:"cors_origins"`
	// PublicURL is the externally reachable base URL the injected agent
	// script dials back to.
	PublicURL string `envconfig:"PUBLIC_URL" yaml:"public_url" toml:"public_url"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
}

// EditorConfig tunes the agent, bootstrapper and controller.
type EditorConfig struct {
	Origins              []string   `envconfig:"EDITOR_ORIGINS" yaml:"origins" toml:"origins"`
	GracePeriod          Duration   `envconfig:"EDITOR_GRACE" yaml:"grace_period" toml:"grace_period"`
	ProbeDelays          []Duration `envconfig:"EDITOR_PROBES" yaml:"probe_delays" toml:"probe_delays"`
	MaxElements          int        `envconfig:"EDITOR_MAX_ELEMENTS" yaml:"max_elements" toml:"max_elements"`
	MaxDepth             int        `envconfig:"EDITOR_MAX_DEPTH" yaml:"max_depth" toml:"max_depth"`
	MaxNodes             int        `envconfig:"EDITOR_MAX_NODES" yaml:"max_nodes" toml:"max_nodes"`
	Interactive          bool       `envconfig:"EDITOR_INTERACTIVE" yaml:"interactive" toml:"interactive"`
	DisambiguateSiblings bool       `envconfig:"EDITOR_DISAMBIGUATE" yaml:"disambiguate_siblings" toml:"disambiguate_siblings"`
	Scripts              bool       `envconfig:"EDITOR_SCRIPTS" yaml:"scripts" toml:"scripts"`
	ScriptTimeout        Duration   `envconfig:"EDITOR_SCRIPT_TIMEOUT" yaml:"script_timeout" toml:"script_timeout"`
}

// FetchConfig holds target fetcher configuration.
type FetchConfig struct {
	Timeout           Duration `envconfig:"FETCH_TIMEOUT" yaml:"timeout" toml:"timeout"`
	MaxBytes          int64    `envconfig:"FETCH_MAX_BYTES" yaml:"max_bytes" toml:"max_bytes"`
	UserAgent         string   `envconfig:"FETCH_USER_AGENT" yaml:"user_agent" toml:"user_agent"`
	RequestsPerSecond float64  `envconfig:"FETCH_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	RetryMax          int      `envconfig:"FETCH_RETRY_MAX" yaml:"retry_max" toml:"retry_max"`
}

// SyncConfig holds the external sync collaborator configuration. An empty
// Endpoint disables syncing.
type SyncConfig struct {
	Endpoint          string   `envconfig:"SYNC_ENDPOINT" yaml:"endpoint" toml:"endpoint"`
	Token             string   `envconfig:"SYNC_TOKEN" yaml:"token" toml:"token"`
	Timeout           Duration `envconfig:"SYNC_TIMEOUT" yaml:"timeout" toml:"timeout"`
	RetryMax          int      `envconfig:"SYNC_RETRY_MAX" yaml:"retry_max" toml:"retry_max"`
	RequestsPerSecond float64  `envconfig:"SYNC_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	BreakerFailures   uint32   `envconfig:"SYNC_BREAKER_FAILURES" yaml:"breaker_failures" toml:"breaker_failures"`
	BreakerTimeout    Duration `envconfig:"SYNC_BREAKER_TIMEOUT" yaml:"breaker_timeout" toml:"breaker_timeout"`
}

// CacheConfig holds the pending-sync cache location. An empty Dir keeps
// failed batches in memory only.
type CacheConfig struct {
	Dir string `envconfig:"CACHE_DIR" yaml:"dir" toml:"dir"`
}

// BrowserConfig holds the Chrome target configuration.
type BrowserConfig struct {
	Enabled    bool   `envconfig:"BROWSER_ENABLED" yaml:"enabled" toml:"enabled"`
	ControlURL string `envconfig:"BROWSER_CONTROL_URL" yaml:"control_url" toml:"control_url"`
}

// Duration is a time.Duration written as "1s" or "250ms" in files and the
// environment.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Durations converts a slice.
func Durations(ds []Duration) []time.Duration {
	out := make([]time.Duration, len(ds))
	for i, d := range ds {
		out[i] = d.D()
	}
	return out
}

// Load loads configuration from environment variables over the defaults.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadFile layers defaults, then the file at path, then the environment.
// The format follows the extension: .yaml/.yml or .toml.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8000",
			Host:        "0.0.0.0",
			CORSOrigins: []string{"*"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Editor: EditorConfig{
			Origins:       []string{"vercel.app", "localhost", "127.0.0.1"},
			GracePeriod:   Duration(time.Second),
			ProbeDelays:   []Duration{Duration(2 * time.Second), Duration(5 * time.Second)},
			MaxElements:   500,
			MaxDepth:      32,
			MaxNodes:      10000,
			Interactive:   true,
			Scripts:       true,
			ScriptTimeout: Duration(5 * time.Second),
		},
		Fetch: FetchConfig{
			Timeout:           Duration(15 * time.Second),
			MaxBytes:          5 << 20,
			UserAgent:         "VisualEdit/1.0",
			RequestsPerSecond: 5,
			RetryMax:          2,
		},
		Sync: SyncConfig{
			Timeout:           Duration(10 * time.Second),
			RetryMax:          3,
			RequestsPerSecond: 2,
			BreakerFailures:   5,
			BreakerTimeout:    Duration(30 * time.Second),
		},
	}
}
