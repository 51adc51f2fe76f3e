package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all daemon configuration.
type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Mux       MuxConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `envconfig:"HOST" toml:"host" default:"127.0.0.1"`
	Port string `envconfig:"PORT" toml:"port" default:"7681"`
}

// BackendConfig selects and configures the PTY backend.
type BackendConfig struct {
	// Mode is "local" (in-process PTY host) or "remote" (WebSocket client).
	Mode string `envconfig:"BACKEND_MODE" toml:"mode" default:"local"`
	// Address of the remote PTY host, e.g. "http://127.0.0.1:7682".
	Address string `envconfig:"BACKEND_ADDR" toml:"address" default:""`
	// Shell overrides $SHELL for new local sessions.
	Shell string `envconfig:"SHELL_OVERRIDE" toml:"shell" default:""`
}

// MuxConfig holds multiplexer tuning constants. These are internal knobs,
// not end-user facing.
type MuxConfig struct {
	// BufferCapacity is the per-session replay buffer size in chunks.
	BufferCapacity int `envconfig:"BUFFER_CAPACITY" toml:"buffer_capacity" default:"1000"`
	// ResizeDebounce coalesces high-frequency geometry signals. One
	// animation frame by default.
	ResizeDebounce time.Duration `envconfig:"RESIZE_DEBOUNCE" toml:"resize_debounce" default:"16ms"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" toml:"level" default:"info"`
	Development bool   `envconfig:"LOG_DEV" toml:"development" default:"false"`
}

// RateLimitConfig holds rate limiting configuration for the HTTP surface.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" toml:"requests_per_second" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" toml:"burst" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" toml:"enabled" default:"true"`
}

// Load loads configuration from environment variables with the TERMMUX prefix.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("termmux", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile loads configuration from env, then overlays values from a TOML
// file. The file wins over the environment for keys it sets; a missing file
// is not an error so a bare install runs on defaults.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: "7681",
		},
		Backend: BackendConfig{
			Mode: "local",
		},
		Mux: MuxConfig{
			BufferCapacity: 1000,
			ResizeDebounce: 16 * time.Millisecond,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
