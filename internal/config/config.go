// Package config loads roomsync configuration from YAML and the environment.
//
// Values are resolved in order: YAML file (with ${VAR} expansion), ROOMSYNC_*
// environment overrides, then defaults for anything still unset.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ROOMSYNC_"

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Identity  IdentityConfig  `yaml:"identity" envPrefix:"IDENTITY_"`
	Transport TransportConfig `yaml:"transport" envPrefix:"TRANSPORT_"`
	Writes    WritesConfig    `yaml:"writes" envPrefix:"WRITES_"`
	API       APIConfig       `yaml:"api" envPrefix:"API_"`
	Poller    PollerConfig    `yaml:"poller" envPrefix:"POLLER_"`
	Metrics   MetricsConfig   `yaml:"metrics" envPrefix:"METRICS_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
}

// ServerConfig locates the rooms server.
type ServerConfig struct {
	RestURL string `yaml:"rest_url" env:"REST_URL"`
	WSURL   string `yaml:"ws_url" env:"WS_URL"`
}

// IdentityConfig selects the acting user.
type IdentityConfig struct {
	Username  string `yaml:"username" env:"USERNAME"`
	Token     string `yaml:"token" env:"TOKEN"`
	TokenFile string `yaml:"token_file" env:"TOKEN_FILE"`
}

// TransportConfig tunes the room websocket.
type TransportConfig struct {
	ConnectTimeout       time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay" env:"RECONNECT_DELAY"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" env:"MAX_RECONNECT_ATTEMPTS"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	PingInterval         time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	PingTimeout          time.Duration `yaml:"ping_timeout" env:"PING_TIMEOUT"`
	WriteTimeout         time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	BufferSize           int           `yaml:"buffer_size" env:"BUFFER_SIZE"`
}

// WritesConfig tunes the coalesced write path.
type WritesConfig struct {
	ThrottleInterval time.Duration `yaml:"throttle_interval" env:"THROTTLE_INTERVAL"`
	RequestTimeout   time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// APIConfig tunes the REST client.
type APIConfig struct {
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF"`
}

// PollerConfig tunes the snapshot resync poller. Zero disables it.
type PollerConfig struct {
	ResyncInterval time.Duration `yaml:"resync_interval" env:"RESYNC_INTERVAL"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" env:"ADDR"`
	Path    string `yaml:"path" env:"PATH"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// SlogLevel returns the configured level, Info when unrecognized.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads the YAML file at path, expanding ${VAR} references, and applies
// environment overrides. An empty path starts from an empty config.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads the config and fills unset fields with defaults.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads the config, applies defaults, and validates it.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}
