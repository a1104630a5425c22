// Package config loads configuration for the imapctl command line tool.
//
// The library itself (the root goimap package) never reads a config file —
// callers pass typed DialOptions directly — but a real CLI built on top of
// it needs the usual file-plus-defaults layering, so this package keeps the
// koanf-based loader shape the rest of this lineage uses for its servers.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds imapctl's configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Auth    AuthConfig    `koanf:"auth"`
	Idle    IdleConfig    `koanf:"idle"`
	Fetch   FetchConfig   `koanf:"fetch"`
	Proxy   ProxyConfig   `koanf:"proxy"`
	Logging LoggingConfig `koanf:"logging"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// ServerConfig describes the server to dial.
type ServerConfig struct {
	Host        string `koanf:"host"`
	Port        int    `koanf:"port"`
	Secure      bool   `koanf:"secure"`       // dial straight into TLS (implicit TLS, usually port 993)
	DoSTARTTLS  *bool  `koanf:"starttls"`     // nil = opportunistic, true = required, false = never
	TLSInsecure bool   `koanf:"tls_insecure"` // skip certificate verification (testing only)
}

// AuthConfig describes how to authenticate.
type AuthConfig struct {
	Mechanism string `koanf:"mechanism"` // plain, login, oauthbearer, xoauth2, ""=LOGIN command
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
	AuthzID   string `koanf:"authzid"`
	Token     string `koanf:"token"` // OAuth bearer/access token
}

// IdleConfig tunes the idle supervisor.
type IdleConfig struct {
	Disabled         bool   `koanf:"disabled"`
	MaxIdleTime      string `koanf:"max_idle_time"`
	FallbackInterval string `koanf:"fallback_interval"`
}

// FetchConfig tunes download/fetch behavior.
type FetchConfig struct {
	ChunkSize int64 `koanf:"chunk_size"`
	MaxBytes  int64 `koanf:"max_bytes"`
}

// ProxyConfig describes an optional upstream proxy.
type ProxyConfig struct {
	URL string `koanf:"url"` // socks5://host:port or http://host:port
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Output string `koanf:"output"`
}

// MetricsConfig controls the optional Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 993,
		},
		Idle: IdleConfig{
			MaxIdleTime:      "29m",
			FallbackInterval: "15s",
		},
		Fetch: FetchConfig{
			ChunkSize: 65536,
			MaxBytes:  0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9119",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults for
// anything the file doesn't set. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Fetch.ChunkSize <= 0 {
		return fmt.Errorf("fetch.chunk_size must be positive")
	}
	if _, err := c.IdleMaxIdleTime(); err != nil {
		return fmt.Errorf("idle.max_idle_time: %w", err)
	}
	if _, err := c.IdleFallbackInterval(); err != nil {
		return fmt.Errorf("idle.fallback_interval: %w", err)
	}
	return nil
}

// IdleMaxIdleTime parses idle.max_idle_time as a duration.
func (c *Config) IdleMaxIdleTime() (time.Duration, error) {
	if c.Idle.MaxIdleTime == "" {
		return 29 * time.Minute, nil
	}
	return time.ParseDuration(c.Idle.MaxIdleTime)
}

// IdleFallbackInterval parses idle.fallback_interval as a duration.
func (c *Config) IdleFallbackInterval() (time.Duration, error) {
	if c.Idle.FallbackInterval == "" {
		return 15 * time.Second, nil
	}
	return time.ParseDuration(c.Idle.FallbackInterval)
}
