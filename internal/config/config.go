// Package config loads, validates and watches the YAML configuration of the
// TLS echo server.
package config

import (
	"time"

	avatls "github.com/vyrodovalexey/avatls/internal/tls"
)

// Default values.
const (
	DefaultListenAddress    = "127.0.0.1:8443"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadTimeout      = 5 * time.Minute
	DefaultMaxConnections   = 1024
	DefaultMetricsAddress   = ":9091"
	DefaultMetricsPath      = "/metrics"
)

// Config is the root configuration document.
type Config struct {
	Listener ListenerConfig `yaml:"listener" json:"listener"`
	TLS      avatls.Config  `yaml:"tls" json:"tls"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// ListenerConfig configures the TLS listener and per-connection limits.
type ListenerConfig struct {
	// Address is host:port. The host may be empty, an IP literal or a name.
	Address string `yaml:"address" json:"address"`

	// HandshakeTimeout bounds each TLS handshake. Zero disables the bound.
	HandshakeTimeout Duration `yaml:"handshakeTimeout,omitempty" json:"handshakeTimeout,omitempty"`

	// ReadTimeout bounds each read on an established stream. Zero disables it.
	ReadTimeout Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`

	// AcceptRate is the number of accepted connections per second. Zero is unlimited.
	AcceptRate float64 `yaml:"acceptRate,omitempty" json:"acceptRate,omitempty"`

	// AcceptBurst is the accept rate limiter burst.
	AcceptBurst int `yaml:"acceptBurst,omitempty" json:"acceptBurst,omitempty"`

	// MaxConnections bounds concurrently served streams.
	MaxConnections int `yaml:"maxConnections,omitempty" json:"maxConnections,omitempty"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// MetricsConfig configures the Prometheus exposition server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// DefaultConfig returns a configuration with default values and no key material.
func DefaultConfig() *Config {
	return &Config{
		Listener: ListenerConfig{
			Address:          DefaultListenAddress,
			HandshakeTimeout: Duration(DefaultHandshakeTimeout),
			ReadTimeout:      Duration(DefaultReadTimeout),
			MaxConnections:   DefaultMaxConnections,
		},
		TLS: *avatls.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: DefaultMetricsAddress,
			Path:    DefaultMetricsPath,
		},
	}
}

// ApplyDefaults fills zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Listener.Address == "" {
		c.Listener.Address = DefaultListenAddress
	}
	if c.Listener.MaxConnections == 0 {
		c.Listener.MaxConnections = DefaultMaxConnections
	}
	if c.Listener.AcceptRate > 0 && c.Listener.AcceptBurst == 0 {
		c.Listener.AcceptBurst = 1
	}
	if c.TLS.Version == "" {
		c.TLS.Version = avatls.DefaultTLSVersion
	}
	if c.TLS.CipherPolicy == "" && len(c.TLS.CipherSuites) == 0 {
		c.TLS.CipherPolicy = avatls.DefaultCipherPolicy
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = DefaultMetricsAddress
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
