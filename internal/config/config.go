// Package config provides configuration management for meshplane processes.
package config

import (
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/devrev/meshplane/internal/algorithm"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the registry, gateway and worker.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Registry    RegistryConfig    `mapstructure:"registry" yaml:"registry"`
	Monitor     MonitorConfig     `mapstructure:"monitor" yaml:"monitor"`
	HashRing    HashRingConfig    `mapstructure:"hash_ring" yaml:"hash_ring"`
	Gateway     GatewayConfig     `mapstructure:"gateway" yaml:"gateway"`
	Worker      WorkerConfig      `mapstructure:"worker" yaml:"worker"`
	Gossip      GossipConfig      `mapstructure:"gossip" yaml:"gossip"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter" yaml:"rate_limiter"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP server settings shared by every process.
type ServerConfig struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// GRPCHealthPort serves grpc.health.v1 on the registry; 0 disables it
	GRPCHealthPort int `mapstructure:"grpc_health_port" yaml:"grpc_health_port"`
}

// RegistryConfig holds the registry listener and the address clients use to reach it.
type RegistryConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	URL            string        `mapstructure:"url" yaml:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// MonitorConfig holds liveness monitor settings.
type MonitorConfig struct {
	Interval            time.Duration `mapstructure:"interval" yaml:"interval"`
	ProbeTimeout        time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	MaxConcurrentProbes int           `mapstructure:"max_concurrent_probes" yaml:"max_concurrent_probes"`
}

// HashRingConfig holds consistent hashing settings.
type HashRingConfig struct {
	Replicas     int    `mapstructure:"replicas" yaml:"replicas"`
	HashFunction string `mapstructure:"hash_function" yaml:"hash_function"`
}

// GatewayConfig holds gateway router settings.
type GatewayConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`
	ForwardTimeout  time.Duration `mapstructure:"forward_timeout" yaml:"forward_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	PruneStaleNodes bool          `mapstructure:"prune_stale_nodes" yaml:"prune_stale_nodes"`
}

// WorkerConfig holds worker node settings.
type WorkerConfig struct {
	Addr                  string        `mapstructure:"addr" yaml:"addr"`
	NodeID                string        `mapstructure:"node_id" yaml:"node_id"`
	AdvertiseEndpoint     string        `mapstructure:"advertise_endpoint" yaml:"advertise_endpoint"`
	Stake                 string        `mapstructure:"stake" yaml:"stake"`
	Throughput            float64       `mapstructure:"throughput" yaml:"throughput"`
	RegisterMaxRetries    int           `mapstructure:"register_max_retries" yaml:"register_max_retries"`
	RegisterRetryInterval time.Duration `mapstructure:"register_retry_interval" yaml:"register_retry_interval"`
}

// GossipConfig holds memberlist settings.
type GossipConfig struct {
	Enabled  bool     `mapstructure:"enabled" yaml:"enabled"`
	BindAddr string   `mapstructure:"bind_addr" yaml:"bind_addr"`
	BindPort int      `mapstructure:"bind_port" yaml:"bind_port"`
	Seeds    []string `mapstructure:"seeds" yaml:"seeds"`
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size" yaml:"burst_size"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// Validate checks settings shared by all roles.
func (c *Config) Validate() error {
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown timeout must be positive")
	}
	if c.Server.GRPCHealthPort < 0 || c.Server.GRPCHealthPort > 65535 {
		return fmt.Errorf("invalid grpc health port: %d", c.Server.GRPCHealthPort)
	}

	if err := validateHTTPURL(c.Registry.URL); err != nil {
		return fmt.Errorf("invalid registry url: %w", err)
	}

	if c.HashRing.Replicas <= 0 {
		return fmt.Errorf("hash ring replicas must be positive")
	}
	if _, err := algorithm.HashFuncByName(c.HashRing.HashFunction); err != nil {
		return err
	}

	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate limiter requests per second must be positive")
		}
		if c.RateLimiter.BurstSize <= 0 {
			return fmt.Errorf("rate limiter burst size must be positive")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}

	return nil
}

// ValidateRegistry checks settings used by the registry process.
func (c *Config) ValidateRegistry() error {
	if err := validateAddr(c.Registry.Addr); err != nil {
		return fmt.Errorf("invalid registry addr: %w", err)
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	if c.Monitor.ProbeTimeout <= 0 {
		return fmt.Errorf("monitor probe timeout must be positive")
	}
	if c.Monitor.MaxConcurrentProbes <= 0 {
		return fmt.Errorf("monitor max concurrent probes must be positive")
	}
	return c.validateGossip()
}

// ValidateGateway checks settings used by the gateway process.
func (c *Config) ValidateGateway() error {
	if err := validateAddr(c.Gateway.Addr); err != nil {
		return fmt.Errorf("invalid gateway addr: %w", err)
	}
	if c.Gateway.RefreshInterval <= 0 {
		return fmt.Errorf("gateway refresh interval must be positive")
	}
	if c.Gateway.ForwardTimeout <= 0 {
		return fmt.Errorf("gateway forward timeout must be positive")
	}
	return nil
}

// ValidateWorker checks settings used by a worker process.
func (c *Config) ValidateWorker() error {
	if err := validateAddr(c.Worker.Addr); err != nil {
		return fmt.Errorf("invalid worker addr: %w", err)
	}
	if c.Worker.AdvertiseEndpoint != "" {
		if err := validateHTTPURL(c.Worker.AdvertiseEndpoint); err != nil {
			return fmt.Errorf("invalid worker advertise endpoint: %w", err)
		}
	}
	stake, err := c.Worker.StakeDecimal()
	if err != nil {
		return fmt.Errorf("invalid worker stake: %w", err)
	}
	if stake.IsNegative() {
		return fmt.Errorf("worker stake must be non-negative")
	}
	if c.Worker.Throughput < 0 {
		return fmt.Errorf("worker throughput must be non-negative")
	}
	if c.Worker.RegisterMaxRetries <= 0 {
		return fmt.Errorf("worker register max retries must be positive")
	}
	return c.validateGossip()
}

// StakeDecimal parses the configured stake. An empty value is zero.
func (w WorkerConfig) StakeDecimal() (decimal.Decimal, error) {
	if w.Stake == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(w.Stake)
}

// Endpoint returns the URL the worker registers under
func (w WorkerConfig) Endpoint() string {
	if w.AdvertiseEndpoint != "" {
		return w.AdvertiseEndpoint
	}
	host, port, err := net.SplitHostPort(w.Addr)
	if err != nil {
		return "http://localhost" + w.Addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func (c *Config) validateGossip() error {
	if !c.Gossip.Enabled {
		return nil
	}
	if c.Gossip.BindPort < 0 || c.Gossip.BindPort > 65535 {
		return fmt.Errorf("invalid gossip bind port: %d", c.Gossip.BindPort)
	}
	return nil
}

func validateAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return err
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q must be an absolute http(s) URL", raw)
	}
	return nil
}
