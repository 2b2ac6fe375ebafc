package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// MESHPLANE_MONITOR_INTERVAL=10s
const EnvPrefix = "MESHPLANE"

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("meshplane")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/meshplane/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing default config file is fine; an explicit path must exist
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.grpc_health_port", 8501)

	// Registry defaults
	v.SetDefault("registry.addr", ":8500")
	v.SetDefault("registry.url", "http://localhost:8500")
	v.SetDefault("registry.request_timeout", "5s")

	// Monitor defaults
	v.SetDefault("monitor.interval", "5s")
	v.SetDefault("monitor.probe_timeout", "2s")
	v.SetDefault("monitor.max_concurrent_probes", 16)

	// Hash ring defaults
	v.SetDefault("hash_ring.replicas", 100)
	v.SetDefault("hash_ring.hash_function", "sha256")

	// Gateway defaults
	v.SetDefault("gateway.addr", ":8080")
	v.SetDefault("gateway.refresh_interval", "10s")
	v.SetDefault("gateway.forward_timeout", "10s")
	v.SetDefault("gateway.write_timeout", "10s")
	v.SetDefault("gateway.max_message_bytes", 1048576)
	v.SetDefault("gateway.prune_stale_nodes", false)

	// Worker defaults
	v.SetDefault("worker.addr", ":9000")
	v.SetDefault("worker.node_id", "")
	v.SetDefault("worker.advertise_endpoint", "")
	v.SetDefault("worker.stake", "0")
	v.SetDefault("worker.throughput", 0.0)
	v.SetDefault("worker.register_max_retries", 10)
	v.SetDefault("worker.register_retry_interval", "2s")

	// Gossip defaults
	v.SetDefault("gossip.enabled", false)
	v.SetDefault("gossip.bind_addr", "0.0.0.0")
	v.SetDefault("gossip.bind_port", 7946)
	v.SetDefault("gossip.seeds", []string{})

	// Rate limiter defaults
	v.SetDefault("rate_limiter.enabled", true)
	v.SetDefault("rate_limiter.requests_per_second", 1000.0)
	v.SetDefault("rate_limiter.burst_size", 100)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}
