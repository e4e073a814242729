// Package config provides configuration loading and defaults for the
// dedicated connection probe.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/centraunit/dedicated"
)

// DefaultConnectionPrefix is the environment prefix overriding the default
// connection, e.g. DEFAULT_DB_HOST.
const DefaultConnectionPrefix = "DEFAULT"

// LokiConfig controls shipping logs to Grafana Loki.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Component is attached to every entry and used as the Loki stream label.
	Component string     `yaml:"component"`
	Loki      LokiConfig `yaml:"loki"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Config is the top-level configuration structure.
type Config struct {
	DefaultConnection dedicated.ConnectionConfig `yaml:"default_connection"`
	// ClosePolicy is "silent" or "propagate".
	ClosePolicy   string        `yaml:"close_policy"`
	PingOnConnect bool          `yaml:"ping_on_connect"`
	Channels      []string      `yaml:"channels"`
	Logging       LoggingConfig `yaml:"logging"`
	Metrics       MetricsConfig `yaml:"metrics"`
}

// Load reads and parses a YAML configuration file on top of DefaultConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a new Config populated with default values.
//
// Defaults:
//   - DefaultConnection.Driver = "mysql", Host = "127.0.0.1", Port = 3306
//   - ClosePolicy = "silent"
//   - PingOnConnect = true
//   - Logging.Level = "info", Logging.Format = "json"
//   - Metrics.Listen = ":9102"
func DefaultConfig() *Config {
	return &Config{
		DefaultConnection: dedicated.ConnectionConfig{
			Driver:  "mysql",
			Host:    "127.0.0.1",
			Port:    3306,
			Charset: "utf8mb4",
		},
		ClosePolicy:   "silent",
		PingOnConnect: true,
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			Component: "dedicated-probe",
		},
		Metrics: MetricsConfig{
			Listen: ":9102",
		},
	}
}

// ApplyEnvOverrides updates cfg in place from env.
//
// Recognized variables:
//   - DEFAULT_DB_HOST, DEFAULT_DB_PORT, ... -> cfg.DefaultConnection
//   - DEDICATED_LOG_LEVEL -> cfg.Logging.Level
//   - DEDICATED_CLOSE_POLICY -> cfg.ClosePolicy
func ApplyEnvOverrides(cfg *Config, env dedicated.Environment) error {
	if env == nil {
		env = dedicated.OSEnvironment{}
	}
	conn, _, err := dedicated.ApplyEnvironment(DefaultConnectionPrefix, cfg.DefaultConnection, env)
	if err != nil {
		return err
	}
	cfg.DefaultConnection = conn
	if v, ok := env.LookupEnv("DEDICATED_LOG_LEVEL"); ok && v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := env.LookupEnv("DEDICATED_CLOSE_POLICY"); ok && v != "" {
		cfg.ClosePolicy = v
	}
	return nil
}

// ParseClosePolicy maps the configuration value to a resolver close policy.
func ParseClosePolicy(value string) (dedicated.ClosePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "silent":
		return dedicated.CloseSilently, nil
	case "propagate":
		return dedicated.ClosePropagateFirst, nil
	default:
		return 0, fmt.Errorf("unknown close policy %q", value)
	}
}

// Validate reports the first problem found in cfg.
func (c *Config) Validate() error {
	if c.DefaultConnection.Driver == "" {
		return fmt.Errorf("default_connection.driver is required")
	}
	if _, err := ParseClosePolicy(c.ClosePolicy); err != nil {
		return err
	}
	for i, ch := range c.Channels {
		if ch == "" {
			return fmt.Errorf("channels[%d] is empty", i)
		}
	}
	if c.Logging.Loki.Enabled && c.Logging.Loki.URL == "" {
		return fmt.Errorf("logging.loki.url is required when loki is enabled")
	}
	return nil
}
