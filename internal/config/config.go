// Package config handles configuration loading for the AS4 gateway.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows sensitive values
// like database credentials and broker addresses to be injected at runtime.
//
// # Configuration Sections
//
//   - server: HTTP server settings (port, TLS)
//   - storage: Database connection (PostgreSQL DSN)
//   - pmodes: Directory holding processing mode files
//   - agents: Polling intervals and batch sizes per agent
//   - janitor: Stale claim recovery window
//   - deliver: Consumer delivery endpoint
//   - notifications: Kafka brokers, topic and retry policy
//
// # Example Configuration
//
//	server:
//	  port: 8443
//	  tls:
//	    enabled: true
//	    certFile: /etc/ssl/gateway.crt
//	    keyFile: /etc/ssl/gateway.key
//
//	storage:
//	  postgres:
//	    dsn: ${POSTGRES_DSN}
//
//	pmodes:
//	  dir: /etc/as4-gateway/pmodes
//
//	notifications:
//	  brokers: ["${KAFKA_BROKER}"]
//	  topic: as4-notifications
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	PModes        PModesConfig        `yaml:"pmodes"`
	Agents        AgentsConfig        `yaml:"agents"`
	Janitor       JanitorConfig       `yaml:"janitor"`
	Deliver       DeliverConfig       `yaml:"deliver"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port int `yaml:"port"`
	TLS  struct {
		Enabled  bool   `yaml:"enabled"`
		CertFile string `yaml:"certFile"`
		KeyFile  string `yaml:"keyFile"`
	} `yaml:"tls"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// PModesConfig locates the processing mode files
type PModesConfig struct {
	Dir string `yaml:"dir"`
}

// AgentConfig holds the polling parameters of one agent
type AgentConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	BatchSize    int           `yaml:"batchSize"`
}

// AgentsConfig holds the per-agent polling settings
type AgentsConfig struct {
	Process            AgentConfig `yaml:"process"`
	Deliver            AgentConfig `yaml:"deliver"`
	Send               AgentConfig `yaml:"send"`
	Notify             AgentConfig `yaml:"notify"`
	ReceptionAwareness AgentConfig `yaml:"receptionAwareness"`
	Retry              AgentConfig `yaml:"retry"`
}

// JanitorConfig holds stale claim recovery settings. A row stuck in a busy
// claim marker longer than Window is released back into contention.
type JanitorConfig struct {
	Interval time.Duration `yaml:"interval"`
	Window   time.Duration `yaml:"window"`
}

// DeliverConfig holds consumer delivery settings
type DeliverConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// NotificationsConfig holds the consumer notification channel settings.
// Without brokers, notifications are written to the log.
type NotificationsConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Retry   struct {
		Enabled       bool          `yaml:"enabled"`
		MaxRetryCount int           `yaml:"maxRetryCount"`
		RetryInterval time.Duration `yaml:"retryInterval"`
	} `yaml:"retry"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.PModes.Dir == "" {
		c.PModes.Dir = "pmodes"
	}

	defaults := AgentConfig{PollInterval: 5 * time.Second, BatchSize: 10}
	for _, a := range []*AgentConfig{
		&c.Agents.Process, &c.Agents.Deliver, &c.Agents.Send,
		&c.Agents.Notify, &c.Agents.ReceptionAwareness, &c.Agents.Retry,
	} {
		if a.PollInterval == 0 {
			a.PollInterval = defaults.PollInterval
		}
		if a.BatchSize == 0 {
			a.BatchSize = defaults.BatchSize
		}
	}

	if c.Janitor.Interval == 0 {
		c.Janitor.Interval = time.Minute
	}
	if c.Janitor.Window == 0 {
		c.Janitor.Window = 10 * time.Minute
	}

	if c.Notifications.Topic == "" {
		c.Notifications.Topic = "as4-notifications"
	}
	if c.Notifications.Retry.MaxRetryCount == 0 {
		c.Notifications.Retry.MaxRetryCount = 5
	}
	if c.Notifications.Retry.RetryInterval == 0 {
		c.Notifications.Retry.RetryInterval = time.Minute
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func (c *Config) validate() error {
	if c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required")
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.certFile and server.tls.keyFile are required when TLS is enabled")
		}
	}

	if c.Janitor.Window < c.Janitor.Interval {
		return fmt.Errorf("janitor.window must not be shorter than janitor.interval")
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'text', got '%s'", c.Logging.Format)
	}

	return nil
}
