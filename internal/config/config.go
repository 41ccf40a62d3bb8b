// Package config loads the daemon configuration from a YAML file with an
// optional .env overlay for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Library  LibraryConfig  `yaml:"library"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects and configures the job store backend.
type DatabaseConfig struct {
	// Driver is sqlite, postgres or memory.
	Driver string `yaml:"driver"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// QueueConfig tunes the worker pool, retries and the circuit breaker.
type QueueConfig struct {
	Workers           int           `yaml:"workers"`
	PollIntervalMin   time.Duration `yaml:"poll_interval_min"`
	PollIntervalMax   time.Duration `yaml:"poll_interval_max"`
	StaleClaimAfter   time.Duration `yaml:"stale_claim_after"`
	BreakerThreshold  int           `yaml:"breaker_threshold"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace"`
	ScheduleInterval  time.Duration `yaml:"schedule_interval"`
	FinishedRetention time.Duration `yaml:"finished_retention"`
}

// LibraryConfig wires the media handlers.
type LibraryConfig struct {
	ProviderURL   string   `yaml:"provider_url"`
	Providers     []string `yaml:"providers"`
	NotifyTargets []string `yaml:"notify_targets"`
}

// AMQPConfig enables transition fan-out to the real-time layer.
type AMQPConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			Path:    "metarr.db",
			SSLMode: "disable",
		},
		Queue: QueueConfig{
			Workers:           3,
			PollIntervalMin:   100 * time.Millisecond,
			PollIntervalMax:   2 * time.Second,
			StaleClaimAfter:   5 * time.Minute,
			BreakerThreshold:  5,
			BreakerCooldown:   30 * time.Second,
			ShutdownGrace:     30 * time.Second,
			ScheduleInterval:  time.Minute,
			FinishedRetention: 7 * 24 * time.Hour,
		},
		AMQP: AMQPConfig{
			Exchange:   "metarr.jobs",
			RoutingKey: "job",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults. A .env next to the process, when
// present, is loaded first so ${VAR} style values in the environment are
// available to the caller.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case "postgres":
		if c.Database.Host == "" || c.Database.Database == "" {
			return fmt.Errorf("database host and name are required for postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Queue.Workers < 0 {
		return fmt.Errorf("queue workers must not be negative")
	}
	if c.Queue.PollIntervalMin > 0 && c.Queue.PollIntervalMax > 0 &&
		c.Queue.PollIntervalMax < c.Queue.PollIntervalMin {
		return fmt.Errorf("poll_interval_max must be >= poll_interval_min")
	}
	if c.AMQP.Enabled && c.AMQP.URL == "" {
		return fmt.Errorf("amqp url is required when amqp is enabled")
	}
	return nil
}
