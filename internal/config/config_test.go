package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("no path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, "sqlite", cfg.Database.Driver)
		assert.Equal(t, 3, cfg.Queue.Workers)
		assert.Equal(t, 7*24*time.Hour, cfg.Queue.FinishedRetention)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)

		assert.Equal(t, ":9090", cfg.Server.Addr)
		assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, "/var/lib/metarr/metarr.db", cfg.Database.Path)
		assert.Equal(t, 6, cfg.Queue.Workers)
		assert.Equal(t, 250*time.Millisecond, cfg.Queue.PollIntervalMin)
		assert.Equal(t, 10, cfg.Queue.BreakerThreshold)
		assert.Equal(t, 72*time.Hour, cfg.Queue.FinishedRetention)
		assert.Equal(t, "http://metadata.local:7878", cfg.Library.ProviderURL)
		assert.Equal(t, []string{"tmdb", "omdb"}, cfg.Library.Providers)
		assert.True(t, cfg.AMQP.Enabled)
		assert.Equal(t, "metarr.jobs", cfg.AMQP.Exchange)
		assert.Equal(t, "debug", cfg.Logging.Level)

		// Untouched keys keep their defaults.
		assert.Equal(t, 30*time.Second, cfg.Queue.BreakerCooldown)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load("testdata/nonexistent.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read config file")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load("testdata/malformed.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config file")
	})

	t.Run("invalid config rejected at load", func(t *testing.T) {
		_, err := Load("testdata/bad_driver.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown database driver")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:   "memory driver needs nothing",
			mutate: func(c *Config) { c.Database = DatabaseConfig{Driver: "memory"} },
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database path is required",
		},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.Database.Driver = "postgres"
				c.Database.Database = "metarr"
			},
			wantErr: "host and name are required",
		},
		{
			name:    "negative workers",
			mutate:  func(c *Config) { c.Queue.Workers = -1 },
			wantErr: "workers must not be negative",
		},
		{
			name: "poll interval inversion",
			mutate: func(c *Config) {
				c.Queue.PollIntervalMin = time.Second
				c.Queue.PollIntervalMax = 100 * time.Millisecond
			},
			wantErr: "poll_interval_max",
		},
		{
			name:    "amqp enabled without url",
			mutate:  func(c *Config) { c.AMQP.Enabled = true },
			wantErr: "amqp url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
