package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Address())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 30*time.Second, cfg.Simulation.TickInterval)
	assert.InDelta(t, 0.1, cfg.Simulation.MutationProbability, 1e-9)
	assert.InDelta(t, 0.3, cfg.Simulation.DelayProbability, 1e-9)
	assert.Equal(t, 40, cfg.Simulation.Departures)
	assert.Equal(t, 35, cfg.Simulation.Arrivals)
	assert.Equal(t, uint64(0), cfg.Simulation.Seed)
	assert.False(t, cfg.Upstream.Enabled)
	assert.Equal(t, "http://api.aviationstack.com/v1", cfg.Upstream.BaseURL)
	assert.Equal(t, "demo", cfg.Upstream.AccessKey)
	assert.Equal(t, 10*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 1, cfg.Upstream.MaxRetries)
	assert.Equal(t, time.Duration(0), cfg.Upstream.RefreshInterval)
	assert.Equal(t, 1024, cfg.Query.ConnectionCacheSize)
	assert.Equal(t, 5*time.Second, cfg.Runtime.MonitorInterval)
	assert.Zero(t, cfg.Runtime.SoftLimitMB)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  port: 9090
simulation:
  tick_interval: 5s
  departures: 10
  seed: 42
upstream:
  enabled: true
  access_key: abc123
`), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.Simulation.TickInterval)
	assert.Equal(t, 10, cfg.Simulation.Departures)
	assert.Equal(t, 35, cfg.Simulation.Arrivals)
	assert.Equal(t, uint64(42), cfg.Simulation.Seed)
	assert.True(t, cfg.Upstream.Enabled)
	assert.Equal(t, "abc123", cfg.Upstream.AccessKey)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))

	t.Setenv("GATEBOARD_LOG_LEVEL", "warn")
	t.Setenv("GATEBOARD_SIMULATION_MUTATION_PROBABILITY", "0.5")
	t.Setenv("GATEBOARD_UPSTREAM_REFRESH_INTERVAL", "2m")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.InDelta(t, 0.5, cfg.Simulation.MutationProbability, 1e-9)
	assert.Equal(t, 2*time.Minute, cfg.Upstream.RefreshInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("GATEBOARD_SIMULATION_DELAY_PROBABILITY", "1.5")

	_, err := Load(viper.New(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delay_probability")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"tick interval", func(c *Config) { c.Simulation.TickInterval = 0 }, "tick_interval"},
		{"mutation probability", func(c *Config) { c.Simulation.MutationProbability = -0.1 }, "mutation_probability"},
		{"negative departures", func(c *Config) { c.Simulation.Departures = -1 }, "departures"},
		{"negative arrivals", func(c *Config) { c.Simulation.Arrivals = -1 }, "arrivals"},
		{"port", func(c *Config) { c.HTTP.Port = 70000 }, "http.port"},
		{"retries", func(c *Config) { c.Upstream.MaxRetries = -1 }, "max_retries"},
		{"base url", func(c *Config) { c.Upstream.Enabled, c.Upstream.BaseURL = true, "" }, "base_url"},
		{"cache size", func(c *Config) { c.Query.ConnectionCacheSize = -5 }, "connection_cache_size"},
		{"soft limit", func(c *Config) { c.Runtime.SoftLimitMB, c.Runtime.MemoryLimitMB = 512, 256 }, "soft_limit_mb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Simulation.TickInterval = -time.Second
	cfg.Simulation.Departures = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tick_interval")
	assert.Contains(t, err.Error(), "departures")
}
