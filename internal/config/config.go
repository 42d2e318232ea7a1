// Package config loads gateboard settings from defaults, an optional YAML
// file and GATEBOARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// GATEBOARD_SIMULATION_TICK_INTERVAL.
const EnvPrefix = "GATEBOARD"

// Config holds all application configuration.
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	Query      QueryConfig      `mapstructure:"query"`
	Runtime    RuntimeConfig    `mapstructure:"runtime"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	Port int    `mapstructure:"port"`
}

// Address returns host:port for net.Listen.
func (h HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", h.Addr, h.Port)
}

// LogConfig configures logging. An empty Dir logs to stderr.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

// SimulationConfig sizes the synthetic boards and the update loop.
type SimulationConfig struct {
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	MutationProbability float64       `mapstructure:"mutation_probability"`
	DelayProbability    float64       `mapstructure:"delay_probability"`
	Departures          int           `mapstructure:"departures"`
	Arrivals            int           `mapstructure:"arrivals"`
	// Seed fixes the random source; 0 seeds from the clock.
	Seed uint64 `mapstructure:"seed"`
}

// UpstreamConfig configures the external flight data API.
type UpstreamConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	BaseURL    string        `mapstructure:"base_url"`
	AccessKey  string        `mapstructure:"access_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	// RefreshInterval of 0 disables periodic refresh.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	Workers         int           `mapstructure:"workers"`
}

// QueryConfig tunes the query engine.
type QueryConfig struct {
	ConnectionCacheSize int `mapstructure:"connection_cache_size"`
}

// RuntimeConfig tunes the Go runtime for small deployments. Zero values
// leave the runtime defaults alone.
type RuntimeConfig struct {
	MaxProcs      int `mapstructure:"max_procs"`
	GCPercent     int `mapstructure:"gc_percent"`
	MemoryLimitMB int `mapstructure:"memory_limit_mb"`

	// SoftLimitMB is where the memory monitor starts shedding caches. With
	// both limits zero the monitor does not run.
	SoftLimitMB     int           `mapstructure:"soft_limit_mb"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
}

// Apply applies the configuration to the runtime.
func (r RuntimeConfig) Apply() {
	if r.MaxProcs > 0 {
		runtime.GOMAXPROCS(r.MaxProcs)
	}
	if r.GCPercent > 0 {
		debug.SetGCPercent(r.GCPercent)
	}
	if r.MemoryLimitMB > 0 {
		debug.SetMemoryLimit(int64(r.MemoryLimitMB) * 1024 * 1024)
	}
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", "0.0.0.0")
	v.SetDefault("http.port", 8080)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "")

	v.SetDefault("simulation.tick_interval", 30*time.Second)
	v.SetDefault("simulation.mutation_probability", 0.1)
	v.SetDefault("simulation.delay_probability", 0.3)
	v.SetDefault("simulation.departures", 40)
	v.SetDefault("simulation.arrivals", 35)
	v.SetDefault("simulation.seed", 0)

	v.SetDefault("upstream.enabled", false)
	v.SetDefault("upstream.base_url", "http://api.aviationstack.com/v1")
	v.SetDefault("upstream.access_key", "demo")
	v.SetDefault("upstream.timeout", 10*time.Second)
	v.SetDefault("upstream.max_retries", 1)
	v.SetDefault("upstream.refresh_interval", time.Duration(0))
	v.SetDefault("upstream.workers", 4)

	v.SetDefault("query.connection_cache_size", 1024)

	v.SetDefault("runtime.max_procs", 0)
	v.SetDefault("runtime.gc_percent", 0)
	v.SetDefault("runtime.memory_limit_mb", 0)
	v.SetDefault("runtime.soft_limit_mb", 0)
	v.SetDefault("runtime.monitor_interval", 5*time.Second)
}

// Default returns the configuration with no file or environment applied.
func Default() Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return cfg
}

// Load reads configuration into v. path is an optional YAML file; flags
// bound to v by the caller take precedence over everything else.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.Simulation.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("simulation.tick_interval must be positive, got %s", c.Simulation.TickInterval))
	}
	if p := c.Simulation.MutationProbability; p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("simulation.mutation_probability %g outside [0,1]", p))
	}
	if p := c.Simulation.DelayProbability; p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("simulation.delay_probability %g outside [0,1]", p))
	}
	if c.Simulation.Departures < 0 {
		errs = append(errs, fmt.Errorf("simulation.departures must not be negative"))
	}
	if c.Simulation.Arrivals < 0 {
		errs = append(errs, fmt.Errorf("simulation.arrivals must not be negative"))
	}
	if c.Upstream.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("upstream.max_retries must not be negative"))
	}
	if c.Upstream.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("upstream.refresh_interval must not be negative"))
	}
	if c.Upstream.Enabled && c.Upstream.BaseURL == "" {
		errs = append(errs, fmt.Errorf("upstream.base_url is required when upstream is enabled"))
	}
	if r := c.Runtime; r.SoftLimitMB > 0 && r.MemoryLimitMB > 0 && r.SoftLimitMB > r.MemoryLimitMB {
		errs = append(errs, fmt.Errorf("runtime.soft_limit_mb %d exceeds runtime.memory_limit_mb %d", r.SoftLimitMB, r.MemoryLimitMB))
	}
	if c.Query.ConnectionCacheSize < 0 {
		errs = append(errs, fmt.Errorf("query.connection_cache_size must not be negative"))
	}
	return errors.Join(errs...)
}
