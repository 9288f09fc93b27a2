package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and defaults.
// Priority (highest to lowest): recognized env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	// Generic namespaced environment variables (UCSBRIDGE_SCHEDULER_CAP_FLOOR, ...)
	v.SetEnvPrefix("UCSBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The handful of bare, non-namespaced env vars the upstream tooling recognizes directly.
	bindLegacyEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("ucsbridge")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".ucsbridge"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// LOCAL enables the in-memory cache backend regardless of CACHE_BACKEND.
	if v.GetBool("local") {
		cfg.Cache.Backend = "memory"
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

// bindLegacyEnv binds the bare environment variable names documented in
// spec.md §6, which intentionally bypass the UCSBRIDGE_ prefix.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("proxy.url", "PROXY_URL")
	_ = v.BindEnv("ucs.default_user", "UCS_DEFAULT_USER")
	_ = v.BindEnv("ucs.default_password", "UCS_DEFAULT_PASSWORD")
	_ = v.BindEnv("cache.backend", "CACHE_BACKEND")
	_ = v.BindEnv("cache.host", "CACHE_HOST")
	_ = v.BindEnv("cache.port", "CACHE_PORT")
	_ = v.BindEnv("local", "LOCAL")
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("scheduler.cap_floor", cfg.Scheduler.CapFloor)
	v.SetDefault("scheduler.cap_ceiling", cfg.Scheduler.CapCeiling)
	v.SetDefault("scheduler.cap_window", cfg.Scheduler.CapWindow)
	v.SetDefault("scheduler.dispatch_idle", cfg.Scheduler.DispatchIdle)
	v.SetDefault("scheduler.quantile_depth", cfg.Scheduler.QuantileDepth)

	v.SetDefault("ucs.base_url", cfg.UCS.BaseURL)
	v.SetDefault("ucs.default_user", cfg.UCS.DefaultUser)
	v.SetDefault("ucs.default_password", cfg.UCS.DefaultPassword)
	v.SetDefault("ucs.request_timeout", cfg.UCS.RequestTimeout)
	v.SetDefault("ucs.connect_timeout", cfg.UCS.ConnectTimeout)
	v.SetDefault("ucs.proxy_timeout", cfg.UCS.ProxyTimeout)
	v.SetDefault("ucs.retry_attempts", cfg.UCS.RetryAttempts)
	v.SetDefault("ucs.retry_base_delay", cfg.UCS.RetryBaseDelay)
	v.SetDefault("ucs.flights_max", cfg.UCS.FlightsMax)

	v.SetDefault("proxy.url", cfg.Proxy.URL)

	v.SetDefault("cache.backend", cfg.Cache.Backend)
	v.SetDefault("cache.host", cfg.Cache.Host)
	v.SetDefault("cache.port", cfg.Cache.Port)
	v.SetDefault("cache.read_ttl", cfg.Cache.ReadTTL)
	v.SetDefault("cache.health_ttl", cfg.Cache.HealthTTL)
	v.SetDefault("cache.sweep_every", cfg.Cache.SweepEvery)

	v.SetDefault("dfs.base_url", cfg.DFS.BaseURL)
	v.SetDefault("dfs.max_concurrent_jobs", cfg.DFS.MaxConcurrentJobs)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	v.SetDefault("api.port", cfg.API.Port)
}
