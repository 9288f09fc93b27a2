package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Scheduler.CapFloor < 1 {
		return fmt.Errorf("scheduler.cap_floor must be >= 1, got %d", cfg.Scheduler.CapFloor)
	}
	if cfg.Scheduler.CapCeiling < cfg.Scheduler.CapFloor {
		return fmt.Errorf("scheduler.cap_ceiling (%d) must be >= cap_floor (%d)", cfg.Scheduler.CapCeiling, cfg.Scheduler.CapFloor)
	}
	if cfg.Scheduler.CapWindow < 20 {
		return fmt.Errorf("scheduler.cap_window must be >= 20 (the minimum-sample gate), got %d", cfg.Scheduler.CapWindow)
	}
	if cfg.Scheduler.DispatchIdle <= 0 {
		return fmt.Errorf("scheduler.dispatch_idle must be > 0")
	}
	if cfg.Scheduler.QuantileDepth < 1 {
		return fmt.Errorf("scheduler.quantile_depth must be >= 1, got %d", cfg.Scheduler.QuantileDepth)
	}

	if cfg.UCS.BaseURL == "" {
		return fmt.Errorf("ucs.base_url must be set")
	}
	if _, err := url.Parse(cfg.UCS.BaseURL); err != nil {
		return fmt.Errorf("invalid ucs.base_url: %w", err)
	}
	if cfg.UCS.RequestTimeout <= 0 {
		return fmt.Errorf("ucs.request_timeout must be > 0")
	}
	if cfg.UCS.ProxyTimeout <= 0 {
		return fmt.Errorf("ucs.proxy_timeout must be > 0")
	}
	if cfg.UCS.RetryAttempts < 1 {
		return fmt.Errorf("ucs.retry_attempts must be >= 1, got %d", cfg.UCS.RetryAttempts)
	}
	if cfg.UCS.FlightsMax < 1 {
		return fmt.Errorf("ucs.flights_max must be >= 1, got %d", cfg.UCS.FlightsMax)
	}

	if cfg.Proxy.URL != "" {
		if _, err := url.Parse(cfg.Proxy.URL); err != nil {
			return fmt.Errorf("invalid proxy.url %q: %w", cfg.Proxy.URL, err)
		}
	}

	validCacheBackends := map[string]bool{"memory": true, "remote": true}
	if !validCacheBackends[cfg.Cache.Backend] {
		return fmt.Errorf("cache.backend must be 'memory' or 'remote', got %q", cfg.Cache.Backend)
	}
	if cfg.Cache.Backend == "remote" {
		if cfg.Cache.Host == "" {
			return fmt.Errorf("cache.host must be set when cache.backend is 'remote'")
		}
		if cfg.Cache.Port < 1 || cfg.Cache.Port > 65535 {
			return fmt.Errorf("cache.port must be 1-65535, got %d", cfg.Cache.Port)
		}
	}
	if cfg.Cache.ReadTTL <= 0 {
		return fmt.Errorf("cache.read_ttl must be > 0")
	}
	if cfg.Cache.HealthTTL <= 0 {
		return fmt.Errorf("cache.health_ttl must be > 0")
	}

	if cfg.DFS.MaxConcurrentJobs < 1 {
		return fmt.Errorf("dfs.max_concurrent_jobs must be >= 1, got %d", cfg.DFS.MaxConcurrentJobs)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}
	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port must be 1-65535, got %d", cfg.API.Port)
	}

	return nil
}
