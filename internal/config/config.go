package config

import "time"

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for the UCS→DFS import bridge.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	UCS       UCSConfig       `mapstructure:"ucs"       yaml:"ucs"`
	Proxy     ProxyConfig     `mapstructure:"proxy"     yaml:"proxy"`
	Cache     CacheConfig     `mapstructure:"cache"     yaml:"cache"`
	DFS       DFSConfig       `mapstructure:"dfs"       yaml:"dfs"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   yaml:"metrics"`
	API       APIConfig       `mapstructure:"api"       yaml:"api"`
}

// SchedulerConfig controls the DRR scheduler and its adaptive concurrency cap.
type SchedulerConfig struct {
	CapFloor      int           `mapstructure:"cap_floor"      yaml:"cap_floor"`
	CapCeiling    int           `mapstructure:"cap_ceiling"    yaml:"cap_ceiling"`
	CapWindow     int           `mapstructure:"cap_window"     yaml:"cap_window"`
	DispatchIdle  time.Duration `mapstructure:"dispatch_idle"  yaml:"dispatch_idle"`
	QuantileDepth int           `mapstructure:"quantile_depth" yaml:"quantile_depth"`
}

// UCSConfig controls the upstream contest-site session and request pipeline.
type UCSConfig struct {
	BaseURL         string        `mapstructure:"base_url"         yaml:"base_url"`
	DefaultUser     string        `mapstructure:"default_user"     yaml:"default_user"`
	DefaultPassword string        `mapstructure:"default_password" yaml:"default_password"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"  yaml:"request_timeout"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"  yaml:"connect_timeout"`
	ProxyTimeout    time.Duration `mapstructure:"proxy_timeout"    yaml:"proxy_timeout"`
	RetryAttempts   int           `mapstructure:"retry_attempts"   yaml:"retry_attempts"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	FlightsMax      int           `mapstructure:"flights_max"      yaml:"flights_max"`
}

// ProxyConfig controls the single retry/timeout-fallback proxy.
type ProxyConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// CacheConfig controls the ResultCache backend.
type CacheConfig struct {
	Backend    string        `mapstructure:"backend"     yaml:"backend"` // "memory" or "remote"
	Host       string        `mapstructure:"host"        yaml:"host"`
	Port       int           `mapstructure:"port"        yaml:"port"`
	ReadTTL    time.Duration `mapstructure:"read_ttl"    yaml:"read_ttl"`
	HealthTTL  time.Duration `mapstructure:"health_ttl"  yaml:"health_ttl"`
	SweepEvery time.Duration `mapstructure:"sweep_every" yaml:"sweep_every"`
}

// DFSConfig controls the downstream flight-logging uploader gate.
type DFSConfig struct {
	BaseURL           string `mapstructure:"base_url"            yaml:"base_url"`
	MaxConcurrentJobs int    `mapstructure:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// APIConfig controls the minimal HTTP control surface.
type APIConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// DefaultConfig returns a Config with sensible defaults, matching the
// constants documented for the scheduler, cache TTLs, and retry policy.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			CapFloor:      4,
			CapCeiling:    32,
			CapWindow:     200,
			DispatchIdle:  10 * time.Millisecond,
			QuantileDepth: 500,
		},
		UCS: UCSConfig{
			BaseURL:        "https://www.onlinecontest.org/olc-3.0/",
			RequestTimeout: 30 * time.Second,
			ConnectTimeout: 10 * time.Second,
			ProxyTimeout:   60 * time.Second,
			RetryAttempts:  3,
			RetryBaseDelay: 100 * time.Millisecond,
			FlightsMax:     200,
		},
		Cache: CacheConfig{
			Backend:    "memory",
			Host:       "localhost",
			Port:       6379,
			ReadTTL:    72 * time.Hour,
			HealthTTL:  10 * time.Minute,
			SweepEvery: time.Minute,
		},
		DFS: DFSConfig{
			MaxConcurrentJobs: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
		API: APIConfig{
			Port: 8080,
		},
	}
}
