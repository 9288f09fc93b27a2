package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flightimport/ucsbridge/internal/api"
	"github.com/flightimport/ucsbridge/internal/bridge"
	"github.com/flightimport/ucsbridge/internal/cache"
	"github.com/flightimport/ucsbridge/internal/config"
	"github.com/flightimport/ucsbridge/internal/dfsupload"
	"github.com/flightimport/ucsbridge/internal/drrsched"
	"github.com/flightimport/ucsbridge/internal/observability"
	"github.com/flightimport/ucsbridge/internal/statusstore"
	"github.com/flightimport/ucsbridge/internal/ucs"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ucsbridge",
		Short: "Fair-share scheduler and HTTP bridge importing flights from UCS into DFS",
		Long: `ucsbridge runs the Deficit Round-Robin scheduler and UCS request
pipeline that imports flights from the upstream contest site and
forwards them to the downstream flight-logging service.

Features:
  • Deficit Round-Robin fair-share scheduling with adaptive concurrency
  • Per-user session/cookie management with retry-and-proxy fallback
  • Cache-aside result caching (in-memory or Redis-backed)
  • Minimal HTTP control surface: /healthz, /queue, /jobs
  • Prometheus metrics endpoint`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler, UCS bridge, and HTTP control surface",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Info("starting ucsbridge",
		"cap_floor", cfg.Scheduler.CapFloor,
		"cap_ceiling", cfg.Scheduler.CapCeiling,
		"cache_backend", cfg.Cache.Backend,
	)

	metrics := observability.NewMetrics(logger)

	resultCache, err := newResultCache(cfg, metrics)
	if err != nil {
		return fmt.Errorf("create result cache: %w", err)
	}
	defer resultCache.Close()

	registry := ucs.NewRegistry()
	sessionCfg := ucs.Config{
		BaseURL:        cfg.UCS.BaseURL,
		ProxyURL:       cfg.Proxy.URL,
		RequestTimeout: cfg.UCS.RequestTimeout,
		ConnectTimeout: cfg.UCS.ConnectTimeout,
		ProxyTimeout:   cfg.UCS.ProxyTimeout,
		RetryAttempts:  cfg.UCS.RetryAttempts,
		RetryBaseDelay: cfg.UCS.RetryBaseDelay,
	}
	sessions := bridge.NewSessions(sessionCfg, registry, resultCache, cfg.UCS.FlightsMax, cfg.UCS.DefaultPassword, metrics, logger)

	adaptiveCap := drrsched.NewAdaptiveCap(cfg.Scheduler.CapFloor, cfg.Scheduler.CapCeiling, cfg.Scheduler.CapWindow)
	scheduler := drrsched.New(adaptiveCap, cfg.Scheduler.QuantileDepth, cfg.Scheduler.DispatchIdle, metrics, logger)

	gate := dfsupload.NewGate(int64(cfg.DFS.MaxConcurrentJobs), logger)
	status := statusstore.New(cfg.Cache.SweepEvery)
	defer status.Close()

	runner := bridge.New(scheduler, sessions, gate, dfsupload.NoopUploader{}, status, logger)

	if cfg.Metrics.Enabled {
		if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
	}

	apiServer := api.NewServer(cfg.API.Port, scheduler, runner, logger)
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down...", "signal", sig)
		cancel()
	}()

	scheduler.Run(ctx)
	logger.Info("ucsbridge stopped")
	return nil
}

// newResultCache builds the configured cache backend, validating the
// Redis endpoint up front for the remote case so misconfiguration fails
// fast at startup rather than on the first cache miss.
func newResultCache(cfg *config.Config, metrics *observability.Metrics) (cache.ResultCache, error) {
	switch cfg.Cache.Backend {
	case "remote":
		if _, err := url.Parse(fmt.Sprintf("redis://%s:%d", cfg.Cache.Host, cfg.Cache.Port)); err != nil {
			return nil, fmt.Errorf("invalid cache host/port: %w", err)
		}
		return cache.NewRemoteCache(cfg.Cache.Host, cfg.Cache.Port, metrics), nil
	default:
		return cache.NewMemoryCache(cfg.Cache.SweepEvery, metrics), nil
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ucsbridge %s\n", config.Version)
		},
	}
}

// setupLogger creates a structured logger.
func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler)
}
