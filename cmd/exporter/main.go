package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-exporter/internal/cache"
	"github.com/kjstillabower/weather-exporter/internal/client"
	"github.com/kjstillabower/weather-exporter/internal/config"
	httphandler "github.com/kjstillabower/weather-exporter/internal/http"
	"github.com/kjstillabower/weather-exporter/internal/lifecycle"
	"github.com/kjstillabower/weather-exporter/internal/location"
	"github.com/kjstillabower/weather-exporter/internal/observability"
	"github.com/kjstillabower/weather-exporter/internal/scheduler"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	userAgent    string
	locations    []string
	port         int
	logLevel     string
	pollInterval time.Duration
	check        bool
}

func newRootCmd() *cobra.Command {
	var f rootFlags
	cmd := &cobra.Command{
		Use:   "weather-exporter",
		Short: "Prometheus exporter for met.no weather forecasts",
		Long: `weather-exporter resolves each configured location through the yr.no search,
polls the met.no locationforecast API with conditional requests and serves the
current forecast values as Prometheus gauges on /metrics.`,
		Example: `weather-exporter -u "myexporter/1.0 ops@example.org" -l Oslo -l Bergen`,
		Version: version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(f.overrides(cmd))
			if err != nil {
				return err
			}
			if f.check {
				return writeCheck(cmd.OutOrStdout(), cfg)
			}
			return run(cfg)
		},
		SilenceUsage: true,
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.userAgent, "user-agent", "u", "", "User-Agent for met.no requests; must identify you (e.g. app/1.0 you@example.org)")
	fl.StringSliceVarP(&f.locations, "locations", "l", nil, "location names, comma-separated or repeated")
	fl.IntVarP(&f.port, "port", "p", 9090, "HTTP listen port")
	fl.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	fl.DurationVar(&f.pollInterval, "poll-interval", 5*time.Minute, "how often each location is checked for a refresh")
	fl.BoolVar(&f.check, "check", false, "validate the configuration, print it and exit")
	return cmd
}

// overrides turns explicitly set flags into the top configuration layer.
func (f *rootFlags) overrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	fl := cmd.Flags()
	if fl.Changed("user-agent") {
		o.UserAgent = &f.userAgent
	}
	if fl.Changed("locations") {
		o.Locations = f.locations
	}
	if fl.Changed("port") {
		o.Port = &f.port
	}
	if fl.Changed("log-level") {
		o.LogLevel = &f.logLevel
	}
	if fl.Changed("poll-interval") {
		o.PollInterval = &f.pollInterval
	}
	return o
}

func run(cfg *config.Config) error {
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings {
		logger.Warn("configuration warning", zap.String("warning", w))
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	metClient, err := client.NewMETClient(client.Options{
		UserAgent:   cfg.UserAgent,
		SearchURL:   cfg.SearchURL,
		ForecastURL: cfg.ForecastURL,
		Timeout:     cfg.UpstreamTimeout,
		Limiter:     limiter,
	})
	if err != nil {
		return fmt.Errorf("weather client: %w", err)
	}

	openCtx, openCancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := cache.Open(openCtx, cache.Options{
		Backend:               cfg.CacheBackend,
		MemcachedAddrs:        cfg.MemcachedAddrs,
		MemcachedTimeout:      cfg.MemcachedTimeout,
		MemcachedMaxIdleConns: cfg.MemcachedMaxIdleConns,
		SQLitePath:            cfg.SQLitePath,
	})
	openCancel()
	if err != nil {
		return fmt.Errorf("coordinate store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("coordinate store close", zap.Error(err))
		}
	}()
	logger.Info("coordinate store ready", zap.String("backend", cfg.CacheBackend))

	collector := observability.NewForecastCollector()
	if err := observability.Register(collector); err != nil {
		return fmt.Errorf("register forecast collector: %w", err)
	}

	policy := location.Policy{
		MinInterval:     cfg.MinInterval,
		DefaultInterval: cfg.PollInterval,
		BackoffBase:     cfg.BackoffBase,
		BackoffMax:      cfg.BackoffMax,
		Jitter:          cfg.Jitter,
	}
	resolver := location.NewStoreResolver(metClient, store, logger)
	table := location.NewTable(cfg.Locations)
	runners := make([]scheduler.Runner, 0, table.Len())
	for _, entry := range table.Entries() {
		runners = append(runners, location.NewWorker(entry, resolver, metClient, collector, policy, location.WithLogger(logger)))
	}

	sched := scheduler.New(runners, cfg.PollInterval, logger)
	if err := sched.Start(context.Background()); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	healthConfig := &httphandler.HealthConfig{
		StartTime: time.Now(),
		Version:   version,
	}
	if mc, ok := store.(*cache.MemcachedStore); ok {
		healthConfig.CachePing = mc.Ping
	}
	handler := httphandler.NewHandler(table, healthConfig, logger)
	router := httphandler.NewRouter(handler, observability.MetricsHandler(), logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.Strings("locations", cfg.Locations),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("graceful shutdown triggered")
	case runErr = <-serveErr:
		logger.Error("server", zap.Error(runErr))
	}
	stop()

	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := sched.Stop(cfg.ShutdownTimeout); err != nil {
		logger.Warn("scheduler stop", zap.Error(err), zap.Int64("remaining", sched.InFlight()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return runErr
}
