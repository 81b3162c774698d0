// Command fleetd is the fleet coordination daemon. A transport relay posts
// shard lifecycle events and command hooks to it over HTTP or a websocket;
// fleetd keeps the shared state and drives presence, audit and stats pushes.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/fleetcore/internal/config"
)

const (
	shutdownTimeout = 5 * time.Second
	sweepInterval   = time.Minute
	limiterIdle     = 10 * time.Minute
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath string
	listen     string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "fleetd",
		Short:        "Coordinate shard readiness, shared caches and usage stats for a bot fleet",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to a .yaml or .json config file")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	return cmd
}

// loadConfig layers defaults, the config file, FLEET_* variables and flags.
func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.FromFile(opts.configPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// run serves until ctx is canceled, then drains in-flight side effects.
func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	a, err := newApp(cfg, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("fleetd listening", zap.String("addr", cfg.Listen), zap.Bool("tracking", cfg.TrackingEnabled()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.closeStreams()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if cfg.BlocklistFile != "" {
		g.Go(func() error {
			if err := a.store.Blocklist.Watch(gctx, cfg.BlocklistFile, logger); err != nil {
				logger.Warn("blocklist watch disabled", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		t := time.NewTicker(sweepInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				if n := a.limiter.Sweep(limiterIdle); n > 0 {
					logger.Debug("swept idle rate limiters", zap.Int("removed", n))
				}
			}
		}
	})

	err = g.Wait()
	a.drain()
	logger.Info("fleetd stopped")
	return err
}
