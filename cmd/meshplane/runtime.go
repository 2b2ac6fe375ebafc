package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/devrev/meshplane/internal/config"
	"github.com/devrev/meshplane/internal/logging"
	"github.com/devrev/meshplane/internal/metrics"
	"github.com/devrev/meshplane/internal/server"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// runtime bundles what every subcommand needs before wiring its own components
type runtime struct {
	cfg           *config.Config
	logger        *zap.Logger
	metrics       *metrics.Metrics
	metricsServer *metrics.MetricsServer
}

// bootstrap loads and validates configuration, then builds the logger and metrics
func bootstrap(configPath string, validate func(*config.Config) error) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewMetrics(reg),
	}
	if cfg.Metrics.Enabled {
		rt.metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, reg, logger)
	}
	return rt, nil
}

// startMetrics serves metrics in the background when enabled
func (rt *runtime) startMetrics() {
	if rt.metricsServer == nil {
		return
	}
	go func() {
		if err := rt.metricsServer.Start(); err != nil {
			rt.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	rt.logger.Info("metrics server started",
		zap.Int("port", rt.cfg.Metrics.Port),
		zap.String("path", rt.cfg.Metrics.Path),
	)
}

func (rt *runtime) serverOptions(name, addr string) server.Options {
	return server.Options{
		Name:         name,
		Addr:         addr,
		ReadTimeout:  rt.cfg.Server.ReadTimeout,
		WriteTimeout: rt.cfg.Server.WriteTimeout,
		IdleTimeout:  rt.cfg.Server.IdleTimeout,
	}
}

// waitForShutdown blocks until a signal arrives, ctx ends or a server fails
func (rt *runtime) waitForShutdown(ctx context.Context, serverErrs ...<-chan error) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed := make(chan error, len(serverErrs))
	for _, ch := range serverErrs {
		go func(ch <-chan error) {
			if err, ok := <-ch; ok && err != nil {
				failed <- err
			}
		}(ch)
	}

	select {
	case <-sigCtx.Done():
		rt.logger.Info("received shutdown signal")
		return nil
	case err := <-failed:
		rt.logger.Error("server error", zap.Error(err))
		return err
	}
}

// shutdownStep is one component's graceful stop
type shutdownStep struct {
	name string
	fn   func(ctx context.Context) error
}

// shutdown runs every step in order within the configured timeout and
// aggregates their failures
func (rt *runtime) shutdown(steps ...shutdownStep) error {
	rt.logger.Info("initiating graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
	defer cancel()

	var result *multierror.Error
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			rt.logger.Error("shutdown step failed", zap.String("step", step.name), zap.Error(err))
			result = multierror.Append(result, fmt.Errorf("%s: %w", step.name, err))
		}
	}

	if rt.metricsServer != nil {
		if err := rt.metricsServer.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("metrics server: %w", err))
		}
	}

	_ = rt.logger.Sync()
	return result.ErrorOrNil()
}

// combine joins a run error with a shutdown error
func combine(runErr, shutdownErr error) error {
	return multierror.Append(runErr, shutdownErr).ErrorOrNil()
}
