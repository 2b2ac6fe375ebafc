package main

import (
	"context"
	"errors"

	"github.com/devrev/meshplane/internal/algorithm"
	"github.com/devrev/meshplane/internal/client"
	"github.com/devrev/meshplane/internal/config"
	"github.com/devrev/meshplane/internal/handler"
	"github.com/devrev/meshplane/internal/health"
	"github.com/devrev/meshplane/internal/middleware"
	"github.com/devrev/meshplane/internal/server"
	"github.com/devrev/meshplane/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newGatewayCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the websocket gateway router",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(*configPath, (*config.Config).ValidateGateway)
			if err != nil {
				return err
			}
			return runGateway(cmd.Context(), rt)
		},
	}
}

func runGateway(ctx context.Context, rt *runtime) error {
	cfg, logger := rt.cfg, rt.logger
	logger.Info("starting gateway",
		zap.String("addr", cfg.Gateway.Addr),
		zap.String("registry", cfg.Registry.URL),
		zap.Int("replicas", cfg.HashRing.Replicas),
		zap.String("hash_function", cfg.HashRing.HashFunction),
		zap.Bool("prune_stale_nodes", cfg.Gateway.PruneStaleNodes))

	hashFn, err := algorithm.HashFuncByName(cfg.HashRing.HashFunction)
	if err != nil {
		return err
	}
	ring := algorithm.NewConsistentHasher(cfg.HashRing.Replicas, hashFn)

	registryClient := client.NewRegistryClient(cfg.Registry.URL, cfg.Registry.RequestTimeout, logger)
	routing := service.NewRoutingService(registryClient, ring, service.RoutingConfig{
		RefreshInterval: cfg.Gateway.RefreshInterval,
		PruneStaleNodes: cfg.Gateway.PruneStaleNodes,
	}, rt.metrics, logger)

	var limiter *middleware.RateLimiter
	if cfg.RateLimiter.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimiter.RequestsPerSecond, cfg.RateLimiter.BurstSize, logger)
	}

	gatewayHandler := handler.NewGatewayHandler(
		routing,
		client.NewNodeClient(cfg.Gateway.ForwardTimeout, logger),
		handler.GatewayConfig{
			ForwardTimeout:  cfg.Gateway.ForwardTimeout,
			WriteTimeout:    cfg.Gateway.WriteTimeout,
			MaxMessageBytes: cfg.Gateway.MaxMessageBytes,
		},
		limiter,
		rt.metrics,
		logger,
	)

	healthChecker := health.NewHealthChecker(logger)
	healthChecker.AddCheck("hash_ring", func(context.Context) error {
		if !routing.Ready() {
			return errors.New("hash ring not loaded")
		}
		return nil
	})

	httpServer := server.NewServer(rt.serverOptions("gateway", cfg.Gateway.Addr), rt.metrics, logger,
		gatewayHandler,
		healthChecker,
	)

	rt.startMetrics()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	routing.Start(runCtx)

	serverErrs := httpServer.StartAsync()
	runErr := rt.waitForShutdown(ctx, serverErrs)

	err = combine(runErr, rt.shutdown(
		shutdownStep{"gateway server", httpServer.Shutdown},
		shutdownStep{"routing service", func(context.Context) error {
			routing.Stop()
			return nil
		}},
	))
	logger.Info("gateway shutdown complete",
		zap.Int64("open_connections", gatewayHandler.ActiveConnections()))
	return err
}
