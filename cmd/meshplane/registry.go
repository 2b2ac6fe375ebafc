package main

import (
	"context"
	"time"

	"github.com/devrev/meshplane/internal/client"
	"github.com/devrev/meshplane/internal/config"
	"github.com/devrev/meshplane/internal/gossip"
	"github.com/devrev/meshplane/internal/handler"
	"github.com/devrev/meshplane/internal/health"
	"github.com/devrev/meshplane/internal/server"
	"github.com/devrev/meshplane/internal/service"
	"github.com/devrev/meshplane/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRegistryCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "registry",
		Short: "Run the node registry and liveness monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(*configPath, (*config.Config).ValidateRegistry)
			if err != nil {
				return err
			}
			return runRegistry(cmd.Context(), rt)
		},
	}
}

func runRegistry(ctx context.Context, rt *runtime) error {
	cfg, logger := rt.cfg, rt.logger
	logger.Info("starting registry",
		zap.String("addr", cfg.Registry.Addr),
		zap.Duration("monitor_interval", cfg.Monitor.Interval),
		zap.Duration("probe_timeout", cfg.Monitor.ProbeTimeout))

	nodeStore := store.NewInMemoryNodeStore(logger)
	registry := service.NewRegistryService(nodeStore, rt.metrics, logger)

	// The per-probe context deadline is the binding limit
	prober := client.NewNodeClient(cfg.Monitor.ProbeTimeout*2, logger)
	monitor := service.NewLivenessMonitor(registry, prober, service.MonitorConfig{
		Interval:            cfg.Monitor.Interval,
		ProbeTimeout:        cfg.Monitor.ProbeTimeout,
		MaxConcurrentProbes: cfg.Monitor.MaxConcurrentProbes,
	}, rt.metrics, logger)

	healthChecker := health.NewHealthChecker(logger)
	httpServer := server.NewServer(rt.serverOptions("registry", cfg.Registry.Addr), rt.metrics, logger,
		handler.NewRegistryHandler(registry, logger),
		healthChecker,
	)

	var grpcHealth *health.GRPCHealthServer
	var grpcErrs chan error
	if cfg.Server.GRPCHealthPort > 0 {
		grpcHealth = health.NewGRPCHealthServer(logger)
		grpcErrs = make(chan error, 1)
		go func() {
			if err := grpcHealth.ListenAndServe(cfg.Server.GRPCHealthPort); err != nil {
				grpcErrs <- err
			}
			close(grpcErrs)
		}()
	}

	var members *gossip.Service
	if cfg.Gossip.Enabled {
		var err error
		members, err = gossip.NewService(gossip.Config{
			Name:     "registry",
			BindAddr: cfg.Gossip.BindAddr,
			BindPort: cfg.Gossip.BindPort,
			Meta:     []byte(cfg.Registry.URL),
		}, func(name string) {
			registry.Remove(context.Background(), name, service.EvictionReasonGossipLeave)
		}, logger)
		if err != nil {
			return err
		}
		if _, err := members.Join(cfg.Gossip.Seeds); err != nil {
			logger.Warn("Registry could not join gossip seeds", zap.Error(err))
		}
	}

	rt.startMetrics()
	serverErrs := httpServer.StartAsync()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	monitor.Start(runCtx)
	if grpcHealth != nil {
		grpcHealth.SetServing(true)
	}

	waitErrs := []<-chan error{serverErrs}
	if grpcErrs != nil {
		waitErrs = append(waitErrs, grpcErrs)
	}
	runErr := rt.waitForShutdown(ctx, waitErrs...)

	steps := []shutdownStep{}
	if grpcHealth != nil {
		steps = append(steps, shutdownStep{"grpc health", func(context.Context) error {
			grpcHealth.Shutdown()
			return nil
		}})
	}
	steps = append(steps,
		shutdownStep{"liveness monitor", func(context.Context) error {
			monitor.Stop()
			return nil
		}},
		shutdownStep{"registry server", httpServer.Shutdown},
	)
	if members != nil {
		steps = append(steps, shutdownStep{"gossip", func(context.Context) error {
			return members.Leave(time.Second)
		}})
	}

	err := combine(runErr, rt.shutdown(steps...))
	logger.Info("registry shutdown complete", zap.Int("registered_nodes", registry.Count()))
	return err
}
