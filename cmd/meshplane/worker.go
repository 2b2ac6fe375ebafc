package main

import (
	"context"
	"fmt"
	"time"

	"github.com/devrev/meshplane/internal/client"
	"github.com/devrev/meshplane/internal/config"
	"github.com/devrev/meshplane/internal/gossip"
	"github.com/devrev/meshplane/internal/handler"
	"github.com/devrev/meshplane/internal/model"
	"github.com/devrev/meshplane/internal/server"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWorkerCmd(configPath *string) *cobra.Command {
	var nodeID string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a worker node that registers itself and processes routed messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(*configPath, (*config.Config).ValidateWorker)
			if err != nil {
				return err
			}
			if nodeID != "" {
				rt.cfg.Worker.NodeID = nodeID
			}
			return runWorker(cmd.Context(), rt)
		},
	}
	cmd.Flags().StringVar(&nodeID, "node-id", "", "node id to register under (default: worker.node_id or a generated id)")
	return cmd
}

func runWorker(ctx context.Context, rt *runtime) error {
	cfg, logger := rt.cfg, rt.logger

	nodeID := cfg.Worker.NodeID
	if nodeID == "" {
		nodeID = "worker-" + uuid.New().String()[:8]
	}
	endpoint := cfg.Worker.Endpoint()
	stake, err := cfg.Worker.StakeDecimal()
	if err != nil {
		return fmt.Errorf("invalid worker stake: %w", err)
	}

	logger = logger.With(zap.String("node_id", nodeID))
	logger.Info("starting worker",
		zap.String("addr", cfg.Worker.Addr),
		zap.String("endpoint", endpoint),
		zap.String("registry", cfg.Registry.URL))

	workerHandler := handler.NewWorkerHandler(nodeID, logger)
	httpServer := server.NewServer(rt.serverOptions("worker", cfg.Worker.Addr), rt.metrics, logger, workerHandler)

	rt.startMetrics()
	serverErrs := httpServer.StartAsync()

	// The registry is authoritative; a worker it never admitted stops
	registryClient := client.NewRegistryClient(cfg.Registry.URL, cfg.Registry.RequestTimeout, logger)
	registration := &model.RegistrationRequest{
		NodeID:     nodeID,
		Endpoint:   endpoint,
		Stake:      stake,
		Throughput: cfg.Worker.Throughput,
	}
	if err := registryClient.RegisterWithRetry(ctx, registration,
		cfg.Worker.RegisterMaxRetries, cfg.Worker.RegisterRetryInterval); err != nil {
		return combine(err, rt.shutdown(shutdownStep{"worker server", httpServer.Shutdown}))
	}

	var members *gossip.Service
	if cfg.Gossip.Enabled {
		members, err = gossip.NewService(gossip.Config{
			Name:     nodeID,
			BindAddr: cfg.Gossip.BindAddr,
			BindPort: cfg.Gossip.BindPort,
			Meta:     []byte(endpoint),
		}, nil, logger)
		if err != nil {
			logger.Warn("Gossip disabled for this worker", zap.Error(err))
		} else if _, err := members.Join(cfg.Gossip.Seeds); err != nil {
			logger.Warn("Worker could not join gossip seeds", zap.Error(err))
		}
	}

	runErr := rt.waitForShutdown(ctx, serverErrs)

	// Report Unhealthy first so an in-flight probe evicts this node
	workerHandler.SetDraining(true)

	steps := []shutdownStep{}
	if members != nil {
		steps = append(steps, shutdownStep{"gossip", func(context.Context) error {
			return members.Leave(time.Second)
		}})
	}
	steps = append(steps, shutdownStep{"worker server", httpServer.Shutdown})

	err = combine(runErr, rt.shutdown(steps...))
	logger.Info("worker shutdown complete")
	return err
}
