package health

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealthServer exposes grpc.health.v1.Health for infrastructure probes
type GRPCHealthServer struct {
	server *grpc.Server
	health *grpchealth.Server
	logger *zap.Logger
}

// NewGRPCHealthServer creates the server in the NOT_SERVING state
func NewGRPCHealthServer(logger *zap.Logger) *GRPCHealthServer {
	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCHealthServer{
		server: srv,
		health: hs,
		logger: logger,
	}
}

// SetServing flips the overall status
func (g *GRPCHealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
}

// Serve blocks serving on ln
func (g *GRPCHealthServer) Serve(ln net.Listener) error {
	g.logger.Info("starting gRPC health server", zap.String("addr", ln.Addr().String()))
	if err := g.server.Serve(ln); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("gRPC health server failed: %w", err)
	}
	return nil
}

// ListenAndServe listens on port and serves
func (g *GRPCHealthServer) ListenAndServe(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	return g.Serve(ln)
}

// Shutdown reports NOT_SERVING and stops the server gracefully
func (g *GRPCHealthServer) Shutdown() {
	g.health.Shutdown()
	g.server.GracefulStop()
	g.logger.Info("gRPC health server stopped")
}
