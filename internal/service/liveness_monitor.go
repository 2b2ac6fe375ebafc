package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	mesherrors "github.com/devrev/meshplane/internal/errors"
	"github.com/devrev/meshplane/internal/metrics"
	"github.com/devrev/meshplane/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Prober checks whether a node is alive. A nil error means healthy.
type Prober interface {
	Probe(ctx context.Context, node *model.NodeRecord) error
}

// MonitorConfig holds liveness monitor settings
type MonitorConfig struct {
	Interval            time.Duration
	ProbeTimeout        time.Duration
	MaxConcurrentProbes int
}

// LivenessMonitor periodically probes every registered node and evicts the ones that fail
type LivenessMonitor struct {
	registry *RegistryService
	prober   Prober
	config   MonitorConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewLivenessMonitor creates a new liveness monitor
func NewLivenessMonitor(
	registry *RegistryService,
	prober Prober,
	cfg MonitorConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *LivenessMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.MaxConcurrentProbes <= 0 {
		cfg.MaxConcurrentProbes = 16
	}

	return &LivenessMonitor{
		registry: registry,
		prober:   prober,
		config:   cfg,
		metrics:  m,
		logger:   logger,
	}
}

// Start launches the monitor loop. It returns immediately; calling Start on a
// running monitor is a no-op.
func (m *LivenessMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.loop(ctx, m.stopCh, m.doneCh)

	m.logger.Info("Liveness monitor started",
		zap.Duration("interval", m.config.Interval),
		zap.Duration("probe_timeout", m.config.ProbeTimeout),
		zap.Int("max_concurrent_probes", m.config.MaxConcurrentProbes))
}

// Stop signals the loop to exit and waits for the in-flight cycle to finish
func (m *LivenessMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()

	<-done
	m.logger.Info("Liveness monitor stopped")
}

func (m *LivenessMonitor) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.RunCycle(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunCycle probes a snapshot of the current membership once and returns the
// ids evicted during the cycle.
func (m *LivenessMonitor) RunCycle(ctx context.Context) []string {
	nodes, err := m.registry.List(ctx)
	if err != nil {
		m.logger.Error("Failed to snapshot registry", zap.Error(err))
		return nil
	}

	var (
		evictedMu sync.Mutex
		evicted   []string
	)

	g := new(errgroup.Group)
	g.SetLimit(m.config.MaxConcurrentProbes)

	for _, node := range nodes {
		node := node
		g.Go(func() error {
			if err := m.probe(ctx, node); err != nil {
				// A cancelled cycle says nothing about the node
				if ctx.Err() != nil {
					return nil
				}
				m.logger.Warn("Health probe failed, evicting node",
					zap.String("node_id", node.ID),
					zap.String("endpoint", node.Endpoint),
					zap.Error(err))

				if m.registry.Remove(ctx, node.ID, EvictionReasonProbeFailed) {
					evictedMu.Lock()
					evicted = append(evicted, node.ID)
					evictedMu.Unlock()
				}
			}
			// Probe failures never abort the rest of the cycle
			return nil
		})
	}
	_ = g.Wait()

	m.metrics.RecordMonitorCycle()
	m.logger.Debug("Liveness cycle complete",
		zap.Int("probed", len(nodes)),
		zap.Int("evicted", len(evicted)))

	return evicted
}

// probe runs a single bounded probe, converting panics and errors into UnreachableNode
func (m *LivenessMonitor) probe(ctx context.Context, node *model.NodeRecord) (err error) {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("prober panicked: %v", r)
		}
		if err != nil {
			err = mesherrors.UnreachableNode(node.ID, err)
			m.metrics.RecordProbe("failure", time.Since(start).Seconds())
			return
		}
		m.metrics.RecordProbe("success", time.Since(start).Seconds())
	}()

	return m.prober.Probe(probeCtx, node)
}
