package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/meshplane/internal/algorithm"
	mesherrors "github.com/devrev/meshplane/internal/errors"
	"github.com/devrev/meshplane/internal/metrics"
	"github.com/devrev/meshplane/internal/model"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ErrNoNodesAvailable is returned by Route while the ring is empty
var ErrNoNodesAvailable = mesherrors.ErrEmptyRing

// RegistryLister is the slice of the registry the gateway depends on
type RegistryLister interface {
	List(ctx context.Context) ([]*model.NodeRecord, error)
}

// RoutingConfig holds gateway ring refresh settings
type RoutingConfig struct {
	RefreshInterval time.Duration
	// PruneStaleNodes removes ring members that are missing from a listing.
	// Off by default: refresh only ever adds.
	PruneStaleNodes bool
}

// RoutingService keeps the gateway's hash ring in step with the registry and
// resolves message targets
type RoutingService struct {
	lister   RegistryLister
	hashRing *algorithm.ConsistentHasher
	config   RoutingConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu    sync.RWMutex
	nodes map[string]*model.NodeRecord

	refreshed atomic.Bool

	lifecycleMu sync.Mutex
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewRoutingService creates a new routing service
func NewRoutingService(
	lister RegistryLister,
	hashRing *algorithm.ConsistentHasher,
	cfg RoutingConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *RoutingService {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 10 * time.Second
	}

	return &RoutingService{
		lister:   lister,
		hashRing: hashRing,
		config:   cfg,
		metrics:  m,
		logger:   logger,
		nodes:    make(map[string]*model.NodeRecord),
	}
}

// Start performs an initial load and then refreshes on every tick until Stop
// is called or ctx is cancelled. A failed initial load is logged only.
func (s *RoutingService) Start(ctx context.Context) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.refreshLoop(ctx, s.stopCh, s.doneCh)
}

// Stop stops the refresh loop and waits for it to exit
func (s *RoutingService) Stop() {
	s.lifecycleMu.Lock()
	if s.stopCh == nil {
		s.lifecycleMu.Unlock()
		return
	}
	close(s.stopCh)
	done := s.doneCh
	s.stopCh = nil
	s.lifecycleMu.Unlock()

	<-done
	s.logger.Info("Routing service stopped")
}

func (s *RoutingService) refreshLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	// Initial load
	if err := s.Refresh(ctx); err != nil {
		s.logger.Error("Failed initial hash ring load", zap.Error(err))
	}

	ticker := time.NewTicker(s.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error("Failed to update hash ring", zap.Error(err))
			}
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Refresh lists the registry and adds every listed node to the ring
func (s *RoutingService) Refresh(ctx context.Context) error {
	listed, err := s.lister.List(ctx)
	if err != nil {
		s.metrics.RecordRingRefresh("error")
		return fmt.Errorf("failed to list nodes: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(listed))
	added := 0
	for _, node := range listed {
		if node == nil || node.ID == "" {
			continue
		}
		seen[node.ID] = struct{}{}
		if _, known := s.nodes[node.ID]; !known {
			added++
		}
		s.nodes[node.ID] = node.Clone()
		s.hashRing.AddNode(node.ID)
	}

	pruned := 0
	if s.config.PruneStaleNodes {
		for id := range s.nodes {
			if _, ok := seen[id]; ok {
				continue
			}
			s.hashRing.RemoveNode(id)
			delete(s.nodes, id)
			pruned++
		}
	}

	s.refreshed.Store(true)
	s.metrics.RecordRingRefresh("success")
	s.metrics.UpdateRing(s.hashRing.Count(), s.hashRing.NodeCount())

	s.logger.Info("Hash ring updated",
		zap.Int("listed_nodes", len(listed)),
		zap.Int("added_nodes", added),
		zap.Int("pruned_nodes", pruned),
		zap.Int("ring_nodes", s.hashRing.NodeCount()))

	return nil
}

// Route picks the node responsible for message
func (s *RoutingService) Route(message string) (*model.NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodeID, err := s.hashRing.Lookup(message)
	if err != nil {
		if errors.Is(err, algorithm.ErrEmptyRing) {
			return nil, mesherrors.EmptyRing()
		}
		return nil, mesherrors.InternalFault("ring lookup failed", err)
	}

	node, ok := s.nodes[nodeID]
	if !ok {
		return nil, mesherrors.InternalFault(fmt.Sprintf("ring member %s has no record", nodeID), nil)
	}
	return node.Clone(), nil
}

// Ready reports whether the gateway has a usable view of the registry
func (s *RoutingService) Ready() bool {
	return s.refreshed.Load() || s.NodeCount() > 0
}

// RingSize returns the number of ring entries
func (s *RoutingService) RingSize() int {
	return s.hashRing.Count()
}

// NodeCount returns the current number of nodes in the hash ring
func (s *RoutingService) NodeCount() int {
	return s.hashRing.NodeCount()
}
