package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	mesherrors "github.com/devrev/meshplane/internal/errors"
	"github.com/devrev/meshplane/internal/metrics"
	"github.com/devrev/meshplane/internal/model"
	"github.com/devrev/meshplane/internal/store"
	"go.uber.org/zap"
)

// Eviction reasons recorded in metrics and logs
const (
	EvictionReasonProbeFailed = "probe_failed"
	EvictionReasonGossipLeave = "gossip_leave"
)

// RegistryService is the authoritative membership store for worker nodes
type RegistryService struct {
	store   store.NodeStore
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewRegistryService creates a registry backed by nodeStore
func NewRegistryService(nodeStore store.NodeStore, m *metrics.Metrics, logger *zap.Logger) *RegistryService {
	return &RegistryService{
		store:   nodeStore,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Register admits a new node. A node id that is already present is rejected;
// there is no update in place.
func (s *RegistryService) Register(ctx context.Context, node *model.NodeRecord) error {
	if err := validateRecord(node); err != nil {
		s.metrics.RecordRegistration("malformed")
		return err
	}

	record := node.Clone()
	record.RegisteredAt = s.now().UTC()

	if err := s.store.Insert(ctx, record); err != nil {
		if mesherrors.GetCode(err) == mesherrors.ErrCodeDuplicateRegistration {
			s.metrics.RecordRegistration("duplicate")
			s.logger.Warn("Rejected duplicate registration",
				zap.String("node_id", node.ID),
				zap.String("endpoint", node.Endpoint))
			return err
		}
		s.metrics.RecordRegistration("error")
		return mesherrors.InternalFault("failed to store node", err)
	}

	s.metrics.RecordRegistration("success")
	s.metrics.UpdateRegisteredNodes(s.store.Count())

	s.logger.Info("Node registered",
		zap.String("node_id", record.ID),
		zap.String("endpoint", record.Endpoint),
		zap.String("stake", record.Stake.String()),
		zap.Float64("throughput", record.Throughput))

	return nil
}

// List returns a snapshot of current members
func (s *RegistryService) List(ctx context.Context) ([]*model.NodeRecord, error) {
	nodes, err := s.store.List(ctx)
	if err != nil {
		return nil, mesherrors.InternalFault("failed to list nodes", err)
	}
	return nodes, nil
}

// Get returns a single member
func (s *RegistryService) Get(ctx context.Context, id string) (*model.NodeRecord, error) {
	return s.store.Get(ctx, id)
}

// Remove deletes a member and reports whether it was present
func (s *RegistryService) Remove(ctx context.Context, id, reason string) bool {
	removed, err := s.store.Delete(ctx, id)
	if err != nil {
		s.logger.Error("Failed to remove node",
			zap.String("node_id", id),
			zap.Error(err))
		return false
	}
	if !removed {
		return false
	}

	s.metrics.RecordEviction(reason)
	s.metrics.UpdateRegisteredNodes(s.store.Count())

	s.logger.Info("Node removed",
		zap.String("node_id", id),
		zap.String("reason", reason))

	return true
}

// Count returns the number of registered nodes
func (s *RegistryService) Count() int {
	return s.store.Count()
}

// validateRecord checks the fields the rest of the system relies on
func validateRecord(node *model.NodeRecord) error {
	if node == nil {
		return mesherrors.MalformedPayload("missing node record", nil)
	}
	if node.ID == "" {
		return mesherrors.MalformedPayload("nodeId is required", nil)
	}
	if node.Endpoint == "" {
		return mesherrors.MalformedPayload("endpoint is required", nil)
	}
	u, err := url.Parse(node.Endpoint)
	if err != nil {
		return mesherrors.MalformedPayload("endpoint is not a valid URL", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return mesherrors.MalformedPayload(fmt.Sprintf("endpoint %q must be an absolute http(s) URL", node.Endpoint), nil)
	}
	if node.Stake.IsNegative() {
		return mesherrors.MalformedPayload("stake must be non-negative", nil)
	}
	if node.Throughput < 0 {
		return mesherrors.MalformedPayload("throughput must be non-negative", nil)
	}
	return nil
}
