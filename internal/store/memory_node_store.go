package store

import (
	"context"
	"sync"

	mesherrors "github.com/devrev/meshplane/internal/errors"
	"github.com/devrev/meshplane/internal/model"
	"go.uber.org/zap"
)

// InMemoryNodeStore implements NodeStore using a map guarded by a RWMutex
type InMemoryNodeStore struct {
	nodes  map[string]*model.NodeRecord
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewInMemoryNodeStore creates an empty store
func NewInMemoryNodeStore(logger *zap.Logger) *InMemoryNodeStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryNodeStore{
		nodes:  make(map[string]*model.NodeRecord),
		logger: logger,
	}
}

// Insert stores a copy of node unless its id is taken
func (s *InMemoryNodeStore) Insert(ctx context.Context, node *model.NodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[node.ID]; exists {
		return mesherrors.DuplicateRegistration(node.ID)
	}

	s.nodes[node.ID] = node.Clone()
	s.logger.Debug("Node inserted", zap.String("node_id", node.ID))
	return nil
}

// Get retrieves a copy of a record
func (s *InMemoryNodeStore) Get(ctx context.Context, id string) (*model.NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, exists := s.nodes[id]
	if !exists {
		return nil, mesherrors.NotFound("node " + id)
	}
	return node.Clone(), nil
}

// List copies all records under the read lock
func (s *InMemoryNodeStore) List(ctx context.Context) ([]*model.NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*model.NodeRecord, 0, len(s.nodes))
	for _, node := range s.nodes {
		nodes = append(nodes, node.Clone())
	}
	return nodes, nil
}

// Delete removes a record. Deleting an absent id is a no-op.
func (s *InMemoryNodeStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[id]; !exists {
		return false, nil
	}
	delete(s.nodes, id)
	s.logger.Debug("Node deleted", zap.String("node_id", id))
	return true, nil
}

// Count returns the number of records
func (s *InMemoryNodeStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}
