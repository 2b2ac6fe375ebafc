package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	mesherrors "github.com/devrev/meshplane/internal/errors"
	"github.com/devrev/meshplane/internal/metrics"
	"github.com/devrev/meshplane/internal/model"
	"github.com/devrev/meshplane/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore() store.NodeStore {
	return store.NewInMemoryNodeStore(zap.NewNop())
}

func setupRegistry(t *testing.T) (*RegistryService, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewRegistryService(store.NewInMemoryNodeStore(zap.NewNop()), m, zap.NewNop()), m
}

func testNode(id, endpoint string) *model.NodeRecord {
	return &model.NodeRecord{
		ID:         id,
		Endpoint:   endpoint,
		Stake:      decimal.NewFromInt(5),
		Throughput: 12.5,
	}
}

func TestRegistryService_Register(t *testing.T) {
	reg, m := setupRegistry(t)
	ctx := context.Background()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	reg.now = func() time.Time { return fixed }

	require.NoError(t, reg.Register(ctx, testNode("A", "http://e1:9000")))

	nodes, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "A", nodes[0].ID)
	assert.Equal(t, fixed, nodes[0].RegisteredAt)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistrationsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegisteredNodes))
}

func TestRegistryService_DuplicateRejected(t *testing.T) {
	reg, m := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, testNode("A", "http://e1:9000")))
	err := reg.Register(ctx, testNode("A", "http://e2:9000"))
	assert.ErrorIs(t, err, mesherrors.ErrDuplicateRegistration)

	got, err := reg.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "http://e1:9000", got.Endpoint)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistrationsTotal.WithLabelValues("duplicate")))
}

func TestRegistryService_Validation(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name string
		node *model.NodeRecord
	}{
		{"nil record", nil},
		{"missing id", testNode("", "http://e1")},
		{"missing endpoint", testNode("A", "")},
		{"relative endpoint", testNode("A", "e1:9000")},
		{"unsupported scheme", testNode("A", "ftp://e1")},
		{"negative stake", &model.NodeRecord{ID: "A", Endpoint: "http://e1", Stake: decimal.NewFromInt(-1)}},
		{"negative throughput", &model.NodeRecord{ID: "A", Endpoint: "http://e1", Throughput: -3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(ctx, tt.node)
			assert.ErrorIs(t, err, mesherrors.ErrMalformedPayload)
		})
	}
	assert.Equal(t, 0, reg.Count())
}

func TestRegistryService_RemoveIdempotent(t *testing.T) {
	reg, m := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, testNode("A", "http://e1")))
	assert.True(t, reg.Remove(ctx, "A", EvictionReasonProbeFailed))
	assert.False(t, reg.Remove(ctx, "A", EvictionReasonProbeFailed))
	assert.False(t, reg.Remove(ctx, "never-registered", EvictionReasonProbeFailed))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EvictionsTotal.WithLabelValues(EvictionReasonProbeFailed)))
	assert.Equal(t, 0, reg.Count())
}

func TestRegistryService_ReRegisterAfterEviction(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, testNode("A", "http://e1")))
	reg.Remove(ctx, "A", EvictionReasonProbeFailed)
	require.NoError(t, reg.Register(ctx, testNode("A", "http://e9")))

	got, err := reg.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "http://e9", got.Endpoint)
}

func TestRegistryService_ConcurrentRegistration(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Ten writers race on each id
			id := fmt.Sprintf("node-%d", i%10)
			_ = reg.Register(ctx, testNode(id, fmt.Sprintf("http://e%d", i)))
		}(i)
	}
	wg.Wait()

	nodes, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 10)
}
