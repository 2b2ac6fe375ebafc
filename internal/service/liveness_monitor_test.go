package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devrev/meshplane/internal/metrics"
	"github.com/devrev/meshplane/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockProber is a mock implementation of Prober
type MockProber struct {
	mock.Mock
}

func (m *MockProber) Probe(ctx context.Context, node *model.NodeRecord) error {
	args := m.Called(ctx, node)
	return args.Error(0)
}

func nodeWithID(id string) interface{} {
	return mock.MatchedBy(func(n *model.NodeRecord) bool { return n.ID == id })
}

// proberFunc adapts a function to Prober
type proberFunc func(ctx context.Context, node *model.NodeRecord) error

func (f proberFunc) Probe(ctx context.Context, node *model.NodeRecord) error {
	return f(ctx, node)
}

func TestLivenessMonitor_EvictsFailingNodes(t *testing.T) {
	reg, m := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, testNode("healthy", "http://h1")))
	require.NoError(t, reg.Register(ctx, testNode("broken", "http://b1")))

	prober := new(MockProber)
	prober.On("Probe", mock.Anything, nodeWithID("healthy")).Return(nil)
	prober.On("Probe", mock.Anything, nodeWithID("broken")).Return(errors.New("connection refused"))

	monitor := NewLivenessMonitor(reg, prober, MonitorConfig{}, m, zap.NewNop())
	evicted := monitor.RunCycle(ctx)

	assert.Equal(t, []string{"broken"}, evicted)

	nodes, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "healthy", nodes[0].ID)

	prober.AssertExpectations(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EvictionsTotal.WithLabelValues(EvictionReasonProbeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MonitorCycles))
}

func TestLivenessMonitor_EmptyRegistry(t *testing.T) {
	reg, _ := setupRegistry(t)
	prober := new(MockProber)

	monitor := NewLivenessMonitor(reg, prober, MonitorConfig{}, nil, zap.NewNop())
	assert.Empty(t, monitor.RunCycle(context.Background()))
	prober.AssertNotCalled(t, "Probe", mock.Anything, mock.Anything)
}

func TestLivenessMonitor_ProbeTimeoutEvicts(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, testNode("slow", "http://s1")))

	hanging := proberFunc(func(ctx context.Context, node *model.NodeRecord) error {
		<-ctx.Done()
		return ctx.Err()
	})

	monitor := NewLivenessMonitor(reg, hanging, MonitorConfig{ProbeTimeout: 20 * time.Millisecond}, nil, zap.NewNop())

	start := time.Now()
	evicted := monitor.RunCycle(ctx)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"slow"}, evicted)
	assert.Equal(t, 0, reg.Count())
}

func TestLivenessMonitor_PanickingProberIsFailure(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, testNode("A", "http://a1")))

	panicking := proberFunc(func(ctx context.Context, node *model.NodeRecord) error {
		panic("boom")
	})

	monitor := NewLivenessMonitor(reg, panicking, MonitorConfig{}, nil, zap.NewNop())
	assert.NotPanics(t, func() { monitor.RunCycle(ctx) })
	assert.Equal(t, 0, reg.Count())
}

func TestLivenessMonitor_CancelledCycleKeepsNodes(t *testing.T) {
	reg, _ := setupRegistry(t)
	require.NoError(t, reg.Register(context.Background(), testNode("A", "http://a1")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prober := proberFunc(func(ctx context.Context, node *model.NodeRecord) error {
		return ctx.Err()
	})

	monitor := NewLivenessMonitor(reg, prober, MonitorConfig{}, nil, zap.NewNop())
	assert.Empty(t, monitor.RunCycle(ctx))
	assert.Equal(t, 1, reg.Count())
}

func TestLivenessMonitor_BoundedConcurrency(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()
	for _, id := range []string{"n1", "n2", "n3", "n4", "n5", "n6"} {
		require.NoError(t, reg.Register(ctx, testNode(id, "http://"+id)))
	}

	var inFlight, peak int32
	prober := proberFunc(func(ctx context.Context, node *model.NodeRecord) error {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	})

	monitor := NewLivenessMonitor(reg, prober, MonitorConfig{MaxConcurrentProbes: 2}, nil, zap.NewNop())
	monitor.RunCycle(ctx)

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 6, reg.Count())
}

func TestLivenessMonitor_StartStop(t *testing.T) {
	reg := NewRegistryService(newTestStore(), metrics.NewMetrics(prometheus.NewRegistry()), zap.NewNop())
	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, testNode("gone", "http://g1")))

	prober := new(MockProber)
	prober.On("Probe", mock.Anything, mock.Anything).Return(errors.New("down"))

	monitor := NewLivenessMonitor(reg, prober, MonitorConfig{Interval: 10 * time.Millisecond}, nil, zap.NewNop())
	monitor.Start(ctx)
	monitor.Start(ctx)

	assert.Eventually(t, func() bool { return reg.Count() == 0 }, time.Second, 5*time.Millisecond)

	monitor.Stop()
	monitor.Stop()
}
