package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devrev/meshplane/internal/algorithm"
	"github.com/devrev/meshplane/internal/client"
	mesherrors "github.com/devrev/meshplane/internal/errors"
	"github.com/devrev/meshplane/internal/middleware"
	"github.com/devrev/meshplane/internal/model"
	"github.com/devrev/meshplane/internal/server"
	"github.com/devrev/meshplane/internal/service"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// staticLister serves a fixed membership
type staticLister []*model.NodeRecord

func (l staticLister) List(ctx context.Context) ([]*model.NodeRecord, error) {
	return l, nil
}

// stubForwarder returns a canned result
type stubForwarder struct {
	reply string
	err   error
}

func (f stubForwarder) Forward(ctx context.Context, node *model.NodeRecord, message string) (string, error) {
	return f.reply, f.err
}

func newRoutingFor(t *testing.T, nodes ...*model.NodeRecord) *service.RoutingService {
	t.Helper()
	ring := algorithm.NewConsistentHasher(10, algorithm.SHA256Hash)
	rs := service.NewRoutingService(staticLister(nodes), ring, service.RoutingConfig{}, nil, zap.NewNop())
	require.NoError(t, rs.Refresh(context.Background()))
	return rs
}

func startGateway(t *testing.T, gh *GatewayHandler) string {
	t.Helper()
	srv := httptest.NewServer(server.NewServer(server.Options{Name: "gateway"}, nil, zap.NewNop(), gh).Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg string) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	return string(data)
}

func TestGatewayHandler_NoNodesAvailable(t *testing.T) {
	rs := newRoutingFor(t)
	gh := NewGatewayHandler(rs, stubForwarder{}, GatewayConfig{}, nil, nil, zap.NewNop())
	conn := dial(t, startGateway(t, gh))

	assert.Equal(t, ReplyNoNodesAvailable, roundTrip(t, conn, "ping"))
	// The session survives and answers again
	assert.Equal(t, ReplyNoNodesAvailable, roundTrip(t, conn, "ping"))
}

func TestGatewayHandler_ForwardsToWorker(t *testing.T) {
	worker := httptest.NewServer(server.NewServer(server.Options{Name: "worker"}, nil, zap.NewNop(),
		NewWorkerHandler("w1", zap.NewNop())).Handler())
	defer worker.Close()

	rs := newRoutingFor(t, &model.NodeRecord{ID: "w1", Endpoint: worker.URL})
	gh := NewGatewayHandler(rs, client.NewNodeClient(time.Second, zap.NewNop()), GatewayConfig{}, nil, nil, zap.NewNop())
	conn := dial(t, startGateway(t, gh))

	assert.Equal(t, "w1 processed: hello", roundTrip(t, conn, "hello"))
	assert.Equal(t, "w1 processed: again", roundTrip(t, conn, "again"))
}

func TestGatewayHandler_WorkerErrorStatus(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer worker.Close()

	rs := newRoutingFor(t, &model.NodeRecord{ID: "w1", Endpoint: worker.URL})
	gh := NewGatewayHandler(rs, client.NewNodeClient(time.Second, zap.NewNop()), GatewayConfig{}, nil, nil, zap.NewNop())
	conn := dial(t, startGateway(t, gh))

	assert.Equal(t, "node w1 returned status 500", roundTrip(t, conn, "hello"))
}

func TestGatewayHandler_WorkerUnreachable(t *testing.T) {
	cause := errors.New("connection refused")
	fwd := stubForwarder{err: mesherrors.UnreachableNode("w1", cause)}

	rs := newRoutingFor(t, &model.NodeRecord{ID: "w1", Endpoint: "http://w1"})
	gh := NewGatewayHandler(rs, fwd, GatewayConfig{}, nil, nil, zap.NewNop())
	conn := dial(t, startGateway(t, gh))

	assert.Equal(t, "node w1 unreachable: connection refused", roundTrip(t, conn, "hello"))
}

func TestGatewayHandler_ForwardTimeout(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer worker.Close()

	rs := newRoutingFor(t, &model.NodeRecord{ID: "w1", Endpoint: worker.URL})
	gh := NewGatewayHandler(rs, client.NewNodeClient(5*time.Second, zap.NewNop()),
		GatewayConfig{ForwardTimeout: 50 * time.Millisecond}, nil, nil, zap.NewNop())
	conn := dial(t, startGateway(t, gh))

	reply := roundTrip(t, conn, "hello")
	assert.True(t, strings.HasPrefix(reply, "node w1 unreachable: "), reply)
}

func TestGatewayHandler_TracksActiveConnections(t *testing.T) {
	gh := NewGatewayHandler(newRoutingFor(t), stubForwarder{}, GatewayConfig{}, nil, nil, zap.NewNop())
	url := startGateway(t, gh)

	conn := dial(t, url)
	roundTrip(t, conn, "ping")
	assert.Equal(t, int64(1), gh.ActiveConnections())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool { return gh.ActiveConnections() == 0 }, time.Second, 5*time.Millisecond)
}

func TestGatewayHandler_RateLimitedUpgrade(t *testing.T) {
	limiter := middleware.NewRateLimiter(0.0001, 1, zap.NewNop())
	gh := NewGatewayHandler(newRoutingFor(t), stubForwarder{}, GatewayConfig{}, limiter, nil, zap.NewNop())
	url := startGateway(t, gh)

	dial(t, url)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestGatewayHandler_PlainHTTPRejected(t *testing.T) {
	gh := NewGatewayHandler(newRoutingFor(t), stubForwarder{}, GatewayConfig{}, nil, nil, zap.NewNop())
	h := server.NewServer(server.Options{Name: "gateway"}, nil, zap.NewNop(), gh).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "routing", StateRouting.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown(42)", ConnState(42).String())
}
