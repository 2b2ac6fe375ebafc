package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/devrev/meshplane/internal/client"
	mesherrors "github.com/devrev/meshplane/internal/errors"
	"github.com/devrev/meshplane/internal/metrics"
	"github.com/devrev/meshplane/internal/middleware"
	"github.com/devrev/meshplane/internal/model"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Replies sent back over the websocket for routing failures
const (
	ReplyNoNodesAvailable = "no nodes available"
	ReplyInternalError    = "internal error"
)

// ConnState is the lifecycle state of a single client connection
type ConnState int

const (
	StateConnected ConnState = iota
	StateReceiving
	StateRouting
	StateResponding
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReceiving:
		return "receiving"
	case StateRouting:
		return "routing"
	case StateResponding:
		return "responding"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MessageRouter picks the node that owns a message
type MessageRouter interface {
	Route(message string) (*model.NodeRecord, error)
}

// Forwarder delivers a message to a node and returns its reply
type Forwarder interface {
	Forward(ctx context.Context, node *model.NodeRecord, message string) (string, error)
}

// GatewayConfig holds websocket session settings
type GatewayConfig struct {
	ForwardTimeout  time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
}

// GatewayHandler accepts websocket clients and relays each text message to
// the node that owns it
type GatewayHandler struct {
	router      MessageRouter
	forwarder   Forwarder
	config      GatewayConfig
	upgrader    websocket.Upgrader
	rateLimiter *middleware.RateLimiter
	metrics     *metrics.Metrics
	logger      *zap.Logger

	active atomic.Int64
}

// NewGatewayHandler creates a new gateway handler. rateLimiter may be nil.
func NewGatewayHandler(
	router MessageRouter,
	forwarder Forwarder,
	cfg GatewayConfig,
	rateLimiter *middleware.RateLimiter,
	m *metrics.Metrics,
	logger *zap.Logger,
) *GatewayHandler {
	if cfg.ForwardTimeout <= 0 {
		cfg.ForwardTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 1 << 20
	}

	return &GatewayHandler{
		router:    router,
		forwarder: forwarder,
		config:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are services, not browsers
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rateLimiter: rateLimiter,
		metrics:     m,
		logger:      logger,
	}
}

// RegisterRoutes mounts /ws, rate limited when a limiter is configured
func (h *GatewayHandler) RegisterRoutes(r *mux.Router) {
	var ws http.Handler = http.HandlerFunc(h.ServeWS)
	if h.rateLimiter != nil {
		ws = h.rateLimiter.Limit(ws)
	}
	r.Handle("/ws", ws).Methods(http.MethodGet)
}

// ActiveConnections returns the number of open client sessions
func (h *GatewayHandler) ActiveConnections() int64 {
	return h.active.Load()
}

// ServeWS upgrades the request and runs the session until the client goes away
func (h *GatewayHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	connID := middleware.RequestIDFromContext(r.Context())
	if connID == "" {
		connID = uuid.New().String()
	}

	h.metrics.UpdateActiveConnections(h.active.Inc())
	defer func() {
		h.metrics.UpdateActiveConnections(h.active.Dec())
	}()

	// Forwards outlive the client connection, but keep its request values
	h.session(context.WithoutCancel(r.Context()), conn, connID)
}

// session drives one connection through its states. Request and reply are
// strictly sequential.
func (h *GatewayHandler) session(ctx context.Context, conn *websocket.Conn, connID string) {
	logger := h.logger.With(zap.String("conn_id", connID))
	defer conn.Close()

	conn.SetReadLimit(h.config.MaxMessageBytes)
	// The HTTP server's deadlines do not apply to a long-lived session
	_ = conn.SetReadDeadline(time.Time{})

	var (
		state   = StateConnected
		message string
		reply   string
	)

	for state != StateClosed {
		switch state {
		case StateConnected:
			logger.Debug("Client connected")
			state = StateReceiving

		case StateReceiving:
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Warn("Client connection lost", zap.Error(err))
				}
				state = StateClosed
				continue
			}
			if msgType != websocket.TextMessage {
				logger.Debug("Ignoring non-text frame", zap.Int("type", msgType))
				continue
			}
			message = string(data)
			state = StateRouting

		case StateRouting:
			reply = h.handleMessage(ctx, logger, message)
			state = StateResponding

		case StateResponding:
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				logger.Warn("Failed to write reply, closing", zap.Error(err))
				state = StateClosed
				continue
			}
			state = StateReceiving
		}
	}

	logger.Debug("Client disconnected")
}

// handleMessage routes and forwards one message and renders the reply text
func (h *GatewayHandler) handleMessage(ctx context.Context, logger *zap.Logger, message string) string {
	node, err := h.router.Route(message)
	if err != nil {
		if errors.Is(err, mesherrors.ErrEmptyRing) {
			h.metrics.RecordRoutedMessage("no_nodes")
			return ReplyNoNodesAvailable
		}
		logger.Error("Routing failed", zap.Error(err))
		h.metrics.RecordRoutedMessage("error")
		return ReplyInternalError
	}

	fctx, cancel := context.WithTimeout(ctx, h.config.ForwardTimeout)
	defer cancel()

	start := time.Now()
	body, err := h.forwarder.Forward(fctx, node, message)
	elapsed := time.Since(start).Seconds()

	if err == nil {
		h.metrics.RecordForward("success", elapsed)
		h.metrics.RecordRoutedMessage("success")
		return body
	}

	var statusErr *client.StatusError
	switch {
	case errors.As(err, &statusErr):
		h.metrics.RecordForward("bad_status", elapsed)
		h.metrics.RecordRoutedMessage("bad_status")
		logger.Warn("Node rejected message",
			zap.String("node_id", node.ID),
			zap.Int("status", statusErr.StatusCode))
		return fmt.Sprintf("node %s returned status %d", node.ID, statusErr.StatusCode)
	default:
		h.metrics.RecordForward("unreachable", elapsed)
		h.metrics.RecordRoutedMessage("unreachable")
		logger.Warn("Node unreachable",
			zap.String("node_id", node.ID),
			zap.Error(err))
		return fmt.Sprintf("node %s unreachable: %v", node.ID, transportCause(err))
	}
}

// transportCause strips the UnreachableNode wrapper so replies carry the
// underlying error exactly once
func transportCause(err error) error {
	var me *mesherrors.MeshError
	if errors.As(err, &me) && me.Code == mesherrors.ErrCodeUnreachableNode && me.Cause != nil {
		return me.Cause
	}
	return err
}
