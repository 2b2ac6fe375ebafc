package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/devrev/meshplane/internal/model"
	"github.com/gorilla/mux"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// maxProcessBytes bounds a message body accepted by a worker
const maxProcessBytes = 4 << 20

// WorkerHandler serves a worker node's health and processing endpoints
type WorkerHandler struct {
	nodeID   string
	draining atomic.Bool
	logger   *zap.Logger
}

// NewWorkerHandler creates a handler for the worker identified by nodeID
func NewWorkerHandler(nodeID string, logger *zap.Logger) *WorkerHandler {
	return &WorkerHandler{
		nodeID: nodeID,
		logger: logger,
	}
}

// RegisterRoutes mounts /health and /process
func (h *WorkerHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/process", h.Process).Methods(http.MethodPost)
}

// SetDraining makes /health report Unhealthy so the monitor evicts this node
func (h *WorkerHandler) SetDraining(draining bool) {
	h.draining.Store(draining)
}

// Draining reports whether the worker is shutting down
func (h *WorkerHandler) Draining() bool {
	return h.draining.Load()
}

// Health handles GET /health requests.
func (h *WorkerHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeJSON(w, h.logger, http.StatusServiceUnavailable, model.HealthStatus{Status: model.NodeStatusUnhealthy})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, model.HealthStatus{Status: model.NodeStatusHealthy})
}

// Process handles POST /process requests. The body is the raw message.
func (h *WorkerHandler) Process(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProcessBytes))
	if err != nil {
		h.logger.Warn("Failed to read message", zap.Error(err))
		http.Error(w, "failed to read message", http.StatusBadRequest)
		return
	}

	h.logger.Debug("Processing message",
		zap.String("node_id", h.nodeID),
		zap.Int("bytes", len(body)))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "%s processed: %s", h.nodeID, body)
}
