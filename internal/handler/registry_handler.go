// Package handler provides the HTTP and websocket handlers for the registry,
// gateway and worker processes.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	mesherrors "github.com/devrev/meshplane/internal/errors"
	"github.com/devrev/meshplane/internal/model"
	"github.com/devrev/meshplane/internal/service"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxRegistrationBytes bounds a registration body
const maxRegistrationBytes = 1 << 20

// RegistryHandler serves the registry's HTTP protocol
type RegistryHandler struct {
	registry     *service.RegistryService
	errorHandler *mesherrors.Handler
	logger       *zap.Logger
}

// NewRegistryHandler creates a new registry handler
func NewRegistryHandler(registry *service.RegistryService, logger *zap.Logger) *RegistryHandler {
	return &RegistryHandler{
		registry:     registry,
		errorHandler: mesherrors.NewHandler(logger),
		logger:       logger,
	}
}

// RegisterRoutes mounts /register and /list
func (h *RegistryHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/list", h.List).Methods(http.MethodGet)
}

// Register handles POST /register requests.
func (h *RegistryHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegistrationRequest
	body := http.MaxBytesReader(w, r.Body, maxRegistrationBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		reason := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			reason = "empty body"
		}
		h.errorHandler.HandleError(w, r, mesherrors.MalformedPayload(reason, err))
		return
	}

	if err := h.registry.Register(r.Context(), req.ToRecord()); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, model.RegistrationResponse{
		Status: "registered",
		NodeID: req.NodeID,
	})
}

// List handles GET /list requests.
func (h *RegistryHandler) List(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.registry.List(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, nodes)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}
