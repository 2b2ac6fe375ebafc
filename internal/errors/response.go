package errors

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// AsError turns a decoded error envelope back into a MeshError so clients can
// compare it with errors.Is.
func (r *ErrorResponse) AsError() *MeshError {
	code := r.ErrorCode
	if code == "" {
		code = ErrCodeInternalFault
	}
	return NewMeshError(code, r.Message, nil)
}

// Handler writes error envelopes
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{logger: logger}
}

// HandleError maps err onto a status code and error envelope
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	h.WriteErrorResponse(w, HTTPStatus(err), GetCode(err), err.Error(), r.Header.Get("X-Request-ID"))
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message string, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(errorCode)),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// WriteNotFound writes the 404 envelope used for unknown routes and methods
func (h *Handler) WriteNotFound(w http.ResponseWriter, r *http.Request) {
	h.WriteErrorResponse(w, http.StatusNotFound, ErrCodeNotFound,
		r.Method+" "+r.URL.Path+" not found", r.Header.Get("X-Request-ID"))
}

// WriteRateLimitedError writes a rate limit exceeded response.
func (h *Handler) WriteRateLimitedError(w http.ResponseWriter, requestID string) {
	h.WriteErrorResponse(w, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded", requestID)
}

// WriteInternalError writes an internal error response.
func (h *Handler) WriteInternalError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalFault, message, requestID)
}
