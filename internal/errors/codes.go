// Package errors defines the control plane's error taxonomy and its mapping onto
// protocol status codes.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of control plane failure
type ErrorCode string

const (
	ErrCodeDuplicateRegistration ErrorCode = "DUPLICATE_REGISTRATION"
	ErrCodeMalformedPayload      ErrorCode = "MALFORMED_PAYLOAD"
	ErrCodeUnreachableNode       ErrorCode = "UNREACHABLE_NODE"
	ErrCodeEmptyRing             ErrorCode = "EMPTY_RING"
	ErrCodeInternalFault         ErrorCode = "INTERNAL_FAULT"
	ErrCodeNotFound              ErrorCode = "NOT_FOUND"
	ErrCodeRateLimited           ErrorCode = "RATE_LIMITED"
)

// MeshError represents a structured error with code and context
type MeshError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *MeshError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *MeshError) Unwrap() error {
	return e.Cause
}

// Is matches any MeshError carrying the same code, so callers can compare
// against the sentinel values below with errors.Is.
func (e *MeshError) Is(target error) bool {
	t, ok := target.(*MeshError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus maps the error code onto the registry protocol's status codes
func (e *MeshError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeDuplicateRegistration, ErrCodeMalformedPayload:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeEmptyRing, ErrCodeUnreachableNode:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewMeshError creates a new MeshError
func NewMeshError(code ErrorCode, message string, cause error) *MeshError {
	return &MeshError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *MeshError) WithDetail(key string, value interface{}) *MeshError {
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is comparisons
var (
	ErrDuplicateRegistration = &MeshError{Code: ErrCodeDuplicateRegistration, Message: "duplicate registration"}
	ErrMalformedPayload      = &MeshError{Code: ErrCodeMalformedPayload, Message: "malformed payload"}
	ErrUnreachableNode       = &MeshError{Code: ErrCodeUnreachableNode, Message: "unreachable node"}
	ErrEmptyRing             = &MeshError{Code: ErrCodeEmptyRing, Message: "no nodes available"}
	ErrInternalFault         = &MeshError{Code: ErrCodeInternalFault, Message: "internal fault"}
	ErrNotFound              = &MeshError{Code: ErrCodeNotFound, Message: "not found"}
)

// Convenience constructors for common errors

func DuplicateRegistration(nodeID string) *MeshError {
	return NewMeshError(ErrCodeDuplicateRegistration, fmt.Sprintf("node %s is already registered", nodeID), nil).
		WithDetail("node_id", nodeID)
}

func MalformedPayload(reason string, cause error) *MeshError {
	return NewMeshError(ErrCodeMalformedPayload, fmt.Sprintf("malformed payload: %s", reason), cause).
		WithDetail("reason", reason)
}

func UnreachableNode(nodeID string, cause error) *MeshError {
	return NewMeshError(ErrCodeUnreachableNode, fmt.Sprintf("node %s unreachable", nodeID), cause).
		WithDetail("node_id", nodeID)
}

func EmptyRing() *MeshError {
	return NewMeshError(ErrCodeEmptyRing, "no nodes available", nil)
}

func InternalFault(message string, cause error) *MeshError {
	return NewMeshError(ErrCodeInternalFault, message, cause)
}

func NotFound(what string) *MeshError {
	return NewMeshError(ErrCodeNotFound, fmt.Sprintf("%s not found", what), nil)
}

// IsMeshError checks if an error is, or wraps, a MeshError
func IsMeshError(err error) bool {
	var me *MeshError
	return stderrors.As(err, &me)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var me *MeshError
	if stderrors.As(err, &me) {
		return me.Code
	}
	return ErrCodeInternalFault
}

// HTTPStatus returns the status code for any error, defaulting to 500
func HTTPStatus(err error) int {
	var me *MeshError
	if stderrors.As(err, &me) {
		return me.HTTPStatus()
	}
	return http.StatusInternalServerError
}
