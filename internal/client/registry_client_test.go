package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	mesherrors "github.com/devrev/meshplane/internal/errors"
	"github.com/devrev/meshplane/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeEnvelope(w http.ResponseWriter, status int, code mesherrors.ErrorCode) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(mesherrors.ErrorResponse{Status: "error", ErrorCode: code, Message: string(code)})
}

func testRegistration() *model.RegistrationRequest {
	return &model.RegistrationRequest{
		NodeID:     "w1",
		Endpoint:   "http://w1:9000",
		Stake:      decimal.RequireFromString("10.5"),
		Throughput: 3,
	}
}

func TestRegistryClient_Register(t *testing.T) {
	var got model.RegistrationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/register", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(model.RegistrationResponse{Status: "registered", NodeID: got.NodeID})
	}))
	defer srv.Close()

	c := NewRegistryClient(srv.URL+"/", time.Second, zap.NewNop())
	require.NoError(t, c.Register(context.Background(), testRegistration()))

	assert.Equal(t, "w1", got.NodeID)
	assert.True(t, decimal.RequireFromString("10.5").Equal(got.Stake))
}

func TestRegistryClient_RegisterDuplicate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusBadRequest, mesherrors.ErrCodeDuplicateRegistration)
	}))
	defer srv.Close()

	c := NewRegistryClient(srv.URL, time.Second, zap.NewNop())
	err := c.Register(context.Background(), testRegistration())
	assert.ErrorIs(t, err, mesherrors.ErrDuplicateRegistration)

	// Duplicate is terminal success for the retry loop
	assert.NoError(t, c.RegisterWithRetry(context.Background(), testRegistration(), 3, time.Millisecond))
}

func TestRegistryClient_RegisterWithRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeEnvelope(w, http.StatusInternalServerError, mesherrors.ErrCodeInternalFault)
			return
		}
		json.NewEncoder(w).Encode(model.RegistrationResponse{Status: "registered", NodeID: "w1"})
	}))
	defer srv.Close()

	c := NewRegistryClient(srv.URL, time.Second, zap.NewNop())
	require.NoError(t, c.RegisterWithRetry(context.Background(), testRegistration(), 5, time.Millisecond))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRegistryClient_RegisterWithRetryGivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewRegistryClient(srv.URL, time.Second, zap.NewNop())
	err := c.RegisterWithRetry(context.Background(), testRegistration(), 2, time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to register after 2 attempts")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRegistryClient_RegisterWithRetryMalformedNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeEnvelope(w, http.StatusBadRequest, mesherrors.ErrCodeMalformedPayload)
	}))
	defer srv.Close()

	c := NewRegistryClient(srv.URL, time.Second, zap.NewNop())
	err := c.RegisterWithRetry(context.Background(), testRegistration(), 5, time.Millisecond)
	assert.ErrorIs(t, err, mesherrors.ErrMalformedPayload)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRegistryClient_List(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/list", r.URL.Path)
		json.NewEncoder(w).Encode([]*model.NodeRecord{
			{ID: "a", Endpoint: "http://a"},
			{ID: "b", Endpoint: "http://b"},
		})
	}))
	defer srv.Close()

	c := NewRegistryClient(srv.URL, time.Second, zap.NewNop())
	nodes, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "a", nodes[0].ID)
}
