package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	mesherrors "github.com/devrev/meshplane/internal/errors"
	"github.com/devrev/meshplane/internal/model"
	"go.uber.org/zap"
)

// RegistryClient handles communication with the registry service
type RegistryClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRegistryClient creates a new registry client for the registry at baseURL
func NewRegistryClient(baseURL string, timeout time.Duration, logger *zap.Logger) *RegistryClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &RegistryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Register announces a node to the registry
func (c *RegistryClient) Register(ctx context.Context, reg *model.RegistrationRequest) error {
	payload, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to encode registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/register", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("Registering node with registry",
		zap.String("node_id", reg.NodeID),
		zap.String("endpoint", reg.Endpoint),
		zap.String("registry", c.baseURL))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	var out model.RegistrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode registration response: %w", err)
	}

	c.logger.Info("Successfully registered with registry",
		zap.String("node_id", out.NodeID),
		zap.String("status", out.Status))

	return nil
}

// RegisterWithRetry attempts to register with the registry with retries.
// A duplicate rejection means a record for this id already exists, which is
// reported as success. Malformed payloads are not retried.
func (c *RegistryClient) RegisterWithRetry(ctx context.Context, reg *model.RegistrationRequest, maxRetries int, retryInterval time.Duration) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := c.Register(ctx, reg)
		if err == nil {
			return nil
		}

		if errors.Is(err, mesherrors.ErrDuplicateRegistration) {
			c.logger.Warn("Node already registered, continuing",
				zap.String("node_id", reg.NodeID))
			return nil
		}
		if errors.Is(err, mesherrors.ErrMalformedPayload) {
			return err
		}

		lastErr = err
		c.logger.Warn("Failed to register with registry, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during registration: %w", ctx.Err())
			case <-time.After(retryInterval):
				// Continue to next attempt
			}
		}
	}

	return fmt.Errorf("failed to register after %d attempts: %w", maxRetries, lastErr)
}

// List fetches the current membership snapshot
func (c *RegistryClient) List(ctx context.Context) ([]*model.NodeRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build list request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var nodes []*model.NodeRecord
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		return nil, fmt.Errorf("failed to decode node list: %w", err)
	}
	return nodes, nil
}

// decodeError reads the registry's error envelope, falling back to the bare status
func decodeError(resp *http.Response) error {
	var envelope mesherrors.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.ErrorCode == "" {
		return fmt.Errorf("registry returned status %d", resp.StatusCode)
	}
	return envelope.AsError()
}
