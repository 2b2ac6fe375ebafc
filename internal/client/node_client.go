package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	mesherrors "github.com/devrev/meshplane/internal/errors"
	"github.com/devrev/meshplane/internal/model"
	"go.uber.org/zap"
)

// maxBodyBytes caps how much of a worker response is read
const maxBodyBytes = 4 << 20

// StatusError is returned when a worker answers with a non-200 status
type StatusError struct {
	NodeID     string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("node %s returned status %d", e.NodeID, e.StatusCode)
}

// NodeClient talks HTTP to worker nodes: health probes and message forwarding
type NodeClient struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewNodeClient creates a new node client. timeout is an upper bound applied
// on top of any deadline carried by the request context.
func NewNodeClient(timeout time.Duration, logger *zap.Logger) *NodeClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &NodeClient{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Probe issues GET <endpoint>/health. Only a 200 counts as healthy; the body
// is not interpreted.
func (c *NodeClient) Probe(ctx context.Context, node *model.NodeRecord) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.HealthURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return &StatusError{NodeID: node.ID, StatusCode: resp.StatusCode}
	}

	c.logger.Debug("Health probe succeeded",
		zap.String("node_id", node.ID),
		zap.ByteString("body", body))

	return nil
}

// Forward posts message to <endpoint>/process and returns the response body.
// A non-200 answer yields *StatusError; a transport failure yields an
// UnreachableNode error.
func (c *NodeClient) Forward(ctx context.Context, node *model.NodeRecord, message string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node.ProcessURL(), bytes.NewBufferString(message))
	if err != nil {
		return "", mesherrors.UnreachableNode(node.ID, err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", mesherrors.UnreachableNode(node.ID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", mesherrors.UnreachableNode(node.ID, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{NodeID: node.ID, StatusCode: resp.StatusCode}
	}

	return string(body), nil
}
