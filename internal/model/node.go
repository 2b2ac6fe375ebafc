package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// NodeRecord represents a registered worker node
type NodeRecord struct {
	ID           string          `json:"nodeId"`
	Endpoint     string          `json:"endpoint"`
	Stake        decimal.Decimal `json:"stake"`
	Throughput   float64         `json:"throughput"`
	RegisteredAt time.Time       `json:"registeredAt"`
}

// Clone returns a copy of the record so callers never share registry-owned memory
func (n *NodeRecord) Clone() *NodeRecord {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}

// HealthURL returns the URL the liveness monitor probes
func (n *NodeRecord) HealthURL() string {
	return joinPath(n.Endpoint, "/health")
}

// ProcessURL returns the URL the gateway forwards messages to
func (n *NodeRecord) ProcessURL() string {
	return joinPath(n.Endpoint, "/process")
}

func joinPath(endpoint, path string) string {
	for len(endpoint) > 0 && endpoint[len(endpoint)-1] == '/' {
		endpoint = endpoint[:len(endpoint)-1]
	}
	return endpoint + path
}

// RegistrationRequest is the body accepted by the registry's register endpoint
type RegistrationRequest struct {
	NodeID     string          `json:"nodeId"`
	Endpoint   string          `json:"endpoint"`
	Stake      decimal.Decimal `json:"stake"`
	Throughput float64         `json:"throughput"`
}

// ToRecord converts the request into a node record
func (r *RegistrationRequest) ToRecord() *NodeRecord {
	return &NodeRecord{
		ID:         r.NodeID,
		Endpoint:   r.Endpoint,
		Stake:      r.Stake,
		Throughput: r.Throughput,
	}
}

// RegistrationResponse is returned on a successful registration
type RegistrationResponse struct {
	Status string `json:"status"`
	NodeID string `json:"nodeId"`
}
