package model

// NodeStatus defines the health status a worker reports
type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "Healthy"
	NodeStatusUnhealthy NodeStatus = "Unhealthy"
)

// HealthStatus is the body served by a worker's health endpoint
type HealthStatus struct {
	Status NodeStatus `json:"status"`
}
