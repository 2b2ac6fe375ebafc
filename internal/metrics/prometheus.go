package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Registry metrics
	RegistrationsTotal *prometheus.CounterVec
	EvictionsTotal     *prometheus.CounterVec
	RegisteredNodes    prometheus.Gauge

	// Liveness monitor metrics
	ProbeDuration *prometheus.HistogramVec
	MonitorCycles prometheus.Counter

	// Gateway metrics
	RoutedMessages     *prometheus.CounterVec
	ForwardDuration    *prometheus.HistogramVec
	RingEntries        prometheus.Gauge
	RingNodes          prometheus.Gauge
	ActiveConnections  prometheus.Gauge
	RingRefreshesTotal *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers Prometheus metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RegistrationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshplane_registrations_total",
				Help: "Total number of registration attempts",
			},
			[]string{"result"},
		),

		EvictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshplane_evictions_total",
				Help: "Total number of nodes removed from the registry",
			},
			[]string{"reason"},
		),

		RegisteredNodes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "meshplane_registered_nodes",
				Help: "Number of nodes currently registered",
			},
		),

		ProbeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meshplane_probe_duration_seconds",
				Help:    "Duration of node health probes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),

		MonitorCycles: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "meshplane_monitor_cycles_total",
				Help: "Total number of completed liveness monitor cycles",
			},
		),

		RoutedMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshplane_routed_messages_total",
				Help: "Total number of client messages handled by the gateway",
			},
			[]string{"result"},
		),

		ForwardDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meshplane_forward_duration_seconds",
				Help:    "Duration of forward calls to worker nodes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),

		RingEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "meshplane_ring_entries",
				Help: "Number of positions on the gateway's hash ring",
			},
		),

		RingNodes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "meshplane_ring_nodes",
				Help: "Number of distinct nodes on the gateway's hash ring",
			},
		),

		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "meshplane_active_connections",
				Help: "Number of open gateway client connections",
			},
		),

		RingRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshplane_ring_refreshes_total",
				Help: "Total number of ring refreshes from the registry",
			},
			[]string{"result"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshplane_http_requests_total",
				Help: "Total number of HTTP requests served",
			},
			[]string{"method", "path", "status"},
		),
	}
}

// RecordRegistration records a registration attempt
func (m *Metrics) RecordRegistration(result string) {
	if m == nil {
		return
	}
	m.RegistrationsTotal.WithLabelValues(result).Inc()
}

// RecordEviction records a node removal
func (m *Metrics) RecordEviction(reason string) {
	if m == nil {
		return
	}
	m.EvictionsTotal.WithLabelValues(reason).Inc()
}

// UpdateRegisteredNodes updates the registered nodes gauge
func (m *Metrics) UpdateRegisteredNodes(count int) {
	if m == nil {
		return
	}
	m.RegisteredNodes.Set(float64(count))
}

// RecordProbe records a health probe
func (m *Metrics) RecordProbe(result string, duration float64) {
	if m == nil {
		return
	}
	m.ProbeDuration.WithLabelValues(result).Observe(duration)
}

// RecordMonitorCycle records a completed monitor cycle
func (m *Metrics) RecordMonitorCycle() {
	if m == nil {
		return
	}
	m.MonitorCycles.Inc()
}

// RecordRoutedMessage records the outcome of a routed client message
func (m *Metrics) RecordRoutedMessage(result string) {
	if m == nil {
		return
	}
	m.RoutedMessages.WithLabelValues(result).Inc()
}

// RecordForward records a forward call to a worker
func (m *Metrics) RecordForward(result string, duration float64) {
	if m == nil {
		return
	}
	m.ForwardDuration.WithLabelValues(result).Observe(duration)
}

// UpdateRing updates the ring gauges
func (m *Metrics) UpdateRing(entries, nodes int) {
	if m == nil {
		return
	}
	m.RingEntries.Set(float64(entries))
	m.RingNodes.Set(float64(nodes))
}

// UpdateActiveConnections updates the open connections gauge
func (m *Metrics) UpdateActiveConnections(count int64) {
	if m == nil {
		return
	}
	m.ActiveConnections.Set(float64(count))
}

// RecordRingRefresh records a ring refresh
func (m *Metrics) RecordRingRefresh(result string) {
	if m == nil {
		return
	}
	m.RingRefreshesTotal.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records a served HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}
