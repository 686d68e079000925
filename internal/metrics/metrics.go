// Package metrics exposes the Prometheus instruments shared by the
// orchestrator, hub and collaborator client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles all instruments on a dedicated registry so tests can
// create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	NodeTransitions      *prometheus.CounterVec
	CollaboratorDuration *prometheus.HistogramVec
	ActiveWorkflows      prometheus.Gauge
	Subscribers          prometheus.Gauge
	DroppedSubscribers   prometheus.Counter
}

// New creates and registers all instruments.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		NodeTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_node_transitions_total",
				Help: "Total number of node status transitions",
			},
			[]string{"status"},
		),
		CollaboratorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "cortex_collaborator_duration_seconds",
				Help: "Duration of collaborator service calls",
			},
			[]string{"service"},
		),
		ActiveWorkflows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cortex_active_workflows",
				Help: "Number of workflows currently executing",
			},
		),
		Subscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cortex_subscribers",
				Help: "Number of connected stream subscribers",
			},
		),
		DroppedSubscribers: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cortex_dropped_subscribers_total",
				Help: "Subscribers disconnected because their queue was full",
			},
		),
	}
	m.registry.MustRegister(
		m.NodeTransitions,
		m.CollaboratorDuration,
		m.ActiveWorkflows,
		m.Subscribers,
		m.DroppedSubscribers,
	)
	return m
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
