// Package metrics exposes the Prometheus collectors the service host
// registers for event throughput, join wait time, and commit latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector one service host process registers.
type Metrics struct {
	EventsProcessed  *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	JoinWaitSeconds  *prometheus.HistogramVec
	CommitLatencySeconds *prometheus.HistogramVec
	QueueDepth       *prometheus.GaugeVec
}

// New registers and returns a Metrics struct against the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers against a caller-supplied registerer, so tests can use
// a fresh prometheus.NewRegistry() instead of the global default.
func NewWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_engine_events_processed_total",
			Help: "Total tokens successfully processed by an orchestrator place.",
		}, []string{"place_id", "service", "operation"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_engine_events_dropped_total",
			Help: "Total tokens whose handling failed (bad version, definition error, invoke, routing or publish failure).",
		}, []string{"place_id", "reason"}),
		JoinWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "workflow_engine_join_wait_seconds",
			Help: "Time from a workflow instance's start to the moment its join fires at this place.",
			Buckets: prometheus.DefBuckets,
		}, []string{"join_transition_id"}),
		CommitLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "workflow_engine_commit_latency_seconds",
			Help: "Time from a rule payload's first send to its commitment ack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "operation"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "workflow_engine_queue_depth",
			Help: "Current depth of a place's bounded event queue.",
		}, []string{"place_id"}),
	}
	reg.MustRegister(m.EventsProcessed, m.EventsDropped, m.JoinWaitSeconds, m.CommitLatencySeconds, m.QueueDepth)
	return m
}
