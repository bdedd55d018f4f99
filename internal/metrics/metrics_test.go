package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNewWithRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWith(reg)

	m.EventsProcessed.WithLabelValues("P1", "ServiceA", "op1").Inc()
	m.EventsDropped.WithLabelValues("P1", "bad_version").Inc()
	m.JoinWaitSeconds.WithLabelValues("J1").Observe(0.25)
	m.CommitLatencySeconds.WithLabelValues("ServiceA", "op1").Observe(0.1)
	m.QueueDepth.WithLabelValues("P1").Set(3)

	families, err := reg.Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{
		"workflow_engine_events_processed_total",
		"workflow_engine_events_dropped_total",
		"workflow_engine_join_wait_seconds",
		"workflow_engine_commit_latency_seconds",
		"workflow_engine_queue_depth",
	} {
		require.True(t, found[name], "missing collector %s", name)
	}
}

func TestQueueDepthGaugeReflectsLastSet(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWith(reg)
	m.QueueDepth.WithLabelValues("P1").Set(5)

	var metric dto.Metric
	require.NoError(t, m.QueueDepth.WithLabelValues("P1").Write(&metric))
	require.Equal(t, float64(5), metric.GetGauge().GetValue())
}
