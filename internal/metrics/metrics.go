// Package metrics exposes the Prometheus counters/gauges backing the
// proxy://metrics and proxy://metrics/{server} resources of spec §4.8
// (SPEC_FULL §2 component M).
package metrics

import (
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// ToolCallsTotal counts every namespaced tools/call the dispatcher
	// handles, including calls refused or blocked before they reach a
	// backend, labeled by owning backend and outcome.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcprelay_tool_calls_total",
			Help: "Total number of namespaced tools/call requests handled by the dispatcher",
		},
		[]string{"backend", "outcome"},
	)

	// ToolCallDuration tracks round-trip latency from dispatch to reply,
	// including the request/response plugin chains.
	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcprelay_tool_call_duration_seconds",
			Help:    "tools/call round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// BackendState is a gauge set per backend per possible state (1 for
	// the current state, 0 otherwise), mirroring the supervisor state
	// machine of spec §4.2.
	BackendState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mcprelay_backend_state",
			Help: "Current lifecycle state of a backend (1 = current state, labeled by state name)",
		},
		[]string{"backend", "state"},
	)

	// BackendRestartsTotal counts every restart attempt a backend's
	// supervisor makes, per spec §4.2's backoff policy.
	BackendRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcprelay_backend_restarts_total",
			Help: "Total number of restart attempts made by a backend's supervisor",
		},
		[]string{"backend"},
	)

	// PluginExecutionsTotal counts every plugin invocation, labeled by
	// plugin name, phase, and outcome (ok, blocked, skipped_execution,
	// skipped_plugin_error).
	PluginExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcprelay_plugin_executions_total",
			Help: "Total number of plugin chain executions",
		},
		[]string{"plugin", "phase", "outcome"},
	)

	// PluginPoolSize reports the warm-process count per plugin (spec §4.5).
	PluginPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mcprelay_plugin_pool_size",
			Help: "Current number of warm plugin processes held in the FIFO pool",
		},
		[]string{"plugin"},
	)

	// InFlightRequests is the number of namespaced tools/call requests
	// currently being handled by the router's dispatcher.
	InFlightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcprelay_inflight_requests",
			Help: "Current number of in-flight client requests",
		},
	)

	// OverrideWritesTotal counts override-store persistence attempts,
	// labeled by outcome, so a string of write failures (spec §7) shows
	// up without needing log scraping.
	OverrideWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcprelay_override_writes_total",
			Help: "Total number of override-store persistence attempts",
		},
		[]string{"outcome"},
	)
)

// SetBackendState zeroes every other known state for backend and sets the
// current one to 1, so a Prometheus query for mcprelay_backend_state==1
// always names exactly one state per backend.
func SetBackendState(backend, current string, allStates []string) {
	for _, s := range allStates {
		if s == current {
			BackendState.WithLabelValues(backend, s).Set(1)
		} else {
			BackendState.WithLabelValues(backend, s).Set(0)
		}
	}
}

// sample is one flattened (labels, value) pair under its metric name in a
// Snapshot, the JSON shape proxy://metrics and proxy://metrics/{server}
// render (spec §4.8 resources are JSON, not the Prometheus text format
// promhttp would serve — this is the same registry read through a
// different encoder).
type sample struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Snapshot gathers the default Prometheus registry and flattens it into
// {metric_name: [samples]} for JSON rendering.
func Snapshot() (json.RawMessage, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("metrics: gathering: %w", err)
	}

	out := make(map[string][]sample, len(families))
	for _, mf := range families {
		var samples []sample
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			samples = append(samples, sample{Labels: labels, Value: metricValue(mf.GetType(), m)})
		}
		out[mf.GetName()] = samples
	}
	return json.Marshal(out)
}

func metricValue(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM:
		return float64(m.GetHistogram().GetSampleCount())
	case dto.MetricType_SUMMARY:
		return float64(m.GetSummary().GetSampleCount())
	default:
		return 0
	}
}
