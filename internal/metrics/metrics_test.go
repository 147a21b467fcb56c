package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestToolCallsTotalIncrements(t *testing.T) {
	before := testutil.ToFloat64(ToolCallsTotal.WithLabelValues("github", "ok"))

	ToolCallsTotal.WithLabelValues("github", "ok").Inc()

	after := testutil.ToFloat64(ToolCallsTotal.WithLabelValues("github", "ok"))
	require.Greater(t, after, before)
}

func TestSetBackendStateZeroesOthers(t *testing.T) {
	states := []string{"ready", "degraded", "failed"}
	SetBackendState("github", "degraded", states)

	require.Equal(t, float64(0), testutil.ToFloat64(BackendState.WithLabelValues("github", "ready")))
	require.Equal(t, float64(1), testutil.ToFloat64(BackendState.WithLabelValues("github", "degraded")))
	require.Equal(t, float64(0), testutil.ToFloat64(BackendState.WithLabelValues("github", "failed")))
}

func TestSnapshotIncludesRegisteredFamily(t *testing.T) {
	PluginExecutionsTotal.WithLabelValues("redactor", "request", "ok").Inc()

	raw, err := Snapshot()
	require.NoError(t, err)
	require.Contains(t, string(raw), "mcprelay_plugin_executions_total")
}
