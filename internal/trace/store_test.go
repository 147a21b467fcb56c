package trace

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory(time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutAndGetRoundTrips(t *testing.T) {
	s := newTestStore(t)

	rec := Record{
		ID:      NewID(),
		Backend: "github",
		Tool:    "search_issues",
		Steps:   []Step{{Plugin: "redactor", Status: "ok"}},
		Outcome: "ok",
	}
	require.NoError(t, s.Put(rec))

	raw, ok := s.Get(rec.ID)
	require.True(t, ok)
	require.Contains(t, string(raw), "redactor")
}

func TestGetUnknownIDReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	_, ok := s.Get("does-not-exist")
	require.False(t, ok)
}

func TestSubmitFeedbackRequiresExistingTrace(t *testing.T) {
	s := newTestStore(t)
	err := s.SubmitFeedback("missing", []byte(`{"good":true}`))
	require.Error(t, err)
}

func TestQualityReportAggregatesOutcomesAndFeedback(t *testing.T) {
	s := newTestStore(t)

	id := NewID()
	require.NoError(t, s.Put(Record{
		ID:      id,
		Backend: "github",
		Outcome: "ok",
		Steps: []Step{
			{Plugin: "a", Status: "ok"},
			{Plugin: "b", Status: "skipped_execution"},
		},
	}))
	require.NoError(t, s.SubmitFeedback(id, []byte(`{"rating":5}`)))

	raw, err := s.QualityReport()
	require.NoError(t, err)

	var summary QualityReportSummary
	require.NoError(t, json.Unmarshal(raw, &summary))
	require.Equal(t, 1, summary.TraceCount)
	require.Equal(t, 1, summary.FeedbackCount)
	require.Equal(t, 1, summary.OutcomeCounts["ok"])
	require.InDelta(t, 0.5, summary.SkippedStepRate, 0.0001)
}
