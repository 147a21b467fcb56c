// Package trace implements the bounded-retention plugin chain trace store
// of SPEC_FULL §3: a badger-backed key/value store so a recorded trace
// (spec §3 "Trace record") survives a process restart within its
// retention window, backing tracing__get_trace, tracing__submit_feedback,
// and tracing__quality_report (spec §4.8), grounded on
// tomtom215-cartographus's badger-backed session/state stores.
package trace

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/stacklok/mcprelay/internal/logging"
)

const (
	traceSubsystem = "trace.store"
	tracePrefix    = "trace:"
	feedbackPrefix = "feedback:"
)

// Step is one plugin's contribution to a trace: the fields of plugin.Step
// plus the Phase it ran in. The trace package does not import plugin; the
// router's dispatcher converts plugin steps into trace steps.
type Step struct {
	Plugin   string          `json:"plugin"`
	Phase    string          `json:"phase"`
	Duration time.Duration   `json:"durationNs"`
	Status   string          `json:"status"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Record is the spec §3 "Trace record": a response id plus the ordered
// chain of per-plugin outcomes for both the request and response phases.
type Record struct {
	ID        string    `json:"id"`
	Backend   string     `json:"backend"`
	Tool      string     `json:"tool"`
	Steps     []Step     `json:"steps"`
	Outcome   string     `json:"outcome"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Feedback is a reviewer annotation attached to a recorded trace via
// tracing__submit_feedback.
type Feedback struct {
	TraceID    string          `json:"traceId"`
	Payload    json.RawMessage `json:"payload"`
	SubmittedAt time.Time      `json:"submittedAt"`
}

// Store persists Records and Feedback in a badger KV store with a per-key
// TTL equal to the configured retention window, so expired traces are
// reclaimed by badger's own garbage collector rather than a hand-rolled
// ring buffer.
type Store struct {
	db        *badger.DB
	retention time.Duration
}

// Open opens (or creates) a badger database at dir for trace storage.
// retention of zero disables TTL entirely, keeping every trace
// indefinitely.
func Open(dir string, retention time.Duration) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("trace: opening badger db at %s: %w", dir, err)
	}
	return &Store{db: db, retention: retention}, nil
}

// OpenInMemory opens an ephemeral, non-persistent store, used by tests and
// by a proxy instance run with no configured trace directory.
func OpenInMemory(retention time.Duration) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("trace: opening in-memory badger db: %w", err)
	}
	return &Store{db: db, retention: retention}, nil
}

// Close releases the underlying badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewID mints a fresh trace id (spec §3's "response id").
func NewID() string {
	return uuid.NewString()
}

// Put records rec under its own ID with the store's configured retention.
func (s *Store) Put(rec Record) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("trace: marshaling record %s: %w", rec.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(tracePrefix+rec.ID), data)
		if s.retention > 0 {
			entry = entry.WithTTL(s.retention)
		}
		return txn.SetEntry(entry)
	})
}

// Get returns the raw JSON of the trace recorded for id, for
// tracing__get_trace and proxy://trace/{id}.
func (s *Store) Get(id string) (json.RawMessage, bool) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(tracePrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, false
	}
	return data, true
}

// SubmitFeedback appends a feedback row keyed feedback:<id>:<n>, so
// tracing__quality_report can later aggregate feedback alongside the
// execution trace for the same request (SPEC_FULL §9 supplement).
func (s *Store) SubmitFeedback(id string, feedback json.RawMessage) error {
	if _, ok := s.Get(id); !ok {
		return fmt.Errorf("trace: no trace recorded for id %q", id)
	}

	fb := Feedback{TraceID: id, Payload: feedback, SubmittedAt: time.Now()}
	data, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("trace: marshaling feedback for %s: %w", id, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		n := 0
		prefix := []byte(feedbackPrefix + id + ":")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		it.Close()

		key := fmt.Sprintf("%s%s:%d", feedbackPrefix, id, n)
		entry := badger.NewEntry([]byte(key), data)
		if s.retention > 0 {
			entry = entry.WithTTL(s.retention)
		}
		return txn.SetEntry(entry)
	})
}

// QualityReportSummary is the aggregate tracing__quality_report renders.
type QualityReportSummary struct {
	TraceCount      int            `json:"traceCount"`
	FeedbackCount   int            `json:"feedbackCount"`
	OutcomeCounts   map[string]int `json:"outcomeCounts"`
	SkippedStepRate float64        `json:"skippedStepRate"`
}

// QualityReport scans every retained trace and feedback row and renders
// the aggregate summary backing tracing__quality_report.
func (s *Store) QualityReport() (json.RawMessage, error) {
	summary := QualityReportSummary{OutcomeCounts: map[string]int{}}
	totalSteps, skippedSteps := 0, 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(tracePrefix)); it.ValidForPrefix([]byte(tracePrefix)); it.Next() {
			item := it.Item()
			var rec Record
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				logging.Warn(traceSubsystem, "skipping unparseable trace record %s: %v", item.Key(), err)
				continue
			}
			summary.TraceCount++
			summary.OutcomeCounts[rec.Outcome]++
			for _, step := range rec.Steps {
				totalSteps++
				if strings.HasPrefix(step.Status, "skipped") {
					skippedSteps++
				}
			}
		}

		for it.Seek([]byte(feedbackPrefix)); it.ValidForPrefix([]byte(feedbackPrefix)); it.Next() {
			summary.FeedbackCount++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("trace: building quality report: %w", err)
	}

	if totalSteps > 0 {
		summary.SkippedStepRate = float64(skippedSteps) / float64(totalSteps)
	}
	return json.Marshal(summary)
}
