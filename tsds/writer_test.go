package tsds

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestProcessBatch_EmptyBatch verifies that an empty envelope succeeds with
// no store or cache mutations.
func TestProcessBatch_EmptyBatch(t *testing.T) {
	s := newTestStore()
	w, c, l := newTestWriter(t, s)

	callsBefore := len(s.Calls)
	require.NoError(t, w.ProcessBatch(context.Background(), []json.RawMessage{}))

	assert.Equal(t, callsBefore, len(s.Calls))
	assert.Empty(t, c.Ops)
	assert.Empty(t, l.Acquired)
}

// TestProcessBatch_SingleNewMeasurement is the end-to-end single-point
// scenario: one message creates the measurement record and its bucket.
func TestProcessBatch_SingleNewMeasurement(t *testing.T) {
	s := newTestStore()
	w, _, _ := newTestWriter(t, s)

	items := rawBatch(t, dataItem(61000, 60, map[string]interface{}{"input": 1.0}, "rtr-a"))
	require.NoError(t, w.ProcessBatch(context.Background(), items))

	require.Len(t, s.Measurements["interface"], 1)
	m := s.Measurements["interface"][0]
	assert.Equal(t, testIdentifier(t, "rtr-a"), m.Identifier)
	assert.Equal(t, int64(61000), m.Start)
	assert.Nil(t, m.End)

	require.Len(t, s.DataDocs["interface"], 1)
	doc := s.DataDocs["interface"][0]
	assert.Equal(t, int64(60000), doc.Start)
	assert.Equal(t, int64(120000), doc.End)
	assert.Equal(t, m.Identifier, doc.Identifier)
}

// TestProcessBatch_MixedDataAndEvents verifies that one batch feeds both
// pipelines.
func TestProcessBatch_MixedDataAndEvents(t *testing.T) {
	s := newTestStore()
	w, _, _ := newTestWriter(t, s)

	items := rawBatch(t,
		dataItem(61000, 60, map[string]interface{}{"input": 1.0}, "rtr-a"),
		map[string]interface{}{
			"type":       "interface.event",
			"start":      61000,
			"end":        61500,
			"identifier": "rtr-a",
			"event_type": "outage",
			"text":       "link down",
		},
	)
	require.NoError(t, w.ProcessBatch(context.Background(), items))

	assert.Len(t, s.DataDocs["interface"], 1)
	assert.Len(t, s.EventDocs["interface"], 1)
}

// TestProcessBatch_MalformedItemsAreSkipped verifies that junk items do not
// fail a batch that also carries valid ones.
func TestProcessBatch_MalformedItemsAreSkipped(t *testing.T) {
	s := newTestStore()
	w, _, _ := newTestWriter(t, s)

	items := []json.RawMessage{
		json.RawMessage(`42`),
		json.RawMessage(`{"interval": 60}`),
	}
	items = append(items, rawBatch(t, dataItem(61000, 60, map[string]interface{}{"input": 1.0}, "rtr-a"))...)

	require.NoError(t, w.ProcessBatch(context.Background(), items))
	assert.Len(t, s.DataDocs["interface"], 1)
}

// TestProcessBatch_TransientFailurePropagates verifies that a backend
// failure surfaces as a transient batch error for requeueing.
func TestProcessBatch_TransientFailurePropagates(t *testing.T) {
	s := newTestStore()
	s.InsertDataErr = assert.AnError
	w, _, _ := newTestWriter(t, s)

	items := rawBatch(t, dataItem(61000, 60, map[string]interface{}{"input": 1.0}, "rtr-a"))
	err := w.ProcessBatch(context.Background(), items)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

// TestProcessBatch_CommutesAcrossDisjointBuckets verifies the ordering law:
// two batches touching disjoint buckets produce the same state in either
// order.
func TestProcessBatch_CommutesAcrossDisjointBuckets(t *testing.T) {
	batchA := func(t *testing.T) []json.RawMessage {
		return rawBatch(t, dataItem(61000, 60, map[string]interface{}{"input": 1.0}, "rtr-a"))
	}
	batchB := func(t *testing.T) []json.RawMessage {
		return rawBatch(t, dataItem(200000000, 60, map[string]interface{}{"input": 2.0}, "rtr-b"))
	}

	run := func(t *testing.T, first, second func(*testing.T) []json.RawMessage) *MockStore {
		s := newTestStore()
		w, _, _ := newTestWriter(t, s)
		require.NoError(t, w.ProcessBatch(context.Background(), first(t)))
		require.NoError(t, w.ProcessBatch(context.Background(), second(t)))
		return s
	}

	ab := run(t, batchA, batchB)
	ba := run(t, batchB, batchA)

	require.Len(t, ab.DataDocs["interface"], 2)
	require.Len(t, ba.DataDocs["interface"], 2)

	summarize := func(s *MockStore) map[int64]float64 {
		result := make(map[int64]float64)
		for _, d := range s.DataDocs["interface"] {
			for _, p := range d.Points {
				result[p.Time] = *p.Value
			}
		}
		return result
	}
	assert.Equal(t, summarize(ab), summarize(ba))
}

// TestProcessBatch_InvariantsHold replays a varied batch and checks the
// stored state against the bucket invariants.
func TestProcessBatch_InvariantsHold(t *testing.T) {
	s := newTestStore()
	w, _, _ := newTestWriter(t, s)

	items := rawBatch(t,
		dataItem(61000, 60, map[string]interface{}{"input": 1.0, "output": 2.0}, "rtr-a"),
		dataItem(61060, 60, map[string]interface{}{"input": 3.0}, "rtr-a"),
		dataItem(121000, 60, map[string]interface{}{"input": 4.0}, "rtr-a"),
		dataItem(61000, 60, map[string]interface{}{"input": 5.0}, "rtr-b"),
	)
	require.NoError(t, w.ProcessBatch(context.Background(), items))

	type window struct {
		identifier string
		start, end int64
	}
	seen := make(map[window]bool)

	for _, d := range s.DataDocs["interface"] {
		// Fixed width and alignment.
		assert.Equal(t, d.Interval*HighResolutionDocumentSize, d.End-d.Start)
		assert.Zero(t, d.Start%(d.End-d.Start))

		// No two buckets of a measurement share a window.
		wdw := window{d.Identifier, d.Start, d.End}
		assert.False(t, seen[wdw])
		seen[wdw] = true

		// Points live inside their bucket and are declared.
		for _, p := range d.Points {
			assert.GreaterOrEqual(t, p.Time, d.Start)
			assert.Less(t, p.Time, d.End)
			assert.True(t, d.ValueTypes[p.ValueType])
		}
	}

	// At most one active record per measurement.
	active := make(map[string]int)
	for _, m := range s.Measurements["interface"] {
		if m.End == nil {
			active[m.Identifier]++
		}
	}
	for identifier, n := range active {
		assert.Equal(t, 1, n, identifier)
	}
}
