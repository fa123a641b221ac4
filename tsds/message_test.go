package tsds

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecoder_Classification verifies that the ".event" suffix routes items
// into the event pipeline and everything else into the data pipeline.
func TestDecoder_Classification(t *testing.T) {
	s := newTestStore()
	s.Metadatas["interface"] = testMetadata()

	registry := NewRegistry(s, nil)
	require.NoError(t, registry.Refresh(context.Background()))
	decoder := NewDecoder(registry)

	items := rawBatch(t,
		dataItem(61000, 60, map[string]interface{}{"input": 1.5}, "rtr-a"),
		map[string]interface{}{
			"type":       "interface.event",
			"start":      1000,
			"end":        2000,
			"identifier": "rtr-a",
			"event_type": "outage",
			"text":       "link down",
		},
	)

	data, events, err := decoder.Decode(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, data, 1)
	require.Len(t, events, 1)

	assert.Equal(t, "interface", data[0].DataType.Name)
	assert.Equal(t, int64(61000), data[0].Time)
	assert.Equal(t, int64(60), data[0].Interval)

	assert.Equal(t, "interface", events[0].DataType.Name)
	assert.Equal(t, "outage", events[0].Type)
	assert.Equal(t, int64(1000), events[0].Start)
	assert.Equal(t, "link down", events[0].Text)
}

// TestDecoder_SkipsMalformedItems verifies the per-item error policy:
// non-objects, items without a type, and messages missing required fields
// are logged and skipped without failing the batch.
func TestDecoder_SkipsMalformedItems(t *testing.T) {
	tests := []struct {
		name string
		item string
	}{
		{name: "NonObject", item: `42`},
		{name: "StringItem", item: `"hello"`},
		{name: "MissingType", item: `{"time": 1000, "interval": 60}`},
		{name: "DataWithoutTime", item: `{"type": "interface", "interval": 60, "values": {"input": 1}, "meta": {"node": "a"}}`},
		{name: "DataWithoutInterval", item: `{"type": "interface", "time": 1000, "values": {"input": 1}, "meta": {"node": "a"}}`},
		{name: "DataWithoutValues", item: `{"type": "interface", "time": 1000, "interval": 60, "meta": {"node": "a"}}`},
		{name: "DataMissingRequiredMeta", item: `{"type": "interface", "time": 1000, "interval": 60, "values": {"input": 1}, "meta": {"description": "no node"}}`},
		{name: "EventWithoutIdentifier", item: `{"type": "interface.event", "start": 1, "end": 2, "event_type": "outage"}`},
		{name: "EventWithoutEventType", item: `{"type": "interface.event", "start": 1, "end": 2, "identifier": "x"}`},
	}

	s := newTestStore()
	registry := NewRegistry(s, nil)
	require.NoError(t, registry.Refresh(context.Background()))
	decoder := NewDecoder(registry)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, events, err := decoder.Decode(context.Background(), []json.RawMessage{json.RawMessage(tt.item)})
			require.NoError(t, err)
			assert.Empty(t, data)
			assert.Empty(t, events)
		})
	}
}

// TestDecoder_UnknownTypeRefreshesOnce verifies that an unknown data type
// triggers one registry refresh: a type created since the last refresh is
// picked up, and a batch mentioning the same known type later performs no
// further refresh.
func TestDecoder_UnknownTypeRefreshesOnce(t *testing.T) {
	s := newTestStore()
	registry := NewRegistry(s, nil)
	require.NoError(t, registry.Refresh(context.Background()))

	// "cpu" appears in the store after the initial refresh.
	s.DBs = append(s.DBs, "cpu")
	s.Metadatas["cpu"] = &Metadata{Values: map[string]ValueDescriptor{"idle": {}}}

	decoder := NewDecoder(registry)
	items := rawBatch(t, map[string]interface{}{
		"type":     "cpu",
		"time":     1000,
		"interval": 60,
		"values":   map[string]interface{}{"idle": 99.0},
		"meta":     map[string]interface{}{},
	})

	data, _, err := decoder.Decode(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, "cpu", data[0].DataType.Name)

	// A second batch with the now-known type does not refresh again.
	listCalls := func() int {
		n := 0
		for _, call := range s.Calls {
			if call == "DatabaseNames" {
				n++
			}
		}
		return n
	}
	before := listCalls()

	_, _, err = decoder.Decode(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, before, listCalls())
}

// TestDecoder_UnknownTypeAfterRefreshIsSkipped verifies that an item whose
// type stays unknown after the refresh attempt is dropped.
func TestDecoder_UnknownTypeAfterRefreshIsSkipped(t *testing.T) {
	s := newTestStore()
	registry := NewRegistry(s, nil)
	require.NoError(t, registry.Refresh(context.Background()))
	decoder := NewDecoder(registry)

	items := rawBatch(t, map[string]interface{}{
		"type":     "nonexistent",
		"time":     1000,
		"interval": 60,
		"values":   map[string]interface{}{"x": 1.0},
	})

	data, events, err := decoder.Decode(context.Background(), items)
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Empty(t, events)
}

// TestDecoder_RefreshFailureAbortsBatch verifies that a failed registry
// refresh fails the whole batch as transient so the broker redelivers it.
func TestDecoder_RefreshFailureAbortsBatch(t *testing.T) {
	s := newTestStore()
	registry := NewRegistry(s, nil)
	require.NoError(t, registry.Refresh(context.Background()))
	decoder := NewDecoder(registry)

	s.DatabaseNamesErr = fmt.Errorf("connection reset")

	items := rawBatch(t, map[string]interface{}{
		"type":     "unknown",
		"time":     1000,
		"interval": 60,
		"values":   map[string]interface{}{"x": 1.0},
	})

	_, _, err := decoder.Decode(context.Background(), items)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

// TestDeriveIdentifier verifies that the identifier depends only on the
// required metadata fields and is stable across field ordering.
func TestDeriveIdentifier(t *testing.T) {
	dt := &DataType{
		Name: "interface",
		Fields: map[string]MetadataField{
			"node": {Required: true},
			"intf": {Required: true},
			"note": {Required: false},
		},
	}

	a, err := deriveIdentifier(dt, map[string]interface{}{"node": "rtr-a", "intf": "xe-0/0/0", "note": "one"})
	require.NoError(t, err)
	b, err := deriveIdentifier(dt, map[string]interface{}{"intf": "xe-0/0/0", "node": "rtr-a", "note": "two"})
	require.NoError(t, err)
	c, err := deriveIdentifier(dt, map[string]interface{}{"node": "rtr-b", "intf": "xe-0/0/0"})
	require.NoError(t, err)

	assert.Equal(t, a, b, "identifier must ignore optional fields and map order")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)

	_, err = deriveIdentifier(dt, map[string]interface{}{"node": "rtr-a"})
	require.Error(t, err, "missing required field must fail construction")
}
