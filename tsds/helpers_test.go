package tsds

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bgeels/tsds-services/cache"
	"github.com/bgeels/tsds-services/lock"
)

// testMetadata returns a metadata document for an interface-like data type
// with two declared value types and a required "node" field.
func testMetadata() *Metadata {
	return &Metadata{
		Values: map[string]ValueDescriptor{
			"input":  {Description: "input", Units: "bps"},
			"output": {Description: "output", Units: "bps"},
		},
		Fields: map[string]MetadataField{
			"node":        {Required: true},
			"description": {Required: false},
		},
	}
}

// newTestStore returns a mock store pre-seeded with the "interface" data
// type.
func newTestStore() *MockStore {
	s := NewMockStore()
	s.DBs = []string{"interface"}
	s.Metadatas["interface"] = testMetadata()
	return s
}

// newTestWriter wires a writer over mocks with the registry already
// refreshed.
func newTestWriter(t *testing.T, s *MockStore) (*Writer, *cache.MockCache, *lock.MockLocker) {
	t.Helper()

	registry := NewRegistry(s, nil)
	require.NoError(t, registry.Refresh(context.Background()))

	c := cache.NewMockCache()
	l := lock.NewMockLocker()
	return NewWriter(registry, s, c, l), c, l
}

// rawBatch marshals batch items into the wire form the consumer hands to
// ProcessBatch.
func rawBatch(t *testing.T, items ...interface{}) []json.RawMessage {
	t.Helper()

	var raw []json.RawMessage
	for _, item := range items {
		encoded, err := json.Marshal(item)
		require.NoError(t, err)
		raw = append(raw, json.RawMessage(encoded))
	}
	return raw
}

// dataItem builds a wire-form data message for the interface data type.
func dataItem(time, interval int64, values map[string]interface{}, node string) map[string]interface{} {
	return map[string]interface{}{
		"type":     "interface",
		"time":     time,
		"interval": interval,
		"values":   values,
		"meta":     map[string]interface{}{"node": node, "description": "test"},
	}
}

// testIdentifier computes the identifier the writer derives for a node.
func testIdentifier(t *testing.T, node string) string {
	t.Helper()

	dt := &DataType{Name: "interface", Fields: testMetadata().Fields}
	id, err := deriveIdentifier(dt, map[string]interface{}{"node": node})
	require.NoError(t, err)
	return id
}

func fptr(v float64) *float64 {
	return &v
}
