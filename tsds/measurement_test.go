package tsds

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgeels/tsds-services/cache"
)

// TestUpsertMeasurement_CreatesRecord verifies that a first sighting inserts
// an active record carrying only the required metadata fields.
func TestUpsertMeasurement_CreatesRecord(t *testing.T) {
	s := newTestStore()
	w, c, l := newTestWriter(t, s)
	ctx := context.Background()

	batch := Coalesce([]*DataMessage{{
		DataType:   w.registry.Get("interface"),
		Identifier: "m1",
		Time:       61000,
		Interval:   60,
		Values:     map[string]*float64{"input": fptr(1)},
		Meta:       map[string]interface{}{"node": "rtr-a", "description": "optional"},
	}}, nil)

	require.NoError(t, w.processMeasurements(ctx, batch))

	require.Len(t, s.Measurements["interface"], 1)
	m := s.Measurements["interface"][0]
	assert.Equal(t, "m1", m.Identifier)
	assert.Equal(t, int64(61000), m.Start)
	assert.Nil(t, m.End)
	assert.Equal(t, int64(61000), m.LastUpdated)
	assert.Equal(t, map[string]interface{}{"node": "rtr-a"}, m.Meta, "only required meta fields are stored")

	key := cache.MeasurementID("interface", "m1")
	assert.True(t, c.Has(key))
	assert.Equal(t, cache.LockID(key), l.Acquired[0])
	assert.Equal(t, cache.LockID(key), l.Released[0])
	assert.Zero(t, l.HeldCount())
}

// TestUpsertMeasurement_CacheHitSkipsStore verifies the cache gate: a hit
// means the record is known to exist and the store is not consulted.
func TestUpsertMeasurement_CacheHitSkipsStore(t *testing.T) {
	s := newTestStore()
	w, c, l := newTestWriter(t, s)
	ctx := context.Background()

	key := cache.MeasurementID("interface", "m1")
	require.NoError(t, c.Set(key, []byte("1"), time.Hour))

	batch := Coalesce([]*DataMessage{{
		DataType:   w.registry.Get("interface"),
		Identifier: "m1",
		Time:       61000,
		Interval:   60,
		Values:     map[string]*float64{"input": fptr(1)},
		Meta:       map[string]interface{}{"node": "rtr-a"},
	}}, nil)

	require.NoError(t, w.processMeasurements(ctx, batch))

	assert.Empty(t, s.Measurements["interface"])
	assert.Empty(t, l.Acquired, "cache hit takes no lock")
	for _, call := range s.Calls {
		assert.NotContains(t, call, "ActiveMeasurement")
	}
}

// TestUpsertMeasurement_ExistingRecordFillsCache verifies that an existing
// active record is not re-inserted and only populates the cache.
func TestUpsertMeasurement_ExistingRecordFillsCache(t *testing.T) {
	s := newTestStore()
	s.Measurements["interface"] = []*Measurement{{Identifier: "m1", Start: 1000}}
	w, c, _ := newTestWriter(t, s)

	batch := Coalesce([]*DataMessage{{
		DataType:   w.registry.Get("interface"),
		Identifier: "m1",
		Time:       61000,
		Interval:   60,
		Values:     map[string]*float64{"input": fptr(1)},
		Meta:       map[string]interface{}{"node": "rtr-a"},
	}}, nil)

	require.NoError(t, w.processMeasurements(context.Background(), batch))

	assert.Len(t, s.Measurements["interface"], 1, "no duplicate insert")
	assert.True(t, c.Has(cache.MeasurementID("interface", "m1")))
}

// TestMeasurementCacheTTL verifies the TTL rule: the configured expiration
// is a lower bound under twice the interval.
func TestMeasurementCacheTTL(t *testing.T) {
	tests := []struct {
		name     string
		interval int64
		expected time.Duration
	}{
		{name: "ShortInterval", interval: 60, expected: MeasurementCacheExpiration},
		{name: "BoundaryInterval", interval: 1800, expected: MeasurementCacheExpiration},
		{name: "LongInterval", interval: 7200, expected: 4 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, measurementCacheTTL(tt.interval))
		})
	}
}

// TestUpsertMeasurement_StoreFailureIsTransient verifies that a store
// failure fails the batch for redelivery and releases the lock.
func TestUpsertMeasurement_StoreFailureIsTransient(t *testing.T) {
	s := newTestStore()
	s.ActiveErr = assert.AnError
	w, _, l := newTestWriter(t, s)

	batch := Coalesce([]*DataMessage{{
		DataType:   w.registry.Get("interface"),
		Identifier: "m1",
		Time:       61000,
		Interval:   60,
		Values:     map[string]*float64{"input": fptr(1)},
		Meta:       map[string]interface{}{"node": "rtr-a"},
	}}, nil)

	err := w.processMeasurements(context.Background(), batch)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Zero(t, l.HeldCount(), "lock released on failure")
}

// TestUpsertMeasurement_LockFailureIsTransient verifies that lock
// exhaustion fails the batch for redelivery.
func TestUpsertMeasurement_LockFailureIsTransient(t *testing.T) {
	s := newTestStore()
	w, _, l := newTestWriter(t, s)

	key := cache.LockID(cache.MeasurementID("interface", "m1"))
	l.AcquireErrs[key] = assert.AnError

	batch := Coalesce([]*DataMessage{{
		DataType:   w.registry.Get("interface"),
		Identifier: "m1",
		Time:       61000,
		Interval:   60,
		Values:     map[string]*float64{"input": fptr(1)},
		Meta:       map[string]interface{}{"node": "rtr-a"},
	}}, nil)

	err := w.processMeasurements(context.Background(), batch)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
