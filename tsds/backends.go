package tsds

import (
	"context"
	"time"
)

// Store is the document store the writer commits to. Implementations return
// ErrNotFound for absent singletons; list operations return empty slices.
// All collections are scoped by data type: each data type is its own
// database holding measurements, data, event, and metadata collections.
type Store interface {
	// DatabaseNames lists the databases visible to the writer.
	DatabaseNames(ctx context.Context) ([]string, error)

	// Metadata reads the singleton metadata document of a data type.
	Metadata(ctx context.Context, dataType string) (*Metadata, error)

	// AddMetadataValues declares additional value types on the metadata
	// document in one update.
	AddMetadataValues(ctx context.Context, dataType string, values map[string]ValueDescriptor) error

	// ActiveMeasurement finds the measurement record with the given
	// identifier and no end. Returns (nil, nil) when absent.
	ActiveMeasurement(ctx context.Context, dataType, identifier string) (*Measurement, error)

	// InsertMeasurement inserts a new measurement record.
	InsertMeasurement(ctx context.Context, dataType string, m *Measurement) error

	// DataDocument fetches the bucket with the exact (identifier, start,
	// end). Returns ErrNotFound when absent.
	DataDocument(ctx context.Context, dataType, identifier string, start, end int64) (*DataDocument, error)

	// OverlappingDataDocuments finds every bucket of the identifier whose
	// window overlaps or abuts the given one. Abutting buckets are
	// included so an interval change is reconciled even when the new
	// bucket only touches its neighbors; same-interval neighbors are
	// filtered by the caller.
	OverlappingDataDocuments(ctx context.Context, dataType, identifier string, start, end int64) ([]*DataDocument, error)

	// InsertDataDocuments inserts a set of buckets.
	InsertDataDocuments(ctx context.Context, dataType string, docs []*DataDocument) error

	// UpdateDataDocument merges points into an existing bucket and
	// declares any value types the bucket has not seen before.
	UpdateDataDocument(ctx context.Context, dataType string, doc *DataDocument, points []DataPoint, newValueTypes []string) error

	// RemoveDataDocuments deletes buckets by id in a single batch.
	RemoveDataDocuments(ctx context.Context, dataType string, ids []interface{}) error

	// EventDocument fetches the event bucket with the exact (type, start,
	// end). Returns ErrNotFound when absent.
	EventDocument(ctx context.Context, dataType, eventType string, start, end int64) (*EventDocument, error)

	// InsertEventDocument inserts a new event bucket.
	InsertEventDocument(ctx context.Context, dataType string, doc *EventDocument) error

	// UpdateEventDocument replaces the events of an existing bucket.
	UpdateEventDocument(ctx context.Context, dataType string, doc *EventDocument) error
}

// KeyValueCache is the presence cache beside the bucket writers. It is an
// optimization, never a source of truth: callers treat every cache error as
// a miss and carry on.
type KeyValueCache interface {
	Get(key string) ([]byte, bool, error)
	GetMulti(keys []string) (map[string][]byte, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
}

// Locker is the distributed lock service serializing bucket mutation across
// writer processes.
type Locker interface {
	Acquire(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error
}
