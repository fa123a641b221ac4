// Package tsds implements the core of the time-series ingestion writer: it
// decodes batched measurement updates, coalesces them into fixed-width data
// and event buckets, and commits them idempotently to the document store
// under distributed locks.
package tsds

import "time"

const (
	// HighResolutionDocumentSize is the number of intervals a data bucket
	// spans: a bucket's duration is interval * HighResolutionDocumentSize.
	HighResolutionDocumentSize int64 = 1000

	// EventDocumentDuration is the fixed width, in seconds, of an event
	// bucket.
	EventDocumentDuration int64 = 86400
)

const (
	// DataCacheExpiration is the TTL for bucket presence entries.
	DataCacheExpiration = time.Hour

	// MeasurementCacheExpiration is the lower bound on the TTL of
	// measurement presence entries; the effective TTL is
	// max(MeasurementCacheExpiration, 2 * interval).
	MeasurementCacheExpiration = time.Hour
)

// ValueDescriptor describes one named value type of a data type.
type ValueDescriptor struct {
	Description string `bson:"description" json:"description"`
	Units       string `bson:"units" json:"units"`
}

// MetadataField describes one metadata field of a data type's schema.
type MetadataField struct {
	Required bool `bson:"required" json:"required"`
}

// Metadata is the singleton metadata document of a data type's database. It
// advertises the known value types and the metadata schema.
type Metadata struct {
	ID     interface{}                `bson:"_id,omitempty" json:"-"`
	Values map[string]ValueDescriptor `bson:"values" json:"values"`
	Fields map[string]MetadataField   `bson:"meta_fields" json:"meta_fields"`
}

// DataType is a loaded data-type descriptor: a named database together with
// its value types and metadata schema.
type DataType struct {
	Name   string
	Values map[string]ValueDescriptor
	Fields map[string]MetadataField
}

// RequiredFields returns the names of the metadata fields the schema marks
// required.
func (t *DataType) RequiredFields() []string {
	fields := make([]string, 0, len(t.Fields))
	for name, field := range t.Fields {
		if field.Required {
			fields = append(fields, name)
		}
	}
	return fields
}

// Measurement is one uniquely identified series. A nil End marks the record
// active; at most one active record exists per (data type, identifier).
type Measurement struct {
	ID          interface{}            `bson:"_id,omitempty" json:"-"`
	Identifier  string                 `bson:"identifier" json:"identifier"`
	Start       int64                  `bson:"start" json:"start"`
	End         *int64                 `bson:"end" json:"end"`
	LastUpdated int64                  `bson:"last_updated" json:"last_updated"`
	Meta        map[string]interface{} `bson:"meta,omitempty" json:"meta,omitempty"`
}

// DataPoint is one sample inside a data bucket. A nil Value means "absent"
// and may be dropped during overlap migration.
type DataPoint struct {
	Time      int64    `bson:"time" json:"time"`
	Interval  int64    `bson:"interval" json:"interval"`
	ValueType string   `bson:"value_type" json:"value_type"`
	Value     *float64 `bson:"value" json:"value"`
}

// DataDocument is one time bucket of a measurement: all samples over
// [Start, End) where End - Start = Interval * HighResolutionDocumentSize.
type DataDocument struct {
	ID         interface{}     `bson:"_id,omitempty" json:"-"`
	DataType   string          `bson:"-" json:"-"`
	Identifier string          `bson:"identifier" json:"identifier"`
	Interval   int64           `bson:"interval" json:"interval"`
	Start      int64           `bson:"start" json:"start"`
	End        int64           `bson:"end" json:"end"`
	ValueTypes map[string]bool `bson:"value_types" json:"value_types"`
	Points     []DataPoint     `bson:"data_points" json:"data_points"`
}

// Event is one event record. Within a bucket, events are identified by
// (Start, Identifier); later writes replace earlier ones under that key.
type Event struct {
	Start      int64       `bson:"start" json:"start"`
	End        int64       `bson:"end" json:"end"`
	Identifier string      `bson:"identifier" json:"identifier"`
	Affected   interface{} `bson:"affected" json:"affected"`
	Text       string      `bson:"text" json:"text"`
	Type       string      `bson:"type" json:"type"`
}

// EventDocument is one fixed-width event bucket.
type EventDocument struct {
	ID       interface{} `bson:"_id,omitempty" json:"-"`
	DataType string      `bson:"-" json:"-"`
	Type     string      `bson:"type" json:"type"`
	Start    int64       `bson:"start" json:"start"`
	End      int64       `bson:"end" json:"end"`
	Events   []Event     `bson:"events" json:"events"`
}

// DataBucketStart returns the aligned start of the bucket containing a
// sample taken at the given time with the given interval.
func DataBucketStart(t, interval int64) int64 {
	length := interval * HighResolutionDocumentSize
	return (t / length) * length
}

// EventBucketStart returns the aligned start of the event bucket containing
// an event starting at the given time.
func EventBucketStart(t int64) int64 {
	return (t / EventDocumentDuration) * EventDocumentDuration
}
