// Package cache provides the key-value presence cache used by the TSDS
// writer, together with the functions that build cache and lock identifiers.
// Consumers never assemble identifiers inline; every key that reaches the
// cache or the lock service is produced here.
package cache

import (
	"fmt"
	"strings"
)

// separator joins the identifier segments. Keys are plain ASCII.
const separator = "__"

// lockPrefix marks the lock-service variant of a cache identifier.
const lockPrefix = "lock__"

// ID builds the base identifier for a data type and collection, for example
// "interface__metadata".
func ID(dataType, collection string) string {
	return dataType + separator + collection
}

// MeasurementID builds the identifier for a measurement record:
// "type__measurements__identifier".
func MeasurementID(dataType, identifier string) string {
	return strings.Join([]string{dataType, "measurements", identifier}, separator)
}

// DataDocumentID builds the identifier for a data bucket:
// "type__data__identifier__start__end".
func DataDocumentID(dataType, identifier string, start, end int64) string {
	return fmt.Sprintf("%s%s%s%s%s%s%d%s%d",
		dataType, separator, "data", separator, identifier, separator, start, separator, end)
}

// EventDocumentID builds the identifier for an event bucket:
// "type__event__event_type__start__end".
func EventDocumentID(dataType, eventType string, start, end int64) string {
	return fmt.Sprintf("%s%s%s%s%s%s%d%s%d",
		dataType, separator, "event", separator, eventType, separator, start, separator, end)
}

// MetadataValueID builds the identifier under which a declared value type is
// cached: "type__metadata__value_type".
func MetadataValueID(dataType, valueType string) string {
	return strings.Join([]string{dataType, "metadata", valueType}, separator)
}

// LockID prefixes a cache identifier with the lock namespace.
func LockID(cacheID string) string {
	return lockPrefix + cacheID
}
