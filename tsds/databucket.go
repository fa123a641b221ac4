package tsds

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/bgeels/tsds-services/cache"
	"github.com/bgeels/tsds-services/common"
)

// cacheEntry is the value stored under a data bucket's cache key: a snapshot
// of the value types the stored bucket declares.
type cacheEntry struct {
	ValueTypes map[string]bool `json:"value_types"`
}

type bucketRange struct {
	start int64
	end   int64
}

type pointKey struct {
	time      int64
	valueType string
}

// processDataDocuments commits every coalesced data bucket of the batch.
func (w *Writer) processDataDocuments(ctx context.Context, batch *Batch) error {
	for _, doc := range batch.SortedDataDocuments() {
		if err := w.writeDataDocument(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// writeDataDocument commits one bucket under its distributed lock. A bucket
// known to exist (cache hit or store fetch) is updated in place; an unknown
// bucket is created, reconciling any buckets it overlaps.
func (w *Writer) writeDataDocument(ctx context.Context, doc *DataDocument) error {
	key := cache.DataDocumentID(doc.DataType, doc.Identifier, doc.Start, doc.End)
	lockName := cache.LockID(key)

	if err := w.locks.Acquire(ctx, lockName); err != nil {
		return Transient(err)
	}
	// Released after any overlap locks taken by the create path.
	defer w.release(ctx, lockName)

	var oldValueTypes map[string]bool
	exists := false

	if value, hit, err := w.cache.Get(key); err != nil {
		common.Logger.WithError(err).Warn("bucket cache read failed, treating as miss")
	} else if hit {
		var entry cacheEntry
		if err := json.Unmarshal(value, &entry); err == nil {
			oldValueTypes = entry.ValueTypes
			exists = true
		}
	}

	if !exists {
		existing, err := w.store.DataDocument(ctx, doc.DataType, doc.Identifier, doc.Start, doc.End)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Transient(err)
		}
		if err == nil {
			oldValueTypes = existing.ValueTypes
			exists = true
		}
	}

	if exists {
		return w.updateDataDocument(ctx, key, doc, oldValueTypes)
	}
	return w.createDataDocument(ctx, doc)
}

// updateDataDocument merges the coalesced points into the stored bucket,
// declaring any value types the bucket has not seen before so projections
// keep working.
func (w *Writer) updateDataDocument(ctx context.Context, key string, doc *DataDocument, oldValueTypes map[string]bool) error {
	merged := make(map[string]bool, len(oldValueTypes)+len(doc.ValueTypes))
	for vt := range oldValueTypes {
		merged[vt] = true
	}

	var newValueTypes []string
	for _, vt := range sortedKeys(doc.ValueTypes) {
		if !merged[vt] {
			newValueTypes = append(newValueTypes, vt)
		}
		merged[vt] = true
	}

	if err := w.store.UpdateDataDocument(ctx, doc.DataType, doc, doc.Points, newValueTypes); err != nil {
		return Transient(err)
	}

	w.setBucketCache(key, merged)
	return nil
}

// createDataDocument creates a bucket, reconciling interval changes: every
// stored bucket overlapping the new one is locked, its points are re-bucketed
// at the new interval, the resulting set of buckets is created, and only then
// are the overlapped buckets removed. To an outside reader the replacement is
// atomic: every touched bucket stays locked until the swap completes.
func (w *Writer) createDataDocument(ctx context.Context, doc *DataDocument) error {
	found, err := w.store.OverlappingDataDocuments(ctx, doc.DataType, doc.Identifier, doc.Start, doc.End)
	if err != nil {
		return Transient(err)
	}

	// A neighbor at the same interval re-buckets onto itself; only buckets
	// written at a different interval need reconciling.
	overlaps := make([]*DataDocument, 0, len(found))
	for _, o := range found {
		if o.Interval != doc.Interval {
			overlaps = append(overlaps, o)
		}
	}

	// All workers lock overlaps in the same order.
	sort.Slice(overlaps, func(i, j int) bool {
		if overlaps[i].Start != overlaps[j].Start {
			return overlaps[i].Start < overlaps[j].Start
		}
		return overlaps[i].End < overlaps[j].End
	})

	var held []string
	releaseHeld := func() {
		for _, name := range held {
			w.release(ctx, name)
		}
	}

	dRange := bucketRange{doc.Start, doc.End}
	buckets := map[bucketRange]*DataDocument{dRange: doc}

	// The incoming bucket's own points always win over migrated points for
	// the timestamps they cover.
	protected := make(map[pointKey]bool)
	pointIndex := map[bucketRange]map[pointKey]int{dRange: {}}
	for i, p := range doc.Points {
		k := pointKey{p.Time, p.ValueType}
		protected[k] = true
		pointIndex[dRange][k] = i
	}

	for _, o := range overlaps {
		oKey := cache.DataDocumentID(doc.DataType, o.Identifier, o.Start, o.End)
		oLock := cache.LockID(oKey)
		if err := w.locks.Acquire(ctx, oLock); err != nil {
			releaseHeld()
			return Transient(err)
		}
		held = append(held, oLock)

		w.migratePoints(doc, o, buckets, pointIndex, protected)
	}

	newDocs := make([]*DataDocument, 0, len(buckets))
	for _, r := range sortedRanges(buckets) {
		newDocs = append(newDocs, buckets[r])
	}

	if err := w.store.InsertDataDocuments(ctx, doc.DataType, newDocs); err != nil {
		releaseHeld()
		return Transient(err)
	}

	// Cache entries for the new buckets are set before the overlapped
	// buckets' entries are deleted: a concurrent reader of an overlapped
	// bucket finds a lock in transit, a reader of a new bucket finds a
	// created document.
	for _, d := range newDocs {
		w.setBucketCache(cache.DataDocumentID(d.DataType, d.Identifier, d.Start, d.End), d.ValueTypes)
	}

	if len(overlaps) > 0 {
		ids := make([]interface{}, 0, len(overlaps))
		for _, o := range overlaps {
			if o.ID != nil {
				ids = append(ids, o.ID)
			}
		}
		if err := w.store.RemoveDataDocuments(ctx, doc.DataType, ids); err != nil {
			releaseHeld()
			return Transient(err)
		}

		for _, o := range overlaps {
			oKey := cache.DataDocumentID(doc.DataType, o.Identifier, o.Start, o.End)
			if err := w.cache.Delete(oKey); err != nil {
				common.Logger.WithError(err).WithFields(logrus.Fields{
					"key": oKey,
				}).Warn("cache delete failed")
			}
		}

		common.Logger.WithFields(logrus.Fields{
			"data_type":  doc.DataType,
			"identifier": doc.Identifier,
			"replaced":   len(overlaps),
			"created":    len(newDocs),
		}).Info("reconciled overlapping buckets")
	}

	releaseHeld()
	return nil
}

// migratePoints splits an overlapped bucket at the new interval. The
// bucket's window is partitioned into the aligned new-length windows
// covering it, so a replacement bucket exists even where every value
// collapses away as null; those replacements keep the value types the
// overlapped bucket declared. Points are then routed into their new
// windows: null values are dropped, and on key collision the later point
// wins unless the incoming bucket already covers the key.
func (w *Writer) migratePoints(doc *DataDocument, o *DataDocument, buckets map[bucketRange]*DataDocument, pointIndex map[bucketRange]map[pointKey]int, protected map[pointKey]bool) {
	length := doc.Interval * HighResolutionDocumentSize

	ensure := func(r bucketRange) *DataDocument {
		target := buckets[r]
		if target == nil {
			target = &DataDocument{
				DataType:   doc.DataType,
				Identifier: doc.Identifier,
				Interval:   doc.Interval,
				Start:      r.start,
				End:        r.end,
				ValueTypes: make(map[string]bool),
			}
			buckets[r] = target
			pointIndex[r] = make(map[pointKey]int)
		}
		if r != dRangeOf(doc) {
			for vt := range o.ValueTypes {
				target.ValueTypes[vt] = true
			}
		}
		return target
	}

	for start := (o.Start / length) * length; start < o.End; start += length {
		ensure(bucketRange{start, start + length})
	}

	for _, p := range o.Points {
		p.Interval = doc.Interval
		start := (p.Time / length) * length
		r := bucketRange{start, start + length}
		target := ensure(r)

		if p.Value == nil {
			continue
		}

		k := pointKey{p.Time, p.ValueType}
		idx := pointIndex[r]
		if pos, ok := idx[k]; ok {
			if r == dRangeOf(doc) && protected[k] {
				continue
			}
			target.Points[pos] = p
		} else {
			idx[k] = len(target.Points)
			target.Points = append(target.Points, p)
		}
		target.ValueTypes[p.ValueType] = true
	}
}

func dRangeOf(doc *DataDocument) bucketRange {
	return bucketRange{doc.Start, doc.End}
}

func sortedRanges(buckets map[bucketRange]*DataDocument) []bucketRange {
	ranges := make([]bucketRange, 0, len(buckets))
	for r := range buckets {
		ranges = append(ranges, r)
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })
	return ranges
}

// setBucketCache stores the value-type snapshot under a bucket's cache key.
func (w *Writer) setBucketCache(key string, valueTypes map[string]bool) {
	value, err := json.Marshal(cacheEntry{ValueTypes: valueTypes})
	if err != nil {
		common.Logger.WithError(err).Warn("cache entry marshal failed")
		return
	}
	w.setCache(key, value, DataCacheExpiration)
}
