package tsds

import (
	"context"
	"errors"

	"github.com/bgeels/tsds-services/cache"
)

// processEventDocuments commits every coalesced event bucket of the batch.
func (w *Writer) processEventDocuments(ctx context.Context, batch *Batch) error {
	for _, doc := range batch.SortedEventDocuments() {
		if err := w.writeEventDocument(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// writeEventDocument commits one event bucket under its lock. New events are
// merged over existing ones keyed by (start, identifier), later writes
// replacing earlier ones.
func (w *Writer) writeEventDocument(ctx context.Context, doc *EventDocument) error {
	key := cache.EventDocumentID(doc.DataType, doc.Type, doc.Start, doc.End)
	lockName := cache.LockID(key)

	if err := w.locks.Acquire(ctx, lockName); err != nil {
		return Transient(err)
	}
	defer w.release(ctx, lockName)

	// The cache sentinel only witnesses existence. The merge needs the full
	// document either way, so the single fetch below both answers the
	// existence question and loads the events; a stale sentinel is harmless.
	existing, err := w.store.EventDocument(ctx, doc.DataType, doc.Type, doc.Start, doc.End)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Transient(err)
	}

	if existing == nil {
		if err := w.store.InsertEventDocument(ctx, doc.DataType, doc); err != nil {
			return Transient(err)
		}
	} else {
		existing.DataType = doc.DataType
		mergeEvents(existing, doc.Events)
		if err := w.store.UpdateEventDocument(ctx, doc.DataType, existing); err != nil {
			return Transient(err)
		}
	}

	w.setCache(key, []byte("1"), DataCacheExpiration)
	return nil
}

// mergeEvents overlays new events onto a document, replacing any existing
// event with the same (start, identifier) key.
func mergeEvents(doc *EventDocument, events []Event) {
	type eventKey struct {
		start      int64
		identifier string
	}

	index := make(map[eventKey]int, len(doc.Events))
	for i, e := range doc.Events {
		index[eventKey{e.Start, e.Identifier}] = i
	}

	for _, e := range events {
		k := eventKey{e.Start, e.Identifier}
		if pos, ok := index[k]; ok {
			doc.Events[pos] = e
		} else {
			index[k] = len(doc.Events)
			doc.Events = append(doc.Events, e)
		}
	}
}
