package tsds

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/bgeels/tsds-services/common"
)

// Writer commits batches of measurement updates to the store. One Writer
// serves one worker process; parallelism lives across processes, coordinated
// through the distributed lock service.
type Writer struct {
	registry *Registry
	decoder  *Decoder
	store    Store
	cache    KeyValueCache
	locks    Locker
}

// NewWriter wires a writer over its backends.
func NewWriter(registry *Registry, store Store, cache KeyValueCache, locks Locker) *Writer {
	return &Writer{
		registry: registry,
		decoder:  NewDecoder(registry),
		store:    store,
		cache:    cache,
		locks:    locks,
	}
}

// ProcessBatch decodes, coalesces, and commits one batch. A nil return means
// the batch is fully applied and may be acknowledged; a transient error
// means the broker should redeliver it. Malformed items never fail the
// batch: they are logged and skipped during decoding.
func (w *Writer) ProcessBatch(ctx context.Context, items []json.RawMessage) error {
	dataMessages, eventMessages, err := w.decoder.Decode(ctx, items)
	if err != nil {
		return err
	}

	batch := Coalesce(dataMessages, eventMessages)

	if err := w.processMeasurements(ctx, batch); err != nil {
		return err
	}
	if err := w.processValueTypes(ctx, batch); err != nil {
		return err
	}
	if err := w.processDataDocuments(ctx, batch); err != nil {
		return err
	}
	if err := w.processEventDocuments(ctx, batch); err != nil {
		return err
	}

	common.Logger.WithFields(logrus.Fields{
		"data_messages":  len(dataMessages),
		"event_messages": len(eventMessages),
	}).Debug("batch committed")

	return nil
}
