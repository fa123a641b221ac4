package tsds

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bgeels/tsds-services/cache"
	"github.com/bgeels/tsds-services/common"
)

// processValueTypes ensures each data type's metadata document advertises
// every value type seen in the batch. The cache short-circuits the common
// case where every value type is already declared.
func (w *Writer) processValueTypes(ctx context.Context, batch *Batch) error {
	for _, dt := range sortedKeys(batch.ValueTypes) {
		if err := w.reconcileValueTypes(ctx, dt, batch.ValueTypes[dt]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) reconcileValueTypes(ctx context.Context, dataType string, valueTypes map[string]bool) error {
	names := sortedKeys(valueTypes)

	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = cache.MetadataValueID(dataType, name)
	}

	cached, err := w.cache.GetMulti(keys)
	if err != nil {
		common.Logger.WithError(err).Warn("metadata cache read failed, treating as miss")
		cached = nil
	}
	allCached := true
	for _, key := range keys {
		if _, ok := cached[key]; !ok {
			allCached = false
			break
		}
	}
	if allCached {
		return nil
	}

	lockName := cache.LockID(cache.ID(dataType, "metadata"))
	if err := w.locks.Acquire(ctx, lockName); err != nil {
		return Transient(err)
	}

	md, err := w.store.Metadata(ctx, dataType)
	if errors.Is(err, ErrNotFound) {
		w.release(ctx, lockName)
		return Transient(fmt.Errorf("metadata document for %s is missing", dataType))
	}
	if err != nil {
		w.release(ctx, lockName)
		return Transient(err)
	}

	additions := make(map[string]ValueDescriptor)
	for _, name := range names {
		if _, ok := md.Values[name]; !ok {
			additions[name] = ValueDescriptor{Description: name, Units: name}
		}
	}

	if len(additions) > 0 {
		if err := w.store.AddMetadataValues(ctx, dataType, additions); err != nil {
			w.release(ctx, lockName)
			return Transient(err)
		}
		common.Logger.WithFields(logrus.Fields{
			"data_type":   dataType,
			"value_types": len(additions),
		}).Info("declared new value types")
	}

	for _, key := range keys {
		w.setCache(key, []byte("1"), DataCacheExpiration)
	}

	w.release(ctx, lockName)
	return nil
}
