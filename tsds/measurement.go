package tsds

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bgeels/tsds-services/cache"
	"github.com/bgeels/tsds-services/common"
)

// processMeasurements ensures an active measurement record exists for every
// distinct (data type, identifier) in the batch. A cache hit means the
// record is known to exist; on a miss the writer takes the measurement lock,
// re-checks the store, and inserts if still absent.
func (w *Writer) processMeasurements(ctx context.Context, batch *Batch) error {
	for _, mu := range batch.SortedMeasurements() {
		if err := w.upsertMeasurement(ctx, mu); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) upsertMeasurement(ctx context.Context, mu *MeasurementUpdate) error {
	key := cache.MeasurementID(mu.DataType.Name, mu.Identifier)

	_, hit, err := w.cache.Get(key)
	if err != nil {
		common.Logger.WithError(err).Warn("measurement cache read failed, treating as miss")
	}
	if hit {
		return nil
	}

	lockName := cache.LockID(key)
	if err := w.locks.Acquire(ctx, lockName); err != nil {
		return Transient(err)
	}

	existing, err := w.store.ActiveMeasurement(ctx, mu.DataType.Name, mu.Identifier)
	if err != nil {
		w.release(ctx, lockName)
		return Transient(err)
	}

	if existing == nil {
		m := &Measurement{
			Identifier:  mu.Identifier,
			Start:       mu.Start,
			End:         nil,
			LastUpdated: mu.Start,
			Meta:        requiredMeta(mu.DataType, mu.Meta),
		}
		if err := w.store.InsertMeasurement(ctx, mu.DataType.Name, m); err != nil {
			w.release(ctx, lockName)
			return Transient(err)
		}
		common.Logger.WithFields(logrus.Fields{
			"data_type":  mu.DataType.Name,
			"identifier": mu.Identifier,
		}).Info("created measurement")
	}

	w.setCache(key, []byte("1"), measurementCacheTTL(mu.Interval))
	w.release(ctx, lockName)
	return nil
}

// requiredMeta filters a message's meta down to the fields the data type's
// schema declares required.
func requiredMeta(dt *DataType, meta map[string]interface{}) map[string]interface{} {
	filtered := make(map[string]interface{})
	for name, field := range dt.Fields {
		if !field.Required {
			continue
		}
		if value, ok := meta[name]; ok {
			filtered[name] = value
		}
	}
	return filtered
}

// measurementCacheTTL returns the TTL of a measurement presence entry:
// long-interval measurements must not be forgotten between updates, so the
// configured expiration acts as a lower bound under 2x the interval.
func measurementCacheTTL(interval int64) time.Duration {
	ttl := time.Duration(2*interval) * time.Second
	if ttl < MeasurementCacheExpiration {
		ttl = MeasurementCacheExpiration
	}
	return ttl
}

// setCache writes a cache entry, logging failures. The cache is an
// optimization: a failed write only costs a future store round trip.
func (w *Writer) setCache(key string, value []byte, ttl time.Duration) {
	if err := w.cache.Set(key, value, ttl); err != nil {
		common.Logger.WithError(err).WithFields(logrus.Fields{
			"key": key,
		}).Warn("cache set failed")
	}
}

// release drops a lock, logging failures. A failed release is not retried;
// the lock's TTL bounds the damage.
func (w *Writer) release(ctx context.Context, name string) {
	if err := w.locks.Release(ctx, name); err != nil {
		common.Logger.WithError(err).WithFields(logrus.Fields{
			"lock": name,
		}).Warn("lock release failed")
	}
}
