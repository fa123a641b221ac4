package cache

import (
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// Memcached is a thin wrapper around the memcached client. A miss is not an
// error: Get returns (nil, false, nil) when the key is absent so that callers
// can treat the cache strictly as an optimization.
type Memcached struct {
	client *memcache.Client
}

// NewMemcached creates a cache client for the given server address.
func NewMemcached(addr string) *Memcached {
	return &Memcached{client: memcache.New(addr)}
}

// Get fetches a single key. The second return value reports whether the key
// was present.
func (m *Memcached) Get(key string) ([]byte, bool, error) {
	item, err := m.client.Get(key)
	if err == memcache.ErrCacheMiss {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return item.Value, true, nil
}

// GetMulti fetches a set of keys in one round trip. Absent keys are simply
// missing from the result map.
func (m *Memcached) GetMulti(keys []string) (map[string][]byte, error) {
	items, err := m.client.GetMulti(keys)
	if err != nil {
		return nil, fmt.Errorf("cache get multi: %w", err)
	}
	result := make(map[string][]byte, len(items))
	for key, item := range items {
		result[key] = item.Value
	}
	return result, nil
}

// Set stores a value with the given TTL.
func (m *Memcached) Set(key string, value []byte, ttl time.Duration) error {
	item := &memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: int32(ttl / time.Second),
	}
	if err := m.client.Set(item); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (m *Memcached) Delete(key string) error {
	err := m.client.Delete(key)
	if err != nil && err != memcache.ErrCacheMiss {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}
