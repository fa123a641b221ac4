package tsds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bgeels/tsds-services/common"
)

// Registry caches the known data-type descriptors. The map behind Get is an
// immutable snapshot: Refresh builds a complete replacement and swaps it in,
// so readers observe either the old or the new set, never a torn view.
type Registry struct {
	store  Store
	ignore map[string]bool

	mu    sync.RWMutex
	types map[string]*DataType
}

// NewRegistry creates an empty registry. Databases named in ignore are never
// loaded; names beginning with "_" are always skipped.
func NewRegistry(store Store, ignore []string) *Registry {
	ignored := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		ignored[name] = true
	}
	return &Registry{
		store:  store,
		ignore: ignored,
		types:  make(map[string]*DataType),
	}
}

// Get returns the descriptor for a data type, or nil when unknown.
func (r *Registry) Get(name string) *DataType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[name]
}

// Len returns the number of loaded data types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// Refresh reloads every non-ignored database from the store and replaces the
// descriptor map atomically. On failure the registry is left unchanged.
func (r *Registry) Refresh(ctx context.Context) error {
	names, err := r.store.DatabaseNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to list databases: %w", err)
	}

	types := make(map[string]*DataType)
	for _, name := range names {
		if strings.HasPrefix(name, "_") || r.ignore[name] {
			continue
		}

		md, err := r.store.Metadata(ctx, name)
		if errors.Is(err, ErrNotFound) {
			// A database without a metadata document is not a data type.
			common.Logger.WithFields(logrus.Fields{
				"database": name,
			}).Debug("skipping database without metadata document")
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load metadata for %s: %w", name, err)
		}

		types[name] = &DataType{
			Name:   name,
			Values: md.Values,
			Fields: md.Fields,
		}
	}

	r.mu.Lock()
	r.types = types
	r.mu.Unlock()

	return nil
}
