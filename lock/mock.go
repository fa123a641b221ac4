package lock

import (
	"context"
	"sync"
)

// MockLocker is an in-process Locker implementation for testing. It records
// the order of acquire and release calls and can inject failures per lock
// name.
type MockLocker struct {
	mu sync.Mutex

	held map[string]bool

	// Acquired and Released record lock names in call order.
	Acquired []string
	Released []string

	// AcquireErrs maps lock names to errors returned from Acquire.
	AcquireErrs map[string]error
	// ReleaseErr is returned from every Release when set.
	ReleaseErr error
}

// NewMockLocker creates an empty mock locker.
func NewMockLocker() *MockLocker {
	return &MockLocker{
		held:        make(map[string]bool),
		AcquireErrs: make(map[string]error),
	}
}

// Acquire records the call and takes the lock unless an error is injected.
func (m *MockLocker) Acquire(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.AcquireErrs[name]; err != nil {
		return err
	}
	m.held[name] = true
	m.Acquired = append(m.Acquired, name)
	return nil
}

// Release records the call and drops the lock.
func (m *MockLocker) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReleaseErr != nil {
		return m.ReleaseErr
	}
	delete(m.held, name)
	m.Released = append(m.Released, name)
	return nil
}

// Held reports whether the named lock is currently held.
func (m *MockLocker) Held(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[name]
}

// HeldCount returns the number of currently held locks.
func (m *MockLocker) HeldCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}
