package settings

import (
	"context"
	"sync"
)

// MemStore is an in-memory [Store]. Values are lost on restart.
type MemStore struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]string)}
}

// Get implements [Store].
func (m *MemStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements [Store].
func (m *MemStore) Set(_ context.Context, key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Close implements [Store]. It is a no-op.
func (m *MemStore) Close() {}
