package oidcstore

import (
	"context"
	"sync"
)

// MemoryRedirectStore is a process local RedirectStore.
type MemoryRedirectStore struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ RedirectStore = &MemoryRedirectStore{}

// NewMemoryRedirectStore returns an empty store.
func NewMemoryRedirectStore() *MemoryRedirectStore {
	return &MemoryRedirectStore{values: map[string]string{}}
}

// Get returns the stored value or "" when missing.
func (m *MemoryRedirectStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}

func (m *MemoryRedirectStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryRedirectStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
