package usermanager

import (
	"context"
	"sync"

	oidcstore "github.com/goliatone/go-oidc-store"
)

// UserStore caches the signed in user between requests.
// Get returns a nil user and no error when nothing is stored under key.
type UserStore interface {
	Get(ctx context.Context, key string) (*oidcstore.User, error)
	Set(ctx context.Context, key string, user *oidcstore.User) error
	Delete(ctx context.Context, key string) error
}

// UserStoreKey is the key a manager stores its user under.
func UserStoreKey(authority, clientID string) string {
	return "oidc.user:" + authority + ":" + clientID
}

// MemoryUserStore keeps users in process memory.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*oidcstore.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*oidcstore.User)}
}

func (m *MemoryUserStore) Get(_ context.Context, key string) (*oidcstore.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[key].Clone(), nil
}

func (m *MemoryUserStore) Set(_ context.Context, key string, user *oidcstore.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[key] = user.Clone()
	return nil
}

func (m *MemoryUserStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, key)
	return nil
}
