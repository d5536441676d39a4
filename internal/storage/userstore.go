package storage

import (
	"context"
	"sync"
)

// UserStore is the user record collaborator. Online status writes are
// best-effort: callers log failures and keep going.
type UserStore interface {
	SetOnlineStatus(ctx context.Context, userID string, online bool) error
}

type MemoryStore struct {
	mu     sync.RWMutex
	online map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{online: make(map[string]bool)}
}

func (m *MemoryStore) SetOnlineStatus(_ context.Context, userID string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online[userID] = online
	return nil
}

func (m *MemoryStore) Online(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online[userID]
}
