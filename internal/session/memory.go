package session

import (
	"context"
	"sync"
)

// MemoryStore implements Store with in-memory maps. Used in tests and
// when no database is configured. Session data does not survive a
// restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]string // sid → key → value
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]map[string]string)}
}

func (m *MemoryStore) Get(ctx context.Context, sid, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if kv, ok := m.sessions[sid]; ok {
		if v, ok := kv[key]; ok {
			return v, nil
		}
	}
	return "", ErrNotFound
}

func (m *MemoryStore) Set(ctx context.Context, sid, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kv, ok := m.sessions[sid]
	if !ok {
		kv = make(map[string]string)
		m.sessions[sid] = kv
	}
	kv[key] = value
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sid, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kv, ok := m.sessions[sid]; ok {
		delete(kv, key)
	}
	return nil
}
