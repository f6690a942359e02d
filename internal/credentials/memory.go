package credentials

import (
	"context"
	"sync"
)

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	session *Session
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, ErrNoSession
	}
	return m.session.clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, session *Session) error {
	if _, err := encodeSession(session); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = session.clone()
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
