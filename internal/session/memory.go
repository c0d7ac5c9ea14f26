package session

import (
	"context"
	"sync"

	"mac-bot/internal/models"
)

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[int64]models.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int64]models.Session)}
}

func (m *MemoryStore) Get(_ context.Context, userID int64) (*models.Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[userID]
	m.mu.RUnlock()

	if !ok {
		return nil, models.ErrNotFound
	}
	return clone(s), nil
}

func (m *MemoryStore) Save(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	m.sessions[s.UserID] = *clone(*s)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID int64) error {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
	return nil
}

// clone copies the card so callers never share it with the map.
func clone(s models.Session) *models.Session {
	if s.Card != nil {
		c := *s.Card
		s.Card = &c
	}
	return &s
}
