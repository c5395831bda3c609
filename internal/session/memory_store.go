package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maisonluxe/storefront/internal/domain"
)

// MemoryStore is a process-local Store used for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]domain.Session
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]domain.Session),
	}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *MemoryStore) Create(_ context.Context, subjectID string, role domain.Role) (*domain.Session, error) {
	if subjectID == "" {
		return nil, errors.New("session: missing subject id")
	}
	id, err := GenerateID()
	if err != nil {
		return nil, err
	}

	now := m.now()
	s := domain.Session{
		ID:        id,
		SubjectID: subjectID,
		Role:      role,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(m.ttl),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = s
	return &s, nil
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(s.ExpiresAt) {
		delete(m.sessions, sessionID)
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) Destroy(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) DestroyForSubject(_ context.Context, subjectID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, s := range m.sessions {
		if s.SubjectID != subjectID {
			continue
		}
		if now.Before(s.ExpiresAt) {
			n++
		}
		delete(m.sessions, id)
	}
	return n, nil
}

var (
	_ Store          = (*MemoryStore)(nil)
	_ SubjectRevoker = (*MemoryStore)(nil)
)
