package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a process-local sliding log, used for development and tests.
// Keys whose log has aged out are dropped at most once per window.
type MemoryStore struct {
	mu        sync.Mutex
	hits      map[string][]time.Time
	lastSweep time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hits: make(map[string][]time.Time)}
}

func (m *MemoryStore) Hit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{}, fmt.Errorf("ratelimit: invalid window %d/%s", limit, window)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	threshold := now.Add(-window)
	if now.Sub(m.lastSweep) >= window {
		m.sweep(threshold)
		m.lastSweep = now
	}

	kept := m.hits[key][:0]
	for _, at := range m.hits[key] {
		if at.After(threshold) {
			kept = append(kept, at)
		}
	}

	res := Result{Limit: limit}
	if len(kept) < limit {
		kept = append(kept, now)
		res.Allowed = true
	}
	res.Remaining = limit - len(kept)
	res.ResetAt = kept[0].Add(window)
	m.hits[key] = kept
	return res, nil
}

// sweep must be called with mu held.
func (m *MemoryStore) sweep(threshold time.Time) {
	for key, log := range m.hits {
		if len(log) == 0 || !log[len(log)-1].After(threshold) {
			delete(m.hits, key)
		}
	}
}

func (m *MemoryStore) tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hits)
}

var _ Store = (*MemoryStore)(nil)
