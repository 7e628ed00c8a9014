package kv

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps values in process memory. State does not survive a
// restart, which makes it suitable for local development and tests only.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]entry), now: time.Now}
}

// WithClock replaces the clock used for expiry checks.
func (m *MemoryBackend) WithClock(now func() time.Time) *MemoryBackend {
	m.now = now
	return m
}

// Get returns a copy of the value if present and not expired.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[key]
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.data, key)
		return nil, ErrMiss
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a copy of value with optional TTL.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	m.data[key] = entry{value: append([]byte(nil), value...), expiresAt: expires}
	return nil
}

// Del removes an entry.
func (m *MemoryBackend) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Close is a no-op.
func (m *MemoryBackend) Close() error { return nil }
