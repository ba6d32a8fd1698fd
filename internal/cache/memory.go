package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryProvider is an in-process Provider used when no Valkey server is configured.
type MemoryProvider struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates an empty in-memory cache.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{data: make(map[string]entry), now: time.Now}
}

// Get returns a copy of the cached value if present and not expired.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.lookup(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores a value with optional TTL.
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = m.newEntry(value, ttl)
	return nil
}

// SetNX stores the value only when no live entry exists for key.
func (m *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.data[key] = m.newEntry(value, ttl)
	return true, nil
}

// Del removes an entry.
func (m *MemoryProvider) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Close drops all entries.
func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]entry)
	return nil
}

// lookup expects m.mu to be held and evicts expired entries.
func (m *MemoryProvider) lookup(key string) (entry, bool) {
	it, ok := m.data[key]
	if !ok {
		return entry{}, false
	}
	if !it.expiresAt.IsZero() && m.now().After(it.expiresAt) {
		delete(m.data, key)
		return entry{}, false
	}
	return it, true
}

func (m *MemoryProvider) newEntry(value []byte, ttl time.Duration) entry {
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	return entry{value: append([]byte(nil), value...), expiresAt: expires}
}
