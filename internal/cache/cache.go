package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPayloadTooLarge is returned by Set when a payload exceeds the configured
// byte ceiling. Oversized payloads are refused outright, never truncated.
var ErrPayloadTooLarge = errors.New("cache: payload exceeds size limit")

// Store is the contract shared by the schema cache and the query-result cache.
// Payloads are opaque bytes; callers own the encoding.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	InvalidateAll(ctx context.Context) error
	CleanupExpired(ctx context.Context) (int, error)
	Stats() Stats
}

// Stats exposes cache counters for observability.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Evictions     int64 `json:"evictions"`
	Invalidations int64 `json:"invalidations"`
	Entries       int   `json:"entries"`
	SizeBytes     int64 `json:"size_bytes"`
}

// HitRate returns hits / (hits+misses), or 0 when the cache is cold.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry struct {
	key        string
	payload    []byte
	createdAt  time.Time
	expiresAt  time.Time
	hits       int64
	size       int
	insertSeq  uint64
}

// MemoryStore is an in-process TTL cache. All operations take the write lock;
// reads update hit counters, so a shared lock would race on the bookkeeping.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	maxEntries int
	maxPayload int
	seq        uint64
	sizeBytes  int64

	hits          int64
	misses        int64
	evictions     int64
	invalidations int64

	now func() time.Time
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithClock overrides the time source. Used by tests to exercise expiry.
func WithClock(now func() time.Time) Option {
	return func(m *MemoryStore) { m.now = now }
}

// NewMemoryStore creates a cache bounded to maxEntries entries and maxPayload
// bytes per payload. Zero values fall back to sane defaults.
func NewMemoryStore(maxEntries, maxPayload int, opts ...Option) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if maxPayload <= 0 {
		maxPayload = 10 * 1024 * 1024
	}
	m := &MemoryStore{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		maxPayload: maxPayload,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the payload for key. A read past the entry's expiry is a miss
// and removes the entry before returning.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		if m.now().Before(e.expiresAt) {
			e.hits++
			m.hits++
			return e.payload, true, nil
		}
		m.removeLocked(key)
	}
	m.misses++
	return nil, false, nil
}

// Set inserts payload under key with the given ttl. Payloads above the byte
// ceiling are rejected with ErrPayloadTooLarge. When the entry count would
// exceed capacity the oldest entry by insertion time is evicted first.
func (m *MemoryStore) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	if len(payload) > m.maxPayload {
		return ErrPayloadTooLarge
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.entries[key]; ok {
		m.sizeBytes -= int64(old.size)
		delete(m.entries, key)
	}
	for len(m.entries) >= m.maxEntries {
		m.evictOldestLocked()
	}

	now := m.now()
	m.seq++
	m.entries[key] = &entry{
		key:       key,
		payload:   payload,
		createdAt: now,
		expiresAt: now.Add(ttl),
		size:      len(payload),
		insertSeq: m.seq,
	}
	m.sizeBytes += int64(len(payload))
	return nil
}

// Invalidate removes key if present.
func (m *MemoryStore) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		m.removeLocked(key)
		m.invalidations++
	}
	return nil
}

// InvalidateAll drops every entry.
func (m *MemoryStore) InvalidateAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidations += int64(len(m.entries))
	m.entries = make(map[string]*entry)
	m.sizeBytes = 0
	return nil
}

// CleanupExpired removes every expired entry and reports how many were dropped.
func (m *MemoryStore) CleanupExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			m.removeLocked(key)
			removed++
		}
	}
	return removed, nil
}

// Stats returns a snapshot of the cache counters.
func (m *MemoryStore) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Hits:          m.hits,
		Misses:        m.misses,
		Evictions:     m.evictions,
		Invalidations: m.invalidations,
		Entries:       len(m.entries),
		SizeBytes:     m.sizeBytes,
	}
}

func (m *MemoryStore) removeLocked(key string) {
	if e, ok := m.entries[key]; ok {
		m.sizeBytes -= int64(e.size)
		delete(m.entries, key)
	}
}

func (m *MemoryStore) evictOldestLocked() {
	var oldest *entry
	for _, e := range m.entries {
		if oldest == nil || e.insertSeq < oldest.insertSeq {
			oldest = e
		}
	}
	if oldest != nil {
		m.removeLocked(oldest.key)
		m.evictions++
	}
}
