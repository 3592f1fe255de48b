package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory. Expired entries are
// evicted lazily on access and by Prune.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, fingerprint string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[fingerprint]
	if !ok {
		return Entry{}, false, nil
	}
	if e.Expired(m.now()) {
		delete(m.entries, fingerprint)
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (m *MemoryStore) Put(_ context.Context, e Entry) error {
	payload := make([]byte, len(e.Payload))
	copy(payload, e.Payload)
	e.Payload = payload

	m.mu.Lock()
	m.entries[e.Fingerprint] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	delete(m.entries, fingerprint)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Prune(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var s Stats
	for _, e := range m.entries {
		s.Entries++
		s.Size += int64(len(e.Payload))
		if e.Expired(now) {
			s.Expired++
		}
	}
	return s, nil
}

func (m *MemoryStore) Close() error { return nil }
