package security

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]BlacklistEntry
	gets    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: map[string]BlacklistEntry{}}
}

func (m *memoryStore) Upsert(_ context.Context, entry BlacklistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.IP] = entry
	return nil
}

func (m *memoryStore) Delete(_ context.Context, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[ip]; !ok {
		return ErrNotFound
	}
	delete(m.entries, ip)
	return nil
}

func (m *memoryStore) Get(_ context.Context, ip string) (BlacklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	e, ok := m.entries[ip]
	if !ok {
		return BlacklistEntry{}, ErrNotFound
	}
	return e, nil
}

func (m *memoryStore) List(context.Context) ([]BlacklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BlacklistEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out, nil
}

func (m *memoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for ip, e := range m.entries {
		if !e.Active(now) {
			delete(m.entries, ip)
			n++
		}
	}
	return n, nil
}
