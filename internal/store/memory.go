package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process KV implementation.
//
// It backs tests and dry-run syncs, where durable state would only get
// in the way. Semantics match the SQLite implementation, including TTL
// expiry and atomic PutIfAbsent.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry)}
}

func (m *Memory) live(e memEntry, now time.Time) bool {
	return e.expiresAt.IsZero() || e.expiresAt.After(now)
}

// Get implements KV.Get.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !m.live(e, time.Now()) {
		return nil, ErrNotFound
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Put implements KV.Put.
func (m *Memory) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = newEntry(value, ttl)
	return nil
}

// PutIfAbsent implements KV.PutIfAbsent.
func (m *Memory) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && m.live(e, time.Now()) {
		return false, nil
	}

	m.entries[key] = newEntry(value, ttl)
	return true, nil
}

// Delete implements KV.Delete.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// List implements KV.List.
func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var keys []string
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) && m.live(e, now) {
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// ExpireSweep implements KV.ExpireSweep.
func (m *Memory) ExpireSweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	swept := 0
	for k, e := range m.entries {
		if !m.live(e, now) {
			delete(m.entries, k)
			swept++
		}
	}
	return swept, nil
}

// Close implements KV.Close.
func (m *Memory) Close() error {
	return nil
}

func newEntry(value []byte, ttl time.Duration) memEntry {
	e := memEntry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	return e
}
