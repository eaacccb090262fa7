// Package store provides the key-value backing store for sync state.
//
// The engine keeps all durable state in a small number of keys: one
// aggregate mapping record, one sync lock, one idempotency record per
// request ID, and one conflict index plus one key per unresolved
// conflict. The KV interface is deliberately narrow so that the SQLite
// implementation here could be swapped for any hosted KV store billed
// per operation, which is why the mapping layer batches all of its
// mutations into a single Put per sync run.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("key not found")

// KV is the backing-store abstraction.
//
// All operations take a context and are safe for concurrent use. TTL
// semantics: a ttl of zero means the entry never expires; expired
// entries behave as absent for Get and PutIfAbsent.
type KV interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, overwriting any existing entry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// PutIfAbsent stores value only if no live entry exists under key.
	// Returns true if the value was stored. This is the one atomic
	// primitive the lock layer depends on; general state (the mapping
	// aggregate) must not rely on it.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all live keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// ExpireSweep removes expired entries and reports how many were
	// deleted. Called periodically by the daemon.
	ExpireSweep(ctx context.Context) (int, error)

	// Close releases the store.
	Close() error
}
