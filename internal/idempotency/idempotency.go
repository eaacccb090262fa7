// Package idempotency deduplicates retried operations by request ID.
//
// Webhook deliveries and cron overlaps retry the same logical sync; the
// first execution's result is recorded under the request ID so retries
// return the recorded outcome instead of running the work again.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/store"
)

// DefaultTTL is how long a completed request's result is remembered.
// Retries arrive within seconds or minutes; a day is generous.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "idem:"

type record struct {
	RequestID string          `json:"request_id"`
	Result    json.RawMessage `json:"result"`
	Timestamp time.Time       `json:"timestamp"`
}

// Manager wraps operations in request-ID based deduplication.
type Manager struct {
	kv     store.KV
	ttl    time.Duration
	logger *log.Logger
}

// NewManager creates an idempotency manager. A non-positive ttl falls
// back to DefaultTTL; a nil logger writes to stderr.
func NewManager(kv store.KV, ttl time.Duration, logger *log.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[idempotency] ", log.LstdFlags)
	}
	return &Manager{kv: kv, ttl: ttl, logger: logger}
}

// Do runs op at most once per requestID within the TTL window. The
// returned bool is true when a cached result was served instead of
// executing op. An empty requestID disables deduplication and runs op
// directly.
//
// Only successful results are recorded: a failed op leaves no record,
// so the retry that prompted the request ID in the first place gets a
// clean attempt.
func (m *Manager) Do(ctx context.Context, requestID string, op func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if requestID == "" {
		result, err := op(ctx)
		return result, false, err
	}

	key := keyPrefix + requestID
	if data, err := m.kv.Get(ctx, key); err == nil {
		var rec record
		if err := json.Unmarshal(data, &rec); err == nil {
			m.logger.Printf("Request %s already processed at %s, returning recorded result", requestID, rec.Timestamp.Format(time.RFC3339))
			return rec.Result, true, nil
		}
		// Unreadable record: fall through and re-execute.
		m.logger.Printf("Warning: unreadable idempotency record for %s, re-executing", requestID)
	}

	result, err := op(ctx)
	if err != nil {
		return nil, false, err
	}

	rec := record{RequestID: requestID, Result: result, Timestamp: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal idempotency record: %w", err)
	}
	if err := m.kv.Put(ctx, key, data, m.ttl); err != nil {
		return nil, false, fmt.Errorf("failed to record request %s: %w", requestID, err)
	}
	return result, false, nil
}

// Seen reports whether a live record exists for the request ID.
func (m *Manager) Seen(ctx context.Context, requestID string) (bool, error) {
	if requestID == "" {
		return false, nil
	}
	if _, err := m.kv.Get(ctx, keyPrefix+requestID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check request %s: %w", requestID, err)
	}
	return true, nil
}
