package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/store"
)

const (
	indexKey  = "conflicts:index"
	keyPrefix = "conflict:"
)

// RetentionWindow bounds how long a conflict record is kept, resolved
// or not, before it becomes eligible for cleanup.
const RetentionWindow = 7 * 24 * time.Hour

// Store persists conflicts that need (or received) manual attention:
// an index of conflict IDs plus one record per conflict.
type Store struct {
	kv     store.KV
	logger *log.Logger
}

// NewStore creates a conflict store over the given backing KV.
// If logger is nil, a default logger writing to stderr is used.
func NewStore(kv store.KV, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[conflict] ", log.LstdFlags)
	}
	return &Store{kv: kv, logger: logger}
}

// Save persists a conflict and adds it to the index. An ID and
// detection timestamp are assigned if missing.
func (s *Store) Save(ctx context.Context, c *Conflict) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now()
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict %s: %w", c.ID, err)
	}

	if err := s.kv.Put(ctx, keyPrefix+c.ID, data, RetentionWindow); err != nil {
		return fmt.Errorf("failed to store conflict %s: %w", c.ID, err)
	}

	ids, err := s.loadIndex(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == c.ID {
			return nil
		}
	}
	return s.saveIndex(ctx, append(ids, c.ID))
}

// Get returns a conflict by ID, or nil if it is gone or expired.
func (s *Store) Get(ctx context.Context, id string) (*Conflict, error) {
	data, err := s.kv.Get(ctx, keyPrefix+id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read conflict %s: %w", id, err)
	}

	var c Conflict
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse conflict %s: %w", id, err)
	}
	return &c, nil
}

// Unresolved returns all live, unresolved conflicts in index order.
func (s *Store) Unresolved(ctx context.Context) ([]*Conflict, error) {
	ids, err := s.loadIndex(ctx)
	if err != nil {
		return nil, err
	}

	var out []*Conflict
	for _, id := range ids {
		c, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if c != nil && !c.Resolved {
			out = append(out, c)
		}
	}
	return out, nil
}

// MarkResolved flags a conflict as resolved. The record itself is
// otherwise never edited after creation.
func (s *Store) MarkResolved(ctx context.Context, id string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("conflict %s not found", id)
	}
	if c.Resolved {
		return nil
	}

	c.Resolved = true
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict %s: %w", id, err)
	}
	if err := s.kv.Put(ctx, keyPrefix+id, data, RetentionWindow); err != nil {
		return fmt.Errorf("failed to update conflict %s: %w", id, err)
	}
	return nil
}

// Sweep drops index entries whose records expired out of the retention
// window. Returns the number of entries removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	ids, err := s.loadIndex(ctx)
	if err != nil {
		return 0, err
	}

	var kept []string
	for _, id := range ids {
		c, err := s.Get(ctx, id)
		if err != nil {
			return 0, err
		}
		if c != nil {
			kept = append(kept, id)
		}
	}

	removed := len(ids) - len(kept)
	if removed > 0 {
		if err := s.saveIndex(ctx, kept); err != nil {
			return 0, err
		}
		s.logger.Printf("Swept %d expired conflicts", removed)
	}
	return removed, nil
}

func (s *Store) loadIndex(ctx context.Context) ([]string, error) {
	data, err := s.kv.Get(ctx, indexKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read conflict index: %w", err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to parse conflict index: %w", err)
	}
	return ids, nil
}

func (s *Store) saveIndex(ctx context.Context, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict index: %w", err)
	}
	if err := s.kv.Put(ctx, indexKey, data, 0); err != nil {
		return fmt.Errorf("failed to write conflict index: %w", err)
	}
	return nil
}
