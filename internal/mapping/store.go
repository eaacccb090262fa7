package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/fingerprint"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/store"
)

const (
	// aggregateKey holds the whole batch state as one record.
	aggregateKey = "mappings:v2"

	// legacyPrefix is where pre-batching builds stored one record per
	// mapping. MigrateLegacy folds these into the aggregate.
	legacyPrefix = "mapping:"
)

// ErrCorruptState means the aggregate record exists but cannot be
// parsed. This is fatal for the run: no silent recovery is attempted.
var ErrCorruptState = errors.New("mapping state corrupt")

// Store owns the aggregate mapping record.
//
// A Store caches the aggregate in memory after the first access
// (instance-scoped, not cross-instance) and tracks a dirty flag so that
// Flush writes only when something changed. Callers must not assume
// autosave: the orchestrator calls Flush once at the end of a batch.
type Store struct {
	kv     store.KV
	logger *log.Logger

	state *batchState
	dirty bool
}

// NewStore creates a mapping store over the given backing KV.
// If logger is nil, a default logger writing to stderr is used.
func NewStore(kv store.KV, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[mapping] ", log.LstdFlags)
	}
	return &Store{kv: kv, logger: logger}
}

// Load fetches and deserializes the aggregate record on first use.
// Subsequent calls return immediately with the cached copy.
func (s *Store) Load(ctx context.Context) error {
	if s.state != nil {
		return nil
	}

	data, err := s.kv.Get(ctx, aggregateKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.state = newBatchState()
			return nil
		}
		return fmt.Errorf("failed to load mapping state: %w", err)
	}

	var state batchState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	if state.Mappings == nil {
		state.Mappings = make(map[string]*Mapping)
	}
	if state.TodoistIndex == nil {
		state.TodoistIndex = make(map[string]string)
	}
	if state.ThingsIndex == nil {
		state.ThingsIndex = make(map[string]string)
	}

	s.state = &state
	s.logger.Printf("Loaded %d mappings (schema v%d)", len(state.Mappings), state.SchemaVersion)
	return nil
}

// GetByFingerprint returns the mapping for a primary hash, or nil.
func (s *Store) GetByFingerprint(ctx context.Context, hash string) (*Mapping, error) {
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s.state.Mappings[hash], nil
}

// GetByTodoistID returns the mapping holding a Todoist task ID, or nil.
func (s *Store) GetByTodoistID(ctx context.Context, id string) (*Mapping, error) {
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	if hash, ok := s.state.TodoistIndex[id]; ok {
		return s.state.Mappings[hash], nil
	}
	return nil, nil
}

// GetByThingsID returns the mapping holding a Things task ID, or nil.
func (s *Store) GetByThingsID(ctx context.Context, id string) (*Mapping, error) {
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	if hash, ok := s.state.ThingsIndex[id]; ok {
		return s.state.Mappings[hash], nil
	}
	return nil, nil
}

// Add inserts or overwrites a mapping, updating both secondary indexes,
// and marks the state dirty. Nothing is written through until Flush.
func (s *Store) Add(ctx context.Context, m *Mapping) error {
	if err := s.Load(ctx); err != nil {
		return err
	}
	if m.Fingerprint.PrimaryHash == "" {
		return fmt.Errorf("mapping requires a fingerprint hash")
	}

	hash := m.Fingerprint.PrimaryHash

	// If the hash already maps, drop the old mapping's index entries
	// first so a re-add with different IDs leaves no stale pointers.
	if prev, ok := s.state.Mappings[hash]; ok {
		delete(s.state.TodoistIndex, prev.TodoistID)
		delete(s.state.ThingsIndex, prev.ThingsID)
	}

	if m.Schema == 0 {
		m.Schema = SchemaVersion
	}

	s.state.Mappings[hash] = m
	if m.TodoistID != "" {
		s.state.TodoistIndex[m.TodoistID] = hash
	}
	if m.ThingsID != "" {
		s.state.ThingsIndex[m.ThingsID] = hash
	}

	s.dirty = true
	return nil
}

// Remove deletes a mapping and its index entries. No-op if absent.
func (s *Store) Remove(ctx context.Context, hash string) error {
	if err := s.Load(ctx); err != nil {
		return err
	}

	m, ok := s.state.Mappings[hash]
	if !ok {
		return nil
	}

	delete(s.state.Mappings, hash)
	delete(s.state.TodoistIndex, m.TodoistID)
	delete(s.state.ThingsIndex, m.ThingsID)

	s.dirty = true
	return nil
}

// Flush serializes the whole aggregate as one write to the backing
// store. Only writes if something changed since the last flush.
func (s *Store) Flush(ctx context.Context) error {
	if s.state == nil || !s.dirty {
		return nil
	}

	s.state.LastUpdated = time.Now()
	s.state.SchemaVersion = SchemaVersion
	s.state.Stats.TotalMappings = len(s.state.Mappings)
	s.state.Stats.LastFlushedAt = s.state.LastUpdated

	data, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping state: %w", err)
	}

	if err := s.kv.Put(ctx, aggregateKey, data, 0); err != nil {
		return fmt.Errorf("failed to flush mapping state: %w", err)
	}

	s.dirty = false
	s.logger.Printf("Flushed %d mappings in one write", len(s.state.Mappings))
	return nil
}

// Len returns the number of mappings.
func (s *Store) Len(ctx context.Context) (int, error) {
	if err := s.Load(ctx); err != nil {
		return 0, err
	}
	return len(s.state.Mappings), nil
}

// Stats returns the aggregate's summary counters.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if err := s.Load(ctx); err != nil {
		return Stats{}, err
	}
	st := s.state.Stats
	st.TotalMappings = len(s.state.Mappings)
	return st, nil
}

// legacyRecord is the shape of pre-batching one-key-per-mapping records.
type legacyRecord struct {
	TodoistID   string     `json:"todoist_id"`
	ThingsID    string     `json:"things_id"`
	Fingerprint string     `json:"fingerprint"`
	LastSynced  *time.Time `json:"last_synced,omitempty"`
}

// MigrateLegacy folds legacy one-key-per-mapping records into the
// aggregate and deletes the originals. At most pageSize records are
// processed per invocation to bound backing-store operations; call
// repeatedly until the returned count is zero. Safe to re-run: records
// whose fingerprint already exists in the aggregate are deleted without
// being re-added.
func (s *Store) MigrateLegacy(ctx context.Context, pageSize int) (int, error) {
	if err := s.Load(ctx); err != nil {
		return 0, err
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	keys, err := s.kv.List(ctx, legacyPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list legacy mappings: %w", err)
	}
	if len(keys) > pageSize {
		keys = keys[:pageSize]
	}

	migrated := 0
	for _, key := range keys {
		data, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return migrated, fmt.Errorf("failed to read legacy mapping %s: %w", key, err)
		}

		var rec legacyRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Printf("Warning: skipping unparseable legacy mapping %s: %v", key, err)
			continue
		}

		hash := rec.Fingerprint
		if hash == "" {
			hash = strings.TrimPrefix(key, legacyPrefix)
		}

		if _, exists := s.state.Mappings[hash]; !exists {
			m := &Mapping{
				TodoistID:   rec.TodoistID,
				ThingsID:    rec.ThingsID,
				Fingerprint: fingerprint.Fingerprint{PrimaryHash: hash},
				Source:      SourceLegacy,
				Schema:      SchemaVersion,
			}
			if rec.LastSynced != nil {
				m.LastSynced = *rec.LastSynced
			}
			if err := s.Add(ctx, m); err != nil {
				return migrated, err
			}
			s.state.Stats.MigratedLegacy++
			migrated++
		}

		if err := s.kv.Delete(ctx, key); err != nil {
			return migrated, fmt.Errorf("failed to delete legacy mapping %s: %w", key, err)
		}
	}

	if migrated > 0 {
		s.logger.Printf("Migrated %d legacy mappings", migrated)
	}
	return migrated, nil
}

// Repair drops secondary index entries that point at missing
// fingerprints and rebuilds entries missing for existing mappings.
// Returns the number of corrections made.
func (s *Store) Repair(ctx context.Context) (int, error) {
	if err := s.Load(ctx); err != nil {
		return 0, err
	}

	fixed := 0

	for id, hash := range s.state.TodoistIndex {
		if _, ok := s.state.Mappings[hash]; !ok {
			delete(s.state.TodoistIndex, id)
			fixed++
		}
	}
	for id, hash := range s.state.ThingsIndex {
		if _, ok := s.state.Mappings[hash]; !ok {
			delete(s.state.ThingsIndex, id)
			fixed++
		}
	}

	for hash, m := range s.state.Mappings {
		if m.TodoistID != "" && s.state.TodoistIndex[m.TodoistID] != hash {
			s.state.TodoistIndex[m.TodoistID] = hash
			fixed++
		}
		if m.ThingsID != "" && s.state.ThingsIndex[m.ThingsID] != hash {
			s.state.ThingsIndex[m.ThingsID] = hash
			fixed++
		}
	}

	if fixed > 0 {
		s.dirty = true
		s.logger.Printf("Repaired %d index entries", fixed)
	}
	return fixed, nil
}
