// Package mapping implements the durable bidirectional mapping between
// Todoist task IDs and Things task IDs, indexed by content fingerprint.
//
// All mappings live in one aggregate record in the backing store. The
// store is loaded lazily, mutated in memory, and flushed as a single
// write at the end of a sync run, which bounds backing-store write
// volume regardless of how many individual mappings change. The
// aggregate is protected from overlapping sync runs by the sync lock,
// not by the store itself.
package mapping

import (
	"time"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/fingerprint"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/task"
)

// SchemaVersion is the current aggregate record version.
const SchemaVersion = 2

// Source records how a mapping's cross-system link was established.
type Source string

const (
	// SourceExact: created fresh or matched by primary fingerprint hash.
	SourceExact Source = "exact"
	// SourceHash: matched through a title-variation hash.
	SourceHash Source = "hash"
	// SourceFuzzy: matched by title scan (back-reference, exact title,
	// or edit-distance similarity).
	SourceFuzzy Source = "fuzzy"
	// SourceLegacy: matched by native task ID, or migrated from a
	// pre-fingerprinting record.
	SourceLegacy Source = "legacy"
)

// Mapping is the durable link between one Todoist task and one Things
// task. Exactly one mapping exists per logically-unique task pair. It is
// created when the link is first established, updated on every
// successful sync touching the pair, and deleted only by explicit
// repair or cleanup.
type Mapping struct {
	TodoistID   string                  `json:"todoist_id"`
	ThingsID    string                  `json:"things_id"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	LastSynced  time.Time               `json:"last_synced"`
	Source      Source                  `json:"source"`
	Schema      int                     `json:"schema_version"`

	TodoistModifiedAt *time.Time `json:"todoist_modified_at,omitempty"`
	ThingsModifiedAt  *time.Time `json:"things_modified_at,omitempty"`

	// LastSyncedContent is the last-observed-agreed snapshot, used as
	// the three-way merge base for conflict detection. Absent means no
	// conflict is possible yet (first sync).
	LastSyncedContent *task.Content `json:"last_synced_content,omitempty"`
}

// IDFor returns the mapping's task ID in the given system.
func (m *Mapping) IDFor(sys task.System) string {
	if sys == task.SystemTodoist {
		return m.TodoistID
	}
	return m.ThingsID
}

// SetIDFor sets the mapping's task ID for the given system.
func (m *Mapping) SetIDFor(sys task.System, id string) {
	if sys == task.SystemTodoist {
		m.TodoistID = id
	} else {
		m.ThingsID = id
	}
}

// SetModifiedAtFor records a side's last-modified timestamp.
func (m *Mapping) SetModifiedAtFor(sys task.System, t *time.Time) {
	if sys == task.SystemTodoist {
		m.TodoistModifiedAt = t
	} else {
		m.ThingsModifiedAt = t
	}
}

// Stats summarizes the aggregate record for status reporting.
type Stats struct {
	TotalMappings  int       `json:"total_mappings"`
	LastFlushedAt  time.Time `json:"last_flushed_at,omitempty"`
	MigratedLegacy int       `json:"migrated_legacy"`
}

// batchState is the single aggregate record persisted to the backing
// store. Both secondary indexes always point at a fingerprint present in
// Mappings; Add and Remove maintain all three structures together.
type batchState struct {
	SchemaVersion int                 `json:"schema_version"`
	LastUpdated   time.Time           `json:"last_updated"`
	Mappings      map[string]*Mapping `json:"mappings"`
	TodoistIndex  map[string]string   `json:"todoist_index"`
	ThingsIndex   map[string]string   `json:"things_index"`
	Stats         Stats               `json:"stats"`
}

func newBatchState() *batchState {
	return &batchState{
		SchemaVersion: SchemaVersion,
		Mappings:      make(map[string]*Mapping),
		TodoistIndex:  make(map[string]string),
		ThingsIndex:   make(map[string]string),
	}
}
