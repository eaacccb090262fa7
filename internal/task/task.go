// Package task defines the boundary data model shared by the sync engine
// and the system adapters: the inbound task record, the content snapshot
// used for conflict detection, and helpers for the file-based adapter.
package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// System identifies one of the two task systems being bridged.
type System string

const (
	// SystemTodoist is system A.
	SystemTodoist System = "todoist"
	// SystemThings is system B.
	SystemThings System = "things"
)

// Other returns the opposite system.
func (s System) Other() System {
	if s == SystemTodoist {
		return SystemThings
	}
	return SystemTodoist
}

// Valid reports whether s names a known system.
func (s System) Valid() bool {
	return s == SystemTodoist || s == SystemThings
}

// Task is an inbound task record handed to the engine by an adapter.
// The ID is opaque and scoped to the originating system.
type Task struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Notes   string   `json:"notes,omitempty"`
	Due     string   `json:"due,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Project string   `json:"project,omitempty"`

	// ModifiedAt is the source system's last-modified timestamp, when the
	// adapter can provide one. Used for newest_wins conflict resolution.
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
}

// Validate checks the fields the engine requires.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 1000 {
		return fmt.Errorf("title must be 1000 characters or less (got %d)", len(t.Title))
	}
	return nil
}

// Content is the snapshot of a task's syncable fields. A mapping stores
// the last-synced Content as the three-way merge base for conflict
// detection.
type Content struct {
	Title string   `json:"title"`
	Notes string   `json:"notes,omitempty"`
	Due   string   `json:"due,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// ContentOf extracts the syncable snapshot from a task.
func ContentOf(t *Task) Content {
	return Content{
		Title: t.Title,
		Notes: t.Notes,
		Due:   t.Due,
		Tags:  append([]string(nil), t.Tags...),
	}
}

// Equal reports whether two snapshots carry the same title, notes, and
// due date. Comparison is exact: conflict detection compares against a
// known prior-synced value, not a fuzzy candidate. Tags are deliberately
// excluded; tag drift alone is resolved by set union, never conflicts.
func (c Content) Equal(other Content) bool {
	return c.Title == other.Title && c.Notes == other.Notes && c.Due == other.Due
}

// Filename returns the canonical filename for this task: {id}.json.
func (t *Task) Filename() string {
	return fmt.Sprintf("%s.json", t.ID)
}

// ReadTaskFile reads and parses a task JSON file from the given path.
func ReadTaskFile(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file %s: %w", path, err)
	}

	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse task file %s: %w", path, err)
	}

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task file %s: %w", path, err)
	}

	return &t, nil
}

// WriteTaskFile writes a task to dir/{id}.json with pretty-printed
// formatting.
func WriteTaskFile(dir string, t *Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid task: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create tasks directory: %w", err)
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", t.ID, err)
	}

	path := filepath.Join(dir, t.Filename())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write task file %s: %w", path, err)
	}

	return nil
}

// ReadAllTaskFiles reads all task files from the given directory.
// Invalid files are skipped with a warning to stderr; a missing
// directory is treated as empty.
func ReadAllTaskFiles(dir string) ([]*Task, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Task{}, nil
		}
		return nil, fmt.Errorf("failed to read tasks directory: %w", err)
	}

	var tasks []*Task
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		t, err := ReadTaskFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping invalid task file %s: %v\n", entry.Name(), err)
			continue
		}

		tasks = append(tasks, t)
	}

	return tasks, nil
}
