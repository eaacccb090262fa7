package adapter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/task"
)

// Dir serves a system out of a directory of JSON task files, one file
// per task named {id}.json. Closing a task moves its file into a
// completed/ subdirectory rather than deleting it.
type Dir struct {
	system task.System
	root   string
}

const completedDir = "completed"

// NewDir creates a directory-backed adapter rooted at root. The
// directory is created lazily on first write.
func NewDir(system task.System, root string) *Dir {
	return &Dir{system: system, root: root}
}

func (d *Dir) System() task.System {
	return d.system
}

// Root returns the directory this adapter serves, for watchers.
func (d *Dir) Root() string {
	return d.root
}

func (d *Dir) path(id string) string {
	return filepath.Join(d.root, id+".json")
}

func (d *Dir) ListActiveTasks(_ context.Context, excludeSynced bool) ([]*task.Task, error) {
	tasks, err := task.ReadAllTaskFiles(d.root)
	if err != nil {
		return nil, err
	}
	if !excludeSynced {
		return tasks, nil
	}

	var out []*task.Task
	for _, t := range tasks {
		if hasTag(t.Tags, SyncedTag) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (d *Dir) CreateTask(_ context.Context, t *task.Task) (string, error) {
	stored := *t
	stored.ID = uuid.NewString()
	stored.Tags = append([]string(nil), t.Tags...)

	if err := task.WriteTaskFile(d.root, &stored); err != nil {
		return "", err
	}
	return stored.ID, nil
}

func (d *Dir) UpdateTask(_ context.Context, id string, p Partial) error {
	t, err := task.ReadTaskFile(d.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}

	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.Due != nil {
		t.Due = *p.Due
	}
	if p.Tags != nil {
		t.Tags = append([]string(nil), *p.Tags...)
	}
	return task.WriteTaskFile(d.root, t)
}

func (d *Dir) CloseTask(_ context.Context, id string) (bool, error) {
	src := d.path(id)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return true, nil
	}

	dst := filepath.Join(d.root, completedDir)
	if err := os.MkdirAll(dst, 0755); err != nil {
		return false, fmt.Errorf("failed to create completed directory: %w", err)
	}
	if err := os.Rename(src, filepath.Join(dst, id+".json")); err != nil {
		return false, fmt.Errorf("failed to complete task %s: %w", id, err)
	}
	return true, nil
}

func (d *Dir) DeleteTask(_ context.Context, id string) error {
	if err := os.Remove(d.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}
