// Package adapter defines the boundary between the sync engine and the
// two task systems, plus the implementations shipped with the binary.
//
// The engine only ever talks to the Adapter interface. Implementations
// translate to whatever the system actually is: a REST API, a local
// database, or a directory of JSON files.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/task"
)

// SyncedTag marks tasks that were created by the sync itself, so
// listing with excludeSynced doesn't feed them back into the engine.
const SyncedTag = "synced"

// ErrNotFound is returned by operations that target a specific task ID
// when the system has no such task.
var ErrNotFound = errors.New("task not found")

// Adapter is one side of the bridge. All methods take a context; remote
// implementations are expected to honor cancellation.
type Adapter interface {
	// System identifies which side this adapter serves.
	System() task.System

	// ListActiveTasks returns the system's open tasks. With excludeSynced
	// set, tasks tagged SyncedTag are filtered out.
	ListActiveTasks(ctx context.Context, excludeSynced bool) ([]*task.Task, error)

	// CreateTask creates a task and returns its native ID.
	CreateTask(ctx context.Context, t *task.Task) (string, error)

	// UpdateTask applies the non-nil fields of p to an existing task.
	UpdateTask(ctx context.Context, id string, p Partial) error

	// CloseTask completes a task. A missing task returns (true, nil):
	// the desired end state is already in effect.
	CloseTask(ctx context.Context, id string) (bool, error)

	// DeleteTask removes a task. Deleting a missing task is a no-op.
	DeleteTask(ctx context.Context, id string) error
}

// Partial is a field-level update. Nil pointers mean "leave unchanged";
// a Tags value replaces the tag list wholesale.
type Partial struct {
	Title *string
	Notes *string
	Due   *string
	Tags  *[]string
}

// Empty reports whether the update would change nothing.
func (p Partial) Empty() bool {
	return p.Title == nil && p.Notes == nil && p.Due == nil && p.Tags == nil
}

// FromContent builds a full-field update from a content snapshot,
// typically a conflict resolution being pushed to both sides.
func FromContent(c task.Content) Partial {
	tags := append([]string(nil), c.Tags...)
	return Partial{
		Title: &c.Title,
		Notes: &c.Notes,
		Due:   &c.Due,
		Tags:  &tags,
	}
}

// TransientError wraps failures that are worth retrying: timeouts, rate
// limits, 5xx responses. Anything not wrapped in it is treated as
// permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
