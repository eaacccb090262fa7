package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/task"
)

// Memory is an in-process adapter. It backs tests and dry runs, and
// doubles as the reference implementation of the interface contract.
type Memory struct {
	system task.System

	mu     sync.Mutex
	nextID int
	tasks  map[string]*task.Task
	closed map[string]bool

	// FailNext, when non-nil, is returned by the next mutating call and
	// then cleared. Tests use it to exercise error paths.
	FailNext error
}

// NewMemory creates an empty in-memory adapter for the given system.
func NewMemory(system task.System) *Memory {
	return &Memory{
		system: system,
		tasks:  make(map[string]*task.Task),
		closed: make(map[string]bool),
	}
}

func (m *Memory) System() task.System {
	return m.system
}

func (m *Memory) takeFailure() error {
	err := m.FailNext
	m.FailNext = nil
	return err
}

func (m *Memory) ListActiveTasks(_ context.Context, excludeSynced bool) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*task.Task
	for id, t := range m.tasks {
		if m.closed[id] {
			continue
		}
		if excludeSynced && hasTag(t.Tags, SyncedTag) {
			continue
		}
		copied := *t
		copied.Tags = append([]string(nil), t.Tags...)
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateTask(_ context.Context, t *task.Task) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return "", err
	}

	m.nextID++
	id := fmt.Sprintf("%s-%d", m.system, m.nextID)

	stored := *t
	stored.ID = id
	stored.Tags = append([]string(nil), t.Tags...)
	m.tasks[id] = &stored
	return id, nil
}

func (m *Memory) UpdateTask(_ context.Context, id string, p Partial) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}

	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
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
	return nil
}

func (m *Memory) CloseTask(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return false, err
	}

	if _, ok := m.tasks[id]; !ok {
		// Already gone: the desired end state holds.
		return true, nil
	}
	m.closed[id] = true
	return true, nil
}

func (m *Memory) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}

	delete(m.tasks, id)
	delete(m.closed, id)
	return nil
}

// Get returns the stored task, for test assertions.
func (m *Memory) Get(id string) *task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil
	}
	copied := *t
	copied.Tags = append([]string(nil), t.Tags...)
	return &copied
}

// Closed reports whether a task was completed.
func (m *Memory) Closed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed[id]
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}
