// Package engine is the sync orchestrator: it decides, for each inbound
// task, whether a counterpart already exists on the other side, creates
// the counterpart and a durable mapping when it does not, and routes
// diverged pairs through conflict resolution.
//
// A batch run is single-flighted behind the sync lock and deduplicated
// by request ID, so webhook retries and overlapping cron invocations
// cannot double-create tasks.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"time"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/adapter"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/conflict"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/fingerprint"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/idempotency"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/mapping"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/synclock"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/task"
)

// Per-task outcome statuses. Closed set; callers switch on these.
const (
	StatusCreated          = "created"
	StatusLinked           = "linked"
	StatusConflictResolved = "conflict_resolved"
	StatusConflictStored   = "conflict_stored"
	StatusError            = "error"
	StatusSkipped          = "skipped"
)

// backRefPattern extracts legacy back-reference IDs embedded in notes,
// e.g. "[ttsync:abc-123]". Kept only as the last-resort matcher; the
// mapping store is the source of truth.
var backRefPattern = regexp.MustCompile(`\[ttsync:([a-zA-Z0-9_-]+)\]`)

// Settings is the orchestrator's configuration surface.
type Settings struct {
	ConflictStrategy     conflict.Strategy
	AutoResolveConflicts bool
	SimilarityThreshold  float64

	EnabledProjects  []string
	ExcludedProjects []string
	EnabledTags      []string
	ExcludedTags     []string
}

// TaskResult is the outcome for one inbound task, in input order.
type TaskResult struct {
	TaskID   string `json:"task_id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	MappedID string `json:"mapped_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// BatchResult is the structured summary of one sync run.
type BatchResult struct {
	Created           int          `json:"created"`
	Existing          int          `json:"existing"`
	ConflictsDetected int          `json:"conflicts_detected"`
	ConflictsResolved int          `json:"conflicts_resolved"`
	Errors            int          `json:"errors"`
	Skipped           int          `json:"skipped"`
	Total             int          `json:"total"`
	Results           []TaskResult `json:"results"`
}

// Engine wires the mapping store, conflict resolver, lock, and
// idempotency layer behind a single batch entry point.
type Engine struct {
	mappings  *mapping.Store
	conflicts *conflict.Store
	lock      *synclock.Manager
	idem      *idempotency.Manager
	adapters  map[task.System]adapter.Adapter
	settings  Settings
	logger    *log.Logger
}

// New creates an engine. Both systems must have an adapter registered.
// A zero similarity threshold falls back to the default; a nil logger
// writes to stderr.
func New(mappings *mapping.Store, conflicts *conflict.Store, lock *synclock.Manager, idem *idempotency.Manager, adapters map[task.System]adapter.Adapter, settings Settings, logger *log.Logger) (*Engine, error) {
	for _, sys := range []task.System{task.SystemTodoist, task.SystemThings} {
		if adapters[sys] == nil {
			return nil, fmt.Errorf("no adapter registered for %s", sys)
		}
	}
	if settings.SimilarityThreshold <= 0 {
		settings.SimilarityThreshold = fingerprint.DefaultSimilarityThreshold
	}
	if !settings.ConflictStrategy.Valid() {
		return nil, fmt.Errorf("unknown conflict strategy %q", settings.ConflictStrategy)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		mappings:  mappings,
		conflicts: conflicts,
		lock:      lock,
		idem:      idem,
		adapters:  adapters,
		settings:  settings,
		logger:    logger,
	}, nil
}

// Sync lists the source system's active tasks and syncs them to the
// other side. The usual entry point for the CLI and daemon.
func (e *Engine) Sync(ctx context.Context, from task.System, requestID string) (*BatchResult, error) {
	tasks, err := e.adapters[from].ListActiveTasks(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s tasks: %w", from, err)
	}
	return e.SyncBatch(ctx, from, tasks, requestID)
}

// SyncBatch syncs a batch of tasks originating in one system. With a
// non-empty requestID, retries within the idempotency TTL return the
// recorded result instead of re-running. Returns synclock's
// ErrSyncInProgress when another run holds the lock.
func (e *Engine) SyncBatch(ctx context.Context, from task.System, tasks []*task.Task, requestID string) (*BatchResult, error) {
	if !from.Valid() {
		return nil, fmt.Errorf("unknown source system %q", from)
	}

	// Each direction is its own logical operation: a webhook retry for
	// one direction must not swallow the other direction's run, so the
	// request ID is scoped per source system.
	key := requestID
	if key != "" {
		key = requestID + ":" + string(from)
	}

	data, cached, err := e.idem.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		result, err := e.runBatch(ctx, from, tasks)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})
	if err != nil {
		return nil, err
	}
	if cached {
		e.logger.Printf("Request %s served from idempotency record", requestID)
	}

	var result BatchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode batch result: %w", err)
	}
	return &result, nil
}

func (e *Engine) runBatch(ctx context.Context, from task.System, tasks []*task.Task) (*BatchResult, error) {
	lock, err := e.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := e.lock.Release(ctx, lock); err != nil {
			e.logger.Printf("Warning: failed to release sync lock: %v", err)
		}
	}()

	if err := e.mappings.Load(ctx); err != nil {
		return nil, err
	}

	dest := e.adapters[from.Other()]
	destTasks, err := dest.ListActiveTasks(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s tasks: %w", from.Other(), err)
	}
	destByID := make(map[string]*task.Task, len(destTasks))
	for _, t := range destTasks {
		destByID[t.ID] = t
	}

	result := &BatchResult{Total: len(tasks)}
	now := time.Now()

	for _, t := range tasks {
		r := e.processTask(ctx, from, t, destTasks, destByID, now)
		result.Results = append(result.Results, r)

		switch r.Status {
		case StatusCreated:
			result.Created++
		case StatusLinked:
			result.Existing++
		case StatusConflictResolved:
			result.ConflictsDetected++
			result.ConflictsResolved++
		case StatusConflictStored:
			result.ConflictsDetected++
		case StatusError:
			result.Errors++
		case StatusSkipped:
			result.Skipped++
		}
	}

	if err := e.mappings.Flush(ctx); err != nil {
		return nil, err
	}

	e.logger.Printf("Sync from %s: %d created, %d existing, %d conflicts (%d resolved), %d errors, %d skipped",
		from, result.Created, result.Existing, result.ConflictsDetected, result.ConflictsResolved, result.Errors, result.Skipped)
	return result, nil
}

func (e *Engine) processTask(ctx context.Context, from task.System, t *task.Task, destTasks []*task.Task, destByID map[string]*task.Task, now time.Time) TaskResult {
	r := TaskResult{TaskID: t.ID, Title: t.Title}

	if err := t.Validate(); err != nil {
		r.Status = StatusError
		r.Error = err.Error()
		return r
	}
	if skip, reason := e.filtered(t); skip {
		r.Status = StatusSkipped
		r.Error = reason
		return r
	}

	due := task.NormalizeDue(t.Due, now)
	fp := fingerprint.Compute(t.Title, t.Notes, due)

	m, err := e.match(ctx, from, t, fp, due, destTasks)
	if err != nil {
		r.Status = StatusError
		r.Error = err.Error()
		return r
	}

	if m == nil {
		mappedID, err := e.createCounterpart(ctx, from, t, fp, due)
		if err != nil {
			r.Status = StatusError
			r.Error = err.Error()
			return r
		}
		r.Status = StatusCreated
		r.MappedID = mappedID
		return r
	}

	status, err := e.reconcile(ctx, from, t, m, due, destByID, now)
	if err != nil {
		r.Status = StatusError
		r.Error = err.Error()
		return r
	}
	r.Status = status
	r.MappedID = m.IDFor(from.Other())
	return r
}

// filtered applies the project/tag configuration before any matching.
func (e *Engine) filtered(t *task.Task) (bool, string) {
	if len(e.settings.EnabledProjects) > 0 && !contains(e.settings.EnabledProjects, t.Project) {
		return true, "project not enabled"
	}
	if contains(e.settings.ExcludedProjects, t.Project) && t.Project != "" {
		return true, "project excluded"
	}
	if len(e.settings.EnabledTags) > 0 && !overlaps(e.settings.EnabledTags, t.Tags) {
		return true, "no enabled tag"
	}
	if overlaps(e.settings.ExcludedTags, t.Tags) {
		return true, "tag excluded"
	}
	return false, ""
}

// match runs the four-step matching pipeline, cheapest first:
// exact hash, legacy native ID, title-variation hashes, and finally a
// linear scan of the destination list (back-reference, exact title,
// fuzzy similarity).
//
// Mappings added earlier in the same batch are visible here because the
// store mutates in memory and only flushes at batch end; a fingerprint
// appearing twice in one batch matches itself instead of double-creating.
func (e *Engine) match(ctx context.Context, from task.System, t *task.Task, fp fingerprint.Fingerprint, due string, destTasks []*task.Task) (*mapping.Mapping, error) {
	if m, err := e.mappings.GetByFingerprint(ctx, fp.PrimaryHash); err != nil {
		return nil, err
	} else if m != nil {
		return m, nil
	}

	var m *mapping.Mapping
	var err error
	if from == task.SystemTodoist {
		m, err = e.mappings.GetByTodoistID(ctx, t.ID)
	} else {
		m, err = e.mappings.GetByThingsID(ctx, t.ID)
	}
	if err != nil {
		return nil, err
	}
	if m != nil {
		return m, nil
	}

	for _, variation := range fp.TitleVariations {
		h := fingerprint.HashContent(variation, t.Notes, due)
		if h == fp.PrimaryHash {
			continue
		}
		m, err := e.mappings.GetByFingerprint(ctx, h)
		if err != nil {
			return nil, err
		}
		if m != nil {
			return m, nil
		}
	}

	return e.scanDestination(ctx, from, t, fp, destTasks)
}

// scanDestination is the expensive fallback: walk the destination
// system's live task list looking for an unmapped counterpart. A hit
// establishes a new mapping so the next run takes the indexed path.
func (e *Engine) scanDestination(ctx context.Context, from task.System, t *task.Task, fp fingerprint.Fingerprint, destTasks []*task.Task) (*mapping.Mapping, error) {
	for _, candidate := range destTasks {
		source, matched := e.scanCandidate(t, fp, candidate)
		if !matched {
			continue
		}

		m := &mapping.Mapping{
			Fingerprint: fp,
			LastSynced:  time.Now(),
			Source:      source,
		}
		m.SetIDFor(from, t.ID)
		m.SetIDFor(from.Other(), candidate.ID)
		m.SetModifiedAtFor(from, t.ModifiedAt)
		m.SetModifiedAtFor(from.Other(), candidate.ModifiedAt)

		if err := e.mappings.Add(ctx, m); err != nil {
			return nil, err
		}
		e.logger.Printf("Linked %s task %q to existing %s task %s (%s match)", from, t.Title, from.Other(), candidate.ID, source)
		return m, nil
	}
	return nil, nil
}

func (e *Engine) scanCandidate(t *task.Task, fp fingerprint.Fingerprint, candidate *task.Task) (mapping.Source, bool) {
	for _, ref := range backRefPattern.FindAllStringSubmatch(candidate.Notes, -1) {
		if ref[1] == t.ID {
			return mapping.SourceLegacy, true
		}
	}
	if candidate.Title == t.Title {
		return mapping.SourceExact, true
	}
	if fingerprint.IsSimilarEnough(fp.FuzzySearchable, candidate.Title, e.settings.SimilarityThreshold) {
		return mapping.SourceFuzzy, true
	}
	return "", false
}

// createCounterpart mirrors the task into the destination system and
// records the new mapping. Created tasks carry the synced tag so they
// are excluded from the destination's own sync listings.
func (e *Engine) createCounterpart(ctx context.Context, from task.System, t *task.Task, fp fingerprint.Fingerprint, due string) (string, error) {
	mirrored := &task.Task{
		Title:   t.Title,
		Notes:   t.Notes,
		Due:     due,
		Tags:    appendUnique(t.Tags, adapter.SyncedTag),
		Project: t.Project,
	}

	destID, err := e.adapters[from.Other()].CreateTask(ctx, mirrored)
	if err != nil {
		return "", fmt.Errorf("failed to create %s task: %w", from.Other(), err)
	}

	snapshot := task.ContentOf(t)
	snapshot.Due = due

	m := &mapping.Mapping{
		Fingerprint:       fp,
		LastSynced:        time.Now(),
		Source:            mapping.SourceExact,
		LastSyncedContent: &snapshot,
	}
	m.SetIDFor(from, t.ID)
	m.SetIDFor(from.Other(), destID)
	m.SetModifiedAtFor(from, t.ModifiedAt)

	if err := e.mappings.Add(ctx, m); err != nil {
		return "", err
	}
	return destID, nil
}

// reconcile handles a matched pair: detect a two-sided divergence and
// resolve or store it, or propagate a one-sided change to the
// destination.
func (e *Engine) reconcile(ctx context.Context, from task.System, t *task.Task, m *mapping.Mapping, due string, destByID map[string]*task.Task, now time.Time) (string, error) {
	// Legacy mappings may only know one side's ID.
	if m.IDFor(from) == "" {
		m.SetIDFor(from, t.ID)
		if err := e.mappings.Add(ctx, m); err != nil {
			return "", err
		}
	}
	m.SetModifiedAtFor(from, t.ModifiedAt)

	live := *t
	live.Due = due

	destLive := destByID[m.IDFor(from.Other())]
	if destLive != nil {
		// Fold the destination's due to the same normalized form as the
		// snapshot, so formatting drift never reads as an edit.
		normalized := *destLive
		normalized.Due = task.NormalizeDue(destLive.Due, now)
		destLive = &normalized
	}
	if destLive != nil && m.LastSyncedContent != nil {
		todoist, things := orient(from, &live, destLive)
		if c := conflict.Detect(todoist, things, m); c != nil {
			return e.handleConflict(ctx, from, c, m)
		}
	}

	return e.propagate(ctx, from, &live, m, destLive)
}

// handleConflict auto-resolves when configured, pushing the winning
// content to both sides; otherwise it stores the conflict untouched.
func (e *Engine) handleConflict(ctx context.Context, from task.System, c *conflict.Conflict, m *mapping.Mapping) (string, error) {
	if e.settings.AutoResolveConflicts {
		resolution, err := conflict.Resolve(c, e.settings.ConflictStrategy)
		if err == nil {
			return StatusConflictResolved, e.applyResolution(ctx, resolution, m)
		}
		if !errors.Is(err, conflict.ErrManualResolutionRequired) {
			return "", err
		}
		// Manual strategy: fall through to storage.
	}

	c.Suggested = conflict.Suggest(c, e.settings.ConflictStrategy)
	if err := e.conflicts.Save(ctx, c); err != nil {
		return "", err
	}
	e.logger.Printf("Stored conflict %s for %s task %s (suggested %s)", c.ID, from, c.TodoistID, c.Suggested)
	return StatusConflictStored, nil
}

// applyResolution pushes the resolved content to both systems and
// records it as the new merge base.
func (e *Engine) applyResolution(ctx context.Context, resolution *conflict.Resolution, m *mapping.Mapping) error {
	update := adapter.FromContent(resolution.Task)
	for _, sys := range []task.System{task.SystemTodoist, task.SystemThings} {
		id := m.IDFor(sys)
		if id == "" {
			continue
		}
		if err := e.adapters[sys].UpdateTask(ctx, id, update); err != nil {
			return fmt.Errorf("failed to push resolution to %s: %w", sys, err)
		}
	}

	snapshot := resolution.Task
	m.LastSyncedContent = &snapshot
	m.LastSynced = time.Now()
	return e.mappings.Add(ctx, m)
}

// propagate pushes a one-sided source change to the destination. When
// nothing changed, it just refreshes the sync timestamp bookkeeping.
func (e *Engine) propagate(ctx context.Context, from task.System, live *task.Task, m *mapping.Mapping, destLive *task.Task) (string, error) {
	content := task.ContentOf(live)

	changed := m.LastSyncedContent == nil || !content.Equal(*m.LastSyncedContent)
	if changed {
		destID := m.IDFor(from.Other())
		if destID != "" {
			update := adapter.FromContent(content)
			if destLive != nil && contains(destLive.Tags, adapter.SyncedTag) {
				// Keep the destination's synced tag when pushing content.
				merged := appendUnique(content.Tags, adapter.SyncedTag)
				update.Tags = &merged
			}
			if err := e.adapters[from.Other()].UpdateTask(ctx, destID, update); err != nil {
				return "", fmt.Errorf("failed to propagate update to %s: %w", from.Other(), err)
			}
		}
		snapshot := content
		m.LastSyncedContent = &snapshot
	}

	m.LastSynced = time.Now()
	if err := e.mappings.Add(ctx, m); err != nil {
		return "", err
	}
	return StatusLinked, nil
}

// ResolveStoredConflict applies a strategy to a previously stored
// conflict, pushes the winning content to both systems, and marks the
// conflict resolved. Used by the interactive conflict review flow.
func (e *Engine) ResolveStoredConflict(ctx context.Context, conflictID string, strategy conflict.Strategy) (*conflict.Resolution, error) {
	c, err := e.conflicts.Get(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("conflict %s not found", conflictID)
	}
	if c.Resolved {
		return nil, fmt.Errorf("conflict %s is already resolved", conflictID)
	}

	resolution, err := conflict.Resolve(c, strategy)
	if err != nil {
		return nil, err
	}

	if err := e.mappings.Load(ctx); err != nil {
		return nil, err
	}
	m, err := e.mappings.GetByTodoistID(ctx, c.TodoistID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m, err = e.mappings.GetByThingsID(ctx, c.ThingsID)
		if err != nil {
			return nil, err
		}
	}
	if m == nil {
		return nil, fmt.Errorf("no mapping found for conflict %s", conflictID)
	}

	if err := e.applyResolution(ctx, resolution, m); err != nil {
		return nil, err
	}
	if err := e.mappings.Flush(ctx); err != nil {
		return nil, err
	}
	if err := e.conflicts.MarkResolved(ctx, conflictID); err != nil {
		return nil, err
	}
	return resolution, nil
}

// Status summarizes the engine's persisted state for reporting.
type Status struct {
	Mappings            int  `json:"mappings"`
	UnresolvedConflicts int  `json:"unresolved_conflicts"`
	SyncInProgress      bool `json:"sync_in_progress"`
}

// CurrentStatus reports mapping and conflict counts plus lock state.
func (e *Engine) CurrentStatus(ctx context.Context) (*Status, error) {
	count, err := e.mappings.Len(ctx)
	if err != nil {
		return nil, err
	}
	unresolved, err := e.conflicts.Unresolved(ctx)
	if err != nil {
		return nil, err
	}
	held, err := e.lock.Holder(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Mappings:            count,
		UnresolvedConflicts: len(unresolved),
		SyncInProgress:      held,
	}, nil
}

// Conflicts exposes the conflict store for listing and review flows.
func (e *Engine) Conflicts() *conflict.Store {
	return e.conflicts
}

// orient maps a (source, destination) pair onto the fixed
// (todoist, things) argument order the resolver expects.
func orient(from task.System, source, dest *task.Task) (todoist, things *task.Task) {
	if from == task.SystemTodoist {
		return source, dest
	}
	return dest, source
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func overlaps(list, tags []string) bool {
	for _, tag := range tags {
		if contains(list, tag) {
			return true
		}
	}
	return false
}

func appendUnique(tags []string, tag string) []string {
	out := append([]string(nil), tags...)
	if tag == "" || contains(out, tag) {
		return out
	}
	return append(out, tag)
}
