package engine

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/adapter"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/conflict"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/idempotency"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/mapping"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/store"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/synclock"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/task"
)

type fixture struct {
	engine  *Engine
	todoist *adapter.Memory
	things  *adapter.Memory
	lock    *synclock.Manager
}

func newFixture(t *testing.T, settings Settings) *fixture {
	t.Helper()

	logger := log.New(os.Stderr, "[test] ", 0)
	kv := store.NewMemory()

	todoist := adapter.NewMemory(task.SystemTodoist)
	things := adapter.NewMemory(task.SystemThings)
	lock := synclock.NewManager(kv, 0, logger)

	if settings.ConflictStrategy == "" {
		settings.ConflictStrategy = conflict.StrategyNewestWins
	}

	e, err := New(
		mapping.NewStore(kv, logger),
		conflict.NewStore(kv, logger),
		lock,
		idempotency.NewManager(kv, 0, logger),
		map[task.System]adapter.Adapter{
			task.SystemTodoist: todoist,
			task.SystemThings:  things,
		},
		settings,
		logger,
	)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	return &fixture{engine: e, todoist: todoist, things: things, lock: lock}
}

func TestSyncCreatesCounterpart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: true})

	b1 := &task.Task{ID: "b1", Title: "Buy milk", Notes: "2%"}
	result, err := f.engine.SyncBatch(ctx, task.SystemThings, []*task.Task{b1}, "")
	if err != nil {
		t.Fatalf("SyncBatch failed: %v", err)
	}
	if result.Created != 1 || result.Total != 1 {
		t.Errorf("result = %+v, want created=1", result)
	}

	created, _ := f.todoist.ListActiveTasks(ctx, false)
	if len(created) != 1 {
		t.Fatalf("todoist should hold 1 mirrored task, got %d", len(created))
	}
	if created[0].Title != "Buy milk" || created[0].Notes != "2%" {
		t.Errorf("mirrored content = %+v", created[0])
	}
	// Mirrored tasks carry the synced tag so they don't feed back.
	if len(created[0].Tags) != 1 || created[0].Tags[0] != adapter.SyncedTag {
		t.Errorf("mirrored tags = %v", created[0].Tags)
	}
	if result.Results[0].MappedID != created[0].ID {
		t.Errorf("result mapped ID %q != created ID %q", result.Results[0].MappedID, created[0].ID)
	}
}

func TestResyncMatchesInsteadOfCreating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: true})

	b1 := &task.Task{ID: "b1", Title: "Buy milk", Notes: "2%"}
	first, err := f.engine.SyncBatch(ctx, task.SystemThings, []*task.Task{b1}, "")
	if err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	if first.Created != 1 {
		t.Fatalf("first sync = %+v", first)
	}

	second, err := f.engine.SyncBatch(ctx, task.SystemThings, []*task.Task{b1}, "")
	if err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if second.Created != 0 || second.Existing != 1 {
		t.Errorf("second sync = %+v, want created=0 existing=1", second)
	}

	created, _ := f.todoist.ListActiveTasks(ctx, false)
	if len(created) != 1 {
		t.Errorf("resync duplicated the task: %d todoist tasks", len(created))
	}
}

func TestInBatchDuplicateFingerprint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: true})

	// Same content under two native IDs in one batch.
	batch := []*task.Task{
		{ID: "b1", Title: "Buy milk", Notes: "2%"},
		{ID: "b2", Title: "Buy milk", Notes: "2%"},
	}
	result, err := f.engine.SyncBatch(ctx, task.SystemThings, batch, "")
	if err != nil {
		t.Fatalf("SyncBatch failed: %v", err)
	}
	if result.Created != 1 || result.Existing != 1 {
		t.Errorf("result = %+v, want created=1 existing=1", result)
	}

	created, _ := f.todoist.ListActiveTasks(ctx, false)
	if len(created) != 1 {
		t.Errorf("in-batch duplicate created %d todoist tasks, want 1", len(created))
	}
}

func TestVariantHashMatchesRetypedTitle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: true})

	original := &task.Task{ID: "b1", Title: "buymilk"}
	if _, err := f.engine.SyncBatch(ctx, task.SystemThings, []*task.Task{original}, ""); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}

	// Retyped with a space: the space-removed variation hashes to the
	// stored fingerprint.
	retyped := &task.Task{ID: "b2", Title: "buy milk"}
	result, err := f.engine.SyncBatch(ctx, task.SystemThings, []*task.Task{retyped}, "")
	if err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if result.Created != 0 || result.Existing != 1 {
		t.Errorf("retyped title result = %+v, want existing=1", result)
	}
}

func TestScanFuzzyLinksExistingTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: true})

	// Pre-existing unmapped todoist task with a typo.
	existingID, _ := f.todoist.CreateTask(ctx, &task.Task{Title: "Buy milk from teh store"})

	incoming := &task.Task{ID: "b1", Title: "Buy milk from the store"}
	result, err := f.engine.SyncBatch(ctx, task.SystemThings, []*task.Task{incoming}, "")
	if err != nil {
		t.Fatalf("SyncBatch failed: %v", err)
	}
	if result.Created != 0 || result.Existing != 1 {
		t.Fatalf("fuzzy scan result = %+v, want existing=1", result)
	}
	if result.Results[0].MappedID != existingID {
		t.Errorf("linked to %q, want %q", result.Results[0].MappedID, existingID)
	}

	all, _ := f.todoist.ListActiveTasks(ctx, false)
	if len(all) != 1 {
		t.Errorf("fuzzy match still created a duplicate: %d tasks", len(all))
	}
}

func TestScanBackReferenceLinks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: true})

	// Legacy-era task whose notes embed the counterpart's ID.
	existingID, _ := f.todoist.CreateTask(ctx, &task.Task{
		Title: "Totally different wording",
		Notes: "imported [ttsync:b1]",
	})

	incoming := &task.Task{ID: "b1", Title: "Pay the electric bill"}
	result, err := f.engine.SyncBatch(ctx, task.SystemThings, []*task.Task{incoming}, "")
	if err != nil {
		t.Fatalf("SyncBatch failed: %v", err)
	}
	if result.Existing != 1 {
		t.Fatalf("back-reference result = %+v, want existing=1", result)
	}
	if result.Results[0].MappedID != existingID {
		t.Errorf("linked to %q, want %q", result.Results[0].MappedID, existingID)
	}
}

func TestScanExactTitleLinks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: true})

	// Same title, different notes: the content hash misses but the
	// exact-title scan hits.
	existingID, _ := f.todoist.CreateTask(ctx, &task.Task{Title: "Pay rent", Notes: "June"})

	incoming := &task.Task{ID: "b1", Title: "Pay rent", Notes: "May"}
	result, err := f.engine.SyncBatch(ctx, task.SystemThings, []*task.Task{incoming}, "")
	if err != nil {
		t.Fatalf("SyncBatch failed: %v", err)
	}
	if result.Existing != 1 || result.Results[0].MappedID != existingID {
		t.Errorf("exact-title scan result = %+v", result)
	}
}

func TestConflictAutoResolvedNewestWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: true, ConflictStrategy: conflict.StrategyNewestWins})

	thingsID, _ := f.things.CreateTask(ctx, &task.Task{Title: "Original"})
	seeded, _ := f.things.ListActiveTasks(ctx, false)
	first, err := f.engine.SyncBatch(ctx, task.SystemThings, seeded, "")
	if err != nil || first.Created != 1 {
		t.Fatalf("seed sync failed: %+v err=%v", first, err)
	}
	todoistID := first.Results[0].MappedID

	// Both sides edit after the sync.
	titleA := "Updated A"
	titleB := "Updated B"
	_ = f.todoist.UpdateTask(ctx, todoistID, adapter.Partial{Title: &titleA})
	_ = f.things.UpdateTask(ctx, thingsID, adapter.Partial{Title: &titleB})

	later := time.Now()
	live := f.todoist.Get(todoistID)
	live.ModifiedAt = &later

	result, err := f.engine.SyncBatch(ctx, task.SystemTodoist, []*task.Task{live}, "")
	if err != nil {
		t.Fatalf("conflict sync failed: %v", err)
	}
	if result.ConflictsDetected != 1 || result.ConflictsResolved != 1 {
		t.Fatalf("result = %+v, want 1 conflict resolved", result)
	}
	if result.Results[0].Status != StatusConflictResolved {
		t.Errorf("status = %s", result.Results[0].Status)
	}

	// Todoist carries the only timestamp, so its title wins on both sides.
	if got := f.things.Get(thingsID); got.Title != "Updated A" {
		t.Errorf("things title after resolution = %q, want %q", got.Title, "Updated A")
	}
	if got := f.todoist.Get(todoistID); got.Title != "Updated A" {
		t.Errorf("todoist title after resolution = %q", got.Title)
	}
}

func TestConflictStoredWhenManual(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: false, ConflictStrategy: conflict.StrategyManual})

	thingsID, _ := f.things.CreateTask(ctx, &task.Task{Title: "Original"})
	seeded, _ := f.things.ListActiveTasks(ctx, false)
	first, err := f.engine.SyncBatch(ctx, task.SystemThings, seeded, "")
	if err != nil || first.Created != 1 {
		t.Fatalf("seed sync failed: %+v err=%v", first, err)
	}
	todoistID := first.Results[0].MappedID

	titleA := "Updated A"
	titleB := "Updated B"
	_ = f.todoist.UpdateTask(ctx, todoistID, adapter.Partial{Title: &titleA})
	_ = f.things.UpdateTask(ctx, thingsID, adapter.Partial{Title: &titleB})

	result, err := f.engine.SyncBatch(ctx, task.SystemTodoist, []*task.Task{f.todoist.Get(todoistID)}, "")
	if err != nil {
		t.Fatalf("conflict sync failed: %v", err)
	}
	if result.ConflictsDetected != 1 || result.ConflictsResolved != 0 {
		t.Fatalf("result = %+v, want 1 stored conflict", result)
	}
	if result.Results[0].Status != StatusConflictStored {
		t.Errorf("status = %s", result.Results[0].Status)
	}

	// Neither system's content was touched.
	if got := f.things.Get(thingsID); got.Title != "Updated B" {
		t.Errorf("things content changed despite stored conflict: %q", got.Title)
	}
	if got := f.todoist.Get(todoistID); got.Title != "Updated A" {
		t.Errorf("todoist content changed despite stored conflict: %q", got.Title)
	}

	unresolved, err := f.engine.Conflicts().Unresolved(ctx)
	if err != nil || len(unresolved) != 1 {
		t.Fatalf("unresolved = %v err=%v, want 1", unresolved, err)
	}
	if unresolved[0].Suggested == "" {
		t.Error("stored conflict should carry a suggested resolution")
	}
}

func TestResolveStoredConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: false, ConflictStrategy: conflict.StrategyManual})

	thingsID, _ := f.things.CreateTask(ctx, &task.Task{Title: "Original"})
	seeded, _ := f.things.ListActiveTasks(ctx, false)
	first, _ := f.engine.SyncBatch(ctx, task.SystemThings, seeded, "")
	todoistID := first.Results[0].MappedID

	titleA := "Updated A"
	titleB := "Updated B"
	_ = f.todoist.UpdateTask(ctx, todoistID, adapter.Partial{Title: &titleA})
	_ = f.things.UpdateTask(ctx, thingsID, adapter.Partial{Title: &titleB})
	_, _ = f.engine.SyncBatch(ctx, task.SystemTodoist, []*task.Task{f.todoist.Get(todoistID)}, "")

	unresolved, _ := f.engine.Conflicts().Unresolved(ctx)
	if len(unresolved) != 1 {
		t.Fatalf("expected 1 stored conflict, got %d", len(unresolved))
	}

	resolution, err := f.engine.ResolveStoredConflict(ctx, unresolved[0].ID, conflict.StrategyThingsWins)
	if err != nil {
		t.Fatalf("ResolveStoredConflict failed: %v", err)
	}
	if resolution.Task.Title != "Updated B" {
		t.Errorf("resolved title = %q", resolution.Task.Title)
	}

	if got := f.todoist.Get(todoistID); got.Title != "Updated B" {
		t.Errorf("todoist not updated after manual resolution: %q", got.Title)
	}
	remaining, _ := f.engine.Conflicts().Unresolved(ctx)
	if len(remaining) != 0 {
		t.Errorf("conflict still unresolved: %+v", remaining)
	}
}

func TestOneSidedChangePropagates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: true})

	thingsID, _ := f.things.CreateTask(ctx, &task.Task{Title: "Original", Notes: "n"})
	seeded, _ := f.things.ListActiveTasks(ctx, false)
	first, _ := f.engine.SyncBatch(ctx, task.SystemThings, seeded, "")
	todoistID := first.Results[0].MappedID

	// Only Things edits.
	titleB := "Renamed"
	_ = f.things.UpdateTask(ctx, thingsID, adapter.Partial{Title: &titleB})

	result, err := f.engine.SyncBatch(ctx, task.SystemThings, []*task.Task{f.things.Get(thingsID)}, "")
	if err != nil {
		t.Fatalf("propagation sync failed: %v", err)
	}
	if result.ConflictsDetected != 0 || result.Existing != 1 {
		t.Fatalf("result = %+v, want plain propagation", result)
	}

	got := f.todoist.Get(todoistID)
	if got.Title != "Renamed" {
		t.Errorf("todoist title = %q, want propagated rename", got.Title)
	}
	// The mirror keeps its synced tag through updates.
	if len(got.Tags) == 0 || got.Tags[len(got.Tags)-1] != adapter.SyncedTag {
		t.Errorf("synced tag lost on propagation: %v", got.Tags)
	}
}

func TestLockContentionFailsFast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: true})

	held, err := f.lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("setup lock failed: %v", err)
	}
	defer func() { _ = f.lock.Release(ctx, held) }()

	_, err = f.engine.SyncBatch(ctx, task.SystemThings, []*task.Task{{ID: "b1", Title: "Blocked"}}, "")
	if !errors.Is(err, synclock.ErrSyncInProgress) {
		t.Errorf("expected ErrSyncInProgress, got %v", err)
	}
}

func TestLockReleasedAfterRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: true})

	if _, err := f.engine.SyncBatch(ctx, task.SystemThings, []*task.Task{{ID: "b1", Title: "Quick"}}, ""); err != nil {
		t.Fatalf("SyncBatch failed: %v", err)
	}

	held, err := f.lock.Holder(ctx)
	if err != nil || held {
		t.Errorf("lock should be free after the run, held=%v err=%v", held, err)
	}
}

func TestPerTaskErrorsDoNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: true})

	batch := []*task.Task{
		{ID: "b1", Title: ""},
		{ID: "b2", Title: "Fine"},
	}
	result, err := f.engine.SyncBatch(ctx, task.SystemThings, batch, "")
	if err != nil {
		t.Fatalf("batch should not fail wholesale: %v", err)
	}
	if result.Errors != 1 || result.Created != 1 {
		t.Errorf("result = %+v, want errors=1 created=1", result)
	}
	if result.Results[0].Status != StatusError || result.Results[0].Error == "" {
		t.Errorf("invalid task result = %+v", result.Results[0])
	}
	if result.Results[1].Status != StatusCreated {
		t.Errorf("valid task result = %+v", result.Results[1])
	}
}

func TestDestinationFailureIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: true})

	f.todoist.FailNext = errors.New("api down")
	batch := []*task.Task{
		{ID: "b1", Title: "Will fail"},
		{ID: "b2", Title: "Will succeed"},
	}
	result, err := f.engine.SyncBatch(ctx, task.SystemThings, batch, "")
	if err != nil {
		t.Fatalf("batch should not fail wholesale: %v", err)
	}
	if result.Errors != 1 || result.Created != 1 {
		t.Errorf("result = %+v, want errors=1 created=1", result)
	}
}

func TestIdempotentRequestReplaysResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: true})

	b1 := &task.Task{ID: "b1", Title: "Buy milk"}
	first, err := f.engine.SyncBatch(ctx, task.SystemThings, []*task.Task{b1}, "req-1")
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if first.Created != 1 {
		t.Fatalf("first = %+v", first)
	}

	second, err := f.engine.SyncBatch(ctx, task.SystemThings, []*task.Task{b1}, "req-1")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	// The retry replays the recorded result rather than re-matching.
	if second.Created != 1 || second.Total != 1 {
		t.Errorf("replayed result = %+v, want the original summary", second)
	}

	created, _ := f.todoist.ListActiveTasks(ctx, false)
	if len(created) != 1 {
		t.Errorf("retry re-executed side effects: %d tasks", len(created))
	}
}

func TestIdempotencyScopedPerDirection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: true})

	a1 := &task.Task{ID: "a1", Title: "From todoist"}
	first, err := f.engine.SyncBatch(ctx, task.SystemTodoist, []*task.Task{a1}, "hook-42")
	if err != nil {
		t.Fatalf("todoist direction failed: %v", err)
	}
	if first.Created != 1 {
		t.Fatalf("todoist direction = %+v", first)
	}

	// Same request ID, other direction: this is a distinct operation and
	// must execute, not replay the first direction's record.
	b1 := &task.Task{ID: "b1", Title: "From things"}
	second, err := f.engine.SyncBatch(ctx, task.SystemThings, []*task.Task{b1}, "hook-42")
	if err != nil {
		t.Fatalf("things direction failed: %v", err)
	}
	if second.Created != 1 {
		t.Errorf("things direction = %+v, want created=1", second)
	}

	mirrored, _ := f.todoist.ListActiveTasks(ctx, false)
	if len(mirrored) != 1 || mirrored[0].Title != "From things" {
		t.Errorf("things task never mirrored into todoist: %+v", mirrored)
	}

	// A retry of the same direction still replays.
	retry, err := f.engine.SyncBatch(ctx, task.SystemThings, []*task.Task{b1}, "hook-42")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retry.Created != 1 {
		t.Errorf("retry = %+v, want the recorded summary", retry)
	}
	if again, _ := f.todoist.ListActiveTasks(ctx, false); len(again) != 1 {
		t.Errorf("retry re-executed side effects: %d tasks", len(again))
	}
}

func TestFormattingOnlyDestinationDueIsNotAConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: true})

	thingsID, _ := f.things.CreateTask(ctx, &task.Task{Title: "Dentist", Due: "2026-09-01"})
	seeded, _ := f.things.ListActiveTasks(ctx, false)
	first, err := f.engine.SyncBatch(ctx, task.SystemThings, seeded, "")
	if err != nil || first.Created != 1 {
		t.Fatalf("seed sync failed: %+v err=%v", first, err)
	}
	todoistID := first.Results[0].MappedID

	// The destination rewrites the same date in timestamp form; only the
	// source actually edits content.
	verbose := "2026-09-01T00:00:00Z"
	_ = f.todoist.UpdateTask(ctx, todoistID, adapter.Partial{Due: &verbose})
	renamed := "Dentist (moved)"
	_ = f.things.UpdateTask(ctx, thingsID, adapter.Partial{Title: &renamed})

	result, err := f.engine.SyncBatch(ctx, task.SystemThings, []*task.Task{f.things.Get(thingsID)}, "")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.ConflictsDetected != 0 || result.Existing != 1 {
		t.Fatalf("result = %+v, want one-sided propagation", result)
	}
	if got := f.todoist.Get(todoistID); got.Title != "Dentist (moved)" {
		t.Errorf("rename not propagated: %q", got.Title)
	}
}

func TestFilteringSkips(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{
		AutoResolveConflicts: true,
		ExcludedTags:         []string{"private"},
		ExcludedProjects:     []string{"Someday"},
	})

	batch := []*task.Task{
		{ID: "b1", Title: "Secret", Tags: []string{"private"}},
		{ID: "b2", Title: "Parked", Project: "Someday"},
		{ID: "b3", Title: "Normal"},
	}
	result, err := f.engine.SyncBatch(ctx, task.SystemThings, batch, "")
	if err != nil {
		t.Fatalf("SyncBatch failed: %v", err)
	}
	if result.Skipped != 2 || result.Created != 1 {
		t.Errorf("result = %+v, want skipped=2 created=1", result)
	}
}

func TestCurrentStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Settings{AutoResolveConflicts: true})

	_, _ = f.engine.SyncBatch(ctx, task.SystemThings, []*task.Task{{ID: "b1", Title: "One"}}, "")

	status, err := f.engine.CurrentStatus(ctx)
	if err != nil {
		t.Fatalf("CurrentStatus failed: %v", err)
	}
	if status.Mappings != 1 || status.UnresolvedConflicts != 0 || status.SyncInProgress {
		t.Errorf("status = %+v", status)
	}
}
