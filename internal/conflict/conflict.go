// Package conflict detects and resolves edit conflicts between linked
// Todoist and Things tasks.
//
// A conflict exists only when BOTH sides diverged from the last-synced
// snapshot stored on the mapping. One-sided changes are normal updates
// and are propagated by the engine without involving this package.
// Detection compares exact strings, not fuzzy similarity: it compares
// against a known prior-synced value, not a match candidate.
package conflict

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/mapping"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/task"
)

// ErrManualResolutionRequired is returned by Resolve when the manual
// strategy is selected. Callers must catch this specifically and store
// the conflict for human decision instead of treating it as a failure.
var ErrManualResolutionRequired = errors.New("manual resolution required")

// Strategy selects how a detected conflict is resolved.
type Strategy string

const (
	// StrategyTodoistWins takes Todoist's version verbatim.
	StrategyTodoistWins Strategy = "todoist_wins"
	// StrategyThingsWins takes Things' version verbatim.
	StrategyThingsWins Strategy = "things_wins"
	// StrategyNewestWins compares modification timestamps. A missing
	// timestamp counts as epoch zero. Ties go to Things, arbitrary
	// but deterministic.
	StrategyNewestWins Strategy = "newest_wins"
	// StrategyMerge resolves each field independently; see Resolve.
	StrategyMerge Strategy = "merge"
	// StrategyManual refuses to pick a side; Resolve fails with
	// ErrManualResolutionRequired so the caller stores the conflict.
	StrategyManual Strategy = "manual"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyTodoistWins, StrategyThingsWins, StrategyNewestWins, StrategyMerge, StrategyManual:
		return true
	}
	return false
}

// Version is one side's live task content at conflict time.
type Version struct {
	task.Content
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
}

// Conflict records a detected both-sides-diverged state. Once created
// it is never edited except to mark it resolved.
type Conflict struct {
	ID             string        `json:"id"`
	TodoistID      string        `json:"todoist_id"`
	ThingsID       string        `json:"things_id"`
	DetectedAt     time.Time     `json:"detected_at"`
	TodoistVersion Version       `json:"todoist_version"`
	ThingsVersion  Version       `json:"things_version"`
	LastSynced     *task.Content `json:"last_synced,omitempty"`
	Suggested      Strategy      `json:"suggested_resolution,omitempty"`
	Resolved       bool          `json:"resolved"`
}

// Resolution is the outcome of resolving a conflict.
type Resolution struct {
	Task    task.Content
	Applied Strategy
}

// Detect compares both live versions against the mapping's last-synced
// snapshot. Returns nil when no snapshot exists (first sync, nothing to
// compare against) or when at most one side changed.
func Detect(todoist, things *task.Task, m *mapping.Mapping) *Conflict {
	if m == nil || m.LastSyncedContent == nil {
		return nil
	}

	base := *m.LastSyncedContent
	changedTodoist := !task.ContentOf(todoist).Equal(base)
	changedThings := !task.ContentOf(things).Equal(base)

	if !changedTodoist || !changedThings {
		return nil
	}

	return &Conflict{
		ID:         uuid.NewString(),
		TodoistID:  todoist.ID,
		ThingsID:   things.ID,
		DetectedAt: time.Now(),
		TodoistVersion: Version{
			Content:    task.ContentOf(todoist),
			ModifiedAt: todoist.ModifiedAt,
		},
		ThingsVersion: Version{
			Content:    task.ContentOf(things),
			ModifiedAt: things.ModifiedAt,
		},
		LastSynced: &base,
	}
}

// Suggest picks a resolution strategy for the conflict:
//
//  1. If both sides carry modification timestamps more than a minute
//     apart, newest_wins is safe and unsurprising.
//  2. If the two sides changed disjoint fields, merge keeps both edits.
//  3. Otherwise fall back to the configured default.
func Suggest(c *Conflict, fallback Strategy) Strategy {
	if c.TodoistVersion.ModifiedAt != nil && c.ThingsVersion.ModifiedAt != nil {
		diff := c.TodoistVersion.ModifiedAt.Sub(*c.ThingsVersion.ModifiedAt)
		if diff < 0 {
			diff = -diff
		}
		if diff > time.Minute {
			return StrategyNewestWins
		}
	}

	if c.LastSynced != nil {
		a := changedFields(c.TodoistVersion.Content, *c.LastSynced)
		b := changedFields(c.ThingsVersion.Content, *c.LastSynced)
		if len(a) > 0 && len(b) > 0 && disjoint(a, b) {
			return StrategyMerge
		}
	}

	return fallback
}

func changedFields(v, base task.Content) []string {
	var fields []string
	if v.Title != base.Title {
		fields = append(fields, "title")
	}
	if v.Notes != base.Notes {
		fields = append(fields, "notes")
	}
	if v.Due != base.Due {
		fields = append(fields, "due")
	}
	return fields
}

func disjoint(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, f := range a {
		set[f] = true
	}
	for _, f := range b {
		if set[f] {
			return false
		}
	}
	return true
}

// Resolve applies a strategy to a conflict and returns the winning
// content. The manual strategy always fails with
// ErrManualResolutionRequired: it is a signal, not a resolution.
func Resolve(c *Conflict, strategy Strategy) (*Resolution, error) {
	switch strategy {
	case StrategyTodoistWins:
		return &Resolution{Task: c.TodoistVersion.Content, Applied: strategy}, nil

	case StrategyThingsWins:
		return &Resolution{Task: c.ThingsVersion.Content, Applied: strategy}, nil

	case StrategyNewestWins:
		todoistAt := timeOrEpoch(c.TodoistVersion.ModifiedAt)
		thingsAt := timeOrEpoch(c.ThingsVersion.ModifiedAt)
		if todoistAt.After(thingsAt) {
			return Resolve(c, StrategyTodoistWins)
		}
		// Tie goes to Things.
		return Resolve(c, StrategyThingsWins)

	case StrategyMerge:
		return &Resolution{Task: merge(c), Applied: StrategyMerge}, nil

	case StrategyManual:
		return nil, ErrManualResolutionRequired

	default:
		return nil, errors.New("unknown conflict strategy: " + string(strategy))
	}
}

func timeOrEpoch(t *time.Time) time.Time {
	if t == nil {
		return time.Unix(0, 0)
	}
	return *t
}

// merge resolves each field independently:
//
//   - title: the side whose title differs from the last-synced title;
//     Todoist's deterministically when both differ. Titles are never
//     concatenated.
//   - notes: concatenated with a "---" divider when both sides changed,
//     otherwise the changed side's notes.
//   - due: the chronologically earlier date when both sides changed.
//   - tags: always the set union of both sides.
func merge(c *Conflict) task.Content {
	var base task.Content
	if c.LastSynced != nil {
		base = *c.LastSynced
	}

	a := c.TodoistVersion.Content
	b := c.ThingsVersion.Content
	out := task.Content{}

	switch {
	case a.Title != base.Title:
		out.Title = a.Title
	case b.Title != base.Title:
		out.Title = b.Title
	default:
		out.Title = base.Title
	}

	aNotes := a.Notes != base.Notes
	bNotes := b.Notes != base.Notes
	switch {
	case aNotes && bNotes:
		out.Notes = a.Notes + "\n---\n" + b.Notes
	case aNotes:
		out.Notes = a.Notes
	case bNotes:
		out.Notes = b.Notes
	default:
		out.Notes = base.Notes
	}

	aDue := a.Due != base.Due
	bDue := b.Due != base.Due
	switch {
	case aDue && bDue:
		out.Due = earlierDue(a.Due, b.Due)
	case aDue:
		out.Due = a.Due
	case bDue:
		out.Due = b.Due
	default:
		out.Due = base.Due
	}

	out.Tags = unionTags(a.Tags, b.Tags)
	return out
}

// earlierDue picks the chronologically earlier of two due strings.
// When either side doesn't parse, the lexically smaller string wins so
// the result stays deterministic.
func earlierDue(a, b string) string {
	ta, okA := task.ParseDue(a)
	tb, okB := task.ParseDue(b)

	if okA && okB {
		if tb.Before(ta) {
			return b
		}
		return a
	}
	if a <= b {
		return a
	}
	return b
}

// unionTags returns the deduplicated union of both tag lists. Order is
// first-seen, which keeps the output stable for a given conflict.
func unionTags(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tags := range [][]string{a, b} {
		for _, tag := range tags {
			if tag != "" && !seen[tag] {
				seen[tag] = true
				out = append(out, tag)
			}
		}
	}
	return out
}
