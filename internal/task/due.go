package task

import (
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// DueLayout is the normalized on-the-wire form for due dates. Both
// adapters deliver dates in several shapes (ISO timestamps, bare dates,
// natural language from quick-entry fields); the engine compares due
// dates as exact strings, so everything is folded to this layout first.
const DueLayout = "2006-01-02"

var dueParser = newDueParser()

func newDueParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// dueLayouts are tried in order before falling back to natural language.
var dueLayouts = []string{
	DueLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"01/02/2006",
}

// NormalizeDue folds a due-date string into DueLayout. Strings that
// parse under no known layout are run through a natural-language parser
// ("tomorrow", "next friday"), relative to now. If nothing matches, the
// trimmed original is returned unchanged so that exact-string comparison
// still behaves deterministically.
func NormalizeDue(raw string, now time.Time) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	for _, layout := range dueLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DueLayout)
		}
	}

	if r, err := dueParser.Parse(s, now); err == nil && r != nil {
		return r.Time.Format(DueLayout)
	}

	return s
}

// ParseDue parses a normalized due string back into a time. Returns the
// zero time and false when the string is empty or not in DueLayout.
func ParseDue(due string) (time.Time, bool) {
	if due == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DueLayout, due)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
