package listener

import (
	"context"

	"github.com/modoterra/logrelay/pkg/core"
)

// Filtered passes to its inner listener only entries at or above a
// minimum severity and, when categories are set, tagged with at least one
// of them. Dropped entries are not failures.
type Filtered struct {
	core.Listener
	min        core.Severity
	categories []string
}

// NewFiltered wraps l. An empty minSeverity admits every severity.
func NewFiltered(l core.Listener, minSeverity core.Severity, categories []string) *Filtered {
	if minSeverity == "" {
		minSeverity = core.SeverityDebug
	}
	return &Filtered{Listener: l, min: minSeverity, categories: categories}
}

// Accepts reports whether e passes the filter.
func (f *Filtered) Accepts(e *core.LogEntry) bool {
	if e.Severity.Rank() < f.min.Rank() {
		return false
	}
	if len(f.categories) == 0 {
		return true
	}
	for _, c := range f.categories {
		if e.HasCategory(c) {
			return true
		}
	}
	return false
}

func (f *Filtered) Deliver(ctx context.Context, e *core.LogEntry) error {
	if !f.Accepts(e) {
		return nil
	}
	return f.Listener.Deliver(ctx, e)
}

// Unwrap returns the inner listener.
func (f *Filtered) Unwrap() core.Listener { return f.Listener }
