package core

import "context"

// InfoProvider contributes diagnostic properties to a log entry.
type InfoProvider interface {
	// Name returns the provider's identifier (e.g., "transaction", "machine").
	Name() string

	// PopulateDictionary writes every property the provider knows about into
	// dict. It must not fail: a property whose value cannot be read is
	// written as a descriptive error string instead.
	PopulateDictionary(ctx context.Context, dict map[string]any)
}

// Listener is a destination for distributed log entries.
type Listener interface {
	// Name returns the listener's configured name.
	Name() string

	// Deliver hands one entry to the listener.
	Deliver(ctx context.Context, entry *LogEntry) error
}
