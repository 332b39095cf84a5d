package core

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the importance of a log entry.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
	SeverityDebug    Severity = "debug"
)

// ParseSeverity maps a severity name (case-insensitive) to a Severity.
// Common aliases such as "warn", "information" and "verbose" are accepted.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "fatal", "crit":
		return SeverityCritical, nil
	case "error", "err":
		return SeverityError, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "info", "information", "":
		return SeverityInfo, nil
	case "debug", "verbose", "trace":
		return SeverityDebug, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// Rank orders severities from debug (0) to critical (4). Unknown values
// rank with info.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityError:
		return 3
	case SeverityWarning:
		return 2
	case SeverityDebug:
		return 0
	default:
		return 1
	}
}

// LogEntry is a single structured log record travelling from a producer,
// through a queue transport, to the distributor's listeners.
type LogEntry struct {
	ID         string         `json:"id"                   cbor:"id"`
	TsUnixNs   int64          `json:"ts_unix_ns"           cbor:"ts_unix_ns"`
	Severity   Severity       `json:"severity"             cbor:"severity"`
	Categories []string       `json:"categories,omitempty" cbor:"categories,omitempty"`
	Title      string         `json:"title,omitempty"      cbor:"title,omitempty"`
	Message    string         `json:"message"              cbor:"message"`
	Properties map[string]any `json:"properties,omitempty" cbor:"properties,omitempty"`
}

// NewEntry creates an entry stamped with the current time.
func NewEntry(severity Severity, message string, categories ...string) *LogEntry {
	return &LogEntry{
		TsUnixNs:   time.Now().UnixNano(),
		Severity:   severity,
		Categories: categories,
		Message:    message,
		Properties: make(map[string]any),
	}
}

// Time returns the entry timestamp.
func (e *LogEntry) Time() time.Time {
	return time.Unix(0, e.TsUnixNs)
}

// Set stores an extended property, allocating the map on first use.
func (e *LogEntry) Set(name string, value any) {
	if e.Properties == nil {
		e.Properties = make(map[string]any)
	}
	e.Properties[name] = value
}

// Property returns the named extended property.
func (e *LogEntry) Property(name string) (any, bool) {
	v, ok := e.Properties[name]
	return v, ok
}

// HasCategory reports whether the entry is tagged with the category.
func (e *LogEntry) HasCategory(category string) bool {
	for _, c := range e.Categories {
		if c == category {
			return true
		}
	}
	return false
}
