// Package enrich gathers diagnostic properties from ambient execution
// context and attaches them to log entries.
//
// Ambient state is unreliable: a transaction may not be in scope, a system
// bus may be unreachable, a lookup may panic. Every value therefore flows
// through SafeValue, which turns any failure into a descriptive string so
// that one bad property never loses the entry or its other properties.
package enrich

import (
	"context"
	"fmt"
	"strings"
)

// DefaultErrorTemplate formats the value recorded for a property whose
// accessor failed. The %s verb receives the failure text.
const DefaultErrorTemplate = "error reading extended property: %s"

// Accessor reads a single value from ambient context.
type Accessor func(ctx context.Context) (string, error)

// SafeValue invokes get and returns its value. A returned error or a panic
// is converted to FormatError(template, failure text); SafeValue itself
// never panics.
func SafeValue(ctx context.Context, template string, get Accessor) (value string) {
	defer func() {
		if r := recover(); r != nil {
			value = FormatError(template, fmt.Sprint(r))
		}
	}()

	v, err := get(ctx)
	if err != nil {
		return FormatError(template, err.Error())
	}
	return v
}

// FormatError renders msg into template. An empty template falls back to
// DefaultErrorTemplate; a template without %s gets ": %s" appended.
func FormatError(template, msg string) string {
	if template == "" {
		template = DefaultErrorTemplate
	}
	if !strings.Contains(template, "%s") {
		template += ": %s"
	}
	return strings.Replace(template, "%s", msg, 1)
}
