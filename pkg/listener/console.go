// Package listener implements the destinations the distributor delivers
// entries to.
package listener

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/modoterra/logrelay/pkg/core"
)

var severityStyles = map[core.Severity]lipgloss.Style{
	core.SeverityCritical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	core.SeverityError:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	core.SeverityWarning:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	core.SeverityInfo:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	core.SeverityDebug:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
}

var dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

// SeverityStyle returns the display style for a severity.
func SeverityStyle(s core.Severity) lipgloss.Style {
	if st, ok := severityStyles[s]; ok {
		return st
	}
	return severityStyles[core.SeverityInfo]
}

// FormatLine renders an entry as a single human-readable line. Properties
// are appended as key=value pairs in key order.
func FormatLine(e *core.LogEntry, color bool) string {
	var b strings.Builder

	ts := e.Time().UTC().Format(time.RFC3339Nano)
	sev := fmt.Sprintf("%-8s", strings.ToUpper(string(e.Severity)))
	if color {
		ts = dimStyle.Render(ts)
		sev = SeverityStyle(e.Severity).Render(sev)
	}
	b.WriteString(ts)
	b.WriteByte(' ')
	b.WriteString(sev)

	if len(e.Categories) > 0 {
		b.WriteString(" [" + strings.Join(e.Categories, ",") + "]")
	}
	if e.Title != "" {
		b.WriteString(" " + e.Title + ":")
	}
	b.WriteString(" " + e.Message)

	keys := make([]string, 0, len(e.Properties))
	for k := range e.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kv := fmt.Sprintf("%s=%q", k, fmt.Sprint(e.Properties[k]))
		if color {
			kv = dimStyle.Render(kv)
		}
		b.WriteString(" " + kv)
	}
	return b.String()
}

// Console writes entries as lines to a writer, typically stdout.
type Console struct {
	name  string
	w     io.Writer
	color bool
	mu    sync.Mutex
}

// NewConsole creates a console listener.
func NewConsole(name string, w io.Writer, color bool) *Console {
	return &Console{name: name, w: w, color: color}
}

func (c *Console) Name() string { return c.name }

func (c *Console) Deliver(_ context.Context, e *core.LogEntry) error {
	line := FormatLine(e, c.color) + "\n"
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.w, line); err != nil {
		return fmt.Errorf("write console: %w", err)
	}
	return nil
}
