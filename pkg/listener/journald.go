package listener

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"

	"github.com/modoterra/logrelay/pkg/core"
)

// ErrJournalUnavailable is returned when no journald socket is reachable.
var ErrJournalUnavailable = errors.New("journald is not available")

// reservedFields are set by journal.Send itself.
var reservedFields = map[string]bool{
	"MESSAGE":           true,
	"PRIORITY":          true,
	"SYSLOG_IDENTIFIER": true,
}

type sendFunc func(message string, priority journal.Priority, vars map[string]string) error

// Journald forwards entries to the systemd journal. Extended properties
// become journal fields named after the property, upper-cased with every
// character outside [A-Z0-9_] replaced by '_'. Properties that map onto
// MESSAGE, PRIORITY, SYSLOG_IDENTIFIER or a LOGRELAY_ field are dropped.
type Journald struct {
	name       string
	identifier string
	send       sendFunc
}

// NewJournald creates a journald listener. identifier becomes the entries'
// SYSLOG_IDENTIFIER.
func NewJournald(name, identifier string) (*Journald, error) {
	if !journal.Enabled() {
		return nil, ErrJournalUnavailable
	}
	if identifier == "" {
		identifier = "logrelay"
	}
	return &Journald{name: name, identifier: identifier, send: journal.Send}, nil
}

func (j *Journald) Name() string { return j.name }

func (j *Journald) Deliver(_ context.Context, e *core.LogEntry) error {
	vars := map[string]string{
		"SYSLOG_IDENTIFIER": j.identifier,
	}
	if e.ID != "" {
		vars["LOGRELAY_ENTRY_ID"] = e.ID
	}
	if len(e.Categories) > 0 {
		vars["LOGRELAY_CATEGORIES"] = strings.Join(e.Categories, ",")
	}
	if e.Title != "" {
		vars["LOGRELAY_TITLE"] = e.Title
	}
	for k, v := range e.Properties {
		field := FieldName(k)
		if field == "" || reservedFields[field] || strings.HasPrefix(field, "LOGRELAY_") {
			continue
		}
		vars[field] = fmt.Sprint(v)
	}

	if err := j.send(e.Message, priority(e.Severity), vars); err != nil {
		return fmt.Errorf("journal send: %w", err)
	}
	return nil
}

// FieldName converts a property name into a valid journal field name.
// Journal fields may not start with '_' or a digit.
func FieldName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	field := strings.TrimLeft(b.String(), "_0123456789")
	if len(field) > 64 {
		field = field[:64]
	}
	return field
}

func priority(s core.Severity) journal.Priority {
	switch s {
	case core.SeverityCritical:
		return journal.PriCrit
	case core.SeverityError:
		return journal.PriErr
	case core.SeverityWarning:
		return journal.PriWarning
	case core.SeverityDebug:
		return journal.PriDebug
	default:
		return journal.PriInfo
	}
}
