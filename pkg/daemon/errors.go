package daemon

import (
	"errors"
	"fmt"
	"log/slog"
)

// DeserializationError reports a queued message that could not be decoded.
type DeserializationError struct {
	MessageID string
	Err       error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("deserialize message %s: %v", e.MessageID, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// ListenerDeliveryError reports a listener that failed to accept an entry.
type ListenerDeliveryError struct {
	Listener string
	EntryID  string
	Err      error
}

func (e *ListenerDeliveryError) Error() string {
	return fmt.Sprintf("deliver entry %s to listener %s: %v", e.EntryID, e.Listener, e.Err)
}

func (e *ListenerDeliveryError) Unwrap() error { return e.Err }

// TransportError reports a transient failure of a transport operation.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Reporter receives the distributor's per-message diagnostics. These are
// kept apart from the relayed log stream.
type Reporter interface {
	Report(err error)
}

// LogReporter writes diagnostics through slog.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(err error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		de *DeserializationError
		le *ListenerDeliveryError
		te *TransportError
	)
	switch {
	case errors.As(err, &de):
		logger.Warn("dropping undecodable message", "message", de.MessageID, "err", de.Err)
	case errors.As(err, &le):
		logger.Warn("listener delivery failed", "listener", le.Listener, "entry", le.EntryID, "err", le.Err)
	case errors.As(err, &te):
		logger.Error("transport error", "op", te.Op, "err", te.Err)
	default:
		logger.Error("distributor error", "err", err)
	}
}

// Diagnostic is a recorded distributor failure.
type Diagnostic struct {
	TsUnixMs int64  `json:"ts_unix_ms"`
	Kind     string `json:"kind"` // deserialization, listener, transport
	Message  string `json:"message"`
}

func diagnosticKind(err error) string {
	var (
		de *DeserializationError
		le *ListenerDeliveryError
		te *TransportError
	)
	switch {
	case errors.As(err, &de):
		return "deserialization"
	case errors.As(err, &le):
		return "listener"
	case errors.As(err, &te):
		return "transport"
	default:
		return "other"
	}
}
