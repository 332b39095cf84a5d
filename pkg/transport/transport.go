// Package transport defines the queue boundary between log producers and
// the distributor. Backends live in subpackages: redisq (Redis lists) and
// filequeue (an append-only spool file). The uds subpackage is the
// daemon's control socket, not a queue.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrUnavailable means the queue could not be opened or reached.
	ErrUnavailable = errors.New("transport unavailable")

	// ErrIO is a transient failure while receiving or settling a message.
	ErrIO = errors.New("transport error")

	// ErrClosed is returned by operations on a closed receiver or sender.
	ErrClosed = errors.New("transport closed")
)

// Message is one queued payload awaiting settlement.
type Message struct {
	// ID is stable across redeliveries of the same payload.
	ID       string
	Payload  []byte
	Received time.Time
	// Handle is the backend's receive cursor for the message.
	Handle any
}

// Receiver is the consuming end of a queue. Each received message must be
// settled exactly once with Ack, Requeue or DeadLetter.
type Receiver interface {
	// TryReceive waits up to timeout for the next message. It returns
	// (nil, nil) when none arrived in time.
	TryReceive(ctx context.Context, timeout time.Duration) (*Message, error)

	// Ack removes the message from the queue.
	Ack(ctx context.Context, msg *Message) error

	// Requeue returns the message so that it is the next one received.
	Requeue(ctx context.Context, msg *Message) error

	// DeadLetter moves the message to dead-letter storage.
	DeadLetter(ctx context.Context, msg *Message, reason string) error

	// Close releases the queue. It is safe to call more than once.
	Close() error
}

// Sender is the producing end of a queue.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// OpenFunc opens a receiver for a transport path.
type OpenFunc func(ctx context.Context, path string) (Receiver, error)

// State is a receiver's lifecycle state.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateReceiving
	StateIdle
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateReceiving:
		return "receiving"
	case StateIdle:
		return "idle"
	default:
		return "closed"
	}
}

// DeadRecord is the envelope stored for a dead-lettered message.
type DeadRecord struct {
	MessageID string    `json:"message_id"`
	Reason    string    `json:"reason"`
	Payload   []byte    `json:"payload"`
	FailedAt  time.Time `json:"failed_at"`
}

// NewDeadRecord encodes the dead-letter envelope for msg.
func NewDeadRecord(msg *Message, reason string) ([]byte, error) {
	return json.Marshal(DeadRecord{
		MessageID: msg.ID,
		Reason:    reason,
		Payload:   msg.Payload,
		FailedAt:  time.Now().UTC(),
	})
}

// ParseDeadRecord decodes a dead-letter envelope.
func ParseDeadRecord(data []byte) (DeadRecord, error) {
	var r DeadRecord
	err := json.Unmarshal(data, &r)
	return r, err
}
