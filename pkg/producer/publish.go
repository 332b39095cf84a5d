// Package producer puts log entries on a queue transport for a distributor
// to relay.
package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/modoterra/logrelay/pkg/core"
	"github.com/modoterra/logrelay/pkg/enrich"
	"github.com/modoterra/logrelay/pkg/transport"
)

// Encoder serializes entries for the queue.
type Encoder interface {
	Encode(e *core.LogEntry) ([]byte, error)
}

// Publisher stamps, enriches, encodes and sends entries.
type Publisher struct {
	sender   transport.Sender
	encoder  Encoder
	registry *enrich.Registry
}

// NewPublisher creates a publisher. registry may be nil.
func NewPublisher(sender transport.Sender, encoder Encoder, registry *enrich.Registry) *Publisher {
	return &Publisher{sender: sender, encoder: encoder, registry: registry}
}

// Prepare assigns an ID and timestamp when missing and populates the
// registry's properties from ctx. It runs at entry creation time so that
// ambient context is captured where the entry was logged.
func (p *Publisher) Prepare(ctx context.Context, e *core.LogEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.TsUnixNs <= 0 {
		e.TsUnixNs = time.Now().UnixNano()
	}
	if e.Severity == "" {
		e.Severity = core.SeverityInfo
	}
	p.registry.EnrichEntry(ctx, e)
}

// Send encodes e and puts it on the queue.
func (p *Publisher) Send(ctx context.Context, e *core.LogEntry) error {
	payload, err := p.encoder.Encode(e)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", e.ID, err)
	}
	if err := p.sender.Send(ctx, payload); err != nil {
		return fmt.Errorf("send entry %s: %w", e.ID, err)
	}
	return nil
}

// Publish prepares and sends e.
func (p *Publisher) Publish(ctx context.Context, e *core.LogEntry) error {
	p.Prepare(ctx, e)
	return p.Send(ctx, e)
}

// Close closes the underlying sender.
func (p *Publisher) Close() error {
	return p.sender.Close()
}
