package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modoterra/logrelay/pkg/core"
	"github.com/modoterra/logrelay/pkg/transport"
	"github.com/modoterra/logrelay/pkg/transport/uds"
)

// DeadLetterFunc lists the newest dead-lettered records.
type DeadLetterFunc func(ctx context.Context, limit int) ([]transport.DeadRecord, error)

// Daemon serves the control socket for a running distributor and pushes
// relayed entries and diagnostics to connected clients.
type Daemon struct {
	server      *uds.Server
	dist        *Distributor
	version     string
	deadLetters DeadLetterFunc
	logger      *slog.Logger
}

// New creates a daemon for dist listening on socketPath.
func New(socketPath string, dist *Distributor, version string, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{
		server:  uds.NewServer(socketPath, logger),
		dist:    dist,
		version: version,
		logger:  logger,
	}
	d.registerHandlers()
	return d
}

// SetDeadLetters enables the DeadLetters method.
func (d *Daemon) SetDeadLetters(fn DeadLetterFunc) {
	d.deadLetters = fn
}

// Run serves the control socket and broadcasts events until the context
// is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	entries := d.dist.entries.subscribe()
	diags := d.dist.diagnostics.subscribe()
	defer d.dist.entries.unsubscribe(entries)
	defer d.dist.diagnostics.unsubscribe(diags)

	go d.broadcast(ctx, entries, diags)
	return d.server.Start(ctx)
}

// Shutdown cleans up resources.
func (d *Daemon) Shutdown() {
	d.server.Shutdown()
}

func (d *Daemon) broadcast(ctx context.Context, entries <-chan core.LogEntry, diags <-chan Diagnostic) {
	for {
		var (
			method string
			data   any
		)
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			method, data = uds.EventEntryRelayed, e
		case diag, ok := <-diags:
			if !ok {
				return
			}
			method, data = uds.EventDiagnostic, diag
		}

		if d.server.Clients() == 0 {
			continue
		}
		evt, err := uds.NewEvent(method, data)
		if err != nil {
			d.logger.Error("encode event", "method", method, "err", err)
			continue
		}
		d.server.Broadcast(evt)
	}
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.MethodPing, d.handlePing)
	d.server.Handle(uds.MethodStatus, d.handleStatus)
	d.server.Handle(uds.MethodRecent, d.handleRecent)
	d.server.Handle(uds.MethodDeadLetters, d.handleDeadLetters)
}

func (d *Daemon) handlePing(_ context.Context, _ uds.Message) (any, error) {
	return uds.PingResponse{Pong: true, Version: d.version}, nil
}

func (d *Daemon) handleStatus(_ context.Context, _ uds.Message) (any, error) {
	return d.dist.Status(), nil
}

func (d *Daemon) handleRecent(_ context.Context, msg uds.Message) (any, error) {
	req := uds.RecentRequest{Limit: recentEntries}
	if len(msg.Data) > 0 {
		if err := msg.UnmarshalData(&req); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
	}
	entries := d.dist.RecentEntries()
	if req.Limit > 0 && len(entries) > req.Limit {
		entries = entries[len(entries)-req.Limit:]
	}
	return entries, nil
}

func (d *Daemon) handleDeadLetters(ctx context.Context, msg uds.Message) (any, error) {
	if d.deadLetters == nil {
		return nil, fmt.Errorf("dead-lettering is not enabled")
	}
	req := uds.DeadLettersRequest{Limit: 20}
	if len(msg.Data) > 0 {
		if err := msg.UnmarshalData(&req); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
	}
	records, err := d.deadLetters(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []transport.DeadRecord{}
	}
	return records, nil
}
