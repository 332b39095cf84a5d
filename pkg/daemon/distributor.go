package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modoterra/logrelay/pkg/config"
	"github.com/modoterra/logrelay/pkg/core"
	"github.com/modoterra/logrelay/pkg/enrich"
	"github.com/modoterra/logrelay/pkg/metrics"
	"github.com/modoterra/logrelay/pkg/transport"
)

// Decoder turns a queued payload into a log entry.
type Decoder interface {
	Decode(payload []byte) (*core.LogEntry, error)
}

// Options configures a Distributor. Decoder and Listeners are required;
// everything else has a default.
type Options struct {
	Decoder   Decoder
	Listeners []core.Listener
	// Registry, when set, enriches entries at relay time.
	Registry *enrich.Registry
	// Reporter receives per-message diagnostics. Defaults to LogReporter.
	Reporter Reporter
	Metrics  *metrics.Metrics
	// Redelivery.MaxAttempts == 0 acknowledges every message after one
	// dispatch attempt.
	Redelivery config.Redelivery
	// ReceiveTimeout bounds each TryReceive during a drain.
	ReceiveTimeout time.Duration
	// MaxPerTick caps messages per tick; 0 drains until empty.
	MaxPerTick int
	Logger     *slog.Logger
}

// Distributor states.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopped  = "stopped"
)

const (
	defaultReceiveTimeout = 100 * time.Millisecond
	recentDiagnostics     = 50
	recentEntries         = 200
)

// Distributor drains a queue transport on a fixed interval and forwards
// every decoded entry to its listeners.
type Distributor struct {
	settings       config.Settings
	open           transport.OpenFunc
	decoder        Decoder
	registry       *enrich.Registry
	listeners      []core.Listener
	reporter       Reporter
	metrics        *metrics.Metrics
	redelivery     config.Redelivery
	receiveTimeout time.Duration
	maxPerTick     int
	logger         *slog.Logger

	// Owned by the Run goroutine.
	attempts map[string]int
	failures int
	skip     int

	state     atomic.Value
	startedAt atomic.Int64
	lastTick  atomic.Int64
	counters  counters
	ready     chan struct{}
	readyOnce sync.Once

	diagnostics *ring[Diagnostic]
	entries     *ring[core.LogEntry]
}

type counters struct {
	ticks            atomic.Uint64
	received         atomic.Uint64
	delivered        atomic.Uint64
	malformed        atomic.Uint64
	listenerFailures atomic.Uint64
	transportErrors  atomic.Uint64
	acked            atomic.Uint64
	requeued         atomic.Uint64
	deadLettered     atomic.Uint64
}

// NewDistributor creates a distributor for the queue named in settings.
func NewDistributor(settings config.Settings, open transport.OpenFunc, opts Options) *Distributor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = LogReporter{Logger: logger}
	}
	timeout := opts.ReceiveTimeout
	if timeout <= 0 {
		timeout = defaultReceiveTimeout
	}

	d := &Distributor{
		settings:       settings,
		open:           open,
		decoder:        opts.Decoder,
		registry:       opts.Registry,
		listeners:      append([]core.Listener(nil), opts.Listeners...),
		reporter:       reporter,
		metrics:        opts.Metrics,
		redelivery:     opts.Redelivery,
		receiveTimeout: timeout,
		maxPerTick:     opts.MaxPerTick,
		logger:         logger,
		attempts:       make(map[string]int),
		ready:          make(chan struct{}),
		diagnostics:    newRing[Diagnostic](recentDiagnostics),
		entries:        newRing[core.LogEntry](recentEntries),
	}
	d.state.Store(StateStarting)
	return d
}

// Ready is closed once the transport has been opened.
func (d *Distributor) Ready() <-chan struct{} { return d.ready }

// Run opens the transport and drains it every poll interval until ctx is
// cancelled. Failing to open the transport is fatal and returned; every
// later failure is reported and the loop carries on. The receiver is
// closed on every exit path.
func (d *Distributor) Run(ctx context.Context) error {
	path := d.settings.TransportPath()
	rx, err := d.open(ctx, path)
	if err != nil {
		d.state.Store(StateStopped)
		return fmt.Errorf("open transport %s: %w", path, err)
	}
	defer func() {
		if err := rx.Close(); err != nil {
			d.logger.Error("close transport", "err", err)
		}
		d.state.Store(StateStopped)
	}()

	d.startedAt.Store(time.Now().UnixMilli())
	d.state.Store(StateRunning)
	d.readyOnce.Do(func() { close(d.ready) })
	d.logger.Info("distributor started",
		"service", d.settings.ServiceName(),
		"transport", path,
		"interval", d.settings.PollInterval(),
		"listeners", len(d.listeners),
	)

	ticker := time.NewTicker(d.settings.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("distributor stopping", "service", d.settings.ServiceName())
			return nil
		case <-ticker.C:
			d.tick(ctx, rx)
		}
	}
}

// tick drains the transport until it is empty, the per-tick cap is hit,
// a message is requeued, or the context is cancelled. Cancellation is
// checked between messages only.
func (d *Distributor) tick(ctx context.Context, rx transport.Receiver) {
	d.counters.ticks.Add(1)
	d.lastTick.Store(time.Now().UnixMilli())

	if d.skip > 0 {
		d.skip--
		return
	}

	start := time.Now()
	defer func() { d.metrics.ObserveTick(time.Since(start)) }()

	for n := 0; d.maxPerTick == 0 || n < d.maxPerTick; n++ {
		if ctx.Err() != nil {
			return
		}

		msg, err := rx.TryReceive(ctx, d.receiveTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.transportFailed("receive", err)
			return
		}
		if msg == nil {
			return
		}
		d.failures = 0

		if !d.process(ctx, rx, msg) {
			return
		}
	}
}

// process handles one message to completion and reports whether the drain
// should continue.
func (d *Distributor) process(ctx context.Context, rx transport.Receiver, msg *transport.Message) bool {
	// A message that has been received is finished even if shutdown starts.
	ctx = context.WithoutCancel(ctx)

	d.counters.received.Add(1)
	d.metrics.Received()

	entry, err := d.decoder.Decode(msg.Payload)
	if err != nil {
		d.counters.malformed.Add(1)
		d.metrics.Malformed()
		d.report(&DeserializationError{MessageID: msg.ID, Err: err})
		return d.settlePoison(ctx, rx, msg, "deserialization failed: "+err.Error())
	}

	d.registry.EnrichEntry(ctx, entry)
	delivered := d.dispatch(ctx, entry)
	d.entries.write(*entry)

	if delivered == 0 && len(d.listeners) > 0 && d.redelivery.MaxAttempts > 0 {
		d.attempts[msg.ID]++
		if n := d.attempts[msg.ID]; n < d.redelivery.MaxAttempts {
			if err := rx.Requeue(ctx, msg); err != nil {
				d.transportFailed("requeue", err)
				return false
			}
			d.counters.requeued.Add(1)
			d.metrics.Requeued()
			d.logger.Debug("message requeued", "message", msg.ID, "attempt", n)
			return false
		}
		delete(d.attempts, msg.ID)
		return d.settlePoison(ctx, rx, msg, fmt.Sprintf("no listener accepted the entry after %d attempts", d.redelivery.MaxAttempts))
	}

	delete(d.attempts, msg.ID)
	return d.ack(ctx, rx, msg)
}

// dispatch delivers entry to every listener and returns how many accepted
// it. A failing or panicking listener does not stop the others.
func (d *Distributor) dispatch(ctx context.Context, entry *core.LogEntry) int {
	ok := 0
	for _, l := range d.listeners {
		if err := deliver(ctx, l, entry); err != nil {
			d.counters.listenerFailures.Add(1)
			d.metrics.ListenerFailed(l.Name())
			d.report(&ListenerDeliveryError{Listener: l.Name(), EntryID: entry.ID, Err: err})
			continue
		}
		ok++
		d.counters.delivered.Add(1)
		d.metrics.Delivered(l.Name())
	}
	return ok
}

func deliver(ctx context.Context, l core.Listener, entry *core.LogEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l.Deliver(ctx, entry)
}

func (d *Distributor) ack(ctx context.Context, rx transport.Receiver, msg *transport.Message) bool {
	if err := rx.Ack(ctx, msg); err != nil {
		d.transportFailed("ack", err)
		return false
	}
	d.counters.acked.Add(1)
	return true
}

// settlePoison removes a message that will never be delivered, keeping a
// copy in dead-letter storage when configured.
func (d *Distributor) settlePoison(ctx context.Context, rx transport.Receiver, msg *transport.Message, reason string) bool {
	if !d.redelivery.DeadLetter {
		return d.ack(ctx, rx, msg)
	}
	if err := rx.DeadLetter(ctx, msg, reason); err != nil {
		d.transportFailed("dead-letter", err)
		return false
	}
	d.counters.deadLettered.Add(1)
	d.metrics.DeadLettered()
	return true
}

// transportFailed reports a transport error and backs off: consecutive
// failures skip 0, 1, 3, 7, ... ticks, capped at 29.
func (d *Distributor) transportFailed(op string, err error) {
	d.failures++
	d.skip = backoffTicks(d.failures) - 1
	d.counters.transportErrors.Add(1)
	d.metrics.TransportFailed(op)
	d.report(&TransportError{Op: op, Err: err})
}

func (d *Distributor) report(err error) {
	d.diagnostics.write(Diagnostic{
		TsUnixMs: time.Now().UnixMilli(),
		Kind:     diagnosticKind(err),
		Message:  err.Error(),
	})
	d.reporter.Report(err)
}

// backoffTicks doubles per consecutive failure, capped at 30.
func backoffTicks(failures int) int {
	if failures < 1 {
		return 1
	}
	if failures > 5 {
		return 30
	}
	return min(1<<uint(failures-1), 30)
}

// Status is a point-in-time view of the distributor.
type Status struct {
	ServiceName      string       `json:"service_name"`
	Transport        string       `json:"transport"`
	State            string       `json:"state"`
	PollIntervalMs   int          `json:"poll_interval_ms"`
	StartedAtUnixMs  int64        `json:"started_at_unix_ms,omitempty"`
	LastTickUnixMs   int64        `json:"last_tick_unix_ms,omitempty"`
	Ticks            uint64       `json:"ticks"`
	Received         uint64       `json:"received"`
	Delivered        uint64       `json:"delivered"`
	Malformed        uint64       `json:"malformed"`
	ListenerFailures uint64       `json:"listener_failures"`
	TransportErrors  uint64       `json:"transport_errors"`
	Acked            uint64       `json:"acked"`
	Requeued         uint64       `json:"requeued"`
	DeadLettered     uint64       `json:"dead_lettered"`
	Listeners        []string     `json:"listeners"`
	Providers        int          `json:"providers"`
	Recent           []Diagnostic `json:"recent,omitempty"`
}

// Status returns a snapshot of counters and recent diagnostics. Safe to
// call from any goroutine.
func (d *Distributor) Status() Status {
	names := make([]string, len(d.listeners))
	for i, l := range d.listeners {
		names[i] = l.Name()
	}
	return Status{
		ServiceName:      d.settings.ServiceName(),
		Transport:        d.settings.TransportPath(),
		State:            d.state.Load().(string),
		PollIntervalMs:   d.settings.PollIntervalMs(),
		StartedAtUnixMs:  d.startedAt.Load(),
		LastTickUnixMs:   d.lastTick.Load(),
		Ticks:            d.counters.ticks.Load(),
		Received:         d.counters.received.Load(),
		Delivered:        d.counters.delivered.Load(),
		Malformed:        d.counters.malformed.Load(),
		ListenerFailures: d.counters.listenerFailures.Load(),
		TransportErrors:  d.counters.transportErrors.Load(),
		Acked:            d.counters.acked.Load(),
		Requeued:         d.counters.requeued.Load(),
		DeadLettered:     d.counters.deadLettered.Load(),
		Listeners:        names,
		Providers:        d.registry.Len(),
		Recent:           d.diagnostics.snapshot(),
	}
}

// Healthy returns an error unless the distributor is running.
func (d *Distributor) Healthy() error {
	if s := d.state.Load().(string); s != StateRunning {
		return fmt.Errorf("distributor %s", s)
	}
	return nil
}

// RecentEntries returns the last relayed entries, oldest first.
func (d *Distributor) RecentEntries() []core.LogEntry {
	return d.entries.snapshot()
}
