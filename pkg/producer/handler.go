package producer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modoterra/logrelay/pkg/core"
)

// LevelCritical is the slog level mapped to the critical severity.
const LevelCritical = slog.LevelError + 4

const (
	defaultQueueSize   = 10000
	defaultSendTimeout = 5 * time.Second
)

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	// Level is the minimum level handled. Defaults to slog.LevelInfo.
	Level slog.Leveler
	// Categories are attached to every entry.
	Categories []string
	// AddSource records the caller as Source.File and Source.Line.
	AddSource bool
	// QueueSize bounds entries waiting to be sent. Records logged while the
	// queue is full are dropped.
	QueueSize int
	// SendTimeout bounds each Send. Defaults to 5s.
	SendTimeout time.Duration
	// ErrorOutput receives send failures. Defaults to os.Stderr.
	ErrorOutput io.Writer
}

// Handler is a slog.Handler that publishes records as log entries. Records
// are enriched synchronously and sent from a background goroutine.
type Handler struct {
	shared *handlerState
	opts   HandlerOptions
	attrs  []prefixedAttr
	groups []string
}

type handlerState struct {
	pub      *Publisher
	queue    chan *core.LogEntry
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

// NewHandler starts a handler publishing through pub. Call Shutdown to
// flush queued entries.
func NewHandler(pub *Publisher, opts *HandlerOptions) *Handler {
	var o HandlerOptions
	if opts != nil {
		o = *opts
	}
	if o.Level == nil {
		o.Level = slog.LevelInfo
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaultSendTimeout
	}
	if o.ErrorOutput == nil {
		o.ErrorOutput = os.Stderr
	}

	st := &handlerState{
		pub:   pub,
		queue: make(chan *core.LogEntry, o.QueueSize),
		done:  make(chan struct{}),
	}
	h := &Handler{shared: st, opts: o}
	st.wg.Add(1)
	go h.runLoop()
	return h
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	e := &core.LogEntry{
		TsUnixNs:   r.Time.UnixNano(),
		Severity:   SeverityForLevel(r.Level),
		Categories: append([]string(nil), h.opts.Categories...),
		Message:    r.Message,
		Properties: make(map[string]any),
	}
	if r.Time.IsZero() {
		e.TsUnixNs = 0
	}

	if h.opts.AddSource && r.PC != 0 {
		f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		e.Set("Source.File", f.File)
		e.Set("Source.Line", f.Line)
	}

	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		addAttr(e.Properties, a.groupPrefix, a.Attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(e.Properties, prefix, a)
		return true
	})

	h.shared.pub.Prepare(ctx, e)

	select {
	case h.shared.queue <- e:
	default:
		h.shared.dropped.Add(1)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	prefix := strings.Join(h.groups, ".")
	h2.attrs = append([]prefixedAttr(nil), h.attrs...)
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, prefixedAttr{groupPrefix: prefix, Attr: a})
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string(nil), h.groups...), name)
	return &h2
}

// Dropped returns the number of records dropped because the queue was full.
func (h *Handler) Dropped() uint64 { return h.shared.dropped.Load() }

// Failed returns the number of entries that could not be sent.
func (h *Handler) Failed() uint64 { return h.shared.failed.Load() }

// Shutdown stops the send loop after flushing queued entries, or when ctx
// is done.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.shared.stopOnce.Do(func() { close(h.shared.done) })

	flushed := make(chan struct{})
	go func() {
		h.shared.wg.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush log entries: %w", ctx.Err())
	}
}

func (h *Handler) runLoop() {
	defer h.shared.wg.Done()
	for {
		select {
		case e := <-h.shared.queue:
			h.send(e)
		case <-h.shared.done:
			for {
				select {
				case e := <-h.shared.queue:
					h.send(e)
				default:
					return
				}
			}
		}
	}
}

func (h *Handler) send(e *core.LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.SendTimeout)
	defer cancel()
	if err := h.shared.pub.Send(ctx, e); err != nil {
		h.shared.failed.Add(1)
		fmt.Fprintf(h.opts.ErrorOutput, "logrelay: %v\n", err)
	}
}

type prefixedAttr struct {
	groupPrefix string
	slog.Attr
}

// SeverityForLevel maps a slog level to an entry severity.
func SeverityForLevel(l slog.Level) core.Severity {
	switch {
	case l >= LevelCritical:
		return core.SeverityCritical
	case l >= slog.LevelError:
		return core.SeverityError
	case l >= slog.LevelWarn:
		return core.SeverityWarning
	case l >= slog.LevelInfo:
		return core.SeverityInfo
	default:
		return core.SeverityDebug
	}
}

// addAttr flattens a into props, joining group names with dots.
func addAttr(props map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}

	switch a.Value.Kind() {
	case slog.KindGroup:
		for _, ga := range a.Value.Group() {
			addAttr(props, key, ga)
		}
	case slog.KindTime:
		props[key] = a.Value.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindDuration:
		props[key] = a.Value.Duration().String()
	case slog.KindAny:
		switch v := a.Value.Any().(type) {
		case error:
			props[key] = v.Error()
		case fmt.Stringer:
			props[key] = v.String()
		default:
			props[key] = v
		}
	default:
		props[key] = a.Value.Any()
	}
}
