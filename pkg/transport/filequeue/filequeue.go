// Package filequeue implements the queue transport on a local spool file.
//
// Producers append records of the form [len uint32 LE][payload] under an
// exclusive flock. A single receiver reads records in order and persists
// the offset up to which every record has been settled in <path>.cursor.
// Once everything written has been settled the receiver truncates the
// spool. Dead letters are appended to <path>.dead with the same framing.
package filequeue

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/modoterra/logrelay/pkg/transport"
)

// MaxRecordSize bounds a single record; larger length prefixes are treated
// as corruption.
const MaxRecordSize = 16 << 20

const (
	headerSize          = 4
	defaultPollInterval = 20 * time.Millisecond
)

var truncateSpool = func(f *os.File) error { return f.Truncate(0) }

// ParsePath resolves file:///abs/path, file:rel/path or a bare path to a
// filesystem path.
func ParsePath(path string) (string, error) {
	if !strings.HasPrefix(path, "file:") {
		return path, nil
	}
	u, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse file queue path: %w", err)
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	if p == "" {
		return "", fmt.Errorf("file queue path %q names no file", path)
	}
	return p, nil
}

type span struct {
	start, end int64
	settled    bool
}

// Receiver drains a spool file.
type Receiver struct {
	mu           sync.Mutex
	path         string
	data         *os.File
	cursor       *os.File
	readOff      int64
	commitOff    int64
	pending      []*span
	pollInterval time.Duration
	state        transport.StateTracker
}

// Open opens (creating if needed) the spool at path. The containing
// directory must exist.
func Open(_ context.Context, path string) (*Receiver, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrUnavailable, err)
	}
	if st, err := os.Stat(filepath.Dir(p)); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%w: spool directory %s does not exist", transport.ErrUnavailable, filepath.Dir(p))
	}

	data, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open spool: %w", transport.ErrUnavailable, err)
	}
	cursor, err := os.OpenFile(p+".cursor", os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("%w: open cursor: %w", transport.ErrUnavailable, err)
	}

	r := &Receiver{
		path:         p,
		data:         data,
		cursor:       cursor,
		pollInterval: defaultPollInterval,
	}
	if err := r.loadCursor(); err != nil {
		r.closeFiles()
		return nil, fmt.Errorf("%w: %w", transport.ErrUnavailable, err)
	}
	r.state.Set(transport.StateOpen)
	return r, nil
}

func (r *Receiver) loadCursor() error {
	buf := make([]byte, 8)
	n, err := r.cursor.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read cursor: %w", err)
	}
	if n < 8 {
		return nil
	}
	off := int64(binary.LittleEndian.Uint64(buf))

	st, err := r.data.Stat()
	if err != nil {
		return fmt.Errorf("stat spool: %w", err)
	}
	if off > st.Size() {
		// The spool was truncated behind our back; start over.
		off = 0
	}
	r.readOff, r.commitOff = off, off
	return nil
}

func (r *Receiver) storeCursor() error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(r.commitOff))
	if _, err := r.cursor.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	return nil
}

// Path returns the spool file path.
func (r *Receiver) Path() string { return r.path }

// State returns the receiver's lifecycle state.
func (r *Receiver) State() transport.State { return r.state.Load() }

func (r *Receiver) TryReceive(ctx context.Context, timeout time.Duration) (*transport.Message, error) {
	if r.state.Closed() {
		return nil, transport.ErrClosed
	}
	r.state.Set(transport.StateReceiving)

	deadline := time.Now().Add(timeout)
	for {
		msg, err := r.next()
		if err != nil {
			r.state.Set(transport.StateIdle)
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			r.state.Set(transport.StateIdle)
			return nil, nil
		}
		wait := min(r.pollInterval, remaining)
		select {
		case <-ctx.Done():
			r.state.Set(transport.StateIdle)
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// next reads the record at the read offset. A partially written record is
// reported as nothing available.
func (r *Receiver) next() (*transport.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Closed() {
		return nil, transport.ErrClosed
	}

	hdr := make([]byte, headerSize)
	n, err := r.data.ReadAt(hdr, r.readOff)
	if n < headerSize {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: read header: %w", transport.ErrIO, err)
		}
		return nil, nil
	}

	length := binary.LittleEndian.Uint32(hdr)
	if length > MaxRecordSize {
		return nil, fmt.Errorf("%w: corrupt record at offset %d: length %d exceeds %d", transport.ErrIO, r.readOff, length, MaxRecordSize)
	}

	payload := make([]byte, length)
	n, err = r.data.ReadAt(payload, r.readOff+headerSize)
	if n < int(length) {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: read record: %w", transport.ErrIO, err)
		}
		return nil, nil
	}

	s := &span{start: r.readOff, end: r.readOff + headerSize + int64(length)}
	r.readOff = s.end
	r.pending = append(r.pending, s)

	return &transport.Message{
		ID:       strconv.FormatInt(s.start, 10),
		Payload:  payload,
		Received: time.Now(),
		Handle:   s,
	}, nil
}

func (r *Receiver) Ack(_ context.Context, msg *transport.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.state.Set(transport.StateIdle)

	if r.state.Closed() {
		return transport.ErrClosed
	}
	s, err := r.span(msg)
	if err != nil {
		return err
	}
	s.settled = true
	return r.advance()
}

// advance moves the commit offset over the settled prefix of in-flight
// records and compacts the spool when nothing is left.
func (r *Receiver) advance() error {
	moved := false
	for len(r.pending) > 0 && r.pending[0].settled {
		r.commitOff = r.pending[0].end
		r.pending = r.pending[1:]
		moved = true
	}
	if !moved {
		return nil
	}
	if err := r.storeCursor(); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrIO, err)
	}
	if len(r.pending) == 0 && r.commitOff == r.readOff {
		return r.compact()
	}
	return nil
}

// compact truncates the spool if no producer appended past the commit
// offset. The flock excludes concurrent appends.
func (r *Receiver) compact() error {
	fd := int(r.data.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return fmt.Errorf("%w: lock spool: %w", transport.ErrIO, err)
	}
	defer unix.Flock(fd, unix.LOCK_UN)

	st, err := r.data.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat spool: %w", transport.ErrIO, err)
	}
	if st.Size() != r.commitOff {
		return nil
	}

	// The cursor is reset before the spool shrinks: a crash in between
	// redelivers settled records instead of skipping new ones.
	settled := r.commitOff
	r.commitOff = 0
	if err := r.storeCursor(); err != nil {
		r.commitOff = settled
		return fmt.Errorf("%w: %w", transport.ErrIO, err)
	}
	if err := truncateSpool(r.data); err != nil {
		r.commitOff = settled
		r.storeCursor()
		return fmt.Errorf("%w: truncate spool: %w", transport.ErrIO, err)
	}
	r.readOff = 0
	return nil
}

// Requeue rewinds the reader to msg. Records received after msg and not
// yet settled are forgotten and will be read again.
func (r *Receiver) Requeue(_ context.Context, msg *transport.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.state.Set(transport.StateIdle)

	if r.state.Closed() {
		return transport.ErrClosed
	}
	s, err := r.span(msg)
	if err != nil {
		return err
	}
	for i, p := range r.pending {
		if p == s {
			r.pending = r.pending[:i]
			break
		}
	}
	r.readOff = s.start
	return nil
}

func (r *Receiver) DeadLetter(ctx context.Context, msg *transport.Message, reason string) error {
	rec, err := transport.NewDeadRecord(msg, reason)
	if err != nil {
		return fmt.Errorf("encode dead record: %w", err)
	}
	if err := appendRecord(r.path+".dead", rec); err != nil {
		return fmt.Errorf("%w: dead-letter: %w", transport.ErrIO, err)
	}
	return r.Ack(ctx, msg)
}

func (r *Receiver) span(msg *transport.Message) (*span, error) {
	s, ok := msg.Handle.(*span)
	if !ok {
		return nil, fmt.Errorf("message %s was not received from this spool", msg.ID)
	}
	for _, p := range r.pending {
		if p == s {
			return s, nil
		}
	}
	return nil, fmt.Errorf("message %s is not in flight", msg.ID)
}

func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.Close() {
		return nil
	}
	return r.closeFiles()
}

func (r *Receiver) closeFiles() error {
	return errors.Join(r.data.Close(), r.cursor.Close())
}

// Sender appends records to a spool file.
type Sender struct {
	path string
}

// OpenSender checks that the spool can be appended to.
func OpenSender(_ context.Context, path string) (*Sender, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrUnavailable, err)
	}
	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open spool: %w", transport.ErrUnavailable, err)
	}
	f.Close()
	return &Sender{path: p}, nil
}

func (s *Sender) Send(_ context.Context, payload []byte) error {
	if err := appendRecord(s.path, payload); err != nil {
		return fmt.Errorf("%w: send: %w", transport.ErrIO, err)
	}
	return nil
}

func (s *Sender) Close() error { return nil }

// appendRecord writes one framed record under an exclusive lock. The file
// is reopened per record so that a receiver truncating the spool never
// leaves a producer writing at a stale offset.
func appendRecord(path string, payload []byte) error {
	if len(payload) > MaxRecordSize {
		return fmt.Errorf("record of %d bytes exceeds %d", len(payload), MaxRecordSize)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	defer unix.Flock(fd, unix.LOCK_UN)

	frame := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[headerSize:], payload)
	_, err = f.Write(frame)
	return err
}

// DeadLetters reads every dead-letter record stored beside the spool.
func DeadLetters(path string) ([]transport.DeadRecord, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p + ".dead")
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open dead letters: %w", err)
	}
	defer f.Close()

	var out []transport.DeadRecord
	hdr := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(f, hdr); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return out, nil
			}
			return out, fmt.Errorf("read dead letters: %w", err)
		}
		data := make([]byte, binary.LittleEndian.Uint32(hdr))
		if _, err := io.ReadFull(f, data); err != nil {
			return out, fmt.Errorf("read dead letters: %w", err)
		}
		rec, err := transport.ParseDeadRecord(data)
		if err != nil {
			return out, fmt.Errorf("decode dead record: %w", err)
		}
		out = append(out, rec)
	}
}
