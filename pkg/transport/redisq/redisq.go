// Package redisq implements the queue transport on Redis lists using the
// reliable-queue pattern: a received message is atomically moved to a
// processing list and only removed from there once it is settled.
package redisq

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/zeebo/blake3"

	"github.com/modoterra/logrelay/pkg/transport"
)

// DefaultQueue is used when the path carries no queue parameter.
const DefaultQueue = "logrelay"

const pingTimeout = 5 * time.Second

// Redis blocking commands take whole seconds; shorter waits poll instead.
const blockingResolution = time.Second

// Keys are the Redis keys backing one queue.
type Keys struct {
	Queue      string
	Processing string
	Dead       string
}

// KeysFor derives the keys for a queue name.
func KeysFor(queue string) Keys {
	return Keys{
		Queue:      queue,
		Processing: queue + ":processing",
		Dead:       queue + ":dead",
	}
}

// ParsePath splits a transport path of the form
// redis://[user:pass@]host:port[/db][?queue=name] into client options and
// the queue name.
func ParsePath(path string) (*redis.Options, string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	q := u.Query()
	queue := q.Get("queue")
	if queue == "" {
		queue = DefaultQueue
	}
	q.Del("queue")
	u.RawQuery = q.Encode()

	opts, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return opts, queue, nil
}

func connect(ctx context.Context, path string) (*redis.Client, Keys, error) {
	opts, queue, err := ParsePath(path)
	if err != nil {
		return nil, Keys{}, fmt.Errorf("%w: %w", transport.ErrUnavailable, err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, Keys{}, fmt.Errorf("%w: failed to connect to Redis: %w", transport.ErrUnavailable, err)
	}
	return client, KeysFor(queue), nil
}

// Fingerprint identifies a payload across redeliveries.
func Fingerprint(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:16])
}

// Receiver drains one queue.
type Receiver struct {
	client *redis.Client
	keys   Keys
	state  transport.StateTracker
}

// Open connects to Redis and returns to the queue any messages a previous
// receiver left unsettled in the processing list.
func Open(ctx context.Context, path string) (*Receiver, error) {
	client, keys, err := connect(ctx, path)
	if err != nil {
		return nil, err
	}
	r := &Receiver{client: client, keys: keys}
	if _, err := r.recover(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: recover processing list: %w", transport.ErrUnavailable, err)
	}
	r.state.Set(transport.StateOpen)
	return r, nil
}

// recover moves processing entries back to the consumer end of the queue,
// oldest last so that it is received first.
func (r *Receiver) recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := r.client.LMove(ctx, r.keys.Processing, r.keys.Queue, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Keys returns the keys this receiver operates on.
func (r *Receiver) Keys() Keys { return r.keys }

// State returns the receiver's lifecycle state.
func (r *Receiver) State() transport.State { return r.state.Load() }

func (r *Receiver) TryReceive(ctx context.Context, timeout time.Duration) (*transport.Message, error) {
	if r.state.Closed() {
		return nil, transport.ErrClosed
	}
	r.state.Set(transport.StateReceiving)

	var (
		payload string
		err     error
	)
	if timeout >= blockingResolution {
		payload, err = r.client.BRPopLPush(ctx, r.keys.Queue, r.keys.Processing, timeout).Result()
	} else {
		payload, err = r.client.RPopLPush(ctx, r.keys.Queue, r.keys.Processing).Result()
	}
	if errors.Is(err, redis.Nil) {
		r.state.Set(transport.StateIdle)
		return nil, nil
	}
	if err != nil {
		r.state.Set(transport.StateIdle)
		return nil, fmt.Errorf("%w: receive: %w", transport.ErrIO, err)
	}

	return &transport.Message{
		ID:       Fingerprint([]byte(payload)),
		Payload:  []byte(payload),
		Received: time.Now(),
		Handle:   payload,
	}, nil
}

func (r *Receiver) Ack(ctx context.Context, msg *transport.Message) error {
	if r.state.Closed() {
		return transport.ErrClosed
	}
	defer r.state.Set(transport.StateIdle)
	if err := r.client.LRem(ctx, r.keys.Processing, 1, handle(msg)).Err(); err != nil {
		return fmt.Errorf("%w: ack: %w", transport.ErrIO, err)
	}
	return nil
}

func (r *Receiver) Requeue(ctx context.Context, msg *transport.Message) error {
	if r.state.Closed() {
		return transport.ErrClosed
	}
	defer r.state.Set(transport.StateIdle)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, r.keys.Processing, 1, handle(msg))
		pipe.RPush(ctx, r.keys.Queue, handle(msg))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: requeue: %w", transport.ErrIO, err)
	}
	return nil
}

func (r *Receiver) DeadLetter(ctx context.Context, msg *transport.Message, reason string) error {
	if r.state.Closed() {
		return transport.ErrClosed
	}
	defer r.state.Set(transport.StateIdle)
	rec, err := transport.NewDeadRecord(msg, reason)
	if err != nil {
		return fmt.Errorf("encode dead record: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, r.keys.Processing, 1, handle(msg))
		pipe.LPush(ctx, r.keys.Dead, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: dead-letter: %w", transport.ErrIO, err)
	}
	return nil
}

func (r *Receiver) Close() error {
	if !r.state.Close() {
		return nil
	}
	return r.client.Close()
}

func handle(msg *transport.Message) string {
	if s, ok := msg.Handle.(string); ok {
		return s
	}
	return string(msg.Payload)
}

// Sender appends payloads to a queue.
type Sender struct {
	client *redis.Client
	keys   Keys
}

// OpenSender connects a producer to the queue named by path.
func OpenSender(ctx context.Context, path string) (*Sender, error) {
	client, keys, err := connect(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Sender{client: client, keys: keys}, nil
}

func (s *Sender) Send(ctx context.Context, payload []byte) error {
	if err := s.client.LPush(ctx, s.keys.Queue, payload).Err(); err != nil {
		return fmt.Errorf("%w: send: %w", transport.ErrIO, err)
	}
	return nil
}

func (s *Sender) Close() error {
	return s.client.Close()
}

// DeadLetters returns up to limit dead-letter records, newest first.
func DeadLetters(ctx context.Context, path string, limit int64) ([]transport.DeadRecord, error) {
	client, keys, err := connect(ctx, path)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	raw, err := client.LRange(ctx, keys.Dead, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: read dead letters: %w", transport.ErrIO, err)
	}
	out := make([]transport.DeadRecord, 0, len(raw))
	for _, item := range raw {
		rec, err := transport.ParseDeadRecord([]byte(item))
		if err != nil {
			return out, fmt.Errorf("decode dead record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
