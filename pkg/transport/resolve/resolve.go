// Package resolve opens the queue backend named by a transport path.
package resolve

import (
	"context"
	"strings"

	"github.com/modoterra/logrelay/pkg/transport"
	"github.com/modoterra/logrelay/pkg/transport/filequeue"
	"github.com/modoterra/logrelay/pkg/transport/redisq"
)

// Backend names the queue implementation behind a path.
func Backend(path string) string {
	if isRedis(path) {
		return "redis"
	}
	return "file"
}

// Open opens a receiver. redis:// and rediss:// paths use Redis; anything
// else is a spool file.
func Open(ctx context.Context, path string) (transport.Receiver, error) {
	if isRedis(path) {
		r, err := redisq.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	r, err := filequeue.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// OpenSender opens the producing end of the queue named by path.
func OpenSender(ctx context.Context, path string) (transport.Sender, error) {
	if isRedis(path) {
		s, err := redisq.OpenSender(ctx, path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := filequeue.OpenSender(ctx, path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DeadLetters lists dead-lettered messages, newest first for Redis and in
// arrival order for spool files.
func DeadLetters(ctx context.Context, path string, limit int) ([]transport.DeadRecord, error) {
	if isRedis(path) {
		return redisq.DeadLetters(ctx, path, int64(limit))
	}
	recs, err := filequeue.DeadLetters(path)
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs, err
}

func isRedis(path string) bool {
	return strings.HasPrefix(path, "redis://") || strings.HasPrefix(path, "rediss://")
}
