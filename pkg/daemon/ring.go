package daemon

import "sync"

// ring keeps the most recent items and fans new ones out to subscribers.
// Slow subscribers miss items rather than block the writer.
type ring[T any] struct {
	mu    sync.Mutex
	items []T
	limit int
	subs  []chan T
}

func newRing[T any](limit int) *ring[T] {
	return &ring[T]{limit: limit}
}

func (r *ring[T]) write(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	if len(r.items) > r.limit {
		r.items = r.items[len(r.items)-r.limit:]
	}
	for _, ch := range r.subs {
		select {
		case ch <- item:
		default:
		}
	}
}

func (r *ring[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.items...)
}

func (r *ring[T]) subscribe() <-chan T {
	ch := make(chan T, 100)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

func (r *ring[T]) unsubscribe(ch <-chan T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s == ch {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			close(s)
			return
		}
	}
}
