// internal/status/broadcast.go
// Package status provides observer registration for ephemeral state
// snapshots. UI surfaces subscribe to connectivity and pending-count
// changes instead of polling the reconciler.
package status

import "sync"

// Broadcaster fans state snapshots out to subscribers.
// Subscribers always receive a value copy, never a shared reference, and
// a new subscriber is invoked synchronously with the current snapshot
// before Subscribe returns.
type Broadcaster[T any] struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]func(T)
	current T
	closed  bool
}

// NewBroadcaster creates a broadcaster seeded with an initial snapshot.
func NewBroadcaster[T any](initial T) *Broadcaster[T] {
	return &Broadcaster[T]{
		subs:    make(map[int]func(T)),
		current: initial,
	}
}

// Subscribe registers a callback and replays the current snapshot to it
// immediately. The returned function removes the subscription; calling it
// more than once is harmless.
func (b *Broadcaster[T]) Subscribe(fn func(T)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if !b.closed {
		b.subs[id] = fn
	}
	snapshot := b.current
	b.mu.Unlock()

	// Replay outside the lock so a subscriber may re-enter the broadcaster.
	fn(snapshot)

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish records the new snapshot and notifies every subscriber with a copy.
// Callbacks run on the publisher's goroutine, outside the broadcaster lock.
func (b *Broadcaster[T]) Publish(snapshot T) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.current = snapshot
	fns := make([]func(T), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

// Current returns a copy of the latest published snapshot.
func (b *Broadcaster[T]) Current() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Close drops all subscribers and rejects further publishes.
// Part of application shutdown; Subscribe after Close still replays the
// last snapshot but never fires again.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[int]func(T))
}
