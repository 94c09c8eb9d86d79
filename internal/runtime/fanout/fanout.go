// Package fanout broadcasts accepted batches to any number of in-process
// subscribers without ever blocking the publisher.
package fanout

import (
	"context"
	"iter"
	"sync"

	idspkg "github.com/drblury/otlpflow/internal/runtime/ids"
)

// Options tunes a Channel.
type Options struct {
	// MaxPending bounds each subscription queue. Zero leaves queues unbounded.
	// When a bounded queue is full the oldest pending item is discarded.
	MaxPending int
	// OnDrop, if set, is called outside of any lock for every discarded item.
	OnDrop func(subscriptionID string)
}

// Channel delivers every published value to each subscription that existed
// at publish time, in publish order.
type Channel[T any] struct {
	opts Options

	mu     sync.Mutex
	subs   map[string]*Subscription[T]
	closed bool
}

// New creates an open Channel.
func New[T any](opts Options) *Channel[T] {
	if opts.MaxPending < 0 {
		opts.MaxPending = 0
	}
	return &Channel[T]{opts: opts, subs: make(map[string]*Subscription[T])}
}

// Publish enqueues v for every live subscription and returns how many
// received it. It never blocks on a consumer and is a no-op after Close.
func (c *Channel[T]) Publish(v T) int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	var dropped []string
	for id, sub := range c.subs {
		if sub.push(v, c.opts.MaxPending) {
			dropped = append(dropped, id)
		}
	}
	delivered := len(c.subs)
	c.mu.Unlock()

	if c.opts.OnDrop != nil {
		for _, id := range dropped {
			c.opts.OnDrop(id)
		}
	}
	return delivered
}

// Subscribe registers a new, independent subscription. After Close the
// returned subscription is already finished.
func (c *Channel[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		id:     idspkg.CreateULID(),
		owner:  c,
		notify: make(chan struct{}, 1),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		sub.done = true
		return sub
	}
	c.subs[sub.id] = sub
	return sub
}

// Close finishes every subscription. Subscribers still receive what was
// buffered before Close. Calling Close again is a no-op.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, sub := range c.subs {
		sub.finish(false)
		delete(c.subs, id)
	}
}

// Closed reports whether Close has been called.
func (c *Channel[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Subscribers returns the number of live subscriptions.
func (c *Channel[T]) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Backlog returns the total number of queued, undelivered items.
func (c *Channel[T]) Backlog() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, sub := range c.subs {
		total += sub.Pending()
	}
	return total
}

func (c *Channel[T]) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

// Subscription is one consumer's ordered view of a Channel.
type Subscription[T any] struct {
	id     string
	owner  *Channel[T]
	notify chan struct{}

	mu      sync.Mutex
	queue   []T
	done    bool
	dropped uint64
}

// ID returns the ULID assigned at subscription time.
func (s *Subscription[T]) ID() string { return s.id }

// push reports whether an item had to be dropped to make room.
func (s *Subscription[T]) push(v T, maxPending int) bool {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return false
	}
	dropped := false
	if maxPending > 0 && len(s.queue) >= maxPending {
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.dropped++
		dropped = true
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	s.wake()
	return dropped
}

func (s *Subscription[T]) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) finish(discard bool) {
	s.mu.Lock()
	s.done = true
	if discard {
		s.queue = nil
	}
	s.mu.Unlock()
	s.wake()
}

// Next blocks until an item is available, the subscription finishes, or ctx
// is done. The boolean is false once nothing more will be delivered.
func (s *Subscription[T]) Next(ctx context.Context) (T, bool) {
	var zero T
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			v := s.queue[0]
			s.queue[0] = zero
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return v, true
		}
		if s.done {
			s.mu.Unlock()
			return zero, false
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return zero, false
		}
	}
}

// All yields items until the subscription finishes or ctx is done.
func (s *Subscription[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, ok := s.Next(ctx)
			if !ok || !yield(v) {
				return
			}
		}
	}
}

// Cancel detaches the subscription and discards anything still queued.
func (s *Subscription[T]) Cancel() {
	if s.owner != nil {
		s.owner.remove(s.id)
	}
	s.finish(true)
}

// Pending returns the number of queued items.
func (s *Subscription[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Dropped returns how many items were discarded by the overflow policy.
func (s *Subscription[T]) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
