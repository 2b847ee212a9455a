// Package events provides a small generic one-to-many pub/sub primitive used
// by sources and the catalog to broadcast change notifications.
package events

import (
	"context"
	"log/slog"
	"sync"
)

// Handler receives an emitted event. A handler that returns an error is
// logged and does not prevent the remaining handlers from running.
type Handler[T any] func(ctx context.Context, event T) error

// Unsubscribe detaches a previously registered handler. It is idempotent and
// safe to call while an emission is in progress: the in-flight emission
// always finishes against the subscriber snapshot it started with.
type Unsubscribe func()

// Channel is a generic one-to-many event channel carrying a single payload
// type T. Subscriptions are held in registration order and invoked
// sequentially, each awaited before the next runs.
type Channel[T any] struct {
	mu          sync.Mutex
	nextID      uint64
	subscribers []subscriber[T]
	logName     string
}

type subscriber[T any] struct {
	id      uint64
	handler Handler[T]
}

// New creates an empty event channel. name identifies the owning component
// in log output when a handler fails.
func New[T any](name string) *Channel[T] {
	return &Channel[T]{logName: name}
}

// Subscribe registers handler and returns a function to detach it.
func (c *Channel[T]) Subscribe(handler Handler[T]) Unsubscribe {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers = append(c.subscribers, subscriber[T]{id: id, handler: handler})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subscribers {
			if s.id == id {
				c.subscribers = append(c.subscribers[:i:i], c.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Emit invokes every currently registered handler in registration order,
// awaiting each before starting the next. Handler errors are logged with the
// owning component name and swallowed; Emit itself never fails.
func (c *Channel[T]) Emit(ctx context.Context, event T) {
	c.mu.Lock()
	snapshot := make([]subscriber[T], len(c.subscribers))
	copy(snapshot, c.subscribers)
	c.mu.Unlock()

	for _, s := range snapshot {
		if err := s.handler(ctx, event); err != nil {
			slog.Error("event handler failed", "component", c.logName, "error", err)
		}
	}
}

// Clear detaches every handler. Used during teardown.
func (c *Channel[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = nil
}

// Len reports the number of currently registered handlers. Mostly useful in
// tests.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers)
}
