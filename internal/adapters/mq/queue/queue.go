// Package queue buffers rating-change events between the vote path and the
// publisher workers. Enqueue never blocks: a full queue drops the event.
package queue

import (
	"context"
	"sync"

	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/pkg/metrics"
)

const defaultCapacity = 1024

// Event is the payload flowing through the queue.
type Event = model.RatingChange

// Queue provides non-blocking enqueue and channel-based consumption.
type Queue interface {
	// Enqueue adds an event. Returns ErrFull or ErrClosed when it cannot.
	Enqueue(ctx context.Context, e Event) error

	// Events returns the channel consumers read from. It is closed by Close
	// once drained.
	Events() <-chan Event

	// Len returns the current backlog.
	Len() int

	// Close stops accepting events. Buffered events stay readable.
	Close() error
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	events   chan Event
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.events = make(chan Event, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue implements Queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e Event) error { //nolint:gocritic // hugeParam: sent by value over the channel
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueDrop("closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueDrop("context_cancelled")
		return err
	}

	select {
	case q.events <- e:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.events))
		return nil
	default:
		metrics.RecordQueueDrop("full")
		return ErrFull
	}
}

// Events implements Queue.
func (q *InMemoryQueue) Events() <-chan Event {
	return q.events
}

// Len implements Queue.
func (q *InMemoryQueue) Len() int {
	n := len(q.events)
	metrics.UpdateQueueSize(n)
	return n
}

// Close implements Queue. It is safe to call more than once.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.events)
	return nil
}
