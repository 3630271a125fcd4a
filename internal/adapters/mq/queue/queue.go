// Package queue carries rotation triggers from their sources (the wake timer,
// the quiz regeneration flag, operators) to the single rotation dispatcher.
package queue

import (
	"context"
	"sync"

	"github.com/okian/neodrop/internal/domain/model"
	"github.com/okian/neodrop/pkg/metrics"
)

const defaultQueueCapacity = 16

// Trigger is the payload flowing through the queue.
type Trigger = model.Trigger

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a trigger. Returns false if the queue is full or closed.
	Enqueue(ctx context.Context, t Trigger) bool
	// Dequeue returns a channel that receives triggers in arrival order.
	// The channel is closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan Trigger
	// Len returns the number of pending triggers.
	Len(ctx context.Context) int
	// Close stops accepting triggers; pending ones are still delivered.
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	triggers chan Trigger
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a bounded trigger queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.triggers = make(chan Trigger, q.capacity)
	metrics.UpdateTriggerQueueSize(0)
	return q
}

// Enqueue adds a trigger without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t Trigger) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordTriggerDropped()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	select {
	case q.triggers <- t:
		metrics.RecordTriggerEnqueued(t.Reason)
		metrics.UpdateTriggerQueueSize(len(q.triggers))
		return true
	case <-ctx.Done():
		metrics.RecordTriggerDropped()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordTriggerDropped()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel that receives triggers as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Trigger {
	out := make(chan Trigger)
	go func() {
		defer close(out)
		for t := range q.triggers {
			select {
			case out <- t:
				metrics.UpdateTriggerQueueSize(len(q.triggers))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the number of pending triggers.
func (q *InMemoryQueue) Len(context.Context) int {
	size := len(q.triggers)
	metrics.UpdateTriggerQueueSize(size)
	return size
}

// Close stops the queue. It is idempotent.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.triggers)
	q.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
