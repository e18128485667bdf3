// Package queue buffers fraud alerts between the guard pipeline and the
// alert recorders. Enqueue never blocks: a full queue drops the alert.
package queue

import (
	"context"
	"sync"

	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/pkg/metrics"
)

const defaultQueueCapacity = 10000

// Alert is the payload flowing through the queue.
type Alert = model.FraudAlert

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an alert, failing with ErrFull or ErrClosed instead of blocking.
	Enqueue(ctx context.Context, a Alert) error

	// Dequeue returns a channel of queued alerts, closed once the queue is
	// closed and drained.
	Dequeue(ctx context.Context) <-chan Alert

	Len() int
	Capacity() int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue with a buffered channel.
type InMemoryQueue struct {
	alerts   chan Alert
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a bounded queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.alerts = make(chan Alert, q.capacity)
	metrics.UpdateAlertQueue(0, q.capacity)
	return q
}

// Enqueue adds an alert to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, a Alert) error { //nolint:gocritic // hugeParam: passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case q.alerts <- a:
		metrics.UpdateAlertQueue(len(q.alerts), q.capacity)
		return nil
	default:
		return ErrFull
	}
}

// Dequeue returns a channel that receives alerts as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Alert {
	out := make(chan Alert)
	go func() {
		defer close(out)
		for a := range q.alerts {
			select {
			case out <- a:
				metrics.UpdateAlertQueue(len(q.alerts), q.capacity)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the number of queued alerts.
func (q *InMemoryQueue) Len() int { return len(q.alerts) }

// Capacity returns the queue bound.
func (q *InMemoryQueue) Capacity() int { return q.capacity }

// Close stops accepting alerts. Alerts already queued stay available to Dequeue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.alerts)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
