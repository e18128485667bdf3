// Package alerts delivers fraud alerts raised by the guard pipeline to durable
// recorders without blocking the request path.
package alerts

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/okian/txguard/internal/adapters/mq/queue"
	"github.com/okian/txguard/internal/adapters/mq/worker"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/pkg/logger"
	"github.com/okian/txguard/pkg/metrics"
)

// Recorder persists a single alert.
type Recorder = worker.Recorder

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Queued    int   `json:"queued"`
	Capacity  int   `json:"capacity"`
	Accepted  int64 `json:"accepted"`
	Dropped   int64 `json:"dropped"`
	Processed int64 `json:"processed"`
}

// Dispatcher queues alerts in memory and writes them from a worker pool.
type Dispatcher struct {
	queue *queue.InMemoryQueue
	pool  *worker.Pool
	log   logger.Logger

	capacity int
	workers  int
	retries  int

	accepted atomic.Int64
	dropped  atomic.Int64
}

// NewDispatcher creates a dispatcher writing to recorder. Call Start before use.
func NewDispatcher(recorder Recorder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		capacity: 1000,
		workers:  2,
		retries:  3,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = queue.NewInMemoryQueue(queue.WithCapacity(d.capacity))
	d.pool = worker.NewPool(d.workers, d.queue, recorder,
		worker.WithLogger(d.log),
		worker.WithRetries(d.retries),
	)
	return d
}

// Start launches the workers. They keep running after ctx is cancelled and
// stop only once Shutdown has drained the queue or given up.
func (d *Dispatcher) Start(ctx context.Context) {
	d.pool.Start(context.WithoutCancel(ctx))
}

// Record enqueues alert. It never blocks; a full or closed queue drops the alert.
func (d *Dispatcher) Record(ctx context.Context, alert model.FraudAlert) {
	// The request context may end right after the decision is returned.
	err := d.queue.Enqueue(context.WithoutCancel(ctx), alert)
	if err == nil {
		d.accepted.Add(1)
		metrics.RecordAlertEnqueued(string(alert.AlertType), string(alert.Severity))
		return
	}
	d.dropped.Add(1)
	metrics.RecordAlertDropped()
	lvl := d.log.Warn
	if errors.Is(err, queue.ErrClosed) {
		lvl = d.log.Debug
	}
	lvl(ctx, "fraud alert dropped",
		logger.String("alert_id", alert.ID),
		logger.String("alert_type", string(alert.AlertType)),
		logger.String("user_id", alert.UserID),
		logger.Error(err),
	)
}

// Shutdown stops accepting alerts and drains the queue until ctx expires.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	return d.pool.Shutdown(ctx)
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:    d.queue.Len(),
		Capacity:  d.queue.Capacity(),
		Accepted:  d.accepted.Load(),
		Dropped:   d.dropped.Load(),
		Processed: d.pool.Processed(),
	}
}

// Fanout writes every alert to all recorders and joins their errors.
type Fanout []Recorder

// Record implements Recorder.
func (f Fanout) Record(ctx context.Context, a model.FraudAlert) error { //nolint:gocritic // hugeParam
	var errs []error
	for _, r := range f {
		if err := r.Record(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every recorder that holds resources.
func (f Fanout) Close() error {
	var errs []error
	for _, r := range f {
		if c, ok := r.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
