// Package worker drains the alert queue into an alert recorder.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/txguard/internal/adapters/mq/queue"
	"github.com/okian/txguard/pkg/logger"
	"github.com/okian/txguard/pkg/metrics"
)

const (
	defaultWorkerCount   = 2
	defaultRetries       = 3
	defaultBackoff       = 100 * time.Millisecond
	defaultRecordTimeout = 5 * time.Second
)

// Recorder persists a single alert.
type Recorder interface {
	Record(ctx context.Context, a queue.Alert) error
}

// Queue defines how workers receive alerts.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Alert
}

// Worker processes alerts until its queue closes.
type Worker interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// InMemoryWorker writes alerts with bounded retries.
type InMemoryWorker struct {
	queue    Queue
	recorder Recorder
	name     string

	retries       int
	backoff       time.Duration
	recordTimeout time.Duration

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, recorder Recorder, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:         q,
		recorder:      recorder,
		name:          "worker",
		retries:       defaultRetries,
		backoff:       defaultBackoff,
		recordTimeout: defaultRecordTimeout,
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
		logger:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run reads alerts until the queue closes, ctx is cancelled or Shutdown is called.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	alerts := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case a, ok := <-alerts:
			if !ok {
				return
			}
			if err := w.process(ctx, a); err != nil {
				w.logger.Error(ctx, "dropping alert after retries",
					logger.String("alert_id", a.ID),
					logger.String("alert_type", string(a.AlertType)),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the worker without draining.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

func (w *InMemoryWorker) process(ctx context.Context, a queue.Alert) error { //nolint:gocritic // hugeParam: passed by value for channel semantics
	delay := w.backoff
	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				metrics.RecordAlertFailed()
				return ctx.Err()
			case <-w.shutdown:
				metrics.RecordAlertFailed()
				return err
			}
		}

		start := time.Now()
		rctx, cancel := context.WithTimeout(ctx, w.recordTimeout)
		err = w.recorder.Record(rctx, a)
		cancel()
		if err == nil {
			metrics.RecordAlertRecorded(time.Since(start))
			return nil
		}
		w.logger.Warn(ctx, "alert write failed",
			logger.String("alert_id", a.ID),
			logger.Int("attempt", attempt+1),
			logger.Error(err),
		)
	}
	metrics.RecordAlertFailed()
	return err
}

// Pool runs several workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	processed atomic.Int64
	logger    logger.Logger
}

// NewPool creates a pool of workerCount workers. Options apply to every worker.
func NewPool(workerCount int, q Queue, recorder Recorder, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Nop(),
	}
	counted := countingRecorder{next: recorder, n: &pool.processed}
	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("alert-worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, counted, workerOpts...)
	}
	if len(pool.workers) > 0 {
		pool.logger = pool.workers[0].logger
	}
	metrics.UpdateAlertWorkers(workerCount)
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Processed returns how many alerts were written successfully.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Shutdown closes the queue and waits for the workers to drain it. When ctx
// expires first, the remaining workers are stopped and their alerts lost.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker drain timed out", logger.Int("worker_id", i))
			close(w.shutdown)
		}
	}
	metrics.UpdateAlertWorkers(0)
	return ctx.Err()
}

type countingRecorder struct {
	next Recorder
	n    *atomic.Int64
}

func (c countingRecorder) Record(ctx context.Context, a queue.Alert) error { //nolint:gocritic // hugeParam
	if err := c.next.Record(ctx, a); err != nil {
		return err
	}
	c.n.Add(1)
	return nil
}
