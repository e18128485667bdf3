// Package service wires the guard pipeline to its backends and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/okian/txguard/internal/adapters/alerts"
	"github.com/okian/txguard/internal/adapters/http/api"
	"github.com/okian/txguard/internal/adapters/ledger"
	"github.com/okian/txguard/internal/adapters/store"
	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/internal/domain/guard"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/internal/domain/types"
	"github.com/okian/txguard/pkg/logger"
	"github.com/okian/txguard/pkg/metrics"
)

// Ledger is the transaction history plus the account profiles derived from it.
type Ledger interface {
	guard.Ledger
	guard.ProfileSource
	Ping(ctx context.Context) error
	Close() error
}

// Service owns the orchestrator, its backends and the alert dispatcher.
type Service struct {
	mu sync.RWMutex

	store     store.Store
	ledger    Ledger
	recorder  alerts.Recorder
	alertOpts []alerts.Option
	guardCfg  guard.Config
	clock     clock.Clock

	orchestrator *guard.Orchestrator
	dispatcher   *alerts.Dispatcher

	started bool
	logger  logger.Logger
}

// New constructs a Service. Backends not supplied through options default to
// in-memory implementations.
func New(opts ...Option) *Service {
	s := &Service{
		guardCfg: guard.DefaultConfig(),
		clock:    clock.Real{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	if s.store == nil {
		s.store = store.NewMemoryStore(store.WithClock(s.clock))
	}
	if s.ledger == nil {
		s.ledger = ledger.NewMemoryLedger(ledger.WithClock(s.clock))
	}
	if s.recorder == nil {
		s.recorder = alerts.NewLogRecorder(s.logger.Named("alerts"))
	}
	return s
}

// Start builds the pipeline and launches the alert workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting transaction guard service...")

	dispatcher := alerts.NewDispatcher(s.recorder,
		append([]alerts.Option{alerts.WithLogger(s.logger.Named("alerts"))}, s.alertOpts...)...)

	orchestrator, err := guard.New(s.store, s.ledger, s.ledger, s.guardCfg,
		guard.WithClock(s.clock),
		guard.WithLogger(s.logger.Named("guard")),
		guard.WithAlertSink(dispatcher),
	)
	if err != nil {
		return fmt.Errorf("build guard: %w", err)
	}

	dispatcher.Start(ctx)
	s.dispatcher = dispatcher
	s.orchestrator = orchestrator
	s.started = true

	s.logger.Info(ctx, "transaction guard service started",
		logger.Duration("checkTimeout", s.guardCfg.CheckTimeout),
		logger.Int("alertCapacity", dispatcher.Stats().Capacity),
	)
	return nil
}

// Stop drains queued alerts until ctx expires and closes the backends.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info(ctx, "stopping transaction guard service...")

	var errs []error
	if err := s.dispatcher.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain alerts: %w", err))
	}
	if c, ok := s.recorder.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close alert recorder: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := s.ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close ledger: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "transaction guard service stopped")
	return errors.Join(errs...)
}

func (s *Service) guard() (*guard.Orchestrator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.orchestrator, nil
}

// Evaluate runs req through the guard pipeline.
func (s *Service) Evaluate(ctx context.Context, req model.TransactionRequest) (types.Decision, error) {
	g, err := s.guard()
	if err != nil {
		return types.Decision{}, err
	}
	return g.Evaluate(ctx, req)
}

// Complete caches the downstream response for an allowed decision.
func (s *Service) Complete(ctx context.Context, actorID, key, decisionID string, response []byte) error {
	g, err := s.guard()
	if err != nil {
		return err
	}
	return g.Complete(ctx, actorID, key, decisionID, response)
}

// Abort releases the idempotency lock of an allowed decision that was not carried out.
func (s *Service) Abort(ctx context.Context, actorID, key, decisionID string) error {
	g, err := s.guard()
	if err != nil {
		return err
	}
	return g.Abort(ctx, actorID, key, decisionID)
}

// Pipeline returns the check order for action, or nil before Start.
func (s *Service) Pipeline(action model.ActionType) []string {
	g, err := s.guard()
	if err != nil {
		return nil
	}
	return g.Pipeline(action)
}

// HealthChecks returns probes for the counter store and the ledger.
func (s *Service) HealthChecks() []api.HealthCheck {
	return []api.HealthCheck{
		{Name: "store", Check: s.store.Ping},
		{Name: "ledger", Check: s.ledger.Ping},
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":    s.started,
		"goroutines": runtime.NumGoroutine(),
	}
	if ms, ok := s.store.(*store.MemoryStore); ok {
		stats["storeKeys"] = ms.Size()
		stats["storeRejected"] = ms.Rejected()
	}

	if s.started {
		stats["guard"] = s.orchestrator.Stats()
		as := s.dispatcher.Stats()
		stats["alerts"] = as
		metrics.UpdateAlertQueue(as.Queued, as.Capacity)
	}

	return stats
}
