package service

import (
	"github.com/okian/txguard/internal/adapters/alerts"
	"github.com/okian/txguard/internal/adapters/store"
	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/internal/domain/guard"
	"github.com/okian/txguard/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithCounterStore sets the shared counter store. Defaults to an in-memory store.
func WithCounterStore(st store.Store) Option {
	return func(s *Service) {
		if st != nil {
			s.store = st
		}
	}
}

// WithLedger sets the transaction ledger and profile source. Defaults to an in-memory ledger.
func WithLedger(l Ledger) Option {
	return func(s *Service) {
		if l != nil {
			s.ledger = l
		}
	}
}

// WithAlertRecorder sets where fraud alerts are persisted. Defaults to the log.
func WithAlertRecorder(r alerts.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithAlertOptions tunes the alert dispatcher queue and workers.
func WithAlertOptions(opts ...alerts.Option) Option {
	return func(s *Service) {
		s.alertOpts = append(s.alertOpts, opts...)
	}
}

// WithGuardConfig sets the pipeline configuration.
func WithGuardConfig(cfg guard.Config) Option {
	return func(s *Service) {
		s.guardCfg = cfg
	}
}

// WithClock overrides the clock used by the pipeline.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.logger = log
		}
	}
}
