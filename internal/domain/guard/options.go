package guard

import (
	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/pkg/logger"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock shared by every check.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithAlertSink sets the sink that receives fraud alerts.
func WithAlertSink(sink AlertSink) Option {
	return func(o *Orchestrator) {
		if sink != nil {
			o.alerts = sink
		}
	}
}

// WithPipeline replaces the checks run for action.
func WithPipeline(action model.ActionType, checks ...Check) Option {
	return func(o *Orchestrator) {
		o.overrides[action] = checks
	}
}
