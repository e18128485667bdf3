package payout

import (
	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/pkg/logger"
)

// Option configures a Gate.
type Option func(*Gate)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}
