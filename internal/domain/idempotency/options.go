package idempotency

import (
	"time"

	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/pkg/logger"
)

// Option configures a Guard.
type Option func(*Guard)

// WithLockTTL sets how long a LOCKED record lives without completion.
func WithLockTTL(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.lockTTL = d
		}
	}
}

// WithResultTTL sets how long a COMPLETED record is replayed.
func WithResultTTL(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.resultTTL = d
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(g *Guard) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(g *Guard) {
		if log != nil {
			g.log = log
		}
	}
}
