package velocity

import (
	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/pkg/logger"
)

// Option configures a Guard.
type Option func(*Guard)

// WithClock sets the time source for window starts.
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
