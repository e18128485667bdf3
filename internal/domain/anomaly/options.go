package anomaly

import (
	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/pkg/logger"
)

// Option configures a detector or restrictor.
type Option func(*base)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(b *base) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(b *base) {
		if log != nil {
			b.log = log
		}
	}
}
