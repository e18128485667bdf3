package ratelimit

import (
	"time"

	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/pkg/logger"
)

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source used to align windows.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithTTLBuffer sets the extra TTL added to each window key so stale windows self-expire.
func WithTTLBuffer(d time.Duration) Option {
	return func(l *Limiter) {
		if d >= 0 {
			l.ttlBuffer = d
		}
	}
}

// WithLogger sets the logger used for degraded-mode diagnostics.
func WithLogger(log logger.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}
