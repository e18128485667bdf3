package scoring

import "github.com/okian/txguard/internal/domain/clock"

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithClock sets the time source used for payout timing and timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Scorer) {
		if c != nil {
			s.clock = c
		}
	}
}
