package ledger

import "github.com/okian/txguard/internal/domain/clock"

// MemoryOption configures a MemoryLedger.
type MemoryOption func(*MemoryLedger)

// WithClock sets the time source used to compute account age.
func WithClock(c clock.Clock) MemoryOption {
	return func(l *MemoryLedger) {
		if c != nil {
			l.clock = c
		}
	}
}

// PostgresOption configures a PostgresLedger.
type PostgresOption func(*PostgresLedger)

// WithPostgresClock sets the time source used to compute account age.
func WithPostgresClock(c clock.Clock) PostgresOption {
	return func(l *PostgresLedger) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithMaxOpenConns caps the connection pool opened by Open.
func WithMaxOpenConns(n int) PostgresOption {
	return func(l *PostgresLedger) {
		if n > 0 {
			l.maxOpen = n
		}
	}
}
