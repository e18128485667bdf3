package guard

import (
	"fmt"
	"time"

	"github.com/okian/txguard/internal/domain/anomaly"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/internal/domain/payout"
	"github.com/okian/txguard/internal/domain/ratelimit"
	"github.com/okian/txguard/internal/domain/scoring"
	"github.com/okian/txguard/internal/domain/velocity"
)

// RateLimitScope is the burst and sustained tier of one action scope.
type RateLimitScope struct {
	Burst     ratelimit.Spec `koanf:"burst" yaml:"burst"`
	Sustained ratelimit.Spec `koanf:"sustained" yaml:"sustained"`
}

// IdempotencyConfig holds idempotency TTLs.
type IdempotencyConfig struct {
	LockTTL   time.Duration `koanf:"lock_ttl" yaml:"lock_ttl"`
	ResultTTL time.Duration `koanf:"result_ttl" yaml:"result_ttl"`
}

// Config is the single threshold table of the pipeline.
type Config struct {
	CheckTimeout time.Duration                       `koanf:"check_timeout" yaml:"check_timeout"`
	RateLimits   map[model.ActionType]RateLimitScope `koanf:"rate_limits" yaml:"rate_limits"`
	Idempotency  IdempotencyConfig                   `koanf:"idempotency" yaml:"idempotency"`
	Velocity     velocity.Config                     `koanf:"velocity" yaml:"velocity"`
	Scoring      scoring.Config                      `koanf:"scoring" yaml:"scoring"`
	Anomaly      anomaly.Config                      `koanf:"anomaly" yaml:"anomaly"`
	Payout       payout.Config                       `koanf:"payout" yaml:"payout"`
	// Policies overrides the failure policy of a check by name.
	Policies map[string]FailurePolicy `koanf:"policies" yaml:"policies"`
}

// DefaultConfig returns the canonical configuration.
func DefaultConfig() Config {
	return Config{
		CheckTimeout: 2500 * time.Millisecond,
		RateLimits: map[model.ActionType]RateLimitScope{
			model.ActionPurchase: {
				Burst:     ratelimit.Spec{Limit: 5, Window: time.Minute},
				Sustained: ratelimit.Spec{Limit: 30, Window: time.Hour},
			},
			model.ActionTip: {
				Burst:     ratelimit.Spec{Limit: 10, Window: time.Minute},
				Sustained: ratelimit.Spec{Limit: 100, Window: time.Hour},
			},
			model.ActionGift: {
				Burst:     ratelimit.Spec{Limit: 10, Window: time.Minute},
				Sustained: ratelimit.Spec{Limit: 100, Window: time.Hour},
			},
			model.ActionCall: {
				Burst:     ratelimit.Spec{Limit: 5, Window: time.Minute},
				Sustained: ratelimit.Spec{Limit: 60, Window: time.Hour},
			},
		},
		Idempotency: IdempotencyConfig{
			LockTTL:   10 * time.Second,
			ResultTTL: 24 * time.Hour,
		},
		Velocity: velocity.DefaultConfig(),
		Scoring:  scoring.DefaultConfig(),
		Anomaly:  anomaly.DefaultConfig(),
		Payout:   payout.DefaultConfig(),
		Policies: map[string]FailurePolicy{},
	}
}

// Validate checks the whole table.
func (c Config) Validate() error {
	if c.CheckTimeout <= 0 {
		return fmt.Errorf("%w: check_timeout must be positive", ErrInvalidConfig)
	}
	for scope, rl := range c.RateLimits {
		if !scope.Valid() {
			return fmt.Errorf("%w: unknown rate limit scope %q", ErrInvalidConfig, scope)
		}
		if err := rl.Burst.Validate(); err != nil {
			return fmt.Errorf("%w: rate_limits.%s.burst: %v", ErrInvalidConfig, scope, err)
		}
		if err := rl.Sustained.Validate(); err != nil {
			return fmt.Errorf("%w: rate_limits.%s.sustained: %v", ErrInvalidConfig, scope, err)
		}
	}
	if c.Idempotency.LockTTL <= 0 || c.Idempotency.ResultTTL < c.Idempotency.LockTTL {
		return fmt.Errorf("%w: idempotency ttls", ErrInvalidConfig)
	}
	for name, p := range c.Policies {
		if !p.Valid() {
			return fmt.Errorf("%w: policy %q for %s", ErrInvalidConfig, p, name)
		}
	}
	for _, v := range []interface{ Validate() error }{c.Velocity, c.Scoring, c.Anomaly, c.Payout} {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}
