// Package ratelimit implements the dual-tier (burst + sustained) fixed-window rate limiter.
//
// Each tier counts requests in a fixed window aligned to the epoch:
// windowId = floor(now / window), key = scope:identity:tier:windowId.
// Counters are incremented first and compared afterwards, so the store's atomic
// increment is the only synchronization needed under contention.
//
// Known edge case: fixed windows admit up to twice the nominal limit across a
// window boundary (N requests at the end of window A and N more at the start of
// window B). This is accepted in exchange for O(1) state per tier.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/pkg/logger"
	"github.com/okian/txguard/pkg/metrics"
)

// Counter is the subset of the shared counter store used by the limiter.
type Counter interface {
	// IncrementWithTTL atomically increments key and sets ttl when the key is created.
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Tier names a rate limit tier.
type Tier string

// Tiers.
const (
	TierBurst     Tier = "burst"
	TierSustained Tier = "sustained"
)

// Spec is one tier's limit.
type Spec struct {
	Limit  int64         `koanf:"limit" yaml:"limit"`
	Window time.Duration `koanf:"window" yaml:"window"`
}

// Validate rejects non-positive limits and windows.
func (s Spec) Validate() error {
	if s.Limit <= 0 || s.Window <= 0 {
		return fmt.Errorf("%w: limit=%d window=%s", ErrInvalidSpec, s.Limit, s.Window)
	}
	return nil
}

// Result is the outcome of one check. Used counts are post-increment.
type Result struct {
	Allowed        bool
	BurstUsed      int64
	BurstLimit     int64
	SustainedUsed  int64
	SustainedLimit int64
	// Exceeded is the first tier over its limit, burst reported before sustained.
	Exceeded   Tier
	RetryAfter time.Duration
	// Degraded is set when the counter store could not be reached.
	Degraded bool
}

// Limiter checks dual-tier limits against a shared counter store.
type Limiter struct {
	counter   Counter
	clock     clock.Clock
	ttlBuffer time.Duration
	log       logger.Logger
}

// New creates a limiter over counter.
func New(counter Counter, opts ...Option) *Limiter {
	l := &Limiter{
		counter:   counter,
		clock:     clock.Real{},
		ttlBuffer: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.Nop()
	}
	return l
}

// Check consumes one unit of both tiers for (scope, identity).
// Both tiers are always incremented so alternating request shapes cannot evade
// the sustained tier. When the store fails the result is Allowed and Degraded,
// and the wrapped error is returned so the caller can apply its failure policy.
func (l *Limiter) Check(ctx context.Context, scope, identity string, burst, sustained Spec) (Result, error) {
	if err := burst.Validate(); err != nil {
		return Result{Allowed: true, Degraded: true}, err
	}
	if err := sustained.Validate(); err != nil {
		return Result{Allowed: true, Degraded: true}, err
	}

	now := l.clock.Now()
	res := Result{BurstLimit: burst.Limit, SustainedLimit: sustained.Limit}

	bUsed, bReset, err := l.consume(ctx, scope, identity, TierBurst, burst, now)
	if err != nil {
		return l.degraded(ctx, res, scope, err)
	}
	sUsed, sReset, err := l.consume(ctx, scope, identity, TierSustained, sustained, now)
	if err != nil {
		return l.degraded(ctx, res, scope, err)
	}

	res.BurstUsed, res.SustainedUsed = bUsed, sUsed
	switch {
	case bUsed > burst.Limit:
		res.Exceeded, res.RetryAfter = TierBurst, bReset
	case sUsed > sustained.Limit:
		res.Exceeded, res.RetryAfter = TierSustained, sReset
	}
	res.Allowed = res.Exceeded == ""

	if !res.Allowed {
		metrics.RecordRateLimitRejection(scope, string(res.Exceeded))
	}
	return res, nil
}

// consume increments the current window of one tier and returns the count and
// the time left until the window rolls over.
func (l *Limiter) consume(ctx context.Context, scope, identity string, tier Tier, spec Spec, now time.Time) (int64, time.Duration, error) {
	windowID := now.UnixNano() / spec.Window.Nanoseconds()
	key := Key(scope, identity, tier, windowID)

	n, err := l.counter.IncrementWithTTL(ctx, key, spec.Window+l.ttlBuffer)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: rate limit counter %s: %v", model.ErrDependencyUnavailable, key, err)
	}

	windowEnd := time.Unix(0, (windowID+1)*spec.Window.Nanoseconds())
	return n, windowEnd.Sub(now), nil
}

func (l *Limiter) degraded(ctx context.Context, res Result, scope string, err error) (Result, error) {
	l.log.Warn(ctx, "rate limiter degraded, allowing request",
		logger.String("scope", scope),
		logger.Error(err),
	)
	res.Allowed = true
	res.Degraded = true
	return res, err
}

// Key builds the counter key for one tier window.
func Key(scope, identity string, tier Tier, windowID int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", scope, identity, tier, windowID)
}
