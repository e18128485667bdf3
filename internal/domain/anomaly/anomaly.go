// Package anomaly detects cashout loops and failed-purchase bursts, and keeps
// account-level purchase restrictions raised by the latter.
package anomaly

import (
	"context"
	"time"

	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/pkg/logger"
)

// Ledger is the read access the detectors need.
type Ledger interface {
	// SumTransfers returns tokens sent from sender to recipient since since and the first transfer time.
	SumTransfers(ctx context.Context, sender, recipient string, since time.Time) (int64, *time.Time, error)
	// SumCashouts returns tokens cashed out by identity since since and the first cashout time.
	SumCashouts(ctx context.Context, identity string, since time.Time) (int64, *time.Time, error)
	CountFailedPurchases(ctx context.Context, identity string, since time.Time) (int64, error)
}

// RestrictionStore is the subset of the shared counter store used for restrictions.
type RestrictionStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Config holds detector thresholds.
type Config struct {
	CashoutWindow         time.Duration `koanf:"cashout_window" yaml:"cashout_window"`
	CashoutRatioThreshold float64       `koanf:"cashout_ratio_threshold" yaml:"cashout_ratio_threshold"`
	CashoutMinGifted      int64         `koanf:"cashout_min_gifted" yaml:"cashout_min_gifted"`
	CashoutMaxDelay       time.Duration `koanf:"cashout_max_delay" yaml:"cashout_max_delay"`

	FailedPurchaseWindow    time.Duration `koanf:"failed_purchase_window" yaml:"failed_purchase_window"`
	FailedPurchaseThreshold int64         `koanf:"failed_purchase_threshold" yaml:"failed_purchase_threshold"`
	RestrictionTTL          time.Duration `koanf:"restriction_ttl" yaml:"restriction_ttl"`
}

// DefaultConfig returns the canonical detector thresholds.
func DefaultConfig() Config {
	return Config{
		CashoutWindow:           7 * 24 * time.Hour,
		CashoutRatioThreshold:   0.85,
		CashoutMinGifted:        500,
		CashoutMaxDelay:         48 * time.Hour,
		FailedPurchaseWindow:    time.Hour,
		FailedPurchaseThreshold: 3,
		RestrictionTTL:          24 * time.Hour,
	}
}

// Validate checks thresholds.
func (c Config) Validate() error {
	if c.CashoutRatioThreshold <= 0 || c.CashoutRatioThreshold > 1 ||
		c.CashoutWindow <= 0 || c.CashoutMaxDelay <= 0 ||
		c.FailedPurchaseWindow <= 0 || c.FailedPurchaseThreshold <= 0 || c.RestrictionTTL <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

type base struct {
	clock clock.Clock
	log   logger.Logger
}

func newBase(opts []Option) base {
	b := base{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&b)
	}
	if b.log == nil {
		b.log = logger.Nop()
	}
	return b
}

// restrictionKey is the counter store key of a purchase restriction.
func restrictionKey(identity string) string {
	return "restrict:purchase:" + identity
}

// Restrictor marks and looks up account-level purchase restrictions.
type Restrictor struct {
	base
	store RestrictionStore
	ttl   time.Duration
}

// NewRestrictor creates a restrictor whose markers live for cfg.RestrictionTTL.
func NewRestrictor(store RestrictionStore, cfg Config, opts ...Option) *Restrictor {
	return &Restrictor{base: newBase(opts), store: store, ttl: cfg.RestrictionTTL}
}

// Restrict blocks purchases by identity for the configured TTL.
func (r *Restrictor) Restrict(ctx context.Context, identity string, reason model.AlertType) error {
	if err := r.store.Set(ctx, restrictionKey(identity), string(reason), r.ttl); err != nil {
		return err
	}
	r.log.Warn(ctx, "purchase restriction applied",
		logger.String("identity", identity),
		logger.String("reason", string(reason)),
		logger.Duration("ttl", r.ttl),
	)
	return nil
}

// Restriction returns the active restriction reason for identity, if any.
func (r *Restrictor) Restriction(ctx context.Context, identity string) (string, bool, error) {
	return r.store.Get(ctx, restrictionKey(identity))
}
