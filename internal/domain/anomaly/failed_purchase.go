package anomaly

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/txguard/internal/domain/model"
)

// BurstResult is the outcome of a failed-purchase burst check.
type BurstResult struct {
	Detected    bool
	FailedCount int64
}

// FailedPurchaseDetector counts failed purchase attempts, a sign of stolen-instrument testing.
type FailedPurchaseDetector struct {
	base
	ledger    Ledger
	threshold int64
	window    time.Duration
}

// NewFailedPurchaseDetector creates a detector with cfg.
func NewFailedPurchaseDetector(ledger Ledger, cfg Config, opts ...Option) *FailedPurchaseDetector {
	return &FailedPurchaseDetector{
		base:      newBase(opts),
		ledger:    ledger,
		threshold: cfg.FailedPurchaseThreshold,
		window:    cfg.FailedPurchaseWindow,
	}
}

// Window returns the configured trailing window.
func (d *FailedPurchaseDetector) Window() time.Duration { return d.window }

// Detect reports whether identity reached the failure threshold within window.
func (d *FailedPurchaseDetector) Detect(ctx context.Context, identity string, window time.Duration) (BurstResult, error) {
	n, err := d.ledger.CountFailedPurchases(ctx, identity, d.clock.Now().Add(-window))
	if err != nil {
		return BurstResult{}, fmt.Errorf("%w: count failed purchases: %v", model.ErrDependencyUnavailable, err)
	}
	return BurstResult{Detected: n >= d.threshold, FailedCount: n}, nil
}
