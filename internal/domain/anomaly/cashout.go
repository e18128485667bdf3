package anomaly

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/txguard/internal/domain/model"
)

// CashoutResult is the outcome of a cashout-loop check.
// Severity is medium when the ratio is high but the cashout was slow; such
// results are informational and not detected.
type CashoutResult struct {
	Detected      bool
	Severity      model.Severity
	CashoutRatio  float64
	Gifted        int64
	CashedOut     int64
	TimeToCashout time.Duration
}

// Details renders the result for decisions and alerts.
func (r CashoutResult) Details() map[string]any {
	return map[string]any{
		"cashoutRatio":       r.CashoutRatio,
		"gifted":             r.Gifted,
		"cashedOut":          r.CashedOut,
		"timeToCashoutHours": r.TimeToCashout.Hours(),
	}
}

// CashoutLoopDetector flags senders whose transfers are quickly cashed out by the recipient.
type CashoutLoopDetector struct {
	base
	ledger Ledger
	cfg    Config
}

// NewCashoutLoopDetector creates a detector with cfg.
func NewCashoutLoopDetector(ledger Ledger, cfg Config, opts ...Option) *CashoutLoopDetector {
	return &CashoutLoopDetector{base: newBase(opts), ledger: ledger, cfg: cfg}
}

// Window returns the configured trailing window.
func (d *CashoutLoopDetector) Window() time.Duration { return d.cfg.CashoutWindow }

// Detect compares what sender gave recipient over window with what recipient
// cashed out since the first of those transfers.
func (d *CashoutLoopDetector) Detect(ctx context.Context, sender, recipient string, window time.Duration) (CashoutResult, error) {
	return d.DetectWithPending(ctx, sender, recipient, window, 0)
}

// DetectWithPending is Detect with an in-flight cashout of pending tokens
// counted as happening now.
func (d *CashoutLoopDetector) DetectWithPending(ctx context.Context, sender, recipient string, window time.Duration, pending int64) (CashoutResult, error) {
	now := d.clock.Now()
	gifted, firstGift, err := d.ledger.SumTransfers(ctx, sender, recipient, now.Add(-window))
	if err != nil {
		return CashoutResult{}, fmt.Errorf("%w: sum transfers: %v", model.ErrDependencyUnavailable, err)
	}
	if gifted <= 0 || firstGift == nil {
		return CashoutResult{}, nil
	}

	cashed, firstCash, err := d.ledger.SumCashouts(ctx, recipient, *firstGift)
	if err != nil {
		return CashoutResult{}, fmt.Errorf("%w: sum cashouts: %v", model.ErrDependencyUnavailable, err)
	}
	if pending > 0 {
		cashed += pending
		if firstCash == nil {
			firstCash = &now
		}
	}

	res := CashoutResult{
		Gifted:       gifted,
		CashedOut:    cashed,
		CashoutRatio: float64(cashed) / float64(gifted),
	}
	if firstCash == nil {
		return res, nil
	}
	res.TimeToCashout = max(0, firstCash.Sub(*firstGift))

	if res.CashoutRatio <= d.cfg.CashoutRatioThreshold || gifted < d.cfg.CashoutMinGifted {
		return res, nil
	}
	if res.TimeToCashout < d.cfg.CashoutMaxDelay {
		res.Detected = true
		res.Severity = model.SeverityHigh
		return res, nil
	}
	res.Severity = model.SeverityMedium
	return res, nil
}
