// Package payout gates irreversible payouts. Evaluation is a fixed sequence of
// steps ending in ELIGIBLE, HELD or REJECTED; any internal error rejects.
package payout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/okian/txguard/internal/domain/anomaly"
	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/pkg/logger"
	"github.com/okian/txguard/pkg/metrics"
)

// Ledger is the read access the gate needs.
type Ledger interface {
	FirstEarningTimestamp(ctx context.Context, identity string) (*time.Time, error)
	TopSender(ctx context.Context, recipient string, since time.Time) (sender string, amount, total int64, err error)
}

// LoopDetector checks a sender/recipient pair for a cashout loop.
type LoopDetector interface {
	Window() time.Duration
	DetectWithPending(ctx context.Context, sender, recipient string, window time.Duration, pending int64) (anomaly.CashoutResult, error)
}

// ProfileLoader returns the requesting account's profile.
type ProfileLoader func(ctx context.Context) (model.AccountProfile, error)

// Status is a terminal gate state.
type Status string

// Gate states.
const (
	StatusEligible Status = "ELIGIBLE"
	StatusHeld     Status = "HELD"
	StatusRejected Status = "REJECTED"
)

// Reasons.
const (
	ReasonUserNotFound      = "user_not_found"
	ReasonAccountTooNew     = "account_too_new"
	ReasonNoEarningHistory  = "no_earning_history"
	ReasonEarningsTooRecent = "earnings_too_recent"
	ReasonBelowMinimum      = "below_minimum"
	ReasonSuspiciousCashout = "suspicious_cashout_pattern"
	ReasonEvaluationFailed  = "evaluation_failed"
)

// Result is the outcome of one evaluation.
type Result struct {
	Status             Status
	Reason             string
	HoldHoursRemaining int
	Minimum            int64
	RequiresReview     bool
	Cashout            *anomaly.CashoutResult
}

// Details renders the result for a decision.
func (r Result) Details() map[string]any {
	d := map[string]any{"status": string(r.Status)}
	if r.Reason != "" {
		d["reason"] = r.Reason
	}
	if r.HoldHoursRemaining > 0 {
		d["holdHoursRemaining"] = r.HoldHoursRemaining
	}
	if r.Minimum > 0 {
		d["minimum"] = r.Minimum
	}
	if r.RequiresReview {
		d["requiresReview"] = true
	}
	if r.Cashout != nil {
		for k, v := range r.Cashout.Details() {
			d[k] = v
		}
	}
	return d
}

// Config holds the gate's constants.
type Config struct {
	MinAccountAge   time.Duration `koanf:"min_account_age" yaml:"min_account_age"`
	MinEarningAge   time.Duration `koanf:"min_earning_age" yaml:"min_earning_age"`
	MinPayoutTokens int64         `koanf:"min_payout_tokens" yaml:"min_payout_tokens"`
	// MinSenderShare is the share of received transfers the top sender must
	// hold before the cashout-loop step inspects that pair.
	MinSenderShare float64 `koanf:"min_sender_share" yaml:"min_sender_share"`
}

// DefaultConfig returns the canonical gate constants.
func DefaultConfig() Config {
	return Config{
		MinAccountAge:   72 * time.Hour,
		MinEarningAge:   48 * time.Hour,
		MinPayoutTokens: 1000,
		MinSenderShare:  0.5,
	}
}

// Validate checks the constants.
func (c Config) Validate() error {
	if c.MinAccountAge < 0 || c.MinEarningAge < 0 || c.MinPayoutTokens <= 0 ||
		c.MinSenderShare < 0 || c.MinSenderShare > 1 {
		return ErrInvalidConfig
	}
	return nil
}

// Gate evaluates payout eligibility.
type Gate struct {
	ledger   Ledger
	detector LoopDetector
	cfg      Config
	clock    clock.Clock
	log      logger.Logger
}

// NewGate creates a gate.
func NewGate(ledger Ledger, detector LoopDetector, cfg Config, opts ...Option) *Gate {
	g := &Gate{ledger: ledger, detector: detector, cfg: cfg, clock: clock.Real{}}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logger.Nop()
	}
	return g
}

// Evaluate runs the gate for a payout request. On any error the result is
// REJECTED and the error is returned alongside it.
func (g *Gate) Evaluate(ctx context.Context, req model.TransactionRequest, loadProfile ProfileLoader) (Result, error) {
	res, err := g.evaluate(ctx, req, loadProfile)
	if err != nil {
		g.log.Error(ctx, "payout gate failed closed",
			logger.String("actor", req.ActorID),
			logger.Error(err),
		)
		res = Result{Status: StatusRejected, Reason: ReasonEvaluationFailed}
	}
	metrics.RecordPayoutOutcome(string(res.Status), res.Reason)
	return res, err
}

func (g *Gate) evaluate(ctx context.Context, req model.TransactionRequest, loadProfile ProfileLoader) (Result, error) {
	now := g.clock.Now()

	profile, err := loadProfile(ctx)
	if errors.Is(err, model.ErrAccountNotFound) {
		return Result{Status: StatusRejected, Reason: ReasonUserNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: load profile: %v", model.ErrDependencyUnavailable, err)
	}

	if !profile.KYCVerified && profile.AccountAge < g.cfg.MinAccountAge {
		return Result{
			Status:             StatusHeld,
			Reason:             ReasonAccountTooNew,
			HoldHoursRemaining: ceilHours(g.cfg.MinAccountAge - profile.AccountAge),
		}, nil
	}

	firstEarning, err := g.ledger.FirstEarningTimestamp(ctx, req.ActorID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: first earning: %v", model.ErrDependencyUnavailable, err)
	}
	if firstEarning == nil {
		return Result{Status: StatusHeld, Reason: ReasonNoEarningHistory}, nil
	}
	if earningAge := now.Sub(*firstEarning); earningAge < g.cfg.MinEarningAge {
		return Result{
			Status:             StatusHeld,
			Reason:             ReasonEarningsTooRecent,
			HoldHoursRemaining: ceilHours(g.cfg.MinEarningAge - earningAge),
		}, nil
	}

	if req.AmountTokens < g.cfg.MinPayoutTokens {
		return Result{Status: StatusRejected, Reason: ReasonBelowMinimum, Minimum: g.cfg.MinPayoutTokens}, nil
	}

	window := g.detector.Window()
	sender, amount, total, err := g.ledger.TopSender(ctx, req.ActorID, now.Add(-window))
	if err != nil {
		return Result{}, fmt.Errorf("%w: top sender: %v", model.ErrDependencyUnavailable, err)
	}
	if sender != "" && total > 0 && float64(amount)/float64(total) >= g.cfg.MinSenderShare {
		loop, err := g.detector.DetectWithPending(ctx, sender, req.ActorID, window, req.AmountTokens)
		if err != nil {
			return Result{}, err
		}
		if loop.Detected {
			return Result{
				Status:         StatusRejected,
				Reason:         ReasonSuspiciousCashout,
				RequiresReview: true,
				Cashout:        &loop,
			}, nil
		}
	}

	return Result{Status: StatusEligible}, nil
}

func ceilHours(d time.Duration) int {
	return int(math.Ceil(d.Hours()))
}
