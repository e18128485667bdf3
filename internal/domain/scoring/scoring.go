// Package scoring computes the weighted-factor risk score of a transaction request.
//
// Scoring is pure: it reads only the account profile fetched by the caller and
// the request itself. Factors are additive, each contributes at most one bucket,
// and the total is clamped to [0,100].
package scoring

import (
	"fmt"
	"slices"
	"time"

	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/shopspring/decimal"
)

// Score bounds.
const (
	minScore = 0
	maxScore = 100
)

// Factor names reported in assessments.
const (
	FactorAccountAge      = "account_age"
	FactorHistory         = "transaction_history"
	FactorEmailUnverified = "email_unverified"
	FactorKYCUnverified   = "kyc_unverified"
	FactorActivity        = "activity_pattern"
	FactorAmount          = "amount_vs_average"
	FactorPaymentMethod   = "payment_method"
	FactorPayoutTiming    = "payout_timing"
	FactorDegraded        = "degraded"
)

// DegradedReason is the reason attached to the conservative default score.
const DegradedReason = "risk calculation degraded"

// Level is the action implied by a score.
type Level string

// Levels.
const (
	LevelAllow  Level = "allow"
	LevelReview Level = "review"
	LevelBlock  Level = "block"
)

// Scorer computes risk assessments.
type Scorer struct {
	cfg   Config
	clock clock.Clock
}

// NewScorer creates a scorer with cfg.
func NewScorer(cfg Config, opts ...Option) *Scorer {
	s := &Scorer{cfg: cfg, clock: clock.Real{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() Config { return s.cfg }

// Score computes the assessment for req given profile.
func (s *Scorer) Score(profile model.AccountProfile, req model.TransactionRequest) model.RiskAssessment {
	now := s.clock.Now()
	w := s.cfg.Weights
	var reasons []model.RiskReason
	add := func(factor string, points int, detail string) {
		if points != 0 {
			reasons = append(reasons, model.RiskReason{Factor: factor, Points: points, Detail: detail})
		}
	}

	// Negative ages fall into the youngest bucket.
	age := profile.AccountAge
	switch {
	case age < time.Hour:
		add(FactorAccountAge, w.AgeUnderHour, "account younger than 1h")
	case age < 24*time.Hour:
		add(FactorAccountAge, w.AgeUnderDay, "account younger than 24h")
	case age < 7*24*time.Hour:
		add(FactorAccountAge, w.AgeUnderWeek, "account younger than 7d")
	}

	switch n := profile.LifetimeTransactionCount; {
	case n <= 0:
		add(FactorHistory, w.NoHistory, "no prior transactions")
	case n < 5:
		add(FactorHistory, w.ThinHistory, fmt.Sprintf("%d prior transactions", n))
	}

	if !profile.EmailVerified {
		add(FactorEmailUnverified, w.EmailUnverified, "")
	}
	if !profile.KYCVerified {
		add(FactorKYCUnverified, w.KYCUnverified, "")
	}

	ageDays := int64(age / (24 * time.Hour))
	if ageDays >= s.cfg.ActivityMinAgeDays && profile.ActiveDaysCount*s.cfg.ActivityRatio < ageDays {
		add(FactorActivity, w.SparseActivity,
			fmt.Sprintf("%d active days over %d days", profile.ActiveDaysCount, ageDays))
	}

	add(s.amountFactor(profile, req))

	if src := req.FundingSource(); src != "" && slices.Contains(s.cfg.FlaggedFunding, src) {
		add(FactorPaymentMethod, w.FlaggedFunding, src)
	}

	if req.ActionType == model.ActionPayout && profile.LastPurchaseAt != nil {
		switch since := now.Sub(*profile.LastPurchaseAt); {
		case since < 2*time.Hour:
			add(FactorPayoutTiming, w.PayoutWithin2h, "payout within 2h of a purchase")
		case since < 24*time.Hour:
			add(FactorPayoutTiming, w.PayoutWithin24h, "payout within 24h of a purchase")
		}
	}

	total := 0
	for _, r := range reasons {
		total += r.Points
	}
	if reasons == nil {
		reasons = []model.RiskReason{}
	}
	return model.RiskAssessment{
		Score:      clamp(total),
		Reasons:    reasons,
		ComputedAt: now.UTC(),
	}
}

// amountFactor compares the request's USD value against the actor's average
// transaction. Accounts without history are compared against a fixed baseline.
func (s *Scorer) amountFactor(p model.AccountProfile, req model.TransactionRequest) (string, int, string) {
	amountUSD := decimal.NewFromInt(req.AmountTokens).Mul(s.cfg.TokenPriceUSD)
	avg := s.cfg.NewAccountBaselineUSD
	if p.LifetimeTransactionCount > 0 {
		if a := p.LifetimeSpendUSD.Div(decimal.NewFromInt(p.LifetimeTransactionCount)); a.IsPositive() {
			avg = a
		}
	}
	if !avg.IsPositive() {
		return FactorAmount, 0, ""
	}

	ratio := amountUSD.Div(avg)
	detail := fmt.Sprintf("$%s vs average $%s", amountUSD.StringFixed(2), avg.StringFixed(2))
	switch {
	case ratio.GreaterThan(decimal.NewFromInt(5)):
		return FactorAmount, s.cfg.Weights.AmountOver5x, detail
	case ratio.GreaterThan(decimal.NewFromInt(3)):
		return FactorAmount, s.cfg.Weights.AmountOver3x, detail
	}
	return FactorAmount, 0, ""
}

// Degraded returns the conservative default used when scoring inputs cannot be read.
func (s *Scorer) Degraded() model.RiskAssessment {
	return model.RiskAssessment{
		Score:      clamp(s.cfg.DegradedScore),
		Reasons:    []model.RiskReason{{Factor: FactorDegraded, Points: s.cfg.DegradedScore, Detail: DegradedReason}},
		Degraded:   true,
		ComputedAt: s.clock.Now().UTC(),
	}
}

// Classify maps a score to its level.
func (s *Scorer) Classify(score int) Level {
	switch {
	case score >= s.cfg.BlockThreshold:
		return LevelBlock
	case score >= s.cfg.ReviewThreshold:
		return LevelReview
	}
	return LevelAllow
}

func clamp(v int) int {
	return min(maxScore, max(minScore, v))
}
