package scoring

import (
	"github.com/shopspring/decimal"
)

// Weights are the points contributed by each factor bucket.
type Weights struct {
	AgeUnderHour    int `koanf:"age_under_hour" yaml:"age_under_hour"`
	AgeUnderDay     int `koanf:"age_under_day" yaml:"age_under_day"`
	AgeUnderWeek    int `koanf:"age_under_week" yaml:"age_under_week"`
	NoHistory       int `koanf:"no_history" yaml:"no_history"`
	ThinHistory     int `koanf:"thin_history" yaml:"thin_history"`
	EmailUnverified int `koanf:"email_unverified" yaml:"email_unverified"`
	KYCUnverified   int `koanf:"kyc_unverified" yaml:"kyc_unverified"`
	SparseActivity  int `koanf:"sparse_activity" yaml:"sparse_activity"`
	AmountOver5x    int `koanf:"amount_over_5x" yaml:"amount_over_5x"`
	AmountOver3x    int `koanf:"amount_over_3x" yaml:"amount_over_3x"`
	FlaggedFunding  int `koanf:"flagged_funding" yaml:"flagged_funding"`
	PayoutWithin2h  int `koanf:"payout_within_2h" yaml:"payout_within_2h"`
	PayoutWithin24h int `koanf:"payout_within_24h" yaml:"payout_within_24h"`
}

// Config holds scoring weights, thresholds and pricing.
type Config struct {
	Weights         Weights `koanf:"weights" yaml:"weights"`
	BlockThreshold  int     `koanf:"block_threshold" yaml:"block_threshold"`
	ReviewThreshold int     `koanf:"review_threshold" yaml:"review_threshold"`
	DegradedScore   int     `koanf:"degraded_score" yaml:"degraded_score"`
	// TokenPriceUSD converts token amounts to USD for the amount factor.
	TokenPriceUSD decimal.Decimal `koanf:"token_price_usd" yaml:"token_price_usd"`
	// NewAccountBaselineUSD stands in for the average when there is no history.
	NewAccountBaselineUSD decimal.Decimal `koanf:"new_account_baseline_usd" yaml:"new_account_baseline_usd"`
	FlaggedFunding        []string        `koanf:"flagged_funding" yaml:"flagged_funding"`
	// Sparse activity: account at least ActivityMinAgeDays old with
	// activeDays*ActivityRatio < ageDays.
	ActivityMinAgeDays int64 `koanf:"activity_min_age_days" yaml:"activity_min_age_days"`
	ActivityRatio      int64 `koanf:"activity_ratio" yaml:"activity_ratio"`
}

// DefaultConfig returns the canonical factor table.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			AgeUnderHour:    30,
			AgeUnderDay:     20,
			AgeUnderWeek:    10,
			NoHistory:       20,
			ThinHistory:     10,
			EmailUnverified: 10,
			KYCUnverified:   5,
			SparseActivity:  15,
			AmountOver5x:    20,
			AmountOver3x:    10,
			FlaggedFunding:  15,
			PayoutWithin2h:  25,
			PayoutWithin24h: 15,
		},
		BlockThreshold:        70,
		ReviewThreshold:       50,
		DegradedScore:         50,
		TokenPriceUSD:         decimal.RequireFromString("0.05"),
		NewAccountBaselineUSD: decimal.NewFromInt(50),
		FlaggedFunding:        []string{"prepaid", "gift_card", "virtual_card"},
		ActivityMinAgeDays:    7,
		ActivityRatio:         10,
	}
}

// Validate checks threshold ordering and pricing.
func (c Config) Validate() error {
	if c.ReviewThreshold <= 0 || c.ReviewThreshold >= c.BlockThreshold || c.BlockThreshold > maxScore {
		return ErrInvalidThresholds
	}
	if !c.TokenPriceUSD.IsPositive() {
		return ErrInvalidPrice
	}
	return nil
}
