package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountProfile is a read-only snapshot of account signals fetched once per request.
type AccountProfile struct {
	ActorID                  string
	AccountAge               time.Duration
	EmailVerified            bool
	KYCVerified              bool
	PhoneVerified            bool
	LifetimeTransactionCount int64
	LifetimeSpendUSD         decimal.Decimal
	ActiveDaysCount          int64
	// LastPurchaseAt is nil when the account never completed a purchase.
	LastPurchaseAt *time.Time
}

// AgeHours returns the account age in fractional hours.
func (p AccountProfile) AgeHours() float64 {
	return p.AccountAge.Hours()
}

// RiskReason is one contributing factor of a risk assessment.
type RiskReason struct {
	Factor string `json:"factor"`
	Points int    `json:"points"`
	Detail string `json:"detail,omitempty"`
}

// RiskAssessment is the scored result for one request. Score is always within [0,100].
type RiskAssessment struct {
	Score      int          `json:"score"`
	Reasons    []RiskReason `json:"reasons"`
	Degraded   bool         `json:"degraded,omitempty"`
	ComputedAt time.Time    `json:"computedAt"`
}
