// Package ledger provides read-only aggregate access to the token transaction
// history and the account profiles derived from it.
package ledger

import (
	"time"

	"github.com/okian/txguard/internal/domain/model"
	"github.com/shopspring/decimal"
)

// Status of a ledger transaction.
type Status string

// Transaction statuses.
const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

// Account is a row of the users table.
type Account struct {
	ID            string
	CreatedAt     time.Time
	EmailVerified bool
	KYCVerified   bool
	PhoneVerified bool
}

// Transaction is a row of the token_transactions table.
// UserID is the actor that initiated it; CounterpartyID receives tips, gifts and calls.
type Transaction struct {
	ID             string
	UserID         string
	CounterpartyID string
	Type           model.ActionType
	AmountTokens   int64
	AmountUSD      decimal.Decimal
	Status         Status
	CreatedAt      time.Time
}

// earningTypes are the incoming transfers that count as creator earnings.
var earningTypes = []model.ActionType{model.ActionTip, model.ActionGift, model.ActionCall}

// transferTypes are sender-to-recipient transfers considered by the cashout-loop detector.
var transferTypes = []model.ActionType{model.ActionTip, model.ActionGift}

func actionStrings(actions []model.ActionType) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}
