package model

import (
	"time"

	"github.com/google/uuid"
)

// AlertType names the detector or rule that raised a fraud alert.
type AlertType string

// Alert types raised by the pipeline.
const (
	AlertCashoutLoop   AlertType = "cashout_loop"
	AlertCardTesting   AlertType = "card_testing"
	AlertHighRiskScore AlertType = "high_risk_score"
	AlertRiskReview    AlertType = "risk_review"
	AlertPayoutReview  AlertType = "payout_review"
)

// Severity of a fraud alert.
type Severity string

// Severities.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AlertStatusPending is the only status the pipeline ever assigns.
const AlertStatusPending = "PENDING"

// FraudAlert is a flagged event handed to the alert sink for manual review.
type FraudAlert struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	AlertType     AlertType      `json:"alertType"`
	Severity      Severity       `json:"severity"`
	Details       map[string]any `json:"details,omitempty"`
	TransactionID string         `json:"transactionId,omitempty"`
	Status        string         `json:"status"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// NewFraudAlert builds a pending alert with a fresh id.
func NewFraudAlert(userID string, t AlertType, sev Severity, details map[string]any, now time.Time) FraudAlert {
	return FraudAlert{
		ID:        uuid.NewString(),
		UserID:    userID,
		AlertType: t,
		Severity:  sev,
		Details:   details,
		Status:    AlertStatusPending,
		CreatedAt: now.UTC(),
	}
}
