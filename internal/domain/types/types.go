// Package types contains common types used across the application
package types

import "github.com/okian/txguard/internal/domain/model"

// Code is the stable machine-readable outcome of a guard evaluation.
type Code string

// Decision codes.
const (
	CodeOK                  Code = "OK"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeVelocityExceeded    Code = "VELOCITY_EXCEEDED"
	CodeRiskBlocked         Code = "RISK_BLOCKED"
	CodeReviewQueued        Code = "REVIEW_QUEUED"
	CodePayoutHeld          Code = "PAYOUT_HELD"
	CodePayoutRejected      Code = "PAYOUT_REJECTED"
	CodeCashoutLoopDetected Code = "CASHOUT_LOOP_DETECTED"
	CodeIdempotentReplay    Code = "IDEMPOTENT_REPLAY"
	CodeIdempotentConflict  Code = "IDEMPOTENT_CONFLICT"
)

// Decision is the result of evaluating one transaction request.
type Decision struct {
	Allowed           bool                  `json:"allowed"`
	Code              Code                  `json:"code"`
	Message           string                `json:"message"`
	RetryAfterSeconds *int                  `json:"retryAfterSeconds,omitempty"`
	Details           map[string]any        `json:"details,omitempty"`
	DecisionID        string                `json:"decisionId"`
	IdempotencyKey    string                `json:"idempotencyKey,omitempty"`
	ReviewQueued      bool                  `json:"reviewQueued"`
	Risk              *model.RiskAssessment `json:"risk,omitempty"`
	// Replay carries the cached response bytes for IDEMPOTENT_REPLAY decisions.
	Replay []byte `json:"-"`
}

// Allow returns an allowed decision with code OK.
func Allow(msg string) Decision {
	return Decision{Allowed: true, Code: CodeOK, Message: msg}
}

// Deny returns a denied decision.
func Deny(code Code, msg string, details map[string]any) Decision {
	return Decision{Allowed: false, Code: code, Message: msg, Details: details}
}

// WithRetryAfter sets RetryAfterSeconds.
func (d Decision) WithRetryAfter(seconds int) Decision {
	d.RetryAfterSeconds = &seconds
	return d
}
