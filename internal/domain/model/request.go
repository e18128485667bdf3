// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
)

// ActionType is the kind of token-moving operation being guarded.
type ActionType string

// Known action types.
const (
	ActionPurchase ActionType = "purchase"
	ActionTip      ActionType = "tip"
	ActionGift     ActionType = "gift"
	ActionPayout   ActionType = "payout"
	ActionCall     ActionType = "call"
)

// ParseActionType normalizes s and reports whether it names a known action.
func ParseActionType(s string) (ActionType, bool) {
	a := ActionType(strings.ToLower(strings.TrimSpace(s)))
	return a, a.Valid()
}

// Valid reports whether a is one of the known action types.
func (a ActionType) Valid() bool {
	switch a {
	case ActionPurchase, ActionTip, ActionGift, ActionPayout, ActionCall:
		return true
	}
	return false
}

// IsSpend reports whether a consumes the actor's tokens.
func (a ActionType) IsSpend() bool {
	return a.Valid() && a != ActionPayout
}

// RequiresTarget reports whether a must name a recipient.
func (a ActionType) RequiresTarget() bool {
	return a == ActionTip || a == ActionGift
}

// TransactionRequest is one token-moving mutation submitted for evaluation.
// ActorID is supplied by the upstream identity provider and trusted as is.
type TransactionRequest struct {
	ActorID         string            `json:"actorId"`
	ActionType      ActionType        `json:"actionType"`
	AmountTokens    int64             `json:"amountTokens"`
	TargetID        string            `json:"targetId,omitempty"`
	PaymentMetadata map[string]string `json:"paymentMetadata,omitempty"`
	IdempotencyKey  string            `json:"idempotencyKey,omitempty"`
}

// Validate rejects malformed requests with an error wrapping ErrValidation.
func (r TransactionRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.ActorID) == "":
		return fmt.Errorf("%w: actorId is required", ErrValidation)
	case !r.ActionType.Valid():
		return fmt.Errorf("%w: unknown actionType %q", ErrValidation, r.ActionType)
	case r.AmountTokens <= 0:
		return fmt.Errorf("%w: amountTokens must be positive", ErrValidation)
	case r.ActionType.RequiresTarget() && strings.TrimSpace(r.TargetID) == "":
		return fmt.Errorf("%w: targetId is required for %s", ErrValidation, r.ActionType)
	case r.TargetID != "" && r.TargetID == r.ActorID:
		return fmt.Errorf("%w: targetId must differ from actorId", ErrValidation)
	}
	return nil
}

// FundingSource returns the payment instrument type from the metadata, if any.
func (r TransactionRequest) FundingSource() string {
	if r.PaymentMetadata == nil {
		return ""
	}
	return strings.ToLower(r.PaymentMetadata[MetadataFundingKey])
}

// MetadataFundingKey is the payment metadata entry naming the instrument type.
const MetadataFundingKey = "funding"
