// Package guard composes the individual checks into per-action pipelines and
// turns their outcomes into a single decision.
package guard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/internal/domain/types"
)

// FailurePolicy says what a check's failure means.
type FailurePolicy string

// Policies.
const (
	// PolicyOpen treats a failed check as passed, or as its fallback outcome.
	PolicyOpen FailurePolicy = "open"
	// PolicyClosed treats a failed check as a denial.
	PolicyClosed FailurePolicy = "closed"
)

// Valid reports whether p is a known policy.
func (p FailurePolicy) Valid() bool {
	return p == PolicyOpen || p == PolicyClosed
}

// Verdict is the tag of a check outcome.
type Verdict string

// Verdicts.
const (
	VerdictPass Verdict = "pass"
	VerdictFlag Verdict = "flag"
	VerdictDeny Verdict = "deny"
)

// Outcome is the tagged result of one check. A non-nil Err means the check
// could not complete; Verdict is then ignored and the check's policy decides.
type Outcome struct {
	Verdict Verdict
	// Decision carries code, message and details for denials. For failed
	// checks it is the denial used under PolicyClosed.
	Decision types.Decision
	Risk     *model.RiskAssessment
	Alerts   []model.FraudAlert
	// LockAcquired is set by the idempotency check when it took the key.
	LockAcquired bool
	Err          error
}

// Pass is a passing outcome.
func Pass() Outcome { return Outcome{Verdict: VerdictPass} }

// Flag is a passing outcome that queues the request for review.
func Flag(alerts ...model.FraudAlert) Outcome {
	return Outcome{Verdict: VerdictFlag, Alerts: alerts}
}

// Deny is a denying outcome.
func Deny(d types.Decision, alerts ...model.FraudAlert) Outcome {
	d.Allowed = false
	return Outcome{Verdict: VerdictDeny, Decision: d, Alerts: alerts}
}

// Failed is the outcome of a check that could not complete.
func Failed(err error) Outcome { return Outcome{Err: err} }

// Check is one step of a pipeline. Run must not mutate the evaluation: it may
// keep running after the orchestrator has given up on it.
type Check interface {
	Name() string
	Policy() FailurePolicy
	Run(ctx context.Context, ev *Evaluation) Outcome
}

// Fallback is implemented by checks that have a specific outcome to use when
// they fail under PolicyOpen.
type Fallback interface {
	Fallback(ctx context.Context, ev *Evaluation, err error) Outcome
}

// ClosedDecider is implemented by checks that name their own denial when they
// fail under PolicyClosed, including when they time out before returning.
type ClosedDecider interface {
	ClosedDecision(ev *Evaluation, err error) types.Decision
}

// ProfileSource loads account profiles.
type ProfileSource interface {
	Profile(ctx context.Context, actorID string) (model.AccountProfile, error)
}

// Evaluation is the per-request state shared by the checks of one pipeline run.
type Evaluation struct {
	Request        model.TransactionRequest
	DecisionID     string
	IdempotencyKey string
	StartedAt      time.Time

	profiles ProfileSource
	mu       sync.Mutex
	loaded   bool
	profile  model.AccountProfile
	err      error
}

// Profile returns the actor's profile, fetched at most once per evaluation.
// Failed loads are not memoized so a later check can retry.
func (e *Evaluation) Profile(ctx context.Context) (model.AccountProfile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return e.profile, e.err
	}
	p, err := e.profiles.Profile(ctx, e.Request.ActorID)
	if err == nil || errors.Is(err, model.ErrAccountNotFound) {
		e.loaded = true
		e.profile, e.err = p, err
	}
	return p, err
}
