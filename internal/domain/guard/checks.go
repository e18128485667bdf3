package guard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/okian/txguard/internal/domain/anomaly"
	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/internal/domain/idempotency"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/internal/domain/payout"
	"github.com/okian/txguard/internal/domain/ratelimit"
	"github.com/okian/txguard/internal/domain/scoring"
	"github.com/okian/txguard/internal/domain/types"
	"github.com/okian/txguard/internal/domain/velocity"
	"github.com/okian/txguard/pkg/metrics"
)

// Check names, used for policies, metrics and spans.
const (
	CheckIdempotency    = "idempotency"
	CheckRateLimit      = "rate_limit"
	CheckRestriction    = "restriction"
	CheckFailedPurchase = "failed_purchase_burst"
	CheckVelocitySpend  = "velocity_spend"
	CheckVelocityCount  = "velocity_count"
	CheckRiskScore      = "risk_score"
	CheckCashoutLoop    = "cashout_loop"
	CheckPayoutGate     = "payout_gate"
)

// ReasonUserNotFound marks denials for actors without an account.
const ReasonUserNotFound = payout.ReasonUserNotFound

// defaultPolicies lists the checks that fail closed; everything else fails open.
var defaultPolicies = map[string]FailurePolicy{ //nolint:gochecknoglobals // static table
	CheckPayoutGate: PolicyClosed,
}

type named struct {
	name   string
	policy FailurePolicy
}

func (n named) Name() string          { return n.name }
func (n named) Policy() FailurePolicy { return n.policy }

// unknownActor denies requests from actors the ledger has no account for.
func unknownActor() Outcome {
	return Deny(types.Deny(types.CodeRiskBlocked, "account not found",
		map[string]any{"reason": ReasonUserNotFound}))
}

func retrySeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// idempotencyCheck takes the request's idempotency lock. The evaluation's
// decision id is the lock owner.
type idempotencyCheck struct {
	named
	guard *idempotency.Guard
}

func (c idempotencyCheck) Run(ctx context.Context, ev *Evaluation) Outcome {
	res, err := c.guard.Begin(ctx, ev.IdempotencyKey, ev.DecisionID)
	if err != nil {
		return Failed(err)
	}
	switch res.Status {
	case idempotency.StatusReplay:
		d := types.Deny(types.CodeIdempotentReplay, "request already processed", nil)
		d.Replay = res.Cached
		return Deny(d)
	case idempotency.StatusConflict:
		return Deny(types.Deny(types.CodeIdempotentConflict,
			"an identical request is already in progress", nil))
	}
	return Outcome{Verdict: VerdictPass, LockAcquired: true}
}

type rateLimitCheck struct {
	named
	limiter *ratelimit.Limiter
	scopes  map[model.ActionType]RateLimitScope
}

func (c rateLimitCheck) Run(ctx context.Context, ev *Evaluation) Outcome {
	scope, ok := c.scopes[ev.Request.ActionType]
	if !ok {
		return Pass()
	}
	res, err := c.limiter.Check(ctx, string(ev.Request.ActionType), ev.Request.ActorID, scope.Burst, scope.Sustained)
	if err != nil {
		return Failed(err)
	}
	if res.Allowed {
		return Pass()
	}
	details := map[string]any{
		"tier":           string(res.Exceeded),
		"burstUsed":      res.BurstUsed,
		"burstLimit":     res.BurstLimit,
		"sustainedUsed":  res.SustainedUsed,
		"sustainedLimit": res.SustainedLimit,
	}
	return Deny(types.Deny(types.CodeRateLimited, "too many requests", details).
		WithRetryAfter(retrySeconds(res.RetryAfter)))
}

// restrictionCheck denies purchases by accounts under an active restriction.
type restrictionCheck struct {
	named
	restrictor *anomaly.Restrictor
}

func (c restrictionCheck) Run(ctx context.Context, ev *Evaluation) Outcome {
	reason, found, err := c.restrictor.Restriction(ctx, ev.Request.ActorID)
	if err != nil {
		return Failed(fmt.Errorf("%w: restriction lookup: %v", model.ErrDependencyUnavailable, err))
	}
	if !found {
		return Pass()
	}
	return Deny(types.Deny(types.CodeRiskBlocked, "purchases are temporarily restricted",
		map[string]any{"restriction": reason}))
}

// failedPurchaseCheck restricts the account when recent purchase failures
// reach the threshold.
type failedPurchaseCheck struct {
	named
	detector   *anomaly.FailedPurchaseDetector
	restrictor *anomaly.Restrictor
	clock      clock.Clock
}

func (c failedPurchaseCheck) Run(ctx context.Context, ev *Evaluation) Outcome {
	res, err := c.detector.Detect(ctx, ev.Request.ActorID, c.detector.Window())
	if err != nil {
		return Failed(err)
	}
	if !res.Detected {
		return Pass()
	}
	metrics.RecordAnomaly(string(model.AlertCardTesting))
	details := map[string]any{
		"failedCount":   res.FailedCount,
		"windowMinutes": c.detector.Window().Minutes(),
	}
	if err := c.restrictor.Restrict(ctx, ev.Request.ActorID, model.AlertCardTesting); err != nil {
		details["restrictionError"] = err.Error()
	}
	alert := model.NewFraudAlert(ev.Request.ActorID, model.AlertCardTesting, model.SeverityHigh, details, c.clock.Now())
	alert.TransactionID = ev.DecisionID
	return Deny(types.Deny(types.CodeRiskBlocked, "too many failed purchase attempts", details), alert)
}

type velocitySpendCheck struct {
	named
	guard *velocity.Guard
}

func (c velocitySpendCheck) Run(ctx context.Context, ev *Evaluation) Outcome {
	profile, err := ev.Profile(ctx)
	if errors.Is(err, model.ErrAccountNotFound) {
		return unknownActor()
	}
	if err != nil {
		return Failed(fmt.Errorf("%w: profile: %v", model.ErrDependencyUnavailable, err))
	}
	tenure := c.guard.Tenure(profile.AccountAge)
	res, err := c.guard.CheckSpend(ctx, ev.Request.ActorID, ev.Request.ActionType, ev.Request.AmountTokens, tenure)
	if err != nil {
		return Failed(err)
	}
	if res.Allowed {
		return Pass()
	}
	return Deny(types.Deny(types.CodeVelocityExceeded, "spend limit reached", map[string]any{
		"family":    res.Family,
		"window":    res.Window.String(),
		"current":   res.Current,
		"limit":     res.Limit,
		"remaining": res.Remaining,
		"tenure":    string(tenure),
	}))
}

type velocityCountCheck struct {
	named
	guard *velocity.Guard
}

func (c velocityCountCheck) Run(ctx context.Context, ev *Evaluation) Outcome {
	res, err := c.guard.CheckActionCount(ctx, ev.Request.ActorID, ev.Request.ActionType)
	if err != nil {
		return Failed(err)
	}
	if res.Allowed {
		return Pass()
	}
	return Deny(types.Deny(types.CodeVelocityExceeded, "action count limit reached", map[string]any{
		"category":  string(ev.Request.ActionType),
		"window":    res.Window.String(),
		"current":   res.Current,
		"limit":     res.Limit,
		"remaining": res.Remaining,
	}))
}

// riskCheck scores the request. A failed profile load yields the degraded
// score through Fallback.
type riskCheck struct {
	named
	scorer *scoring.Scorer
	clock  clock.Clock
}

func (c riskCheck) Run(ctx context.Context, ev *Evaluation) Outcome {
	profile, err := ev.Profile(ctx)
	if errors.Is(err, model.ErrAccountNotFound) {
		return unknownActor()
	}
	if err != nil {
		return Failed(fmt.Errorf("%w: profile: %v", model.ErrDependencyUnavailable, err))
	}
	return c.classify(ev, c.scorer.Score(profile, ev.Request))
}

func (c riskCheck) Fallback(_ context.Context, ev *Evaluation, _ error) Outcome {
	return c.classify(ev, c.scorer.Degraded())
}

func (c riskCheck) classify(ev *Evaluation, a model.RiskAssessment) Outcome {
	metrics.RecordRiskScore(string(ev.Request.ActionType), a.Score)
	details := map[string]any{
		"score":      a.Score,
		"reasons":    a.Reasons,
		"actionType": string(ev.Request.ActionType),
		"amount":     ev.Request.AmountTokens,
	}
	if a.Degraded {
		details["degraded"] = true
	}

	var out Outcome
	switch c.scorer.Classify(a.Score) {
	case scoring.LevelBlock:
		alert := c.alert(ev, model.AlertHighRiskScore, model.SeverityHigh, details)
		out = Deny(types.Deny(types.CodeRiskBlocked, "transaction blocked by risk assessment",
			map[string]any{"score": a.Score}), alert)
	case scoring.LevelReview:
		out = Flag(c.alert(ev, model.AlertRiskReview, model.SeverityMedium, details))
	default:
		out = Pass()
	}
	out.Risk = &a
	return out
}

func (c riskCheck) alert(ev *Evaluation, t model.AlertType, sev model.Severity, details map[string]any) model.FraudAlert {
	a := model.NewFraudAlert(ev.Request.ActorID, t, sev, details, c.clock.Now())
	a.TransactionID = ev.DecisionID
	return a
}

// cashoutLoopCheck inspects the sender/recipient pair of a transfer.
type cashoutLoopCheck struct {
	named
	detector *anomaly.CashoutLoopDetector
	clock    clock.Clock
}

func (c cashoutLoopCheck) Run(ctx context.Context, ev *Evaluation) Outcome {
	res, err := c.detector.Detect(ctx, ev.Request.ActorID, ev.Request.TargetID, c.detector.Window())
	if err != nil {
		return Failed(err)
	}
	if res.Severity == "" {
		return Pass()
	}
	details := res.Details()
	details["recipientId"] = ev.Request.TargetID
	alert := model.NewFraudAlert(ev.Request.ActorID, model.AlertCashoutLoop, res.Severity, details, c.clock.Now())
	alert.TransactionID = ev.DecisionID
	if !res.Detected {
		// Slow cashouts are reported but do not block.
		return Outcome{Verdict: VerdictPass, Alerts: []model.FraudAlert{alert}}
	}
	metrics.RecordAnomaly(string(model.AlertCashoutLoop))
	return Deny(types.Deny(types.CodeCashoutLoopDetected, "transfer pattern matches a cashout loop", details), alert)
}

// payoutGateCheck runs the payout eligibility gate.
type payoutGateCheck struct {
	named
	gate  *payout.Gate
	clock clock.Clock
}

func (c payoutGateCheck) Run(ctx context.Context, ev *Evaluation) Outcome {
	res, err := c.gate.Evaluate(ctx, ev.Request, ev.Profile)
	if err != nil {
		return Failed(err)
	}
	switch res.Status {
	case payout.StatusHeld:
		return Deny(types.Deny(types.CodePayoutHeld, "payout is on hold", res.Details()))
	case payout.StatusRejected:
		d := types.Deny(types.CodePayoutRejected, "payout rejected", res.Details())
		if !res.RequiresReview {
			return Deny(d)
		}
		if res.Reason == payout.ReasonSuspiciousCashout {
			metrics.RecordAnomaly(string(model.AlertCashoutLoop))
		}
		alert := model.NewFraudAlert(ev.Request.ActorID, model.AlertPayoutReview, model.SeverityHigh, res.Details(), c.clock.Now())
		alert.TransactionID = ev.DecisionID
		return Deny(d, alert)
	}
	return Pass()
}

// ClosedDecision rejects the payout when eligibility could not be established.
func (c payoutGateCheck) ClosedDecision(_ *Evaluation, _ error) types.Decision {
	res := payout.Result{Status: payout.StatusRejected, Reason: payout.ReasonEvaluationFailed}
	return types.Deny(types.CodePayoutRejected, "payout could not be verified", res.Details())
}

// isTimeout reports whether err came from the per-check deadline.
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
