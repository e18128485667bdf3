package guard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/txguard/internal/domain/anomaly"
	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/internal/domain/idempotency"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/internal/domain/payout"
	"github.com/okian/txguard/internal/domain/ratelimit"
	"github.com/okian/txguard/internal/domain/scoring"
	"github.com/okian/txguard/internal/domain/types"
	"github.com/okian/txguard/internal/domain/velocity"
	"github.com/okian/txguard/pkg/logger"
	"github.com/okian/txguard/pkg/metrics"
	"github.com/okian/txguard/pkg/telemetry"
)

// CounterStore is the shared fast store behind rate limits, idempotency and restrictions.
type CounterStore interface {
	ratelimit.Counter
	idempotency.Store
	anomaly.RestrictionStore
}

// Ledger is the transaction history read by velocity, anomaly and payout checks.
type Ledger interface {
	velocity.Ledger
	anomaly.Ledger
	payout.Ledger
}

// AlertSink receives fraud alerts. Record must not block the caller.
type AlertSink interface {
	Record(ctx context.Context, alert model.FraudAlert)
}

type nopSink struct{}

func (nopSink) Record(context.Context, model.FraudAlert) {}

// Stats is a snapshot of decision counts.
type Stats struct {
	Evaluations  int64            `json:"evaluations"`
	Allowed      int64            `json:"allowed"`
	Denied       int64            `json:"denied"`
	ReviewQueued int64            `json:"reviewQueued"`
	CheckFailed  int64            `json:"checkFailures"`
	ByCode       map[string]int64 `json:"byCode"`
}

// Orchestrator runs the per-action pipelines.
type Orchestrator struct {
	cfg      Config
	clock    clock.Clock
	log      logger.Logger
	alerts   AlertSink
	profiles ProfileSource
	idem     *idempotency.Guard

	overrides map[model.ActionType][]Check
	pipelines map[model.ActionType][]Check

	evaluations  atomic.Int64
	allowed      atomic.Int64
	denied       atomic.Int64
	reviewQueued atomic.Int64
	checkFailed  atomic.Int64
	mu           sync.Mutex
	byCode       map[types.Code]int64
}

// New wires every check over store, ledger and profiles.
func New(store CounterStore, ledger Ledger, profiles ProfileSource, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		cfg:       cfg,
		clock:     clock.Real{},
		alerts:    nopSink{},
		profiles:  profiles,
		overrides: make(map[model.ActionType][]Check),
		byCode:    make(map[types.Code]int64),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.Nop()
	}

	o.idem = idempotency.New(store,
		idempotency.WithLockTTL(cfg.Idempotency.LockTTL),
		idempotency.WithResultTTL(cfg.Idempotency.ResultTTL),
		idempotency.WithClock(o.clock),
		idempotency.WithLogger(o.log.Named("idempotency")),
	)
	limiter := ratelimit.New(store, ratelimit.WithClock(o.clock), ratelimit.WithLogger(o.log.Named("ratelimit")))
	vel := velocity.New(ledger, cfg.Velocity, velocity.WithClock(o.clock), velocity.WithLogger(o.log.Named("velocity")))
	scorer := scoring.NewScorer(cfg.Scoring, scoring.WithClock(o.clock))
	anomalyOpts := []anomaly.Option{anomaly.WithClock(o.clock), anomaly.WithLogger(o.log.Named("anomaly"))}
	restrictor := anomaly.NewRestrictor(store, cfg.Anomaly, anomalyOpts...)
	loops := anomaly.NewCashoutLoopDetector(ledger, cfg.Anomaly, anomalyOpts...)
	failures := anomaly.NewFailedPurchaseDetector(ledger, cfg.Anomaly, anomalyOpts...)
	gate := payout.NewGate(ledger, loops, cfg.Payout, payout.WithClock(o.clock), payout.WithLogger(o.log.Named("payout")))

	n := o.named
	idem := idempotencyCheck{named: n(CheckIdempotency), guard: o.idem}
	rate := rateLimitCheck{named: n(CheckRateLimit), limiter: limiter, scopes: cfg.RateLimits}
	spend := velocitySpendCheck{named: n(CheckVelocitySpend), guard: vel}
	count := velocityCountCheck{named: n(CheckVelocityCount), guard: vel}
	risk := riskCheck{named: n(CheckRiskScore), scorer: scorer, clock: o.clock}

	o.pipelines = map[model.ActionType][]Check{
		model.ActionPurchase: {
			idem, rate,
			restrictionCheck{named: n(CheckRestriction), restrictor: restrictor},
			failedPurchaseCheck{named: n(CheckFailedPurchase), detector: failures, restrictor: restrictor, clock: o.clock},
			spend, count, risk,
		},
		model.ActionTip:  {idem, rate, spend, count, risk, cashoutLoopCheck{named: n(CheckCashoutLoop), detector: loops, clock: o.clock}},
		model.ActionGift: {idem, rate, spend, count, risk, cashoutLoopCheck{named: n(CheckCashoutLoop), detector: loops, clock: o.clock}},
		model.ActionCall: {idem, rate, spend, count, risk},
		model.ActionPayout: {
			payoutGateCheck{named: n(CheckPayoutGate), gate: gate, clock: o.clock},
			risk,
		},
	}
	for action, checks := range o.overrides {
		o.pipelines[action] = checks
	}
	return o, nil
}

func (o *Orchestrator) named(name string) named {
	p, ok := o.cfg.Policies[name]
	if !ok {
		p, ok = defaultPolicies[name]
	}
	if !ok {
		p = PolicyOpen
	}
	return named{name: name, policy: p}
}

// Pipeline returns the names of the checks run for action, in order.
func (o *Orchestrator) Pipeline(action model.ActionType) []string {
	checks := o.pipelines[action]
	names := make([]string, len(checks))
	for i, c := range checks {
		names[i] = c.Name()
	}
	return names
}

// Evaluate runs the pipeline for req and returns its decision. The only error
// is a validation failure; check failures are resolved by their policy.
//
// An allowed spend decision leaves its idempotency lock held: the caller must
// Complete it after executing the mutation or Abort it.
func (o *Orchestrator) Evaluate(ctx context.Context, req model.TransactionRequest) (types.Decision, error) {
	if err := req.Validate(); err != nil {
		return types.Decision{}, err
	}

	ctx, span := telemetry.Tracer().Start(ctx, "guard.evaluate", trace.WithAttributes(
		attribute.String("guard.action", string(req.ActionType)),
		attribute.Int64("guard.amount_tokens", req.AmountTokens),
	))
	defer span.End()

	ev := &Evaluation{
		Request:    req,
		DecisionID: uuid.NewString(),
		StartedAt:  o.clock.Now(),
		profiles:   o.profiles,
	}
	if req.ActionType.IsSpend() {
		ev.IdempotencyKey = idempotency.KeyFor(req)
	}
	start := time.Now()

	d, alerts, lockHeld := o.run(ctx, ev)
	d.DecisionID = ev.DecisionID
	if lockHeld {
		d.IdempotencyKey = ev.IdempotencyKey
		if !d.Allowed {
			o.releaseLock(ctx, ev)
			d.IdempotencyKey = ""
		}
	}

	for _, a := range alerts {
		o.alerts.Record(ctx, a)
	}

	o.record(req.ActionType, d, time.Since(start))
	span.SetAttributes(
		attribute.String("guard.decision_id", d.DecisionID),
		attribute.String("guard.code", string(d.Code)),
		attribute.Bool("guard.allowed", d.Allowed),
	)
	o.log.Debug(ctx, "guard decision",
		logger.String("decision_id", d.DecisionID),
		logger.String("actor_id", req.ActorID),
		logger.String("action", string(req.ActionType)),
		logger.String("code", string(d.Code)),
		logger.Bool("allowed", d.Allowed),
		logger.Duration("elapsed", time.Since(start)),
	)
	return d, nil
}

// run executes ev's pipeline until the first denial.
func (o *Orchestrator) run(ctx context.Context, ev *Evaluation) (types.Decision, []model.FraudAlert, bool) {
	var (
		alerts   []model.FraudAlert
		risk     *model.RiskAssessment
		lockHeld bool
		review   bool
	)
	for _, c := range o.pipelines[ev.Request.ActionType] {
		out := o.runCheck(ctx, c, ev)
		alerts = append(alerts, out.Alerts...)
		if out.LockAcquired {
			lockHeld = true
		}
		if out.Risk != nil {
			risk = out.Risk
		}
		switch out.Verdict {
		case VerdictDeny:
			d := out.Decision
			d.Risk = risk
			return d, alerts, lockHeld
		case VerdictFlag:
			review = true
		}
	}

	d := types.Allow("transaction allowed")
	if review {
		d.Code = types.CodeReviewQueued
		d.Message = "transaction allowed and queued for review"
		d.ReviewQueued = true
	}
	d.Risk = risk
	return d, alerts, lockHeld
}

// runCheck runs c under the per-check deadline and applies its failure policy.
func (o *Orchestrator) runCheck(ctx context.Context, c Check, ev *Evaluation) Outcome {
	ctx, span := telemetry.Tracer().Start(ctx, "guard.check."+c.Name())
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, o.cfg.CheckTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Failed(fmt.Errorf("%w: %s: %v", ErrCheckPanicked, c.Name(), r))
			}
		}()
		done <- c.Run(cctx, ev)
	}()

	var out Outcome
	select {
	case out = <-done:
	case <-cctx.Done():
		out = Failed(fmt.Errorf("%w: %s: %w", model.ErrDependencyUnavailable, c.Name(), cctx.Err()))
		go o.releaseLate(ctx, ev, done)
	}
	metrics.RecordCheckLatency(c.Name(), time.Since(start))

	if out.Err == nil {
		span.SetAttributes(attribute.String("guard.verdict", string(out.Verdict)))
		return out
	}
	span.RecordError(out.Err)
	span.SetStatus(codes.Error, out.Err.Error())
	return o.applyPolicy(ctx, c, ev, out)
}

func (o *Orchestrator) applyPolicy(ctx context.Context, c Check, ev *Evaluation, failed Outcome) Outcome {
	policy := c.Policy()
	o.checkFailed.Add(1)
	metrics.RecordCheckFailure(c.Name(), string(policy))
	o.log.Warn(ctx, "guard check failed",
		logger.String("check", c.Name()),
		logger.String("policy", string(policy)),
		logger.String("decision_id", ev.DecisionID),
		logger.Bool("timeout", isTimeout(failed.Err)),
		logger.Error(failed.Err),
	)

	if policy == PolicyClosed {
		d := failed.Decision
		if cd, ok := c.(ClosedDecider); ok {
			d = cd.ClosedDecision(ev, failed.Err)
		}
		if d.Code == "" {
			d = types.Deny(types.CodeRiskBlocked, "unable to verify transaction",
				map[string]any{"check": c.Name()})
		}
		return Deny(d)
	}
	if fb, ok := c.(Fallback); ok {
		return fb.Fallback(ctx, ev, failed.Err)
	}
	return Pass()
}

// releaseLate waits for a check abandoned at its deadline. A lock it took
// afterwards belongs to a decision that was returned without it, so it is
// released instead of blocking identical retries until the lock TTL.
func (o *Orchestrator) releaseLate(ctx context.Context, ev *Evaluation, done <-chan Outcome) {
	if out := <-done; out.LockAcquired {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CheckTimeout)
		defer cancel()
		o.log.Warn(rctx, "releasing idempotency lock taken after the check deadline",
			logger.String("key", ev.IdempotencyKey),
			logger.String("decision_id", ev.DecisionID),
		)
		o.releaseLock(rctx, ev)
	}
}

func (o *Orchestrator) releaseLock(ctx context.Context, ev *Evaluation) {
	if err := o.idem.Abort(ctx, ev.IdempotencyKey, ev.DecisionID); err != nil {
		o.log.Warn(ctx, "failed to release idempotency lock",
			logger.String("key", ev.IdempotencyKey),
			logger.Error(err),
		)
	}
}

func (o *Orchestrator) record(action model.ActionType, d types.Decision, elapsed time.Duration) {
	o.evaluations.Add(1)
	if d.Allowed {
		o.allowed.Add(1)
	} else {
		o.denied.Add(1)
	}
	if d.ReviewQueued {
		o.reviewQueued.Add(1)
		metrics.RecordReviewQueued(string(action))
	}
	o.mu.Lock()
	o.byCode[d.Code]++
	o.mu.Unlock()

	metrics.RecordDecision(string(action), string(d.Code))
	metrics.RecordEvaluationLatency(string(action), elapsed)
}

// ownsKey reports whether key was issued for actorID.
func ownsKey(actorID, key string) bool {
	return actorID != "" && strings.HasPrefix(key, "idem:"+actorID+":")
}

// Complete caches response for a previously allowed decision so retries
// replay it.
func (o *Orchestrator) Complete(ctx context.Context, actorID, key, decisionID string, response []byte) error {
	if !ownsKey(actorID, key) {
		return ErrForeignKey
	}
	return o.idem.Complete(ctx, key, decisionID, response)
}

// Abort releases the lock of a previously allowed decision whose mutation did
// not happen.
func (o *Orchestrator) Abort(ctx context.Context, actorID, key, decisionID string) error {
	if !ownsKey(actorID, key) {
		return ErrForeignKey
	}
	return o.idem.Abort(ctx, key, decisionID)
}

// Stats returns decision counts since start.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	byCode := make(map[string]int64, len(o.byCode))
	for k, v := range o.byCode {
		byCode[string(k)] = v
	}
	o.mu.Unlock()
	return Stats{
		Evaluations:  o.evaluations.Load(),
		Allowed:      o.allowed.Load(),
		Denied:       o.denied.Load(),
		ReviewQueued: o.reviewQueued.Load(),
		CheckFailed:  o.checkFailed.Load(),
		ByCode:       byCode,
	}
}
