package guard_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/txguard/internal/adapters/ledger"
	"github.com/okian/txguard/internal/adapters/store"
	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/internal/domain/guard"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/internal/domain/types"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	alerts []model.FraudAlert
}

func (s *recordingSink) Record(_ context.Context, a model.FraudAlert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *recordingSink) types() []model.AlertType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AlertType, len(s.alerts))
	for i, a := range s.alerts {
		out[i] = a.AlertType
	}
	return out
}

type failingProfiles struct{}

func (failingProfiles) Profile(context.Context, string) (model.AccountProfile, error) {
	return model.AccountProfile{}, errors.New("profile store down")
}

// hangingProfiles answers only after delay, ignoring cancellation.
type hangingProfiles struct{ delay time.Duration }

func (h hangingProfiles) Profile(context.Context, string) (model.AccountProfile, error) {
	time.Sleep(h.delay)
	return model.AccountProfile{ActorID: "creator", AccountAge: 100 * time.Hour, KYCVerified: true}, nil
}

// lateLockStore takes its locks only after delay, ignoring the caller's deadline.
type lateLockStore struct {
	*store.MemoryStore
	delay    time.Duration
	acquired atomic.Int64
}

func (s *lateLockStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	time.Sleep(s.delay)
	ok, err := s.MemoryStore.SetIfAbsent(context.Background(), key, value, ttl)
	if ok {
		s.acquired.Add(1)
	}
	return ok, err
}

type fixture struct {
	clock  *clock.Fake
	store  *store.MemoryStore
	ledger *ledger.MemoryLedger
	sink   *recordingSink
	guard  *guard.Orchestrator
}

func newFixture(cfg guard.Config, opts ...guard.Option) fixture {
	fc := clock.NewFake(now)
	f := fixture{
		clock:  fc,
		store:  store.NewMemoryStore(store.WithClock(fc)),
		ledger: ledger.NewMemoryLedger(ledger.WithClock(fc)),
		sink:   &recordingSink{},
	}
	opts = append([]guard.Option{guard.WithClock(fc), guard.WithAlertSink(f.sink)}, opts...)
	g, err := guard.New(f.store, f.ledger, f.ledger, cfg, opts...)
	if err != nil {
		panic(err)
	}
	f.guard = g
	return f
}

func (f fixture) tx(from, to string, action model.ActionType, tokens int64, status ledger.Status, ago time.Duration) {
	f.ledger.Record(ledger.Transaction{
		ID: fmt.Sprintf("%s-%s-%d", from, action, ago), UserID: from, CounterpartyID: to, Type: action,
		AmountTokens: tokens, AmountUSD: decimal.NewFromInt(tokens).Mul(decimal.RequireFromString("0.05")),
		Status: status, CreatedAt: now.Add(-ago),
	})
}

// trusted creates a verified 30 day old account with six small purchases on
// six different days.
func (f fixture) trusted(id string) {
	f.ledger.AddAccount(ledger.Account{ID: id, CreatedAt: now.Add(-30 * 24 * time.Hour), EmailVerified: true, KYCVerified: true})
	for d := 1; d <= 6; d++ {
		f.tx(id, "", model.ActionPurchase, 100, ledger.StatusCompleted, time.Duration(d)*24*time.Hour)
	}
}

func (f fixture) evaluate(req model.TransactionRequest) types.Decision {
	d, err := f.guard.Evaluate(context.Background(), req)
	So(err, ShouldBeNil)
	return d
}

func purchase(actor string, tokens int64, key string) model.TransactionRequest {
	return model.TransactionRequest{ActorID: actor, ActionType: model.ActionPurchase, AmountTokens: tokens, IdempotencyKey: key}
}

func TestOrchestratorSpend(t *testing.T) {
	Convey("Given an orchestrator over memory backends", t, func() {
		f := newFixture(guard.DefaultConfig())
		ctx := context.Background()

		Convey("When a trusted account makes a small purchase", func() {
			f.trusted("fan")
			d := f.evaluate(purchase("fan", 100, "k1"))

			Convey("Then it should be allowed with a held idempotency key", func() {
				So(d.Allowed, ShouldBeTrue)
				So(d.Code, ShouldEqual, types.CodeOK)
				So(d.DecisionID, ShouldNotBeEmpty)
				So(d.IdempotencyKey, ShouldEqual, "idem:fan:k1")
				So(d.Risk, ShouldNotBeNil)
				So(d.Risk.Score, ShouldEqual, 0)
			})

			Convey("Then an overlapping retry should conflict", func() {
				again := f.evaluate(purchase("fan", 100, "k1"))
				So(again.Allowed, ShouldBeFalse)
				So(again.Code, ShouldEqual, types.CodeIdempotentConflict)
			})

			Convey("Then a retry after completion should replay the stored response", func() {
				So(f.guard.Complete(ctx, "fan", d.IdempotencyKey, d.DecisionID, []byte(`{"receipt":"r-1"}`)), ShouldBeNil)

				again := f.evaluate(purchase("fan", 100, "k1"))
				So(again.Code, ShouldEqual, types.CodeIdempotentReplay)
				So(string(again.Replay), ShouldEqual, `{"receipt":"r-1"}`)
			})

			Convey("Then a retry after abort should proceed", func() {
				So(f.guard.Abort(ctx, "fan", d.IdempotencyKey, d.DecisionID), ShouldBeNil)

				again := f.evaluate(purchase("fan", 100, "k1"))
				So(again.Allowed, ShouldBeTrue)
			})

			Convey("Then another actor cannot complete the key", func() {
				err := f.guard.Complete(ctx, "mallory", d.IdempotencyKey, d.DecisionID, nil)
				So(errors.Is(err, guard.ErrForeignKey), ShouldBeTrue)
			})
		})

		Convey("When a 2h-old unverified account buys 20,000 tokens", func() {
			f.ledger.AddAccount(ledger.Account{ID: "newbie", CreatedAt: now.Add(-2 * time.Hour)})
			d := f.evaluate(purchase("newbie", 20000, "big"))

			Convey("Then it should be risk blocked with a high-risk alert", func() {
				So(d.Allowed, ShouldBeFalse)
				So(d.Code, ShouldEqual, types.CodeRiskBlocked)
				So(d.Risk.Score, ShouldEqual, 75)
				So(d.IdempotencyKey, ShouldBeEmpty)
				So(f.sink.types(), ShouldResemble, []model.AlertType{model.AlertHighRiskScore})
			})

			Convey("Then the lock should be released for a retry", func() {
				again := f.evaluate(purchase("newbie", 20000, "big"))
				So(again.Code, ShouldEqual, types.CodeRiskBlocked)
			})
		})

		Convey("When a 2h-old verified account with no history buys 20,000 tokens", func() {
			f.ledger.AddAccount(ledger.Account{ID: "verified-newbie", CreatedAt: now.Add(-2 * time.Hour), EmailVerified: true, KYCVerified: true})
			d := f.evaluate(purchase("verified-newbie", 20000, "big"))

			Convey("Then the 1-24h age bucket keeps it under the block threshold", func() {
				So(d.Allowed, ShouldBeTrue)
				So(d.Code, ShouldEqual, types.CodeReviewQueued)
				So(d.Risk.Score, ShouldEqual, 60)
			})
		})

		Convey("When an actor without an account spends", func() {
			d := f.evaluate(purchase("ghost", 100, "g1"))
			tip := f.evaluate(model.TransactionRequest{ActorID: "ghost", ActionType: model.ActionTip, AmountTokens: 10, TargetID: "creator"})

			Convey("Then it should be denied as unknown instead of degraded", func() {
				So(d.Allowed, ShouldBeFalse)
				So(d.Code, ShouldEqual, types.CodeRiskBlocked)
				So(d.Details["reason"], ShouldEqual, guard.ReasonUserNotFound)
				So(d.IdempotencyKey, ShouldBeEmpty)
				So(tip.Allowed, ShouldBeFalse)
				So(tip.Details["reason"], ShouldEqual, guard.ReasonUserNotFound)
				So(f.guard.Stats().CheckFailed, ShouldEqual, int64(0))
			})
		})

		Convey("When a young account pays with a prepaid card", func() {
			f.ledger.AddAccount(ledger.Account{ID: "young", CreatedAt: now.Add(-3 * 24 * time.Hour)})
			req := purchase("young", 100, "pp")
			req.PaymentMetadata = map[string]string{"funding": "Prepaid"}
			d := f.evaluate(req)

			Convey("Then it should be allowed and queued for review", func() {
				So(d.Allowed, ShouldBeTrue)
				So(d.Code, ShouldEqual, types.CodeReviewQueued)
				So(d.ReviewQueued, ShouldBeTrue)
				So(d.Risk.Score, ShouldEqual, 60)
				So(f.sink.types(), ShouldResemble, []model.AlertType{model.AlertRiskReview})
			})
		})

		Convey("When a trusted account exceeds the purchase burst", func() {
			f.trusted("fan")
			var last types.Decision
			for i := 0; i < 6; i++ {
				last = f.evaluate(purchase("fan", 100, fmt.Sprintf("burst-%d", i)))
			}

			Convey("Then the sixth request should be rate limited", func() {
				So(last.Code, ShouldEqual, types.CodeRateLimited)
				So(last.RetryAfterSeconds, ShouldNotBeNil)
				So(*last.RetryAfterSeconds, ShouldBeBetweenOrEqual, 1, 60)
				So(last.Details["tier"], ShouldEqual, "burst")
			})
		})

		Convey("When a tip exceeds the hourly token spend cap", func() {
			f.trusted("fan")
			f.trusted("creator")
			d := f.evaluate(model.TransactionRequest{ActorID: "fan", ActionType: model.ActionTip, AmountTokens: 25000, TargetID: "creator"})

			Convey("Then it should be denied for velocity", func() {
				So(d.Code, ShouldEqual, types.CodeVelocityExceeded)
				So(d.Details["family"], ShouldEqual, "token_spend")
				So(d.Details["limit"], ShouldEqual, int64(20000))
			})
		})

		Convey("When an account has a burst of failed purchases", func() {
			f.trusted("carder")
			for i := 1; i <= 3; i++ {
				f.tx("carder", "", model.ActionPurchase, 100, ledger.StatusFailed, time.Duration(i)*time.Minute)
			}
			d := f.evaluate(purchase("carder", 100, "c1"))

			Convey("Then it should be blocked and restricted", func() {
				So(d.Code, ShouldEqual, types.CodeRiskBlocked)
				So(d.Details["failedCount"], ShouldEqual, int64(3))
				So(f.sink.types(), ShouldResemble, []model.AlertType{model.AlertCardTesting})

				next := f.evaluate(purchase("carder", 100, "c2"))
				So(next.Code, ShouldEqual, types.CodeRiskBlocked)
				So(next.Details["restriction"], ShouldEqual, string(model.AlertCardTesting))
			})
		})

		Convey("When a gift goes to a recipient who quickly cashed out earlier gifts", func() {
			f.trusted("fan")
			f.trusted("creator")
			f.tx("fan", "creator", model.ActionGift, 1000, ledger.StatusCompleted, 20*time.Hour)
			f.tx("creator", "", model.ActionPayout, 900, ledger.StatusCompleted, 10*time.Hour)

			d := f.evaluate(model.TransactionRequest{ActorID: "fan", ActionType: model.ActionGift, AmountTokens: 100, TargetID: "creator"})

			Convey("Then it should be denied as a cashout loop", func() {
				So(d.Code, ShouldEqual, types.CodeCashoutLoopDetected)
				So(d.Details["cashoutRatio"], ShouldAlmostEqual, 0.9)
				So(f.sink.types(), ShouldResemble, []model.AlertType{model.AlertCashoutLoop})
			})
		})

		Convey("When the request is invalid", func() {
			_, err := f.guard.Evaluate(ctx, purchase("fan", 0, ""))

			Convey("Then a validation error should be returned", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When the stats are read after two decisions", func() {
			f.trusted("fan")
			f.evaluate(purchase("fan", 100, "s1"))
			f.evaluate(purchase("fan", 100, "s1"))
			s := f.guard.Stats()

			Convey("Then they should count both", func() {
				So(s.Evaluations, ShouldEqual, 2)
				So(s.Allowed, ShouldEqual, 1)
				So(s.Denied, ShouldEqual, 1)
				So(s.ByCode[string(types.CodeIdempotentConflict)], ShouldEqual, 1)
			})
		})
	})
}

func TestOrchestratorPayout(t *testing.T) {
	Convey("Given an orchestrator and a creator with earnings", t, func() {
		f := newFixture(guard.DefaultConfig())
		f.ledger.AddAccount(ledger.Account{ID: "creator", CreatedAt: now.Add(-70 * time.Hour), EmailVerified: true})
		f.trusted("fan")
		f.tx("fan", "creator", model.ActionTip, 5000, ledger.StatusCompleted, 60*time.Hour)

		req := model.TransactionRequest{ActorID: "creator", ActionType: model.ActionPayout, AmountTokens: 2000}

		Convey("When the account is 70h old", func() {
			d := f.evaluate(req)

			Convey("Then the payout should be held without an idempotency key", func() {
				So(d.Code, ShouldEqual, types.CodePayoutHeld)
				So(d.Details["holdHoursRemaining"], ShouldEqual, 2)
				So(d.IdempotencyKey, ShouldBeEmpty)
			})
		})

		Convey("When the account has aged past the hold", func() {
			f.clock.Advance(3 * time.Hour)
			d := f.evaluate(req)

			Convey("Then the payout should be allowed", func() {
				So(d.Allowed, ShouldBeTrue)
				So(d.Risk, ShouldNotBeNil)
			})
		})

		Convey("Then the pipeline should be gate then risk", func() {
			So(f.guard.Pipeline(model.ActionPayout), ShouldResemble, []string{guard.CheckPayoutGate, guard.CheckRiskScore})
		})
	})
}

type stubCheck struct {
	name   string
	policy guard.FailurePolicy
	run    func(ctx context.Context) guard.Outcome
}

func (c stubCheck) Name() string                { return c.name }
func (c stubCheck) Policy() guard.FailurePolicy { return c.policy }
func (c stubCheck) Run(ctx context.Context, _ *guard.Evaluation) guard.Outcome {
	return c.run(ctx)
}

func slow(ctx context.Context) guard.Outcome {
	select {
	case <-ctx.Done():
		return guard.Failed(ctx.Err())
	case <-time.After(time.Second):
		return guard.Pass()
	}
}

func TestOrchestratorFailurePolicies(t *testing.T) {
	Convey("Given a short check timeout", t, func() {
		cfg := guard.DefaultConfig()
		cfg.CheckTimeout = 20 * time.Millisecond
		call := model.TransactionRequest{ActorID: "fan", ActionType: model.ActionCall, AmountTokens: 10, TargetID: "creator"}

		Convey("When a fail-open check times out", func() {
			f := newFixture(cfg, guard.WithPipeline(model.ActionCall, stubCheck{name: "slow", policy: guard.PolicyOpen, run: slow}))
			d := f.evaluate(call)

			Convey("Then the request should be allowed", func() {
				So(d.Allowed, ShouldBeTrue)
				So(f.guard.Stats().CheckFailed, ShouldEqual, int64(1))
			})
		})

		Convey("When a fail-closed check times out", func() {
			f := newFixture(cfg, guard.WithPipeline(model.ActionCall, stubCheck{name: "slow", policy: guard.PolicyClosed, run: slow}))
			d := f.evaluate(call)

			Convey("Then the request should be denied", func() {
				So(d.Allowed, ShouldBeFalse)
				So(d.Code, ShouldEqual, types.CodeRiskBlocked)
				So(d.Details["check"], ShouldEqual, "slow")
			})
		})

		Convey("When a check panics", func() {
			boom := stubCheck{name: "boom", policy: guard.PolicyOpen, run: func(context.Context) guard.Outcome { panic("bad input") }}
			f := newFixture(cfg, guard.WithPipeline(model.ActionCall, boom))
			d := f.evaluate(call)

			Convey("Then the panic should be contained by the policy", func() {
				So(d.Allowed, ShouldBeTrue)
			})
		})

		Convey("When profiles cannot be loaded", func() {
			fc := clock.NewFake(now)
			l := ledger.NewMemoryLedger(ledger.WithClock(fc))
			g, err := guard.New(store.NewMemoryStore(store.WithClock(fc)), l, failingProfiles{}, guard.DefaultConfig(), guard.WithClock(fc))
			So(err, ShouldBeNil)

			d, err := g.Evaluate(context.Background(), purchase("fan", 100, "p"))
			So(err, ShouldBeNil)

			Convey("Then the degraded score should queue the request for review", func() {
				So(d.Allowed, ShouldBeTrue)
				So(d.Code, ShouldEqual, types.CodeReviewQueued)
				So(d.Risk.Degraded, ShouldBeTrue)
				So(d.Risk.Score, ShouldEqual, 50)
			})
		})

		Convey("When the idempotency lock is taken after the check deadline", func() {
			fc := clock.NewFake(now)
			l := ledger.NewMemoryLedger(ledger.WithClock(fc))
			l.AddAccount(ledger.Account{ID: "fan", CreatedAt: now.Add(-30 * 24 * time.Hour), EmailVerified: true, KYCVerified: true})
			slowStore := &lateLockStore{MemoryStore: store.NewMemoryStore(store.WithClock(fc)), delay: 60 * time.Millisecond}
			g, err := guard.New(slowStore, l, l, cfg, guard.WithClock(fc))
			So(err, ShouldBeNil)

			d, err := g.Evaluate(context.Background(), purchase("fan", 100, "late"))
			So(err, ShouldBeNil)

			released := false
			for deadline := time.Now().Add(2 * time.Second); time.Now().Before(deadline); time.Sleep(10 * time.Millisecond) {
				_, held, _ := slowStore.Get(context.Background(), "idem:fan:late")
				if slowStore.acquired.Load() == 1 && !held {
					released = true
					break
				}
			}

			Convey("Then the decision should fail open and the late lock be released", func() {
				So(d.Allowed, ShouldBeTrue)
				So(d.IdempotencyKey, ShouldBeEmpty)
				So(released, ShouldBeTrue)
			})
		})

		Convey("When the payout gate times out loading the profile", func() {
			fc := clock.NewFake(now)
			l := ledger.NewMemoryLedger(ledger.WithClock(fc))
			g, err := guard.New(store.NewMemoryStore(store.WithClock(fc)), l, hangingProfiles{delay: 200 * time.Millisecond}, cfg, guard.WithClock(fc))
			So(err, ShouldBeNil)

			d, err := g.Evaluate(context.Background(), model.TransactionRequest{ActorID: "creator", ActionType: model.ActionPayout, AmountTokens: 2000})
			So(err, ShouldBeNil)

			Convey("Then the payout should be rejected with the gate's own code", func() {
				So(d.Allowed, ShouldBeFalse)
				So(d.Code, ShouldEqual, types.CodePayoutRejected)
				So(d.Details["reason"], ShouldEqual, "evaluation_failed")
				So(g.Stats().CheckFailed, ShouldEqual, int64(1))
			})
		})

		Convey("When the risk check is configured to fail closed", func() {
			strict := guard.DefaultConfig()
			strict.Policies = map[string]guard.FailurePolicy{guard.CheckRiskScore: guard.PolicyClosed}
			fc := clock.NewFake(now)
			l := ledger.NewMemoryLedger(ledger.WithClock(fc))
			g, err := guard.New(store.NewMemoryStore(store.WithClock(fc)), l, failingProfiles{}, strict, guard.WithClock(fc))
			So(err, ShouldBeNil)

			d, err := g.Evaluate(context.Background(), purchase("fan", 100, "p"))
			So(err, ShouldBeNil)

			Convey("Then the request should be denied", func() {
				So(d.Allowed, ShouldBeFalse)
				So(d.Code, ShouldEqual, types.CodeRiskBlocked)
			})
		})
	})
}

func TestConfigValidate(t *testing.T) {
	Convey("Given the default config", t, func() {
		cfg := guard.DefaultConfig()

		Convey("Then it should be valid", func() {
			So(cfg.Validate(), ShouldBeNil)
		})

		Convey("When the check timeout is zero", func() {
			cfg.CheckTimeout = 0
			So(errors.Is(cfg.Validate(), guard.ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("When a policy is unknown", func() {
			cfg.Policies = map[string]guard.FailurePolicy{guard.CheckRateLimit: "maybe"}
			So(errors.Is(cfg.Validate(), guard.ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("When a rate limit has no window", func() {
			cfg.RateLimits[model.ActionTip] = guard.RateLimitScope{Burst: cfg.RateLimits[model.ActionTip].Burst}
			So(errors.Is(cfg.Validate(), guard.ErrInvalidConfig), ShouldBeTrue)
		})
	})
}
