package payout_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/txguard/internal/adapters/ledger"
	"github.com/okian/txguard/internal/domain/anomaly"
	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/internal/domain/payout"
	. "github.com/smartystreets/goconvey/convey"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ledger *ledger.MemoryLedger
	gate   *payout.Gate
}

func newFixture() fixture {
	fc := clock.NewFake(now)
	l := ledger.NewMemoryLedger(ledger.WithClock(fc))
	d := anomaly.NewCashoutLoopDetector(l, anomaly.DefaultConfig(), anomaly.WithClock(fc))
	return fixture{ledger: l, gate: payout.NewGate(l, d, payout.DefaultConfig(), payout.WithClock(fc))}
}

func (f fixture) account(id string, age time.Duration, kyc bool) {
	f.ledger.AddAccount(ledger.Account{ID: id, CreatedAt: now.Add(-age), KYCVerified: kyc})
}

func (f fixture) earn(from, to string, tokens int64, ago time.Duration) {
	f.ledger.Record(ledger.Transaction{UserID: from, CounterpartyID: to, Type: model.ActionGift,
		AmountTokens: tokens, Status: ledger.StatusCompleted, CreatedAt: now.Add(-ago)})
}

func (f fixture) evaluate(actor string, amount int64) (payout.Result, error) {
	req := model.TransactionRequest{ActorID: actor, ActionType: model.ActionPayout, AmountTokens: amount}
	return f.gate.Evaluate(context.Background(), req, func(ctx context.Context) (model.AccountProfile, error) {
		return f.ledger.Profile(ctx, actor)
	})
}

func TestGate(t *testing.T) {
	Convey("Given a payout gate", t, func() {
		f := newFixture()

		Convey("When the account does not exist", func() {
			res, err := f.evaluate("ghost", 2000)

			Convey("Then it should be rejected as user_not_found", func() {
				So(err, ShouldBeNil)
				So(res.Status, ShouldEqual, payout.StatusRejected)
				So(res.Reason, ShouldEqual, payout.ReasonUserNotFound)
			})
		})

		Convey("When an unverified account is 70h old", func() {
			f.account("creator", 70*time.Hour, false)
			res, err := f.evaluate("creator", 2000)

			Convey("Then it should be held with 2 hours remaining", func() {
				So(err, ShouldBeNil)
				So(res.Status, ShouldEqual, payout.StatusHeld)
				So(res.Reason, ShouldEqual, payout.ReasonAccountTooNew)
				So(res.HoldHoursRemaining, ShouldEqual, 2)
				So(res.Details()["holdHoursRemaining"], ShouldEqual, 2)
			})
		})

		Convey("When the same account is 73h old with valid earning history", func() {
			f.account("creator", 73*time.Hour, false)
			f.earn("fan-a", "creator", 3000, 60*time.Hour)
			f.earn("fan-b", "creator", 3000, 50*time.Hour)
			res, err := f.evaluate("creator", 2000)

			Convey("Then it should be eligible", func() {
				So(err, ShouldBeNil)
				So(res.Status, ShouldEqual, payout.StatusEligible)
			})
		})

		Convey("When a KYC-verified account is brand new", func() {
			f.account("creator", time.Hour, true)
			res, _ := f.evaluate("creator", 2000)

			Convey("Then the age hold should be skipped", func() {
				So(res.Reason, ShouldEqual, payout.ReasonNoEarningHistory)
				So(res.Status, ShouldEqual, payout.StatusHeld)
			})
		})

		Convey("When the first earning is only 30h old", func() {
			f.account("creator", 30*24*time.Hour, false)
			f.earn("fan-a", "creator", 3000, 30*time.Hour)
			res, _ := f.evaluate("creator", 2000)

			Convey("Then earnings should be held as too recent", func() {
				So(res.Status, ShouldEqual, payout.StatusHeld)
				So(res.Reason, ShouldEqual, payout.ReasonEarningsTooRecent)
				So(res.HoldHoursRemaining, ShouldEqual, 18)
			})
		})

		Convey("When the amount is below the minimum", func() {
			f.account("creator", 30*24*time.Hour, false)
			f.earn("fan-a", "creator", 3000, 100*time.Hour)
			res, _ := f.evaluate("creator", 999)

			Convey("Then it should be rejected with the minimum", func() {
				So(res.Status, ShouldEqual, payout.StatusRejected)
				So(res.Reason, ShouldEqual, payout.ReasonBelowMinimum)
				So(res.Details()["minimum"], ShouldEqual, int64(1000))
			})
		})

		Convey("When one sender funds nearly everything being cashed out", func() {
			f.account("creator", 30*24*time.Hour, false)
			f.earn("fan-b", "creator", 100, 60*time.Hour)
			f.earn("fan-a", "creator", 2000, 10*time.Hour)
			res, err := f.evaluate("creator", 1900)

			Convey("Then it should be rejected for review", func() {
				So(err, ShouldBeNil)
				So(res.Status, ShouldEqual, payout.StatusRejected)
				So(res.Reason, ShouldEqual, payout.ReasonSuspiciousCashout)
				So(res.RequiresReview, ShouldBeTrue)
				So(res.Cashout, ShouldNotBeNil)
				So(res.Cashout.Severity, ShouldEqual, model.SeverityHigh)
			})
		})

		Convey("When the profile cannot be loaded", func() {
			req := model.TransactionRequest{ActorID: "creator", ActionType: model.ActionPayout, AmountTokens: 2000}
			res, err := f.gate.Evaluate(context.Background(), req, func(context.Context) (model.AccountProfile, error) {
				return model.AccountProfile{}, errors.New("connection refused")
			})

			Convey("Then the gate should fail closed", func() {
				So(errors.Is(err, model.ErrDependencyUnavailable), ShouldBeTrue)
				So(res.Status, ShouldEqual, payout.StatusRejected)
				So(res.Reason, ShouldEqual, payout.ReasonEvaluationFailed)
			})
		})
	})
}
