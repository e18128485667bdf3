package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seed(l *MemoryLedger) {
	l.AddAccount(Account{ID: "fan", CreatedAt: t0.Add(-30 * 24 * time.Hour), EmailVerified: true})
	l.AddAccount(Account{ID: "creator", CreatedAt: t0.Add(-10 * 24 * time.Hour), KYCVerified: true})
	l.Record(Transaction{ID: "p1", UserID: "fan", Type: model.ActionPurchase, AmountTokens: 2000,
		AmountUSD: decimal.NewFromInt(100), Status: StatusCompleted, CreatedAt: t0.Add(-3 * time.Hour)})
	l.Record(Transaction{ID: "p2", UserID: "fan", Type: model.ActionPurchase, AmountTokens: 2000,
		Status: StatusFailed, CreatedAt: t0.Add(-20 * time.Minute)})
	l.Record(Transaction{ID: "g1", UserID: "fan", CounterpartyID: "creator", Type: model.ActionGift, AmountTokens: 600,
		AmountUSD: decimal.NewFromInt(30), Status: StatusCompleted, CreatedAt: t0.Add(-50 * time.Minute)})
	l.Record(Transaction{ID: "t1", UserID: "fan", CounterpartyID: "creator", Type: model.ActionTip, AmountTokens: 400,
		AmountUSD: decimal.NewFromInt(20), Status: StatusCompleted, CreatedAt: t0.Add(-2 * 24 * time.Hour)})
	l.Record(Transaction{ID: "t2", UserID: "other", CounterpartyID: "creator", Type: model.ActionTip, AmountTokens: 100,
		Status: StatusCompleted, CreatedAt: t0.Add(-time.Hour)})
	l.Record(Transaction{ID: "c1", UserID: "creator", Type: model.ActionPayout, AmountTokens: 900,
		Status: StatusPending, CreatedAt: t0.Add(-10 * time.Minute)})
}

func TestMemoryLedger(t *testing.T) {
	Convey("Given a seeded memory ledger", t, func() {
		ctx := context.Background()
		l := NewMemoryLedger(WithClock(clock.NewFake(t0)))
		seed(l)

		Convey("When summing spend for the last hour", func() {
			spend, err := l.SumSpend(ctx, "fan", t0.Add(-time.Hour), []model.ActionType{model.ActionTip, model.ActionGift})

			Convey("Then only completed in-window transfers should count", func() {
				So(err, ShouldBeNil)
				So(spend, ShouldEqual, 600)
			})
		})

		Convey("When counting actions and failed purchases", func() {
			n, err1 := l.CountActions(ctx, "fan", t0.Add(-24*time.Hour), []model.ActionType{model.ActionPurchase})
			failed, err2 := l.CountFailedPurchases(ctx, "fan", t0.Add(-time.Hour))

			Convey("Then failures should be excluded from actions but counted separately", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(n, ShouldEqual, 1)
				So(failed, ShouldEqual, 1)
			})
		})

		Convey("When summing transfers and cashouts", func() {
			gifted, first, err := l.SumTransfers(ctx, "fan", "creator", t0.Add(-7*24*time.Hour))
			cashed, firstCash, err2 := l.SumCashouts(ctx, "creator", *first)

			Convey("Then both totals and first timestamps should be reported", func() {
				So(err, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(gifted, ShouldEqual, 1000)
				So(*first, ShouldEqual, t0.Add(-2*24*time.Hour))
				So(cashed, ShouldEqual, 900)
				So(*firstCash, ShouldEqual, t0.Add(-10*time.Minute))
			})
		})

		Convey("When looking up earnings and top sender", func() {
			firstEarning, err := l.FirstEarningTimestamp(ctx, "creator")
			sender, amount, total, err2 := l.TopSender(ctx, "creator", t0.Add(-7*24*time.Hour))
			none, err3 := l.FirstEarningTimestamp(ctx, "fan")

			Convey("Then the earliest earning and dominant sender should be found", func() {
				So(err, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(err3, ShouldBeNil)
				So(*firstEarning, ShouldEqual, t0.Add(-2*24*time.Hour))
				So(sender, ShouldEqual, "fan")
				So(amount, ShouldEqual, 1000)
				So(total, ShouldEqual, 1100)
				So(none, ShouldBeNil)
			})
		})

		Convey("When building a profile", func() {
			p, err := l.Profile(ctx, "fan")

			Convey("Then it should aggregate completed history", func() {
				So(err, ShouldBeNil)
				So(p.AccountAge, ShouldEqual, 30*24*time.Hour)
				So(p.LifetimeTransactionCount, ShouldEqual, 3)
				So(p.LifetimeSpendUSD.Equal(decimal.NewFromInt(150)), ShouldBeTrue)
				So(p.ActiveDaysCount, ShouldEqual, 2)
				So(*p.LastPurchaseAt, ShouldEqual, t0.Add(-3*time.Hour))
				So(p.EmailVerified, ShouldBeTrue)
				So(p.KYCVerified, ShouldBeFalse)
			})
		})

		Convey("When the account does not exist", func() {
			_, err := l.Profile(ctx, "ghost")

			Convey("Then ErrAccountNotFound should be returned", func() {
				So(errors.Is(err, model.ErrAccountNotFound), ShouldBeTrue)
			})
		})

		Convey("When the ledger is closed", func() {
			So(l.Ping(ctx), ShouldBeNil)
			So(l.Close(), ShouldBeNil)

			Convey("Then Ping should report ErrClosed", func() {
				So(errors.Is(l.Ping(ctx), ErrClosed), ShouldBeTrue)
			})
		})
	})
}

func TestPostgresLedger(t *testing.T) {
	Convey("Given a postgres ledger over sqlmock", t, func() {
		db, mock, err := sqlmock.New()
		So(err, ShouldBeNil)
		defer db.Close()
		ctx := context.Background()
		l := NewPostgresLedger(db, WithPostgresClock(clock.NewFake(t0)))

		Convey("When summing spend", func() {
			mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount_tokens\), 0\)\s+FROM token_transactions\s+WHERE user_id = \$1 AND status = 'completed'`).
				WithArgs("fan", t0.Add(-time.Hour), sqlmock.AnyArg()).
				WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(950))

			spend, err := l.SumSpend(ctx, "fan", t0.Add(-time.Hour), []model.ActionType{model.ActionTip})

			Convey("Then the aggregate should be returned", func() {
				So(err, ShouldBeNil)
				So(spend, ShouldEqual, 950)
				So(mock.ExpectationsWereMet(), ShouldBeNil)
			})
		})

		Convey("When transfers have no rows in window", func() {
			mock.ExpectQuery(`MIN\(created_at\)`).
				WithArgs("fan", "creator", t0, sqlmock.AnyArg()).
				WillReturnRows(sqlmock.NewRows([]string{"sum", "min"}).AddRow(0, nil))

			total, first, err := l.SumTransfers(ctx, "fan", "creator", t0)

			Convey("Then the first timestamp should be nil", func() {
				So(err, ShouldBeNil)
				So(total, ShouldEqual, 0)
				So(first, ShouldBeNil)
			})
		})

		Convey("When the top sender query finds nobody", func() {
			mock.ExpectQuery(`GROUP BY user_id`).
				WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount", "total"}))

			sender, amount, total, err := l.TopSender(ctx, "creator", t0)

			Convey("Then empty values should be returned without error", func() {
				So(err, ShouldBeNil)
				So(sender, ShouldEqual, "")
				So(amount, ShouldEqual, 0)
				So(total, ShouldEqual, 0)
			})
		})

		Convey("When building a profile", func() {
			mock.ExpectQuery(`FROM users WHERE id = \$1`).WithArgs("fan").
				WillReturnRows(sqlmock.NewRows([]string{"created_at", "email_verified", "kyc_verified", "phone_verified"}).
					AddRow(t0.Add(-2*time.Hour), false, false, true))
			mock.ExpectQuery(`COUNT\(DISTINCT`).WithArgs("fan").
				WillReturnRows(sqlmock.NewRows([]string{"count", "spend", "days", "last"}).
					AddRow(4, "212.50", 1, t0.Add(-time.Hour)))

			p, err := l.Profile(ctx, "fan")

			Convey("Then the profile should combine both queries", func() {
				So(err, ShouldBeNil)
				So(p.AccountAge, ShouldEqual, 2*time.Hour)
				So(p.PhoneVerified, ShouldBeTrue)
				So(p.LifetimeTransactionCount, ShouldEqual, 4)
				So(p.LifetimeSpendUSD.String(), ShouldEqual, "212.5")
				So(*p.LastPurchaseAt, ShouldEqual, t0.Add(-time.Hour))
				So(mock.ExpectationsWereMet(), ShouldBeNil)
			})
		})

		Convey("When the account is missing", func() {
			mock.ExpectQuery(`FROM users WHERE id = \$1`).WithArgs("ghost").
				WillReturnRows(sqlmock.NewRows([]string{"created_at", "email_verified", "kyc_verified", "phone_verified"}))

			_, err := l.Profile(ctx, "ghost")

			Convey("Then ErrAccountNotFound should be returned", func() {
				So(errors.Is(err, model.ErrAccountNotFound), ShouldBeTrue)
			})
		})

		Convey("When the database fails", func() {
			mock.ExpectQuery(`FROM token_transactions`).WillReturnError(errors.New("connection reset"))

			_, err := l.CountFailedPurchases(ctx, "fan", t0)

			Convey("Then the error should be wrapped", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "count failed purchases")
			})
		})
	})
}
