package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/txguard/internal/adapters/store"
	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/internal/domain/ratelimit"
	. "github.com/smartystreets/goconvey/convey"
)

type failingCounter struct{}

func (failingCounter) IncrementWithTTL(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestLimiter(t *testing.T) {
	Convey("Given a limiter with burst 5/60s and sustained 30/1h", t, func() {
		ctx := context.Background()
		// Aligned to a minute boundary so the burst window starts fresh.
		fc := clock.NewFake(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
		s := store.NewMemoryStore(store.WithClock(fc))
		l := ratelimit.New(s, ratelimit.WithClock(fc))
		burst := ratelimit.Spec{Limit: 5, Window: time.Minute}
		sustained := ratelimit.Spec{Limit: 30, Window: time.Hour}

		Convey("When exactly the burst limit is used", func() {
			var last ratelimit.Result
			for i := 0; i < 5; i++ {
				var err error
				last, err = l.Check(ctx, "purchase", "u1", burst, sustained)
				So(err, ShouldBeNil)
				So(last.Allowed, ShouldBeTrue)
			}

			Convey("Then the limit+1 request should be rejected on the burst tier", func() {
				So(last.BurstUsed, ShouldEqual, 5)
				res, err := l.Check(ctx, "purchase", "u1", burst, sustained)
				So(err, ShouldBeNil)
				So(res.Allowed, ShouldBeFalse)
				So(res.Exceeded, ShouldEqual, ratelimit.TierBurst)
				So(res.BurstUsed, ShouldEqual, 6)
				So(res.RetryAfter, ShouldEqual, time.Minute)
			})

			Convey("Then requests should succeed again after window rollover", func() {
				_, _ = l.Check(ctx, "purchase", "u1", burst, sustained)
				fc.Advance(time.Minute)
				res, err := l.Check(ctx, "purchase", "u1", burst, sustained)
				So(err, ShouldBeNil)
				So(res.Allowed, ShouldBeTrue)
				So(res.BurstUsed, ShouldEqual, 1)
			})

			Convey("Then the sustained tier should have consumed quota for the rejected request too", func() {
				res, _ := l.Check(ctx, "purchase", "u1", burst, sustained)
				So(res.SustainedUsed, ShouldEqual, 6)
			})
		})

		Convey("When the sustained tier is exhausted across burst windows", func() {
			for i := 0; i < 30; i++ {
				if i > 0 && i%5 == 0 {
					fc.Advance(time.Minute)
				}
				res, err := l.Check(ctx, "purchase", "u2", burst, sustained)
				So(err, ShouldBeNil)
				So(res.Allowed, ShouldBeTrue)
			}
			fc.Advance(time.Minute)
			res, err := l.Check(ctx, "purchase", "u2", burst, sustained)

			Convey("Then the sustained tier should reject with retry until the hour ends", func() {
				So(err, ShouldBeNil)
				So(res.Allowed, ShouldBeFalse)
				So(res.Exceeded, ShouldEqual, ratelimit.TierSustained)
				So(res.RetryAfter, ShouldEqual, 54*time.Minute)
			})
		})

		Convey("When requests straddle a burst window boundary", func() {
			fc.Advance(59 * time.Second)
			allowed := 0
			for i := 0; i < 5; i++ {
				if res, _ := l.Check(ctx, "tip", "u3", burst, sustained); res.Allowed {
					allowed++
				}
			}
			fc.Advance(time.Second)
			for i := 0; i < 5; i++ {
				if res, _ := l.Check(ctx, "tip", "u3", burst, sustained); res.Allowed {
					allowed++
				}
			}

			Convey("Then up to twice the burst limit should pass within two seconds", func() {
				So(allowed, ShouldEqual, 10)
			})
		})

		Convey("When identities and scopes differ", func() {
			for i := 0; i < 5; i++ {
				_, _ = l.Check(ctx, "purchase", "u4", burst, sustained)
			}
			other, _ := l.Check(ctx, "purchase", "u5", burst, sustained)
			otherScope, _ := l.Check(ctx, "tip", "u4", burst, sustained)

			Convey("Then their counters should be independent", func() {
				So(other.Allowed, ShouldBeTrue)
				So(otherScope.Allowed, ShouldBeTrue)
			})
		})

		Convey("When many goroutines race for the same identity", func() {
			var wg sync.WaitGroup
			var allowed atomic.Int64
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if res, err := l.Check(ctx, "gift", "u6", burst, sustained); err == nil && res.Allowed {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()

			Convey("Then no more than the limit should be allowed", func() {
				So(allowed.Load(), ShouldEqual, 5)
			})
		})
	})

	Convey("Given a limiter whose store is unreachable", t, func() {
		l := ratelimit.New(failingCounter{})
		res, err := l.Check(context.Background(), "purchase", "u1",
			ratelimit.Spec{Limit: 5, Window: time.Minute}, ratelimit.Spec{Limit: 30, Window: time.Hour})

		Convey("Then it should fail open and report a dependency error", func() {
			So(res.Allowed, ShouldBeTrue)
			So(res.Degraded, ShouldBeTrue)
			So(errors.Is(err, model.ErrDependencyUnavailable), ShouldBeTrue)
		})
	})

	Convey("Given an invalid spec", t, func() {
		l := ratelimit.New(failingCounter{})
		_, err := l.Check(context.Background(), "purchase", "u1",
			ratelimit.Spec{Limit: 0, Window: time.Minute}, ratelimit.Spec{Limit: 30, Window: time.Hour})

		Convey("Then it should be reported", func() {
			So(errors.Is(err, ratelimit.ErrInvalidSpec), ShouldBeTrue)
		})
	})
}

func TestKey(t *testing.T) {
	Convey("Given a key for a tier window", t, func() {
		Convey("Then it should follow scope:identity:tier:window", func() {
			So(ratelimit.Key("tip", "u1", ratelimit.TierBurst, 42), ShouldEqual, "tip:u1:burst:42")
		})
	})
}
