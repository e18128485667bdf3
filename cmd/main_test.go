package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/okian/txguard/internal/adapters/alerts"
	"github.com/okian/txguard/internal/adapters/ledger"
	"github.com/okian/txguard/internal/adapters/store"
	app "github.com/okian/txguard/internal/app"
	"github.com/okian/txguard/internal/config"
	"github.com/okian/txguard/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		ctx := context.Background()

		convey.Convey("When testing configuration loading", func() {
			_ = os.Setenv("TXGUARD_ADDR", ":18080")
			_ = os.Setenv("TXGUARD_STORE__BACKEND", "redis")
			defer func() {
				_ = os.Unsetenv("TXGUARD_ADDR")
				_ = os.Unsetenv("TXGUARD_STORE__BACKEND")
			}()

			convey.Convey("Then configuration should be loadable", func() {
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":18080")
				convey.So(cfg.Store.Backend, convey.ShouldEqual, config.BackendRedis)
			})
		})

		convey.Convey("When building backends from the defaults", func() {
			cfg := config.New(ctx)

			st := buildStore(cfg)
			led, err := buildLedger(ctx, cfg)
			convey.So(err, convey.ShouldBeNil)
			rec, err := buildRecorder(ctx, cfg, led, logger.Nop())
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then they should be the in-memory implementations with a log sink", func() {
				_, isMemStore := st.(*store.MemoryStore)
				_, isMemLedger := led.(*ledger.MemoryLedger)
				_, isLog := rec.(*alerts.LogRecorder)
				convey.So(isMemStore, convey.ShouldBeTrue)
				convey.So(isMemLedger, convey.ShouldBeTrue)
				convey.So(isLog, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When redis and several sinks are configured", func() {
			cfg := config.New(ctx)
			cfg.Store.Backend = config.BackendRedis
			cfg.Alerts.Sinks = []string{config.SinkLog, config.SinkKafka}
			cfg.Alerts.KafkaBrokers = []string{"localhost:9092"}

			st := buildStore(cfg)
			defer func() { _ = st.Close() }()
			rec, err := buildRecorder(ctx, cfg, ledger.NewMemoryLedger(), logger.Nop())
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the store should be redis and the recorder a fanout", func() {
				_, isRedis := st.(*store.RedisStore)
				convey.So(isRedis, convey.ShouldBeTrue)
				fan, isFan := rec.(alerts.Fanout)
				convey.So(isFan, convey.ShouldBeTrue)
				convey.So(len(fan), convey.ShouldEqual, 2)
				convey.So(fan.Close(), convey.ShouldBeNil)
			})
		})
	})
}

func TestMainRoutes(t *testing.T) {
	convey.Convey("Given the HTTP mux over a started service", t, func() {
		ctx := context.Background()
		svc := app.New(app.WithLogger(logger.Nop()))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()
		mux := newMux(ctx, svc, logger.Nop())

		get := func(path string) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			return w
		}

		convey.Convey("Then health, stats, metrics and docs should be served", func() {
			convey.So(get("/healthz").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(get("/stats").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(get("/metrics").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(get("/openapi.yaml").Code, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("When a request is evaluated", func() {
			req := httptest.NewRequest(http.MethodPost, "/v1/guard/evaluate",
				strings.NewReader(`{"actionType":"purchase","amountTokens":100}`))
			req.Header.Set("X-Actor-ID", "walk-in")
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			convey.Convey("Then a decision should be returned", func() {
				convey.So(w.Code, convey.ShouldBeIn, []int{http.StatusOK, http.StatusForbidden})
				convey.So(w.Body.String(), convey.ShouldContainSubstring, "decisionId")
			})
		})
	})
}

func TestMainApplicationComponents(t *testing.T) {
	convey.Convey("Given main application components", t, func() {
		convey.Convey("When testing system metrics updater", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			convey.Convey("Then it should return when the context ends", func() {
				convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When testing service metrics update", func() {
			svc := app.New(app.WithLogger(logger.Nop()))

			convey.Convey("Then it should update metrics without panicking", func() {
				convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
				convey.So(func() { updateSystemMetrics() }, convey.ShouldNotPanic)
			})
		})
	})
}
