package config_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/txguard/internal/config"
	"github.com/okian/txguard/internal/domain/guard"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
			convey.So(cfg.ShutdownTimeout, convey.ShouldEqual, 15*time.Second)
			convey.So(cfg.Store.Backend, convey.ShouldEqual, config.BackendMemory)
			convey.So(cfg.Ledger.Backend, convey.ShouldEqual, config.BackendMemory)
			convey.So(cfg.Alerts.Sinks, convey.ShouldResemble, []string{config.SinkLog})
			convey.So(cfg.Alerts.Workers, convey.ShouldEqual, 2)
			convey.So(cfg.Guard.CheckTimeout, convey.ShouldEqual, guard.DefaultConfig().CheckTimeout)
		})

		convey.Convey("Then the defaults should validate", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New(context.Background())

		cases := []struct {
			name   string
			mutate func(*config.Config)
		}{
			{"empty addr", func(c *config.Config) { c.Addr = "" }},
			{"unknown log format", func(c *config.Config) { c.LogFormat = "xml" }},
			{"unknown store backend", func(c *config.Config) { c.Store.Backend = "etcd" }},
			{"redis without addr", func(c *config.Config) { c.Store.Backend = config.BackendRedis; c.Store.RedisAddr = "" }},
			{"postgres ledger without dsn", func(c *config.Config) { c.Ledger.Backend = config.BackendPostgres }},
			{"postgres sink without dsn", func(c *config.Config) { c.Alerts.Sinks = []string{config.SinkPostgres} }},
			{"kafka sink without brokers", func(c *config.Config) { c.Alerts.Sinks = []string{config.SinkKafka} }},
			{"unknown sink", func(c *config.Config) { c.Alerts.Sinks = []string{"pager"} }},
			{"zero workers", func(c *config.Config) { c.Alerts.Workers = 0 }},
			{"sample ratio above one", func(c *config.Config) { c.Telemetry.SampleRatio = 1.5 }},
			{"invalid guard section", func(c *config.Config) { c.Guard.CheckTimeout = 0 }},
		}

		for _, tc := range cases {
			convey.Convey("When "+tc.name, func() {
				tc.mutate(cfg)
				err := cfg.Validate()

				convey.Convey("Then it should be rejected as invalid config", func() {
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				})
			})
		}

		convey.Convey("When the kafka sink has brokers", func() {
			cfg.Alerts.Sinks = []string{config.SinkLog, config.SinkKafka}
			cfg.Alerts.KafkaBrokers = []string{"localhost:9092"}

			convey.Convey("Then it should validate and report the sink", func() {
				convey.So(cfg.Validate(), convey.ShouldBeNil)
				convey.So(cfg.HasSink(config.SinkKafka), convey.ShouldBeTrue)
				convey.So(cfg.HasSink(config.SinkPostgres), convey.ShouldBeFalse)
			})
		})
	})
}
