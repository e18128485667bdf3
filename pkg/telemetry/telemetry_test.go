package telemetry

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestInit(t *testing.T) {
	Convey("Given telemetry initialization", t, func() {
		ctx := context.Background()

		Convey("When no endpoint is configured", func() {
			shutdown, err := Init(ctx, WithServiceName("txguard-test"))

			Convey("Then spans should still be recorded locally", func() {
				So(err, ShouldBeNil)
				So(shutdown, ShouldNotBeNil)

				_, span := Tracer().Start(ctx, "evaluate")
				So(span.SpanContext().IsValid(), ShouldBeTrue)
				span.End()

				So(shutdown(ctx), ShouldBeNil)
			})
		})

		Convey("When the sample ratio is out of range", func() {
			_, err := Init(ctx, WithSampleRatio(1.5))

			Convey("Then it should be rejected", func() {
				So(err, ShouldEqual, ErrInvalidSampleRatio)
			})
		})
	})
}
