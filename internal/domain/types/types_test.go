package types_test

import (
	"encoding/json"
	"testing"

	types "github.com/okian/txguard/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDecision(t *testing.T) {
	Convey("Given decision constructors", t, func() {
		Convey("When allowing", func() {
			d := types.Allow("ok")

			Convey("Then it should carry code OK", func() {
				So(d.Allowed, ShouldBeTrue)
				So(d.Code, ShouldEqual, types.CodeOK)
				So(d.RetryAfterSeconds, ShouldBeNil)
			})
		})

		Convey("When denying with a retry hint", func() {
			d := types.Deny(types.CodeRateLimited, "slow down", map[string]any{"tier": "burst"}).WithRetryAfter(12)

			Convey("Then the wire shape should include retryAfterSeconds and details", func() {
				So(d.Allowed, ShouldBeFalse)
				raw, err := json.Marshal(d)
				So(err, ShouldBeNil)

				var out map[string]any
				So(json.Unmarshal(raw, &out), ShouldBeNil)
				So(out["code"], ShouldEqual, "RATE_LIMITED")
				So(out["retryAfterSeconds"], ShouldEqual, float64(12))
				So(out["details"].(map[string]any)["tier"], ShouldEqual, "burst")
				So(out, ShouldNotContainKey, "Replay")
			})
		})
	})
}
