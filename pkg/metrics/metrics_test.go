package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should register under the ucoin namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.pendingRequests.Set(2)
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "ucoin_rewards_pending_requests")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then names and const labels should follow the options", func() {
				manager.claimsRecorded.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_unit_claims_recorded_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetName(), ShouldEqual, "env")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When registering twice on the same registry", func() {
			registry := prometheus.NewRegistry()
			_ = NewManager(WithPrometheusRegistry(registry))

			Convey("Then promauto should panic on duplicate registration", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording withdrawal outcomes", func() {
			before := testutil.ToFloat64(globalManager.withdrawalRequests.WithLabelValues("limit_exceeded"))
			RecordWithdrawalRequest("limit_exceeded")

			Convey("Then the labelled counter should increase", func() {
				after := testutil.ToFloat64(globalManager.withdrawalRequests.WithLabelValues("limit_exceeded"))
				So(after-before, ShouldEqual, 1)
			})
		})

		Convey("When recording claims and replays", func() {
			recorded := testutil.ToFloat64(globalManager.claimsRecorded)
			replayed := testutil.ToFloat64(globalManager.claimsReplayed)
			RecordClaimRecorded()
			RecordClaimReplayed()
			RecordClaimReplayed()

			Convey("Then both counters should move independently", func() {
				So(testutil.ToFloat64(globalManager.claimsRecorded)-recorded, ShouldEqual, 1)
				So(testutil.ToFloat64(globalManager.claimsReplayed)-replayed, ShouldEqual, 2)
			})
		})

		Convey("When updating gauges", func() {
			UpdateQueueSize(7)
			UpdateLeaderboardEntries(3)
			SessionOpened()
			SessionOpened()
			SessionClosed()

			Convey("Then the gauges should hold the last value", func() {
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.leaderboardEntries), ShouldEqual, 3)
				So(testutil.ToFloat64(globalManager.activeSessions), ShouldEqual, 1)
			})
		})

		Convey("When observing histograms", func() {
			Convey("Then recording should not panic", func() {
				So(func() { RecordTelemetryFetch("timeout", 15000) }, ShouldNotPanic)
				So(func() { RecordLeaderboardBuild("ok", 42) }, ShouldNotPanic)
				So(func() { RecordHTTPRequestDuration("leaderboard", "GET", "200", 3) }, ShouldNotPanic)
				So(func() { RecordSystemGCPauseTime(0.4) }, ShouldNotPanic)
			})
		})

		Convey("When reading the registry", func() {
			So(GetRegistry(), ShouldEqual, customRegistry)
		})
	})
}
