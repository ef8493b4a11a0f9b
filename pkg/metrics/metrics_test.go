package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with custom options on a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("board"),
				WithMetricPrefix("x_"),
				WithHistogramBuckets([]float64{1, 5, 10}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metrics carry the configured naming", func() {
				So(manager, ShouldNotBeNil)
				manager.ratingUpdates.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_board_x_rating_updates_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "test")
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording domain events", func() {
			before := testutil.ToFloat64(globalManager.votesReceived.WithLabelValues("accepted"))
			RecordVoteReceived("accepted")
			RecordVoteDuplicate()
			RecordRatingUpdate()
			RecordProcessorError("store")
			RecordPoisonRecord()
			RecordFeedPublished()
			UpdateFeedDepth("0", 3)
			RecordStoreLatency("put_pair", 1.5)
			RecordHTTPRequest("/votes", "POST", "200")

			Convey("Then counters move", func() {
				So(testutil.ToFloat64(globalManager.votesReceived.WithLabelValues("accepted")), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.feedDepth.WithLabelValues("0")), ShouldEqual, 3)
			})
		})

		Convey("When collecting system stats", func() {
			n := CollectSystem(0)

			Convey("Then goroutines are reported", func() {
				So(testutil.ToFloat64(globalManager.systemGoroutineCount), ShouldBeGreaterThan, 0)
				So(n, ShouldBeGreaterThanOrEqualTo, 0)
			})
		})

		Convey("When exposing the registry", func() {
			out, err := testutil.GatherAndCount(GetRegistry())

			Convey("Then our metrics are registered", func() {
				So(err, ShouldBeNil)
				So(out, ShouldBeGreaterThan, 0)
			})
		})
	})
}
