package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	service "github.com/okian/versus/internal/app"
	"github.com/okian/versus/internal/config"
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should have sensible defaults", func() {
			So(svc, ShouldNotBeNil)
			stats := svc.GetStats()
			So(stats["store"], ShouldEqual, config.StoreMemory)
			So(stats["feed"], ShouldEqual, config.FeedMemory)
			So(stats["partitions"], ShouldEqual, 8)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithPartitions(2),
			service.WithDedupeSize(25_000),
		)

		Convey("Then the overrides are applied", func() {
			stats := svc.GetStats()
			So(stats["partitions"], ShouldEqual, 2)
			So(stats["dedupeSize"], ShouldEqual, 25_000)
		})
	})
}

func TestService_Start(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithPartitions(2))
		// Ensure service is stopped after test
		defer svc.Stop()

		Convey("When starting the service", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := svc.Start(ctx)

			Convey("Then it should start successfully", func() {
				So(err, ShouldBeNil)
				So(svc.Ping(ctx), ShouldBeNil)
			})

			Convey("And it should be marked as started", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldBeTrue)
				So(stats["totalStandings"], ShouldEqual, 0)
				So(stats["lastSeq"], ShouldEqual, int64(0))
			})

			Convey("And starting again is a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})
		})
	})

	Convey("Given an invalid configuration", t, func() {
		cfg := config.New(context.Background())
		cfg.Store = "cassandra"
		svc := service.New(service.WithConfig(cfg))

		Convey("Then Start refuses it", func() {
			err := svc.Start(context.Background())
			So(errors.Is(err, config.ErrInvalidConfig), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldBeFalse)
		})
	})
}

func TestService_Stop(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New(service.WithPartitions(2))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When stopping the service", func() {
			svc.Stop()

			Convey("Then it should be marked as stopped", func() {
				So(svc.GetStats()["started"], ShouldBeFalse)
			})

			Convey("And operations report that it is not running", func() {
				_, err := svc.Submit(ctx, "U1", model.VoteRequest{CollectionID: "C1", WinnerID: "A", LoserID: "B"})
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				_, err = svc.Query(ctx, model.LeaderboardQuery{CollectionID: "C1"})
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(errors.Is(svc.Ping(ctx), service.ErrNotStarted), ShouldBeTrue)
			})

			Convey("And stopping twice is safe", func() {
				So(func() { svc.Stop() }, ShouldNotPanic)
			})
		})
	})
}

func TestService_Submit(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New(service.WithPartitions(2))
		defer svc.Stop()
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When submitting a valid vote", func() {
			v, err := svc.Submit(ctx, "U1", model.VoteRequest{CollectionID: "C1", WinnerID: "A", LoserID: "B"})

			Convey("Then it is accepted with a sequence", func() {
				So(err, ShouldBeNil)
				So(v.ID, ShouldNotBeEmpty)
				So(v.Seq, ShouldEqual, 1)
				So(v.PairKey, ShouldEqual, "B-A")
			})
		})

		Convey("When submitting an invalid vote", func() {
			_, err := svc.Submit(ctx, "U1", model.VoteRequest{CollectionID: "C1", WinnerID: "A", LoserID: "A"})

			Convey("Then it is rejected", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})
		})
	})
}
