package service_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	service "github.com/okian/versus/internal/app"
	"github.com/okian/versus/internal/config"
	"github.com/okian/versus/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// eventually polls cond until it holds or the deadline passes.
func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func testConfig() *config.Config {
	cfg := config.New(context.Background())
	cfg.Partitions = 2
	cfg.RelayIntervalMS = 10
	cfg.RetryInitialMS = 5
	cfg.RetryMaxMS = 50
	return cfg
}

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
	})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("embedded NATS server not ready")
	}
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

func TestServiceIntegration(t *testing.T) {
	backends := map[string]func(t *testing.T) []service.Option{
		"memory": func(_ *testing.T) []service.Option {
			return []service.Option{service.WithConfig(testConfig())}
		},
		"sqlite": func(t *testing.T) []service.Option {
			cfg := testConfig()
			cfg.Store = config.StoreSQLite
			cfg.DatabaseURL = filepath.Join(t.TempDir(), "versus.db")
			return []service.Option{service.WithConfig(cfg)}
		},
		"nats": func(t *testing.T) []service.Option {
			cfg := testConfig()
			cfg.Feed = config.FeedNATS
			return []service.Option{service.WithConfig(cfg), service.WithNATSConn(startNATS(t))}
		},
	}

	for name, build := range backends {
		Convey(fmt.Sprintf("Given a started service on the %s backend", name), t, func() {
			svc := service.New(build(t)...)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			Convey("When U1 votes A over B in C1", func() {
				_, err := svc.Submit(ctx, "U1", model.VoteRequest{CollectionID: "C1", WinnerID: "A", LoserID: "B"})
				So(err, ShouldBeNil)

				applied := eventually(10*time.Second, func() bool {
					a, err := svc.Standing(ctx, "C1", "A")
					return err == nil && a.Wins == 1
				})

				Convey("Then the standings reflect one applied vote", func() {
					So(applied, ShouldBeTrue)
					a, err := svc.Standing(ctx, "C1", "A")
					So(err, ShouldBeNil)
					So(a.Rating, ShouldEqual, 440)
					b, err := svc.Standing(ctx, "C1", "B")
					So(err, ShouldBeNil)
					So(b.Rating, ShouldEqual, 360)
					So(b.Losses, ShouldEqual, 1)
				})

				Convey("And the leaderboard lists A before B", func() {
					page, err := svc.Query(ctx, model.LeaderboardQuery{CollectionID: "C1"})
					So(err, ShouldBeNil)
					So(page.Standings, ShouldHaveLength, 2)
					So(page.Standings[0].ItemID, ShouldEqual, "A")
					So(page.Standings[1].ItemID, ShouldEqual, "B")
				})

				Convey("And a repeated vote on the same pair is refused", func() {
					_, err := svc.Submit(ctx, "U1", model.VoteRequest{CollectionID: "C1", WinnerID: "B", LoserID: "A"})
					So(errors.Is(err, model.ErrDuplicateVote), ShouldBeTrue)

					time.Sleep(100 * time.Millisecond)
					a, err := svc.Standing(ctx, "C1", "A")
					So(err, ShouldBeNil)
					So(a.Rating, ShouldEqual, 440)
					So(a.Wins, ShouldEqual, 1)
				})
			})

			Convey("When many voters judge many pairs", func() {
				items := []string{"A", "B", "C", "D"}
				accepted := 0
				for u := 0; u < 10; u++ {
					for i := range items {
						for j := i + 1; j < len(items); j++ {
							w, l := items[i], items[j]
							if (u+i+j)%2 == 0 {
								w, l = l, w
							}
							_, err := svc.Submit(ctx, fmt.Sprintf("U%d", u), model.VoteRequest{CollectionID: "C2", WinnerID: w, LoserID: l})
							So(err, ShouldBeNil)
							accepted++
						}
					}
				}

				settled := eventually(15*time.Second, func() bool {
					page, err := svc.Query(ctx, model.LeaderboardQuery{CollectionID: "C2"})
					if err != nil {
						return false
					}
					var wins int64
					for _, st := range page.Standings {
						wins += st.Wins
					}
					return wins == int64(accepted)
				})

				Convey("Then every accepted vote is applied exactly once", func() {
					So(settled, ShouldBeTrue)
					page, err := svc.Query(ctx, model.LeaderboardQuery{CollectionID: "C2"})
					So(err, ShouldBeNil)
					var wins, losses int64
					var sum float64
					for _, st := range page.Standings {
						wins += st.Wins
						losses += st.Losses
						sum += st.Rating
					}
					So(wins, ShouldEqual, accepted)
					So(losses, ShouldEqual, accepted)
					So(sum, ShouldAlmostEqual, 400*float64(len(items)), 1e-6)
				})

				Convey("And the stats report no feed lag", func() {
					So(eventually(5*time.Second, func() bool {
						return svc.GetStats()["feedLag"] == int64(0)
					}), ShouldBeTrue)
				})
			})
		})
	}
}
