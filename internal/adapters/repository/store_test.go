package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/versus/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func backends(t *testing.T) map[string]func() Store {
	t.Helper()
	out := map[string]func() Store{
		"memory": func() Store { return NewMemoryStore(context.Background()) },
		"sqlite": func() Store {
			dsn := filepath.Join(t.TempDir(), fmt.Sprintf("versus-%d.db", time.Now().UnixNano()))
			s, err := OpenSQL(context.Background(), DialectSQLite, dsn)
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return s
		},
	}
	if url := os.Getenv("VERSUS_TEST_POSTGRES_URL"); url != "" {
		out["postgres"] = func() Store {
			s, err := OpenSQL(context.Background(), DialectPostgres, url)
			if err != nil {
				t.Fatalf("open postgres: %v", err)
			}
			if _, err := s.DB().Exec(`TRUNCATE votes, standings, applied_votes, feed_cursors`); err != nil {
				t.Fatalf("truncate: %v", err)
			}
			return s
		}
	}
	return out
}

func vote(t *testing.T, voter, collection, winner, loser string) model.Vote {
	t.Helper()
	v, err := model.NewVote(voter, model.VoteRequest{CollectionID: collection, WinnerID: winner, LoserID: loser}, time.Now())
	if err != nil {
		t.Fatalf("new vote: %v", err)
	}
	v.ID = fmt.Sprintf("%s-%s-%s-%s", voter, collection, winner, loser)
	return v
}

func TestVoteStore(t *testing.T) {
	for name, open := range backends(t) {
		Convey("Given a "+name+" vote store", t, func() {
			ctx := context.Background()
			s := open()
			defer s.Close()

			Convey("When a vote is recorded", func() {
				got, err := s.RecordVote(ctx, vote(t, "U1", "C1", "A", "B"))

				Convey("Then it gets the first sequence", func() {
					So(err, ShouldBeNil)
					So(got.Seq, ShouldEqual, 1)
					last, err := s.LastSeq(ctx)
					So(err, ShouldBeNil)
					So(last, ShouldEqual, 1)
				})

				Convey("And the same voter judges the reversed pair", func() {
					existing, err := s.RecordVote(ctx, vote(t, "U1", "C1", "B", "A"))

					Convey("Then it is a duplicate naming the stored vote", func() {
						So(errors.Is(err, model.ErrDuplicateVote), ShouldBeTrue)
						So(existing.ID, ShouldEqual, "U1-C1-A-B")
						So(existing.Seq, ShouldEqual, 1)
					})
				})

				Convey("And the same vote is recorded again", func() {
					existing, err := s.RecordVote(ctx, vote(t, "U1", "C1", "A", "B"))

					Convey("Then the conflict carries its own id", func() {
						So(errors.Is(err, model.ErrDuplicateVote), ShouldBeTrue)
						So(existing.ID, ShouldEqual, "U1-C1-A-B")
						last, err := s.LastSeq(ctx)
						So(err, ShouldBeNil)
						So(last, ShouldEqual, 1)
					})
				})

				Convey("And another voter judges the pair", func() {
					_, err := s.RecordVote(ctx, vote(t, "U2", "C1", "A", "B"))
					So(err, ShouldBeNil)
				})

				Convey("And the same voter judges the pair in another collection", func() {
					_, err := s.RecordVote(ctx, vote(t, "U1", "C2", "A", "B"))
					So(err, ShouldBeNil)
				})
			})

			Convey("When many votes are committed", func() {
				for i := 0; i < 5; i++ {
					_, err := s.RecordVote(ctx, vote(t, fmt.Sprintf("U%d", i), "C1", "A", "B"))
					So(err, ShouldBeNil)
				}

				Convey("Then they are read back in sequence order", func() {
					first, err := s.Committed(ctx, 0, 3)
					So(err, ShouldBeNil)
					So(len(first), ShouldEqual, 3)
					rest, err := s.Committed(ctx, first[2].Seq, 10)
					So(err, ShouldBeNil)
					So(len(rest), ShouldEqual, 2)
					So(rest[0].Seq, ShouldBeGreaterThan, first[2].Seq)
					So(rest[1].VoterID, ShouldEqual, "U4")
					So(rest[1].PairKey, ShouldEqual, "B-A")

					none, err := s.Committed(ctx, rest[1].Seq, 10)
					So(err, ShouldBeNil)
					So(len(none), ShouldEqual, 0)
				})

				Convey("Then an invalid limit is rejected", func() {
					_, err := s.Committed(ctx, 0, 0)
					So(errors.Is(err, ErrInvalidLimit), ShouldBeTrue)
				})
			})

			Convey("When a cursor is saved", func() {
				before, err := s.LoadCursor(ctx, "relay")
				So(err, ShouldBeNil)
				So(s.SaveCursor(ctx, "relay", 42), ShouldBeNil)
				So(s.SaveCursor(ctx, "relay", 43), ShouldBeNil)
				after, err := s.LoadCursor(ctx, "relay")

				Convey("Then it is loaded back", func() {
					So(before, ShouldEqual, 0)
					So(err, ShouldBeNil)
					So(after, ShouldEqual, 43)
				})
			})

			Convey("When the same pair is raced by one voter", func() {
				var wg sync.WaitGroup
				var ok, dup atomic.Int64
				for i := 0; i < 20; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						v := vote(t, "U1", "C9", "X", "Y")
						if i%2 == 1 {
							v = vote(t, "U1", "C9", "Y", "X")
						}
						v.ID = fmt.Sprintf("race-%d", i)
						_, err := s.RecordVote(ctx, v)
						switch {
						case err == nil:
							ok.Add(1)
						case errors.Is(err, model.ErrDuplicateVote):
							dup.Add(1)
						}
					}(i)
				}
				wg.Wait()

				Convey("Then exactly one is accepted", func() {
					So(ok.Load(), ShouldEqual, 1)
					So(dup.Load(), ShouldEqual, 19)
				})
			})
		})
	}
}

func TestStandingStore(t *testing.T) {
	for name, open := range backends(t) {
		Convey("Given a "+name+" standing store", t, func() {
			ctx := context.Background()
			s := open()
			defer s.Close()

			put := func(item string, rating float64, w, l int64) {
				st := model.Standing{CollectionID: "C1", ItemID: item, Rating: rating, Wins: w, Losses: l, UpdatedAt: time.Now()}
				So(s.PutPair(ctx, "seed-"+item, st, st), ShouldBeNil)
			}

			Convey("When the item is unknown", func() {
				_, err := s.GetStanding(ctx, "C1", "ghost")
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})

			Convey("When the collection is empty", func() {
				page, err := s.Page(ctx, "empty", model.OrderDesc, nil, 10)
				So(err, ShouldBeNil)
				So(page, ShouldBeEmpty)
			})

			Convey("When a pair is written", func() {
				w := model.Standing{CollectionID: "C1", ItemID: "A", Rating: 440, Wins: 1, UpdatedAt: time.Now()}
				l := model.Standing{CollectionID: "C1", ItemID: "B", Rating: 360, Losses: 1, UpdatedAt: time.Now()}
				So(s.PutPair(ctx, "v1", w, l), ShouldBeNil)

				Convey("Then both are readable", func() {
					a, err := s.GetStanding(ctx, "C1", "A")
					So(err, ShouldBeNil)
					So(a.Rating, ShouldEqual, 440)
					So(a.Wins, ShouldEqual, 1)
					b, err := s.GetStanding(ctx, "C1", "B")
					So(err, ShouldBeNil)
					So(b.Losses, ShouldEqual, 1)
					n, err := s.Count(ctx)
					So(err, ShouldBeNil)
					So(n, ShouldEqual, 2)
				})

				Convey("And rewritten by the next vote", func() {
					w.Rating, w.Wins = 470, 2
					So(s.PutPair(ctx, "v2", w, l), ShouldBeNil)
					a, _ := s.GetStanding(ctx, "C1", "A")
					So(a.Rating, ShouldEqual, 470)
					n, _ := s.Count(ctx)
					So(n, ShouldEqual, 2)
				})

				Convey("And the same vote is applied again", func() {
					w.Rating, w.Wins = 999, 9
					err := s.PutPair(ctx, "v1", w, l)

					Convey("Then nothing changes", func() {
						So(errors.Is(err, model.ErrAlreadyApplied), ShouldBeTrue)
						a, _ := s.GetStanding(ctx, "C1", "A")
						So(a.Rating, ShouldEqual, 440)
						So(a.Wins, ShouldEqual, 1)
					})
				})
			})

			Convey("When paging a collection with ties", func() {
				put("d", 500, 3, 0)
				put("a", 400, 1, 1)
				put("c", 400, 1, 1)
				put("b", 400, 1, 1)
				put("e", 300, 0, 3)

				ids := func(order model.Order, limit int) []string {
					var out []string
					var after *model.Cursor
					for {
						page, err := s.Page(ctx, "C1", order, after, limit)
						So(err, ShouldBeNil)
						for _, st := range page {
							out = append(out, st.ItemID)
						}
						if len(page) < limit {
							return out
						}
						c := model.CursorAfter(page[len(page)-1])
						after = &c
					}
				}

				Convey("Then descending order breaks ties by item id", func() {
					So(ids(model.OrderDesc, 100), ShouldResemble, []string{"d", "a", "b", "c", "e"})
				})

				Convey("Then ascending order is the exact reverse", func() {
					So(ids(model.OrderAsc, 100), ShouldResemble, []string{"e", "c", "b", "a", "d"})
				})

				Convey("Then pages never repeat or skip", func() {
					for _, limit := range []int{1, 2, 3} {
						So(ids(model.OrderDesc, limit), ShouldResemble, []string{"d", "a", "b", "c", "e"})
						So(ids(model.OrderAsc, limit), ShouldResemble, []string{"e", "c", "b", "a", "d"})
					}
				})

				Convey("Then an invalid limit is rejected", func() {
					_, err := s.Page(ctx, "C1", model.OrderDesc, nil, 0)
					So(errors.Is(err, ErrInvalidLimit), ShouldBeTrue)
				})
			})
		})
	}
}

func TestOpenSQLUnknownDialect(t *testing.T) {
	Convey("Given an unknown dialect", t, func() {
		_, err := OpenSQL(context.Background(), Dialect("oracle"), "x")
		So(errors.Is(err, ErrUnknownDialect), ShouldBeTrue)
	})
}
