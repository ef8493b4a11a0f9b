package voting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/versus/internal/adapters/repository"
	"github.com/okian/versus/internal/domain/model"
)

type failingRecorder struct {
	inner    Recorder
	failures int
	calls    int
}

func (r *failingRecorder) RecordVote(ctx context.Context, v model.Vote) (model.Vote, error) {
	r.calls++
	if r.failures != 0 {
		if r.failures > 0 {
			r.failures--
		}
		return model.Vote{}, errors.New("connection refused")
	}
	return r.inner.RecordVote(ctx, v)
}

// lostAckRecorder commits the first insert but reports a timeout for it.
type lostAckRecorder struct {
	inner Recorder
	calls int
}

func (r *lostAckRecorder) RecordVote(ctx context.Context, v model.Vote) (model.Vote, error) {
	r.calls++
	out, err := r.inner.RecordVote(ctx, v)
	if r.calls == 1 && err == nil {
		return model.Vote{}, context.DeadlineExceeded
	}
	return out, err
}

func TestIntake(t *testing.T) {
	Convey("Given an intake over an empty vote store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryVoteStore()
		var woken atomic.Int32
		in := NewIntake(store,
			WithNotify(func() { woken.Add(1) }),
			WithRetry(3, time.Millisecond, 2*time.Millisecond),
		)
		req := model.VoteRequest{CollectionID: "C1", WinnerID: "A", LoserID: "B"}

		Convey("When a valid vote is submitted", func() {
			v, err := in.Submit(ctx, "U1", req)

			Convey("Then it is stored with derived keys, an id and a sequence", func() {
				So(err, ShouldBeNil)
				So(v.ID, ShouldNotBeEmpty)
				So(v.Seq, ShouldEqual, 1)
				So(v.PairKey, ShouldEqual, "B-A")
				So(v.DedupeKey, ShouldEqual, "U1-B-A")
				So(woken.Load(), ShouldEqual, 1)
			})

			Convey("Then the same voter judging the pair again is a duplicate", func() {
				_, err := in.Submit(ctx, "U1", model.VoteRequest{CollectionID: "C1", WinnerID: "B", LoserID: "A"})
				So(errors.Is(err, model.ErrDuplicateVote), ShouldBeTrue)
				last, _ := store.LastSeq(ctx)
				So(last, ShouldEqual, 1)
				So(woken.Load(), ShouldEqual, 1)
			})

			Convey("Then another voter may judge the same pair", func() {
				_, err := in.Submit(ctx, "U2", req)
				So(err, ShouldBeNil)
			})
		})

		Convey("When the request is invalid", func() {
			_, errSelf := in.Submit(ctx, "U1", model.VoteRequest{CollectionID: "C1", WinnerID: "A", LoserID: "A"})
			_, errAnon := in.Submit(ctx, "", req)
			_, errMismatch := in.Submit(ctx, "U1", model.VoteRequest{CollectionID: "C1", WinnerID: "A", LoserID: "B", VoterID: "U2"})

			Convey("Then each is a validation error and nothing is stored", func() {
				So(errors.Is(errSelf, model.ErrValidation), ShouldBeTrue)
				So(errors.Is(errAnon, model.ErrValidation), ShouldBeTrue)
				So(errors.Is(errMismatch, model.ErrValidation), ShouldBeTrue)
				last, _ := store.LastSeq(ctx)
				So(last, ShouldEqual, 0)
			})
		})

		Convey("When many identical votes race", func() {
			var wg sync.WaitGroup
			var accepted, duplicates atomic.Int32
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := in.Submit(ctx, "U1", req)
					switch {
					case err == nil:
						accepted.Add(1)
					case errors.Is(err, model.ErrDuplicateVote):
						duplicates.Add(1)
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one is accepted", func() {
				So(accepted.Load(), ShouldEqual, 1)
				So(duplicates.Load(), ShouldEqual, 31)
			})
		})
	})

	Convey("Given a store with transient failures", t, func() {
		ctx := context.Background()
		rec := &failingRecorder{inner: repository.NewMemoryVoteStore(), failures: 2}
		in := NewIntake(rec, WithRetry(3, time.Millisecond, 2*time.Millisecond))

		Convey("When a vote is submitted", func() {
			_, err := in.Submit(ctx, "U1", model.VoteRequest{CollectionID: "C1", WinnerID: "A", LoserID: "B"})

			Convey("Then it succeeds within the retry budget", func() {
				So(err, ShouldBeNil)
				So(rec.calls, ShouldEqual, 3)
			})
		})

		Convey("When the store never recovers", func() {
			rec.failures = -1
			_, err := in.Submit(ctx, "U1", model.VoteRequest{CollectionID: "C1", WinnerID: "A", LoserID: "B"})

			Convey("Then a store error surfaces after bounded attempts", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, model.ErrValidation), ShouldBeFalse)
				So(errors.Is(err, model.ErrDuplicateVote), ShouldBeFalse)
				So(rec.calls, ShouldEqual, 3)
			})
		})
	})

	Convey("Given a store that commits but loses the reply", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryVoteStore()
		rec := &lostAckRecorder{inner: store}
		var woken atomic.Int32
		in := NewIntake(rec,
			WithNotify(func() { woken.Add(1) }),
			WithRetry(3, time.Millisecond, 2*time.Millisecond),
		)

		Convey("When a vote is submitted", func() {
			v, err := in.Submit(ctx, "U1", model.VoteRequest{CollectionID: "C1", WinnerID: "A", LoserID: "B"})

			Convey("Then the retry recognises its own vote as accepted", func() {
				So(err, ShouldBeNil)
				So(rec.calls, ShouldEqual, 2)
				So(v.Seq, ShouldEqual, 1)
				So(v.WinnerID, ShouldEqual, "A")
				So(woken.Load(), ShouldEqual, 1)
				last, err := store.LastSeq(ctx)
				So(err, ShouldBeNil)
				So(last, ShouldEqual, 1)
			})

			Convey("And the voter submits the same pair again", func() {
				_, err := in.Submit(ctx, "U1", model.VoteRequest{CollectionID: "C1", WinnerID: "B", LoserID: "A"})

				Convey("Then it is still a duplicate", func() {
					So(errors.Is(err, model.ErrDuplicateVote), ShouldBeTrue)
				})
			})
		})
	})

	Convey("Given a fixed clock and id generator", t, func() {
		now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		n := 0
		in := NewIntake(repository.NewMemoryVoteStore(),
			WithClock(func() time.Time { return now }),
			WithIDGenerator(func() string { n++; return fmt.Sprintf("vote-%d", n) }),
		)

		v, err := in.Submit(context.Background(), "U1", model.VoteRequest{CollectionID: "C1", WinnerID: "A", LoserID: "B"})
		So(err, ShouldBeNil)
		So(v.ID, ShouldEqual, "vote-1")
		So(v.CreatedAt, ShouldEqual, now)
	})
}
