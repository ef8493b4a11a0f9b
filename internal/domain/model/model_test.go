package model_test

import (
	"errors"
	"testing"
	"time"

	model "github.com/okian/versus/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestNewVote(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	convey.Convey("Given a vote request", t, func() {
		req := model.VoteRequest{CollectionID: "C1", WinnerID: "A", LoserID: "B"}

		convey.Convey("When it is well formed", func() {
			v, err := model.NewVote("U1", req, now)

			convey.Convey("Then keys are derived", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(v.PairKey, convey.ShouldEqual, "B-A")
				convey.So(v.DedupeKey, convey.ShouldEqual, "U1-B-A")
				convey.So(v.VoterID, convey.ShouldEqual, "U1")
				convey.So(v.CreatedAt, convey.ShouldEqual, now)
				convey.So(v.Validate(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the pair is reversed", func() {
			a, _ := model.NewVote("U1", req, now)
			b, _ := model.NewVote("U1", model.VoteRequest{CollectionID: "C1", WinnerID: "B", LoserID: "A"}, now)

			convey.Convey("Then the dedupe key is the same", func() {
				convey.So(a.DedupeKey, convey.ShouldEqual, b.DedupeKey)
			})
		})

		convey.Convey("When winner equals loser", func() {
			_, err := model.NewVote("U1", model.VoteRequest{CollectionID: "C1", WinnerID: "A", LoserID: "A"}, now)
			convey.So(errors.Is(err, model.ErrValidation), convey.ShouldBeTrue)
		})

		convey.Convey("When winner equals loser and other fields are missing", func() {
			_, err := model.NewVote("", model.VoteRequest{WinnerID: "A", LoserID: "A"}, now)

			convey.Convey("Then the self vote is reported first", func() {
				convey.So(err.Error(), convey.ShouldContainSubstring, "must differ")
			})
		})

		convey.Convey("When a field is missing", func() {
			for _, r := range []model.VoteRequest{
				{WinnerID: "A", LoserID: "B"},
				{CollectionID: "C1", LoserID: "B"},
				{CollectionID: "C1", WinnerID: "A"},
			} {
				_, err := model.NewVote("U1", r, now)
				convey.So(errors.Is(err, model.ErrValidation), convey.ShouldBeTrue)
			}
			_, err := model.NewVote(" ", req, now)
			convey.So(errors.Is(err, model.ErrValidation), convey.ShouldBeTrue)
		})

		convey.Convey("When the payload voter differs from the authenticated one", func() {
			req.VoterID = "U2"
			_, err := model.NewVote("U1", req, now)
			convey.So(errors.Is(err, model.ErrValidation), convey.ShouldBeTrue)
		})

		convey.Convey("When the payload voter matches", func() {
			req.VoterID = "U1"
			_, err := model.NewVote("U1", req, now)
			convey.So(err, convey.ShouldBeNil)
		})
	})
}

func TestChangeCodec(t *testing.T) {
	convey.Convey("Given a change record", t, func() {
		v, _ := model.NewVote("U1", model.VoteRequest{CollectionID: "C1", WinnerID: "A", LoserID: "B"}, time.Now())
		v.ID, v.Seq = "id-1", 7
		ev := model.ChangeEvent{Op: model.OpInsert, Seq: 7, Vote: v}

		convey.Convey("When encoded and decoded", func() {
			b, err := model.EncodeChange(ev)
			convey.So(err, convey.ShouldBeNil)
			got, err := model.DecodeChange(b)

			convey.Convey("Then the record survives", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(got.Vote.DedupeKey, convey.ShouldEqual, v.DedupeKey)
				convey.So(got.PartitionKey(), convey.ShouldEqual, "C1")
			})
		})

		convey.Convey("When the payload is garbage", func() {
			_, err := model.DecodeChange([]byte("{not json"))
			convey.So(errors.Is(err, model.ErrPoisonRecord), convey.ShouldBeTrue)
			_, err = model.DecodeChange([]byte(`{"seq":1}`))
			convey.So(errors.Is(err, model.ErrPoisonRecord), convey.ShouldBeTrue)
		})
	})
}

func TestLeaderboardQueryParsing(t *testing.T) {
	convey.Convey("Given order and cursor parsing", t, func() {
		o, err := model.ParseOrder("")
		convey.So(err, convey.ShouldBeNil)
		convey.So(o, convey.ShouldEqual, model.OrderDesc)
		o, _ = model.ParseOrder("ASC")
		convey.So(o, convey.ShouldEqual, model.OrderAsc)
		_, err = model.ParseOrder("sideways")
		convey.So(errors.Is(err, model.ErrInvalidQuery), convey.ShouldBeTrue)

		f, err := model.ParseOrderBy("elo")
		convey.So(err, convey.ShouldBeNil)
		convey.So(f, convey.ShouldEqual, model.OrderByRating)
		_, err = model.ParseOrderBy("wins")
		convey.So(errors.Is(err, model.ErrInvalidQuery), convey.ShouldBeTrue)

		c := model.Cursor{Rating: 412.5, ItemID: "item-9"}
		got, err := model.DecodeCursor(c.Encode())
		convey.So(err, convey.ShouldBeNil)
		convey.So(*got, convey.ShouldResemble, c)

		none, err := model.DecodeCursor("")
		convey.So(err, convey.ShouldBeNil)
		convey.So(none, convey.ShouldBeNil)

		_, err = model.DecodeCursor("%%%")
		convey.So(errors.Is(err, model.ErrInvalidQuery), convey.ShouldBeTrue)
	})

	convey.Convey("Given the ranking order", t, func() {
		hi := model.Standing{ItemID: "b", Rating: 500}
		tieA := model.Standing{ItemID: "a", Rating: 400}
		tieC := model.Standing{ItemID: "c", Rating: 400}

		convey.So(model.Before(hi, tieA), convey.ShouldBeTrue)
		convey.So(model.Before(tieA, tieC), convey.ShouldBeTrue)
		convey.So(model.AfterCursor(tieC, model.CursorAfter(tieA), model.OrderDesc), convey.ShouldBeTrue)
		convey.So(model.AfterCursor(tieA, model.CursorAfter(tieA), model.OrderDesc), convey.ShouldBeFalse)
		convey.So(model.AfterCursor(tieA, model.CursorAfter(tieC), model.OrderAsc), convey.ShouldBeTrue)
		convey.So(model.AfterCursor(hi, model.CursorAfter(tieC), model.OrderAsc), convey.ShouldBeTrue)
	})
}
