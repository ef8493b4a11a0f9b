package rating_test

import (
	"math"
	"testing"

	rating "github.com/okian/versus/internal/domain/rating"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEngine_Update(t *testing.T) {
	Convey("Given a default engine", t, func() {
		e := rating.NewEngine()

		Convey("When two baseline items meet", func() {
			w, l := e.Update(400, 400)

			Convey("Then the winner gains the flat bonus plus half the logistic term", func() {
				So(w, ShouldEqual, 440)
				So(l, ShouldEqual, 360)
			})
		})

		Convey("When ratings span a wide range", func() {
			Convey("Then the winner strictly rises and the loser strictly falls", func() {
				for _, wr := range []float64{-10000, -3000, -400, 0, 400, 1200, 3000, 10000} {
					for _, lr := range []float64{-10000, -3000, -400, 0, 400, 1200, 3000, 10000} {
						nw, nl := e.Update(wr, lr)
						So(nw, ShouldBeGreaterThan, wr)
						So(nl, ShouldBeLessThan, lr)
						So(math.IsInf(nw, 0) || math.IsNaN(nw), ShouldBeFalse)
						So(math.IsInf(nl, 0) || math.IsNaN(nl), ShouldBeFalse)
					}
				}
			})
		})

		Convey("When the winner's advantage grows", func() {
			Convey("Then the transfer shrinks", func() {
				prev := math.Inf(1)
				for adv := -2000.0; adv <= 2000; adv += 100 {
					d := e.Delta(400+adv, 400)
					So(d, ShouldBeLessThanOrEqualTo, prev)
					So(d, ShouldBeGreaterThanOrEqualTo, rating.DefaultFlatBonus)
					prev = d
				}
			})
		})

		Convey("When the same inputs are given twice", func() {
			w1, l1 := e.Update(517.25, 388.5)
			w2, l2 := e.Update(517.25, 388.5)

			Convey("Then the outputs are identical", func() {
				So(w1, ShouldEqual, w2)
				So(l1, ShouldEqual, l2)
			})
		})

		Convey("When ratings are extreme", func() {
			So(e.Expected(1e6, -1e6), ShouldEqual, 1)
			So(e.Expected(-1e6, 1e6), ShouldEqual, 0)
		})
	})

	Convey("Given a tuned engine", t, func() {
		e := rating.NewEngine(rating.WithFlatBonus(10), rating.WithLogisticK(20), rating.WithFlatBonus(-1))

		Convey("Then the parameters apply and invalid ones are ignored", func() {
			w, l := e.Update(400, 400)
			So(w, ShouldEqual, 420)
			So(l, ShouldEqual, 380)
		})
	})
}
