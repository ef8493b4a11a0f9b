// Package rating computes pairwise rating updates.
//
// An update moves the winner up and the loser down by the same amount:
//
//	expected = 1 / (1 + 10^((loser-winner)/400))
//	delta    = flatBonus + logisticK*(1-expected)
//
// The flat term guarantees every win counts. The logistic term rewards
// upsets and shrinks as the winner's existing advantage grows.
package rating

import (
	"math"
)

const (
	DefaultFlatBonus = 32.0
	DefaultLogisticK = 16.0

	scale = 400.0
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithFlatBonus sets the flat term. Non-positive values are ignored.
func WithFlatBonus(v float64) Option {
	return func(e *Engine) {
		if v > 0 && !math.IsInf(v, 0) {
			e.flatBonus = v
		}
	}
}

// WithLogisticK sets the weight of the logistic term. Non-positive values are ignored.
func WithLogisticK(v float64) Option {
	return func(e *Engine) {
		if v > 0 && !math.IsInf(v, 0) {
			e.logisticK = v
		}
	}
}

// Engine is a pure rating calculator. It is safe for concurrent use.
type Engine struct {
	flatBonus float64
	logisticK float64
}

// NewEngine creates an engine with the default parameters.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		flatBonus: DefaultFlatBonus,
		logisticK: DefaultLogisticK,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expected returns the probability the winner was expected to win, in [0, 1].
func (e *Engine) Expected(winner, loser float64) float64 {
	p := 1 / (1 + math.Pow(10, (loser-winner)/scale))
	if math.IsNaN(p) {
		return 0.5
	}
	return p
}

// Delta returns the points transferred from loser to winner.
func (e *Engine) Delta(winner, loser float64) float64 {
	return e.flatBonus + e.logisticK*(1-e.Expected(winner, loser))
}

// Update returns the new ratings after winner beats loser. Both inputs are
// the ratings as they were before this vote.
func (e *Engine) Update(winner, loser float64) (newWinner, newLoser float64) {
	d := e.Delta(winner, loser)
	return winner + d, loser - d
}
