package votesim

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrInconsistent is returned when the standings contradict the accepted votes.
	ErrInconsistent = errors.New("standings inconsistent with accepted votes")
	// ErrNotSettled is returned when the standings do not catch up in time.
	ErrNotSettled = errors.New("standings did not settle")
)

const ratingTolerance = 1e-6

// Verify checks the standings of a collection against the submission
// statistics: every accepted vote is applied exactly once, the page order
// is non-increasing, and rating points are conserved.
func Verify(entries []Entry, stats *Stats, baseline float64) error {
	var losses int64
	var sum float64
	for i, e := range entries {
		losses += e.Losses
		sum += e.Rating
		if i > 0 && e.Rating > entries[i-1].Rating {
			return fmt.Errorf("%w: %s ranked below a lower rating", ErrInconsistent, e.ItemID)
		}
	}

	wins := totalWins(entries)
	switch {
	case wins != int64(stats.Accepted):
		return fmt.Errorf("%w: %d wins for %d accepted votes", ErrInconsistent, wins, stats.Accepted)
	case losses != int64(stats.Accepted):
		return fmt.Errorf("%w: %d losses for %d accepted votes", ErrInconsistent, losses, stats.Accepted)
	case stats.Failed == 0 && stats.Rejected == 0 && stats.Accepted != stats.Unique:
		return fmt.Errorf("%w: %d accepted but %d distinct voter pairs", ErrInconsistent, stats.Accepted, stats.Unique)
	}
	if baseline > 0 {
		want := baseline * float64(len(entries))
		if math.Abs(sum-want) > ratingTolerance*math.Max(1, want) {
			return fmt.Errorf("%w: rating total %.6f, want %.6f", ErrInconsistent, sum, want)
		}
	}
	return nil
}

// Spearman returns the rank correlation between the hidden strengths and
// the served ratings of the items present in entries.
func Spearman(entries []Entry, pop Population) float64 {
	n := len(entries)
	if n < 2 {
		return 0
	}
	byStrength := make([]string, n)
	for i, e := range entries {
		byStrength[i] = e.ItemID
	}
	sort.SliceStable(byStrength, func(i, j int) bool {
		return pop.Strength[byStrength[i]] > pop.Strength[byStrength[j]]
	})
	strengthRank := make(map[string]int, n)
	for i, id := range byStrength {
		strengthRank[id] = i
	}

	var d2 float64
	for i, e := range entries {
		d := float64(i - strengthRank[e.ItemID])
		d2 += d * d
	}
	fn := float64(n)
	return 1 - 6*d2/(fn*(fn*fn-1))
}

func totalWins(entries []Entry) int64 {
	var wins int64
	for _, e := range entries {
		wins += e.Wins
	}
	return wins
}
