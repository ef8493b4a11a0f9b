package votesim

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/google/uuid"
)

// Population is the hidden ground truth of a simulation: every item has a
// strength, and stronger items win more often.
type Population struct {
	Items    []string
	Strength map[string]float64
}

// NewPopulation creates n items with strengths drawn from rng.
func NewPopulation(rng *rand.Rand, n int) Population {
	p := Population{Items: make([]string, n), Strength: make(map[string]float64, n)}
	for i := range p.Items {
		id := fmt.Sprintf("item-%03d-%s", i, uuid.NewString()[:8])
		p.Items[i] = id
		p.Strength[id] = rng.NormFloat64()
	}
	return p
}

// Generate produces cfg.Votes votes and the number of distinct
// (voter, pair) combinations among them, which is how many the service
// should accept.
func Generate(rng *rand.Rand, cfg *Config, pop Population) ([]Vote, int) {
	votes := make([]Vote, 0, cfg.Votes)
	seen := make(map[string]struct{}, cfg.Votes)

	for len(votes) < cfg.Votes {
		a := pop.Items[rng.IntN(len(pop.Items))]
		b := pop.Items[rng.IntN(len(pop.Items))]
		if a == b {
			continue
		}
		voter := fmt.Sprintf("voter-%d", rng.IntN(cfg.Voters))

		winner, loser := a, b
		if rng.Float64() > winProbability(pop.Strength[a], pop.Strength[b]) {
			winner, loser = b, a
		}
		votes = append(votes, Vote{
			VoterID:      voter,
			CollectionID: cfg.Collection,
			WinnerID:     winner,
			LoserID:      loser,
		})
		seen[dedupeKey(voter, a, b)] = struct{}{}
	}
	return votes, len(seen)
}

func winProbability(a, b float64) float64 {
	return 1 / (1 + math.Exp(b-a))
}

func dedupeKey(voter, a, b string) string {
	if a < b {
		a, b = b, a
	}
	return voter + "-" + a + "-" + b
}
