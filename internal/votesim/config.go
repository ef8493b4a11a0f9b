// Package votesim drives a running versus service with simulated voters
// and checks that the published standings are consistent with what was
// accepted.
package votesim

import (
	"fmt"
	"time"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL     string        // Base URL of the service
	Collection  string        // Collection the votes are cast in
	Items       int           // Number of distinct items
	Voters      int           // Number of distinct voters
	Votes       int           // Number of votes to generate
	Workers     int           // Number of concurrent submitters
	Timeout     time.Duration // HTTP request timeout
	Settle      time.Duration // How long to wait for the feed to drain
	VoterHeader string        // Header carrying the voter identity
	Baseline    float64       // Rating of an item nobody voted on
	Seed        uint64        // Seed for the generator; 0 picks one
	OutputFile  string        // Optional file receiving the generated votes
	Verbose     bool          // Enable verbose logging
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("base url is required")
	case c.Collection == "":
		return fmt.Errorf("collection is required")
	case c.Items < 2:
		return fmt.Errorf("at least two items are required")
	case c.Voters < 1:
		return fmt.Errorf("at least one voter is required")
	case c.Votes < 1:
		return fmt.Errorf("at least one vote is required")
	case c.Workers < 1:
		return fmt.Errorf("at least one worker is required")
	}
	return nil
}

// Vote is one generated judgment.
type Vote struct {
	VoterID      string `json:"voterId"`
	CollectionID string `json:"collectionId"`
	WinnerID     string `json:"winnerItemId"`
	LoserID      string `json:"loserItemId"`
}

// Entry is a leaderboard entry as served by the API.
type Entry struct {
	ItemID string  `json:"itemId"`
	Rating float64 `json:"rating"`
	Wins   int64   `json:"wins"`
	Losses int64   `json:"losses"`
}

// Stats holds run statistics.
type Stats struct {
	Generated int
	Unique    int
	Accepted  int
	Duplicate int
	Rejected  int
	Failed    int
	Standings int
	Pages     int
	Spearman  float64
	StartTime time.Time
	Duration  time.Duration
}
