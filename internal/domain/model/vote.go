// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// VoteRequest is what a voter submits: a preference of one item over
// another within a collection. VoterID is optional; when present it must
// match the authenticated voter.
type VoteRequest struct {
	CollectionID string `json:"collectionId"`
	WinnerID     string `json:"winnerItemId"`
	LoserID      string `json:"loserItemId"`
	VoterID      string `json:"voterId,omitempty"`
}

// Vote is an accepted, immutable judgment.
type Vote struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collectionId"`
	VoterID      string    `json:"voterId"`
	WinnerID     string    `json:"winnerItemId"`
	LoserID      string    `json:"loserItemId"`
	PairKey      string    `json:"pairKey"`
	DedupeKey    string    `json:"dedupeKey"`
	Seq          int64     `json:"seq"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PairKey returns the order-independent key of two items: the
// lexicographically larger id first.
func PairKey(a, b string) string {
	if a < b {
		a, b = b, a
	}
	return a + "-" + b
}

// DedupeKey returns the key that admits one judgment per voter per pair.
func DedupeKey(voterID, pairKey string) string {
	return voterID + "-" + pairKey
}

// NewVote validates req on behalf of the authenticated voter and derives
// the pair and dedupe keys. The id and sequence are assigned later.
func NewVote(authVoterID string, req VoteRequest, now time.Time) (Vote, error) {
	collection := strings.TrimSpace(req.CollectionID)
	winner := strings.TrimSpace(req.WinnerID)
	loser := strings.TrimSpace(req.LoserID)
	voter := strings.TrimSpace(authVoterID)

	if winner == loser {
		return Vote{}, fmt.Errorf("%w: winner and loser must differ", ErrValidation)
	}
	switch {
	case collection == "":
		return Vote{}, fmt.Errorf("%w: collectionId is required", ErrValidation)
	case voter == "":
		return Vote{}, fmt.Errorf("%w: voter identity is required", ErrValidation)
	case winner == "":
		return Vote{}, fmt.Errorf("%w: winnerItemId is required", ErrValidation)
	case loser == "":
		return Vote{}, fmt.Errorf("%w: loserItemId is required", ErrValidation)
	}
	if payload := strings.TrimSpace(req.VoterID); payload != "" && payload != voter {
		return Vote{}, fmt.Errorf("%w: voterId does not match the authenticated voter", ErrValidation)
	}

	pair := PairKey(winner, loser)
	return Vote{
		CollectionID: collection,
		VoterID:      voter,
		WinnerID:     winner,
		LoserID:      loser,
		PairKey:      pair,
		DedupeKey:    DedupeKey(voter, pair),
		CreatedAt:    now.UTC(),
	}, nil
}

// Validate checks a vote read back from storage or the feed.
func (v Vote) Validate() error {
	if v.CollectionID == "" || v.VoterID == "" || v.WinnerID == "" || v.LoserID == "" {
		return fmt.Errorf("%w: missing field in vote %q", ErrValidation, v.ID)
	}
	if v.WinnerID == v.LoserID {
		return fmt.Errorf("%w: self vote %q", ErrValidation, v.ID)
	}
	if v.PairKey != PairKey(v.WinnerID, v.LoserID) {
		return fmt.Errorf("%w: pair key mismatch in vote %q", ErrValidation, v.ID)
	}
	return nil
}
