package model

import "time"

// BaselineRating is the rating of an item with no processed votes.
const BaselineRating = 400.0

// Standing is the derived rating and record of one item in a collection.
type Standing struct {
	CollectionID string    `json:"-"`
	ItemID       string    `json:"itemId"`
	Rating       float64   `json:"rating"`
	Wins         int64     `json:"wins"`
	Losses       int64     `json:"losses"`
	UpdatedAt    time.Time `json:"-"`
}

// NewStanding returns the implicit standing of an item that has not been voted on.
func NewStanding(collectionID, itemID string, baseline float64) Standing {
	return Standing{CollectionID: collectionID, ItemID: itemID, Rating: baseline}
}
