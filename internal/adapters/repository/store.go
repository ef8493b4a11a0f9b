// Package repository implements the vote store and the standings store.
//
// Two backends exist: an in-memory one for single-process deployments and
// tests, and a SQL one for PostgreSQL or SQLite.
package repository

import (
	"context"

	"github.com/okian/versus/internal/domain/model"
)

// VoteStore is the durable record of accepted votes.
type VoteStore interface {
	// RecordVote inserts v unless a vote with the same collection and dedupe
	// key exists, in which case the error wraps model.ErrDuplicateVote and the
	// returned vote carries the stored vote's id. On success the returned vote
	// carries its commit sequence.
	RecordVote(ctx context.Context, v model.Vote) (model.Vote, error)

	// Committed returns up to limit votes with a sequence greater than
	// afterSeq, in sequence order.
	Committed(ctx context.Context, afterSeq int64, limit int) ([]model.Vote, error)

	// LastSeq returns the highest committed sequence, or 0.
	LastSeq(ctx context.Context) (int64, error)

	// LoadCursor returns the saved position of a named feed reader, or 0.
	LoadCursor(ctx context.Context, name string) (int64, error)
	// SaveCursor persists the position of a named feed reader.
	SaveCursor(ctx context.Context, name string, seq int64) error
}

// StandingStore holds the derived per-item standings.
type StandingStore interface {
	// GetStanding returns the stored standing or an error wrapping model.ErrNotFound.
	GetStanding(ctx context.Context, collectionID, itemID string) (model.Standing, error)

	// PutPair writes both standings of one vote together and marks the vote
	// as applied. If the vote was applied before nothing is written and the
	// error wraps model.ErrAlreadyApplied.
	PutPair(ctx context.Context, voteID string, winner, loser model.Standing) error

	// Page returns up to limit standings of a collection in the given order,
	// starting strictly after the cursor when one is given.
	Page(ctx context.Context, collectionID string, order model.Order, after *model.Cursor, limit int) ([]model.Standing, error)

	// Count returns the number of standings across all collections.
	Count(ctx context.Context) (int, error)
}

// Store is a backend providing both stores.
type Store interface {
	VoteStore
	StandingStore
	Close() error
}
