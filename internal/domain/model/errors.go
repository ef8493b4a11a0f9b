package model

import "errors"

// Sentinel errors shared across the vote pipeline.
var (
	// ErrValidation marks a malformed vote request.
	ErrValidation = errors.New("invalid vote")
	// ErrDuplicateVote marks a second judgment of the same pair by the same voter.
	ErrDuplicateVote = errors.New("duplicate vote")
	// ErrPoisonRecord marks a change record that can never be processed.
	ErrPoisonRecord = errors.New("poison record")
	// ErrAlreadyApplied marks a vote whose rating update is already stored.
	ErrAlreadyApplied = errors.New("vote already applied")
	// ErrNotFound marks a missing standing.
	ErrNotFound = errors.New("not found")
	// ErrInvalidQuery marks a malformed leaderboard query.
	ErrInvalidQuery = errors.New("invalid query")
)
