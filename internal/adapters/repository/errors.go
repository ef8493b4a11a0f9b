package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrInvalidLimit   = errors.New("invalid page limit")
	ErrClosed         = errors.New("store closed")
	ErrUnknownDialect = errors.New("unknown sql dialect")
)
