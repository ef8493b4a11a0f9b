package queue

import "errors"

// Sentinel kinds for feed errors.
var (
	ErrClosed          = errors.New("feed closed")
	ErrFull            = errors.New("feed partition full")
	ErrBadPartition    = errors.New("no such partition")
	ErrAlreadyConsumed = errors.New("partition already has a consumer")
	ErrSettled         = errors.New("delivery already settled")
)
