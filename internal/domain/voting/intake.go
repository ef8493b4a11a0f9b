// Package voting accepts pairwise votes into the vote store.
package voting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/logger"
	"github.com/okian/versus/pkg/metrics"
)

const (
	defaultStoreTimeout = 2 * time.Second
	defaultMaxAttempts  = 3
	defaultRetryInitial = 25 * time.Millisecond
	defaultRetryMax     = 500 * time.Millisecond
)

// Recorder is the conditional insert of the vote store.
type Recorder interface {
	RecordVote(ctx context.Context, v model.Vote) (model.Vote, error)
}

// Intake validates and records votes.
type Intake struct {
	store        Recorder
	notify       func()
	storeTimeout time.Duration
	maxAttempts  uint
	retryInitial time.Duration
	retryMax     time.Duration
	now          func() time.Time
	newID        func() string
	logger       logger.Logger
}

// Option applies a configuration option to the Intake.
type Option func(*Intake)

// WithNotify registers a callback run after each accepted vote.
func WithNotify(fn func()) Option {
	return func(in *Intake) {
		if fn != nil {
			in.notify = fn
		}
	}
}

// WithStoreTimeout bounds each insert attempt.
func WithStoreTimeout(d time.Duration) Option {
	return func(in *Intake) {
		if d > 0 {
			in.storeTimeout = d
		}
	}
}

// WithRetry sets how many insert attempts are made on transient errors and
// the delay between them.
func WithRetry(maxAttempts int, initial, maxDelay time.Duration) Option {
	return func(in *Intake) {
		if maxAttempts > 0 {
			in.maxAttempts = uint(maxAttempts)
		}
		if initial > 0 {
			in.retryInitial = initial
		}
		if maxDelay >= in.retryInitial {
			in.retryMax = maxDelay
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(in *Intake) {
		if now != nil {
			in.now = now
		}
	}
}

// WithIDGenerator overrides vote id generation.
func WithIDGenerator(fn func() string) Option {
	return func(in *Intake) {
		if fn != nil {
			in.newID = fn
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(in *Intake) {
		if l != nil {
			in.logger = l
		}
	}
}

// NewIntake creates an intake writing to store.
func NewIntake(store Recorder, opts ...Option) *Intake {
	in := &Intake{
		store:        store,
		notify:       func() {},
		storeTimeout: defaultStoreTimeout,
		maxAttempts:  defaultMaxAttempts,
		retryInitial: defaultRetryInitial,
		retryMax:     defaultRetryMax,
		now:          time.Now,
		newID:        uuid.NewString,
		logger:       logger.Get().Named("intake"),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Submit records a vote on behalf of the authenticated voter. Errors wrap
// model.ErrValidation or model.ErrDuplicateVote for caller mistakes; any
// other error is a store failure.
func (in *Intake) Submit(ctx context.Context, voterID string, req model.VoteRequest) (model.Vote, error) {
	start := time.Now()
	defer func() {
		metrics.RecordIntakeLatency(metrics.Since(start))
	}()

	v, err := model.NewVote(voterID, req, in.now())
	if err != nil {
		metrics.RecordVoteReceived("invalid")
		return model.Vote{}, err
	}
	v.ID = in.newID()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = in.retryInitial
	b.MaxInterval = in.retryMax

	stored, err := backoff.Retry(ctx, func() (model.Vote, error) {
		tctx, cancel := context.WithTimeout(ctx, in.storeTimeout)
		defer cancel()
		out, err := in.store.RecordVote(tctx, v)
		if errors.Is(err, model.ErrDuplicateVote) && out.ID == v.ID {
			// an earlier attempt committed but its reply was lost
			v.Seq = out.Seq
			return v, nil
		}
		if errors.Is(err, model.ErrDuplicateVote) || errors.Is(err, model.ErrValidation) {
			return out, backoff.Permanent(err)
		}
		return out, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(in.maxAttempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			metrics.RecordIntakeRetry()
			in.logger.Warn(ctx, "vote insert failed, retrying", logger.Duration("delay", d), logger.Error(err))
		}),
	)

	switch {
	case err == nil:
		metrics.RecordVoteReceived("accepted")
		in.notify()
		return stored, nil
	case errors.Is(err, model.ErrDuplicateVote):
		metrics.RecordVoteReceived("duplicate")
		metrics.RecordVoteDuplicate()
		return model.Vote{}, err
	default:
		metrics.RecordVoteReceived("error")
		in.logger.Error(ctx, "vote insert failed",
			logger.String("collection", v.CollectionID),
			logger.String("vote_id", v.ID),
			logger.Error(err),
		)
		return model.Vote{}, fmt.Errorf("record vote: %w", err)
	}
}
