// Package ranking turns accepted votes into standings and serves them back
// as ordered leaderboard pages.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/okian/versus/internal/domain/dedupe"
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/internal/domain/rating"
	"github.com/okian/versus/pkg/logger"
	"github.com/okian/versus/pkg/metrics"
)

const (
	defaultStoreTimeout = 2 * time.Second
	defaultMaxAttempts  = 5
	defaultRetryInitial = 50 * time.Millisecond
	defaultRetryMax     = 2 * time.Second
)

// StandingWriter is the part of the standings store the processor needs.
type StandingWriter interface {
	GetStanding(ctx context.Context, collectionID, itemID string) (model.Standing, error)
	PutPair(ctx context.Context, voteID string, winner, loser model.Standing) error
}

// Processor applies change records to standings. Records of one
// collection must be handed to it in feed order and never concurrently.
type Processor struct {
	store   StandingWriter
	engine  *rating.Engine
	deduper dedupe.Deduper

	baseline     float64
	storeTimeout time.Duration
	maxAttempts  uint
	retryInitial time.Duration
	retryMax     time.Duration
	now          func() time.Time

	logger logger.Logger
}

// ProcessorOption applies a configuration option to the Processor.
type ProcessorOption func(*Processor)

// WithEngine sets the rating engine.
func WithEngine(e *rating.Engine) ProcessorOption {
	return func(p *Processor) {
		if e != nil {
			p.engine = e
		}
	}
}

// WithDeduper sets the redelivery filter.
func WithDeduper(d dedupe.Deduper) ProcessorOption {
	return func(p *Processor) {
		if d != nil {
			p.deduper = d
		}
	}
}

// WithBaseline sets the rating of unseen items.
func WithBaseline(r float64) ProcessorOption {
	return func(p *Processor) {
		if r > 0 {
			p.baseline = r
		}
	}
}

// WithStoreTimeout bounds every store call.
func WithStoreTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.storeTimeout = d
		}
	}
}

// WithRetry sets how many times a failed update is tried before the record
// is handed back to the feed, and the delay between tries.
func WithRetry(maxAttempts int, initial, maxDelay time.Duration) ProcessorOption {
	return func(p *Processor) {
		if maxAttempts > 0 {
			p.maxAttempts = uint(maxAttempts)
		}
		if initial > 0 {
			p.retryInitial = initial
		}
		if maxDelay >= p.retryInitial {
			p.retryMax = maxDelay
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithProcessorLogger sets a custom logger.
func WithProcessorLogger(l logger.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProcessor creates a processor writing to store.
func NewProcessor(store StandingWriter, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:        store,
		engine:       rating.NewEngine(),
		deduper:      dedupe.NewInMemoryDeduper(),
		baseline:     model.BaselineRating,
		storeTimeout: defaultStoreTimeout,
		maxAttempts:  defaultMaxAttempts,
		retryInitial: defaultRetryInitial,
		retryMax:     defaultRetryMax,
		now:          time.Now,
		logger:       logger.Get().Named("processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle decodes one feed payload and applies it.
func (p *Processor) Handle(ctx context.Context, payload []byte) error {
	ev, err := model.DecodeChange(payload)
	if err != nil {
		metrics.RecordProcessorError("decode")
		return err
	}
	if ev.Op != model.OpInsert {
		// votes are immutable; only inserts move ratings
		p.logger.Debug(ctx, "ignoring change", logger.String("op", string(ev.Op)), logger.Int64("seq", ev.Seq))
		return nil
	}
	return p.Apply(ctx, ev.Vote)
}

// Apply moves the ratings of the vote's two items. Replays of an applied
// vote are no-ops.
func (p *Processor) Apply(ctx context.Context, v model.Vote) error {
	if v.ID == "" {
		metrics.RecordProcessorError("invalid")
		return fmt.Errorf("%w: vote without id at seq %d", model.ErrPoisonRecord, v.Seq)
	}
	if err := v.Validate(); err != nil {
		metrics.RecordProcessorError("invalid")
		return fmt.Errorf("%w: %w", model.ErrPoisonRecord, err)
	}

	if p.deduper.SeenAndRecord(ctx, v.ID) {
		metrics.RecordRedeliverySkipped()
		p.logger.Debug(ctx, "skipping redelivered vote", logger.String("vote_id", v.ID))
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryInitial
	b.MaxInterval = p.retryMax

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			metrics.RecordProcessorRetry()
		}
		return struct{}{}, p.applyOnce(ctx, v)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.maxAttempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			p.logger.Warn(ctx, "rating update failed, retrying",
				logger.String("vote_id", v.ID),
				logger.Int("attempt", attempt),
				logger.Duration("delay", d),
				logger.Error(err),
			)
		}),
	)

	switch {
	case err == nil:
		metrics.RecordRatingUpdate()
		return nil
	case errors.Is(err, model.ErrAlreadyApplied):
		metrics.RecordRedeliverySkipped()
		return nil
	default:
		// let a later delivery claim the vote again
		p.deduper.Unrecord(ctx, v.ID)
		metrics.RecordProcessorError("store")
		return fmt.Errorf("apply vote %s: %w", v.ID, err)
	}
}

func (p *Processor) applyOnce(ctx context.Context, v model.Vote) error {
	winner, err := p.load(ctx, v.CollectionID, v.WinnerID)
	if err != nil {
		return err
	}
	loser, err := p.load(ctx, v.CollectionID, v.LoserID)
	if err != nil {
		return err
	}

	winner.Rating, loser.Rating = p.engine.Update(winner.Rating, loser.Rating)
	winner.Wins++
	loser.Losses++
	now := p.now().UTC()
	winner.UpdatedAt, loser.UpdatedAt = now, now

	tctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()
	start := time.Now()
	err = p.store.PutPair(tctx, v.ID, winner, loser)
	metrics.RecordStoreLatency("put_pair", metrics.Since(start))
	if errors.Is(err, model.ErrAlreadyApplied) {
		return backoff.Permanent(err)
	}
	return err
}

// load returns the stored standing, or the baseline for an unseen item.
func (p *Processor) load(ctx context.Context, collectionID, itemID string) (model.Standing, error) {
	tctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()
	start := time.Now()
	s, err := p.store.GetStanding(tctx, collectionID, itemID)
	metrics.RecordStoreLatency("get_standing", metrics.Since(start))
	switch {
	case err == nil:
		return s, nil
	case errors.Is(err, model.ErrNotFound):
		return model.NewStanding(collectionID, itemID, p.baseline), nil
	default:
		return model.Standing{}, err
	}
}
