// Package relay moves committed votes from the vote store onto the change
// feed in commit order.
//
// The relay persists how far it got under a cursor name. On restart it
// resumes after the cursor, so a vote is published at least once.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/versus/internal/adapters/mq/queue"
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/logger"
	"github.com/okian/versus/pkg/metrics"
)

const (
	defaultInterval   = 250 * time.Millisecond
	defaultBatchSize  = 256
	defaultCursorName = "rating-feed"
)

// Source is the committed vote log.
type Source interface {
	Committed(ctx context.Context, afterSeq int64, limit int) ([]model.Vote, error)
	LastSeq(ctx context.Context) (int64, error)
	LoadCursor(ctx context.Context, name string) (int64, error)
	SaveCursor(ctx context.Context, name string, seq int64) error
}

// Publisher puts records on the feed.
type Publisher interface {
	Publish(ctx context.Context, rec queue.Record) error
}

// settler is implemented by feeds that lose records on restart. The relay
// then persists only what consumers have settled.
type settler interface {
	Settled(published int64) int64
}

// Relay tails a Source into a Publisher.
type Relay struct {
	source    Source
	publisher Publisher
	name      string
	interval  time.Duration
	batchSize int
	logger    logger.Logger

	wake chan struct{}

	mu        sync.Mutex
	published int64
}

// Option applies a configuration option to the Relay.
type Option func(*Relay)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatchSize sets how many votes are read per poll.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithCursorName sets the name the position is saved under.
func WithCursorName(name string) Option {
	return func(r *Relay) {
		if name != "" {
			r.name = name
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a relay.
func New(source Source, publisher Publisher, opts ...Option) *Relay {
	r := &Relay{
		source:    source,
		publisher: publisher,
		name:      defaultCursorName,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		logger:    logger.Get().Named("relay"),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Wake asks the relay to poll now instead of waiting for the next tick.
func (r *Relay) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Published returns the highest sequence published so far.
func (r *Relay) Published() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.published
}

// Run publishes until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	cursor, err := r.source.LoadCursor(ctx, r.name)
	if err != nil {
		return fmt.Errorf("load relay cursor: %w", err)
	}
	r.mu.Lock()
	r.published = cursor
	r.mu.Unlock()
	r.logger.Info(ctx, "relay started", logger.String("cursor", r.name), logger.Int64("after_seq", cursor))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn(ctx, "relay poll failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// Drain publishes every committed vote after the current position.
func (r *Relay) Drain(ctx context.Context) error {
	for {
		n, err := r.step(ctx)
		if err != nil {
			return err
		}
		if n < r.batchSize {
			return r.report(ctx)
		}
	}
}

func (r *Relay) step(ctx context.Context) (int, error) {
	after := r.Published()
	votes, err := r.source.Committed(ctx, after, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("read committed votes: %w", err)
	}

	for _, v := range votes {
		payload, err := model.EncodeChange(model.ChangeEvent{Op: model.OpInsert, Seq: v.Seq, Vote: v})
		if err != nil {
			return 0, err
		}
		rec := queue.Record{Key: v.CollectionID, MsgID: v.ID, Seq: v.Seq, Payload: payload}
		if err := r.publisher.Publish(ctx, rec); err != nil {
			// keep what was published; the rest is retried on the next poll
			_ = r.saveCursor(ctx)
			return 0, fmt.Errorf("publish vote %s: %w", v.ID, err)
		}
		r.mu.Lock()
		r.published = v.Seq
		r.mu.Unlock()
	}

	if len(votes) > 0 {
		if err := r.saveCursor(ctx); err != nil {
			return 0, err
		}
	}
	return len(votes), nil
}

func (r *Relay) saveCursor(ctx context.Context) error {
	published := r.Published()
	cursor := published
	if s, ok := r.publisher.(settler); ok {
		cursor = s.Settled(published)
	}
	if err := r.source.SaveCursor(ctx, r.name, cursor); err != nil {
		return fmt.Errorf("save relay cursor: %w", err)
	}
	metrics.UpdateRelayCursor(published)
	return nil
}

func (r *Relay) report(ctx context.Context) error {
	if _, ok := r.publisher.(settler); ok {
		// settled position moves as consumers ack, without new votes
		if err := r.saveCursor(ctx); err != nil {
			return err
		}
	}
	last, err := r.source.LastSeq(ctx)
	if err != nil {
		return fmt.Errorf("read last seq: %w", err)
	}
	metrics.UpdateFeedLag(int(last - r.Published()))
	return nil
}
