// Package natsfeed carries the change feed over NATS JetStream.
//
// Each partition is a subject "<prefix>.<n>" of one stream and is read by
// its own durable consumer with a single outstanding message, which keeps
// delivery ordered per partition while JetStream provides redelivery.
package natsfeed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/okian/versus/internal/adapters/mq/queue"
	"github.com/okian/versus/pkg/logger"
	"github.com/okian/versus/pkg/metrics"
)

const (
	defaultStream          = "VERSUS_VOTES"
	defaultSubjectPrefix   = "versus.votes"
	defaultConsumerPrefix  = "versus-rating"
	defaultDuplicateWindow = 2 * time.Minute
	defaultAckWait         = 30 * time.Second
	defaultRetryBackoff    = time.Second
)

// Config describes the stream and consumers.
type Config struct {
	Stream          string
	SubjectPrefix   string
	ConsumerPrefix  string
	Partitions      int
	MaxDeliver      int // -1 for unlimited
	AckWait         time.Duration
	DuplicateWindow time.Duration
	MemoryStorage   bool
}

func (c *Config) setDefaults() {
	if c.Stream == "" {
		c.Stream = defaultStream
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = defaultSubjectPrefix
	}
	if c.ConsumerPrefix == "" {
		c.ConsumerPrefix = defaultConsumerPrefix
	}
	if c.Partitions < 1 {
		c.Partitions = 1
	}
	if c.MaxDeliver == 0 {
		c.MaxDeliver = -1
	}
	if c.AckWait <= 0 {
		c.AckWait = defaultAckWait
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = defaultDuplicateWindow
	}
}

// Feed publishes and consumes change records through JetStream.
type Feed struct {
	js     jetstream.JetStream
	cfg    Config
	logger logger.Logger
}

// Option applies a configuration option to the Feed.
type Option func(*Feed)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(f *Feed) {
		if l != nil {
			f.logger = l
		}
	}
}

// New ensures the stream exists and returns a feed bound to it.
func New(ctx context.Context, nc *nats.Conn, cfg Config, opts ...Option) (*Feed, error) {
	cfg.setDefaults()
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	storage := jetstream.FileStorage
	if cfg.MemoryStorage {
		storage = jetstream.MemoryStorage
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.SubjectPrefix + ".>"},
		Storage:    storage,
		Duplicates: cfg.DuplicateWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", cfg.Stream, err)
	}

	f := &Feed{js: js, cfg: cfg, logger: logger.Get().Named("natsfeed")}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Partitions returns the number of partitions.
func (f *Feed) Partitions() int {
	return f.cfg.Partitions
}

func (f *Feed) subject(partition int) string {
	return f.cfg.SubjectPrefix + "." + strconv.Itoa(partition)
}

// Publish sends rec to its partition subject. The message id lets
// JetStream drop republished records inside the duplicate window.
func (f *Feed) Publish(ctx context.Context, rec queue.Record) error {
	p := queue.PartitionFor(rec.Key, f.cfg.Partitions)
	var opts []jetstream.PublishOpt
	if rec.MsgID != "" {
		opts = append(opts, jetstream.WithMsgID(rec.MsgID))
	}
	if _, err := f.js.Publish(ctx, f.subject(p), rec.Payload, opts...); err != nil {
		metrics.RecordErrorByComponent("feed", "publish")
		return fmt.Errorf("publish seq %d: %w", rec.Seq, err)
	}
	metrics.RecordFeedPublished()
	return nil
}

// Deliveries creates or resumes the durable consumer of one partition and
// streams its messages until ctx ends.
func (f *Feed) Deliveries(ctx context.Context, partition int) (<-chan queue.Delivery, error) {
	if partition < 0 || partition >= f.cfg.Partitions {
		return nil, fmt.Errorf("%w: %d", queue.ErrBadPartition, partition)
	}
	durable := f.cfg.ConsumerPrefix + "-" + strconv.Itoa(partition)
	cons, err := f.js.CreateOrUpdateConsumer(ctx, f.cfg.Stream, jetstream.ConsumerConfig{
		Name:          durable,
		Durable:       durable,
		FilterSubject: f.subject(partition),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       f.cfg.AckWait,
		MaxAckPending: 1,
		MaxDeliver:    f.cfg.MaxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", durable, err)
	}

	out := make(chan queue.Delivery)
	go f.pull(ctx, cons, durable, out)
	return out, nil
}

func (f *Feed) pull(ctx context.Context, cons jetstream.Consumer, durable string, out chan<- queue.Delivery) {
	defer close(out)

	for {
		iter, err := cons.Messages()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Error(ctx, "failed to create message iterator", logger.String("consumer", durable), logger.Error(err))
			if !sleep(ctx, defaultRetryBackoff) {
				return
			}
			continue
		}

		stop := context.AfterFunc(ctx, iter.Stop)
		for {
			msg, err := iter.Next()
			if err != nil {
				iter.Stop()
				stop()
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, jetstream.ErrMsgIteratorClosed) {
					f.logger.Warn(ctx, "message iterator error, recreating", logger.String("consumer", durable), logger.Error(err))
				}
				if !sleep(ctx, defaultRetryBackoff) {
					return
				}
				break
			}

			select {
			case out <- &delivery{msg: msg}:
			case <-ctx.Done():
				iter.Stop()
				stop()
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type delivery struct {
	msg jetstream.Msg
}

func (d *delivery) Payload() []byte { return d.msg.Data() }

func (d *delivery) Attempt() int {
	md, err := d.msg.Metadata()
	if err != nil {
		return 1
	}
	return int(md.NumDelivered)
}

func (d *delivery) Ack() error { return d.msg.Ack() }

func (d *delivery) Nak(delay time.Duration) error {
	if delay <= 0 {
		return d.msg.Nak()
	}
	return d.msg.NakWithDelay(delay)
}

func (d *delivery) Term() error { return d.msg.Term() }
