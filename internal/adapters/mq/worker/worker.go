// Package worker drains change feed partitions into a handler.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/okian/versus/internal/adapters/mq/queue"
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/logger"
	"github.com/okian/versus/pkg/metrics"
)

// Default worker configuration constants.
const (
	metricsUpdateInterval = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
	defaultRetryInitial   = 100 * time.Millisecond
	defaultRetryMax       = 10 * time.Second
)

// Handler applies one feed payload. Errors wrapping model.ErrPoisonRecord
// drop the record; any other error redelivers it.
type Handler interface {
	Handle(ctx context.Context, payload []byte) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, payload []byte) error { return f(ctx, payload) }

// Feed is the consumer side of the change feed.
type Feed interface {
	Partitions() int
	Deliveries(ctx context.Context, partition int) (<-chan queue.Delivery, error)
}

// Worker consumes one partition.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the in-flight record settles.
	Shutdown(ctx context.Context) error
}

// PartitionWorker implements Worker for a single feed partition. Records
// are handled strictly one at a time so per-key order holds.
type PartitionWorker struct {
	feed      Feed
	handler   Handler
	partition int
	name      string

	retryInitial time.Duration
	retryMax     time.Duration
	processed    *atomic.Int64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewPartitionWorker creates a worker for one partition.
func NewPartitionWorker(feed Feed, handler Handler, partition int, opts ...Option) *PartitionWorker {
	w := &PartitionWorker{
		feed:         feed,
		handler:      handler,
		partition:    partition,
		name:         "worker-" + strconv.Itoa(partition),
		retryInitial: defaultRetryInitial,
		retryMax:     defaultRetryMax,
		processed:    new(atomic.Int64),
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
		logger:       logger.Get(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run starts the worker loop.
func (w *PartitionWorker) Run(ctx context.Context) {
	defer close(w.done)

	// the subscription ends on shutdown; a record already in hand is
	// still handled under the caller's ctx
	feedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.shutdown:
			cancel()
		case <-feedCtx.Done():
		}
	}()

	deliveries, err := w.feed.Deliveries(feedCtx, w.partition)
	if err != nil {
		metrics.RecordErrorByComponent("worker", "subscribe")
		w.logger.Error(ctx, "subscribe failed", logger.Int("partition", w.partition), logger.Error(err))
		return
	}

	b := w.newBackOff()
	for {
		select {
		case <-feedCtx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			w.process(ctx, d, b)
		}
	}
}

func (w *PartitionWorker) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.retryInitial
	b.MaxInterval = w.retryMax
	return b
}

// process handles one delivery and settles it.
func (w *PartitionWorker) process(ctx context.Context, d queue.Delivery, b *backoff.ExponentialBackOff) {
	start := time.Now()
	defer func() {
		metrics.RecordProcessingLatency(metrics.Since(start))
	}()

	if d.Attempt() > 1 {
		metrics.RecordFeedRedelivered()
	}

	err := w.handler.Handle(ctx, d.Payload())
	switch {
	case err == nil:
		b.Reset()
		w.processed.Add(1)
		w.settle(ctx, "ack", d.Ack())
	case errors.Is(err, model.ErrPoisonRecord):
		b.Reset()
		metrics.RecordPoisonRecord()
		w.logger.Error(ctx, "dropping malformed record", logger.Int("attempt", d.Attempt()), logger.Error(err))
		w.settle(ctx, "term", d.Term())
	default:
		delay := b.NextBackOff()
		metrics.RecordErrorByComponent("worker", "handle")
		w.logger.Warn(ctx, "record failed, redelivering",
			logger.Int("attempt", d.Attempt()),
			logger.Duration("delay", delay),
			logger.Error(err),
		)
		w.settle(ctx, "nak", d.Nak(delay))
	}
}

func (w *PartitionWorker) settle(ctx context.Context, how string, err error) {
	if err == nil || ctx.Err() != nil {
		return
	}
	metrics.RecordErrorByComponent("worker", how)
	w.logger.Error(ctx, "settle failed", logger.String("outcome", how), logger.Error(err))
}

// Shutdown gracefully stops the worker.
func (w *PartitionWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Pool runs one worker per feed partition.
type Pool struct {
	workers []*PartitionWorker

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	processed         atomic.Int64
	lastProcessedTime time.Time
	lastNumGC         uint32

	logger logger.Logger
}

// NewPool creates a worker for every partition of feed.
func NewPool(feed Feed, handler Handler, opts ...Option) *Pool {
	n := feed.Partitions()
	pool := &Pool{
		workers:           make([]*PartitionWorker, n),
		shutdown:          make(chan struct{}),
		lastProcessedTime: time.Now(),
		logger:            logger.Get().Named("worker-pool"),
	}

	for i := 0; i < n; i++ {
		w := NewPartitionWorker(feed, handler, i, opts...)
		w.processed = &pool.processed
		pool.workers[i] = w
	}

	metrics.UpdateWorkerActiveCount(n)
	metrics.UpdateWorkerMessagesPerSecond(0.0)

	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns how many records were handled successfully.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}

	p.wg.Add(1)
	go p.startMetricsUpdater(ctx)
}

// startMetricsUpdater starts a background goroutine that updates worker metrics.
func (p *Pool) startMetricsUpdater(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			last = p.updateMetrics(last)
		}
	}
}

// updateMetrics publishes throughput and runtime gauges.
func (p *Pool) updateMetrics(last int64) int64 {
	now := time.Now()
	current := p.processed.Load()
	if elapsed := now.Sub(p.lastProcessedTime).Seconds(); elapsed > 0 {
		metrics.UpdateWorkerMessagesPerSecond(float64(current-last) / elapsed)
	}
	p.lastProcessedTime = now
	p.lastNumGC = metrics.CollectSystem(p.lastNumGC)
	return current
}

// Shutdown stops every worker, waiting for in-flight records to settle.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() { close(p.shutdown) })

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var errs []error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			errs = append(errs, err)
		}
	}
	p.wg.Wait()
	metrics.UpdateWorkerActiveCount(0)
	return errors.Join(errs...)
}
