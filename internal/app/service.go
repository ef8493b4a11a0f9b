// Package service wires the vote pipeline together and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/okian/versus/internal/adapters/mq/natsfeed"
	"github.com/okian/versus/internal/adapters/mq/queue"
	"github.com/okian/versus/internal/adapters/mq/relay"
	workerpool "github.com/okian/versus/internal/adapters/mq/worker"
	"github.com/okian/versus/internal/adapters/repository"
	"github.com/okian/versus/internal/config"
	"github.com/okian/versus/internal/domain/dedupe"
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/internal/domain/ranking"
	"github.com/okian/versus/internal/domain/rating"
	"github.com/okian/versus/internal/domain/voting"
	"github.com/okian/versus/pkg/logger"
	"github.com/okian/versus/pkg/metrics"
)

const (
	poolShutdownTimeout = 30 * time.Second
	statsTimeout        = 2 * time.Second
)

// ErrNotStarted is returned by operations called before Start.
var ErrNotStarted = errors.New("service not started")

// changeFeed is what the relay publishes to and the workers consume from.
type changeFeed interface {
	workerpool.Feed
	relay.Publisher
}

// Service implements the API dependencies for the voting system.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Core components
	store       repository.Store
	feed        changeFeed
	memQueue    *queue.InMemoryQueue
	nc          *nats.Conn
	ownsStore   bool
	ownsConn    bool
	deduper     dedupe.Deduper
	processor   *ranking.Processor
	leaderboard *ranking.Leaderboard
	intake      *voting.Intake
	relay       *relay.Relay
	workerPool  *workerpool.Pool

	relayCancel context.CancelFunc
	poolCancel  context.CancelFunc
	relayDone   chan struct{}

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration the service is built from.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStore uses an existing store instead of opening one. The caller
// keeps ownership and closes it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithNATSConn uses an existing connection for the nats feed. The caller
// keeps ownership and closes it.
func WithNATSConn(nc *nats.Conn) Option {
	return func(s *Service) {
		if nc != nil {
			s.nc = nc
		}
	}
}

// WithPartitions sets the number of feed partitions and workers.
func WithPartitions(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.cfg.Partitions = n
		}
	}
}

// WithDedupeSize sets the size of the redelivery filter.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size >= 0 {
			s.cfg.DedupeSize = size
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		cfg: config.New(context.Background()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the backends and starts the relay and the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	cfg := s.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.logger.Info(ctx, "starting voting service...",
		logger.String("store", cfg.Store),
		logger.String("feed", cfg.Feed),
	)

	if err := s.openStore(ctx); err != nil {
		return err
	}
	if err := s.openFeed(ctx); err != nil {
		s.closeStore()
		return err
	}

	storeTimeout := config.Millis(cfg.StoreTimeoutMS)
	retryInitial, retryMax := config.Millis(cfg.RetryInitialMS), config.Millis(cfg.RetryMaxMS)

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))
	s.processor = ranking.NewProcessor(s.store,
		ranking.WithEngine(rating.NewEngine(
			rating.WithFlatBonus(cfg.RatingFlatBonus),
			rating.WithLogisticK(cfg.RatingLogisticK),
		)),
		ranking.WithDeduper(s.deduper),
		ranking.WithBaseline(cfg.BaselineRating),
		ranking.WithStoreTimeout(storeTimeout),
		ranking.WithRetry(cfg.ProcessorMaxAttempts, retryInitial, retryMax),
	)
	s.leaderboard = ranking.NewLeaderboard(s.store,
		ranking.WithLimits(cfg.DefaultLeaderboardLimit, cfg.MaxLeaderboardLimit),
		ranking.WithPageCache(cfg.LeaderboardCacheSize, config.Millis(cfg.LeaderboardCacheTTLMS)),
		ranking.WithQueryTimeout(storeTimeout),
	)
	s.relay = relay.New(s.store, s.feed,
		relay.WithInterval(config.Millis(cfg.RelayIntervalMS)),
		relay.WithBatchSize(cfg.RelayBatchSize),
		relay.WithCursorName(cfg.RelayCursor),
	)
	s.intake = voting.NewIntake(s.store,
		voting.WithNotify(s.relay.Wake),
		voting.WithStoreTimeout(storeTimeout),
		voting.WithRetry(cfg.IntakeMaxAttempts, retryInitial, retryMax),
	)
	s.workerPool = workerpool.NewPool(s.feed, s.processor,
		workerpool.WithRetryBackoff(retryInitial, retryMax),
	)

	poolCtx, poolCancel := context.WithCancel(ctx)
	s.poolCancel = poolCancel
	s.workerPool.Start(poolCtx)

	relayCtx, relayCancel := context.WithCancel(ctx)
	s.relayCancel = relayCancel
	s.relayDone = make(chan struct{})
	go func() {
		defer close(s.relayDone)
		if err := s.relay.Run(relayCtx); err != nil {
			s.logger.Error(relayCtx, "relay stopped", logger.Error(err))
		}
	}()

	s.started = true
	s.logger.Info(ctx, "voting service started",
		logger.Int("partitions", s.feed.Partitions()),
		logger.Int("dedupeSize", cfg.DedupeSize),
	)
	return nil
}

func (s *Service) openStore(ctx context.Context) error {
	if s.store != nil {
		return nil
	}
	switch s.cfg.Store {
	case config.StoreSQLite, config.StorePostgres:
		st, err := repository.OpenSQL(ctx, repository.Dialect(s.cfg.Store), s.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open %s store: %w", s.cfg.Store, err)
		}
		s.store = st
	default:
		s.store = repository.NewMemoryStore(ctx)
	}
	s.ownsStore = true
	return nil
}

func (s *Service) openFeed(ctx context.Context) error {
	cfg := s.cfg
	if cfg.Feed != config.FeedNATS {
		s.memQueue = queue.NewInMemoryQueue(
			queue.WithPartitions(cfg.Partitions),
			queue.WithCapacity(cfg.PartitionBuffer),
		)
		s.feed = s.memQueue
		return nil
	}

	if s.nc == nil {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("versus"), nats.MaxReconnects(-1))
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		s.nc = nc
		s.ownsConn = true
	}
	f, err := natsfeed.New(ctx, s.nc, natsfeed.Config{
		Stream:         cfg.NATSStream,
		SubjectPrefix:  cfg.NATSSubjectPrefix,
		ConsumerPrefix: cfg.NATSConsumer,
		Partitions:     cfg.Partitions,
		MaxDeliver:     cfg.MaxDeliver,
	}, natsfeed.WithLogger(s.logger.Named("natsfeed")))
	if err != nil {
		if s.ownsConn {
			s.nc.Close()
			s.nc = nil
		}
		return err
	}
	s.feed = f
	return nil
}

// Stop gracefully shuts down the service: the relay first, then the
// workers once their in-flight records settle, then the backends.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping voting service...")

	s.relayCancel()
	<-s.relayDone

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	if err := s.workerPool.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown incomplete", logger.Error(err))
	}
	s.poolCancel()

	if s.memQueue != nil {
		_ = s.memQueue.Close()
	}
	if s.ownsConn && s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.logger.Warn(ctx, "nats drain failed", logger.Error(err))
		}
	}
	s.closeStore()

	s.started = false
	s.logger.Info(ctx, "voting service stopped")
}

func (s *Service) closeStore() {
	if !s.ownsStore || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(context.Background(), "store close failed", logger.Error(err))
	}
	s.store = nil
}

func (s *Service) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Submit records a vote on behalf of the authenticated voter.
func (s *Service) Submit(ctx context.Context, voterID string, req model.VoteRequest) (model.Vote, error) {
	if !s.running() {
		return model.Vote{}, ErrNotStarted
	}
	return s.intake.Submit(ctx, voterID, req)
}

// Query returns one leaderboard page.
func (s *Service) Query(ctx context.Context, q model.LeaderboardQuery) (model.LeaderboardPage, error) {
	if !s.running() {
		return model.LeaderboardPage{}, ErrNotStarted
	}
	return s.leaderboard.Query(ctx, q)
}

// Standing returns the standing of one item.
func (s *Service) Standing(ctx context.Context, collectionID, itemID string) (model.Standing, error) {
	if !s.running() {
		return model.Standing{}, ErrNotStarted
	}
	return s.leaderboard.Standing(ctx, collectionID, itemID)
}

// Ping checks the backends for the health endpoint.
func (s *Service) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	if db, ok := s.store.(*repository.SQLStore); ok {
		if err := db.DB().PingContext(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	}
	if s.nc != nil && !s.nc.IsConnected() {
		return fmt.Errorf("nats: %s", s.nc.Status())
	}
	return nil
}

// Processed returns how many feed records the workers have applied.
func (s *Service) Processed() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.workerPool == nil {
		return 0
	}
	return s.workerPool.Processed()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":    s.started,
		"store":      s.cfg.Store,
		"feed":       s.cfg.Feed,
		"partitions": s.cfg.Partitions,
		"dedupeSize": s.cfg.DedupeSize,
	}
	if !s.started {
		return stats
	}

	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	if n, err := s.store.Count(ctx); err == nil {
		stats["totalStandings"] = n
		metrics.UpdateStandingsTotal(n)
	}
	if last, err := s.store.LastSeq(ctx); err == nil {
		stats["lastSeq"] = last
		published := s.relay.Published()
		stats["relayPublished"] = published
		stats["feedLag"] = last - published
	}
	stats["processed"] = s.workerPool.Processed()
	stats["dedupeEntries"] = s.deduper.Size()
	if s.memQueue != nil {
		stats["queueLength"] = s.memQueue.Len()
	}
	return stats
}
