package ranking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/logger"
	"github.com/okian/versus/pkg/metrics"
)

const (
	DefaultLimit    = 100
	DefaultMaxLimit = 1000
)

// StandingReader is the read side of the standings store.
type StandingReader interface {
	GetStanding(ctx context.Context, collectionID, itemID string) (model.Standing, error)
	Page(ctx context.Context, collectionID string, order model.Order, after *model.Cursor, limit int) ([]model.Standing, error)
}

// Leaderboard answers ranked reads over the standings store.
type Leaderboard struct {
	store        StandingReader
	defaultLimit int
	maxLimit     int
	storeTimeout time.Duration

	cacheSize int
	cacheTTL  time.Duration
	cache     *expirable.LRU[string, model.LeaderboardPage]

	logger logger.Logger
}

// LeaderboardOption applies a configuration option to the Leaderboard.
type LeaderboardOption func(*Leaderboard)

// WithLimits sets the page size used when none is requested and the
// largest page served.
func WithLimits(defaultLimit, maxLimit int) LeaderboardOption {
	return func(l *Leaderboard) {
		if maxLimit > 0 {
			l.maxLimit = maxLimit
		}
		if defaultLimit > 0 {
			l.defaultLimit = min(defaultLimit, l.maxLimit)
		}
	}
}

// WithPageCache caches pages for ttl. A non-positive size disables it.
func WithPageCache(size int, ttl time.Duration) LeaderboardOption {
	return func(l *Leaderboard) {
		l.cacheSize = size
		l.cacheTTL = ttl
	}
}

// WithQueryTimeout bounds each store read.
func WithQueryTimeout(d time.Duration) LeaderboardOption {
	return func(l *Leaderboard) {
		if d > 0 {
			l.storeTimeout = d
		}
	}
}

// WithLeaderboardLogger sets a custom logger.
func WithLeaderboardLogger(lg logger.Logger) LeaderboardOption {
	return func(l *Leaderboard) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// NewLeaderboard creates a query service over store.
func NewLeaderboard(store StandingReader, opts ...LeaderboardOption) *Leaderboard {
	l := &Leaderboard{
		store:        store,
		defaultLimit: DefaultLimit,
		maxLimit:     DefaultMaxLimit,
		storeTimeout: defaultStoreTimeout,
		logger:       logger.Get().Named("leaderboard"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cacheSize > 0 && l.cacheTTL > 0 {
		l.cache = expirable.NewLRU[string, model.LeaderboardPage](l.cacheSize, nil, l.cacheTTL)
	}
	return l
}

// Query returns one page of a collection's standings. Invalid parameters
// wrap model.ErrInvalidQuery.
func (l *Leaderboard) Query(ctx context.Context, q model.LeaderboardQuery) (model.LeaderboardPage, error) {
	collection := strings.TrimSpace(q.CollectionID)
	if collection == "" {
		return model.LeaderboardPage{}, fmt.Errorf("%w: collectionId is required", model.ErrInvalidQuery)
	}
	order, err := model.ParseOrder(string(q.Order))
	if err != nil {
		return model.LeaderboardPage{}, err
	}
	if _, err := model.ParseOrderBy(q.OrderBy); err != nil {
		return model.LeaderboardPage{}, err
	}
	after, err := model.DecodeCursor(q.Pointer)
	if err != nil {
		return model.LeaderboardPage{}, err
	}
	limit := l.clamp(q.Limit)

	metrics.RecordLeaderboardQuery(string(order))

	key := cacheKey(collection, order, q.Pointer, limit)
	if l.cache != nil {
		if page, ok := l.cache.Get(key); ok {
			metrics.RecordLeaderboardCacheHit()
			return page, nil
		}
	}

	tctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()
	start := time.Now()
	// One extra row tells whether another page exists.
	rows, err := l.store.Page(tctx, collection, order, after, limit+1)
	metrics.RecordStoreLatency("page", metrics.Since(start))
	if err != nil {
		return model.LeaderboardPage{}, fmt.Errorf("read standings of %s: %w", collection, err)
	}

	more := len(rows) > limit
	if more {
		rows = rows[:limit]
	}
	page := model.LeaderboardPage{Standings: rows}
	if page.Standings == nil {
		page.Standings = []model.Standing{}
	}
	if more {
		page.NextPointer = model.CursorAfter(rows[len(rows)-1]).Encode()
	}

	if l.cache != nil {
		l.cache.Add(key, page)
	}
	return page, nil
}

// Standing returns the standing of one item. Items without processed
// votes wrap model.ErrNotFound.
func (l *Leaderboard) Standing(ctx context.Context, collectionID, itemID string) (model.Standing, error) {
	collectionID, itemID = strings.TrimSpace(collectionID), strings.TrimSpace(itemID)
	if collectionID == "" || itemID == "" {
		return model.Standing{}, fmt.Errorf("%w: collectionId and itemId are required", model.ErrInvalidQuery)
	}

	tctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()
	start := time.Now()
	s, err := l.store.GetStanding(tctx, collectionID, itemID)
	metrics.RecordStoreLatency("get_standing", metrics.Since(start))
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			l.logger.Error(ctx, "standing lookup failed",
				logger.String("collection", collectionID),
				logger.String("item", itemID),
				logger.Error(err),
			)
		}
		return model.Standing{}, err
	}
	return s, nil
}

func (l *Leaderboard) clamp(limit int) int {
	if limit <= 0 {
		return l.defaultLimit
	}
	return min(limit, l.maxLimit)
}

func cacheKey(collection string, order model.Order, pointer string, limit int) string {
	return collection + "|" + string(order) + "|" + strconv.Itoa(limit) + "|" + pointer
}
