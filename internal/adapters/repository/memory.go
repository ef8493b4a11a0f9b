package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/metrics"
)

const btreeDegree = 32

// MemoryStore keeps votes and standings in process memory.
type MemoryStore struct {
	*MemoryVoteStore
	*MemoryStandingStore

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore constructs an in-memory backend and starts its metrics updater.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	s := &MemoryStore{
		MemoryVoteStore:     NewMemoryVoteStore(),
		MemoryStandingStore: NewMemoryStandingStore(),
		stopChan:            make(chan struct{}),
	}
	s.startMetricsUpdater(ctx, o.metricsUpdateInterval)
	return s
}

func (s *MemoryStore) startMetricsUpdater(ctx context.Context, interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				n, _ := s.Count(ctx)
				metrics.UpdateStandingsTotal(n)
			}
		}
	}()
}

// Close stops background goroutines.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// MemoryVoteStore is an in-memory VoteStore. The index is the
// compare-and-insert point and maps each dedupe key to the id that won it;
// the log assigns sequences in commit order.
type MemoryVoteStore struct {
	index *xsync.Map[string, string]

	mu      sync.RWMutex
	log     []model.Vote
	cursors map[string]int64
}

// NewMemoryVoteStore creates an empty vote store.
func NewMemoryVoteStore() *MemoryVoteStore {
	return &MemoryVoteStore{
		index:   xsync.NewMap[string, string](),
		cursors: make(map[string]int64),
	}
}

func voteIndexKey(collectionID, dedupeKey string) string {
	return collectionID + "\x00" + dedupeKey
}

// RecordVote implements VoteStore.
func (s *MemoryVoteStore) RecordVote(ctx context.Context, v model.Vote) (model.Vote, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("record_vote", metrics.Since(start)) }()

	if err := ctx.Err(); err != nil {
		return model.Vote{}, err
	}
	if id, loaded := s.index.LoadOrStore(voteIndexKey(v.CollectionID, v.DedupeKey), v.ID); loaded {
		return s.stored(v.CollectionID, v.DedupeKey, id), fmt.Errorf("%w: %s", model.ErrDuplicateVote, v.DedupeKey)
	}

	s.mu.Lock()
	v.Seq = int64(len(s.log)) + 1
	s.log = append(s.log, v)
	s.mu.Unlock()
	return v, nil
}

// stored returns the vote that holds a dedupe key. The index is written
// before the log, so a racing reader may only see the id.
func (s *MemoryVoteStore) stored(collectionID, dedupeKey, id string) model.Vote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.log) - 1; i >= 0; i-- {
		if s.log[i].ID == id && s.log[i].CollectionID == collectionID {
			return s.log[i]
		}
	}
	return model.Vote{ID: id, CollectionID: collectionID, DedupeKey: dedupeKey}
}

// Committed implements VoteStore. Sequences are dense, so the log is indexed directly.
func (s *MemoryVoteStore) Committed(ctx context.Context, afterSeq int64, limit int) ([]model.Vote, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(s.log)) {
		return nil, nil
	}
	end := afterSeq + int64(limit)
	if end > int64(len(s.log)) {
		end = int64(len(s.log))
	}
	out := make([]model.Vote, end-afterSeq)
	copy(out, s.log[afterSeq:end])
	return out, nil
}

// LastSeq implements VoteStore.
func (s *MemoryVoteStore) LastSeq(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.log)), nil
}

// LoadCursor implements VoteStore.
func (s *MemoryVoteStore) LoadCursor(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[name], nil
}

// SaveCursor implements VoteStore.
func (s *MemoryVoteStore) SaveCursor(_ context.Context, name string, seq int64) error {
	s.mu.Lock()
	s.cursors[name] = seq
	s.mu.Unlock()
	return nil
}

type collectionIndex struct {
	byID  map[string]model.Standing
	order *btree.BTreeG[model.Standing]
}

// MemoryStandingStore is an in-memory StandingStore. Each collection keeps
// a B-tree ordered by rating descending, then item id ascending.
type MemoryStandingStore struct {
	mu          sync.RWMutex
	collections map[string]*collectionIndex
	applied     map[string]struct{}
	total       int
}

// NewMemoryStandingStore creates an empty standings store.
func NewMemoryStandingStore() *MemoryStandingStore {
	return &MemoryStandingStore{
		collections: make(map[string]*collectionIndex),
		applied:     make(map[string]struct{}),
	}
}

// GetStanding implements StandingStore.
func (s *MemoryStandingStore) GetStanding(ctx context.Context, collectionID, itemID string) (model.Standing, error) {
	if err := ctx.Err(); err != nil {
		return model.Standing{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.collections[collectionID]; ok {
		if st, ok := c.byID[itemID]; ok {
			return st, nil
		}
	}
	return model.Standing{}, fmt.Errorf("%w: %s/%s", model.ErrNotFound, collectionID, itemID)
}

// PutPair implements StandingStore. Both writes happen under one lock.
func (s *MemoryStandingStore) PutPair(ctx context.Context, voteID string, winner, loser model.Standing) error {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("put_pair", metrics.Since(start)) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.applied[voteID]; ok {
		return fmt.Errorf("%w: %s", model.ErrAlreadyApplied, voteID)
	}
	s.applied[voteID] = struct{}{}
	s.put(winner)
	s.put(loser)
	return nil
}

func (s *MemoryStandingStore) put(st model.Standing) {
	c, ok := s.collections[st.CollectionID]
	if !ok {
		c = &collectionIndex{
			byID:  make(map[string]model.Standing),
			order: btree.NewG[model.Standing](btreeDegree, model.Before),
		}
		s.collections[st.CollectionID] = c
	}
	if old, ok := c.byID[st.ItemID]; ok {
		c.order.Delete(old)
	} else {
		s.total++
	}
	c.byID[st.ItemID] = st
	c.order.ReplaceOrInsert(st)
}

// Page implements StandingStore.
func (s *MemoryStandingStore) Page(ctx context.Context, collectionID string, order model.Order, after *model.Cursor, limit int) ([]model.Standing, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("page", metrics.Since(start)) }()

	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collectionID]
	if !ok {
		return []model.Standing{}, nil
	}

	out := make([]model.Standing, 0, min(limit, c.order.Len()))
	collect := func(st model.Standing) bool {
		if after != nil && !model.AfterCursor(st, *after, order) {
			return true
		}
		out = append(out, st)
		return len(out) < limit
	}

	switch {
	case after == nil && order == model.OrderAsc:
		c.order.Descend(collect)
	case after == nil:
		c.order.Ascend(collect)
	case order == model.OrderAsc:
		c.order.DescendLessOrEqual(model.Standing{Rating: after.Rating, ItemID: after.ItemID}, collect)
	default:
		c.order.AscendGreaterOrEqual(model.Standing{Rating: after.Rating, ItemID: after.ItemID}, collect)
	}
	return out, nil
}

// Count implements StandingStore.
func (s *MemoryStandingStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total, nil
}
