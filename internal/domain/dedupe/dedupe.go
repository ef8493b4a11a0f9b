// Package dedupe tracks which vote ids have already been applied so that
// redelivered change records are not counted twice.
package dedupe

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMaxSize = 50000

// Deduper records seen ids.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a later delivery can be applied. Used when the
	// record was claimed but applying it failed.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// NewInMemoryDeduper creates a deduper. Bounded mode keeps the most
// recently seen ids; unbounded mode keeps everything.
func NewInMemoryDeduper(opts ...Option) Deduper {
	cfg := config{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxSize <= 0 {
		return &mapDeduper{seen: make(map[string]struct{})}
	}
	cache, err := lru.New[string, struct{}](cfg.maxSize)
	if err != nil {
		// only returned for a non-positive size
		return &mapDeduper{seen: make(map[string]struct{})}
	}
	return &lruDeduper{cache: cache}
}

type lruDeduper struct {
	cache *lru.Cache[string, struct{}]
}

func (d *lruDeduper) SeenAndRecord(_ context.Context, id string) bool {
	seen, _ := d.cache.ContainsOrAdd(id, struct{}{})
	return seen
}

func (d *lruDeduper) Unrecord(_ context.Context, id string) {
	d.cache.Remove(id)
}

func (d *lruDeduper) Size() int64 {
	return int64(d.cache.Len())
}

type mapDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func (d *mapDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	return false
}

func (d *mapDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
}

func (d *mapDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
