// Package queue defines the change feed contract and an in-memory,
// partitioned, at-least-once implementation of it.
//
// Records with the same key land on the same partition and are delivered
// one at a time in publish order. A record stays at the head of its
// partition until it is acknowledged or terminated; a negative
// acknowledgement redelivers it after the requested delay.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/versus/pkg/metrics"
)

const (
	defaultPartitions = 8
	defaultCapacity   = 10000
)

// Record is one change published to the feed.
type Record struct {
	Key     string // partition key
	MsgID   string // publisher-side deduplication id
	Seq     int64  // vote store commit sequence
	Payload []byte
}

// Delivery is one record handed to a consumer. Exactly one of Ack, Nak or
// Term settles it; later calls return ErrSettled.
type Delivery interface {
	Payload() []byte
	// Attempt is 1 on first delivery and grows with each redelivery.
	Attempt() int
	Ack() error
	Nak(delay time.Duration) error
	Term() error
}

// InMemoryQueue implements the feed in process memory.
type InMemoryQueue struct {
	partitionCount int
	capacity       int
	partitions     []*partition

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewInMemoryQueue creates a new in-memory feed with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		partitionCount: defaultPartitions,
		capacity:       defaultCapacity,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.partitions = make([]*partition, q.partitionCount)
	for i := range q.partitions {
		q.partitions[i] = &partition{
			id:     i,
			label:  strconv.Itoa(i),
			notify: make(chan struct{}, 1),
		}
		metrics.UpdateFeedDepth(q.partitions[i].label, 0)
	}
	return q
}

// Partitions returns the number of partitions.
func (q *InMemoryQueue) Partitions() int {
	return q.partitionCount
}

// Publish appends rec to its partition. A full partition returns ErrFull
// and the caller is expected to retry later.
func (q *InMemoryQueue) Publish(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		metrics.RecordErrorByComponent("feed", "closed")
		return ErrClosed
	}

	p := q.partitions[PartitionFor(rec.Key, q.partitionCount)]
	p.mu.Lock()
	if len(p.items) >= q.capacity {
		p.mu.Unlock()
		metrics.RecordErrorByComponent("feed", "partition_full")
		return fmt.Errorf("%w: partition %d", ErrFull, p.id)
	}
	p.items = append(p.items, &message{rec: rec, attempt: 1})
	depth := len(p.items)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	metrics.RecordFeedPublished()
	metrics.UpdateFeedDepth(p.label, depth)
	return nil
}

// Settled returns the highest sequence s such that every record with a
// sequence at or below s, up to published, has been acknowledged or
// terminated.
func (q *InMemoryQueue) Settled(published int64) int64 {
	low := published
	for _, p := range q.partitions {
		p.mu.Lock()
		if len(p.items) > 0 && p.items[0].rec.Seq-1 < low {
			low = p.items[0].rec.Seq - 1
		}
		p.mu.Unlock()
	}
	return low
}

// Len returns the number of buffered records across partitions.
func (q *InMemoryQueue) Len() int {
	n := 0
	for _, p := range q.partitions {
		p.mu.Lock()
		n += len(p.items)
		p.mu.Unlock()
	}
	return n
}

// Deliveries starts delivering the records of one partition. The channel
// is closed when ctx ends or the queue is closed. Each partition accepts
// one consumer.
func (q *InMemoryQueue) Deliveries(ctx context.Context, partition int) (<-chan Delivery, error) {
	if partition < 0 || partition >= q.partitionCount {
		return nil, fmt.Errorf("%w: %d", ErrBadPartition, partition)
	}
	if q.IsClosed() {
		return nil, ErrClosed
	}
	p := q.partitions[partition]
	p.mu.Lock()
	if p.consumed {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrAlreadyConsumed, partition)
	}
	p.consumed = true
	p.mu.Unlock()

	out := make(chan Delivery)
	go p.dispatch(ctx, q.done, out)
	return out, nil
}

// Close stops all partitions. Buffered records are discarded.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
