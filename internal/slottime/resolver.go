// Package slottime resolves slot numbers to block timestamps.
//
// Timestamps arrive on a block-metadata stream that is not ordered relative
// to the transaction stream, so a consumer asking for a slot's timestamp may
// race the producer inserting it. The resolver bridges the two with a bounded
// per-slot wait and an authoritative RPC fallback.
package slottime

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Cinglein/temporal-data/internal/observability"
)

// Default configuration values.
const (
	// DefaultCapacity bounds the slot cache. Consumption is expected to keep
	// pace with production, so old slots are resolved long before eviction.
	DefaultCapacity = 100

	// DefaultWait is how long Get waits for the metadata stream to deliver
	// a missing slot before falling back to RPC.
	DefaultWait = 400 * time.Millisecond
)

// BlockTimeClient is the authoritative fallback for slots the metadata
// stream has not delivered.
type BlockTimeClient interface {
	GetBlockTime(ctx context.Context, slot uint64) (*int64, error)
}

// Resolver maps slot numbers to block timestamps (unix seconds).
//
// Insert is called by the stream subscriber as block metadata arrives; Get is
// called by the persistence loop. The two share one mutex, which is never
// held across a wait or an RPC call: a blocked Get must not prevent the
// subscriber from inserting the very entry it is waiting for.
type Resolver struct {
	client BlockTimeClient
	wait   time.Duration

	mu      sync.Mutex
	slots   *lru.Cache[uint64, int64]
	waiters map[uint64][]chan int64
}

// Option configures a Resolver.
type Option func(*options)

type options struct {
	capacity int
	wait     time.Duration
}

// WithCapacity sets the slot cache capacity.
func WithCapacity(n int) Option {
	return func(o *options) {
		o.capacity = n
	}
}

// WithWait sets the bounded wait before the RPC fallback.
func WithWait(d time.Duration) Option {
	return func(o *options) {
		o.wait = d
	}
}

// NewResolver creates a resolver backed by the given fallback client.
func NewResolver(client BlockTimeClient, opts ...Option) (*Resolver, error) {
	o := options{
		capacity: DefaultCapacity,
		wait:     DefaultWait,
	}
	for _, opt := range opts {
		opt(&o)
	}

	slots, err := lru.New[uint64, int64](o.capacity)
	if err != nil {
		return nil, fmt.Errorf("create slot cache: %w", err)
	}

	return &Resolver{
		client:  client,
		wait:    o.wait,
		slots:   slots,
		waiters: make(map[uint64][]chan int64),
	}, nil
}

// Insert records the timestamp for a slot and wakes any Get blocked on it.
// Block metadata is produced exactly once per slot, so an entry is
// authoritative once present. Never blocks on I/O.
func (r *Resolver) Insert(slot uint64, ts int64) {
	r.mu.Lock()
	r.slots.Add(slot, ts)
	waiters := r.waiters[slot]
	delete(r.waiters, slot)
	n := r.slots.Len()
	r.mu.Unlock()

	// Waiter channels are buffered; sends never block.
	for _, ch := range waiters {
		ch <- ts
	}

	observability.UpdateSlotCacheEntries(n)
}

// Get returns the block timestamp for a slot.
//
// On a cache miss it waits up to the bounded interval for a concurrent
// Insert, re-checks the cache, then falls back to the RPC node. Fallback
// results are deliberately not cached: a slot resolved via fallback is stale
// or rare by construction and caching it does not help steady-state traffic.
func (r *Resolver) Get(ctx context.Context, slot uint64) (int64, error) {
	start := time.Now()

	r.mu.Lock()
	if ts, ok := r.slots.Get(slot); ok {
		r.mu.Unlock()
		observability.RecordSlotResolution("hit", time.Since(start).Seconds())
		return ts, nil
	}
	ch := make(chan int64, 1)
	r.waiters[slot] = append(r.waiters[slot], ch)
	r.mu.Unlock()

	timer := time.NewTimer(r.wait)
	defer timer.Stop()

	select {
	case ts := <-ch:
		observability.RecordSlotResolution("notified", time.Since(start).Seconds())
		return ts, nil
	case <-ctx.Done():
		r.removeWaiter(slot, ch)
		return 0, ctx.Err()
	case <-timer.C:
	}

	r.removeWaiter(slot, ch)

	// Second lookup: an Insert may have landed after the timer fired.
	r.mu.Lock()
	ts, ok := r.slots.Get(slot)
	r.mu.Unlock()
	if ok {
		observability.RecordSlotResolution("notified", time.Since(start).Seconds())
		return ts, nil
	}
	// The notify may also have raced waiter removal.
	select {
	case ts := <-ch:
		observability.RecordSlotResolution("notified", time.Since(start).Seconds())
		return ts, nil
	default:
	}

	bt, err := r.client.GetBlockTime(ctx, slot)
	if err != nil {
		observability.RecordSlotResolution("error", time.Since(start).Seconds())
		return 0, fmt.Errorf("get block time for slot %d: %w", slot, err)
	}
	if bt == nil {
		observability.RecordSlotResolution("error", time.Since(start).Seconds())
		return 0, fmt.Errorf("block time not available for slot %d", slot)
	}
	observability.RecordSlotResolution("fallback", time.Since(start).Seconds())
	return *bt, nil
}

// Len returns the current number of cached slots.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots.Len()
}

// removeWaiter unregisters a waiter channel for a slot.
func (r *Resolver) removeWaiter(slot uint64, ch chan int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	waiters := r.waiters[slot]
	for i, w := range waiters {
		if w == ch {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(r.waiters, slot)
	} else {
		r.waiters[slot] = waiters
	}
}
