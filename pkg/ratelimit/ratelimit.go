package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter bounds the rate of outbound calls per key. Implementations must be
// safe for concurrent use; the per-key counters are the only state shared
// between concurrent job executions.
type Limiter interface {
	// TryAcquire consumes a slot if one is available right now.
	TryAcquire(key string) bool
	// Acquire blocks until a slot is available or the context is done.
	Acquire(ctx context.Context, key string) error
	// Execute acquires a slot and then runs fn.
	Execute(ctx context.Context, key string, fn func() error) error
}

// TokenBucket refills continuously at capacity/window and holds at most
// capacity tokens per key. Waiters reserve tokens under the lock, so grant
// order follows acquisition order.
type TokenBucket struct {
	mu          sync.Mutex
	buckets     map[string]*bucket
	capacity    float64
	window      time.Duration
	minInterval time.Duration
}

type bucket struct {
	tokens    float64
	last      time.Time
	nextGrant time.Time
}

func NewTokenBucket(capacity int, window time.Duration, minInterval time.Duration) *TokenBucket {
	return &TokenBucket{
		buckets:     make(map[string]*bucket),
		capacity:    float64(capacity),
		window:      window,
		minInterval: minInterval,
	}
}

func (tb *TokenBucket) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed.Seconds() / tb.window.Seconds() * tb.capacity
	if b.tokens > tb.capacity {
		b.tokens = tb.capacity
	}
	b.last = now
}

func (tb *TokenBucket) get(key string, now time.Time) *bucket {
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: tb.capacity, last: now}
		tb.buckets[key] = b
	}
	return b
}

func (tb *TokenBucket) TryAcquire(key string) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	b := tb.get(key, now)
	tb.refill(b, now)

	if b.tokens < 1 || now.Before(b.nextGrant) {
		return false
	}
	b.tokens--
	b.nextGrant = now.Add(tb.minInterval)
	return true
}

// reserve consumes a token (going into debt if none are available) and
// returns how long the caller must wait before its grant is effective.
func (tb *TokenBucket) reserve(key string) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	b := tb.get(key, now)
	tb.refill(b, now)

	b.tokens--
	grant := now
	if b.tokens < 0 {
		debt := -b.tokens
		grant = now.Add(time.Duration(debt / tb.capacity * float64(tb.window)))
	}
	if grant.Before(b.nextGrant) {
		grant = b.nextGrant
	}
	b.nextGrant = grant.Add(tb.minInterval)
	return time.Until(grant)
}

func (tb *TokenBucket) Acquire(ctx context.Context, key string) error {
	wait := tb.reserve(key)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (tb *TokenBucket) Execute(ctx context.Context, key string, fn func() error) error {
	if err := tb.Acquire(ctx, key); err != nil {
		return err
	}
	return fn()
}

// SlidingWindow keeps per-key grant timestamps and admits a request when
// fewer than limit grants fall inside the trailing window. Waiters book their
// slot under the lock, so grant order follows acquisition order.
type SlidingWindow struct {
	mu     sync.Mutex
	grants map[string][]time.Time
	limit  int
	window time.Duration
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		grants: make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

func (sw *SlidingWindow) prune(key string, now time.Time) []time.Time {
	times := sw.grants[key]
	cutoff := now.Add(-sw.window)
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	times = times[i:]
	if len(times) == 0 {
		delete(sw.grants, key)
	} else {
		sw.grants[key] = times
	}
	return times
}

func (sw *SlidingWindow) TryAcquire(key string) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	times := sw.prune(key, now)
	if len(times) >= sw.limit {
		return false
	}
	sw.grants[key] = append(times, now)
	return true
}

// reserve books the next free slot under the lock and returns how long the
// caller must wait before its grant is effective. A full window books the
// slot that opens when the limit-th newest grant leaves the window; booked
// slots count against later callers, so admission is FIFO per key.
func (sw *SlidingWindow) reserve(key string) time.Duration {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	times := sw.prune(key, now)
	grant := now
	if len(times) >= sw.limit {
		grant = times[len(times)-sw.limit].Add(sw.window)
	}
	sw.grants[key] = append(times, grant)
	return time.Until(grant)
}

func (sw *SlidingWindow) Acquire(ctx context.Context, key string) error {
	wait := sw.reserve(key)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (sw *SlidingWindow) Execute(ctx context.Context, key string, fn func() error) error {
	if err := sw.Acquire(ctx, key); err != nil {
		return err
	}
	return fn()
}
