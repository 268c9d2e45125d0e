package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Strategy selects the limiter implementation for a marketplace.
type Strategy string

const (
	StrategyTokenBucket   Strategy = "token_bucket"
	StrategySlidingWindow Strategy = "sliding_window"
)

// Config is one marketplace's outbound rate-limit row.
type Config struct {
	Strategy    Strategy
	Capacity    int
	Window      time.Duration
	MinInterval time.Duration
}

// DefaultConfig is the conservative fallback for marketplaces without a
// configured row.
var DefaultConfig = Config{
	Strategy: StrategyTokenBucket,
	Capacity: 10,
	Window:   time.Minute,
}

// WaitObserver is invoked with the time a caller spent blocked on a limiter.
type WaitObserver func(marketplace string, wait time.Duration)

// Registry hands out one preconfigured limiter per marketplace, keyed inside
// the limiter by marketplace:account so accounts on the same marketplace do
// not contend with each other.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]Limiter
	configs  map[string]Config
	fallback Config
	onWait   WaitObserver
}

func NewRegistry(configs map[string]Config, fallback Config) *Registry {
	if fallback.Capacity <= 0 {
		fallback = DefaultConfig
	}
	return &Registry{
		limiters: make(map[string]Limiter),
		configs:  configs,
		fallback: fallback,
	}
}

// SetWaitObserver installs a hook observing limiter wait durations.
func (r *Registry) SetWaitObserver(obs WaitObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onWait = obs
}

func build(cfg Config) Limiter {
	if cfg.Strategy == StrategySlidingWindow {
		return NewSlidingWindow(cfg.Capacity, cfg.Window)
	}
	return NewTokenBucket(cfg.Capacity, cfg.Window, cfg.MinInterval)
}

// For returns the limiter for a marketplace, creating it on first use.
func (r *Registry) For(marketplace string) Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[marketplace]; ok {
		return l
	}
	cfg, ok := r.configs[marketplace]
	if !ok {
		cfg = r.fallback
	}
	l := build(cfg)
	r.limiters[marketplace] = l
	return l
}

// Key builds the per-account limiter key.
func Key(marketplace, account string) string {
	return fmt.Sprintf("%s:%s", marketplace, account)
}

// Execute runs fn under the marketplace's limiter for the given account.
func (r *Registry) Execute(ctx context.Context, marketplace, account string, fn func() error) error {
	l := r.For(marketplace)

	start := time.Now()
	if err := l.Acquire(ctx, Key(marketplace, account)); err != nil {
		return err
	}
	r.mu.Lock()
	obs := r.onWait
	r.mu.Unlock()
	if obs != nil {
		obs(marketplace, time.Since(start))
	}

	return fn()
}
