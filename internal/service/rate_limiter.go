package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gotradegate/tradegate/internal/model"
	"github.com/gotradegate/tradegate/internal/pkg/metrics"
)

// CounterStore is the shared backend for multi-instance rate limiting.
// Incr atomically increments key, attaching the ttl only when the counter
// is created, and returns the post-increment count.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type endpointLimit struct {
	limit  int
	window time.Duration
}

type localCounter struct {
	count     int64
	expiresAt time.Time
}

const localSweepInterval = time.Minute

// RateLimiter counts requests in fixed windows per (client, endpoint).
// Windows are discrete buckets keyed by their start second, so a client can
// burst up to twice the limit across a window boundary. That is the
// documented tradeoff of the algorithm, in exchange for one atomic
// increment per request.
type RateLimiter struct {
	store CounterStore // nil means local in-process counting

	mu        sync.Mutex
	endpoints map[string]endpointLimit
	local     map[string]*localCounter
	lastSweep time.Time

	defLimit  int
	defWindow time.Duration
	now       func() time.Time
}

func NewRateLimiter(store CounterStore, defaultLimit int, defaultWindow time.Duration) *RateLimiter {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	if defaultWindow <= 0 {
		defaultWindow = time.Minute
	}
	return &RateLimiter{
		store:     store,
		endpoints: make(map[string]endpointLimit),
		local:     make(map[string]*localCounter),
		defLimit:  defaultLimit,
		defWindow: defaultWindow,
		now:       time.Now,
	}
}

// Configure sets a per-endpoint limit overriding the default. A limit of
// zero or less blocks the endpoint entirely.
func (l *RateLimiter) Configure(endpoint string, limit int, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if window <= 0 {
		window = l.defWindow
	}
	l.endpoints[endpoint] = endpointLimit{limit: limit, window: window}
}

func (l *RateLimiter) limitFor(endpoint string) endpointLimit {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg, ok := l.endpoints[endpoint]; ok {
		return cfg
	}
	return endpointLimit{limit: l.defLimit, window: l.defWindow}
}

// Allow counts one request for (clientID, endpoint) and reports whether it
// fits inside the current window. Remaining is limit minus the
// post-increment count and goes negative once the window is saturated.
func (l *RateLimiter) Allow(ctx context.Context, clientID, endpoint string) (model.RateDecision, error) {
	cfg := l.limitFor(endpoint)
	now := l.now()

	windowSecs := int64(cfg.window / time.Second)
	if windowSecs < 1 {
		windowSecs = 1
	}
	windowStart := (now.Unix() / windowSecs) * windowSecs
	resetAt := time.Unix(windowStart+windowSecs, 0).UTC()
	key := fmt.Sprintf("%s:%s:%d", clientID, endpoint, windowStart)

	var count int64
	if l.store != nil {
		c, err := l.store.Incr(ctx, key, cfg.window)
		if err != nil {
			return model.RateDecision{Limit: cfg.limit, ResetAt: resetAt}, err
		}
		count = c
	} else {
		count = l.incrLocal(key, resetAt, now)
	}

	dec := model.RateDecision{
		Allowed:   count <= int64(cfg.limit),
		Limit:     cfg.limit,
		Remaining: cfg.limit - int(count),
		ResetAt:   resetAt,
	}
	if dec.Allowed {
		metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
	} else {
		metrics.RateLimitDecisions.WithLabelValues("limited").Inc()
	}
	return dec, nil
}

func (l *RateLimiter) incrLocal(key string, expiresAt, now time.Time) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(now)
	entry, ok := l.local[key]
	if !ok || !entry.expiresAt.After(now) {
		entry = &localCounter{expiresAt: expiresAt}
		l.local[key] = entry
	}
	entry.count++
	return entry.count
}

// sweepLocked evicts expired windows, at most once per sweep interval.
func (l *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < localSweepInterval {
		return
	}
	l.lastSweep = now
	for key, entry := range l.local {
		if !entry.expiresAt.After(now) {
			delete(l.local, key)
		}
	}
}
