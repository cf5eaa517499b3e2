package reviewcache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

type fetchOptions struct {
	cache        bool
	duration     time.Duration
	forceRefresh bool
}

// FetchOption adjusts a single QueryCache.Do call.
type FetchOption func(*fetchOptions)

// WithoutCache neither reads nor writes the cache. Identical requests still
// coalesce while one is in flight.
func WithoutCache() FetchOption {
	return func(o *fetchOptions) { o.cache = false }
}

// WithDuration overrides the TTL of the stored result.
func WithDuration(d time.Duration) FetchOption {
	return func(o *fetchOptions) { o.duration = d }
}

// WithForceRefresh skips the cache read but still stores the result.
func WithForceRefresh() FetchOption {
	return func(o *fetchOptions) { o.forceRefresh = true }
}

// QueryCache memoizes remote reads by key and coalesces identical requests
// that are in flight at the same time.
type QueryCache struct {
	mu      sync.Mutex
	entries map[string]*Entry

	flights singleflight.Group

	defaultTTL time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    Metrics
}

// NewQueryCache creates a QueryCache whose entries live for defaultTTL unless
// a call overrides it. Nil collaborators fall back to the real clock, a
// discarding logger and NoopMetrics.
func NewQueryCache(defaultTTL time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics Metrics) *QueryCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultConfig().UserDataTTL
	}
	clock, logger, metrics = withDefaults(clock, logger, metrics)

	return &QueryCache{
		entries:    make(map[string]*Entry),
		defaultTTL: defaultTTL,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}
}

// Do returns the live cached value for key, or joins the request already in
// flight for key, or calls fetch and memoizes its result.
//
// fetch runs on a context detached from the caller's cancellation: a caller
// that gives up waiting gets ctx.Err(), while the fetch still completes and
// populates the cache for the next caller. Errors are returned to every
// waiting caller and never cached.
func (q *QueryCache) Do(ctx context.Context, key Key, fetch func(context.Context) (any, error), opts ...FetchOption) (any, error) {
	o := fetchOptions{cache: true, duration: q.defaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	k := key.String()

	if o.cache && !o.forceRefresh {
		if v, ok := q.lookup(k); ok {
			q.metrics.Hit(CacheQuery)
			q.logger.DebugContext(ctx, "cache item found", "key", k)
			return v, nil
		}
	}

	ch := q.flights.DoChan(k, func() (any, error) {
		// a flight may have landed between the lookup above and this one starting
		if o.cache && !o.forceRefresh {
			if v, ok := q.lookup(k); ok {
				q.metrics.Hit(CacheQuery)
				return v, nil
			}
		}
		q.metrics.Miss(CacheQuery)
		q.logger.DebugContext(ctx, "cache item not found, fetching", "key", k)

		v, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if o.cache {
			q.set(key, v, o.duration)
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			q.metrics.Coalesced(CacheQuery)
		}
		return res.Val, res.Err
	}
}

// Fetch is the typed form of QueryCache.Do.
func Fetch[T any](ctx context.Context, q *QueryCache, key Key, fetch func(context.Context) (T, error), opts ...FetchOption) (T, error) {
	var zero T

	v, err := q.Do(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, opts...)
	if err != nil {
		return zero, err
	}

	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s holds %T", ErrTypeMismatch, key, v)
	}
	return t, nil
}

func (q *QueryCache) lookup(k string) (any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, found := q.entries[k]
	if !found {
		return nil, false
	}
	if !e.Live(q.clock.Now()) {
		delete(q.entries, k)
		return nil, false
	}
	return e.Value, true
}

func (q *QueryCache) set(key Key, v any, ttl time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries[key.String()] = newEntry(key, v, q.clock.Now(), ttl)
}

// Invalidate removes every entry whose key matches pred and returns how many
// were removed.
func (q *QueryCache) Invalidate(pred KeyPredicate) int {
	q.mu.Lock()
	n := 0
	for k, e := range q.entries {
		if pred(e.Key) {
			delete(q.entries, k)
			n++
		}
	}
	q.mu.Unlock()

	if n > 0 {
		q.metrics.Invalidated(CacheQuery, n)
	}
	return n
}

// InvalidateKey removes a single entry.
func (q *QueryCache) InvalidateKey(key Key) bool {
	return q.Invalidate(ExactKey(key)) > 0
}

// Clear removes every entry.
func (q *QueryCache) Clear() {
	q.mu.Lock()
	n := len(q.entries)
	q.entries = make(map[string]*Entry)
	q.mu.Unlock()

	q.metrics.Invalidated(CacheQuery, n)
}

// PurgeExpired drops entries that are no longer live. Expired entries are
// also dropped lazily on access, so calling this is optional.
func (q *QueryCache) PurgeExpired() int {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for k, e := range q.entries {
		if !e.Live(now) {
			delete(q.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (q *QueryCache) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func withDefaults(clock clockwork.Clock, logger *slog.Logger, metrics Metrics) (clockwork.Clock, *slog.Logger, Metrics) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return clock, logger, metrics
}
