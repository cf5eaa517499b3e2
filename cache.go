package reviewcache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Tables implementations when a lookup matches no row.
	ErrNotFound = errors.New("record not found")

	// ErrObjectNotFound is returned by Storage implementations when the object does not exist.
	ErrObjectNotFound = errors.New("storage object not found")

	// ErrNoSession is returned by Auth implementations when there is no valid session.
	ErrNoSession = errors.New("no active session")

	// ErrTypeMismatch is returned when a cached value does not have the type the caller asked for.
	ErrTypeMismatch = errors.New("cached value has unexpected type")
)

// Entry is a single memoized value. An entry is usable iff now is before ExpiresAt.
type Entry struct {
	Key       Key
	Value     any
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Live reports whether the entry may still be served at now.
func (e *Entry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

func newEntry(k Key, v any, now time.Time, ttl time.Duration) *Entry {
	return &Entry{
		Key:       k,
		Value:     v,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Store is a persistent key-value store used to mirror cache entries across
// process restarts. Implementations return caches.ErrNoCacheItem from GetItem
// when the key is absent.
type Store interface {
	GetItem(ctx context.Context, key string) ([]byte, error)
	SetItem(ctx context.Context, key string, value []byte) error
	RemoveItem(ctx context.Context, key string) error
	MultiRemove(ctx context.Context, keys []string) error
	GetAllKeys(ctx context.Context) ([]string, error)
}
