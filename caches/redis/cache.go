package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	reviewcache "github.com/dgduncan/go-review-cache"
	"github.com/dgduncan/go-review-cache/caches"
)

// scanCount is the COUNT hint passed to SCAN.
const scanCount = 200

// Config defines the configuration options for the Redis store implementation.
type Config struct {
	// Prefix is prepended to every key. Keys written by the caches already
	// carry Config.PersistPrefix, so it is empty by default.
	Prefix string

	// ItemExpiration is the TTL set on every key. Zero uses caches.DefaultExpiredDuration.
	ItemExpiration time.Duration

	Logger *slog.Logger
}

// Store implements reviewcache.Store on top of a Redis client.
type Store struct {
	rdb redis.UniversalClient

	prefix     string
	expiration time.Duration
	logger     *slog.Logger
}

var _ reviewcache.Store = (*Store)(nil)

func (s *Store) GetItem(ctx context.Context, k string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, s.prefix+k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, caches.ErrNoCacheItem
	}
	if err != nil {
		s.logger.WarnContext(ctx, "GET failed", "key", k, "error", err)
		return nil, err
	}
	return b, nil
}

func (s *Store) SetItem(ctx context.Context, k string, v []byte) error {
	if err := s.rdb.Set(ctx, s.prefix+k, v, s.expiration).Err(); err != nil {
		s.logger.WarnContext(ctx, "SET failed", "key", k, "error", err)
		return err
	}
	return nil
}

func (s *Store) RemoveItem(ctx context.Context, k string) error {
	return s.rdb.Del(ctx, s.prefix+k).Err()
}

func (s *Store) MultiRemove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}
	n, err := s.rdb.Del(ctx, full...).Result()
	if err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "DEL", "requested", len(keys), "deleted", n)
	return nil
}

// GetAllKeys walks the keyspace with SCAN, returning keys without the prefix.
func (s *Store) GetAllKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// New creates a Redis-backed store and verifies the connection with PING.
func New(ctx context.Context, rdb redis.UniversalClient, config *Config) (*Store, error) {
	if rdb == nil {
		return nil, caches.ValidationError{Reason: "nil client"}
	}
	if config == nil {
		config = &Config{}
	}
	if config.ItemExpiration < 0 {
		return nil, caches.ValidationError{Reason: "negative item expiration"}
	}

	s := &Store{
		rdb:        rdb,
		prefix:     config.Prefix,
		expiration: config.ItemExpiration,
		logger:     config.Logger,
	}
	if s.expiration == 0 {
		s.expiration = caches.DefaultExpiredDuration
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return s, nil
}
