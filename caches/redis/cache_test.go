//go:build !integration

package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgduncan/go-review-cache/caches"
)

func TestNewValidation(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()

	tests := []struct {
		name   string
		client redis.UniversalClient
		config *Config
	}{
		{
			name: "nil client",
		},
		{
			name:   "negative expiration",
			client: rdb,
			config: &Config{ItemExpiration: -time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(context.Background(), tt.client, tt.config)
			assert.ErrorIs(t, err, caches.ErrValidation)
			assert.Nil(t, s)
		})
	}
}

func TestNewPingFailure(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	s, err := New(context.Background(), rdb, nil)
	assert.Error(t, err)
	assert.Nil(t, s)
}

// keyRecorder answers every command in-process and records the key of each SET.
type keyRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (h *keyRecorder) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *keyRecorder) ProcessHook(redis.ProcessHook) redis.ProcessHook {
	return func(_ context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "set" {
			h.mu.Lock()
			h.keys = append(h.keys, cmd.Args()[1].(string))
			h.mu.Unlock()
		}
		if c, ok := cmd.(*redis.StatusCmd); ok {
			c.SetVal("OK")
		}
		return nil
	}
}

func (h *keyRecorder) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestStoreKeyPrefix(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantKey string
	}{
		{name: "default stores keys as given", wantKey: "reviewcache:image:avatar_a.png"},
		{name: "explicit prefix", config: &Config{Prefix: "tenant-1:"}, wantKey: "tenant-1:reviewcache:image:avatar_a.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
			defer rdb.Close()
			rec := &keyRecorder{}
			rdb.AddHook(rec)

			s, err := New(context.Background(), rdb, tt.config)
			require.NoError(t, err)
			require.NoError(t, s.SetItem(context.Background(), "reviewcache:image:avatar_a.png", []byte("{}")))

			assert.Equal(t, []string{tt.wantKey}, rec.keys)
		})
	}
}
