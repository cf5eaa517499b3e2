package local

import (
	"context"
	"sort"
	"sync"

	reviewcache "github.com/dgduncan/go-review-cache"
	"github.com/dgduncan/go-review-cache/caches"
)

var _ reviewcache.Store = (*BasicStore)(nil)

// BasicStore is an in-memory Store. It mirrors nothing across restarts and
// is meant for tests and ephemeral runs.
type BasicStore struct {
	items map[string][]byte

	lock sync.RWMutex
}

func (bs *BasicStore) GetItem(_ context.Context, key string) ([]byte, error) {
	bs.lock.RLock()
	defer bs.lock.RUnlock()

	val, found := bs.items[key]
	if !found {
		return nil, caches.ErrNoCacheItem
	}

	return append([]byte(nil), val...), nil
}

func (bs *BasicStore) SetItem(_ context.Context, key string, value []byte) error {
	bs.lock.Lock()
	defer bs.lock.Unlock()

	bs.items[key] = append([]byte(nil), value...)

	return nil
}

func (bs *BasicStore) RemoveItem(_ context.Context, key string) error {
	bs.lock.Lock()
	defer bs.lock.Unlock()

	delete(bs.items, key)

	return nil
}

func (bs *BasicStore) MultiRemove(_ context.Context, keys []string) error {
	bs.lock.Lock()
	defer bs.lock.Unlock()

	for _, k := range keys {
		delete(bs.items, k)
	}

	return nil
}

// GetAllKeys returns the stored keys in lexical order.
func (bs *BasicStore) GetAllKeys(_ context.Context) ([]string, error) {
	bs.lock.RLock()
	defer bs.lock.RUnlock()

	keys := make([]string, 0, len(bs.items))
	for k := range bs.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys, nil
}

func NewBasicStore() *BasicStore {
	return &BasicStore{
		items: make(map[string][]byte),
	}
}
