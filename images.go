package reviewcache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const imageStoreNamespace = "image:"

// ImageCache resolves storage paths to usable URLs:
//   - avatars: public URLs, memoized under the avatar TTL;
//   - review images: signed URLs, cached for less than their signing window
//     and probed for liveness before a cached one is reused;
//   - location images: downloaded and returned as data URLs.
//
// Every write is mirrored to the Store, and Load restores the mirror on startup.
type ImageCache struct {
	storage Storage
	store   Store
	prober  Prober
	cfg     Config

	mu      sync.Mutex
	entries map[string]*Entry
	flights singleflight.Group

	clock   clockwork.Clock
	logger  *slog.Logger
	metrics Metrics
}

type persistedEntry struct {
	Key       Key    `json:"key"`
	Value     string `json:"value"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// NewImageCache creates an ImageCache. A nil store disables persistence and
// a nil prober probes over HTTP with the default transport.
func NewImageCache(
	storage Storage,
	store Store,
	prober Prober,
	opts *Config,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics Metrics,
) (*ImageCache, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}
	clock, logger, metrics = withDefaults(clock, logger, metrics)
	if prober == nil {
		prober = NewHTTPProber(nil, 0, logger)
	}

	return &ImageCache{
		storage: storage,
		store:   store,
		prober:  prober,
		cfg:     cfg,
		entries: make(map[string]*Entry),
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// AvatarURL returns the public URL of an avatar path, or "" for an empty path.
func (c *ImageCache) AvatarURL(ctx context.Context, path string) string {
	if path == "" {
		return ""
	}

	key := AvatarKey(path)
	if url, ok := c.lookup(key); ok {
		c.metrics.Hit(CacheImage)
		return url
	}

	c.metrics.Miss(CacheImage)
	url := c.storage.PublicURL(c.cfg.AvatarBucket, path)
	c.set(ctx, key, url, c.cfg.AvatarTTL)
	return url
}

// ReviewImageURL returns a signed URL for a review image path, or "" for an
// empty path. A cached URL that fails its liveness probe is discarded and
// replaced.
func (c *ImageCache) ReviewImageURL(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", nil
	}

	key := ReviewImageKey(path)
	if url, ok := c.lookup(key); ok {
		err := c.prober.Probe(ctx, url)
		if err == nil {
			c.metrics.Hit(CacheImage)
			return url, nil
		}
		c.logger.DebugContext(ctx, "cached signed url failed probe, refetching", "path", path, "error", err)
		c.remove(ctx, ExactKey(key))
	}

	return c.fetchReviewImage(ctx, key, path)
}

func (c *ImageCache) fetchReviewImage(ctx context.Context, key Key, path string) (string, error) {
	return c.flight(ctx, key, func(ctx context.Context) (string, error) {
		url, err := c.storage.SignedURL(ctx, c.cfg.ReviewImageBucket, path, c.cfg.SignedURLExpiry)
		if err != nil {
			return "", err
		}
		c.set(ctx, key, url, c.cfg.ReviewImageTTL)
		return url, nil
	})
}

// ReviewImageURLs resolves many review image paths at once. Cached URLs are
// returned as-is and all misses are fetched concurrently. Paths that fail to
// resolve are left out of the result.
func (c *ImageCache) ReviewImageURLs(ctx context.Context, paths []string) map[string]string {
	out := make(map[string]string, len(paths))
	var misses []string

	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, seen := out[p]; seen || slices.Contains(misses, p) {
			continue
		}
		if url, ok := c.lookup(ReviewImageKey(p)); ok {
			c.metrics.Hit(CacheImage)
			out[p] = url
			continue
		}
		misses = append(misses, p)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, p := range misses {
		g.Go(func() error {
			url, err := c.fetchReviewImage(ctx, ReviewImageKey(p), p)
			if err != nil {
				c.logger.WarnContext(ctx, "review image not resolved", "path", p, "error", err)
				return nil
			}
			mu.Lock()
			out[p] = url
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// LocationImage returns the location's image as a data URL. A missing object
// yields "" and no error.
func (c *ImageCache) LocationImage(ctx context.Context, locationID uuid.UUID) (string, error) {
	key := LocationImageKey(locationID)
	if url, ok := c.lookup(key); ok {
		c.metrics.Hit(CacheImage)
		return url, nil
	}

	return c.flight(ctx, key, func(ctx context.Context) (string, error) {
		data, contentType, err := c.storage.Download(ctx, c.cfg.LocationImageBucket, locationID.String()+".jpg")
		if err != nil {
			if isNotFound(err) {
				c.logger.DebugContext(ctx, "location has no image", "location", locationID)
				return "", nil
			}
			return "", err
		}

		url := dataURL(data, contentType)
		c.set(ctx, key, url, c.cfg.LocationImageTTL)
		return url, nil
	})
}

// ClearAvatar drops the cached URL of one avatar path.
func (c *ImageCache) ClearAvatar(ctx context.Context, path string) {
	key := AvatarKey(path)
	c.remove(ctx, ExactKey(key))

	if c.store == nil {
		return
	}
	if err := c.store.RemoveItem(ctx, c.storeKey(key)); err != nil {
		c.logger.WarnContext(ctx, "error removing persisted avatar entry", "path", path, "error", err)
	}
}

// ClearUserAvatars drops every cached avatar URL owned by the user.
func (c *ImageCache) ClearUserAvatars(ctx context.Context, userID uuid.UUID) {
	c.remove(ctx, func(k Key) bool { return k.Kind == KindAvatar && k.UserID == userID })
	c.removePersisted(ctx, c.cfg.PersistPrefix+imageStoreNamespace+string(KindAvatar)+"_"+userID.String()+"/")
}

// ClearAvatars drops every cached avatar URL.
func (c *ImageCache) ClearAvatars(ctx context.Context) {
	c.remove(ctx, OfKind(KindAvatar))
	c.removePersisted(ctx, c.cfg.PersistPrefix+imageStoreNamespace+string(KindAvatar)+"_")
}

// ClearAll drops every cached URL of every kind.
func (c *ImageCache) ClearAll(ctx context.Context) {
	c.remove(ctx, func(Key) bool { return true })
	c.removePersisted(ctx, c.cfg.PersistPrefix+imageStoreNamespace)
}

// ClearExpired drops expired entries from memory and from the store and
// returns how many in-memory entries were removed.
func (c *ImageCache) ClearExpired(ctx context.Context) int {
	now := c.clock.Now()

	c.mu.Lock()
	var expired []Key
	for k, e := range c.entries {
		if !e.Live(now) {
			expired = append(expired, e.Key)
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()

	c.sweepStore(ctx, false)

	if len(expired) > 0 {
		c.metrics.Invalidated(CacheImage, len(expired))
	}
	return len(expired)
}

// Load restores live entries from the store and removes expired ones from it.
// It returns the number of entries restored.
func (c *ImageCache) Load(ctx context.Context) int {
	return c.sweepStore(ctx, true)
}

// sweepStore walks the mirrored entries, removing expired or unreadable ones
// and, when restore is set, loading live ones into memory.
func (c *ImageCache) sweepStore(ctx context.Context, restore bool) int {
	if c.store == nil {
		return 0
	}

	keys, err := c.store.GetAllKeys(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "error listing persisted image entries", "error", err)
		return 0
	}

	prefix := c.cfg.PersistPrefix + imageStoreNamespace
	now := c.clock.Now()
	restored := 0
	var stale []string

	for _, sk := range keys {
		if !strings.HasPrefix(sk, prefix) {
			continue
		}

		raw, err := c.store.GetItem(ctx, sk)
		if err != nil {
			c.logger.WarnContext(ctx, "error reading persisted image entry", "key", sk, "error", err)
			continue
		}

		var pe persistedEntry
		if err := json.Unmarshal(raw, &pe); err != nil {
			stale = append(stale, sk)
			continue
		}

		e := &Entry{
			Key:       pe.Key,
			Value:     pe.Value,
			CreatedAt: time.UnixMilli(pe.CreatedAt),
			ExpiresAt: time.UnixMilli(pe.ExpiresAt),
		}
		if !e.Live(now) {
			stale = append(stale, sk)
			continue
		}

		if restore {
			c.mu.Lock()
			c.entries[e.Key.String()] = e
			c.mu.Unlock()
			restored++
		}
	}

	if len(stale) > 0 {
		if err := c.store.MultiRemove(ctx, stale); err != nil {
			c.logger.WarnContext(ctx, "error removing expired image entries", "count", len(stale), "error", err)
		}
	}

	return restored
}

func (c *ImageCache) flight(ctx context.Context, key Key, fetch func(context.Context) (string, error)) (string, error) {
	ch := c.flights.DoChan(key.String(), func() (any, error) {
		c.metrics.Miss(CacheImage)
		return fetch(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.metrics.Coalesced(CacheImage)
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *ImageCache) lookup(key Key) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key.String()]
	if !found {
		return "", false
	}
	if !e.Live(c.clock.Now()) {
		delete(c.entries, key.String())
		return "", false
	}
	url, ok := e.Value.(string)
	return url, ok
}

func (c *ImageCache) set(ctx context.Context, key Key, url string, ttl time.Duration) {
	e := newEntry(key, url, c.clock.Now(), ttl)

	c.mu.Lock()
	c.entries[key.String()] = e
	c.mu.Unlock()

	c.persist(ctx, e)
}

func (c *ImageCache) remove(ctx context.Context, pred KeyPredicate) {
	c.mu.Lock()
	var removed []string
	for k, e := range c.entries {
		if pred(e.Key) {
			delete(c.entries, k)
			removed = append(removed, c.storeKey(e.Key))
		}
	}
	c.mu.Unlock()

	if len(removed) == 0 {
		return
	}
	c.metrics.Invalidated(CacheImage, len(removed))

	if c.store == nil {
		return
	}
	if err := c.store.MultiRemove(ctx, removed); err != nil {
		c.logger.WarnContext(ctx, "error removing persisted image entries", "count", len(removed), "error", err)
	}
}

// removePersisted drops mirrored keys starting with prefix, covering entries
// that were persisted but never loaded into this process.
func (c *ImageCache) removePersisted(ctx context.Context, prefix string) {
	if c.store == nil {
		return
	}

	keys, err := c.store.GetAllKeys(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "error listing persisted image entries", "error", err)
		return
	}

	var matched []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	if len(matched) == 0 {
		return
	}
	if err := c.store.MultiRemove(ctx, matched); err != nil {
		c.logger.WarnContext(ctx, "error removing persisted image entries", "count", len(matched), "error", err)
	}
}

func (c *ImageCache) persist(ctx context.Context, e *Entry) {
	if c.store == nil {
		return
	}

	b, err := json.Marshal(persistedEntry{
		Key:       e.Key,
		Value:     e.Value.(string),
		CreatedAt: e.CreatedAt.UnixMilli(),
		ExpiresAt: e.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		c.logger.WarnContext(ctx, "error encoding image entry", "key", e.Key.String(), "error", err)
		return
	}

	if err := c.store.SetItem(ctx, c.storeKey(e.Key), b); err != nil {
		c.logger.WarnContext(ctx, "error persisting image entry", "key", e.Key.String(), "error", err)
	}
}

func (c *ImageCache) storeKey(k Key) string {
	return c.cfg.PersistPrefix + imageStoreNamespace + k.String()
}

func isNotFound(err error) bool {
	if errors.Is(err, ErrObjectNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "nosuchkey")
}

func dataURL(data []byte, contentType string) string {
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
