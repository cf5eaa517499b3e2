package reviewcache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgduncan/go-review-cache/caches"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

const authStoreKey = "auth:session"

// AppState is the foreground state of the host application.
type AppState int

const (
	AppActive AppState = iota
	AppInactive
	AppBackground
)

func (s AppState) String() string {
	switch s {
	case AppActive:
		return "active"
	case AppInactive:
		return "inactive"
	case AppBackground:
		return "background"
	default:
		return "unknown"
	}
}

// ProfileTables is the part of Tables the auth cache needs.
type ProfileTables interface {
	ActiveProfileByID(ctx context.Context, id uuid.UUID) (*Profile, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (*Profile, error)
}

type authEntry struct {
	Session          *Session  `json:"session"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
	Profile          *Profile  `json:"profile,omitempty"`
	ProfileExpiresAt time.Time `json:"profile_expires_at"`
}

// AuthCache keeps the current session and profile for a short window.
//
// A cached session is never returned without asking the server whether its
// access token is still accepted; the cache only saves re-deriving the
// session locally. The whole entry is dropped on sign-out, when the app
// goes to the background, and on Invalidate.
type AuthCache struct {
	auth   Auth
	tables ProfileTables
	store  Store
	cfg    Config

	mu      sync.Mutex
	entry   *authEntry
	flights singleflight.Group

	clock   clockwork.Clock
	logger  *slog.Logger
	metrics Metrics
}

// NewAuthCache creates an AuthCache. A nil store disables persistence.
func NewAuthCache(
	auth Auth,
	tables ProfileTables,
	store Store,
	opts *Config,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics Metrics,
) (*AuthCache, error) {
	if auth == nil {
		return nil, caches.ValidationError{Reason: "nil auth client"}
	}
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}
	clock, logger, metrics = withDefaults(clock, logger, metrics)

	return &AuthCache{
		auth:    auth,
		tables:  tables,
		store:   store,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Session returns the current session or nil when there is none.
func (c *AuthCache) Session(ctx context.Context) (*Session, error) {
	if s := c.liveSession(); s != nil {
		_, err := c.auth.User(ctx, s.AccessToken)
		switch {
		case err == nil:
			c.metrics.Hit(CacheAuth)
			return s, nil
		case errors.Is(err, ErrNoSession):
			c.logger.DebugContext(ctx, "server rejected cached session")
			c.Invalidate(ctx)
			return nil, nil
		default:
			c.logger.WarnContext(ctx, "session validation failed, refetching", "error", err)
		}
	}

	return c.fetchSession(ctx)
}

func (c *AuthCache) fetchSession(ctx context.Context) (*Session, error) {
	ch := c.flights.DoChan("session", func() (any, error) {
		c.metrics.Miss(CacheAuth)

		s, err := c.auth.Session(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if s == nil {
			c.Invalidate(ctx)
			return (*Session)(nil), nil
		}
		c.seed(ctx, s)
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		s := res.Val.(*Session)
		if s == nil {
			return nil, nil
		}
		cp := *s
		return &cp, nil
	}
}

// User returns the user of the current session, or nil when signed out.
func (c *AuthCache) User(ctx context.Context) (*User, error) {
	s, err := c.Session(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	u := s.User
	return &u, nil
}

// Profile returns the active profile of the signed-in user. It returns nil
// when signed out or when the profile does not exist or was soft-deleted.
func (c *AuthCache) Profile(ctx context.Context) (*Profile, error) {
	s, err := c.Session(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	uid := s.User.ID

	if p := c.liveProfile(uid); p != nil {
		c.metrics.Hit(CacheAuth)
		return p, nil
	}

	ch := c.flights.DoChan("profile_"+uid.String(), func() (any, error) {
		c.metrics.Miss(CacheAuth)

		p, err := c.tables.ActiveProfileByID(context.WithoutCancel(ctx), uid)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return (*Profile)(nil), nil
			}
			return nil, err
		}
		c.attachProfile(ctx, uid, p)
		return p, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.metrics.Coalesced(CacheAuth)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		p := res.Val.(*Profile)
		if p == nil {
			return nil, nil
		}
		cp := *p
		return &cp, nil
	}
}

// UpdateProfile writes through to Tables and then refreshes the cached profile.
func (c *AuthCache) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*Profile, error) {
	s, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNoSession
	}

	p, err := c.tables.UpdateProfile(ctx, s.User.ID, upd)
	if err != nil {
		return nil, err
	}
	c.attachProfile(ctx, s.User.ID, p)

	cp := *p
	return &cp, nil
}

func (c *AuthCache) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	return c.signIn(ctx, func(ctx context.Context) (*Session, error) {
		return c.auth.SignInWithPassword(ctx, email, password)
	})
}

func (c *AuthCache) SignUp(ctx context.Context, email, password string) (*Session, error) {
	return c.signIn(ctx, func(ctx context.Context) (*Session, error) {
		return c.auth.SignUp(ctx, email, password)
	})
}

func (c *AuthCache) SignInWithIDToken(ctx context.Context, provider, idToken string) (*Session, error) {
	return c.signIn(ctx, func(ctx context.Context) (*Session, error) {
		return c.auth.SignInWithIDToken(ctx, provider, idToken)
	})
}

func (c *AuthCache) signIn(ctx context.Context, fn func(context.Context) (*Session, error)) (*Session, error) {
	c.Invalidate(ctx)

	s, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if s != nil {
		c.seed(ctx, s)
	}
	return s, nil
}

// SignOut signs out with the server and always clears the cache.
func (c *AuthCache) SignOut(ctx context.Context) error {
	err := c.auth.SignOut(ctx)
	c.Invalidate(ctx)
	return err
}

// OnAppStateChange clears the cache when the app moves to the background.
func (c *AuthCache) OnAppStateChange(ctx context.Context, state AppState) {
	if state != AppBackground {
		return
	}
	c.logger.DebugContext(ctx, "app backgrounded, clearing auth cache")
	c.Invalidate(ctx)
}

// Invalidate drops the cached session and profile, in memory and in the store.
func (c *AuthCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	had := c.entry != nil
	c.entry = nil
	c.mu.Unlock()

	if had {
		c.metrics.Invalidated(CacheAuth, 1)
	}

	if c.store == nil {
		return
	}
	c.removePersisted(ctx)
}

func (c *AuthCache) removePersisted(ctx context.Context) {
	if err := c.store.RemoveItem(ctx, c.storeKey()); err != nil {
		c.logger.WarnContext(ctx, "error removing persisted session", "error", err)
	}
}

// Load restores a persisted session entry and hands its session back to the
// auth client. An expired entry is removed from the store and not cached,
// but its session is still restored so the client can refresh it. The
// restored session is validated on first use.
func (c *AuthCache) Load(ctx context.Context) bool {
	if c.store == nil {
		return false
	}

	raw, err := c.store.GetItem(ctx, c.storeKey())
	if err != nil {
		if !errors.Is(err, caches.ErrNoCacheItem) {
			c.logger.WarnContext(ctx, "error reading persisted session", "error", err)
		}
		return false
	}

	var e authEntry
	if err := json.Unmarshal(raw, &e); err != nil || e.Session == nil {
		c.removePersisted(ctx)
		return false
	}

	c.auth.RestoreSession(e.Session)

	if !c.clock.Now().Before(e.SessionExpiresAt) {
		c.removePersisted(ctx)
		return false
	}

	c.mu.Lock()
	c.entry = &e
	c.mu.Unlock()
	return true
}

func (c *AuthCache) liveSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil || c.entry.Session == nil || !c.clock.Now().Before(c.entry.SessionExpiresAt) {
		return nil
	}
	s := *c.entry.Session
	return &s
}

func (c *AuthCache) liveProfile(uid uuid.UUID) *Profile {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry
	if e == nil || e.Profile == nil || e.Profile.ID != uid || !c.clock.Now().Before(e.ProfileExpiresAt) {
		return nil
	}
	p := *e.Profile
	return &p
}

// seed stores a fresh session, keeping the cached profile only if it belongs
// to the same user.
func (c *AuthCache) seed(ctx context.Context, s *Session) {
	now := c.clock.Now()
	cp := *s

	c.mu.Lock()
	e := &authEntry{Session: &cp, SessionExpiresAt: now.Add(c.cfg.SessionTTL)}
	if old := c.entry; old != nil && old.Profile != nil && old.Profile.ID == s.User.ID {
		e.Profile = old.Profile
		e.ProfileExpiresAt = old.ProfileExpiresAt
	}
	c.entry = e
	snapshot := *e
	c.mu.Unlock()

	c.persist(ctx, &snapshot)
}

func (c *AuthCache) attachProfile(ctx context.Context, uid uuid.UUID, p *Profile) {
	cp := *p

	c.mu.Lock()
	if c.entry == nil || c.entry.Session == nil || c.entry.Session.User.ID != uid {
		c.mu.Unlock()
		return
	}
	c.entry.Profile = &cp
	c.entry.ProfileExpiresAt = c.clock.Now().Add(c.cfg.ProfileTTL)
	snapshot := *c.entry
	c.mu.Unlock()

	c.persist(ctx, &snapshot)
}

func (c *AuthCache) persist(ctx context.Context, e *authEntry) {
	if c.store == nil {
		return
	}

	b, err := json.Marshal(e)
	if err != nil {
		c.logger.WarnContext(ctx, "error encoding session", "error", err)
		return
	}
	if err := c.store.SetItem(ctx, c.storeKey(), b); err != nil {
		c.logger.WarnContext(ctx, "error persisting session", "error", err)
	}
}

func (c *AuthCache) storeKey() string {
	return c.cfg.PersistPrefix + authStoreKey
}
