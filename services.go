package reviewcache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgduncan/go-review-cache/caches"
	"github.com/jonboulle/clockwork"
)

// Services is the process-wide set of caches. Build it once at startup and
// pass it to whatever needs data.
type Services struct {
	DB     *DatabaseService
	Images *ImageCache
	Auth   *AuthCache

	logger *slog.Logger
}

// NewServices builds the three caches around one backend and one persistent
// store, then restores persisted image and session entries.
func NewServices(
	ctx context.Context,
	backend Backend,
	store Store,
	prober Prober,
	opts *Config,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics Metrics,
) (*Services, error) {
	if backend.Tables == nil || backend.Storage == nil || backend.Auth == nil {
		return nil, caches.ValidationError{Reason: "backend is missing a collaborator"}
	}
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}
	clock, logger, metrics = withDefaults(clock, logger, metrics)

	db, err := NewDatabaseService(backend.Tables, NewQueryCache(cfg.UserDataTTL, clock, logger, metrics), &cfg, logger)
	if err != nil {
		return nil, err
	}
	images, err := NewImageCache(backend.Storage, store, prober, &cfg, clock, logger, metrics)
	if err != nil {
		return nil, err
	}
	auth, err := NewAuthCache(backend.Auth, backend.Tables, store, &cfg, clock, logger, metrics)
	if err != nil {
		return nil, err
	}

	restored := images.Load(ctx)
	session := auth.Load(ctx)
	logger.InfoContext(ctx, "caches ready", "restored_images", restored, "restored_session", session)

	return &Services{DB: db, Images: images, Auth: auth, logger: logger}, nil
}

// UpdateProfile writes the signed-in user's profile and invalidates the
// query entries and avatar URLs that embed it.
func (s *Services) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*Profile, error) {
	p, err := s.Auth.UpdateProfile(ctx, upd)
	if err != nil {
		return nil, err
	}
	s.DB.InvalidateUser(ctx, p.ID)
	if upd.AvatarPath != nil {
		s.Images.ClearUserAvatars(ctx, p.ID)
	}
	return p, nil
}

// SignOut signs out and clears every cache, including the persisted mirror.
func (s *Services) SignOut(ctx context.Context) error {
	err := s.Auth.SignOut(ctx)
	s.DB.ClearCache()
	s.Images.ClearAll(ctx)
	if err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// SweepExpired drops expired entries from every cache.
func (s *Services) SweepExpired(ctx context.Context) {
	q := s.DB.Cache().PurgeExpired()
	i := s.Images.ClearExpired(ctx)
	s.logger.DebugContext(ctx, "expired entries swept", "query", q, "image", i)
}
