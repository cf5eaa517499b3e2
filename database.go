package reviewcache

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// DefaultPageSize is used when a review listing asks for no limit.
const DefaultPageSize = 10

// DatabaseService is the single entry point for table reads used by screens.
// Reads go through a QueryCache; writes go straight to Tables and then
// invalidate whatever they could have made stale.
type DatabaseService struct {
	tables Tables
	cache  *QueryCache
	cfg    Config
	logger *slog.Logger
}

// NewDatabaseService wires a DatabaseService. A nil opts uses DefaultConfig
// and a nil cache gets a fresh QueryCache using the user-data TTL.
func NewDatabaseService(tables Tables, cache *QueryCache, opts *Config, logger *slog.Logger) (*DatabaseService, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}
	_, logger, _ = withDefaults(nil, logger, nil)
	if cache == nil {
		cache = NewQueryCache(cfg.UserDataTTL, nil, logger, nil)
	}

	return &DatabaseService{tables: tables, cache: cache, cfg: cfg, logger: logger}, nil
}

// Cache exposes the underlying QueryCache for ad-hoc reads.
func (s *DatabaseService) Cache() *QueryCache { return s.cache }

func (s *DatabaseService) Profile(ctx context.Context, id uuid.UUID, opts ...FetchOption) (*Profile, error) {
	return Fetch(ctx, s.cache, ProfileKey(id), func(ctx context.Context) (*Profile, error) {
		return s.tables.ProfileByID(ctx, id)
	}, opts...)
}

// UpdateProfile writes through and then drops every entry that may embed the
// old profile.
func (s *DatabaseService) UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (*Profile, error) {
	p, err := s.tables.UpdateProfile(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	s.InvalidateUser(ctx, id)
	return p, nil
}

// Reviews returns a page of reviews. When q.Viewer is set, reviews by users
// the viewer blocked are excluded.
func (s *DatabaseService) Reviews(ctx context.Context, q ReviewsQuery, opts ...FetchOption) ([]Review, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	return Fetch(ctx, s.cache, ReviewsKey(q), func(ctx context.Context) ([]Review, error) {
		if q.Viewer != uuid.Nil {
			blocked, err := s.BlockedUserIDs(ctx, q.Viewer)
			if err != nil {
				return nil, err
			}
			q.ExcludeUserIDs = blocked
		}
		return s.tables.Reviews(ctx, q)
	}, opts...)
}

// Feed returns reviews written by the users viewer follows, newest first,
// excluding anyone viewer blocked.
func (s *DatabaseService) Feed(ctx context.Context, viewer uuid.UUID, offset, limit int, opts ...FetchOption) ([]Review, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	return Fetch(ctx, s.cache, FeedKey(viewer, offset, limit), func(ctx context.Context) ([]Review, error) {
		followed, err := s.FollowedUserIDs(ctx, viewer)
		if err != nil {
			return nil, err
		}
		if len(followed) == 0 {
			return []Review{}, nil
		}
		blocked, err := s.BlockedUserIDs(ctx, viewer)
		if err != nil {
			return nil, err
		}

		return s.tables.Reviews(ctx, ReviewsQuery{
			AuthorIDs:      followed,
			Viewer:         viewer,
			Offset:         offset,
			Limit:          limit,
			ExcludeUserIDs: blocked,
		})
	}, opts...)
}

func (s *DatabaseService) FollowedUserIDs(ctx context.Context, userID uuid.UUID, opts ...FetchOption) ([]uuid.UUID, error) {
	return Fetch(ctx, s.cache, FollowedKey(userID), func(ctx context.Context) ([]uuid.UUID, error) {
		return s.tables.FollowedIDs(ctx, userID)
	}, opts...)
}

func (s *DatabaseService) BlockedUserIDs(ctx context.Context, userID uuid.UUID, opts ...FetchOption) ([]uuid.UUID, error) {
	return Fetch(ctx, s.cache, BlockedKey(userID), func(ctx context.Context) ([]uuid.UUID, error) {
		return s.tables.BlockedIDs(ctx, userID)
	}, opts...)
}

// Categories returns a static reference list, cached under the static TTL.
func (s *DatabaseService) Categories(ctx context.Context, kind CategoryKind, opts ...FetchOption) ([]Category, error) {
	opts = append([]FetchOption{WithDuration(s.cfg.StaticTTL)}, opts...)
	return Fetch(ctx, s.cache, CategoriesKey(kind), func(ctx context.Context) ([]Category, error) {
		return s.tables.Categories(ctx, kind)
	}, opts...)
}

// Locations returns locations whose name matches nameFilter together with
// their review aggregates.
func (s *DatabaseService) Locations(ctx context.Context, nameFilter string, opts ...FetchOption) ([]LocationStats, error) {
	opts = append([]FetchOption{WithDuration(s.cfg.LocationsTTL)}, opts...)
	return Fetch(ctx, s.cache, LocationsKey(nameFilter), func(ctx context.Context) ([]LocationStats, error) {
		return s.tables.Locations(ctx, nameFilter)
	}, opts...)
}

func (s *DatabaseService) SearchProfiles(ctx context.Context, fragment string, opts ...FetchOption) ([]Profile, error) {
	return Fetch(ctx, s.cache, ProfileSearchKey(fragment), func(ctx context.Context) ([]Profile, error) {
		return s.tables.SearchProfiles(ctx, fragment)
	}, opts...)
}

func (s *DatabaseService) Comments(ctx context.Context, reviewID uuid.UUID, opts ...FetchOption) ([]Comment, error) {
	return Fetch(ctx, s.cache, CommentsKey(reviewID), func(ctx context.Context) ([]Comment, error) {
		return s.tables.Comments(ctx, reviewID)
	}, opts...)
}

func (s *DatabaseService) CreateReview(ctx context.Context, r NewReview) (*Review, error) {
	created, err := s.tables.CreateReview(ctx, r)
	if err != nil {
		return nil, err
	}
	s.InvalidateUser(ctx, r.UserID)
	return created, nil
}

// UpdateReview writes through and invalidates on behalf of the review's author.
func (s *DatabaseService) UpdateReview(ctx context.Context, id uuid.UUID, upd ReviewUpdate) (*Review, error) {
	updated, err := s.tables.UpdateReview(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	s.InvalidateUser(ctx, updated.UserID)
	return updated, nil
}

// CreateComment only invalidates the comment list of the review.
func (s *DatabaseService) CreateComment(ctx context.Context, c NewComment) (*Comment, error) {
	created, err := s.tables.CreateComment(ctx, c)
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateKey(CommentsKey(c.ReviewID))
	return created, nil
}

func (s *DatabaseService) DeleteComment(ctx context.Context, reviewID, commentID uuid.UUID) error {
	if err := s.tables.DeleteComment(ctx, commentID); err != nil {
		return err
	}
	s.cache.InvalidateKey(CommentsKey(reviewID))
	return nil
}

func (s *DatabaseService) CreateNotification(ctx context.Context, n Notification) error {
	return s.tables.InsertNotification(ctx, n)
}

func (s *DatabaseService) CreateReport(ctx context.Context, r Report) error {
	return s.tables.InsertReport(ctx, r)
}

func (s *DatabaseService) BlockUser(ctx context.Context, blocker, blocked uuid.UUID) error {
	if err := s.tables.Block(ctx, blocker, blocked); err != nil {
		return err
	}
	s.InvalidateUser(ctx, blocker)
	return nil
}

func (s *DatabaseService) FollowUser(ctx context.Context, follower, followed uuid.UUID) error {
	if err := s.tables.Follow(ctx, follower, followed); err != nil {
		return err
	}
	s.InvalidateUser(ctx, follower)
	return nil
}

func (s *DatabaseService) UnfollowUser(ctx context.Context, follower, followed uuid.UUID) error {
	if err := s.tables.Unfollow(ctx, follower, followed); err != nil {
		return err
	}
	s.InvalidateUser(ctx, follower)
	return nil
}

// FetchOrCreateLocation returns the id of the location identified by in,
// creating it when no existing record matches. A place id match wins over a
// name and address match; a name and address match gets the place id
// backfilled when it has none.
func (s *DatabaseService) FetchOrCreateLocation(ctx context.Context, in LocationInput) (uuid.UUID, error) {
	if in.PlaceID != "" {
		loc, err := s.tables.LocationByPlaceID(ctx, in.PlaceID)
		switch {
		case err == nil:
			return loc.ID, nil
		case !errors.Is(err, ErrNotFound):
			return uuid.Nil, err
		}
	}

	if in.Name != "" && in.Address != "" {
		loc, err := s.tables.LocationByNameAddress(ctx, in.Name, in.Address)
		switch {
		case err == nil:
			if in.PlaceID != "" && loc.PlaceID == "" {
				if err := s.tables.SetLocationPlaceID(ctx, loc.ID, in.PlaceID); err != nil {
					return uuid.Nil, err
				}
				s.cache.Invalidate(OfKind(KindLocations))
			}
			return loc.ID, nil
		case !errors.Is(err, ErrNotFound):
			return uuid.Nil, err
		}
	}

	loc, err := s.tables.InsertLocation(ctx, in)
	if err != nil {
		return uuid.Nil, err
	}
	s.cache.Invalidate(OfKind(KindLocations))
	s.logger.DebugContext(ctx, "location created", "id", loc.ID, "place_id", in.PlaceID)
	return loc.ID, nil
}

// InvalidateUser drops every query entry a change by or about the user may
// have made stale.
func (s *DatabaseService) InvalidateUser(ctx context.Context, id uuid.UUID) {
	n := s.cache.Invalidate(UserCascade(id))
	s.logger.DebugContext(ctx, "invalidated user entries", "user", id, "count", n)
}

// ClearCache drops every query entry, e.g. on sign-out.
func (s *DatabaseService) ClearCache() {
	s.cache.Clear()
}
