package pgdb

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	reviewcache "github.com/dgduncan/go-review-cache"
)

var reviewColumns = []string{
	"r.id", "r.user_id", "r.location_id", "r.category_id", "r.cocktail_name", "r.rating",
	"COALESCE(r.body, '')", "COALESCE(r.image_url, '')", "r.created_at", "r.updated_at",
	"p.id", "p.username", "COALESCE(p.avatar_url, '')",
	"l.id", "l.name", "l.address", "COALESCE(l.place_id, '')", "l.latitude", "l.longitude", "l.created_at",
}

func scanReview(row pgx.Row) (reviewcache.Review, error) {
	var (
		r   reviewcache.Review
		a   reviewcache.ProfileSummary
		loc reviewcache.Location
	)
	err := row.Scan(
		&r.ID, &r.UserID, &r.LocationID, &r.CategoryID, &r.CocktailName, &r.Rating,
		&r.Body, &r.ImagePath, &r.CreatedAt, &r.UpdatedAt,
		&a.ID, &a.Username, &a.AvatarPath,
		&loc.ID, &loc.Name, &loc.Address, &loc.PlaceID, &loc.Latitude, &loc.Longitude, &loc.CreatedAt,
	)
	r.Author = &a
	r.Location = &loc
	return r, err
}

func selectReviews() sq.SelectBuilder {
	return qb().Select(reviewColumns...).
		From("reviews r").
		Join("profiles p ON p.id = r.user_id").
		Join("locations l ON l.id = r.location_id").
		Where(sq.Eq{"p.deleted_at": nil})
}

func reviewsQuery(q reviewcache.ReviewsQuery) sq.SelectBuilder {
	b := selectReviews()
	if q.UserID != uuid.Nil {
		b = b.Where(sq.Eq{"r.user_id": q.UserID})
	}
	if q.LocationID != uuid.Nil {
		b = b.Where(sq.Eq{"r.location_id": q.LocationID})
	}
	if len(q.AuthorIDs) > 0 {
		b = b.Where(sq.Eq{"r.user_id": q.AuthorIDs})
	}
	if len(q.ExcludeUserIDs) > 0 {
		b = b.Where(sq.NotEq{"r.user_id": q.ExcludeUserIDs})
	}
	b = b.OrderBy("r.created_at DESC")
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}
	if q.Offset > 0 {
		b = b.Offset(uint64(q.Offset))
	}
	return b
}

// Reviews returns a page of reviews, newest first, with author and location attached.
func (d *DB) Reviews(ctx context.Context, q reviewcache.ReviewsQuery) ([]reviewcache.Review, error) {
	return collect(ctx, d, "Reviews", reviewsQuery(q), scanReview)
}

func (d *DB) reviewByID(ctx context.Context, id uuid.UUID) (*reviewcache.Review, error) {
	return one(ctx, d, "ReviewByID", selectReviews().Where(sq.Eq{"r.id": id}), scanReview)
}

func scanID(row pgx.Row) (uuid.UUID, error) {
	var id uuid.UUID
	err := row.Scan(&id)
	return id, err
}

func (d *DB) CreateReview(ctx context.Context, in reviewcache.NewReview) (*reviewcache.Review, error) {
	b := qb().Insert("reviews").
		Columns("user_id", "location_id", "category_id", "cocktail_name", "rating", "body", "image_url").
		Values(in.UserID, in.LocationID, in.CategoryID, in.CocktailName, in.Rating, nullString(in.Body), nullString(in.ImagePath)).
		Suffix("RETURNING id")
	id, err := one(ctx, d, "CreateReview", b, scanID)
	if err != nil {
		return nil, err
	}
	return d.reviewByID(ctx, *id)
}

func (d *DB) UpdateReview(ctx context.Context, id uuid.UUID, upd reviewcache.ReviewUpdate) (*reviewcache.Review, error) {
	set := map[string]any{}
	if upd.CategoryID != nil {
		set["category_id"] = *upd.CategoryID
	}
	if upd.CocktailName != nil {
		set["cocktail_name"] = *upd.CocktailName
	}
	if upd.Rating != nil {
		set["rating"] = *upd.Rating
	}
	if upd.Body != nil {
		set["body"] = nullString(*upd.Body)
	}
	if upd.ImagePath != nil {
		set["image_url"] = nullString(*upd.ImagePath)
	}
	if len(set) > 0 {
		b := qb().Update("reviews").
			SetMap(set).
			Set("updated_at", sq.Expr("NOW()")).
			Where(sq.Eq{"id": id}).
			Suffix("RETURNING id")
		if _, err := one(ctx, d, "UpdateReview", b, scanID); err != nil {
			return nil, err
		}
	}
	return d.reviewByID(ctx, id)
}
