package pgdb

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	reviewcache "github.com/dgduncan/go-review-cache"
)

func scanComment(row pgx.Row) (reviewcache.Comment, error) {
	var (
		c reviewcache.Comment
		a reviewcache.ProfileSummary
	)
	err := row.Scan(&c.ID, &c.ReviewID, &c.UserID, &c.Body, &c.CreatedAt, &a.ID, &a.Username, &a.AvatarPath)
	c.Author = &a
	return c, err
}

// Comments returns a review's comments, oldest first.
func (d *DB) Comments(ctx context.Context, reviewID uuid.UUID) ([]reviewcache.Comment, error) {
	b := qb().Select(
		"c.id", "c.review_id", "c.user_id", "c.body", "c.created_at",
		"p.id", "p.username", "COALESCE(p.avatar_url, '')",
	).
		From("comments c").
		Join("profiles p ON p.id = c.user_id").
		Where(sq.Eq{"c.review_id": reviewID}).
		OrderBy("c.created_at ASC")
	return collect(ctx, d, "Comments", b, scanComment)
}

func (d *DB) CreateComment(ctx context.Context, in reviewcache.NewComment) (*reviewcache.Comment, error) {
	b := qb().Insert("comments").
		Columns("review_id", "user_id", "body").
		Values(in.ReviewID, in.UserID, in.Body).
		Suffix("RETURNING id, review_id, user_id, body, created_at")
	return one(ctx, d, "CreateComment", b, func(row pgx.Row) (reviewcache.Comment, error) {
		var c reviewcache.Comment
		err := row.Scan(&c.ID, &c.ReviewID, &c.UserID, &c.Body, &c.CreatedAt)
		return c, err
	})
}

func (d *DB) DeleteComment(ctx context.Context, id uuid.UUID) error {
	tag, err := d.exec(ctx, "DeleteComment", qb().Delete("comments").Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("DeleteComment: %w", reviewcache.ErrNotFound)
	}
	return nil
}
