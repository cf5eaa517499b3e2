package pgdb

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	reviewcache "github.com/dgduncan/go-review-cache"
)

func (d *DB) FollowedIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	b := qb().Select("following_id").From("follows").Where(sq.Eq{"follower_id": userID})
	return collect(ctx, d, "FollowedIDs", b, scanID)
}

func (d *DB) Follow(ctx context.Context, follower, followed uuid.UUID) error {
	b := qb().Insert("follows").
		Columns("follower_id", "following_id").
		Values(follower, followed).
		Suffix("ON CONFLICT DO NOTHING")
	_, err := d.exec(ctx, "Follow", b)
	return err
}

func (d *DB) Unfollow(ctx context.Context, follower, followed uuid.UUID) error {
	b := qb().Delete("follows").Where(sq.Eq{"follower_id": follower, "following_id": followed})
	_, err := d.exec(ctx, "Unfollow", b)
	return err
}

func (d *DB) BlockedIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	b := qb().Select("blocked_id").From("blocked_users").Where(sq.Eq{"blocker_id": userID})
	return collect(ctx, d, "BlockedIDs", b, scanID)
}

func (d *DB) Block(ctx context.Context, blocker, blocked uuid.UUID) error {
	b := qb().Insert("blocked_users").
		Columns("blocker_id", "blocked_id").
		Values(blocker, blocked).
		Suffix("ON CONFLICT DO NOTHING")
	_, err := d.exec(ctx, "Block", b)
	return err
}

func (d *DB) InsertNotification(ctx context.Context, n reviewcache.Notification) error {
	b := qb().Insert("notifications").
		Columns("recipient_id", "actor_id", "type", "review_id", "message").
		Values(n.RecipientID, n.ActorID, string(n.Type), nullUUID(n.ReviewID), nullString(n.Message))
	_, err := d.exec(ctx, "InsertNotification", b)
	return err
}

func (d *DB) InsertReport(ctx context.Context, r reviewcache.Report) error {
	b := qb().Insert("reports").
		Columns("reporter_id", "review_id", "reported_user_id", "reason", "details").
		Values(r.ReporterID, nullUUID(r.ReviewID), nullUUID(r.ReportedUserID), r.Reason, nullString(r.Details))
	_, err := d.exec(ctx, "InsertReport", b)
	return err
}

func scanCategory(kind reviewcache.CategoryKind) func(pgx.Row) (reviewcache.Category, error) {
	return func(row pgx.Row) (reviewcache.Category, error) {
		c := reviewcache.Category{Kind: kind}
		err := row.Scan(&c.ID, &c.Name)
		return c, err
	}
}
