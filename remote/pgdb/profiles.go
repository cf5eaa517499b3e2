package pgdb

import (
	"context"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	reviewcache "github.com/dgduncan/go-review-cache"
)

// searchLimit caps SearchProfiles results.
const searchLimit = 20

var profileColumns = []string{
	"p.id", "p.username", "COALESCE(p.full_name, '')", "COALESCE(p.bio, '')",
	"COALESCE(p.avatar_url, '')", "p.created_at", "p.updated_at", "p.deleted_at",
}

func scanProfile(row pgx.Row) (reviewcache.Profile, error) {
	var p reviewcache.Profile
	err := row.Scan(&p.ID, &p.Username, &p.FullName, &p.Bio, &p.AvatarPath, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	return p, err
}

func selectProfiles() sq.SelectBuilder {
	return qb().Select(profileColumns...).From("profiles p")
}

func (d *DB) ProfileByID(ctx context.Context, id uuid.UUID) (*reviewcache.Profile, error) {
	return one(ctx, d, "ProfileByID", selectProfiles().Where(sq.Eq{"p.id": id}), scanProfile)
}

// ActiveProfileByID is ProfileByID restricted to profiles that are not soft-deleted.
func (d *DB) ActiveProfileByID(ctx context.Context, id uuid.UUID) (*reviewcache.Profile, error) {
	b := selectProfiles().Where(sq.Eq{"p.id": id, "p.deleted_at": nil})
	return one(ctx, d, "ActiveProfileByID", b, scanProfile)
}

func profileUpdateMap(upd reviewcache.ProfileUpdate) map[string]any {
	set := map[string]any{}
	if upd.Username != nil {
		set["username"] = *upd.Username
	}
	if upd.FullName != nil {
		set["full_name"] = *upd.FullName
	}
	if upd.Bio != nil {
		set["bio"] = *upd.Bio
	}
	if upd.AvatarPath != nil {
		set["avatar_url"] = nullString(*upd.AvatarPath)
	}
	return set
}

func (d *DB) UpdateProfile(ctx context.Context, id uuid.UUID, upd reviewcache.ProfileUpdate) (*reviewcache.Profile, error) {
	set := profileUpdateMap(upd)
	if len(set) == 0 {
		return d.ProfileByID(ctx, id)
	}
	b := qb().Update("profiles p").
		SetMap(set).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"p.id": id}).
		Suffix("RETURNING " + strings.Join(profileColumns, ", "))
	return one(ctx, d, "UpdateProfile", b, scanProfile)
}

// SearchProfiles matches fragment case-insensitively against username and full name.
func (d *DB) SearchProfiles(ctx context.Context, fragment string) ([]reviewcache.Profile, error) {
	pattern := "%" + escapeLike(fragment) + "%"
	b := selectProfiles().
		Where(sq.Eq{"p.deleted_at": nil}).
		Where(sq.Or{sq.ILike{"p.username": pattern}, sq.ILike{"p.full_name": pattern}}).
		OrderBy("p.username").
		Limit(searchLimit)
	return collect(ctx, d, "SearchProfiles", b, scanProfile)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
