package pgdb

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	reviewcache "github.com/dgduncan/go-review-cache"
)

var categoryTables = map[reviewcache.CategoryKind]string{
	reviewcache.CategoryCocktail: "cocktail_categories",
	reviewcache.CategoryVenue:    "venue_categories",
}

func (d *DB) Categories(ctx context.Context, kind reviewcache.CategoryKind) ([]reviewcache.Category, error) {
	table, ok := categoryTables[kind]
	if !ok {
		return nil, fmt.Errorf("Categories: unknown kind %q", kind)
	}
	b := qb().Select("id", "name").From(table).OrderBy("name")
	return collect(ctx, d, "Categories", b, scanCategory(kind))
}

var locationColumns = []string{
	"l.id", "l.name", "l.address", "COALESCE(l.place_id, '')", "l.latitude", "l.longitude", "l.created_at",
}

func scanLocation(row pgx.Row) (reviewcache.Location, error) {
	var l reviewcache.Location
	err := row.Scan(&l.ID, &l.Name, &l.Address, &l.PlaceID, &l.Latitude, &l.Longitude, &l.CreatedAt)
	return l, err
}

func scanLocationStats(row pgx.Row) (reviewcache.LocationStats, error) {
	var s reviewcache.LocationStats
	err := row.Scan(
		&s.ID, &s.Name, &s.Address, &s.PlaceID, &s.Latitude, &s.Longitude, &s.CreatedAt,
		&s.ReviewCount, &s.AverageRating,
	)
	return s, err
}

func selectLocations() sq.SelectBuilder {
	return qb().Select(locationColumns...).From("locations l")
}

func locationsQuery(nameFilter string) sq.SelectBuilder {
	cols := append(append([]string{}, locationColumns...), "COUNT(r.id)", "COALESCE(AVG(r.rating), 0)")
	b := qb().Select(cols...).
		From("locations l").
		LeftJoin("reviews r ON r.location_id = l.id")
	if nameFilter != "" {
		b = b.Where(sq.ILike{"l.name": "%" + escapeLike(nameFilter) + "%"})
	}
	return b.GroupBy("l.id").OrderBy("l.name")
}

// Locations lists venues with review aggregates, optionally filtered by name.
func (d *DB) Locations(ctx context.Context, nameFilter string) ([]reviewcache.LocationStats, error) {
	return collect(ctx, d, "Locations", locationsQuery(nameFilter), scanLocationStats)
}

func (d *DB) LocationByPlaceID(ctx context.Context, placeID string) (*reviewcache.Location, error) {
	b := selectLocations().Where(sq.Eq{"l.place_id": placeID}).Limit(1)
	return one(ctx, d, "LocationByPlaceID", b, scanLocation)
}

func (d *DB) LocationByNameAddress(ctx context.Context, name, address string) (*reviewcache.Location, error) {
	b := selectLocations().Where(sq.Eq{"l.name": name, "l.address": address}).Limit(1)
	return one(ctx, d, "LocationByNameAddress", b, scanLocation)
}

func (d *DB) SetLocationPlaceID(ctx context.Context, id uuid.UUID, placeID string) error {
	b := qb().Update("locations").Set("place_id", placeID).Where(sq.Eq{"id": id})
	tag, err := d.exec(ctx, "SetLocationPlaceID", b)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("SetLocationPlaceID: %w", reviewcache.ErrNotFound)
	}
	return nil
}

func (d *DB) InsertLocation(ctx context.Context, in reviewcache.LocationInput) (*reviewcache.Location, error) {
	returning := strings.ReplaceAll(strings.Join(locationColumns, ", "), "l.", "")
	b := qb().Insert("locations").
		Columns("name", "address", "place_id", "latitude", "longitude").
		Values(in.Name, in.Address, nullString(in.PlaceID), in.Latitude, in.Longitude).
		Suffix("RETURNING " + returning)
	return one(ctx, d, "InsertLocation", b, scanLocation)
}
