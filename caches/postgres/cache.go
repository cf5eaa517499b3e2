package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/lib/pq"

	reviewcache "github.com/dgduncan/go-review-cache"
	"github.com/dgduncan/go-review-cache/caches"
)

var (
	// ErrPingFailed is returned if the initial ping to the database returns an error
	ErrPingFailed = errors.New("ping returned error")
)

var (
	//go:embed create_table.sql
	queryCreateTable string
	//go:embed delete_expired.sql
	queryDeleteExpired string
	//go:embed get_item.sql
	queryGetItem string
	//go:embed set_item.sql
	querySetItem string
	//go:embed remove_item.sql
	queryRemoveItem string
	//go:embed multi_remove.sql
	queryMultiRemove string
	//go:embed all_keys.sql
	queryAllKeys string
)

// Config defines the configuration options for the PostgreSQL store implementation.
type Config struct {
	// DeleteExpiredItems enables automatic cleanup of expired rows
	// through a background task.
	DeleteExpiredItems bool

	// ExpiredTaskTimer defines the interval at which the cleanup task runs.
	// Shorter durations may impact database performance.
	ExpiredTaskTimer time.Duration

	// ItemExpiration defines how long rows remain in the table.
	// This is separate from the expiry recorded inside each mirrored entry.
	ItemExpiration time.Duration

	Logger *slog.Logger
}

// Store implements reviewcache.Store using PostgreSQL as the storage backend.
type Store struct {
	db *sql.DB

	expiration time.Duration
	now        func() time.Time
}

var _ reviewcache.Store = (*Store)(nil)

// GetItem retrieves the value stored under k.
// Returns caches.ErrNoCacheItem if the row doesn't exist or has expired.
func (p *Store) GetItem(ctx context.Context, k string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx, queryGetItem, k, p.now().UTC()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, caches.ErrNoCacheItem
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// SetItem upserts v under k.
func (p *Store) SetItem(ctx context.Context, k string, v []byte) error {
	now := p.now().UTC()
	_, err := p.db.ExecContext(ctx, querySetItem, k, v, now, now.Add(p.expiration))
	return err
}

func (p *Store) RemoveItem(ctx context.Context, k string) error {
	_, err := p.db.ExecContext(ctx, queryRemoveItem, k)
	return err
}

func (p *Store) MultiRemove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := p.db.ExecContext(ctx, queryMultiRemove, pq.Array(keys))
	return err
}

func (p *Store) GetAllKeys(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, queryAllKeys, p.now().UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func createTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, queryCreateTable)
	return err
}

func deleteExpiredItems(ctx context.Context, db *sql.DB, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, queryDeleteExpired, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func expiredTask(ctx context.Context, db *sql.DB, interval time.Duration, logger *slog.Logger) {
	t := time.NewTimer(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("expired task stopped")
			return
		case <-t.C:
			n, err := deleteExpiredItems(ctx, db, time.Now().UTC())
			if err != nil {
				logger.Warn("deleting expired rows", "error", err)
			} else if n > 0 {
				logger.Debug("deleted expired rows", "count", n)
			}
			_ = t.Reset(interval)
		}
	}
}

// New creates a new PostgreSQL store with the provided configuration.
// It verifies the database connection, creates the table, and
// optionally starts the cleanup task for expired rows, which runs until ctx is done.
func New(ctx context.Context, db *sql.DB, config *Config) (*Store, error) {
	if db == nil {
		return nil, caches.ValidationError{Reason: "nil database"}
	}
	if config == nil {
		config = &Config{}
	}

	expiration := config.ItemExpiration
	if expiration == 0 {
		expiration = caches.DefaultExpiredDuration
	}
	if expiration < 0 {
		return nil, caches.ValidationError{Reason: "negative item expiration"}
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(ErrPingFailed, err)
	}

	if err := createTable(ctx, db); err != nil {
		return nil, err
	}

	if config.DeleteExpiredItems {
		interval := config.ExpiredTaskTimer
		if interval <= 0 {
			interval = caches.DefaultExpiredTaskTimer
		}
		logger := config.Logger
		if logger == nil {
			logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		}
		go expiredTask(ctx, db, interval, logger)
	}

	return &Store{
		db: db,

		expiration: expiration,
		now:        time.Now,
	}, nil
}
