package storage

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rotisserie/eris"

	"olx-watcher/models"
	"olx-watcher/utils"
)

// PostgresStore persists listings in PostgreSQL. Each Reconcile call runs in
// one transaction, so a page is committed entirely or not at all.
type PostgresStore struct {
	db     *sql.DB
	now    func() time.Time
	logger *utils.Logger

	// Serialises writers within this process; the table's primary key
	// guards against other writers.
	writeMu sync.Mutex
}

// OpenPostgres connects to PostgreSQL, retrying while the server comes up,
// and runs schema migrations.
func OpenPostgres(ctx context.Context, dsn string, logger *utils.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}

	retry := &utils.RetryConfig{MaxAttempts: 5, BaseDelay: 2 * time.Second, Logger: logger}
	if err := retry.Do(ctx, "postgres-ping", func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	ps := NewPostgresStore(db, logger)
	if err := ps.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ps, nil
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db *sql.DB, logger *utils.Logger) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now, logger: logger}
}

// Migrate creates the listings table and indexes if missing.
func (ps *PostgresStore) Migrate(ctx context.Context) error {
	_, err := ps.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			id          TEXT        PRIMARY KEY,
			title       TEXT        NOT NULL,
			price       TEXT        NOT NULL DEFAULT '',
			location    TEXT        NOT NULL DEFAULT '',
			date        TEXT        NOT NULL DEFAULT '',
			link        TEXT        NOT NULL,
			image_url   TEXT,
			scraped_at  TIMESTAMPTZ NOT NULL,
			seen        BOOLEAN     NOT NULL DEFAULT FALSE
		);

		CREATE INDEX IF NOT EXISTS idx_listings_scraped_at ON listings(scraped_at DESC);
		CREATE INDEX IF NOT EXISTS idx_listings_unseen     ON listings(seen) WHERE NOT seen;
	`)
	if err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

const statsQuery = `SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT seen) FROM listings`

func (ps *PostgresStore) Reconcile(ctx context.Context, candidates []models.Listing) (models.ReconcileResult, error) {
	ps.writeMu.Lock()
	defer ps.writeMu.Unlock()

	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return models.ReconcileResult{}, eris.Wrap(err, "postgres: begin reconcile")
	}
	defer func() { _ = tx.Rollback() }()

	var res models.ReconcileResult
	now := ps.now().UTC()

	// Existing rows are never updated: a conflict means the id is known.
	for _, c := range candidates {
		if c.ID == "" {
			continue
		}
		r, err := tx.ExecContext(ctx, `
			INSERT INTO listings (id, title, price, location, date, link, image_url, scraped_at, seen)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)
			ON CONFLICT (id) DO NOTHING
		`, c.ID, c.Title, c.Price, c.Location, c.Date, c.Link, nullString(c.ImageURL), now)
		if err != nil {
			return models.ReconcileResult{}, eris.Wrapf(err, "postgres: insert %s", c.ID)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return models.ReconcileResult{}, eris.Wrap(err, "postgres: rows affected")
		}
		if n > 0 {
			res.NewlyAdded++
		} else {
			res.Duplicates++
		}
	}

	if err := tx.QueryRowContext(ctx, statsQuery).Scan(&res.Total, &res.Unseen); err != nil {
		return models.ReconcileResult{}, eris.Wrap(err, "postgres: count after reconcile")
	}

	if err := tx.Commit(); err != nil {
		return models.ReconcileResult{}, eris.Wrap(err, "postgres: commit reconcile")
	}
	return res, nil
}

func (ps *PostgresStore) MarkSeen(ctx context.Context, ids []string) (int, error) {
	ids = utils.Unique(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	ps.writeMu.Lock()
	defer ps.writeMu.Unlock()

	// Matching rows are rewritten even if already seen, so the count is the
	// number of known ids; seen never goes back to false here.
	r, err := ps.db.ExecContext(ctx, `UPDATE listings SET seen = TRUE WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: mark seen")
	}
	n, err := r.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "postgres: rows affected")
	}
	return int(n), nil
}

func (ps *PostgresStore) List(ctx context.Context, filter models.ListFilter) ([]models.Listing, error) {
	query := `
		SELECT id, title, price, location, date, link, image_url, scraped_at, seen
		FROM listings`
	if !filter.IncludeSeen {
		query += ` WHERE NOT seen`
	}
	query += ` ORDER BY scraped_at DESC, id`

	rows, err := ps.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list")
	}
	defer rows.Close()

	listings := make([]models.Listing, 0)
	for rows.Next() {
		var l models.Listing
		var image sql.NullString
		if err := rows.Scan(
			&l.ID, &l.Title, &l.Price, &l.Location, &l.Date,
			&l.Link, &image, &l.ScrapedAt, &l.Seen,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan row")
		}
		if image.Valid {
			s := image.String
			l.ImageURL = &s
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate rows")
	}
	return listings, nil
}

func (ps *PostgresStore) Stats(ctx context.Context) (models.Stats, error) {
	var st models.Stats
	if err := ps.db.QueryRowContext(ctx, statsQuery).Scan(&st.Total, &st.Unseen); err != nil {
		return models.Stats{}, eris.Wrap(err, "postgres: stats")
	}
	return st, nil
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
