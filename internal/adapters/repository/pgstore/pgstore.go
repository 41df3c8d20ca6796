// Package pgstore keeps items in PostgreSQL. The rating lives in the
// custom_fields JSONB column under eloRating, so writes touch nothing else.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/okian/duel/internal/adapters/repository"
	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/pkg/metrics"
	"github.com/okian/duel/pkg/tracing"
)

const backend = "postgres"

// Store implements repository.Store, repository.Leaderboard and
// repository.Seeder on PostgreSQL.
type Store struct {
	db            *sql.DB
	table         string
	defaultRating float64
}

// New wraps an open database handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, table: "duel_items", defaultRating: model.DefaultRating}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping: %v", repository.ErrStoreUnavailable, err)
	}
	return New(db, opts...), nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) tbl() string { return pq.QuoteIdentifier(s.table) }

// Migrate creates the items table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL DEFAULT '',
			image_path    TEXT NOT NULL DEFAULT '',
			custom_fields JSONB NOT NULL DEFAULT '{}'::jsonb
		)`, s.tbl())
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("%w: migrate: %v", repository.ErrStoreUnavailable, err)
	}
	return nil
}

func observe(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, end := tracing.StartStoreSpan(ctx, backend, op)
	return ctx, func(err error) {
		metrics.RecordStoreOp(backend, op, start, err)
		end(err)
	}
}

// ratingExpr reads eloRating, falling back to the default for absent values.
func (s *Store) ratingExpr() string {
	return fmt.Sprintf("COALESCE((custom_fields->>'eloRating')::float8, %v)", s.defaultRating)
}

// Put implements repository.Seeder. An existing row keeps its custom_fields.
func (s *Store) Put(ctx context.Context, item model.Item) (err error) {
	ctx, done := observe(ctx, "put")
	defer func() { done(err) }()

	if item.ID == "" {
		return fmt.Errorf("%w: empty id", repository.ErrInvalidItem)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, image_path, custom_fields)
		VALUES ($1, $2, $3, jsonb_build_object('eloRating', $4::float8))
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, image_path = EXCLUDED.image_path`, s.tbl())
	if _, err := s.db.ExecContext(ctx, query, item.ID, item.Name, item.ImagePath, item.Rating); err != nil {
		return fmt.Errorf("%w: put %s: %v", repository.ErrWriteFailed, item.ID, err)
	}
	return nil
}

// List implements repository.Store. Rows come back in id order.
func (s *Store) List(ctx context.Context, limit int) (items []model.Item, err error) {
	ctx, done := observe(ctx, "list")
	defer func() { done(err) }()

	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	query := fmt.Sprintf(`SELECT id, name, image_path, %s FROM %s ORDER BY id LIMIT $1`, s.ratingExpr(), s.tbl())
	rows, err := s.db.QueryContext(ctx, query, lim)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	items = []model.Item{}
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.ImagePath, &it.Rating); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", repository.ErrStoreUnavailable, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	return items, nil
}

// Get implements repository.Store.
func (s *Store) Get(ctx context.Context, id string) (item model.Item, err error) {
	ctx, done := observe(ctx, "get")
	defer func() { done(err) }()

	query := fmt.Sprintf(`SELECT id, name, image_path, %s FROM %s WHERE id = $1`, s.ratingExpr(), s.tbl())
	err = s.db.QueryRowContext(ctx, query, id).Scan(&item.ID, &item.Name, &item.ImagePath, &item.Rating)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Item{}, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return model.Item{}, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	return item, nil
}

// Write implements repository.Store with a partial JSONB update.
func (s *Store) Write(ctx context.Context, id string, rating float64) (err error) {
	ctx, done := observe(ctx, "write")
	defer func() { done(err) }()

	query := fmt.Sprintf(`
		UPDATE %s SET custom_fields = jsonb_set(custom_fields, '{eloRating}', to_jsonb($2::float8))
		WHERE id = $1`, s.tbl())
	res, err := s.db.ExecContext(ctx, query, id, rating)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", repository.ErrWriteFailed, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", repository.ErrWriteFailed, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	return nil
}

// TopN implements repository.Leaderboard.
func (s *Store) TopN(ctx context.Context, n int) (out []repository.Entry, err error) {
	ctx, done := observe(ctx, "top_n")
	defer func() { done(err) }()

	if n < 1 {
		return nil, repository.ErrInvalidLimit
	}
	query := fmt.Sprintf(`
		SELECT id, name, image_path, r,
		       RANK() OVER (ORDER BY r DESC)
		FROM (SELECT id, name, image_path, %s AS r FROM %s) t
		ORDER BY r DESC, id ASC
		LIMIT $1`, s.ratingExpr(), s.tbl())
	rows, err := s.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out = []repository.Entry{}
	for rows.Next() {
		var e repository.Entry
		if err := rows.Scan(&e.Item.ID, &e.Item.Name, &e.Item.ImagePath, &e.Item.Rating, &e.Rank); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", repository.ErrStoreUnavailable, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	return out, nil
}

// Rank implements repository.Leaderboard.
func (s *Store) Rank(ctx context.Context, id string) (e repository.Entry, err error) {
	ctx, done := observe(ctx, "rank")
	defer func() { done(err) }()

	item, err := s.Get(ctx, id)
	if err != nil {
		return repository.Entry{}, err
	}
	var above int
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s > $1`, s.tbl(), s.ratingExpr())
	if err := s.db.QueryRowContext(ctx, query, item.Rating).Scan(&above); err != nil {
		return repository.Entry{}, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	return repository.Entry{Rank: above + 1, Item: item}, nil
}

// Count implements repository.Leaderboard.
func (s *Store) Count(ctx context.Context) (n int, err error) {
	ctx, done := observe(ctx, "count")
	defer func() { done(err) }()

	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.tbl())).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	return n, nil
}
