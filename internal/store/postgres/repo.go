// Package postgres implements the canonical store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"regimport/internal/store"
)

func init() {
	store.Register("postgres", New)
}

// Repo implements store.Repository for PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg store.Config) (store.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS interpreters (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT,
  phone_home TEXT,
  phone_business TEXT,
  phone_mobile TEXT,
  certification TEXT,
  languages TEXT,
  notes TEXT,
  registered BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interpreters_name ON interpreters (name);
CREATE INDEX IF NOT EXISTS idx_interpreters_email ON interpreters (lower(email));
`
	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// rower covers pgxpool.Pool and pgx.Tx.
type rower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (interface{ RowsAffected() int64 }, error)
}

// pgx pools and transactions return concrete command tags, so wrap them to
// meet rower.
type poolRower struct{ pool *pgxpool.Pool }

func (p poolRower) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

func (p poolRower) Exec(ctx context.Context, sql string, args ...any) (interface{ RowsAffected() int64 }, error) {
	tag, err := p.pool.Exec(ctx, sql, args...)
	return tag, err
}

type txRower struct{ tx pgx.Tx }

func (t txRower) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t txRower) Exec(ctx context.Context, sql string, args ...any) (interface{ RowsAffected() int64 }, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	return tag, err
}

const columnList = `id, name, email, phone_home, phone_business, phone_mobile,
  certification, languages, notes, registered, created_at, updated_at`

func (r *Repo) FindByName(ctx context.Context, name string) (*store.Interpreter, error) {
	return findOne(ctx, poolRower{r.pool},
		`SELECT `+columnList+` FROM interpreters WHERE name = $1 LIMIT 1`, name)
}

func (r *Repo) FindByEmail(ctx context.Context, email string) (*store.Interpreter, error) {
	return findOne(ctx, poolRower{r.pool},
		`SELECT `+columnList+` FROM interpreters WHERE lower(email) = lower($1) LIMIT 1`, email)
}

func (r *Repo) Insert(ctx context.Context, it *store.Interpreter) error {
	return insert(ctx, poolRower{r.pool}, it)
}

func (r *Repo) Update(ctx context.Context, it *store.Interpreter) error {
	return update(ctx, poolRower{r.pool}, it)
}

func (r *Repo) InBatch(ctx context.Context, fn func(tx store.Tx) error) error {
	pgTx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin batch: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := fn(&batchTx{tx: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit batch: %w", err)
	}
	return nil
}

type batchTx struct {
	tx pgx.Tx
}

// inSavepoint runs op inside a nested transaction (pgx issues SAVEPOINT /
// RELEASE for Begin on a Tx). PostgreSQL aborts the whole transaction on any
// errored statement; without the savepoint one failed record would poison
// every later statement in the batch and the eventual commit.
func (b *batchTx) inSavepoint(ctx context.Context, op func(q rower) error) error {
	nested, err := b.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: savepoint: %w", err)
	}
	if err := op(txRower{nested}); err != nil {
		_ = nested.Rollback(ctx)
		return err
	}
	if err := nested.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: release savepoint: %w", err)
	}
	return nil
}

func (b *batchTx) FindByName(ctx context.Context, name string) (*store.Interpreter, error) {
	var it *store.Interpreter
	err := b.inSavepoint(ctx, func(q rower) error {
		var err error
		it, err = findOne(ctx, q,
			`SELECT `+columnList+` FROM interpreters WHERE name = $1 LIMIT 1`, name)
		return err
	})
	return it, err
}

func (b *batchTx) FindByEmail(ctx context.Context, email string) (*store.Interpreter, error) {
	var it *store.Interpreter
	err := b.inSavepoint(ctx, func(q rower) error {
		var err error
		it, err = findOne(ctx, q,
			`SELECT `+columnList+` FROM interpreters WHERE lower(email) = lower($1) LIMIT 1`, email)
		return err
	})
	return it, err
}

func (b *batchTx) Insert(ctx context.Context, it *store.Interpreter) error {
	return b.inSavepoint(ctx, func(q rower) error { return insert(ctx, q, it) })
}

func (b *batchTx) Update(ctx context.Context, it *store.Interpreter) error {
	return b.inSavepoint(ctx, func(q rower) error { return update(ctx, q, it) })
}

func findOne(ctx context.Context, q rower, query string, arg any) (*store.Interpreter, error) {
	var (
		it store.Interpreter
		id string
	)
	err := q.QueryRow(ctx, query, arg).Scan(
		&id, &it.Name, &it.Email, &it.PhoneHome, &it.PhoneBusiness, &it.PhoneMobile,
		&it.Certification, &it.Languages, &it.Notes, &it.Registered, &it.CreatedAt, &it.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find interpreter: %w", err)
	}
	if it.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("postgres: interpreter id %q: %w", id, err)
	}
	return &it, nil
}

func insert(ctx context.Context, q rower, it *store.Interpreter) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	now := time.Now().UTC()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	it.UpdatedAt = now

	_, err := q.Exec(ctx, `
INSERT INTO interpreters (`+columnList+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		it.ID.String(), it.Name, it.Email, it.PhoneHome, it.PhoneBusiness, it.PhoneMobile,
		it.Certification, it.Languages, it.Notes, it.Registered, it.CreatedAt, it.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert interpreter: %w", err)
	}
	return nil
}

func update(ctx context.Context, q rower, it *store.Interpreter) error {
	it.UpdatedAt = time.Now().UTC()
	tag, err := q.Exec(ctx, `
UPDATE interpreters SET
  name = $1, email = $2, phone_home = $3, phone_business = $4, phone_mobile = $5,
  certification = $6, languages = $7, notes = $8, registered = $9, updated_at = $10
WHERE id = $11`,
		it.Name, it.Email, it.PhoneHome, it.PhoneBusiness, it.PhoneMobile,
		it.Certification, it.Languages, it.Notes, it.Registered, it.UpdatedAt, it.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: update interpreter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update interpreter %s: no such row", it.ID)
	}
	return nil
}
