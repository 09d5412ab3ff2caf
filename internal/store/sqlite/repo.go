// Package sqlite implements the canonical store on an embedded sqlite
// database.
//
// Timestamps are stored as RFC3339Nano strings: modernc.org/sqlite gives
// TEXT affinity to TIMESTAMPTZ-ish declarations anyway, and explicit strings
// round-trip reliably and stay debuggable.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"regimport/internal/store"
)

func init() {
	store.Register("sqlite", New)
}

// Repo implements store.Repository for sqlite.
type Repo struct {
	db *sql.DB
}

func New(ctx context.Context, cfg store.Config) (store.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

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
  registered INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interpreters_name ON interpreters (name);
CREATE INDEX IF NOT EXISTS idx_interpreters_email ON interpreters (lower(email));
`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlite: ensure schema: %w", err)
	}
	return nil
}

// querier abstracts *sql.DB and *sql.Tx so the same statement helpers serve
// both autocommit and batch paths.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const columnList = `id, name, email, phone_home, phone_business, phone_mobile,
  certification, languages, notes, registered, created_at, updated_at`

func (r *Repo) FindByName(ctx context.Context, name string) (*store.Interpreter, error) {
	return findOne(ctx, r.db, `SELECT `+columnList+` FROM interpreters WHERE name = ? LIMIT 1`, name)
}

func (r *Repo) FindByEmail(ctx context.Context, email string) (*store.Interpreter, error) {
	return findOne(ctx, r.db, `SELECT `+columnList+` FROM interpreters WHERE lower(email) = lower(?) LIMIT 1`, email)
}

func (r *Repo) Insert(ctx context.Context, it *store.Interpreter) error {
	return insert(ctx, r.db, it)
}

func (r *Repo) Update(ctx context.Context, it *store.Interpreter) error {
	return update(ctx, r.db, it)
}

func (r *Repo) InBatch(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin batch: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&batchTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit batch: %w", err)
	}
	return nil
}

type batchTx struct {
	tx *sql.Tx
}

func (b *batchTx) FindByName(ctx context.Context, name string) (*store.Interpreter, error) {
	return findOne(ctx, b.tx, `SELECT `+columnList+` FROM interpreters WHERE name = ? LIMIT 1`, name)
}

func (b *batchTx) FindByEmail(ctx context.Context, email string) (*store.Interpreter, error) {
	return findOne(ctx, b.tx, `SELECT `+columnList+` FROM interpreters WHERE lower(email) = lower(?) LIMIT 1`, email)
}

func (b *batchTx) Insert(ctx context.Context, it *store.Interpreter) error {
	return insert(ctx, b.tx, it)
}

func (b *batchTx) Update(ctx context.Context, it *store.Interpreter) error {
	return update(ctx, b.tx, it)
}

func findOne(ctx context.Context, q querier, query string, arg any) (*store.Interpreter, error) {
	var (
		it         store.Interpreter
		id         string
		created    string
		updated    string
		registered int64
	)
	err := q.QueryRowContext(ctx, query, arg).Scan(
		&id, &it.Name, &it.Email, &it.PhoneHome, &it.PhoneBusiness, &it.PhoneMobile,
		&it.Certification, &it.Languages, &it.Notes, &registered, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find interpreter: %w", err)
	}

	it.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: interpreter id %q: %w", id, err)
	}
	it.Registered = registered != 0
	if it.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("sqlite: created_at: %w", err)
	}
	if it.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("sqlite: updated_at: %w", err)
	}
	return &it, nil
}

func insert(ctx context.Context, q querier, it *store.Interpreter) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	now := time.Now().UTC()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	it.UpdatedAt = now

	_, err := q.ExecContext(ctx, `
INSERT INTO interpreters (`+columnList+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID.String(), it.Name, it.Email, it.PhoneHome, it.PhoneBusiness, it.PhoneMobile,
		it.Certification, it.Languages, it.Notes, boolInt(it.Registered),
		formatTime(it.CreatedAt), formatTime(it.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert interpreter: %w", err)
	}
	return nil
}

func update(ctx context.Context, q querier, it *store.Interpreter) error {
	it.UpdatedAt = time.Now().UTC()
	res, err := q.ExecContext(ctx, `
UPDATE interpreters SET
  name = ?, email = ?, phone_home = ?, phone_business = ?, phone_mobile = ?,
  certification = ?, languages = ?, notes = ?, registered = ?, updated_at = ?
WHERE id = ?`,
		it.Name, it.Email, it.PhoneHome, it.PhoneBusiness, it.PhoneMobile,
		it.Certification, it.Languages, it.Notes, boolInt(it.Registered),
		formatTime(it.UpdatedAt), it.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update interpreter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: update interpreter %s: no such row", it.ID)
	}
	return nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
