// Package mssql implements the canonical store on Microsoft SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/microsoft/go-mssqldb"

	"regimport/internal/store"
)

func init() {
	store.Register("mssql", New)
}

// Repo implements store.Repository for SQL Server.
type Repo struct {
	db *sql.DB
}

func New(ctx context.Context, cfg store.Config) (store.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(16)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureSchema(ctx context.Context) error {
	// SQL Server has no CREATE TABLE IF NOT EXISTS; guard with an object
	// check to keep startup idempotent like the other backends.
	const ddl = `
IF OBJECT_ID('dbo.interpreters', 'U') IS NULL
CREATE TABLE dbo.interpreters (
  id NVARCHAR(36) PRIMARY KEY,
  name NVARCHAR(512) NOT NULL,
  email NVARCHAR(512),
  phone_home NVARCHAR(64),
  phone_business NVARCHAR(64),
  phone_mobile NVARCHAR(64),
  certification NVARCHAR(512),
  languages NVARCHAR(512),
  notes NVARCHAR(MAX),
  registered BIT NOT NULL DEFAULT 0,
  created_at DATETIMEOFFSET NOT NULL,
  updated_at DATETIMEOFFSET NOT NULL
);`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("mssql: ensure schema: %w", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const columnList = `id, name, email, phone_home, phone_business, phone_mobile,
  certification, languages, notes, registered, created_at, updated_at`

func (r *Repo) FindByName(ctx context.Context, name string) (*store.Interpreter, error) {
	return findOne(ctx, r.db,
		`SELECT TOP 1 `+columnList+` FROM dbo.interpreters WHERE name = @p1`, name)
}

func (r *Repo) FindByEmail(ctx context.Context, email string) (*store.Interpreter, error) {
	return findOne(ctx, r.db,
		`SELECT TOP 1 `+columnList+` FROM dbo.interpreters WHERE LOWER(email) = LOWER(@p1)`, email)
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
		return fmt.Errorf("mssql: begin batch: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&batchTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("mssql: commit batch: %w", err)
	}
	return nil
}

type batchTx struct {
	tx *sql.Tx
}

func (b *batchTx) FindByName(ctx context.Context, name string) (*store.Interpreter, error) {
	return findOne(ctx, b.tx,
		`SELECT TOP 1 `+columnList+` FROM dbo.interpreters WHERE name = @p1`, name)
}

func (b *batchTx) FindByEmail(ctx context.Context, email string) (*store.Interpreter, error) {
	return findOne(ctx, b.tx,
		`SELECT TOP 1 `+columnList+` FROM dbo.interpreters WHERE LOWER(email) = LOWER(@p1)`, email)
}

func (b *batchTx) Insert(ctx context.Context, it *store.Interpreter) error {
	return insert(ctx, b.tx, it)
}

func (b *batchTx) Update(ctx context.Context, it *store.Interpreter) error {
	return update(ctx, b.tx, it)
}

func findOne(ctx context.Context, q querier, query string, arg any) (*store.Interpreter, error) {
	var (
		it store.Interpreter
		id string
	)
	err := q.QueryRowContext(ctx, query, arg).Scan(
		&id, &it.Name, &it.Email, &it.PhoneHome, &it.PhoneBusiness, &it.PhoneMobile,
		&it.Certification, &it.Languages, &it.Notes, &it.Registered, &it.CreatedAt, &it.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mssql: find interpreter: %w", err)
	}
	if it.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("mssql: interpreter id %q: %w", id, err)
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
INSERT INTO dbo.interpreters (`+columnList+`)
VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9, @p10, @p11, @p12)`,
		it.ID.String(), it.Name, it.Email, it.PhoneHome, it.PhoneBusiness, it.PhoneMobile,
		it.Certification, it.Languages, it.Notes, it.Registered, it.CreatedAt, it.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("mssql: insert interpreter: %w", err)
	}
	return nil
}

func update(ctx context.Context, q querier, it *store.Interpreter) error {
	it.UpdatedAt = time.Now().UTC()
	res, err := q.ExecContext(ctx, `
UPDATE dbo.interpreters SET
  name = @p1, email = @p2, phone_home = @p3, phone_business = @p4, phone_mobile = @p5,
  certification = @p6, languages = @p7, notes = @p8, registered = @p9, updated_at = @p10
WHERE id = @p11`,
		it.Name, it.Email, it.PhoneHome, it.PhoneBusiness, it.PhoneMobile,
		it.Certification, it.Languages, it.Notes, it.Registered, it.UpdatedAt, it.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("mssql: update interpreter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mssql: update interpreter %s: no such row", it.ID)
	}
	return nil
}
