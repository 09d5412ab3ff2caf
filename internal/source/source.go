// Package source implements everything that touches the external registry
// database: catalog introspection, heuristic column-role classification,
// parameterized query building, and row extraction into generic records.
//
// The registry schema is unknown at build time and may change between calls,
// so every query here runs against the live catalog. Classification and
// query building are pure functions of introspected metadata; they are the
// only places schema heuristics live.
package source

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Conn is a read-only handle to a registry source database.
type Conn struct {
	db *sql.DB

	// scan overrides row scanning when non-nil. Scanning into *any
	// destinations essentially cannot fail under the sqlite driver, so the
	// per-row skip path is only reachable through this seam.
	scan func(rows *sql.Rows, dest []any) error
}

// Open opens the registry source file. The file must already exist: the
// sqlite driver happily creates empty databases, which would silently turn a
// bad path into "nothing importable" instead of a connectivity error.
func Open(ctx context.Context, path string) (*Conn, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open registry source: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open registry source %s: %w", path, err)
	}
	return &Conn{db: db}, nil
}

// OpenDB wraps an existing database handle. Used by tests and by callers
// that manage the connection themselves.
func OpenDB(db *sql.DB) *Conn { return &Conn{db: db} }

// Close releases the underlying connection.
func (c *Conn) Close() { _ = c.db.Close() }
