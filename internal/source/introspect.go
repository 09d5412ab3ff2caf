package source

import (
	"context"
	"database/sql"
	"fmt"
)

// ListTables returns user table names in catalog order.
//
// The query runs against sqlite_master every time; results are never cached
// because the source database is externally managed and may change between
// calls. An empty database yields an empty slice, not an error.
func (c *Conn) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ListColumns returns the column names of a table in declared order.
//
// Unknown tables yield an empty slice: PRAGMA table_info returns no rows
// rather than an error, and the classifier treats "no columns" as an
// unusable table anyway.
func (c *Conn) ListColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list columns of %s: %w", table, err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// query is the internal seam the extractor uses; kept on Conn so every read
// goes through the same handle the introspector validated.
func (c *Conn) query(ctx context.Context, sqlText string, args []any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, sqlText, args...)
}
