package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"regimport/internal/records"
)

// Extract executes a built query and materializes each row into a Record.
//
// Every row is fully materialized before being appended; partial rows are
// never exposed. A row that fails to decode is skipped and counted, and does
// not abort the remaining stream. The stream is finite (the query always
// carries a LIMIT) and restartable only by re-running the query.
func (c *Conn) Extract(ctx context.Context, q Query) ([]records.Record, int, error) {
	rows, err := c.query(ctx, q.SQL, q.Args)
	if err != nil {
		return nil, 0, fmt.Errorf("extract: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, 0, fmt.Errorf("extract: columns: %w", err)
	}

	scan := c.scan
	if scan == nil {
		scan = func(rows *sql.Rows, dest []any) error { return rows.Scan(dest...) }
	}

	var (
		out     []records.Record
		skipped int
	)
	for rows.Next() {
		raw := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := scan(rows, ptrs); err != nil {
			skipped++
			continue
		}

		vals := make([]records.Value, len(columns))
		for i, v := range raw {
			vals[i] = records.FromAny(v)
		}
		out = append(out, records.NewRecord(columns, vals))
	}
	if err := rows.Err(); err != nil {
		return out, skipped, fmt.Errorf("extract: %w", err)
	}
	return out, skipped, nil
}

// auxiliaryRowCap bounds how many related rows one candidate may pull in.
const auxiliaryRowCap = 20

// AuxiliaryContacts fetches phone/email variants for one candidate from the
// auxiliary table described by the join descriptor.
//
// Used for deep single-record lookups when the main table carries no direct
// phone/email column. Any failure here (missing table, bad join column,
// query error) yields empty results so the caller silently falls back to
// whatever the main row offers.
func (c *Conn) AuxiliaryContacts(ctx context.Context, join *JoinDescriptor, key records.Value) (phones, emails []string) {
	if join == nil || key.IsNull() {
		return nil, nil
	}

	relCols, err := c.ListColumns(ctx, join.RelatedTable)
	if err != nil || len(relCols) == 0 {
		return nil, nil
	}
	if !containsFold(relCols, join.RelatedColumn) {
		return nil, nil
	}

	q := Query{
		SQL: fmt.Sprintf("SELECT * FROM %s WHERE CAST(%s AS TEXT) = ? LIMIT ?",
			sqlIdent(join.RelatedTable), sqlIdent(join.RelatedColumn)),
		Args: []any{key.Text(), auxiliaryRowCap},
	}
	recs, _, err := c.Extract(ctx, q)
	if err != nil {
		return nil, nil
	}

	roles := ClassifyColumns(relCols)
	for _, r := range recs {
		if col := roles.Column(RolePhone); col != "" {
			if v := strings.TrimSpace(r.Text(col)); v != "" {
				phones = append(phones, v)
			}
		}
		if col := roles.Column(RoleEmail); col != "" {
			if v := strings.TrimSpace(r.Text(col)); v != "" {
				emails = append(emails, v)
			}
		}
	}
	return phones, emails
}

// FindByKey re-locates a single source row by its primary-key-like column.
// Returns the zero Record and false when the id column is unknown or no row
// matches.
func (c *Conn) FindByKey(ctx context.Context, table string, columns []string, roles RoleMap, key string) (records.Record, bool, error) {
	idCol := roles.Column(RoleID)
	if idCol == "" || !containsFold(columns, idCol) {
		return records.Record{}, false, nil
	}

	q := Query{
		SQL:  fmt.Sprintf("SELECT * FROM %s WHERE CAST(%s AS TEXT) = ? LIMIT 1", sqlIdent(table), sqlIdent(idCol)),
		Args: []any{strings.TrimSpace(key)},
	}
	recs, _, err := c.Extract(ctx, q)
	if err != nil {
		return records.Record{}, false, err
	}
	if len(recs) == 0 {
		return records.Record{}, false, nil
	}
	return recs[0], true, nil
}

func containsFold(columns []string, name string) bool {
	for _, c := range columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}
