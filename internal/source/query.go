package source

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Row caps. Extraction is always bounded: when the caller does not specify a
// limit the default applies, and nothing may exceed the hard cap.
const (
	DefaultSearchLimit = 1000
	DefaultBulkLimit   = 5000
	MaxRowLimit        = 10000
)

// Freelance is the tri-state freelance filter.
type Freelance int

const (
	FreelanceAny Freelance = iota
	FreelanceYes
	FreelanceNo
)

// ParseFreelance interprets free-text freelance filter input. Stored
// registry values are inconsistent (1/0, Yes/No, boolean-like strings), so
// the parse is deliberately tolerant; unrecognized input means unspecified.
func ParseFreelance(s string) Freelance {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "y", "yes", "true", "t":
		return FreelanceYes
	case "0", "n", "no", "false", "f":
		return FreelanceNo
	default:
		return FreelanceAny
	}
}

// Filters are the caller-supplied search criteria. All fields are optional
// free text; empty means "no constraint". Filter values are always bound as
// SQL parameters, never interpolated.
type Filters struct {
	Name          string
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	City          string
	State         string
	Zip           string
	Gender        string
	Category      string
	Certification string
	Freelance     Freelance
}

// Query is a built SELECT with its bound parameters.
type Query struct {
	SQL  string
	Args []any
}

// BuildSelect builds a parameterized SELECT over the classified table.
//
// Identifier safety: the table name and every role-bound column are
// re-validated against the introspected metadata before interpolation. A
// filter whose role has no bound column is skipped rather than failing the
// whole query; the registry degrades to a broader match instead of crashing.
func BuildSelect(table string, columns []string, roles RoleMap, f Filters, limit int) (Query, error) {
	if strings.TrimSpace(table) == "" {
		return Query{}, fmt.Errorf("build select: empty table name")
	}

	allowed := make(map[string]bool, len(columns))
	for _, c := range columns {
		allowed[strings.ToLower(c)] = true
	}
	col := func(r Role) string {
		c := roles.Column(r)
		if c == "" || !allowed[strings.ToLower(c)] {
			return ""
		}
		return c
	}

	var (
		where []string
		args  []any
	)
	substr := func(column, value string) {
		if column == "" || strings.TrimSpace(value) == "" {
			return
		}
		where = append(where, fmt.Sprintf("lower(CAST(%s AS TEXT)) LIKE ?", sqlIdent(column)))
		args = append(args, "%"+strings.ToLower(strings.TrimSpace(value))+"%")
	}

	substr(col(RoleName), f.Name)
	substr(col(RoleFirstName), f.FirstName)
	substr(col(RoleLastName), f.LastName)
	substr(col(RoleEmail), f.Email)
	substr(col(RolePhone), f.Phone)
	substr(col(RoleCity), f.City)
	substr(col(RoleCategory), f.Category)
	substr(col(RoleCertification), f.Certification)

	if c := col(RoleZip); c != "" && strings.TrimSpace(f.Zip) != "" {
		where = append(where, fmt.Sprintf("CAST(%s AS TEXT) LIKE ?", sqlIdent(c)))
		args = append(args, strings.TrimSpace(f.Zip)+"%")
	}

	// Gender values in the wild mix numeric codes with text, so the match is
	// raw equality OR substring on the stored value.
	if c := col(RoleGender); c != "" && strings.TrimSpace(f.Gender) != "" {
		g := strings.TrimSpace(f.Gender)
		where = append(where, fmt.Sprintf(
			"(CAST(%[1]s AS TEXT) = ? OR instr(lower(CAST(%[1]s AS TEXT)), ?) > 0)", sqlIdent(c)))
		args = append(args, g, strings.ToLower(g))
	}

	if c := col(RoleFreelance); c != "" && f.Freelance != FreelanceAny {
		w, a := freelancePredicate(c, f.Freelance)
		where = append(where, w)
		args = append(args, a...)
	}

	if c := col(RoleState); c != "" && strings.TrimSpace(f.State) != "" {
		w, a := statePredicate(c, f.State)
		where = append(where, w)
		args = append(args, a...)
	}

	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(sqlIdent(table))
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" LIMIT ?")
	args = append(args, clampLimit(limit, DefaultSearchLimit))

	return Query{SQL: b.String(), Args: args}, nil
}

// statePredicate implements the asymmetric state match.
//
// A two-letter input matching a known abbreviation compares exact (trimmed,
// case-insensitive) against the stored abbreviation OR as a prefix against
// the expanded full name. Longer input is treated as a full name and matched
// by case-insensitive prefix. The asymmetry is intentional: "WA" must not
// prefix-match "Iowa", "Hawaii", or "Delaware", while "Washington State"
// should still match a stored "Washington".
func statePredicate(column, value string) (string, []any) {
	v := strings.TrimSpace(value)
	ident := sqlIdent(column)

	if utf8.RuneCountInString(v) == 2 {
		if full, ok := ExpandStateAbbreviation(v); ok {
			return fmt.Sprintf(
					"(upper(trim(CAST(%[1]s AS TEXT))) = ? OR upper(CAST(%[1]s AS TEXT)) LIKE ?)", ident),
				[]any{strings.ToUpper(v), strings.ToUpper(full) + "%"}
		}
		// Unknown code: exact-only, there is no expansion to prefix on.
		return fmt.Sprintf("upper(trim(CAST(%s AS TEXT))) = ?", ident),
			[]any{strings.ToUpper(v)}
	}

	return fmt.Sprintf("upper(CAST(%s AS TEXT)) LIKE ?", ident),
		[]any{strings.ToUpper(v) + "%"}
}

// freelancePredicate matches the inconsistent freelance encodings: numeric
// 1/0, booleans, and "Yes"/"No"-ish text (substring, so "yes please" counts).
func freelancePredicate(column string, fl Freelance) (string, []any) {
	ident := sqlIdent(column)
	w := fmt.Sprintf(
		"(CAST(%[1]s AS TEXT) IN (?, ?) OR instr(lower(CAST(%[1]s AS TEXT)), ?) > 0)", ident)
	if fl == FreelanceYes {
		return w, []any{"1", "true", "yes"}
	}
	return w, []any{"0", "false", "no"}
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxRowLimit {
		return MaxRowLimit
	}
	return limit
}

// sqlIdent quotes an identifier for sqlite. Identifiers passed here come
// only from introspected metadata, never from filter input.
func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
