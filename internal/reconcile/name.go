package reconcile

import (
	"strings"

	"golang.org/x/text/cases"

	"regimport/internal/records"
	"regimport/internal/source"
)

// DefaultLanguage is recorded when no language-ish column exists on the
// source row. A visible placeholder beats an empty field the agency staff
// would have to guess about.
const DefaultLanguage = "Unknown"

// DeriveName derives the canonical display name for a candidate row.
//
// A bound combined-name column wins; otherwise first and last name are
// trimmed and space-joined with empty parts omitted. Internal whitespace is
// collapsed so "Jane " + " Doe" and "Jane Doe" come out identical. An empty
// result means the record is unusable and must be skipped, not errored.
func DeriveName(rec records.Record, roles source.RoleMap) string {
	if col := roles.Column(source.RoleName); col != "" {
		if n := collapseSpaces(rec.Text(col)); n != "" {
			return n
		}
	}

	var parts []string
	if col := roles.Column(source.RoleFirstName); col != "" {
		if p := strings.TrimSpace(rec.Text(col)); p != "" {
			parts = append(parts, p)
		}
	}
	if col := roles.Column(source.RoleLastName); col != "" {
		if p := strings.TrimSpace(rec.Text(col)); p != "" {
			parts = append(parts, p)
		}
	}
	return collapseSpaces(strings.Join(parts, " "))
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var foldCaser = cases.Fold()

// foldKey produces a case-folded comparison key. Used for email matching so
// "Jane@X.com" and "jane@x.com" compare equal the way the store's
// case-insensitive lookup does.
func foldKey(s string) string {
	return foldCaser.String(strings.TrimSpace(s))
}

// certificationKeywords rank the keyword-to-column search for the
// certification field. "rid" covers registry-id style columns legacy sources
// use as the credential reference.
var certificationKeywords = []string{"cert", "credential", "rid"}

// DeriveCertification best-effort extracts a certification value by keyword
// search over all columns of the row, in fixed priority order. Returns ""
// when nothing matches.
func DeriveCertification(rec records.Record) string {
	return firstKeywordValue(rec, certificationKeywords)
}

// DeriveLanguage extracts a language value the same way, falling back to
// DefaultLanguage when absent.
func DeriveLanguage(rec records.Record) string {
	if v := firstKeywordValue(rec, []string{"lang"}); v != "" {
		return v
	}
	return DefaultLanguage
}

// firstKeywordValue walks keywords in priority order and returns the first
// non-empty value from a column whose name contains the keyword. Column
// declaration order breaks ties within one keyword.
func firstKeywordValue(rec records.Record, keywords []string) string {
	for _, kw := range keywords {
		for _, f := range rec.Fields() {
			if !strings.Contains(strings.ToLower(f.Name), kw) {
				continue
			}
			if v := strings.TrimSpace(f.Value.Text()); v != "" {
				return v
			}
		}
	}
	return ""
}

// Snapshot serializes a source row for the audit trail appended to the
// canonical record's notes. Column order is preserved; null fields are
// omitted so the snapshot reads as what the registry actually held.
func Snapshot(rec records.Record) string {
	var b strings.Builder
	b.WriteString("[import")
	for _, f := range rec.Fields() {
		if f.Value.IsNull() {
			continue
		}
		b.WriteString(" ")
		b.WriteString(f.Name)
		b.WriteString("=")
		b.WriteString(f.Value.Text())
	}
	b.WriteString("]")
	return b.String()
}

// appendNote appends a snapshot line to existing notes.
func appendNote(notes, snapshot string) string {
	if snapshot == "" {
		return notes
	}
	if notes == "" {
		return snapshot
	}
	return notes + "\n" + snapshot
}
