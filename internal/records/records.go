// Package records defines the generic row model produced when extracting
// candidate rows from a schema-unknown registry source.
//
// A Record is an ordered mapping from column name (case-preserving, as
// reported by the source catalog) to a tagged scalar Value. Records are
// ephemeral: they exist for the duration of one extraction call and carry no
// identity beyond their position in the result stream.
package records

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the scalar variants a source column value can take.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
)

// Value is a tagged scalar: exactly one variant is meaningful, selected by
// Kind. The zero Value is null.
type Value struct {
	Kind Kind
	Str  string
	Num  float64
	Bool bool
}

func Null() Value             { return Value{Kind: KindNull} }
func String(s string) Value   { return Value{Kind: KindString, Str: s} }
func Number(f float64) Value  { return Value{Kind: KindNumber, Num: f} }
func Boolean(b bool) Value    { return Value{Kind: KindBool, Bool: b} }

// FromAny converts a database/sql scan result into a Value.
//
// The sqlite driver surfaces TEXT as string or []byte depending on the
// column affinity, and integers as int64; all of those collapse into the
// tagged variants here so the rest of the pipeline never type-switches on
// driver-specific shapes again.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case string:
		return String(t)
	case []byte:
		return String(string(t))
	case int64:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case float64:
		return Number(t)
	case bool:
		return Boolean(t)
	default:
		return String(fmt.Sprint(t))
	}
}

// IsNull reports whether the value carries no data.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Text renders the value as a string for display, matching, and audit
// snapshots. Null renders as the empty string. Whole numbers render without
// a decimal point so an INTEGER source column round-trips cleanly.
func (v Value) Text() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		if v.Num == float64(int64(v.Num)) {
			return strconv.FormatInt(int64(v.Num), 10)
		}
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// Field is one (column, value) pair inside a Record.
type Field struct {
	Name  string
	Value Value
}

// Record is an ordered set of fields, preserving the source's declared
// column order. Lookup by name is case-insensitive because source schemas
// are not consistent about identifier casing.
type Record struct {
	fields []Field
	index  map[string]int
}

// NewRecord builds a record from parallel column/value slices. Extra values
// beyond the column list are dropped; missing values become null.
func NewRecord(columns []string, values []Value) Record {
	r := Record{
		fields: make([]Field, len(columns)),
		index:  make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		v := Null()
		if i < len(values) {
			v = values[i]
		}
		r.fields[i] = Field{Name: c, Value: v}
		key := strings.ToLower(c)
		if _, dup := r.index[key]; !dup {
			r.index[key] = i
		}
	}
	return r
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.fields) }

// Fields returns the fields in declared column order. Callers must not
// mutate the returned slice.
func (r Record) Fields() []Field { return r.fields }

// Get returns the value bound to a column, matched case-insensitively.
func (r Record) Get(column string) (Value, bool) {
	i, ok := r.index[strings.ToLower(column)]
	if !ok {
		return Null(), false
	}
	return r.fields[i].Value, true
}

// Text returns the rendered value for a column, or "" when absent or null.
func (r Record) Text(column string) string {
	v, ok := r.Get(column)
	if !ok {
		return ""
	}
	return v.Text()
}

// Columns returns the column names in declared order.
func (r Record) Columns() []string {
	out := make([]string, len(r.fields))
	for i, f := range r.fields {
		out[i] = f.Name
	}
	return out
}
