package source

import "strings"

// Role is the semantic meaning assigned to a source column after
// classification.
type Role int

const (
	RoleName Role = iota
	RoleFirstName
	RoleLastName
	RoleEmail
	RolePhone
	RoleCity
	RoleState
	RoleZip
	RoleGender
	RoleCategory
	RoleFreelance
	RoleID
	RoleCertification
	RoleLanguage
)

func (r Role) String() string {
	switch r {
	case RoleName:
		return "name"
	case RoleFirstName:
		return "first_name"
	case RoleLastName:
		return "last_name"
	case RoleEmail:
		return "email"
	case RolePhone:
		return "phone"
	case RoleCity:
		return "city"
	case RoleState:
		return "state"
	case RoleZip:
		return "zip"
	case RoleGender:
		return "gender"
	case RoleCategory:
		return "category"
	case RoleFreelance:
		return "freelance"
	case RoleID:
		return "id"
	case RoleCertification:
		return "certification"
	case RoleLanguage:
		return "language"
	default:
		return "unknown"
	}
}

// RoleMap binds roles to concrete column names. At most one column per role;
// absence of a role is a valid state, not an error.
type RoleMap map[Role]string

// Column returns the bound column for a role, or "" when none matched.
func (m RoleMap) Column(r Role) string { return m[r] }

// Has reports whether a role was bound.
func (m RoleMap) Has(r Role) bool { return m[r] != "" }

// UsableForIdentity reports whether the classified table can yield person
// identities at all. Without a combined-name column or first/last-name
// columns, nothing is importable from this table.
func (m RoleMap) UsableForIdentity() bool {
	return m.Has(RoleName) || m.Has(RoleFirstName) || m.Has(RoleLastName)
}

// predicate tests a lowercased column name.
type predicate func(lc string) bool

func exact(s string) predicate { return func(lc string) bool { return lc == s } }
func has(s string) predicate   { return func(lc string) bool { return strings.Contains(lc, s) } }

// rolePredicates is the ordered heuristic table driving classification.
//
// Order is a contract, twice over: predicates for one role run from most
// specific to least specific, and within one predicate the first column in
// declared order wins. Reordering entries changes which column binds, so
// changes here must come with test updates.
var rolePredicates = []struct {
	role  Role
	preds []predicate
}{
	{RoleName, []predicate{
		exact("name"),
		exact("fullname"),
		exact("full_name"),
		func(lc string) bool {
			return strings.Contains(lc, "name") &&
				!strings.Contains(lc, "first") &&
				!strings.Contains(lc, "last") &&
				!strings.Contains(lc, "file")
		},
	}},
	{RoleFirstName, []predicate{
		exact("firstname"),
		exact("first_name"),
		exact("fname"),
		has("first"),
	}},
	{RoleLastName, []predicate{
		exact("lastname"),
		exact("last_name"),
		exact("lname"),
		has("last"),
		has("surname"),
	}},
	{RoleEmail, []predicate{
		exact("email"),
		has("email"),
		has("mail"),
	}},
	{RolePhone, []predicate{
		exact("phone"),
		has("phone"),
		has("mobile"),
		has("cell"),
		has("tel"),
		// bare "Number" columns show up in split-out phone tables
		exact("number"),
	}},
	{RoleCity, []predicate{
		exact("city"),
		has("city"),
		has("town"),
	}},
	// "st" is a common abbreviation for state in legacy registries;
	// "province" and "region" show up in imports of non-US origin.
	{RoleState, []predicate{
		exact("state"),
		exact("st"),
		has("state"),
		has("province"),
		has("region"),
	}},
	{RoleZip, []predicate{
		exact("zip"),
		has("zip"),
		has("postal"),
	}},
	{RoleGender, []predicate{
		exact("gender"),
		has("gender"),
		exact("sex"),
	}},
	{RoleCategory, []predicate{
		exact("category"),
		has("categor"),
	}},
	{RoleFreelance, []predicate{
		has("freelance"),
		has("independent"),
	}},
	{RoleID, []predicate{
		exact("id"),
		exact("rowid"),
		func(lc string) bool { return strings.HasSuffix(lc, "id") && len(lc) > 2 },
	}},
	{RoleCertification, []predicate{
		has("cert"),
		has("credential"),
		has("rid"),
	}},
	{RoleLanguage, []predicate{
		has("lang"),
	}},
}

// ClassifyColumns maps introspected column names to roles.
//
// For each role the predicates run in declared order; the first column (in
// input order) satisfying the current predicate binds, and later predicates
// for that role are skipped. The result is deterministic for a given input.
func ClassifyColumns(columns []string) RoleMap {
	lower := make([]string, len(columns))
	for i, c := range columns {
		lower[i] = strings.ToLower(strings.TrimSpace(c))
	}

	out := make(RoleMap, len(rolePredicates))
	for _, rp := range rolePredicates {
		for _, pred := range rp.preds {
			bound := false
			for i, lc := range lower {
				if pred(lc) {
					out[rp.role] = columns[i]
					bound = true
					break
				}
			}
			if bound {
				break
			}
		}
	}
	return out
}

// tableHints order the candidate-table heuristic: a table whose name
// contains an earlier hint wins over one matching a later hint.
var tableHints = []string{"interpreter", "member", "rid"}

// SelectTable picks the main candidate table among the introspected tables.
// Falls back to the first table when no hint matches; returns "" only for an
// empty catalog.
func SelectTable(tables []string) string {
	for _, hint := range tableHints {
		for _, t := range tables {
			if strings.Contains(strings.ToLower(t), hint) {
				return t
			}
		}
	}
	if len(tables) > 0 {
		return tables[0]
	}
	return ""
}

// auxiliaryHints identify a multi-valued contact table (phones/emails split
// out of the main table).
var auxiliaryHints = []string{"phone", "email", "contact", "number"}

// SelectAuxiliaryTable locates the optional related table holding
// multi-valued phone/email rows. Returns "" when none looks like one.
func SelectAuxiliaryTable(tables []string, mainTable string) string {
	for _, hint := range auxiliaryHints {
		for _, t := range tables {
			if t == mainTable {
				continue
			}
			if strings.Contains(strings.ToLower(t), hint) {
				return t
			}
		}
	}
	return ""
}

// JoinDescriptor links the main table to an auxiliary table. Present only
// when both sides can be inferred.
type JoinDescriptor struct {
	MainColumn    string
	RelatedTable  string
	RelatedColumn string
}

// joinKeyCandidates is the fixed list of key-name conventions checked, in
// order, on the related table.
var joinKeyCandidates = []string{"interpreterid", "interpreter_id", "memberid", "member_id", "id"}

// joinEntityHints mark a related column as entity-referencing when combined
// with an "id" hint (e.g. "RIDMemberId").
var joinEntityHints = []string{"interpreter", "member", "rid"}

// InferJoin derives the join-key pair between the main table and a related
// table from their column lists. Returns nil when either side cannot be
// inferred; callers fall back to main-table data alone.
func InferJoin(mainColumns, relatedColumns []string, relatedTable string) *JoinDescriptor {
	mainKey := idColumn(mainColumns)

	// Pass 1: fixed key-name conventions on the related side. The main side
	// prefers the same name, else its own id column.
	for _, cand := range joinKeyCandidates {
		rel := findColumnFold(relatedColumns, cand)
		if rel == "" {
			continue
		}
		main := findColumnFold(mainColumns, cand)
		if main == "" {
			main = mainKey
		}
		if main != "" {
			return &JoinDescriptor{MainColumn: main, RelatedTable: relatedTable, RelatedColumn: rel}
		}
	}

	// Pass 2: a related column carrying both an entity hint and an id hint.
	for _, rc := range relatedColumns {
		lc := strings.ToLower(rc)
		if !strings.Contains(lc, "id") {
			continue
		}
		for _, hint := range joinEntityHints {
			if strings.Contains(lc, hint) && mainKey != "" {
				return &JoinDescriptor{MainColumn: mainKey, RelatedTable: relatedTable, RelatedColumn: rc}
			}
		}
	}
	return nil
}

// idColumn finds the main table's primary-key-like column.
func idColumn(columns []string) string {
	for _, c := range columns {
		if strings.EqualFold(c, "id") {
			return c
		}
	}
	for _, c := range columns {
		lc := strings.ToLower(c)
		if strings.HasSuffix(lc, "id") && len(lc) > 2 {
			return c
		}
	}
	return ""
}

func findColumnFold(columns []string, name string) string {
	for _, c := range columns {
		if strings.EqualFold(strings.ReplaceAll(c, "_", ""), strings.ReplaceAll(name, "_", "")) {
			return c
		}
	}
	return ""
}
