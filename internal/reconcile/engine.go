// Package reconcile runs the import pipeline end to end: infer the registry
// schema, extract candidate rows, match them against the canonical store,
// and create or update interpreter records in fixed-size batches.
//
// The pipeline is a single sequential worker per invocation. Correctness
// depends on the registry schema staying stable for the duration of one run,
// so nothing here fans out.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"regimport/internal/metrics"
	"regimport/internal/records"
	"regimport/internal/source"
	"regimport/internal/store"
)

// DefaultBatchSize is how many candidates are persisted per store
// transaction.
const DefaultBatchSize = 50

// Engine wires the registry source to the canonical store.
type Engine struct {
	Source *source.Conn
	Store  store.Repository
	Log    *zap.Logger

	// BatchSize overrides DefaultBatchSize when positive.
	BatchSize int
}

func (e *Engine) log() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

func (e *Engine) batchSize() int {
	if e.BatchSize > 0 {
		return e.BatchSize
	}
	return DefaultBatchSize
}

// schema is the inferred shape of the registry source for one run.
type schema struct {
	table   string
	columns []string
	roles   source.RoleMap
	join    *source.JoinDescriptor
}

// inferSchema introspects the live catalog and classifies the candidate
// table. An empty catalog yields a zero schema and no error; only catalog
// query failures are errors.
func (e *Engine) inferSchema(ctx context.Context) (schema, error) {
	tables, err := e.Source.ListTables(ctx)
	if err != nil {
		return schema{}, fmt.Errorf("list tables: %w", err)
	}

	table := source.SelectTable(tables)
	if table == "" {
		return schema{}, nil
	}

	columns, err := e.Source.ListColumns(ctx, table)
	if err != nil {
		return schema{}, fmt.Errorf("list columns of %s: %w", table, err)
	}

	sc := schema{
		table:   table,
		columns: columns,
		roles:   source.ClassifyColumns(columns),
	}

	if aux := source.SelectAuxiliaryTable(tables, table); aux != "" {
		auxCols, err := e.Source.ListColumns(ctx, aux)
		if err == nil && len(auxCols) > 0 {
			sc.join = source.InferJoin(columns, auxCols, aux)
		}
	}

	e.log().Debug("schema inferred",
		zap.String("table", table),
		zap.Int("columns", len(columns)),
		zap.Bool("auxiliary_join", sc.join != nil))
	return sc, nil
}

// SearchCandidates runs a read-only filtered search against the registry
// source and returns raw matched rows for human review. Never mutates the
// canonical store. An empty or unrecognizable catalog yields an empty
// result, not an error.
func (e *Engine) SearchCandidates(ctx context.Context, f source.Filters, limit int) ([]records.Record, error) {
	sc, err := e.inferSchema(ctx)
	if err != nil {
		return nil, err
	}
	if sc.table == "" {
		return nil, nil
	}

	if limit <= 0 {
		limit = source.DefaultSearchLimit
	}
	q, err := source.BuildSelect(sc.table, sc.columns, sc.roles, f, limit)
	if err != nil {
		return nil, err
	}

	recs, skipped, err := e.Source.Extract(ctx, q)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		e.log().Warn("rows skipped during search", zap.Int("skipped", skipped))
	}
	return recs, nil
}

// Selector identifies one external candidate for ImportOne: either a
// source-side primary-key value, or a partial payload (name/first/last/email)
// sufficient to re-locate the exact row.
type Selector struct {
	Key    string
	Fields map[string]string
}

// ImportOne imports a single caller-selected candidate synchronously.
//
// Returns the created or updated canonical record, or nil when the candidate
// cannot be located in the source or yields no usable name. Contact fields
// missing on the main row are pulled from the auxiliary table when a join
// could be inferred.
func (e *Engine) ImportOne(ctx context.Context, sel Selector) (*store.Interpreter, error) {
	sc, err := e.inferSchema(ctx)
	if err != nil {
		return nil, err
	}
	if sc.table == "" || !sc.roles.UsableForIdentity() {
		return nil, nil
	}

	rec, ok, err := e.locate(ctx, sc, sel)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	name := DeriveName(rec, sc.roles)
	if name == "" {
		return nil, nil
	}

	phones, emails := e.deepContacts(ctx, sc, rec)

	out, it, err := e.reconcileRecord(ctx, e.Store, sc, rec, name, phones, emails)
	if err != nil {
		return nil, err
	}
	e.log().Info("single candidate imported",
		zap.String("name", name), zap.String("outcome", out.String()))
	metrics.IncCounter("import.single", 1)
	return it, nil
}

// locate re-finds the source row the selector points at.
func (e *Engine) locate(ctx context.Context, sc schema, sel Selector) (records.Record, bool, error) {
	if strings.TrimSpace(sel.Key) != "" {
		return e.Source.FindByKey(ctx, sc.table, sc.columns, sc.roles, sel.Key)
	}

	f := filtersFromFields(sel.Fields)
	if f == (source.Filters{}) {
		return records.Record{}, false, nil
	}
	recs, err := e.SearchCandidates(ctx, f, 5)
	if err != nil {
		return records.Record{}, false, err
	}

	// When the payload carries an email, require it to match; a name-only
	// substring hit on the wrong person must not be imported.
	wantEmail := foldKey(f.Email)
	for _, rec := range recs {
		if wantEmail != "" {
			got := foldKey(rec.Text(sc.roles.Column(source.RoleEmail)))
			if got != wantEmail {
				continue
			}
		}
		return rec, true, nil
	}
	return records.Record{}, false, nil
}

// filtersFromFields maps a loose key-value payload onto search filters. Keys
// match case-insensitively with underscores ignored.
func filtersFromFields(fields map[string]string) source.Filters {
	var f source.Filters
	for k, v := range fields {
		switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), "_", "") {
		case "name", "fullname":
			f.Name = v
		case "firstname", "fname", "first":
			f.FirstName = v
		case "lastname", "lname", "last":
			f.LastName = v
		case "email":
			f.Email = v
		}
	}
	return f
}

// deepContacts pulls phone/email variants from the auxiliary table when the
// main row has no direct phone or email column. Best effort: failure to join
// falls back to the main row alone.
func (e *Engine) deepContacts(ctx context.Context, sc schema, rec records.Record) (phones, emails []string) {
	needPhone := !sc.roles.Has(source.RolePhone) || strings.TrimSpace(rec.Text(sc.roles.Column(source.RolePhone))) == ""
	needEmail := !sc.roles.Has(source.RoleEmail) || strings.TrimSpace(rec.Text(sc.roles.Column(source.RoleEmail))) == ""
	if sc.join == nil || (!needPhone && !needEmail) {
		return nil, nil
	}

	key, ok := rec.Get(sc.join.MainColumn)
	if !ok {
		return nil, nil
	}
	return e.Source.AuxiliaryContacts(ctx, sc.join, key)
}

// BulkReconcile runs search, batch reconciliation, and aggregation end to
// end, honoring the state/city filters and row limit.
//
// Success is false only when a connectivity or query failure aborted the run
// before any batch could be attempted; business-level skips and per-record
// errors keep Success true. Cancellation is checked at each batch boundary
// so already-committed batches survive an abort.
func (e *Engine) BulkReconcile(ctx context.Context, f source.Filters, limit int) Result {
	start := time.Now()
	defer func() {
		metrics.ObserveDuration("import.bulk_seconds", time.Since(start).Seconds())
	}()

	var res Result

	sc, err := e.inferSchema(ctx)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	if sc.table == "" || !sc.roles.UsableForIdentity() {
		res.Success = true
		res.Message = "nothing importable: no usable candidate table in registry source"
		return res
	}

	if limit <= 0 {
		limit = source.DefaultBulkLimit
	}
	q, err := source.BuildSelect(sc.table, sc.columns, sc.roles, f, limit)
	if err != nil {
		res.Message = err.Error()
		return res
	}

	recs, decodeSkipped, err := e.Source.Extract(ctx, q)
	if err != nil {
		res.Message = err.Error()
		return res
	}

	res.Success = true
	res.Skipped += decodeSkipped

	size := e.batchSize()
	for offset := 0; offset < len(recs); offset += size {
		if err := ctx.Err(); err != nil {
			res.Message = "cancelled: " + err.Error()
			break
		}

		end := offset + size
		if end > len(recs) {
			end = len(recs)
		}
		batch := recs[offset:end]

		acc, err := e.reconcileBatch(ctx, sc, batch)
		if err != nil {
			// Commit failed: nothing in this batch persisted, so its
			// provisional counters are void. The batch and everything not
			// yet fed count as errors; prior committed batches stand.
			res.Errors += len(recs) - offset
			res.Message = fmt.Sprintf("batch commit failed: %v", err)
			e.log().Error("batch commit failed", zap.Error(err), zap.Int("offset", offset))
			break
		}
		res.merge(acc)
		metrics.IncCounter("import.batches", 1)
	}

	metrics.IncCounter("import.created", float64(res.Created))
	metrics.IncCounter("import.registered", float64(res.Registered))
	metrics.IncCounter("import.already_registered", float64(res.AlreadyRegistered))
	metrics.IncCounter("import.skipped", float64(res.Skipped))
	metrics.IncCounter("import.errors", float64(res.Errors))

	e.log().Info("bulk reconcile finished",
		zap.Int("created", res.Created),
		zap.Int("registered", res.Registered),
		zap.Int("already_registered", res.AlreadyRegistered),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", res.Errors),
		zap.Bool("success", res.Success))
	return res
}

// reconcileBatch processes one batch inside a single store transaction.
// Per-record failures are counted and do not abort the batch; the returned
// error is a transaction-level (begin/commit) failure only.
func (e *Engine) reconcileBatch(ctx context.Context, sc schema, batch []records.Record) (Result, error) {
	var acc Result
	err := e.Store.InBatch(ctx, func(tx store.Tx) error {
		for _, rec := range batch {
			name := DeriveName(rec, sc.roles)
			if name == "" {
				acc.Skipped++
				continue
			}
			out, _, err := e.reconcileRecord(ctx, tx, sc, rec, name, nil, nil)
			if err != nil {
				acc.Errors++
				e.log().Warn("record failed", zap.String("name", name), zap.Error(err))
				continue
			}
			switch out {
			case outcomeCreated:
				acc.Created++
			case outcomeRegistered:
				acc.Registered++
			case outcomeAlreadyRegistered:
				acc.AlreadyRegistered++
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return acc, nil
}

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeRegistered
	outcomeAlreadyRegistered
)

func (o outcome) String() string {
	switch o {
	case outcomeCreated:
		return "created"
	case outcomeRegistered:
		return "registered"
	case outcomeAlreadyRegistered:
		return "already_registered"
	default:
		return "unknown"
	}
}

// reconcileRecord applies the create-or-update decision for one candidate.
//
// Match is exact name or (both sides non-empty) email; no fuzzy matching.
// A matched registered record is left untouched. A matched unregistered
// record gets empty contact fields backfilled, an audit snapshot appended to
// its notes, and the registered flag set. No match creates a new record,
// registered by default.
func (e *Engine) reconcileRecord(ctx context.Context, tx store.Tx, sc schema, rec records.Record, name string, auxPhones, auxEmails []string) (outcome, *store.Interpreter, error) {
	email := strings.TrimSpace(rec.Text(sc.roles.Column(source.RoleEmail)))
	if email == "" && len(auxEmails) > 0 {
		email = auxEmails[0]
	}

	existing, err := tx.FindByName(ctx, name)
	if err != nil {
		return 0, nil, err
	}
	if existing == nil && email != "" {
		if existing, err = tx.FindByEmail(ctx, email); err != nil {
			return 0, nil, err
		}
	}

	if existing != nil {
		if existing.Registered {
			return outcomeAlreadyRegistered, existing, nil
		}
		if existing.Email == "" {
			existing.Email = email
		}
		backfillPhones(existing, rec, sc.roles, auxPhones)
		existing.Notes = appendNote(existing.Notes, Snapshot(rec))
		existing.Registered = true
		if err := tx.Update(ctx, existing); err != nil {
			return 0, nil, err
		}
		return outcomeRegistered, existing, nil
	}

	it := &store.Interpreter{
		Name:          name,
		Email:         email,
		Certification: DeriveCertification(rec),
		Languages:     DeriveLanguage(rec),
		Notes:         Snapshot(rec),
		Registered:    true,
	}
	backfillPhones(it, rec, sc.roles, auxPhones)
	if err := tx.Insert(ctx, it); err != nil {
		return 0, nil, err
	}
	return outcomeCreated, it, nil
}

// backfillPhones fills empty phone slots, home then business then mobile.
// The main row's phone column comes first, then auxiliary-table variants.
func backfillPhones(it *store.Interpreter, rec records.Record, roles source.RoleMap, aux []string) {
	var candidates []string
	if p := strings.TrimSpace(rec.Text(roles.Column(source.RolePhone))); p != "" {
		candidates = append(candidates, p)
	}
	candidates = append(candidates, aux...)

	slots := []*string{&it.PhoneHome, &it.PhoneBusiness, &it.PhoneMobile}
	for _, p := range candidates {
		placed := false
		for _, slot := range slots {
			if *slot == "" {
				*slot = p
				placed = true
				break
			}
		}
		if !placed {
			return
		}
	}
}
