package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regimport/internal/source"
	"regimport/internal/store"
)

// fakeStore is an in-memory store.Repository. InBatch can be told to fail a
// specific batch commit (rolling its writes back) and to run a hook after
// each committed batch.
type fakeStore struct {
	items []*store.Interpreter

	failInsert   map[string]error // by interpreter name
	failCommitAt int              // 1-based batch index whose commit fails
	afterBatch   func()

	batches int
}

func (f *fakeStore) EnsureSchema(context.Context) error { return nil }
func (f *fakeStore) Close()                             {}

func (f *fakeStore) FindByName(_ context.Context, name string) (*store.Interpreter, error) {
	for _, it := range f.items {
		if it.Name == name {
			cp := *it
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindByEmail(_ context.Context, email string) (*store.Interpreter, error) {
	for _, it := range f.items {
		if it.Email != "" && strings.EqualFold(it.Email, email) {
			cp := *it
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Insert(_ context.Context, it *store.Interpreter) error {
	if err := f.failInsert[it.Name]; err != nil {
		return err
	}
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	cp := *it
	f.items = append(f.items, &cp)
	return nil
}

func (f *fakeStore) Update(_ context.Context, it *store.Interpreter) error {
	for i, old := range f.items {
		if old.ID == it.ID {
			cp := *it
			f.items[i] = &cp
			return nil
		}
	}
	return errors.New("fake: update of unknown id")
}

func (f *fakeStore) InBatch(ctx context.Context, fn func(tx store.Tx) error) error {
	f.batches++
	if f.batches == f.failCommitAt {
		saved := make([]*store.Interpreter, len(f.items))
		copy(saved, f.items)
		_ = fn(f)
		f.items = saved
		return errors.New("fake: commit failed")
	}
	if err := fn(f); err != nil {
		return err
	}
	if f.afterBatch != nil {
		f.afterBatch()
	}
	return nil
}

func (f *fakeStore) byName(name string) *store.Interpreter {
	for _, it := range f.items {
		if it.Name == name {
			return it
		}
	}
	return nil
}

func newSourceConn(t *testing.T, stmts ...string) *source.Conn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	// force the file into existence even when there are no statements
	require.NoError(t, db.Ping())
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
	require.NoError(t, db.Close())

	c, err := source.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func newEngine(t *testing.T, fs *fakeStore, stmts ...string) *Engine {
	t.Helper()
	return &Engine{Source: newSourceConn(t, stmts...), Store: fs}
}

const membersDDL = `CREATE TABLE Members (Id INTEGER, FName TEXT, LName TEXT, Email TEXT, St TEXT)`

func TestBulkCreatesCandidate(t *testing.T) {
	fs := &fakeStore{}
	eng := newEngine(t, fs,
		membersDDL,
		`INSERT INTO Members VALUES (1, 'Jane', 'Doe', 'jane@x.com', 'WA')`,
	)

	res := eng.BulkReconcile(context.Background(), source.Filters{State: "WA"}, 0)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Total())

	it := fs.byName("Jane Doe")
	require.NotNil(t, it)
	assert.Equal(t, "jane@x.com", it.Email)
	assert.True(t, it.Registered)
	assert.Equal(t, DefaultLanguage, it.Languages)
	assert.Contains(t, it.Notes, "Jane")
}

func TestBulkRegistersExistingUnregistered(t *testing.T) {
	fs := &fakeStore{items: []*store.Interpreter{
		{ID: uuid.New(), Name: "Jane Doe", Registered: false, Notes: "manual entry"},
	}}
	eng := newEngine(t, fs,
		membersDDL,
		`INSERT INTO Members VALUES (1, 'Jane', 'Doe', 'jane@x.com', 'WA')`,
	)

	res := eng.BulkReconcile(context.Background(), source.Filters{State: "WA"}, 0)

	assert.Equal(t, 1, res.Registered)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 0, res.AlreadyRegistered)

	it := fs.byName("Jane Doe")
	require.NotNil(t, it)
	assert.True(t, it.Registered)
	assert.Equal(t, "jane@x.com", it.Email, "email backfilled")
	assert.True(t, strings.HasPrefix(it.Notes, "manual entry\n"), "snapshot appended, not replacing: %q", it.Notes)
}

func TestBulkAlreadyRegisteredUntouched(t *testing.T) {
	fs := &fakeStore{items: []*store.Interpreter{
		{ID: uuid.New(), Name: "Jane Doe", Email: "old@x.com", Registered: true},
	}}
	eng := newEngine(t, fs,
		membersDDL,
		`INSERT INTO Members VALUES (1, 'Jane', 'Doe', 'jane@x.com', 'WA')`,
	)

	res := eng.BulkReconcile(context.Background(), source.Filters{}, 0)

	assert.Equal(t, 1, res.AlreadyRegistered)
	assert.Equal(t, "old@x.com", fs.byName("Jane Doe").Email, "registered record must not be mutated")
}

func TestBulkMatchesByEmailWhenNameDiffers(t *testing.T) {
	fs := &fakeStore{items: []*store.Interpreter{
		{ID: uuid.New(), Name: "Jane Doe", Email: "jane@x.com", Registered: false},
	}}
	eng := newEngine(t, fs,
		membersDDL,
		`INSERT INTO Members VALUES (1, 'Janet', 'Doe', 'JANE@X.COM', 'WA')`,
	)

	res := eng.BulkReconcile(context.Background(), source.Filters{}, 0)

	assert.Equal(t, 1, res.Registered)
	assert.Equal(t, 0, res.Created)
	it := fs.byName("Jane Doe")
	require.NotNil(t, it)
	assert.True(t, it.Registered)
}

func TestBulkSkipsBlankName(t *testing.T) {
	fs := &fakeStore{}
	eng := newEngine(t, fs,
		membersDDL,
		`INSERT INTO Members VALUES (1, '  ', '', 'ghost@x.com', 'WA')`,
	)

	res := eng.BulkReconcile(context.Background(), source.Filters{}, 0)

	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Created)
	assert.Empty(t, fs.items)
}

func TestBulkConservation(t *testing.T) {
	fs := &fakeStore{items: []*store.Interpreter{
		{ID: uuid.New(), Name: "Already There", Registered: true},
		{ID: uuid.New(), Name: "Flip Me", Registered: false},
	}}
	eng := newEngine(t, fs,
		membersDDL,
		`INSERT INTO Members VALUES
			(1, 'Already', 'There', '', 'WA'),
			(2, 'Flip', 'Me', '', 'WA'),
			(3, '', '', '', 'WA'),
			(4, 'New', 'Person', 'new@x.com', 'WA'),
			(5, 'Other', 'Person', '', 'WA')`,
	)

	res := eng.BulkReconcile(context.Background(), source.Filters{}, 0)

	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Registered)
	assert.Equal(t, 1, res.AlreadyRegistered)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Errors)
	assert.Equal(t, 5, res.Total(), "every record lands in exactly one counter")
}

func TestBulkIdempotent(t *testing.T) {
	fs := &fakeStore{}
	eng := newEngine(t, fs,
		membersDDL,
		`INSERT INTO Members VALUES
			(1, 'Jane', 'Doe', 'jane@x.com', 'WA'),
			(2, 'John', 'Roe', 'john@x.com', 'WA')`,
	)

	first := eng.BulkReconcile(context.Background(), source.Filters{State: "WA"}, 0)
	assert.Equal(t, 2, first.Created)

	second := eng.BulkReconcile(context.Background(), source.Filters{State: "WA"}, 0)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 2, second.AlreadyRegistered)
	assert.Len(t, fs.items, 2)
}

func TestBulkPerRecordErrorIsolation(t *testing.T) {
	fs := &fakeStore{failInsert: map[string]error{"Bad Actor": errors.New("constraint violation")}}
	eng := newEngine(t, fs,
		membersDDL,
		`INSERT INTO Members VALUES
			(1, 'Jane', 'Doe', '', 'WA'),
			(2, 'Bad', 'Actor', '', 'WA'),
			(3, 'John', 'Roe', '', 'WA')`,
	)

	res := eng.BulkReconcile(context.Background(), source.Filters{}, 0)

	assert.True(t, res.Success, "a per-record failure is not a run failure")
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 3, res.Total())
	assert.Nil(t, fs.byName("Bad Actor"))
	assert.NotNil(t, fs.byName("John Roe"), "records after the failed one still process")
}

func TestBulkBatchCommitFailure(t *testing.T) {
	fs := &fakeStore{failCommitAt: 2}
	eng := newEngine(t, fs,
		membersDDL,
		`INSERT INTO Members VALUES
			(1, 'Jane', 'Doe', '', 'WA'),
			(2, 'John', 'Roe', '', 'WA'),
			(3, 'Ann', 'Poe', '', 'WA')`,
	)
	eng.BatchSize = 1

	res := eng.BulkReconcile(context.Background(), source.Filters{}, 0)

	assert.True(t, res.Success, "a batch was committed before the failure")
	assert.Equal(t, 1, res.Created, "first batch survives")
	assert.Equal(t, 2, res.Errors, "failed batch plus unprocessed remainder")
	assert.Equal(t, 3, res.Total())
	assert.Contains(t, res.Message, "batch commit failed")
	assert.Len(t, fs.items, 1)
}

func TestBulkCancelledAtBatchBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fs := &fakeStore{afterBatch: cancel}
	eng := newEngine(t, fs,
		membersDDL,
		`INSERT INTO Members VALUES
			(1, 'Jane', 'Doe', '', 'WA'),
			(2, 'John', 'Roe', '', 'WA'),
			(3, 'Ann', 'Poe', '', 'WA')`,
	)
	eng.BatchSize = 1

	res := eng.BulkReconcile(ctx, source.Filters{}, 0)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Created, "committed batch survives the abort")
	assert.Contains(t, res.Message, "cancelled")
	assert.Len(t, fs.items, 1)
}

func TestBulkNothingImportable(t *testing.T) {
	fs := &fakeStore{}
	eng := newEngine(t, fs, `CREATE TABLE Members (Email TEXT, Phone TEXT)`)

	res := eng.BulkReconcile(context.Background(), source.Filters{}, 0)

	assert.True(t, res.Success, "an unusable schema is a degraded outcome, not a failure")
	assert.Contains(t, res.Message, "nothing importable")
	assert.Equal(t, 0, res.Total())
}

func TestBulkEmptyCatalog(t *testing.T) {
	fs := &fakeStore{}
	eng := newEngine(t, fs)

	res := eng.BulkReconcile(context.Background(), source.Filters{}, 0)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "nothing importable")
}

func TestBulkQueryFailure(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "gone.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	eng := &Engine{Source: source.OpenDB(db), Store: &fakeStore{}}
	res := eng.BulkReconcile(context.Background(), source.Filters{}, 0)

	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Message)
	assert.Equal(t, 0, res.Total())
}

func TestSearchCandidatesIsReadOnly(t *testing.T) {
	fs := &fakeStore{}
	eng := newEngine(t, fs,
		membersDDL,
		`INSERT INTO Members VALUES (1, 'Jane', 'Doe', 'jane@x.com', 'WA'), (2, 'Ann', 'Poe', '', 'OR')`,
	)

	recs, err := eng.SearchCandidates(context.Background(), source.Filters{State: "WA"}, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Jane", recs[0].Text("FName"))
	assert.Empty(t, fs.items, "search must not mutate the store")
}

func TestImportOneByKey(t *testing.T) {
	fs := &fakeStore{}
	eng := newEngine(t, fs,
		membersDDL,
		`INSERT INTO Members VALUES (7, 'Jane', 'Doe', 'jane@x.com', 'WA')`,
	)

	it, err := eng.ImportOne(context.Background(), Selector{Key: "7"})
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, "Jane Doe", it.Name)
	assert.True(t, it.Registered)
	assert.Len(t, fs.items, 1)

	// Re-importing the same candidate returns the existing record.
	again, err := eng.ImportOne(context.Background(), Selector{Key: "7"})
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, it.ID, again.ID)
	assert.Len(t, fs.items, 1)
}

func TestImportOneNotFound(t *testing.T) {
	eng := newEngine(t, &fakeStore{}, membersDDL)

	it, err := eng.ImportOne(context.Background(), Selector{Key: "999"})
	require.NoError(t, err)
	assert.Nil(t, it)
}

func TestImportOneByFieldsRequiresEmailMatch(t *testing.T) {
	fs := &fakeStore{}
	eng := newEngine(t, fs,
		membersDDL,
		`INSERT INTO Members VALUES
			(1, 'Jane', 'Doe', 'jane@x.com', 'WA'),
			(2, 'Jane', 'Doering', 'other@x.com', 'WA')`,
	)

	it, err := eng.ImportOne(context.Background(), Selector{Fields: map[string]string{
		"first_name": "Jane",
		"email":      "OTHER@x.com",
	}})
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, "Jane Doering", it.Name, "email must disambiguate same-name candidates")
}

func TestImportOnePullsAuxiliaryContacts(t *testing.T) {
	fs := &fakeStore{}
	eng := newEngine(t, fs,
		`CREATE TABLE Members (Id INTEGER, FName TEXT, LName TEXT)`,
		`CREATE TABLE MemberPhones (MemberId INTEGER, Number TEXT, AltEmail TEXT)`,
		`INSERT INTO Members VALUES (1, 'Jane', 'Doe')`,
		`INSERT INTO MemberPhones VALUES (1, '555-0100', 'jane@x.com'), (1, '555-0101', NULL)`,
	)

	it, err := eng.ImportOne(context.Background(), Selector{Key: "1"})
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, "555-0100", it.PhoneHome)
	assert.Equal(t, "555-0101", it.PhoneBusiness)
	assert.Equal(t, "jane@x.com", it.Email)
}

func TestResultTotal(t *testing.T) {
	r := Result{Created: 1, Registered: 2, AlreadyRegistered: 3, Skipped: 4, Errors: 5}
	assert.Equal(t, 15, r.Total())
}
