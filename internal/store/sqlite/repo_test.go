package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regimport/internal/store"
)

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	ctx := context.Background()

	repo, err := store.New(ctx, store.Config{
		Kind: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "store.db"),
	})
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	require.NoError(t, repo.EnsureSchema(ctx))
	// schema creation must be idempotent across invocations
	require.NoError(t, repo.EnsureSchema(ctx))
	return repo
}

func TestInsertAndFindRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	in := &store.Interpreter{
		Name:          "Jane Doe",
		Email:         "Jane@X.com",
		PhoneHome:     "555-0100",
		Certification: "CI",
		Languages:     "ASL",
		Notes:         "[import FName=Jane]",
		Registered:    true,
	}
	require.NoError(t, repo.Insert(ctx, in))
	assert.NotEqual(t, uuid.Nil, in.ID, "insert assigns an id")
	assert.False(t, in.CreatedAt.IsZero())

	got, err := repo.FindByName(ctx, "Jane Doe")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, in.ID, got.ID)
	assert.Equal(t, "Jane@X.com", got.Email)
	assert.Equal(t, "555-0100", got.PhoneHome)
	assert.True(t, got.Registered)
	assert.True(t, got.CreatedAt.Equal(in.CreatedAt), "timestamps round-trip exactly")
}

func TestFindByNameIsExact(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.Insert(ctx, &store.Interpreter{Name: "Jane Doe"}))

	got, err := repo.FindByName(ctx, "jane doe")
	require.NoError(t, err)
	assert.Nil(t, got, "name match is case-sensitive exact")

	got, err = repo.FindByName(ctx, "Jane")
	require.NoError(t, err)
	assert.Nil(t, got, "no prefix matching")
}

func TestFindByEmailIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.Insert(ctx, &store.Interpreter{Name: "Jane Doe", Email: "jane@x.com"}))

	got, err := repo.FindByEmail(ctx, "JANE@X.COM")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Jane Doe", got.Name)
}

func TestFindMissingReturnsNilNil(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	got, err := repo.FindByName(ctx, "Nobody")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.FindByEmail(ctx, "nobody@x.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	it := &store.Interpreter{Name: "Jane Doe", Registered: false}
	require.NoError(t, repo.Insert(ctx, it))

	it.Email = "jane@x.com"
	it.Registered = true
	it.Notes = "backfilled"
	require.NoError(t, repo.Update(ctx, it))

	got, err := repo.FindByName(ctx, "Jane Doe")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Registered)
	assert.Equal(t, "jane@x.com", got.Email)
	assert.Equal(t, "backfilled", got.Notes)
}

func TestUpdateUnknownRowFails(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	err := repo.Update(ctx, &store.Interpreter{ID: uuid.New(), Name: "Ghost"})
	assert.Error(t, err)
}

func TestInBatchCommits(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	err := repo.InBatch(ctx, func(tx store.Tx) error {
		if err := tx.Insert(ctx, &store.Interpreter{Name: "A"}); err != nil {
			return err
		}
		// writes are visible inside the same transaction
		got, err := tx.FindByName(ctx, "A")
		if err != nil {
			return err
		}
		if got == nil {
			return errors.New("inserted row not visible in tx")
		}
		return tx.Insert(ctx, &store.Interpreter{Name: "B"})
	})
	require.NoError(t, err)

	for _, name := range []string{"A", "B"} {
		got, err := repo.FindByName(ctx, name)
		require.NoError(t, err)
		assert.NotNil(t, got, name)
	}
}

func TestInBatchRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	boom := errors.New("boom")
	err := repo.InBatch(ctx, func(tx store.Tx) error {
		if err := tx.Insert(ctx, &store.Interpreter{Name: "A"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.FindByName(ctx, "A")
	require.NoError(t, err)
	assert.Nil(t, got, "failed batch must leave no rows behind")
}
