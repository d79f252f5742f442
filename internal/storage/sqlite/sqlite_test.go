package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/analyzer/internal/catalog"
	"github.com/JonMunkholm/analyzer/internal/country"
)

// newTestRepo creates an in-memory SQLite repository for testing.
func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func usa() country.Country {
	return country.Country{
		Code:              "USA",
		Name:              "United States",
		InternetUsers:     country.MustRate("87.50"),
		AdultLiteracyRate: country.MustRate("99.00"),
	}
}

func TestRateNullHelpers(t *testing.T) {
	ns := rateToNull(country.MustRate("54.30"))
	assert.Equal(t, sql.NullString{String: "54.3", Valid: true}, ns)

	assert.Equal(t, sql.NullString{}, rateToNull(country.MustRate("")))

	n, err := nullToRate(sql.NullString{})
	require.NoError(t, err)
	assert.False(t, n.Valid)

	n, err = nullToRate(sql.NullString{String: "19.10", Valid: true})
	require.NoError(t, err)
	assert.Equal(t, "19.1", country.RateString(n))

	_, err = nullToRate(sql.NullString{String: "garbage", Valid: true})
	assert.ErrorIs(t, err, country.ErrInvalidValue)
}

func TestInsertAndReadAll(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, usa()))
	require.NoError(t, repo.Insert(ctx, country.Country{Code: "XXX", Name: "Unmeasured"}))
	require.NoError(t, repo.Insert(ctx, country.Country{Code: "CHN", Name: "China", InternetUsers: country.MustRate("54.12345678")}))

	got, err := repo.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "USA", got[0].Code, "insertion order")
	assert.Equal(t, "XXX", got[1].Code)
	assert.Equal(t, "CHN", got[2].Code)

	assert.True(t, country.Equal(usa(), got[0]))
	assert.False(t, got[1].InternetUsers.Valid, "null survives the round trip")
	assert.False(t, got[1].AdultLiteracyRate.Valid)
	assert.Equal(t, "54.12345678", country.RateString(got[2].InternetUsers), "full precision survives")
}

func TestInsert_Duplicate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, usa()))
	err := repo.Insert(ctx, country.Country{Code: "USA", Name: "Again"})
	assert.ErrorIs(t, err, country.ErrDuplicateKey)

	got, err := repo.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "United States", got[0].Name)
}

func TestUpdate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, usa()))

	require.NoError(t, repo.Update(ctx, country.Country{Code: "USA", Name: "USA", AdultLiteracyRate: country.MustRate("98")}))

	got, err := repo.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "USA", got[0].Name)
	assert.False(t, got[0].InternetUsers.Valid)
	assert.Equal(t, "98", country.RateString(got[0].AdultLiteracyRate))

	err = repo.Update(ctx, country.Country{Code: "ZZZ", Name: "Nowhere"})
	assert.ErrorIs(t, err, country.ErrNotFound)
}

func TestDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, usa()))

	require.NoError(t, repo.Delete(ctx, "USA"))
	got, err := repo.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.ErrorIs(t, repo.Delete(ctx, "USA"), country.ErrNotFound)
}

func TestClosedDatabase(t *testing.T) {
	repo, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	_, err = repo.ReadAll(context.Background())
	assert.Error(t, err)

	err = repo.Insert(context.Background(), usa())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, country.ErrDuplicateKey)
}

func TestCatalogPersistsAcrossReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "countries.db")

	repo, err := New(ctx, path)
	require.NoError(t, err)

	cat, err := catalog.Load(ctx, repo)
	require.NoError(t, err)
	require.NoError(t, cat.Create(ctx, usa()))
	require.NoError(t, cat.Create(ctx, country.Country{Code: "NER", Name: "Niger", InternetUsers: country.MustRate("5.00"), AdultLiteracyRate: country.MustRate("19.10")}))
	require.NoError(t, cat.Create(ctx, country.Country{Code: "XXX", Name: "Unmeasured"}))
	require.NoError(t, cat.Update(ctx, country.Country{Code: "NER", Name: "Niger", InternetUsers: country.MustRate("5.25"), AdultLiteracyRate: country.MustRate("19.10")}))
	require.NoError(t, cat.Delete(ctx, "XXX"))
	require.NoError(t, repo.Close())

	repo, err = New(ctx, path)
	require.NoError(t, err)
	defer repo.Close()

	reloaded, err := catalog.Load(ctx, repo)
	require.NoError(t, err)

	before := cat.List()
	after := reloaded.List()
	require.Len(t, after, len(before))
	for i := range before {
		assert.True(t, country.Equal(before[i], after[i]), "record %d: %v != %v", i, before[i], after[i])
	}
}
