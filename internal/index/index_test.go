package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cardfile/internal/card"
)

func openTestIndex(t *testing.T) (*Index, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	x, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { x.Close() })
	return x, path
}

func indexedCard(id int64, city card.City, status card.Status) card.Card {
	number, _ := card.FormatNumber(id)
	return card.Card{
		ID:          id,
		Number:      number,
		City:        city,
		Status:      status,
		Decision:    card.DecisionPending,
		AccountMeta: card.NewAccountMeta(100 + id),
	}
}

func TestOpen_CreatesDatabase(t *testing.T) {
	_, path := openTestIndex(t)

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	for range 3 {
		x, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, x.Close())
	}
}

func TestOpen_Fresh(t *testing.T) {
	x, path := openTestIndex(t)
	assert.True(t, x.Fresh())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()
	assert.False(t, again.Fresh())
}

func TestOpen_Pragmas(t *testing.T) {
	x, _ := openTestIndex(t)

	mode, err := x.pragma("journal_mode")
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)

	version, err := x.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, "1", version)
}

func TestUpsert_ReplacesCity(t *testing.T) {
	x, _ := openTestIndex(t)
	ctx := context.Background()

	c := indexedCard(1, card.CityMoscow, card.StatusCitySelected)
	require.NoError(t, x.Upsert(ctx, &c))
	c.City = card.CityOther
	require.NoError(t, x.Upsert(ctx, &c))

	moscow, err := x.NumbersByCity(ctx, card.CityMoscow)
	require.NoError(t, err)
	assert.Empty(t, moscow)

	other, err := x.NumbersByCity(ctx, card.CityOther)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001"}, other)

	n, err := x.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNumbersByCity_OrderedByID(t *testing.T) {
	x, _ := openTestIndex(t)
	ctx := context.Background()

	for _, id := range []int64{12, 3, 7} {
		c := indexedCard(id, card.CityMoscow, card.StatusCitySelected)
		require.NoError(t, x.Upsert(ctx, &c))
	}

	got, err := x.NumbersByCity(ctx, card.CityMoscow)
	require.NoError(t, err)
	assert.Equal(t, []string{"0003", "0007", "0012"}, got)
}

func TestRebuild_ReplacesContents(t *testing.T) {
	x, _ := openTestIndex(t)
	ctx := context.Background()

	stale := indexedCard(9, card.CityMoscow, card.StatusApproved)
	require.NoError(t, x.Upsert(ctx, &stale))

	require.NoError(t, x.Rebuild(ctx, []card.Card{
		indexedCard(1, card.CityMoscow, card.StatusSentToReview),
		indexedCard(2, card.CityOther, card.StatusSentToReview),
		indexedCard(3, card.CityOther, card.StatusApproved),
	}))

	got, err := x.NumbersByCity(ctx, card.CityMoscow)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001"}, got)

	counts, err := x.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[card.Status]int{
		card.StatusSentToReview: 2,
		card.StatusApproved:     1,
	}, counts)
}

func TestRebuild_Empty(t *testing.T) {
	x, _ := openTestIndex(t)
	ctx := context.Background()

	c := indexedCard(1, card.CityMoscow, card.StatusNew)
	require.NoError(t, x.Upsert(ctx, &c))
	require.NoError(t, x.Rebuild(ctx, nil))

	n, err := x.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClose_Nil(t *testing.T) {
	var x *Index
	assert.NoError(t, x.Close())
}
