package urlstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kd17290/url-shortener/internal/shortener"
	"github.com/kd17290/url-shortener/internal/testsupport"
	"github.com/kd17290/url-shortener/internal/urlstore"
)

func TestPostgres_InsertAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in short mode")
	}

	env := testsupport.SetupEnvironment(t)
	store := urlstore.NewPostgres(env.PostgresPool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	u := &shortener.URL{ID: 1, ShortCode: "Pg00001", OriginalURL: "https://example.com/pg", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Insert(ctx, u))

	got, err := store.Get(ctx, "Pg00001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "https://example.com/pg", got.OriginalURL)
	assert.Equal(t, int64(0), got.Clicks)
}

func TestPostgres_InsertDuplicateCodeReturnsTaken(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in short mode")
	}

	env := testsupport.SetupEnvironment(t)
	store := urlstore.NewPostgres(env.PostgresPool)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.Insert(ctx, &shortener.URL{ID: 1, ShortCode: "Dup0001", OriginalURL: "https://a.example.com", CreatedAt: now, UpdatedAt: now}))

	err := store.Insert(ctx, &shortener.URL{ID: 2, ShortCode: "Dup0001", OriginalURL: "https://b.example.com", CreatedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, shortener.ErrCustomCodeTaken)
}

func TestPostgres_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in short mode")
	}

	env := testsupport.SetupEnvironment(t)
	store := urlstore.NewPostgres(env.PostgresPool)

	_, err := store.Get(context.Background(), "Missing")
	assert.ErrorIs(t, err, shortener.ErrNotFound)
}

func TestPostgres_ApplyClickDeltas(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in short mode")
	}

	env := testsupport.SetupEnvironment(t)
	store := urlstore.NewPostgres(env.PostgresPool)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.Insert(ctx, &shortener.URL{ID: 1, ShortCode: "Clk0001", OriginalURL: "https://example.com/clk", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, store.Insert(ctx, &shortener.URL{ID: 2, ShortCode: "Clk0002", OriginalURL: "https://example.com/clk2", CreatedAt: now, UpdatedAt: now}))

	require.NoError(t, store.ApplyClickDeltas(ctx, map[string]int64{
		"Clk0001": 5,
		"Clk0002": 3,
	}))

	got1, err := store.Get(ctx, "Clk0001")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got1.Clicks)

	got2, err := store.Get(ctx, "Clk0002")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got2.Clicks)
}

func TestPostgres_ApplyClickDeltasEmptyIsNoop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in short mode")
	}

	env := testsupport.SetupEnvironment(t)
	store := urlstore.NewPostgres(env.PostgresPool)

	assert.NoError(t, store.ApplyClickDeltas(context.Background(), nil))
}

func TestPostgres_TopByClicks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in short mode")
	}

	env := testsupport.SetupEnvironment(t)
	store := urlstore.NewPostgres(env.PostgresPool)
	ctx := context.Background()

	now := time.Now().UTC()
	seed := []struct {
		code   string
		clicks int64
	}{
		{"Top0001", 100},
		{"Top0002", 500},
		{"Top0003", 10},
	}
	for i, s := range seed {
		require.NoError(t, store.Insert(ctx, &shortener.URL{ID: int64(i + 1), ShortCode: s.code, OriginalURL: "https://example.com/" + s.code, CreatedAt: now, UpdatedAt: now}))
		require.NoError(t, store.ApplyClickDeltas(ctx, map[string]int64{s.code: s.clicks}))
	}

	top, err := store.TopByClicks(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "Top0002", top[0].ShortCode)
	assert.Equal(t, "Top0001", top[1].ShortCode)
}
