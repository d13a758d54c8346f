package shortener_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kd17290/url-shortener/internal/shortener"
)

func TestStats_PrefersCacheWhenPresent(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	require.NoError(t, cache.Set(context.Background(), &shortener.URL{ShortCode: "Stat001", OriginalURL: "https://example.com", Clicks: 42}))

	h := shortener.New(store, cache, &fakePublisher{}, &fakeMinter{}, discardLogger())

	u, err := h.Stats(context.Background(), "Stat001")
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.Clicks)
}

func TestStats_FallsThroughToStoreOnMiss(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Insert(context.Background(), &shortener.URL{ShortCode: "Stat002", OriginalURL: "https://example.com", Clicks: 7}))
	cache := newFakeCache()

	h := shortener.New(store, cache, &fakePublisher{}, &fakeMinter{}, discardLogger())

	u, err := h.Stats(context.Background(), "Stat002")
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.Clicks)
}

func TestStats_NotFound(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()

	h := shortener.New(store, cache, &fakePublisher{}, &fakeMinter{}, discardLogger())

	_, err := h.Stats(context.Background(), "Missing")
	assert.ErrorIs(t, err, shortener.ErrNotFound)
}
