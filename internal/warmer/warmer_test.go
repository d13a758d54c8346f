package warmer_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kd17290/url-shortener/internal/shortener"
	"github.com/kd17290/url-shortener/internal/warmer"
)

type fakeStore struct {
	top []*shortener.URL
	err error
}

func (f *fakeStore) TopByClicks(ctx context.Context, n int) ([]*shortener.URL, error) {
	if f.err != nil {
		return nil, f.err
	}
	if n < len(f.top) {
		return f.top[:n], nil
	}
	return f.top, nil
}

type fakeCache struct {
	mu       sync.Mutex
	hotKeys  []string
	hotErr   error
	setBatch []*shortener.URL
	setErr   error
}

func (f *fakeCache) TopHotKeys(ctx context.Context, n int) ([]string, error) {
	if f.hotErr != nil {
		return nil, f.hotErr
	}
	return f.hotKeys, nil
}

func (f *fakeCache) SetBatch(ctx context.Context, urls []*shortener.URL) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.setBatch = urls
	return nil
}

type fakeLookup struct {
	byCode map[string]*shortener.URL
}

func (f *fakeLookup) Get(ctx context.Context, shortCode string) (*shortener.URL, error) {
	u, ok := f.byCode[shortCode]
	if !ok {
		return nil, shortener.ErrNotFound
	}
	return u, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTick_PrefersHotKeys(t *testing.T) {
	cache := &fakeCache{hotKeys: []string{"Hot001", "Hot002"}}
	lookup := &fakeLookup{byCode: map[string]*shortener.URL{
		"Hot001": {ShortCode: "Hot001", OriginalURL: "https://example.com/1"},
		"Hot002": {ShortCode: "Hot002", OriginalURL: "https://example.com/2"},
	}}
	store := &fakeStore{top: []*shortener.URL{{ShortCode: "ShouldNotBeUsed"}}}

	w := warmer.New(store, cache, lookup, discardLogger())
	require.NoError(t, w.Tick(context.Background()))

	cache.mu.Lock()
	defer cache.mu.Unlock()
	require.Len(t, cache.setBatch, 2)
}

func TestTick_FallsBackToStoreWhenHotKeysEmpty(t *testing.T) {
	cache := &fakeCache{}
	lookup := &fakeLookup{byCode: map[string]*shortener.URL{}}
	store := &fakeStore{top: []*shortener.URL{
		{ShortCode: "Top001", OriginalURL: "https://example.com/top"},
	}}

	w := warmer.New(store, cache, lookup, discardLogger())
	require.NoError(t, w.Tick(context.Background()))

	cache.mu.Lock()
	defer cache.mu.Unlock()
	require.Len(t, cache.setBatch, 1)
	assert.Equal(t, "Top001", cache.setBatch[0].ShortCode)
}

func TestTick_FallsBackWhenHotKeyLookupErrors(t *testing.T) {
	cache := &fakeCache{hotErr: errors.New("redis down")}
	lookup := &fakeLookup{byCode: map[string]*shortener.URL{}}
	store := &fakeStore{top: []*shortener.URL{
		{ShortCode: "Top002", OriginalURL: "https://example.com/top2"},
	}}

	w := warmer.New(store, cache, lookup, discardLogger())
	require.NoError(t, w.Tick(context.Background()))

	cache.mu.Lock()
	defer cache.mu.Unlock()
	require.Len(t, cache.setBatch, 1)
}

func TestTick_SkipsMissingHotKeyLookups(t *testing.T) {
	cache := &fakeCache{hotKeys: []string{"Missing", "Present"}}
	lookup := &fakeLookup{byCode: map[string]*shortener.URL{
		"Present": {ShortCode: "Present", OriginalURL: "https://example.com/present"},
	}}
	store := &fakeStore{}

	w := warmer.New(store, cache, lookup, discardLogger())
	require.NoError(t, w.Tick(context.Background()))

	cache.mu.Lock()
	defer cache.mu.Unlock()
	require.Len(t, cache.setBatch, 1)
	assert.Equal(t, "Present", cache.setBatch[0].ShortCode)
}

func TestTick_NoDataIsNoop(t *testing.T) {
	cache := &fakeCache{}
	lookup := &fakeLookup{byCode: map[string]*shortener.URL{}}
	store := &fakeStore{}

	w := warmer.New(store, cache, lookup, discardLogger())
	require.NoError(t, w.Tick(context.Background()))

	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.Nil(t, cache.setBatch)
}

func TestTick_PropagatesStoreError(t *testing.T) {
	cache := &fakeCache{}
	lookup := &fakeLookup{byCode: map[string]*shortener.URL{}}
	store := &fakeStore{err: errors.New("postgres down")}

	w := warmer.New(store, cache, lookup, discardLogger())
	err := w.Tick(context.Background())
	assert.Error(t, err)
}
