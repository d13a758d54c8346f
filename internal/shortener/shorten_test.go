package shortener_test

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
)

// fakeStore is an in-memory Store used across the shortener unit tests.
type fakeStore struct {
	mu       sync.Mutex
	urls     map[string]*shortener.URL
	getCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{urls: make(map[string]*shortener.URL)}
}

func (f *fakeStore) Insert(ctx context.Context, u *shortener.URL) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.urls[u.ShortCode]; exists {
		return shortener.ErrCustomCodeTaken
	}
	cp := *u
	f.urls[u.ShortCode] = &cp
	return nil
}

func (f *fakeStore) getCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

func (f *fakeStore) Get(ctx context.Context, shortCode string) (*shortener.URL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	u, ok := f.urls[shortCode]
	if !ok {
		return nil, shortener.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// fakeCache is an in-memory Cache. Get reports a miss by default; hit/miss
// state is entirely driven by Set/SetNotFound calls, matching the real
// cache-aside contract.
type fakeCache struct {
	mu        sync.Mutex
	entries   map[string]*shortener.URL
	negatives map[string]bool
	locks     map[string]bool
	setErr    error
	getErr    error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries:   make(map[string]*shortener.URL),
		negatives: make(map[string]bool),
		locks:     make(map[string]bool),
	}
}

func (c *fakeCache) Get(ctx context.Context, shortCode string) (*shortener.URL, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	if c.negatives[shortCode] {
		return nil, true, nil
	}
	if u, ok := c.entries[shortCode]; ok {
		cp := *u
		return &cp, true, nil
	}
	return nil, false, nil
}

func (c *fakeCache) Set(ctx context.Context, u *shortener.URL) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	cp := *u
	c.entries[u.ShortCode] = &cp
	delete(c.negatives, u.ShortCode)
	return nil
}

func (c *fakeCache) SetNotFound(ctx context.Context, shortCode string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.negatives[shortCode] = true
	return nil
}

func (c *fakeCache) AcquireLock(ctx context.Context, shortCode string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[shortCode] {
		return false, nil
	}
	c.locks[shortCode] = true
	return true, nil
}

func (c *fakeCache) ReleaseLock(ctx context.Context, shortCode string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, shortCode)
	return nil
}

func (c *fakeCache) IncrementClickBuffer(ctx context.Context, shortCode string) error { return nil }
func (c *fakeCache) IncrementHotKey(ctx context.Context, shortCode string) error      { return nil }

// fakePublisher records published deltas; Publish never fails unless err is set.
type fakePublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *fakePublisher) Publish(ctx context.Context, shortCode string, delta int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, shortCode)
	return nil
}

// fakeMinter yields codes from a fixed queue, or an error once exhausted.
type fakeMinter struct {
	codes []string
	i     int
	err   error
}

func (m *fakeMinter) NextCode(ctx context.Context) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.i >= len(m.codes) {
		return "", errors.New("fakeMinter: exhausted")
	}
	c := m.codes[m.i]
	m.i++
	return c, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShorten_CustomCode(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	// The custom-code path still mints an id off the same range as
	// generated codes; only the code's use as a short_code is bypassed.
	h := shortener.New(store, cache, &fakePublisher{}, &fakeMinter{codes: []string{"Ab00001"}}, discardLogger())

	u, err := h.Shorten(context.Background(), "https://example.com/page", "MyCode1")
	require.NoError(t, err)
	assert.Equal(t, "MyCode1", u.ShortCode)
	assert.Equal(t, "https://example.com/page", u.OriginalURL)
	assert.NotZero(t, u.ID, "row id must come from the minted range, not be left zero")

	cached, hit, err := cache.Get(context.Background(), "MyCode1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "https://example.com/page", cached.OriginalURL)
}

func TestShorten_CustomCodeTaken(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	h := shortener.New(store, cache, &fakePublisher{}, &fakeMinter{codes: []string{"Ab00001", "Ab00002"}}, discardLogger())

	_, err := h.Shorten(context.Background(), "https://example.com/a", "Taken01")
	require.NoError(t, err)

	_, err = h.Shorten(context.Background(), "https://example.com/b", "Taken01")
	assert.ErrorIs(t, err, shortener.ErrCustomCodeTaken)
}

func TestShorten_InvalidCustomCode(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	h := shortener.New(store, cache, &fakePublisher{}, &fakeMinter{}, discardLogger())

	_, err := h.Shorten(context.Background(), "https://example.com", "ab")
	assert.ErrorIs(t, err, shortener.ErrInvalidCustomCode)

	_, err = h.Shorten(context.Background(), "https://example.com", "not-base62!")
	assert.ErrorIs(t, err, shortener.ErrInvalidCustomCode)
}

func TestShorten_InvalidURL(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	h := shortener.New(store, cache, &fakePublisher{}, &fakeMinter{}, discardLogger())

	cases := []string{
		"not a url",
		"ftp://example.com/file",
		"http://",
		"http://localhost/admin",
		"http://127.0.0.1/",
		"http://169.254.169.254/latest/meta-data",
		"http://10.0.0.5/internal",
	}
	for _, raw := range cases {
		_, err := h.Shorten(context.Background(), raw, "")
		assert.ErrorIs(t, err, shortener.ErrInvalidURL, "expected rejection for %q", raw)
	}
}

func TestShorten_GeneratedCode(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	minter := &fakeMinter{codes: []string{"Ab12Cd"}}
	h := shortener.New(store, cache, &fakePublisher{}, minter, discardLogger())

	u, err := h.Shorten(context.Background(), "https://example.com/x", "")
	require.NoError(t, err)
	assert.Equal(t, "Ab12Cd", u.ShortCode)
}

func TestShorten_RetriesOnMintedCollision(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	require.NoError(t, store.Insert(context.Background(), &shortener.URL{ShortCode: "Dup001", OriginalURL: "https://old.example.com"}))

	minter := &fakeMinter{codes: []string{"Dup001", "Fresh02"}}
	h := shortener.New(store, cache, &fakePublisher{}, minter, discardLogger())

	u, err := h.Shorten(context.Background(), "https://example.com/y", "")
	require.NoError(t, err)
	assert.Equal(t, "Fresh02", u.ShortCode)
}

func TestShorten_ExhaustedRetries(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	require.NoError(t, store.Insert(context.Background(), &shortener.URL{ShortCode: "X1", OriginalURL: "https://old.example.com"}))

	minter := &fakeMinter{codes: []string{"X1", "X1", "X1"}}
	h := shortener.New(store, cache, &fakePublisher{}, minter, discardLogger())

	_, err := h.Shorten(context.Background(), "https://example.com/z", "")
	assert.ErrorIs(t, err, shortener.ErrExhausted)
}

func TestShorten_AllocatorDown(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	minter := &fakeMinter{err: errors.New("allocator: connection refused")}
	h := shortener.New(store, cache, &fakePublisher{}, minter, discardLogger())

	_, err := h.Shorten(context.Background(), "https://example.com/z", "")
	assert.ErrorIs(t, err, shortener.ErrAllocatorDown)
}
