package minter_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kd17290/url-shortener/internal/minter"
	"github.com/kd17290/url-shortener/pkg/base62"
)

// fakeAllocator hands out sequential, non-overlapping blocks of the
// requested size, recording how many times it was called.
type fakeAllocator struct {
	mu     sync.Mutex
	cursor int64
	calls  int
	err    error
}

func (f *fakeAllocator) Allocate(ctx context.Context, size int64) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, 0, f.err
	}
	start := f.cursor
	end := start + size - 1
	f.cursor = end + 1
	return start, end, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMinter_RefillsOnFirstCall(t *testing.T) {
	alloc := &fakeAllocator{}
	m := minter.New(alloc, 10, discardLogger())

	code, err := m.NextCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, alloc.calls)

	decoded, err := base62.Decode(code)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), decoded)
}

func TestMinter_ExhaustsBlockBeforeRefilling(t *testing.T) {
	alloc := &fakeAllocator{}
	m := minter.New(alloc, 3, discardLogger())

	for i := 0; i < 3; i++ {
		_, err := m.NextCode(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, alloc.calls, "3 codes from a block of 3 should not trigger a second refill")

	_, err := m.NextCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, alloc.calls, "the 4th code should trigger a refill")
}

func TestMinter_CodesAreUniqueAndMonotonic(t *testing.T) {
	alloc := &fakeAllocator{}
	m := minter.New(alloc, 5, discardLogger())

	seen := make(map[string]bool)
	var lastID uint64
	for i := 0; i < 20; i++ {
		code, err := m.NextCode(context.Background())
		require.NoError(t, err)
		require.False(t, seen[code], "duplicate code %q", code)
		seen[code] = true

		id, err := base62.Decode(code)
		require.NoError(t, err)
		if i > 0 {
			assert.Equal(t, lastID+1, id)
		}
		lastID = id
	}
}

func TestMinter_AllocatorUnavailable(t *testing.T) {
	alloc := &fakeAllocator{err: errors.New("connection refused")}
	m := minter.New(alloc, 10, discardLogger())

	_, err := m.NextCode(context.Background())
	assert.ErrorIs(t, err, minter.ErrAllocatorUnavailable)
}

func TestMinter_ConcurrentCallsProduceUniqueCodes(t *testing.T) {
	alloc := &fakeAllocator{}
	m := minter.New(alloc, 50, discardLogger())

	const n = 200
	codes := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := m.NextCode(context.Background())
			assert.NoError(t, err)
			codes <- code
		}()
	}
	wg.Wait()
	close(codes)

	seen := make(map[string]bool, n)
	for code := range codes {
		assert.False(t, seen[code], "duplicate code %q under concurrency", code)
		seen[code] = true
	}
	assert.Len(t, seen, n)
}
