package shortener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// lockPollAttempts and lockPollInterval bound step 2's "loop: poll the cache
// a bounded number of times with small sleep" when another goroutine already
// holds the population lock.
const (
	lockPollAttempts = 10
	lockPollInterval = 50 * time.Millisecond
)

// group coalesces concurrent same-process Resolve calls for the same short
// code after their cache read misses, before any of them takes the
// distributed lock. This is cheaper than a lock.AcquireLock round trip per
// caller and layers underneath it: the
// distributed lock still protects cross-process stampedes (§4.C step 2),
// singleflight protects goroutines within this one edge process.
var group singleflight.Group

// Resolve implements the §4.C "Redirect" lookup order: cache hit returns
// immediately; on miss, one goroutine per short code populates the cache
// from the OLTP store while others either poll for the freshly-populated
// entry or fall through to their own OLTP read if the lock holder vanished.
func (h *Handler) Resolve(ctx context.Context, shortCode string) (string, error) {
	if u, hit, err := h.cache.Get(ctx, shortCode); err != nil {
		h.logger.Warn("cache read failed, falling through to store", "short_code", shortCode, "error", err)
	} else if hit {
		if u == nil {
			return "", ErrNotFound
		}
		h.recordClick(shortCode)
		return u.OriginalURL, nil
	}

	v, err, _ := group.Do(shortCode, func() (interface{}, error) {
		return h.populateFromStore(ctx, shortCode)
	})
	if err != nil {
		return "", err
	}

	u := v.(*URL)
	h.recordClick(shortCode)
	return u.OriginalURL, nil
}

// populateFromStore is the singleflight-guarded slow path: acquire the
// distributed lock, read the OLTP row, write it back to cache, release the
// lock. Concurrent callers that lose the lock race poll for the winner's
// result instead of also reading the OLTP store.
func (h *Handler) populateFromStore(ctx context.Context, shortCode string) (*URL, error) {
	acquired, err := h.cache.AcquireLock(ctx, shortCode)
	if err != nil {
		h.logger.Warn("lock acquire failed, reading store directly", "short_code", shortCode, "error", err)
		return h.readThroughStore(ctx, shortCode)
	}

	if !acquired {
		if u, err := h.pollForCachePopulation(ctx, shortCode); err == nil {
			return u, nil
		}
		// Lock holder may have crashed before populating the cache; fall
		// through and read the store ourselves rather than wait forever.
	} else {
		defer func() {
			if err := h.cache.ReleaseLock(ctx, shortCode); err != nil {
				h.logger.Warn("lock release failed, ttl will reclaim it", "short_code", shortCode, "error", err)
			}
		}()
	}

	return h.readThroughStore(ctx, shortCode)
}

func (h *Handler) pollForCachePopulation(ctx context.Context, shortCode string) (*URL, error) {
	for i := 0; i < lockPollAttempts; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}

		u, hit, err := h.cache.Get(ctx, shortCode)
		if err != nil {
			continue
		}
		if hit {
			if u == nil {
				return nil, ErrNotFound
			}
			return u, nil
		}
	}
	return nil, errors.New("shortener: lock holder did not populate cache in time")
}

func (h *Handler) readThroughStore(ctx context.Context, shortCode string) (*URL, error) {
	u, err := h.store.Get(ctx, shortCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if err := h.cache.SetNotFound(ctx, shortCode); err != nil {
				h.logger.Warn("negative cache write failed", "short_code", shortCode, "error", err)
			}
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := h.cache.Set(ctx, u); err != nil {
		h.logger.Warn("cache write-through failed", "short_code", shortCode, "error", err)
	}
	return u, nil
}

// recordClick fires the click-accounting side effects without blocking the
// response: bump the near-real-time buffer, score the hot-key set, and
// publish a click event (falling back to the KV stream on publish failure).
// It runs in a detached goroutine with a fresh context per §5 "Cancellation":
// request cancellation must not cancel accounting.
func (h *Handler) recordClick(shortCode string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.cache.IncrementClickBuffer(ctx, shortCode); err != nil {
			h.logger.Warn("click buffer increment failed", "short_code", shortCode, "error", err)
		}
		if err := h.cache.IncrementHotKey(ctx, shortCode); err != nil {
			h.logger.Debug("hot key increment failed", "short_code", shortCode, "error", err)
		}
		if err := h.publisher.Publish(ctx, shortCode, 1); err != nil {
			// Publisher itself owns the fallback-stream diversion (§5
			// backpressure); a returned error here means both the broker
			// and the fallback write failed, which is logged but never
			// fails the redirect that already responded to the client.
			h.logger.Error("click publish failed on both broker and fallback", "short_code", shortCode, "error", err)
		}
	}()
}
