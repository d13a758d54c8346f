// Package cache implements the read-through/write-through cache-aside layer
// backing the redirect hot path (§4.C), the singleflight lock primitive
// (§4.C step 2), the near-real-time click buffer, and the hot-key score set
// (§3, §4.C "Hot-key scoring").
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kd17290/url-shortener/internal/metrics"
	"github.com/kd17290/url-shortener/internal/shortener"
)

const (
	urlTTL          = time.Hour
	ttlJitterFrac   = 0.20 // ±20% (§3 "Cached URL payload")
	notFoundTTL     = 30 * time.Second
	lockTTL         = 5 * time.Second
	clickBufferTTL  = 5 * time.Minute
	hotKeyWindowTTL = time.Hour
)

const hotKeysSet = "hot_urls"

// Cache is the go-redis-backed implementation of shortener.Cache. It reads
// through a replica connection and writes through a primary connection, per
// §4.C step 1/3 ("read-replica connection" / "primary connection").
type Cache struct {
	primary *redis.Client
	replica *redis.Client
}

func New(primary, replica *redis.Client) *Cache {
	return &Cache{primary: primary, replica: replica}
}

// entry is the JSON envelope stored at url:<short_code>. A negative-cache
// entry (NotFound=true) has a nil URL and a short TTL, satisfying the
// "yes, short TTL" decision in SPEC_FULL §9.
type entry struct {
	NotFound bool           `json:"not_found,omitempty"`
	URL      *shortener.URL `json:"url,omitempty"`
}

func urlKey(shortCode string) string        { return "url:" + shortCode }
func lockKey(shortCode string) string       { return "lock:" + shortCode }
func clickBufferKey(shortCode string) string { return "click_buffer:" + shortCode }

// Get returns (url, true, nil) on a positive hit, (nil, true, nil) on a
// negative-cache hit, and (nil, false, nil) on a plain miss.
func (c *Cache) Get(ctx context.Context, shortCode string) (*shortener.URL, bool, error) {
	raw, err := c.replica.Get(ctx, urlKey(shortCode)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.EdgeCacheOpsTotal.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		metrics.EdgeCacheOpsTotal.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	if e.NotFound {
		metrics.EdgeCacheOpsTotal.WithLabelValues("negative_hit").Inc()
		return nil, true, nil
	}
	metrics.EdgeCacheOpsTotal.WithLabelValues("hit").Inc()
	return e.URL, true, nil
}

// Set writes a complete, self-sufficient snapshot with TTL + jitter so mass
// expiry doesn't produce a synchronized stampede (§3, §5 "Stampede
// protection").
func (c *Cache) Set(ctx context.Context, u *shortener.URL) error {
	raw, err := json.Marshal(entry{URL: u})
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	return c.primary.Set(ctx, urlKey(u.ShortCode), raw, jitter(urlTTL)).Err()
}

func (c *Cache) SetNotFound(ctx context.Context, shortCode string) error {
	raw, err := json.Marshal(entry{NotFound: true})
	if err != nil {
		return fmt.Errorf("cache encode not-found: %w", err)
	}
	return c.primary.Set(ctx, urlKey(shortCode), raw, notFoundTTL).Err()
}

// AcquireLock is the singleflight population lock: SET NX EX against the
// primary connection (§4.C step 2).
func (c *Cache) AcquireLock(ctx context.Context, shortCode string) (bool, error) {
	ok, err := c.primary.SetNX(ctx, lockKey(shortCode), "1", lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("cache lock acquire: %w", err)
	}
	return ok, nil
}

// ReleaseLock is best-effort: the lock's TTL is the safety net if this call
// fails or the holder crashes before reaching it (§4.C step 4).
func (c *Cache) ReleaseLock(ctx context.Context, shortCode string) error {
	return c.primary.Del(ctx, lockKey(shortCode)).Err()
}

// IncrementClickBuffer bumps click_buffer:<code>, setting its TTL only on
// the increment that creates the key (§3 "Per-code click counter buffer").
func (c *Cache) IncrementClickBuffer(ctx context.Context, shortCode string) error {
	key := clickBufferKey(shortCode)
	newVal, err := c.primary.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("click buffer incr: %w", err)
	}
	if newVal == 1 {
		if err := c.primary.Expire(ctx, key, clickBufferTTL).Err(); err != nil {
			return fmt.Errorf("click buffer expire: %w", err)
		}
	}
	return nil
}

// IncrementHotKey bumps the shared hot_urls sorted-set score for shortCode.
// ExpireNX means the shared key's TTL is set only once per window (the first
// writer in a fresh window sets it; later writers within the same window
// leave it alone), matching "set TTL on first write per window" (§4.C).
func (c *Cache) IncrementHotKey(ctx context.Context, shortCode string) error {
	if err := c.primary.ZIncrBy(ctx, hotKeysSet, 1, shortCode).Err(); err != nil {
		return fmt.Errorf("hot key incr: %w", err)
	}
	if err := c.primary.ExpireNX(ctx, hotKeysSet, hotKeyWindowTTL).Err(); err != nil {
		return fmt.Errorf("hot key expire: %w", err)
	}
	return nil
}

// SetBatch writes N cache entries in a single pipelined round trip, each
// with its own independently-jittered TTL. Used by the Cache Warmer (§4.E
// step 3: "Write all N cache entries in a single pipelined SET batch") and
// by the ingestion worker's flush step 3 (write updated click counts back
// rather than invalidate).
func (c *Cache) SetBatch(ctx context.Context, urls []*shortener.URL) error {
	if len(urls) == 0 {
		return nil
	}

	pipe := c.primary.Pipeline()
	for _, u := range urls {
		raw, err := json.Marshal(entry{URL: u})
		if err != nil {
			return fmt.Errorf("cache batch encode %s: %w", u.ShortCode, err)
		}
		pipe.Set(ctx, urlKey(u.ShortCode), raw, jitter(urlTTL))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache batch set: %w", err)
	}
	return nil
}

// TopHotKeys reads the top-N codes from the hot_urls sorted set, the
// alternative source the Cache Warmer prefers over an OLTP scan when it is
// populated (§4.E step 1).
func (c *Cache) TopHotKeys(ctx context.Context, n int) ([]string, error) {
	results, err := c.replica.ZRevRange(ctx, hotKeysSet, 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("top hot keys: %w", err)
	}
	return results, nil
}

// jitter returns base scaled by a uniform random factor in
// [1-ttlJitterFrac, 1+ttlJitterFrac], desynchronizing bulk-populated cache
// entries' expiry (§5 "TTL jitter (±20%)").
func jitter(base time.Duration) time.Duration {
	factor := 1 + (rand.Float64()*2-1)*ttlJitterFrac
	return time.Duration(float64(base) * factor)
}
