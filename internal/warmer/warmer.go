// Package warmer implements the Cache Warmer (§4.E): on a fixed tick, it
// pushes the current top-N most-clicked URLs into cache ahead of demand so a
// cold cache doesn't force a thundering herd of OLTP reads. Grounded on
// urlstore.Postgres.TopByClicks and cache.Cache.SetBatch/TopHotKeys, both
// written for this purpose.
package warmer

import (
	"context"
	"log/slog"
	"time"

	"github.com/kd17290/url-shortener/internal/shortener"
)

const defaultInterval = 30 * time.Second
const defaultTopN = 5000

// Store is the OLTP fallback source for top codes when the hot-key sorted
// set is empty (a cold start, or hot-key scoring disabled).
type Store interface {
	TopByClicks(ctx context.Context, n int) ([]*shortener.URL, error)
}

// Cache is the write target plus the preferred source of top codes.
type Cache interface {
	TopHotKeys(ctx context.Context, n int) ([]string, error)
	SetBatch(ctx context.Context, urls []*shortener.URL) error
}

// hotKeyLookup resolves hot-key codes back into full URL rows for
// serialization; the warmer doesn't keep its own copy of URL bodies.
type hotKeyLookup interface {
	Get(ctx context.Context, shortCode string) (*shortener.URL, error)
}

type Warmer struct {
	store    Store
	cache    Cache
	lookup   hotKeyLookup
	interval time.Duration
	topN     int
	logger   *slog.Logger
}

func New(store Store, cache Cache, lookup hotKeyLookup, logger *slog.Logger) *Warmer {
	return &Warmer{
		store:    store,
		cache:    cache,
		lookup:   lookup,
		interval: defaultInterval,
		topN:     defaultTopN,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled, ticking Tick every w.interval.
func (w *Warmer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("cache warmer started", "interval", w.interval, "top_n", w.topN)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				w.logger.Error("warmer tick failed", "error", err)
			}
		}
	}
}

// Tick performs one warming pass: prefer the hot_urls sorted set when
// populated, falling back to an OLTP top-by-clicks scan (§4.E step 1), then
// pipelines the batch write (§4.E step 3). The Warmer never updates click
// counts (§4.E "Non-goals") — it only refreshes URL bodies.
func (w *Warmer) Tick(ctx context.Context) error {
	urls, err := w.topFromHotKeys(ctx)
	if err != nil {
		w.logger.Warn("hot-key lookup failed, falling back to oltp scan", "error", err)
	}

	if len(urls) == 0 {
		urls, err = w.store.TopByClicks(ctx, w.topN)
		if err != nil {
			return err
		}
	}

	if len(urls) == 0 {
		return nil
	}

	if err := w.cache.SetBatch(ctx, urls); err != nil {
		return err
	}
	w.logger.Info("cache warmed", "count", len(urls))
	return nil
}

func (w *Warmer) topFromHotKeys(ctx context.Context) ([]*shortener.URL, error) {
	codes, err := w.cache.TopHotKeys(ctx, w.topN)
	if err != nil {
		return nil, err
	}

	urls := make([]*shortener.URL, 0, len(codes))
	for _, code := range codes {
		u, err := w.lookup.Get(ctx, code)
		if err != nil {
			w.logger.Warn("hot key lookup miss during warm", "short_code", code, "error", err)
			continue
		}
		urls = append(urls, u)
	}
	return urls, nil
}
