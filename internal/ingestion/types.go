package ingestion

import (
	"context"
	"time"

	"github.com/kd17290/url-shortener/internal/shortener"
)

// Store is the OLTP surface the worker needs: apply a flush's batched
// deltas, and re-read a row after applying deltas so the fresh click count
// can be written back to cache (§4.D flush steps 2-3).
type Store interface {
	ApplyClickDeltas(ctx context.Context, deltas map[string]int64) error
	Get(ctx context.Context, shortCode string) (*shortener.URL, error)
}

// Cache is the write-back surface: refresh affected entries in place rather
// than invalidating them, so the next redirect doesn't fall through to OLTP.
type Cache interface {
	SetBatch(ctx context.Context, urls []*shortener.URL) error
}

// OLAP is the analytics sink: one bulk insert per flush.
type OLAP interface {
	InsertBatch(ctx context.Context, deltas map[string]int64, eventTime time.Time) error
}
