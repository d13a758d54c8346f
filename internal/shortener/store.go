package shortener

import "context"

// Store is the OLTP capability the Handler needs: insert on shorten and
// point lookup on resolve/stats. The ingestion path's click-count update is
// not part of it (see ingestion.Store). Concrete implementation lives in
// internal/urlstore; tests substitute an in-memory fake.
type Store interface {
	Insert(ctx context.Context, u *URL) error
	Get(ctx context.Context, shortCode string) (*URL, error)
}

// Cache is the read-through/write-through capability backing the redirect
// hot path: get/set the JSON snapshot, negative-cache misses, and the
// singleflight lock primitive from §4.C step 2. Concrete implementation
// lives in internal/cache.
type Cache interface {
	Get(ctx context.Context, shortCode string) (*URL, bool, error)
	Set(ctx context.Context, u *URL) error
	SetNotFound(ctx context.Context, shortCode string) error
	AcquireLock(ctx context.Context, shortCode string) (bool, error)
	ReleaseLock(ctx context.Context, shortCode string) error
	IncrementClickBuffer(ctx context.Context, shortCode string) error
	IncrementHotKey(ctx context.Context, shortCode string) error
}

// Publisher is the click-event fan-out capability: publish to the broker,
// falling back to the KV stream on failure. Concrete implementation lives in
// internal/broker.
type Publisher interface {
	Publish(ctx context.Context, shortCode string, delta int64) error
}

// Minter is the local code-minting capability described in §4.B. Concrete
// implementation lives in internal/minter.
type Minter interface {
	NextCode(ctx context.Context) (string, error)
}
