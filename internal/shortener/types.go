// Package shortener implements the redirect/shorten core logic: cache-first
// lookup with singleflight coalescing, optimistic insert with collision
// retry, and fire-and-forget click accounting. It owns no transport and no
// storage driver — those are injected as the Store, Cache, Publisher and
// Minter interfaces below.
package shortener

import (
	"errors"
	"time"
)

// URL is the authoritative record for one short code. It never changes after
// insert except for Clicks, which only the ingestion worker updates.
type URL struct {
	ID          int64     `json:"id"`
	ShortCode   string    `json:"short_code"`
	OriginalURL string    `json:"original_url"`
	Clicks      int64     `json:"clicks"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var (
	ErrInvalidURL       = errors.New("shortener: invalid url")
	ErrCustomCodeTaken  = errors.New("shortener: custom code already taken")
	ErrNotFound         = errors.New("shortener: short code not found")
	ErrExhausted        = errors.New("shortener: exhausted retries generating a unique code")
	ErrUnavailable      = errors.New("shortener: dependency unavailable")
	ErrAllocatorDown    = errors.New("shortener: allocator unavailable")
	ErrInvalidCustomCode = errors.New("shortener: invalid custom code")
)

// maxShortenRetries bounds the generated-code collision retry loop (§4.C).
// A collision here means the allocator handed out an ID whose code already
// exists, which should be vanishingly rare; the retry is defense in depth,
// not the primary uniqueness mechanism.
const maxShortenRetries = 3
