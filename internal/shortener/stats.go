package shortener

import (
	"context"
	"fmt"
)

// Stats returns the current record for a short code without touching click
// accounting. It returns the cached entry when one is present and reads the
// OLTP store only on a cache miss or cache error; it takes no population
// lock and does not write back to the cache. A cached entry's click count
// can lag the store's.
func (h *Handler) Stats(ctx context.Context, shortCode string) (*URL, error) {
	if u, hit, err := h.cache.Get(ctx, shortCode); err == nil && hit {
		if u == nil {
			return nil, ErrNotFound
		}
		return u, nil
	}

	u, err := h.store.Get(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return u, nil
}
