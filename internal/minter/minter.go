// Package minter implements the Edge Code Minter (§4.B): a process-local
// range holder that mints short codes without a network round trip per
// request, refilling from the Range Allocator Service only when its block
// is exhausted.
package minter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kd17290/url-shortener/pkg/base62"
)

// codeWidth pads generated codes to a fixed minimum length so early,
// small-valued IDs don't produce suspiciously short sequential codes while
// the ID space is still sparse (§4.B "Encoding").
const codeWidth = 7

var ErrAllocatorUnavailable = errors.New("minter: allocator unavailable and no reserved id remains")

// RangeAllocator is the capability the Minter needs from the Range Allocator
// Service. In production it is satisfied by an HTTP client hitting the
// allocator's /v1/allocate endpoint; tests substitute an in-memory fake.
type RangeAllocator interface {
	Allocate(ctx context.Context, size int64) (start, end int64, err error)
}

// Minter holds one [next, end] block and hands out IDs from it, refilling
// under a mutex when exhausted (§5 "Minter (next,end) | Process-local
// mutex").
type Minter struct {
	mu        sync.Mutex
	next      int64
	end       int64
	blockSize int64

	allocator RangeAllocator
	logger    *slog.Logger
}

func New(allocator RangeAllocator, blockSize int64, logger *slog.Logger) *Minter {
	return &Minter{
		// Start with an empty block (next > end) so the first call refills.
		next:      1,
		allocator: allocator,
		blockSize: blockSize,
		logger:    logger,
	}
}

// NextCode returns a fresh, globally unique short code. Every call takes the
// internal mutex: the common case (an ID remains in the current block) is a
// single compare-and-increment under the lock, while a refill holds the lock
// for the allocator round trip and concurrent callers wait for it.
func (m *Minter) NextCode(ctx context.Context) (string, error) {
	id, err := m.nextID(ctx)
	if err != nil {
		return "", err
	}
	return base62.EncodePadded(uint64(id), codeWidth), nil
}

func (m *Minter) nextID(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.next > m.end {
		start, end, err := m.allocator.Allocate(ctx, m.blockSize)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrAllocatorUnavailable, err)
		}
		m.next, m.end = start, end
		m.logger.Debug("minter refilled range", "start", start, "end", end)
	}

	id := m.next
	m.next++
	return id, nil
}
