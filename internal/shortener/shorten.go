package shortener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/kd17290/url-shortener/pkg/base62"
)

const (
	minCustomCodeLen = 4
	maxCustomCodeLen = 12
)

// Handler wires the four injected capabilities (§9 "Dynamic dispatch") into
// the shorten/redirect operations. It carries no transport framing — that is
// the excluded HTTP layer this document treats as an external collaborator.
type Handler struct {
	store     Store
	cache     Cache
	publisher Publisher
	minter    Minter
	logger    *slog.Logger
}

// New builds a Handler from its four capabilities.
func New(store Store, cache Cache, publisher Publisher, minter Minter, logger *slog.Logger) *Handler {
	return &Handler{
		store:     store,
		cache:     cache,
		publisher: publisher,
		minter:    minter,
		logger:    logger,
	}
}

// Shorten creates a new URL record, either at a caller-supplied custom code
// or at a code minted from the allocator-backed range, per §4.C "Shorten".
func (h *Handler) Shorten(ctx context.Context, originalURL, customCode string) (*URL, error) {
	if !isValidURL(originalURL) {
		return nil, ErrInvalidURL
	}

	now := time.Now().UTC()

	if customCode != "" {
		if !isValidCustomCode(customCode) {
			return nil, ErrInvalidCustomCode
		}
		id, err := h.mintID(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAllocatorDown, err)
		}
		u := &URL{
			ID:          id,
			ShortCode:   customCode,
			OriginalURL: originalURL,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := h.store.Insert(ctx, u); err != nil {
			if errors.Is(err, ErrCustomCodeTaken) {
				return nil, ErrCustomCodeTaken
			}
			return nil, fmt.Errorf("insert custom code: %w", err)
		}
		if err := h.cache.Set(ctx, u); err != nil {
			h.logger.Warn("cache write-through failed after shorten", "short_code", u.ShortCode, "error", err)
		}
		return u, nil
	}

	var lastErr error
	for attempt := 0; attempt < maxShortenRetries; attempt++ {
		code, err := h.minter.NextCode(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAllocatorDown, err)
		}
		id, err := base62.Decode(code)
		if err != nil {
			return nil, fmt.Errorf("decode minted code %q: %w", code, err)
		}

		u := &URL{
			ID:          int64(id),
			ShortCode:   code,
			OriginalURL: originalURL,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := h.store.Insert(ctx, u); err != nil {
			if errors.Is(err, ErrCustomCodeTaken) {
				// A code collision on a minted code indicates allocator
				// misuse (§4.C rationale); retry with a fresh code.
				lastErr = err
				h.logger.Warn("minted code collided, retrying", "short_code", code, "attempt", attempt)
				continue
			}
			return nil, fmt.Errorf("insert generated code: %w", err)
		}

		if err := h.cache.Set(ctx, u); err != nil {
			h.logger.Warn("cache write-through failed after shorten", "short_code", u.ShortCode, "error", err)
		}
		return u, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

// mintID draws a fresh id off the Minter's range for a row that won't use
// the minted code itself — the custom-code path still needs a primary key
// that came out of the same Allocator-backed sequence as every generated
// code, so id assignment never depends on which short_code ends up on the
// row (§4.A/§4.B).
func (h *Handler) mintID(ctx context.Context) (int64, error) {
	code, err := h.minter.NextCode(ctx)
	if err != nil {
		return 0, err
	}
	id, err := base62.Decode(code)
	if err != nil {
		return 0, fmt.Errorf("decode minted code %q: %w", code, err)
	}
	return int64(id), nil
}

// isValidURL rejects unparsable URLs, non-http(s) schemes, missing hosts, and
// SSRF-relevant private/loopback/link-local hosts. §12 keeps this even
// though "URL validation policy" is out of scope for the distilled core: it
// is a safety invariant on the insert path, not a policy knob.
func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	if u.Host == "" {
		return false
	}
	if isPrivateOrLocalhost(u.Hostname()) {
		return false
	}
	return true
}

var privateRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16", // includes the cloud metadata endpoint 169.254.169.254
	"127.0.0.0/8",
}

func isPrivateOrLocalhost(host string) bool {
	if host == "localhost" || strings.HasPrefix(host, "127.") {
		return true
	}

	ip := net.ParseIP(host)
	if ip == nil {
		// Not a literal IP; DNS resolution + rebinding checks are a
		// transport-layer concern this package doesn't own.
		return false
	}

	for _, cidr := range privateRanges {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

func isValidCustomCode(code string) bool {
	if len(code) < minCustomCodeLen || len(code) > maxCustomCodeLen {
		return false
	}
	return base62.IsValid(code)
}
