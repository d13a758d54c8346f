package shortener

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kd17290/url-shortener/internal/httpapi"
)

// Server exposes the Handler over the edge service's HTTP surface:
// shorten, redirect, stats, health, metrics.
type Server struct {
	handler *Handler
}

func NewServer(h *Handler) *Server {
	return &Server{handler: h}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/urls", httpapi.Chain(s.handler.logger, s.create))
	mux.HandleFunc("GET /{shortCode}", httpapi.Chain(s.handler.logger, s.redirect))
	mux.HandleFunc("GET /api/v1/urls/{shortCode}/stats", httpapi.Chain(s.handler.logger, s.stats))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// create handles POST /api/v1/urls (§4.C "Shorten").
func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LongURL    string `json:"long_url"`
		CustomCode string `json:"custom_code,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.LongURL == "" {
		httpapi.WriteError(w, "long_url is required", http.StatusBadRequest)
		return
	}

	url, err := s.handler.Shorten(r.Context(), req.LongURL, req.CustomCode)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidURL), errors.Is(err, ErrInvalidCustomCode):
			httpapi.WriteError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrCustomCodeTaken):
			httpapi.WriteError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, ErrExhausted):
			httpapi.WriteError(w, err.Error(), http.StatusServiceUnavailable)
		default:
			s.handler.logger.Error("shorten failed", "error", err)
			httpapi.WriteError(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	httpapi.WriteJSON(w, map[string]any{
		"short_code":   url.ShortCode,
		"short_url":    buildShortURL(r, url.ShortCode),
		"original_url": url.OriginalURL,
		"created_at":   url.CreatedAt.Format(time.RFC3339),
	}, http.StatusCreated)
}

// redirect handles GET /{shortCode} (§4.C "Resolve + redirect"). A 307
// preserves the request method, unlike the teacher's 302 — this spec's
// redirect must survive non-GET verbs unchanged (SPEC_FULL §4.C).
func (s *Server) redirect(w http.ResponseWriter, r *http.Request) {
	shortCode := r.PathValue("shortCode")
	if shortCode == "" {
		httpapi.WriteError(w, "short code required", http.StatusBadRequest)
		return
	}

	longURL, err := s.handler.Resolve(r.Context(), shortCode)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpapi.WriteError(w, "short code not found", http.StatusNotFound)
		default:
			s.handler.logger.Error("resolve failed", "short_code", shortCode, "error", err)
			httpapi.WriteError(w, "service unavailable", http.StatusServiceUnavailable)
		}
		return
	}

	http.Redirect(w, r, longURL, http.StatusTemporaryRedirect)
}

// stats handles GET /api/v1/urls/{shortCode}/stats.
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	shortCode := r.PathValue("shortCode")
	if shortCode == "" {
		httpapi.WriteError(w, "short code required", http.StatusBadRequest)
		return
	}

	url, err := s.handler.Stats(r.Context(), shortCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.WriteError(w, "short code not found", http.StatusNotFound)
			return
		}
		s.handler.logger.Error("stats failed", "short_code", shortCode, "error", err)
		httpapi.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	httpapi.WriteJSON(w, map[string]any{
		"short_code":   url.ShortCode,
		"original_url": url.OriginalURL,
		"clicks":       url.Clicks,
		"created_at":   url.CreatedAt.Format(time.RFC3339),
	}, http.StatusOK)
}

// buildShortURL prefers X-Forwarded-Proto (reverse-proxy deployments) over
// r.TLS, matching the teacher's handler.go.
func buildShortURL(r *http.Request, shortCode string) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	return scheme + "://" + r.Host + "/" + shortCode
}
