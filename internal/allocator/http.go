package allocator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kd17290/url-shortener/internal/httpapi"
)

// Server exposes the Allocator over HTTP, its own wire contract per
// SPEC_FULL §4.A "Transport" — this is not the shorten/redirect HTTP framing
// that §1 excludes, it is the allocator service's sole external interface.
type Server struct {
	allocator *Allocator
	logger    *slog.Logger
}

func NewServer(a *Allocator, logger *slog.Logger) *Server {
	return &Server{allocator: a, logger: logger}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/allocate", httpapi.Chain(s.logger, s.allocate))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) allocate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Size int64 `json:"size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start, end, err := s.allocator.Allocate(r.Context(), req.Size)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSize):
			httpapi.WriteError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrUnavailable):
			httpapi.WriteError(w, err.Error(), http.StatusServiceUnavailable)
		default:
			s.logger.Error("allocate failed", "error", err)
			httpapi.WriteError(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	httpapi.WriteJSON(w, map[string]int64{"start": start, "end": end}, http.StatusOK)
}
