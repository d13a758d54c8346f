// Package httpapi holds the net/http framing shared by the edge and
// allocator binaries: middleware chaining and JSON helpers. None of this is core-logic per §1's scope note; it exists because
// a process still needs a way to receive requests.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Chain applies recovery (outermost, catches every panic) then request
// logging, then the handler.
func Chain(logger *slog.Logger, next http.HandlerFunc) http.HandlerFunc {
	return Recovery(logger, LogRequest(logger, next))
}

func LogRequest(logger *slog.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	}
}

func Recovery(logger *slog.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				WriteError(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func WriteJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func WriteError(w http.ResponseWriter, message string, status int) {
	WriteJSON(w, map[string]string{"error": message}, status)
}
