package httpapi

import (
	"net/http"
	"time"

	"github.com/modelmesh/gateway/inference/telemetry"
)

// responseWriter wraps http.ResponseWriter to capture the status code for
// logging, and passes Flush through so SSE handlers stay unbuffered.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withLogging logs one line per request at Info level (or Error when the
// handler answered >= 500), carrying method, path, status, and duration.
func withLogging(logger telemetry.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		if logger == nil {
			return
		}
		fields := []any{"method", r.Method, "path", r.URL.Path, "status", wrapped.status, "duration_ms", time.Since(start).Milliseconds()}
		if wrapped.status >= 500 {
			logger.Error(r.Context(), "request failed", fields...)
		} else {
			logger.Info(r.Context(), "request", fields...)
		}
	})
}
