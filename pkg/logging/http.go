package logging

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPMiddleware logs one line per request and propagates a request ID
// through the request context. An inbound X-Request-ID header is kept;
// otherwise a fresh UUID is issued.
func HTTPMiddleware(logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			r = r.WithContext(ContextWithRequestID(r.Context(), requestID))
			w.Header().Set("X-Request-ID", requestID)

			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rw, r)

			logger.Info("http request",
				String("request_id", requestID),
				String("method", r.Method),
				String("path", r.URL.Path),
				String("remote", r.RemoteAddr),
				Int("status", rw.status),
				Int("bytes", rw.bytes),
				Duration("duration", time.Since(start)),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(data []byte) (int, error) {
	n, err := w.ResponseWriter.Write(data)
	w.bytes += n
	return n, err
}

// Flush forwards to the wrapped writer so SSE responses keep streaming
// through the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
