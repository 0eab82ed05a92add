package middleware

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/fielddispatch/gateway/internal/observability"
)

// RequestLogger logs one line per completed request and, when metrics is
// non-nil, records the request in the HTTP counter and latency histogram.
func RequestLogger(logger zerolog.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			dur := time.Since(start)

			reqID := chimw.GetReqID(r.Context())
			route := chimw.RouteContext(r.Context())
			pattern := r.URL.Path
			if route != nil && route.RoutePattern() != "" {
				pattern = route.RoutePattern()
			}

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", reqID).
				Int("status", rw.Status()).
				Dur("duration", dur).
				Msg("request completed")

			if metrics != nil {
				statusClass := strconv.Itoa(rw.Status()/100) + "xx"
				metrics.HTTPRequestsTotal.WithLabelValues(pattern, r.Method, statusClass).Inc()
				metrics.HTTPRequestDuration.WithLabelValues(pattern, r.Method).Observe(dur.Seconds())
			}
		})
	}
}

// MaxBodySize rejects request bodies larger than maxBytes before a handler
// reads them.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				http.Error(w, `{"error":"request_too_large","message":"request body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
