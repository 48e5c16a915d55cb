package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/custody-ledger/internal/observability"
	"github.com/go-chi/chi/v5"
)

// MetricsMiddleware records request latency by route pattern and tracks
// requests in flight. Unmatched paths share one label so scanners cannot
// blow up the series count.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := observability.TrackInFlight()
		defer done()

		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rw, r)

		pattern := routePattern(r)
		if pattern == "" {
			pattern = "unmatched"
		}
		observability.ObserveHTTP(r.Method, pattern, rw.Status(), time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}
