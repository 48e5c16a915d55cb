package middleware

import (
	"context"
	"net/http"

	"github.com/oklog/ulid/v2"
)

const (
	traceHeader   = "X-Trace-ID"
	maxTraceIDLen = 128
)

// TraceMiddleware keeps a caller supplied trace id, falling back to
// X-Request-ID, and mints a ULID otherwise. The id is echoed back.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if traceID == "" {
			traceID = r.Header.Get("X-Request-ID")
		}
		if traceID == "" || len(traceID) > maxTraceIDLen {
			traceID = ulid.Make().String()
		}
		r.Header.Set(traceHeader, traceID)
		w.Header().Set(traceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceContextKey, traceID)))
	})
}
