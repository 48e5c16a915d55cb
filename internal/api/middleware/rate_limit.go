package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/custody-ledger/internal/api/problem"
	"github.com/ayo6706/custody-ledger/internal/observability"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits unauthenticated callers, such as provider
// callbacks, per source IP.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return rateLimiter("public", rps, "IP", httprate.KeyByIP)
}

// AuthRateLimiter limits operators by id, falling back to the source IP.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return rateLimiter("operator", rps, "operator", func(r *http.Request) (string, error) {
		if id := OperatorIDFromContext(r.Context()); id != "" {
			return id, nil
		}
		return httprate.KeyByIP(r)
	})
}

func rateLimiter(name string, rps int, subject string, key httprate.KeyFunc) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			observability.IncrementRateLimited(name)
			problem.Write(w, r, http.StatusTooManyRequests, problem.Type("rate-limit-exceeded"), "",
				fmt.Sprintf("Rate limit of %d req/s exceeded for this %s", rps, subject))
		}),
	)
}
