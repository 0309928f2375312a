package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/phrazzld/kit/internal/api/shared"
)

// RateLimit limits each client IP to requests per window using a sliding
// window counter. Rejected requests get a JSON 429 with Retry-After.
func RateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	if window <= 0 {
		window = time.Minute
	}
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			shared.RespondWithError(w, r, http.StatusTooManyRequests, "Too many requests, please try again later")
		}),
	)
}
