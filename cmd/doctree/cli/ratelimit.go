package cli

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimit rejects requests with 429 Too Many Requests once more than
// requestsPerSecond requests arrive, allowing bursts of burst requests.
func RateLimit(next http.Handler, requestsPerSecond float64, burst int) http.Handler {
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), burst)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"code":"ERR_RATE_LIMITED","message":"Too many requests"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
