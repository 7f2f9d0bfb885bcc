package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// Config holds rate limiting configuration for the token endpoint.
type Config struct {
	// Burst is the number of attempts allowed before throttling kicks in.
	Burst int
	// PerSecond is the sustained attempt rate allowed per client.
	PerSecond float64
	// TTL controls how long idle client buckets are kept.
	TTL time.Duration
}

// DefaultConfig allows short bursts of attempts per client address while
// keeping sustained credential guessing slow.
func DefaultConfig() Config {
	return Config{
		Burst:     10,
		PerSecond: 1,
		TTL:       time.Hour,
	}
}

// Middleware throttles requests per client address. It is meant to wrap
// credential-accepting endpoints; rejected requests get a 429 with an
// OAuth-style error body.
func Middleware(config Config) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(config.Burst, config.PerSecond, config.TTL)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientAddr(r)
			if !limiter.Allow(key) {
				slog.Warn("Rate limited token request", "client", key)
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, map[string]string{
					"error":             "slow_down",
					"error_description": "too many requests",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
