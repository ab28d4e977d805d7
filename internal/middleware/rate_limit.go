package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// LoginRateLimit bounds credential attempts per source IP. This sits in
// front of the lockout engine as a coarse velocity brake; the engine does
// the per-account work.
func LoginRateLimit() RateLimitConfig {
	return RateLimitConfig{Requests: 10, Window: time.Minute}
}

// OtpRateLimit bounds OTP send requests per source IP, independent of the
// per-user resend throttle.
func OtpRateLimit() RateLimitConfig {
	return RateLimitConfig{Requests: 3, Window: time.Minute}
}

// APIRateLimit is the general limit for authenticated endpoints.
func APIRateLimit() RateLimitConfig {
	return RateLimitConfig{Requests: 120, Window: time.Minute}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate_limit_exceeded","message":"Too many requests"}`))
		}),
	)
}
