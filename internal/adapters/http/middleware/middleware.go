package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/csrf"
	gocache "github.com/patrickmn/go-cache"
)

// RateLimiter allows a fixed number of requests per client IP in each window.
// Counters live in a go-cache and expire with the window.
type RateLimiter struct {
	cache *gocache.Cache
	rate  int
	// window is the length of one counting period.
	window time.Duration
}

// NewRateLimiter creates a rate limiter allowing rate requests per window.
// A rate of zero or less disables limiting.
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		cache:  gocache.New(window, time.Minute),
		rate:   rate,
		window: window,
	}
}

// Allow records one request from ip and reports whether it is within the limit.
// PRE: ip is non-empty
// POST: returns false once more than rate requests arrived in the current window
func (rl *RateLimiter) Allow(ip string) bool {
	if rl == nil || rl.rate <= 0 {
		return true
	}
	if err := rl.cache.Add(ip, 1, rl.window); err == nil {
		return true
	}
	n, err := rl.cache.IncrementInt(ip, 1)
	if err != nil {
		// The window expired between Add and IncrementInt.
		rl.cache.Set(ip, 1, rl.window)
		return true
	}
	if n > rl.rate {
		slog.Warn("rate_limit_exceeded", "ip", ip, "count", n)
		return false
	}
	return true
}

// ClientIP returns the host part of r.RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit returns middleware that limits state-changing requests per IP.
// Safe methods pass through untouched.
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead && !limiter.Allow(ClientIP(r)) {
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders adds OWASP recommended headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; script-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self'")
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// CSRFOptions configures the cookie-bound CSRF layer.
type CSRFOptions struct {
	Secure         bool     // send the cookie with the Secure attribute
	TrustedOrigins []string // host[:port] values allowed as Origin/Referer
}

// CSRF returns a handler that protects form submissions against cross-site requests.
// PRE: authKey is 32 bytes
// JSON requests (Content-Type: application/json) are exempted; they carry a per-action token instead.
func CSRF(authKey []byte, opts CSRFOptions) func(http.Handler) http.Handler {
	csrfProtect := csrf.Protect(
		authKey,
		csrf.Secure(opts.Secure),
		csrf.Path("/"),
		csrf.FieldName("gorilla.csrf.Token"),
		csrf.TrustedOrigins(opts.TrustedOrigins),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slog.Warn("csrf_rejected", "path", r.URL.Path, "reason", csrf.FailureReason(r))
			http.Error(w, "Forbidden - CSRF token invalid", http.StatusForbidden)
		})),
	)

	return func(next http.Handler) http.Handler {
		protected := csrfProtect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
				next.ServeHTTP(w, r)
				return
			}
			if !opts.Secure {
				r = csrf.PlaintextHTTPRequest(r)
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// Chain applies middlewares in order (outer to inner).
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for _, m := range middlewares {
		h = m(h)
	}
	return h
}
