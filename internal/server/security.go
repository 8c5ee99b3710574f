package server

import (
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the per-client limiter table; it is reset when full.
const maxTrackedClients = 10000

// SecurityConfig controls response hardening and CORS for the HTTP server.
type SecurityConfig struct {
	EnableCORS     bool
	AllowedOrigins []string
	AllowedMethods []string
	// MaxCities caps the number of cities a single request may ask for.
	MaxCities int
	// ClientRequestsPerMinute is each remote address's sustained request
	// rate, with bursts up to ClientBurst. Zero disables the check.
	ClientRequestsPerMinute int
	ClientBurst             int
}

// DefaultSecurityConfig allows GET from any origin, at most 50 cities per
// request and 60 requests per minute per client.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		EnableCORS:              true,
		AllowedOrigins:          []string{"*"},
		AllowedMethods:          []string{http.MethodGet, http.MethodOptions},
		MaxCities:               50,
		ClientRequestsPerMinute: 60,
		ClientBurst:             10,
	}
}

// SecurityMiddleware sets security headers, applies CORS for allowed origins
// and answers preflight requests itself.
func SecurityMiddleware(config SecurityConfig, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		if config.EnableCORS {
			if origin, ok := allowedOrigin(config.AllowedOrigins, r.Header.Get("Origin")); ok {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
				h.Set("Access-Control-Allow-Headers", "Content-Type")
				h.Set("Access-Control-Max-Age", "86400")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// allowedOrigin returns the value for Access-Control-Allow-Origin. A
// wildcard matches every request, with or without an Origin header.
func allowedOrigin(allowed []string, origin string) (string, bool) {
	if slices.Contains(allowed, "*") {
		return "*", true
	}
	if origin != "" && slices.Contains(allowed, origin) {
		return origin, true
	}
	return "", false
}

// clientLimiter keeps one token bucket per remote address.
type clientLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

// newClientLimiter returns nil, which allows everything, when perMinute is 0.
func newClientLimiter(perMinute, burst int) *clientLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (c *clientLimiter) allow(key string) bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	b, ok := c.buckets[key]
	if !ok {
		if len(c.buckets) >= maxTrackedClients {
			c.buckets = make(map[string]*rate.Limiter)
		}
		b = rate.NewLimiter(c.limit, c.burst)
		c.buckets[key] = b
	}
	c.mu.Unlock()
	return b.Allow()
}

// clientKey is the request's remote host without the port.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
