package ratelimit

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tendant/fastid/pkg/config"
	apperrors "github.com/tendant/fastid/pkg/errors"
)

// Config holds rate limiting configuration
type Config struct {
	Enabled   bool
	Burst     int // Max burst per client IP
	PerMinute int // Sustained requests per minute per client IP

	// How long to keep an idle client's bucket in memory
	BucketTTL time.Duration
}

// DefaultConfig returns the defaults used when nothing is configured
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Burst:     20,
		PerMinute: 60,
		BucketTTL: 1 * time.Hour,
	}
}

// ConfigFromSettings maps the RATELIMIT_* settings onto a Config
func ConfigFromSettings(s config.RateLimitConfig) Config {
	cfg := DefaultConfig()
	cfg.Enabled = s.Enabled
	cfg.Burst = s.Burst
	cfg.PerMinute = s.PerMinute
	return cfg
}

// Middleware limits requests per client IP
type Middleware struct {
	config  Config
	limiter *Limiter
}

// NewMiddleware creates a new rate limiting middleware
func NewMiddleware(cfg Config) *Middleware {
	m := &Middleware{config: cfg}
	if cfg.Enabled {
		m.limiter = NewLimiter(cfg.PerMinute, cfg.Burst, cfg.BucketTTL)
	}
	return m
}

// Handler returns the rate limiting middleware handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	if !m.config.Enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ok, wait := m.limiter.Allow(ip); !ok {
			m.rateLimitExceeded(w, r, ip, wait)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) rateLimitExceeded(w http.ResponseWriter, r *http.Request, ip string, wait time.Duration) {
	retryAfter := strconv.Itoa(int(math.Ceil(wait.Seconds())))
	err := apperrors.RateLimitExceeded(retryAfter)

	slog.Warn("Rate limit exceeded",
		"ip", ip,
		"path", r.URL.Path,
		"method", r.Method,
		"retry_after", retryAfter,
	)

	status := err.HTTPStatusCode()
	w.Header().Set("Retry-After", retryAfter)
	http.Error(w, http.StatusText(status), status)
}

// clientIP returns the host part of RemoteAddr. Proxy headers are applied
// beforehand by chi's RealIP middleware.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
