package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/fastid/pkg/config"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(perMinute, burst int, ttl time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(perMinute, burst, ttl)
	l.now = clock.Now
	return l, clock
}

func TestLimiter_Burst(t *testing.T) {
	l, clock := newTestLimiter(60, 5, 0)

	for i := 0; i < 5; i++ {
		ok, _ := l.Allow("1.2.3.4")
		assert.True(t, ok, "request %d should be allowed", i+1)
	}

	ok, wait := l.Allow("1.2.3.4")
	assert.False(t, ok, "6th request should be denied")
	assert.Equal(t, time.Second, wait)

	// 60 per minute refills one token a second
	clock.Advance(2 * time.Second)
	ok, _ = l.Allow("1.2.3.4")
	assert.True(t, ok)
	ok, _ = l.Allow("1.2.3.4")
	assert.True(t, ok)
	ok, _ = l.Allow("1.2.3.4")
	assert.False(t, ok)
}

func TestLimiter_DeniedRequestsDoNotConsume(t *testing.T) {
	l, clock := newTestLimiter(60, 1, 0)

	ok, _ := l.Allow("k")
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		ok, _ = l.Allow("k")
		assert.False(t, ok)
	}

	clock.Advance(time.Second)
	ok, _ = l.Allow("k")
	assert.True(t, ok, "denials must not push the next token further out")
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(60, 1, 0)

	ok, _ := l.Allow("a")
	assert.True(t, ok)
	ok, _ = l.Allow("a")
	assert.False(t, ok)

	ok, _ = l.Allow("b")
	assert.True(t, ok)

	l.Reset("a")
	ok, _ = l.Allow("a")
	assert.True(t, ok)
}

func TestLimiter_EvictsIdleBuckets(t *testing.T) {
	l, clock := newTestLimiter(60, 5, time.Minute)

	l.Allow("a")
	l.Allow("b")
	assert.Equal(t, 2, l.Len())

	clock.Advance(30 * time.Second)
	l.Allow("b")
	clock.Advance(45 * time.Second)
	l.Allow("c")

	assert.Equal(t, 2, l.Len(), "a has been idle longer than the TTL")
}

func TestMiddleware_TooManyRequests(t *testing.T) {
	m := NewMiddleware(Config{Enabled: true, Burst: 2, PerMinute: 1, BucketTTL: time.Hour})
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/login", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:1111").Code)
	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:2222").Code, "port does not matter")

	rec := do("10.0.0.1:3333")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "Too Many Requests")

	assert.Equal(t, http.StatusNoContent, do("10.0.0.2:1111").Code, "other clients are unaffected")
}

func TestMiddleware_Disabled(t *testing.T) {
	m := NewMiddleware(Config{Enabled: false, Burst: 1, PerMinute: 1})
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestConfigFromSettings(t *testing.T) {
	cfg := ConfigFromSettings(config.RateLimitConfig{Enabled: true, Burst: 3, PerMinute: 30})
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 3, cfg.Burst)
	assert.Equal(t, 30, cfg.PerMinute)
	assert.Equal(t, time.Hour, cfg.BucketTTL)
}
