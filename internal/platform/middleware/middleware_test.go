package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"splitpay/pkg/requestcontext"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.RequestID(r.Context())
	}))

	t.Run("propagates inbound header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(RequestIDHeader, "req-123")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		assert.Equal(t, "req-123", seen)
		assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	})

	t.Run("mints an id when absent", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
	})
}

func TestRateLimiter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := NewRateLimiter(1, 2, logger)
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(ip string) int {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r = r.WithContext(requestcontext.WithClientIP(r.Context(), ip))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, call("198.51.100.1"))
	assert.Equal(t, http.StatusNoContent, call("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("198.51.100.1"))

	// Separate clients have separate budgets.
	assert.Equal(t, http.StatusNoContent, call("198.51.100.2"))
}

func TestRateLimiterSweep(t *testing.T) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(60, 1, nil)
	limiter.now = func() time.Time { return clock }
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	call := func(ip string) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r = r.WithContext(requestcontext.WithClientIP(r.Context(), ip))
		h.ServeHTTP(httptest.NewRecorder(), r)
	}

	call("198.51.100.1")
	clock = clock.Add(idleEviction + time.Second)
	call("198.51.100.2")
	assert.Equal(t, 2, limiter.Len(), "requests do not evict idle clients")

	limiter.Sweep()
	assert.Equal(t, 1, limiter.Len(), "the idle client is evicted by the sweep")

	clock = clock.Add(time.Minute)
	limiter.Sweep()
	assert.Equal(t, 1, limiter.Len(), "a recently seen client survives the sweep")
}
