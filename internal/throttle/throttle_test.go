package throttle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"country-stats/internal/metrics"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAllowPerClient(t *testing.T) {
	l := NewLimiter(context.Background(), 0.001, 2, time.Minute, metrics.New())
	defer l.Stop()

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))

	// A different client has its own bucket.
	assert.True(t, l.Allow("10.0.0.2"))
	assert.Equal(t, 2, l.Len())
}

func TestMiddleware(t *testing.T) {
	l := NewLimiter(context.Background(), 0.001, 1, time.Minute, metrics.New())
	defer l.Stop()

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/search?term=fr", nil)
	req.RemoteAddr = "192.0.2.10:41000"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:41000"
	assert.Equal(t, "192.0.2.10", ClientKey(req, false))
	assert.Equal(t, "192.0.2.10", ClientKey(req, true))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "192.0.2.10", ClientKey(req, false))
	assert.Equal(t, "203.0.113.7", ClientKey(req, true))
}

func TestMiddlewareIgnoresForwardedForByDefault(t *testing.T) {
	l := NewLimiter(context.Background(), 0.001, 1, time.Minute, metrics.New())
	defer l.Stop()

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for _, fwd := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/search?term=fr", nil)
		req.RemoteAddr = "192.0.2.10:41000"
		req.Header.Set("X-Forwarded-For", fwd)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusNoContent, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 1, l.Len())
}

func TestMiddlewareTrustedProxy(t *testing.T) {
	l := NewLimiter(context.Background(), 0.001, 1, time.Minute, metrics.New())
	defer l.Stop()
	l.TrustProxy(true)

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, fwd := range []string{"198.51.100.1", "198.51.100.2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/search?term=fr", nil)
		req.RemoteAddr = "10.0.0.1:41000"
		req.Header.Set("X-Forwarded-For", fwd)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
	assert.Equal(t, 2, l.Len())
}

func TestCleanupRemovesIdleClients(t *testing.T) {
	l := NewLimiter(context.Background(), 1, 1, time.Minute, metrics.New())
	defer l.Stop()

	now := time.Now()
	l.nowFunc = func() time.Time { return now }
	l.Allow("old")

	now = now.Add(2 * time.Minute)
	l.Allow("fresh")
	l.cleanup()

	assert.Equal(t, 1, l.Len())
}

func TestStopOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewLimiter(ctx, 1, 1, time.Minute, metrics.New())
	cancel()
	l.Stop()
}
