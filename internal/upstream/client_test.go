package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "country-stats/internal/errors"
	"country-stats/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = `[{"name":{"common":"Peru","official":"Republic of Peru"},"population":32971846,"region":"Americas",
"currencies":{"PEN":{"name":"Peruvian sol","symbol":"S/ "}}}]`

func newTestClient(url string, retries int) *Client {
	return NewClient(Options{
		URL:        url,
		Timeout:    2 * time.Second,
		MaxRetries: retries,
		BackoffMin: time.Millisecond,
		BackoffMax: 5 * time.Millisecond,
		RPS:        1000,
		Burst:      10,
	}, metrics.New())
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	countries, err := newTestClient(srv.URL, 0).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, countries, 1)
	assert.Equal(t, "Peru", countries[0].Name.Common)
	assert.Equal(t, []string{"Peruvian sol"}, countries[0].CurrencyNames())
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	countries, err := newTestClient(srv.URL, 3).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, countries, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, apperrors.DatasetAlert, apperrors.UserMessage(err))
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 2).Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	typ, ok := apperrors.TypeOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperrors.ErrTypeUpstream, typ)
}

func TestFetchMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"fields query not specified"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Fetch(context.Background())
	require.Error(t, err)

	typ, _ := apperrors.TypeOf(err)
	assert.Equal(t, apperrors.ErrTypeDecode, typ)
}

func TestFetchHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 5)
	c.backoffMin = time.Minute
	c.backoffMax = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Fetch(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
